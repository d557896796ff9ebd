package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/upb/roster-checkin/services"
	"github.com/upb/roster-checkin/services/notifier"
	"go.uber.org/zap"
)

const (
	writeWait        = 10 * time.Second
	maxClientFrame   = 512
	defaultPingEvery = 30 * time.Second
)

// ChangeNotifier opens live change subscriptions
type ChangeNotifier interface {
	Subscribe(ctx context.Context) (*notifier.Subscription, error)
}

// ErrorFrame is the last frame of a session that ended on an error
type ErrorFrame struct {
	Error string `json:"error"`
}

// UpdatesHandler streams check-in changes over WebSocket
type UpdatesHandler struct {
	notifier     ChangeNotifier
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	logger       *zap.Logger
}

// NewUpdatesHandler creates a new UpdatesHandler. Browser origins must match one
// of allowedOrigins; patterns may contain a single "*".
func NewUpdatesHandler(n ChangeNotifier, allowedOrigins []string, pingInterval time.Duration, logger *zap.Logger) *UpdatesHandler {
	if pingInterval <= 0 {
		pingInterval = defaultPingEvery
	}
	return &UpdatesHandler{
		notifier: n,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), r.Host, allowedOrigins)
			},
		},
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// HandleUpdates handles GET /update
// One session per connection; it ends when the client goes away or the feed fails
func (h *UpdatesHandler) HandleUpdates(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := h.notifier.Subscribe(ctx)
	if err != nil {
		h.writeError(conn, err)
		return
	}
	defer sub.Close()

	logger := h.logger.With(zap.String("session_id", sub.ID))
	go h.readLoop(conn, cancel)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					logger.Warn("change feed ended", zap.Error(err))
					h.writeError(conn, err)
					return
				}
				h.writeClose(conn, websocket.CloseGoingAway, "")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("write failed, closing session", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug("ping failed, closing session", zap.Error(err))
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// readLoop consumes client frames so close and pong frames are processed;
// it cancels the session when the client disconnects or stops answering pings
func (h *UpdatesHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	pongWait := 2 * h.pingInterval
	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *UpdatesHandler) writeError(conn *websocket.Conn, err error) {
	message := services.GetErrorMessage(err)
	if message == "" {
		message = "change feed unavailable"
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if werr := conn.WriteJSON(ErrorFrame{Error: message}); werr != nil {
		h.logger.Debug("failed to send error frame", zap.Error(werr))
	}
	h.writeClose(conn, websocket.CloseInternalServerErr, message)
}

func (h *UpdatesHandler) writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(writeWait))
}

// originAllowed accepts non-browser clients, same-host pages and configured patterns
func originAllowed(origin, host string, patterns []string) bool {
	if origin == "" {
		return true
	}
	if strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://") == host {
		return true
	}
	for _, p := range patterns {
		if p == "*" || p == origin {
			return true
		}
		if prefix, suffix, ok := strings.Cut(p, "*"); ok &&
			len(origin) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}
