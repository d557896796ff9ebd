package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/upb/roster-checkin/config"
	"github.com/upb/roster-checkin/repositories"
	"go.uber.org/zap"
)

// ErrFeedClosed is reported when the listener stops delivering notifications
var ErrFeedClosed = errors.New("change feed closed")

// ChangeFeed streams participant ids over LISTEN/NOTIFY, one listener
// connection per subscription
type ChangeFeed struct {
	dsn          string
	minReconnect time.Duration
	maxReconnect time.Duration
	pingInterval time.Duration
	logger       *zap.Logger
}

// NewChangeFeed creates a change feed for the database at dsn
func NewChangeFeed(dsn string, cfg config.NotifierConfig, logger *zap.Logger) *ChangeFeed {
	return &ChangeFeed{
		dsn:          dsn,
		minReconnect: cfg.ListenerMinReconnect,
		maxReconnect: cfg.ListenerMaxReconnect,
		pingInterval: cfg.PingInterval,
		logger:       logger,
	}
}

// Subscribe opens a listener and waits for its first connection
func (f *ChangeFeed) Subscribe(ctx context.Context) (repositories.FeedSubscription, error) {
	events := make(chan pq.ListenerEventType, 8)
	listener := pq.NewListener(f.dsn, f.minReconnect, f.maxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				f.logger.Warn("change feed listener event", zap.Int("event", int(ev)), zap.Error(err))
			}
			select {
			case events <- ev:
			default:
			}
		})

	if err := waitConnected(ctx, events); err != nil {
		_ = listener.Close()
		return nil, err
	}

	if err := listener.Listen(ChangeChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", ChangeChannel, err)
	}

	sub := &listenerSubscription{
		listener: listener,
		events:   events,
		changes:  make(chan string),
		done:     make(chan struct{}),
		ping:     f.pingInterval,
		logger:   f.logger,
	}
	sub.wg.Add(1)
	go sub.run(ctx)

	f.logger.Debug("change feed subscribed", zap.String("channel", ChangeChannel))
	return sub, nil
}

func waitConnected(ctx context.Context, events <-chan pq.ListenerEventType) error {
	for {
		select {
		case ev := <-events:
			switch ev {
			case pq.ListenerEventConnected:
				return nil
			case pq.ListenerEventConnectionAttemptFailed:
				return fmt.Errorf("failed to connect change feed listener")
			}
		case <-ctx.Done():
			return fmt.Errorf("change feed listener not connected: %w", ctx.Err())
		}
	}
}

type listenerSubscription struct {
	listener *pq.Listener
	events   <-chan pq.ListenerEventType
	changes  chan string
	done     chan struct{}
	ping     time.Duration
	logger   *zap.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
	mu        sync.Mutex
	err       error
}

func (s *listenerSubscription) Changes() <-chan string {
	return s.changes
}

func (s *listenerSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *listenerSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.listener.Close()
		s.wg.Wait()
	})
	return err
}

func (s *listenerSubscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *listenerSubscription) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.changes)

	var pingC <-chan time.Time
	if s.ping > 0 {
		ticker := time.NewTicker(s.ping)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case ev := <-s.events:
			switch ev {
			case pq.ListenerEventDisconnected:
				s.logger.Warn("change feed disconnected")
			case pq.ListenerEventReconnected:
				s.logger.Info("change feed reconnected")
			}
		case n, ok := <-s.listener.Notify:
			if !ok {
				select {
				case <-s.done:
				default:
					s.fail(ErrFeedClosed)
				}
				return
			}
			if n == nil {
				// Notifications sent while disconnected are lost
				s.logger.Warn("change feed gap after reconnect")
				continue
			}
			select {
			case s.changes <- n.Extra:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		case <-pingC:
			if err := s.listener.Ping(); err != nil {
				s.logger.Debug("change feed ping failed", zap.Error(err))
			}
		}
	}
}
