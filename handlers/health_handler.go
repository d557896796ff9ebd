package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/roster-checkin/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Store     string            `json:"store,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StoreCheck reports whether the participant store can serve requests
type StoreCheck func(ctx context.Context) error

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	store  string
	check  StoreCheck // nil for the in-process store
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler for the named store driver
func NewHealthHandler(store string, check StoreCheck, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		store:  store,
		check:  check,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
// Liveness only; always 200 while the process serves requests
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz
// Checks that the participant store can serve reads
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.checkStore(ctx); err != nil {
		h.logger.Warn("store health check failed", zap.String("store", h.store), zap.Error(err))
		checks["participants"] = "unhealthy"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["participants"] = "healthy"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Store:     h.store,
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) checkStore(ctx context.Context) error {
	if h.check == nil {
		return nil
	}
	return h.check(ctx)
}
