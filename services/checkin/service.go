package checkin

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/upb/roster-checkin/internal/clock"
	"github.com/upb/roster-checkin/internal/observability"
	"github.com/upb/roster-checkin/repositories"
	"github.com/upb/roster-checkin/services"
	"go.uber.org/zap"
)

// ResetAllTarget selects every participant in Reset
const ResetAllTarget = "all"

// Service owns the per-participant check-in state machine
type Service struct {
	repo    repositories.ParticipantRepository
	clock   clock.Clock
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewService creates a new check-in service
func NewService(repo repositories.ParticipantRepository, clk clock.Clock, metrics *observability.Metrics, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		clock:   clk,
		metrics: metrics,
		logger:  logger,
	}
}

// CheckIn moves the participant to checked in and returns the recorded instant.
// The write is conditional, so of two concurrent attempts exactly one succeeds.
func (s *Service) CheckIn(ctx context.Context, id string) (time.Time, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return time.Time{}, services.NewFormatError(services.ErrEmptyID.Message, nil)
	}

	// Stored timestamps keep microseconds; report the instant as it will be read back
	at := s.clock.Now().Truncate(time.Microsecond)
	ok, err := s.repo.MarkCheckedIn(ctx, id, at)
	if err != nil {
		s.metrics.RecordCheckIn(observability.ResultError)
		s.logger.Error("check-in failed", zap.String("participant_id", id), zap.Error(err))
		return time.Time{}, services.NewStorageError("failed to check in participant", err)
	}
	if ok {
		s.metrics.RecordCheckIn(observability.ResultCheckedIn)
		s.logger.Info("participant checked in", zap.String("participant_id", id), zap.Time("checked_in_at", at))
		return at, nil
	}

	// The condition failed: the id is unknown or someone else got there first
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			s.metrics.RecordCheckIn(observability.ResultNotFound)
			return time.Time{}, services.NewNotFoundError(id)
		}
		s.metrics.RecordCheckIn(observability.ResultError)
		return time.Time{}, services.NewStorageError("failed to load participant", err)
	}

	s.metrics.RecordCheckIn(observability.ResultConflict)
	s.logger.Debug("duplicate check-in rejected", zap.String("participant_id", id))
	return time.Time{}, services.NewConflictError(services.ErrAlreadyCheckedIn.Message).WithDetail("id", id)
}

// Reset returns one participant, or every participant for ResetAllTarget, to not
// checked in. A single reset always reports 1; a full reset reports only rows
// that actually changed state.
func (s *Service) Reset(ctx context.Context, target string) (int64, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return 0, services.NewFormatError(services.ErrEmptyID.Message, nil)
	}

	if target == ResetAllTarget {
		n, err := s.repo.ResetAll(ctx)
		if err != nil {
			s.logger.Error("reset all failed", zap.Error(err))
			return 0, services.NewStorageError("failed to reset participants", err)
		}
		s.metrics.RecordReset("all", n)
		s.logger.Info("all check-ins reset", zap.Int64("count", n))
		return n, nil
	}

	ok, err := s.repo.ClearCheckIn(ctx, target)
	if err != nil {
		s.logger.Error("reset failed", zap.String("participant_id", target), zap.Error(err))
		return 0, services.NewStorageError("failed to reset participant", err)
	}
	if !ok {
		return 0, services.NewNotFoundError(target)
	}

	s.metrics.RecordReset("one", 1)
	s.logger.Info("check-in reset", zap.String("participant_id", target))
	return 1, nil
}
