package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/roster-checkin/internal/observability"
	"github.com/upb/roster-checkin/models"
	"github.com/upb/roster-checkin/repositories"
	"github.com/upb/roster-checkin/services"
	"go.uber.org/zap"
)

// Service relays committed check-in changes to live subscribers.
// Each subscriber owns an independent feed subscription.
type Service struct {
	feed       repositories.ChangeFeed
	repo       repositories.ParticipantRepository
	location   *time.Location
	bufferSize int
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewService creates a new change notifier
func NewService(
	feed repositories.ChangeFeed,
	repo repositories.ParticipantRepository,
	loc *time.Location,
	bufferSize int,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Service {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Service{
		feed:       feed,
		repo:       repo,
		location:   loc,
		bufferSize: bufferSize,
		metrics:    metrics,
		logger:     logger,
	}
}

// Subscription is one live session. Events is closed when the session ends,
// after which Err reports why.
type Subscription struct {
	ID string

	events chan models.ChangeEvent
	feed   repositories.FeedSubscription
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Subscribe opens a session that starts at the current point in time.
// Canceling ctx ends the session like Close.
func (s *Service) Subscribe(ctx context.Context) (*Subscription, error) {
	feed, err := s.feed.Subscribe(ctx)
	if err != nil {
		s.logger.Error("failed to open change feed", zap.Error(err))
		return nil, services.NewStorageError("failed to subscribe to changes", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ID:     uuid.NewString(),
		events: make(chan models.ChangeEvent, s.bufferSize),
		feed:   feed,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.metrics.SubscriberOpened()
	s.logger.Info("subscriber connected", zap.String("session_id", sub.ID))

	go s.relay(runCtx, sub)
	return sub, nil
}

// relay re-reads each changed record and forwards it in feed order
func (s *Service) relay(ctx context.Context, sub *Subscription) {
	logger := s.logger.With(zap.String("session_id", sub.ID))
	defer func() {
		sub.closeOnce.Do(sub.cancel)
		_ = sub.feed.Close()
		close(sub.events)
		close(sub.done)
		s.metrics.SubscriberClosed()
		logger.Info("subscriber disconnected", zap.Error(sub.Err()))
	}()

	changes := sub.feed.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-changes:
			if !ok {
				if err := sub.feed.Err(); err != nil {
					sub.fail(services.NewStorageError("change feed ended", err))
				}
				return
			}

			p, err := s.repo.GetByID(ctx, id)
			if errors.Is(err, repositories.ErrParticipantNotFound) {
				logger.Debug("changed participant no longer exists", zap.String("participant_id", id))
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				sub.fail(services.NewStorageError("failed to load changed participant", err))
				return
			}

			select {
			case sub.events <- models.NewChangeEvent(p, s.location):
				s.metrics.RecordChangeEvent()
			case <-ctx.Done():
				return
			}
		}
	}
}

// Events yields change events in commit order
func (sub *Subscription) Events() <-chan models.ChangeEvent {
	return sub.events
}

// Err reports the error that ended the session, nil after Close
func (sub *Subscription) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

// Done is closed once the session has released its feed
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Close ends the session and waits for the feed to be released
func (sub *Subscription) Close() error {
	sub.closeOnce.Do(sub.cancel)
	<-sub.done
	return nil
}

func (sub *Subscription) fail(err error) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.err == nil {
		sub.err = err
	}
}
