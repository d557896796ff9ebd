package memory

import (
	"context"
	"sync"

	"github.com/upb/roster-checkin/repositories"
	"go.uber.org/zap"
)

// Subscribe registers a feed that receives ids changed from now on
func (s *Store) Subscribe(ctx context.Context) (repositories.FeedSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &subscription{
		store:   s,
		changes: make(chan string, s.buffer),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		limit:   s.backlog,
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.pump()
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// publishLocked queues id for every subscriber without blocking. A subscriber
// whose backlog is full has stalled and is dropped. Caller holds mu.
func (s *Store) publishLocked(id string) {
	for sub := range s.subs {
		if !sub.enqueue(id) {
			s.logger.Warn("dropping stalled change feed subscriber",
				zap.String("id", id),
				zap.Int("backlog", sub.limit))
			sub.terminateLocked(ErrSubscriberTooSlow)
		}
	}
}

// subscription hands queued ids to changes from its own goroutine, so
// publishing never waits on a reader
type subscription struct {
	store   *Store
	changes chan string
	wake    chan struct{}
	done    chan struct{}
	limit   int

	mu    sync.Mutex
	queue []string // ids not yet handed to changes

	once sync.Once
	err  error // guarded by store.mu
}

func (sub *subscription) Changes() <-chan string {
	return sub.changes
}

func (sub *subscription) Err() error {
	sub.store.mu.RLock()
	defer sub.store.mu.RUnlock()
	return sub.err
}

func (sub *subscription) Close() error {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()
	sub.terminateLocked(nil)
	return nil
}

// enqueue appends id to the backlog; false when the backlog is full
func (sub *subscription) enqueue(id string) bool {
	sub.mu.Lock()
	if len(sub.queue) >= sub.limit {
		sub.mu.Unlock()
		return false
	}
	sub.queue = append(sub.queue, id)
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
	return true
}

// pump delivers the backlog in order and closes changes once terminated
func (sub *subscription) pump() {
	defer close(sub.changes)

	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			sub.mu.Unlock()
			select {
			case <-sub.wake:
				continue
			case <-sub.done:
				return
			}
		}
		id := sub.queue[0]
		sub.mu.Unlock()

		select {
		case <-sub.done:
			return
		default:
		}

		select {
		case sub.changes <- id:
		case <-sub.done:
			return
		}

		sub.mu.Lock()
		sub.queue = sub.queue[1:]
		if len(sub.queue) == 0 {
			sub.queue = nil
		}
		sub.mu.Unlock()
	}
}

// terminateLocked unregisters the subscription; pump then closes changes.
// Caller holds store.mu.
func (sub *subscription) terminateLocked(err error) {
	sub.once.Do(func() {
		sub.err = err
		delete(sub.store.subs, sub)
		close(sub.done)
	})
}
