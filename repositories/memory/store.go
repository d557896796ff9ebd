// Package memory provides an in-process participant store with a change feed.
//
// Writes made inside a Transaction are visible to other readers immediately,
// but their change notifications are held back until commit. A rollback
// restores only the fields the transaction wrote, and only where no other
// writer has changed them since, so concurrent check-ins survive it.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/upb/roster-checkin/models"
	"github.com/upb/roster-checkin/repositories"
	"go.uber.org/zap"
)

// ErrSubscriberTooSlow ends a subscription whose backlog overflowed
var ErrSubscriberTooSlow = errors.New("subscriber too slow, change feed dropped")

// DefaultBacklogLimit bounds the ids queued for a subscriber that stopped reading
const DefaultBacklogLimit = 1 << 16

// Option configures a Store
type Option func(*Store)

// WithBacklogLimit sets how many undelivered ids a subscriber may accumulate
// before it is considered stalled
func WithBacklogLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.backlog = n
		}
	}
}

// Store is a mutex-guarded participant map
type Store struct {
	mu      sync.RWMutex
	records map[string]*models.Participant
	order   []string
	subs    map[*subscription]struct{}
	buffer  int
	backlog int
	logger  *zap.Logger
}

// NewStore creates an empty store; buffer sizes each subscriber's channel
func NewStore(buffer int, logger *zap.Logger, opts ...Option) *Store {
	if buffer <= 0 {
		buffer = 1
	}
	s := &Store{
		records: make(map[string]*models.Participant),
		subs:    make(map[*subscription]struct{}),
		buffer:  buffer,
		backlog: DefaultBacklogLimit,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRepositories exposes the store through the repository interfaces
func (s *Store) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Participants: s,
		Changes:      s,
	}
}

// GetByID returns a copy of the stored participant
func (s *Store) GetByID(ctx context.Context, id string) (*models.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repositories.ErrParticipantNotFound, id)
	}
	return p.Clone(), nil
}

// FindAll returns copies of every participant in insertion order
func (s *Store) FindAll(ctx context.Context) ([]*models.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out, nil
}

// ListIDs returns every stored id
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.order...), nil
}

// Upsert replaces or inserts a participant keyed on id
func (s *Store) Upsert(ctx context.Context, p *models.Participant, withCheckIn bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if withCheckIn && !p.CheckInConsistent() {
		return fmt.Errorf("failed to upsert participant %s: check-in timestamp must be set exactly when checked in", p.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := p.Clone()
	prev, exists := s.records[p.ID]
	if !withCheckIn {
		next.ClearCheckIn()
		if exists {
			next.CheckedIn = prev.CheckedIn
			next.CheckedInAt = prev.Clone().CheckedInAt
		}
	}

	scope := wroteDetails
	if withCheckIn {
		scope |= wroteCheckIn
	}
	s.journal(ctx, p.ID, next, scope)
	s.records[p.ID] = next
	if !exists {
		s.order = append(s.order, p.ID)
		return nil
	}
	if checkInChanged(prev, next) {
		s.changed(ctx, p.ID)
	}
	return nil
}

// InsertMany inserts participants whose id is absent and returns how many were inserted
func (s *Store) InsertMany(ctx context.Context, participants []*models.Participant) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted int64
	for _, p := range participants {
		if _, exists := s.records[p.ID]; exists {
			continue
		}
		if !p.CheckInConsistent() {
			return inserted, fmt.Errorf("failed to insert participant %s: check-in timestamp must be set exactly when checked in", p.ID)
		}
		next := p.Clone()
		s.journal(ctx, p.ID, next, wroteDetails|wroteCheckIn)
		s.records[p.ID] = next
		s.order = append(s.order, p.ID)
		inserted++
	}
	return inserted, nil
}

// MarkCheckedIn checks the participant in only if it is not checked in yet
func (s *Store) MarkCheckedIn(ctx context.Context, id string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[id]
	if !ok || p.CheckedIn {
		return false, nil
	}
	next := p.Clone()
	next.MarkCheckedIn(at)
	s.journal(ctx, id, next, wroteCheckIn)
	s.records[id] = next
	s.changed(ctx, id)
	return true, nil
}

// ClearCheckIn returns the participant to not checked in; false when unknown
func (s *Store) ClearCheckIn(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[id]
	if !ok {
		return false, nil
	}
	if p.CheckedIn {
		next := p.Clone()
		next.ClearCheckIn()
		s.journal(ctx, id, next, wroteCheckIn)
		s.records[id] = next
		s.changed(ctx, id)
	}
	return true, nil
}

// ResetAll clears every check-in and returns how many changed state
func (s *Store) ResetAll(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range s.order {
		p := s.records[id]
		if !p.CheckedIn {
			continue
		}
		next := p.Clone()
		next.ClearCheckIn()
		s.journal(ctx, id, next, wroteCheckIn)
		s.records[id] = next
		s.changed(ctx, id)
		n++
	}
	return n, nil
}

// Len returns the number of stored participants
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func checkInChanged(prev, next *models.Participant) bool {
	if prev.CheckedIn != next.CheckedIn {
		return true
	}
	if (prev.CheckedInAt == nil) != (next.CheckedInAt == nil) {
		return true
	}
	return prev.CheckedInAt != nil && !prev.CheckedInAt.Equal(*next.CheckedInAt)
}

// journal records, for the transaction in ctx, the pre-image of id and the
// fields about to be overwritten with next. Caller holds mu.
func (s *Store) journal(ctx context.Context, id string, next *models.Participant, scope writeScope) {
	tx := transactionFrom(ctx, s)
	if tx == nil {
		return
	}
	entry, seen := tx.undo[id]
	if !seen {
		entry = &undoEntry{}
		if p, ok := s.records[id]; ok {
			entry.prev = p.Clone()
		}
		tx.undo[id] = entry
	}
	entry.scope |= scope
	entry.wrote = next.Clone()
}

// changed publishes id now, or at commit inside a transaction. Caller holds mu.
func (s *Store) changed(ctx context.Context, id string) {
	if tx := transactionFrom(ctx, s); tx != nil {
		tx.pending = append(tx.pending, id)
		return
	}
	s.publishLocked(id)
}

// restoreLocked applies a rollback journal. A field is put back only while it
// still holds what the transaction wrote; later writes by others stand.
// Caller holds mu.
func (s *Store) restoreLocked(undo map[string]*undoEntry) {
	removed := make(map[string]bool)
	for id, entry := range undo {
		cur, ok := s.records[id]
		if !ok {
			continue
		}
		if entry.prev == nil {
			delete(s.records, id)
			removed[id] = true
			continue
		}

		next := cur.Clone()
		if entry.scope&wroteDetails != 0 && sameDetails(cur, entry.wrote) {
			restored := entry.prev.Clone()
			next.Name = restored.Name
			next.Attributes = restored.Attributes
		}
		if entry.scope&wroteCheckIn != 0 && !checkInChanged(cur, entry.wrote) {
			restored := entry.prev.Clone()
			next.CheckedIn = restored.CheckedIn
			next.CheckedInAt = restored.CheckedInAt
		}
		s.records[id] = next
	}
	if len(removed) == 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if !removed[id] {
			kept = append(kept, id)
		}
	}
	s.order = kept
}

func sameDetails(a, b *models.Participant) bool {
	return a.Name == b.Name && maps.Equal(a.Attributes, b.Attributes)
}

// writeScope marks which fields of a record a transaction overwrote
type writeScope uint8

const (
	wroteDetails writeScope = 1 << iota // name and attributes
	wroteCheckIn                        // checked_in and checked_in_at
)

// undoEntry is the rollback record of one participant
type undoEntry struct {
	prev  *models.Participant // nil when the transaction inserted it
	wrote *models.Participant // last state the transaction wrote
	scope writeScope
}
