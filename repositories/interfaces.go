package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/upb/roster-checkin/models"
)

// ErrParticipantNotFound is returned by point lookups for an unknown id
var ErrParticipantNotFound = errors.New("participant not found")

// TransactionManager scopes a unit of work across repository calls
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// ParticipantRepository handles participant data operations.
// Every method is atomic for a single record.
type ParticipantRepository interface {
	// GetByID retrieves a participant, or ErrParticipantNotFound
	GetByID(ctx context.Context, id string) (*models.Participant, error)

	// FindAll retrieves every participant in insertion order
	FindAll(ctx context.Context) ([]*models.Participant, error)

	// ListIDs retrieves every stored id in one read
	ListIDs(ctx context.Context) ([]string, error)

	// Upsert replaces or inserts the participant keyed on id.
	// Check-in fields are written only when withCheckIn is set; otherwise a new
	// row starts not checked in and an existing row keeps its check-in state.
	Upsert(ctx context.Context, p *models.Participant, withCheckIn bool) error

	// InsertMany inserts participants whose id is not yet stored and returns
	// the number actually inserted. Existing ids are skipped, not failed.
	InsertMany(ctx context.Context, participants []*models.Participant) (int64, error)

	// MarkCheckedIn checks the participant in only if it is not checked in yet.
	// It returns false when the id is unknown or already checked in.
	MarkCheckedIn(ctx context.Context, id string, at time.Time) (bool, error)

	// ClearCheckIn unconditionally returns the participant to not checked in.
	// It returns false when the id is unknown.
	ClearCheckIn(ctx context.Context, id string) (bool, error)

	// ResetAll clears every check-in and returns how many rows changed state
	ResetAll(ctx context.Context) (int64, error)
}

// ChangeFeed streams the ids of participants whose check-in state changed
type ChangeFeed interface {
	// Subscribe opens an independent feed that starts at the current point in time
	Subscribe(ctx context.Context) (FeedSubscription, error)
}

// FeedSubscription delivers changed ids in commit order
type FeedSubscription interface {
	// Changes yields changed participant ids; it is closed when the feed ends
	Changes() <-chan string

	// Err reports why the feed ended, nil after a clean Close
	Err() error

	// Close releases the feed
	Close() error
}

// Repositories aggregates the store and its change feed
type Repositories struct {
	Participants ParticipantRepository
	Changes      ChangeFeed
}
