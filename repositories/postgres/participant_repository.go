package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/upb/roster-checkin/models"
	"github.com/upb/roster-checkin/repositories"
	"go.uber.org/zap"
)

// ParticipantRepository implements the repositories.ParticipantRepository interface
type ParticipantRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewParticipantRepository creates a new participant repository
func NewParticipantRepository(db *DB, logger *zap.Logger) repositories.ParticipantRepository {
	return &ParticipantRepository{
		db:     db,
		logger: logger,
	}
}

const participantColumns = `id, name, attributes, checked_in, checked_in_at`

// GetByID retrieves a participant by ID
func (r *ParticipantRepository) GetByID(ctx context.Context, id string) (*models.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM participants
		WHERE id = $1
	`

	executor := querierFor(ctx, r.db)
	p, err := scanParticipant(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", repositories.ErrParticipantNotFound, id)
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}

	return p, nil
}

// FindAll retrieves every participant in insertion order
func (r *ParticipantRepository) FindAll(ctx context.Context) ([]*models.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM participants
		ORDER BY seq
	`

	executor := querierFor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}

	return participants, nil
}

// ListIDs retrieves every stored id
func (r *ParticipantRepository) ListIDs(ctx context.Context) ([]string, error) {
	executor := querierFor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, `SELECT id FROM participants`)
	if err != nil {
		return nil, fmt.Errorf("failed to list participant ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan participant id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participant ids: %w", err)
	}

	return ids, nil
}

// Upsert replaces or inserts a participant keyed on id
func (r *ParticipantRepository) Upsert(ctx context.Context, p *models.Participant, withCheckIn bool) error {
	attrs, err := encodeAttributes(p.Attributes)
	if err != nil {
		return err
	}

	var (
		query string
		args  []interface{}
	)
	if withCheckIn {
		query = `
			INSERT INTO participants (id, name, attributes, checked_in, checked_in_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				attributes = EXCLUDED.attributes,
				checked_in = EXCLUDED.checked_in,
				checked_in_at = EXCLUDED.checked_in_at,
				updated_at = CURRENT_TIMESTAMP
		`
		args = []interface{}{p.ID, p.Name, attrs, p.CheckedIn, nullTime(p.CheckedInAt)}
	} else {
		query = `
			INSERT INTO participants (id, name, attributes)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				attributes = EXCLUDED.attributes,
				updated_at = CURRENT_TIMESTAMP
		`
		args = []interface{}{p.ID, p.Name, attrs}
	}

	executor := querierFor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}

	r.logger.Debug("participant upserted", zap.String("id", p.ID))
	return nil
}

// InsertMany inserts every participant whose id is not stored yet in a single statement
func (r *ParticipantRepository) InsertMany(ctx context.Context, participants []*models.Participant) (int64, error) {
	if len(participants) == 0 {
		return 0, nil
	}

	ids := make([]string, len(participants))
	names := make([]string, len(participants))
	attrs := make([]string, len(participants))
	checked := make([]bool, len(participants))
	times := make([]sql.NullString, len(participants))
	for i, p := range participants {
		encoded, err := encodeAttributes(p.Attributes)
		if err != nil {
			return 0, err
		}
		ids[i] = p.ID
		names[i] = p.Name
		attrs[i] = encoded
		checked[i] = p.CheckedIn
		if p.CheckedInAt != nil {
			times[i] = sql.NullString{String: p.CheckedInAt.Format(time.RFC3339Nano), Valid: true}
		}
	}

	query := `
		INSERT INTO participants (id, name, attributes, checked_in, checked_in_at)
		SELECT u.id, u.name, u.attributes::jsonb, u.checked_in, u.checked_in_at
		FROM unnest($1::text[], $2::text[], $3::text[], $4::boolean[], $5::timestamptz[])
			WITH ORDINALITY AS u(id, name, attributes, checked_in, checked_in_at, ord)
		ORDER BY u.ord
		ON CONFLICT (id) DO NOTHING
	`

	executor := querierFor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		pq.Array(ids),
		pq.Array(names),
		pq.Array(attrs),
		pq.Array(checked),
		pq.Array(times),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert participants: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Debug("participants inserted",
		zap.Int("candidates", len(participants)),
		zap.Int64("inserted", inserted))
	return inserted, nil
}

// MarkCheckedIn sets the check-in only while the participant is not checked in
func (r *ParticipantRepository) MarkCheckedIn(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE participants
		SET checked_in = true, checked_in_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND NOT checked_in
	`

	return r.execModified(ctx, "failed to check in participant", query, id, at)
}

// ClearCheckIn resets one participant regardless of its current state
func (r *ParticipantRepository) ClearCheckIn(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE participants
		SET checked_in = false, checked_in_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	return r.execModified(ctx, "failed to reset participant", query, id)
}

// ResetAll clears every check-in; rows already not checked in are untouched
func (r *ParticipantRepository) ResetAll(ctx context.Context) (int64, error) {
	query := `
		UPDATE participants
		SET checked_in = false, checked_in_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE checked_in
	`

	executor := querierFor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset participants: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Debug("participants reset", zap.Int64("count", n))
	return n, nil
}

func (r *ParticipantRepository) execModified(ctx context.Context, msg, query string, args ...interface{}) (bool, error) {
	executor := querierFor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", msg, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanParticipant(row rowScanner) (*models.Participant, error) {
	var (
		p           models.Participant
		attrs       []byte
		checkedInAt sql.NullTime
	)

	if err := row.Scan(&p.ID, &p.Name, &attrs, &p.CheckedIn, &checkedInAt); err != nil {
		return nil, err
	}

	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes for %s: %w", p.ID, err)
		}
		if len(p.Attributes) == 0 {
			p.Attributes = nil
		}
	}
	if checkedInAt.Valid {
		at := checkedInAt.Time
		p.CheckedInAt = &at
	}

	return &p, nil
}

// encodeAttributes returns JSON text; lib/pq would send []byte as bytea
func encodeAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
