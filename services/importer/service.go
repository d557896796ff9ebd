package importer

import (
	"context"
	"errors"
	"io"

	"github.com/upb/roster-checkin/internal/observability"
	"github.com/upb/roster-checkin/models"
	"github.com/upb/roster-checkin/repositories"
	"github.com/upb/roster-checkin/services"
	"go.uber.org/zap"
)

// Config holds the per-deployment import contract
type Config struct {
	Schema   models.RosterSchema
	Policy   models.ImportPolicy
	MaxBytes int64
}

// Result reports how an import batch was applied
type Result struct {
	Rows    int `json:"rows"`    // rows written (upsert) or inserted (insert-only)
	Skipped int `json:"skipped"` // duplicates within the batch, or ids already stored
}

// Service reconciles CSV batches into the participant store
type Service struct {
	repo    repositories.ParticipantRepository
	txMgr   repositories.TransactionManager
	parser  *Parser
	policy  models.ImportPolicy
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewService creates a new import service
func NewService(
	repo repositories.ParticipantRepository,
	txMgr repositories.TransactionManager,
	cfg Config,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Service {
	policy := cfg.Policy
	if policy == "" {
		policy = cfg.Schema.DefaultPolicy()
	}
	return &Service{
		repo:    repo,
		txMgr:   txMgr,
		parser:  NewParser(cfg.Schema, cfg.MaxBytes),
		policy:  policy,
		metrics: metrics,
		logger:  logger,
	}
}

// Policy returns the reconciliation policy in effect
func (s *Service) Policy() models.ImportPolicy {
	return s.policy
}

// Import parses r and applies it with the configured policy.
// Nothing is written unless the whole input parses.
func (s *Service) Import(ctx context.Context, r io.Reader) (*Result, error) {
	batch, err := s.parser.Parse(r)
	if err != nil {
		if services.IsFormatError(err) {
			return nil, err
		}
		return nil, services.NewFormatError("failed to read input", err)
	}

	var result *Result
	switch s.policy {
	case models.PolicyInsertOnly:
		result, err = s.insertOnly(ctx, batch)
	default:
		result, err = s.upsert(ctx, batch)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordImport(result.Rows, result.Skipped)
	s.logger.Info("import applied",
		zap.String("policy", string(s.policy)),
		zap.Int("rows", result.Rows),
		zap.Int("skipped", result.Skipped),
		zap.Bool("with_check_in", batch.WithCheckIn))
	return result, nil
}

// upsert writes every row keyed on id in one transaction; the last duplicate wins
func (s *Service) upsert(ctx context.Context, batch *Batch) (*Result, error) {
	rows := dedupe(batch.Rows, true)

	written, err := services.WithTransactionResult(ctx, s.txMgr,
		func(ctx context.Context, tx repositories.Transaction) (int, error) {
			for i, row := range rows {
				if err := s.repo.Upsert(ctx, row.Participant(), batch.WithCheckIn); err != nil {
					return i, services.NewStorageError("failed to import participants", err).
						WithDetail("line", row.Line)
				}
			}
			return len(rows), nil
		})
	if err != nil {
		return nil, s.storageFailure(err)
	}

	return &Result{Rows: written, Skipped: len(batch.Rows) - len(rows)}, nil
}

// insertOnly stages rows whose id is not stored yet; the first duplicate wins
func (s *Service) insertOnly(ctx context.Context, batch *Batch) (*Result, error) {
	rows := dedupe(batch.Rows, false)

	existing, err := s.repo.ListIDs(ctx)
	if err != nil {
		return nil, s.storageFailure(services.NewStorageError("failed to read existing participants", err))
	}
	stored := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		stored[id] = struct{}{}
	}

	staged := make([]*models.Participant, 0, len(rows))
	for _, row := range rows {
		if _, ok := stored[row.ID]; ok {
			continue
		}
		staged = append(staged, row.Participant())
	}

	inserted, err := services.WithTransactionResult(ctx, s.txMgr,
		func(ctx context.Context, tx repositories.Transaction) (int64, error) {
			n, err := s.repo.InsertMany(ctx, staged)
			if err != nil {
				return n, services.NewStorageError("failed to import participants", err)
			}
			return n, nil
		})
	if err != nil {
		return nil, s.storageFailure(err)
	}

	return &Result{Rows: int(inserted), Skipped: len(batch.Rows) - int(inserted)}, nil
}

// storageFailure logs err and reports it as a storage error. The batch
// transaction was rolled back, so nothing stayed written.
func (s *Service) storageFailure(err error) error {
	s.logger.Error("import failed", zap.Error(err), zap.String("policy", string(s.policy)))

	var derr *services.DomainError
	if !errors.As(err, &derr) || derr.Type != services.ErrorTypeStorage {
		derr = services.NewStorageError("failed to import participants", err)
	}
	return derr.WithDetail("processed", 0)
}

// dedupe drops repeated ids, keeping either the last or the first occurrence
// while preserving input order
func dedupe(rows []*models.ParticipantRow, keepLast bool) []*models.ParticipantRow {
	pick := make(map[string]int, len(rows))
	for i, row := range rows {
		if _, seen := pick[row.ID]; seen && !keepLast {
			continue
		}
		pick[row.ID] = i
	}
	if len(pick) == len(rows) {
		return rows
	}
	out := make([]*models.ParticipantRow, 0, len(pick))
	for i, row := range rows {
		if pick[row.ID] == i {
			out = append(out, row)
		}
	}
	return out
}
