package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/upb/roster-checkin/internal/observability"
	"github.com/upb/roster-checkin/models"
	"github.com/upb/roster-checkin/repositories"
	"github.com/upb/roster-checkin/services"
	"go.uber.org/zap"
)

// Service serializes the roster into the deployment's CSV layout
type Service struct {
	repo     repositories.ParticipantRepository
	schema   models.RosterSchema
	location *time.Location
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewService creates a new export service; timestamps render in loc
func NewService(repo repositories.ParticipantRepository, schema models.RosterSchema, loc *time.Location, metrics *observability.Metrics, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		schema:   schema,
		location: loc,
		metrics:  metrics,
		logger:   logger,
	}
}

// Columns returns the export header
func (s *Service) Columns() []string {
	return s.schema.ExportColumns()
}

// WriteSnapshot reads every participant in one pass and writes the header plus
// one row each to w. It returns the number of data rows written.
// The read is point in time; concurrent check-ins may or may not appear.
func (s *Service) WriteSnapshot(ctx context.Context, w io.Writer) (int, error) {
	participants, err := s.repo.FindAll(ctx)
	if err != nil {
		s.logger.Error("export read failed", zap.Error(err))
		return 0, services.NewStorageError("failed to read participants", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(s.Columns()); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}
	for i, p := range participants {
		if err := cw.Write(s.record(p)); err != nil {
			return i, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return len(participants), fmt.Errorf("failed to flush export: %w", err)
	}

	s.metrics.RecordExport(len(participants))
	s.logger.Debug("roster exported", zap.Int("rows", len(participants)))
	return len(participants), nil
}

func (s *Service) record(p *models.Participant) []string {
	attrs := s.schema.AttributeColumns()
	rec := make([]string, 0, 4+len(attrs))
	rec = append(rec, p.ID, p.Name)
	for _, col := range attrs {
		rec = append(rec, p.Attribute(col))
	}

	checkIn, checkedInAt := "", ""
	if p.CheckedIn {
		checkIn = strconv.FormatBool(true)
	}
	if p.CheckedInAt != nil {
		checkedInAt = models.FormatTimestamp(*p.CheckedInAt, s.location)
	}
	return append(rec, checkIn, checkedInAt)
}
