package importer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/roster-checkin/internal/observability"
	"github.com/upb/roster-checkin/models"
	"github.com/upb/roster-checkin/repositories"
	"github.com/upb/roster-checkin/repositories/memory"
	"github.com/upb/roster-checkin/services"
	"go.uber.org/zap"
)

const extendedHeader = "nim,name,address,phone_number,email,major,study_program,generation,status\n"

// failingRepo fails upserts of one id after delegating the rest to the store
type failingRepo struct {
	*memory.Store
	failID string
}

func (r *failingRepo) Upsert(ctx context.Context, p *models.Participant, withCheckIn bool) error {
	if p.ID == r.failID {
		return errors.New("disk full")
	}
	return r.Store.Upsert(ctx, p, withCheckIn)
}

func (r *failingRepo) InsertMany(ctx context.Context, participants []*models.Participant) (int64, error) {
	n, err := r.Store.InsertMany(ctx, participants)
	if err != nil {
		return n, err
	}
	return n, errors.New("connection reset")
}

func newImporter(t *testing.T, repo repositories.ParticipantRepository, store *memory.Store, schema models.RosterSchema, policy models.ImportPolicy) *Service {
	t.Helper()
	return NewService(repo, memory.NewTransactionManager(store), Config{
		Schema:   schema,
		Policy:   policy,
		MaxBytes: 1 << 20,
	}, observability.NewMetrics(), zap.NewNop())
}

func TestService_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(4, zap.NewNop())
	svc := newImporter(t, store, store, models.SchemaBasic, models.PolicyUpsert)

	input := "id,name\nA1,Alice\nB2,Bob\n"
	res, err := svc.Import(ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, &Result{Rows: 2}, res)

	res, err = svc.Import(ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 2, store.Len())
}

func TestService_UpsertLastDuplicateWins(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(4, zap.NewNop())
	svc := newImporter(t, store, store, models.SchemaBasic, models.PolicyUpsert)

	res, err := svc.Import(ctx, strings.NewReader("id,name\nA1,Alice\nB2,Bob\nA1,Alicia\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 1, res.Skipped)

	all, err := store.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "B2", all[0].ID)
	assert.Equal(t, "A1", all[1].ID)
	assert.Equal(t, "Alicia", all[1].Name)
}

func TestService_UpsertKeepsCheckInWithoutColumns(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(4, zap.NewNop())
	svc := newImporter(t, store, store, models.SchemaBasic, models.PolicyUpsert)

	_, err := svc.Import(ctx, strings.NewReader("id,name\nA1,Alice\n"))
	require.NoError(t, err)
	ok, err := store.MarkCheckedIn(ctx, "A1", time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Import(ctx, strings.NewReader("id,name\nA1,Alice Smith\n"))
	require.NoError(t, err)

	p, err := store.GetByID(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", p.Name)
	assert.True(t, p.CheckedIn)
}

func TestService_UpsertRestoresCheckInFromColumns(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(4, zap.NewNop())
	svc := newImporter(t, store, store, models.SchemaBasic, models.PolicyUpsert)

	_, err := svc.Import(ctx, strings.NewReader(
		"id,name,check_in,checked_in_at\nA1,Alice,true,2024-05-01T08:00:00+07:00\nB2,Bob,,\n"))
	require.NoError(t, err)

	a, _ := store.GetByID(ctx, "A1")
	assert.True(t, a.CheckedIn)
	require.NotNil(t, a.CheckedInAt)
	assert.True(t, a.CheckedInAt.Equal(time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)))

	b, _ := store.GetByID(ctx, "B2")
	assert.False(t, b.CheckedIn)
}

func TestService_InsertOnlySkipsExisting(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(4, zap.NewNop())
	svc := newImporter(t, store, store, models.SchemaExtended, models.PolicyInsertOnly)

	_, err := svc.Import(ctx, strings.NewReader(extendedHeader+"S1,Ann,,,,,,,\n"))
	require.NoError(t, err)

	checkedAt := time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)
	ok, err := store.MarkCheckedIn(ctx, "S1", checkedAt)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := svc.Import(ctx, strings.NewReader(extendedHeader+
		"S1,Changed,,,,,,,\nS2,Ben,,,,,,,\nS3,Cal,,,,,,,\nS2,Dup,,,,,,,\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 2, res.Skipped)

	s1, _ := store.GetByID(ctx, "S1")
	assert.Equal(t, "Ann", s1.Name)
	assert.True(t, s1.CheckedIn)
	require.NotNil(t, s1.CheckedInAt)
	assert.True(t, checkedAt.Equal(*s1.CheckedInAt))
	s2, _ := store.GetByID(ctx, "S2")
	assert.Equal(t, "Ben", s2.Name)
	assert.Equal(t, 3, store.Len())
}

func TestService_FormatErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(4, zap.NewNop())
	svc := newImporter(t, store, store, models.SchemaBasic, models.PolicyUpsert)

	_, err := svc.Import(ctx, strings.NewReader("id,name\nA1,Alice\n,Nobody\n"))
	require.Error(t, err)
	assert.True(t, services.IsFormatError(err))
	assert.Equal(t, 0, store.Len())
}

func TestService_StorageFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(4, zap.NewNop())
	require.NoError(t, store.Upsert(ctx, models.NewParticipant("A1", "Alice", nil), false))

	repo := &failingRepo{Store: store, failID: "C3"}
	svc := newImporter(t, repo, store, models.SchemaBasic, models.PolicyUpsert)

	_, err := svc.Import(ctx, strings.NewReader("id,name\nA1,Alicia\nB2,Bob\nC3,Cal\n"))
	require.Error(t, err)
	assert.True(t, services.IsStorageError(err))
	details := services.GetErrorDetails(err)
	assert.Equal(t, 0, details["processed"])
	assert.Equal(t, 4, details["line"])

	assert.Equal(t, 1, store.Len())
	a, _ := store.GetByID(ctx, "A1")
	assert.Equal(t, "Alice", a.Name)
}

func TestService_InsertOnlyStorageFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(4, zap.NewNop())
	svc := newImporter(t, &failingRepo{Store: store}, store, models.SchemaExtended, models.PolicyInsertOnly)

	_, err := svc.Import(ctx, strings.NewReader(extendedHeader+"S1,Ann,,,,,,,\n"))
	require.Error(t, err)
	assert.True(t, services.IsStorageError(err))
	assert.Equal(t, 0, store.Len())
}

func TestNewService_DefaultsPolicyFromSchema(t *testing.T) {
	store := memory.NewStore(4, zap.NewNop())
	assert.Equal(t, models.PolicyInsertOnly, newImporter(t, store, store, models.SchemaExtended, "").Policy())
	assert.Equal(t, models.PolicyUpsert, newImporter(t, store, store, models.SchemaBasic, "").Policy())
}
