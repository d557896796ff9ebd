package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/roster-checkin/internal/clock"
	"github.com/upb/roster-checkin/internal/observability"
	"github.com/upb/roster-checkin/models"
	"github.com/upb/roster-checkin/repositories"
	"github.com/upb/roster-checkin/repositories/memory"
	"github.com/upb/roster-checkin/services"
	"go.uber.org/zap"
)

// MockParticipantRepository is a mock implementation of repositories.ParticipantRepository
type MockParticipantRepository struct {
	mock.Mock
}

func (m *MockParticipantRepository) GetByID(ctx context.Context, id string) (*models.Participant, error) {
	args := m.Called(ctx, id)
	if p, ok := args.Get(0).(*models.Participant); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockParticipantRepository) FindAll(ctx context.Context) ([]*models.Participant, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*models.Participant), args.Error(1)
}

func (m *MockParticipantRepository) ListIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockParticipantRepository) Upsert(ctx context.Context, p *models.Participant, withCheckIn bool) error {
	return m.Called(ctx, p, withCheckIn).Error(0)
}

func (m *MockParticipantRepository) InsertMany(ctx context.Context, participants []*models.Participant) (int64, error) {
	args := m.Called(ctx, participants)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockParticipantRepository) MarkCheckedIn(ctx context.Context, id string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockParticipantRepository) ClearCheckIn(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockParticipantRepository) ResetAll(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func jakarta(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	return loc
}

func seeded(t *testing.T, ids ...string) *memory.Store {
	t.Helper()
	store := memory.NewStore(4, zap.NewNop())
	for _, id := range ids {
		require.NoError(t, store.Upsert(context.Background(), models.NewParticipant(id, "name-"+id, nil), false))
	}
	return store
}

func TestService_CheckInLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 8, 30, 0, 0, jakarta(t))
	store := seeded(t, "A1")
	metrics := observability.NewMetrics()
	svc := NewService(store, clock.NewManual(now), metrics, zap.NewNop())

	at, err := svc.CheckIn(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, at.Equal(now))
	assert.Equal(t, "Asia/Jakarta", at.Location().String())

	p, err := store.GetByID(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, p.CheckedIn)
	assert.True(t, p.CheckedInAt.Equal(now))

	_, err = svc.CheckIn(ctx, "A1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrAlreadyCheckedIn))
	assert.True(t, services.IsConflictError(err))

	n, err := svc.Reset(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	p, _ = store.GetByID(ctx, "A1")
	assert.False(t, p.CheckedIn)
	assert.Nil(t, p.CheckedInAt)

	_, err = svc.CheckIn(ctx, "A1")
	assert.NoError(t, err)
}

func TestService_CheckInUnknownAndEmpty(t *testing.T) {
	svc := NewService(seeded(t), clock.NewManual(time.Now()), nil, zap.NewNop())

	_, err := svc.CheckIn(context.Background(), "Z9")
	assert.True(t, errors.Is(err, services.ErrParticipantNotFound))
	assert.Equal(t, "Z9", services.GetErrorDetails(err)["id"])

	_, err = svc.CheckIn(context.Background(), "  ")
	assert.True(t, errors.Is(err, services.ErrEmptyID))
}

func TestService_ConcurrentCheckInHasOneWinner(t *testing.T) {
	store := seeded(t, "A1")
	svc := NewService(store, clock.NewSystem(time.UTC), nil, zap.NewNop())

	const attempts = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.CheckIn(context.Background(), "A1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case services.IsConflictError(err):
				conflicts++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, conflicts)
}

func TestService_ResetAllCountsChangedRows(t *testing.T) {
	ctx := context.Background()
	store := seeded(t, "A1", "B2", "C3")
	svc := NewService(store, clock.NewManual(time.Now()), nil, zap.NewNop())

	_, err := svc.CheckIn(ctx, "A1")
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, "C3")
	require.NoError(t, err)

	n, err := svc.Reset(ctx, ResetAllTarget)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = svc.Reset(ctx, ResetAllTarget)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestService_ResetTargetIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	store := seeded(t, "ALL", "B2")
	svc := NewService(store, clock.NewManual(time.Now()), nil, zap.NewNop())

	_, err := svc.CheckIn(ctx, "ALL")
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, "B2")
	require.NoError(t, err)

	n, err := svc.Reset(ctx, "ALL")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	p, err := store.GetByID(ctx, "ALL")
	require.NoError(t, err)
	assert.False(t, p.CheckedIn)

	p, err = store.GetByID(ctx, "B2")
	require.NoError(t, err)
	assert.True(t, p.CheckedIn, "an upper-case id only resets that participant")

	_, err = NewService(seeded(t, "A1"), clock.NewManual(time.Now()), nil, zap.NewNop()).Reset(ctx, "All")
	assert.True(t, services.IsNotFoundError(err))
}

func TestService_CheckInTruncatesToMicroseconds(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 8, 30, 0, 123456789, jakarta(t))
	store := seeded(t, "A1")
	svc := NewService(store, clock.NewManual(now), nil, zap.NewNop())

	at, err := svc.CheckIn(ctx, "A1")
	require.NoError(t, err)
	want := time.Date(2024, 5, 1, 8, 30, 0, 123456000, jakarta(t))
	assert.True(t, at.Equal(want), "got %s", at)

	p, err := store.GetByID(ctx, "A1")
	require.NoError(t, err)
	require.NotNil(t, p.CheckedInAt)
	assert.True(t, p.CheckedInAt.Equal(at))
}

func TestService_ResetUnknownAndEmpty(t *testing.T) {
	svc := NewService(seeded(t, "A1"), clock.NewManual(time.Now()), nil, zap.NewNop())

	n, err := svc.Reset(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "reset of a participant that is not checked in still reports 1")

	_, err = svc.Reset(context.Background(), "Z9")
	assert.True(t, services.IsNotFoundError(err))

	_, err = svc.Reset(context.Background(), "")
	assert.True(t, services.IsFormatError(err))
}

func TestService_StorageFailures(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)
	boom := errors.New("connection refused")

	t.Run("mark fails", func(t *testing.T) {
		repo := new(MockParticipantRepository)
		repo.On("MarkCheckedIn", ctx, "A1", now).Return(false, boom)
		svc := NewService(repo, clock.NewManual(now), nil, zap.NewNop())

		_, err := svc.CheckIn(ctx, "A1")
		assert.True(t, services.IsStorageError(err))
		assert.ErrorIs(t, err, boom)
		repo.AssertExpectations(t)
	})

	t.Run("lookup after failed condition fails", func(t *testing.T) {
		repo := new(MockParticipantRepository)
		repo.On("MarkCheckedIn", ctx, "A1", now).Return(false, nil)
		repo.On("GetByID", ctx, "A1").Return(nil, boom)
		svc := NewService(repo, clock.NewManual(now), nil, zap.NewNop())

		_, err := svc.CheckIn(ctx, "A1")
		assert.True(t, services.IsStorageError(err))
		repo.AssertExpectations(t)
	})

	t.Run("reset all fails", func(t *testing.T) {
		repo := new(MockParticipantRepository)
		repo.On("ResetAll", ctx).Return(int64(0), boom)
		svc := NewService(repo, clock.NewManual(now), nil, zap.NewNop())

		_, err := svc.Reset(ctx, ResetAllTarget)
		assert.True(t, services.IsStorageError(err))
		repo.AssertExpectations(t)
	})

	t.Run("reset one fails", func(t *testing.T) {
		repo := new(MockParticipantRepository)
		repo.On("ClearCheckIn", ctx, "A1").Return(false, boom)
		svc := NewService(repo, clock.NewManual(now), nil, zap.NewNop())

		_, err := svc.Reset(ctx, "A1")
		assert.True(t, services.IsStorageError(err))
		repo.AssertExpectations(t)
	})
}

var _ repositories.ParticipantRepository = (*MockParticipantRepository)(nil)
