package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/roster-checkin/config"
	"github.com/upb/roster-checkin/models"
	"github.com/upb/roster-checkin/repositories/postgres"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestNewDependencies(t *testing.T) {
	t.Run("in-process store wires every service", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Store.Driver = config.StoreDriverMemory
		cfg.Observability.MetricsEnabled = true

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)

		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.StoreCheck())
		assert.NotNil(t, deps.Metrics)
		assert.NotNil(t, deps.Participants)
		assert.NotNil(t, deps.Changes)
		assert.NotNil(t, deps.TxManager)
		assert.NotNil(t, deps.Importer)
		assert.NotNil(t, deps.CheckIns)
		assert.NotNil(t, deps.Exporter)
		assert.NotNil(t, deps.Notifier)
		assert.Equal(t, models.PolicyUpsert, deps.Importer.Policy())

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("services share one store", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Store.Driver = config.StoreDriverMemory

		deps, err := NewDependencies(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		defer deps.Close(ctx)
		assert.Nil(t, deps.Metrics)

		sub, err := deps.Notifier.Subscribe(ctx)
		require.NoError(t, err)
		defer sub.Close()

		_, err = deps.Importer.Import(ctx, strings.NewReader("id,name\nA1,Alice\n"))
		require.NoError(t, err)
		_, err = deps.CheckIns.CheckIn(ctx, "A1")
		require.NoError(t, err)

		select {
		case ev := <-sub.Events():
			assert.Equal(t, "A1", ev.ID)
			assert.True(t, ev.CheckedIn)
		case <-time.After(2 * time.Second):
			t.Fatal("no change event")
		}
	})

	t.Run("successful initialization with PostgreSQL", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)

		// Skip if database not available
		if !isDatabaseAvailable(t, cfg) {
			t.Skip("database not available")
		}

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)

		assert.NotNil(t, deps.DB)
		require.NotNil(t, deps.StoreCheck())
		assert.NoError(t, deps.StoreCheck()(ctx))
		assert.NotNil(t, deps.RepoFactory)

		assert.NoError(t, deps.Close(ctx))
		// Second close is a no-op
		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("database connection failure", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Database.Host = "invalid-host-that-does-not-exist"

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize database")
	})
}

// Test helpers

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: config.StoreConfig{Driver: config.StoreDriverPostgres},
		Database: config.DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "roster",
			Password:        "roster",
			Database:        "roster_test",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Roster: config.RosterConfig{
			Schema:         models.SchemaBasic,
			ImportPolicy:   models.PolicyUpsert,
			TimeZone:       "UTC",
			Location:       time.UTC,
			ImportMaxBytes: 1 << 20,
		},
		Notifier: config.NotifierConfig{
			BufferSize:           8,
			PingInterval:         time.Second,
			ListenerMinReconnect: 10 * time.Millisecond,
			ListenerMaxReconnect: time.Second,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:       "debug",
			LogFormat:      "json",
			MetricsEnabled: false,
		},
	}
}

func isDatabaseAvailable(t *testing.T, cfg *config.Config) bool {
	t.Helper()
	factory, err := postgres.NewRepositoryFactory(cfg, zap.NewNop())
	if err != nil {
		return false
	}
	defer factory.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return factory.GetDB().PingContext(ctx) == nil
}
