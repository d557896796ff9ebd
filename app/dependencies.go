package app

import (
	"context"
	"fmt"

	"github.com/upb/roster-checkin/config"
	"github.com/upb/roster-checkin/internal/clock"
	"github.com/upb/roster-checkin/internal/observability"
	"github.com/upb/roster-checkin/repositories"
	"github.com/upb/roster-checkin/repositories/memory"
	"github.com/upb/roster-checkin/repositories/postgres"
	"github.com/upb/roster-checkin/services/checkin"
	"github.com/upb/roster-checkin/services/export"
	"github.com/upb/roster-checkin/services/importer"
	"github.com/upb/roster-checkin/services/notifier"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB // nil with the in-process store
	Logger  *zap.Logger
	Metrics *observability.Metrics // nil when metrics are disabled
	Clock   clock.Clock

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Participants repositories.ParticipantRepository
	Changes      repositories.ChangeFeed
	TxManager    repositories.TransactionManager

	// Services
	Importer *importer.Service
	CheckIns *checkin.Service
	Exporter *export.Service
	Notifier *notifier.Service
}

// NewDependencies creates and wires up all application dependencies.
// A store that cannot be reached is fatal.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
		Clock:  clock.NewSystem(cfg.Roster.Location),
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		deps.initMemoryStore()
	default:
		if err := deps.initDatabase(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		deps.initRepositories()
	}

	deps.initServices(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("store", cfg.Store.Driver),
		zap.String("schema", string(cfg.Roster.Schema)),
		zap.String("import_policy", string(deps.Importer.Policy())),
		zap.String("time_zone", cfg.Roster.Location.String()))
	return deps, nil
}

// initDatabase opens the PostgreSQL pool and ensures the schema exists
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	return nil
}

// initRepositories initializes the PostgreSQL repositories and change feed
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Participants = repos.Participants
	d.Changes = repos.Changes
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initMemoryStore wires the in-process store, which serves as repository and feed
func (d *Dependencies) initMemoryStore() {
	store := memory.NewStore(d.Config.Notifier.BufferSize, d.Logger)
	repos := store.NewRepositories()

	d.Participants = repos.Participants
	d.Changes = repos.Changes
	d.TxManager = memory.NewTransactionManager(store)

	d.Logger.Warn("using in-process participant store, data is lost on restart")
}

func (d *Dependencies) initServices(cfg *config.Config) {
	d.Importer = importer.NewService(d.Participants, d.TxManager, importer.Config{
		Schema:   cfg.Roster.Schema,
		Policy:   cfg.Roster.ImportPolicy,
		MaxBytes: cfg.Roster.ImportMaxBytes,
	}, d.Metrics, d.Logger.Named("importer"))
	d.CheckIns = checkin.NewService(d.Participants, d.Clock, d.Metrics, d.Logger.Named("checkin"))
	d.Exporter = export.NewService(d.Participants, cfg.Roster.Schema, cfg.Roster.Location, d.Metrics, d.Logger.Named("export"))
	d.Notifier = notifier.NewService(d.Changes, d.Participants, cfg.Roster.Location,
		cfg.Notifier.BufferSize, d.Metrics, d.Logger.Named("notifier"))
}

// StoreCheck returns the readiness check of the store, or nil when the
// in-process store needs none
func (d *Dependencies) StoreCheck() func(context.Context) error {
	if d.DB == nil {
		return nil
	}
	return d.DB.HealthCheck
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
