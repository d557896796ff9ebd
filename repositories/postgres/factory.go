package postgres

import (
	"context"

	"github.com/upb/roster-checkin/config"
	"github.com/upb/roster-checkin/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages the PostgreSQL-backed store
type RepositoryFactory struct {
	db       *DB
	dbConfig config.DatabaseConfig
	notifier config.NotifierConfig
	logger   *zap.Logger
}

// NewRepositoryFactory opens the pool described by cfg
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	return &RepositoryFactory{
		db:       db,
		dbConfig: cfg.Database,
		notifier: cfg.Notifier,
		logger:   logger,
	}, nil
}

// InitSchema creates the participants table and its change trigger
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	return f.db.InitSchema(ctx)
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Participants: NewParticipantRepository(f.db, f.logger),
		Changes:      NewChangeFeed(f.dbConfig.DSN(), f.notifier, f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
