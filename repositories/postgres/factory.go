package postgres

import (
	"context"

	"github.com/plantinhas/authgate/config"
	"github.com/plantinhas/authgate/repositories"
	"go.uber.org/zap"
)

const (
	authDBName = "auth"
	appDBName  = "app"
)

// RepositoryFactory owns the database pools and creates repositories on the right one.
// User data always lives in the authentication database.
type RepositoryFactory struct {
	authDB *DB
	appDB  *DB // Optional: primary application database
	logger *zap.Logger
}

// NewRepositoryFactory opens the authentication database and, when configured, the application database
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	authDB, err := NewDB(authDBName, cfg.AuthDatabase, logger)
	if err != nil {
		return nil, err
	}

	f := &RepositoryFactory{authDB: authDB, logger: logger}

	if cfg.AppDatabase != nil {
		appDB, err := NewDB(appDBName, *cfg.AppDatabase, logger)
		if err != nil {
			_ = authDB.Close()
			return nil, err
		}
		f.appDB = appDB
	}

	return f, nil
}

// NewRepositoryFactoryFromDBs builds a factory over existing pools. appDB may be nil.
func NewRepositoryFactoryFromDBs(authDB, appDB *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{authDB: authDB, appDB: appDB, logger: logger}
}

// InitAuthSchema initializes the authentication database schema
func (f *RepositoryFactory) InitAuthSchema(ctx context.Context) error {
	return f.authDB.InitAuthSchema(ctx)
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Users: NewUserRepository(f.authDB, f.logger),
	}
}

// AuthDB returns the authentication database
func (f *RepositoryFactory) AuthDB() *DB {
	return f.authDB
}

// AppDB returns the application database, or nil when not configured
func (f *RepositoryFactory) AppDB() *DB {
	return f.appDB
}

// Databases returns every open pool, authentication database first
func (f *RepositoryFactory) Databases() []*DB {
	dbs := []*DB{f.authDB}
	if f.appDB != nil {
		dbs = append(dbs, f.appDB)
	}
	return dbs
}

// Close closes the database connection(s)
func (f *RepositoryFactory) Close() error {
	if f.appDB != nil {
		_ = f.appDB.Close()
	}
	return f.authDB.Close()
}
