package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/plantinhas/authgate/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	name   string
	logger *zap.Logger
}

// NewDB creates a new database connection pool. name labels the pool in logs.
func NewDB(name string, cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", name, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", name, err)
	}

	logger.Info("database connection established",
		zap.String("database", name),
		zap.String("connection", cfg.LogString()))

	return Wrap(name, db, logger), nil
}

// Wrap adopts an already opened pool
func Wrap(name string, db *sql.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:     db,
		name:   name,
		logger: logger,
	}
}

// Name returns the pool label
func (db *DB) Name() string {
	return db.name
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection", zap.String("database", db.name))
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s database health check failed: %w", db.name, err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("%s database query check failed: %w", db.name, err)
	}

	return nil
}

// InitAuthSchema creates the user table of the authentication database
func (db *DB) InitAuthSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS auth_users (
			id VARCHAR(255) PRIMARY KEY,
			username VARCHAR(150) NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_auth_users_username ON auth_users(username);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize auth schema: %w", err)
	}

	db.logger.Info("auth schema initialized successfully", zap.String("database", db.name))
	return nil
}
