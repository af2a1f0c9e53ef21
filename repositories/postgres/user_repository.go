package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/plantinhas/authgate/models"
	"github.com/plantinhas/authgate/repositories"
	"go.uber.org/zap"
)

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db        *DB
	txManager repositories.TransactionManager
	logger    *zap.Logger
}

// NewUserRepository creates a new user repository on the given database.
// Callers pass the authentication database, never the application one.
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:        db,
		txManager: NewTransactionManager(db, logger),
		logger:    logger,
	}
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, username, created_at, updated_at
		FROM auth_users
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	user := &models.User{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetOrCreate inserts the user unless it already exists and returns the stored row.
// Concurrent calls for the same id insert at most one row.
func (r *UserRepository) GetOrCreate(ctx context.Context, id, username string) (*models.User, bool, error) {
	query := `
		INSERT INTO auth_users (id, username, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`

	var (
		user    *models.User
		created bool
	)
	err := r.txManager.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		now := time.Now().UTC()
		result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, id, username, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		created = rowsAffected > 0

		user, err = r.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		r.logger.Info("user created on first login", zap.String("id", id), zap.String("username", username))
	}
	return user, created, nil
}
