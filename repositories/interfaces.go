package repositories

import (
	"context"
	"errors"

	"github.com/plantinhas/authgate/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository handles user data operations in the authentication database
type UserRepository interface {
	// GetByID retrieves a user by ID, returning ErrNotFound when absent
	GetByID(ctx context.Context, id string) (*models.User, error)

	// GetOrCreate returns the user with the given ID, creating it with
	// username when absent. created reports whether a row was inserted.
	GetOrCreate(ctx context.Context, id, username string) (user *models.User, created bool, err error)
}

// Repositories aggregates all repositories
type Repositories struct {
	Users UserRepository
}
