package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/plantinhas/authgate/models"
	"github.com/plantinhas/authgate/repositories"
	"github.com/plantinhas/authgate/token"
	"go.uber.org/zap"
)

// DefaultUserIDClaim is the claim read first when none is configured
const DefaultUserIDClaim = "sub"

// fallbackUserIDClaims are tried in order when the primary claim is absent
var fallbackUserIDClaims = []string{"id", "user_id", "userId", "userid", "user", "uuid"}

// ErrUserNotFound is returned when a bearer token names a user the auth database does not know
var ErrUserNotFound = errors.New("user not found")

// MissingClaimError reports a verified token without any usable user id claim.
// It carries claim names only, never their values.
type MissingClaimError struct {
	Available []string
}

func (e *MissingClaimError) Error() string {
	return fmt.Sprintf("token payload missing user ID claim; available claims: [%s]", strings.Join(e.Available, ", "))
}

// Resolver maps verified claims to users of the authentication database
type Resolver struct {
	primaryClaim string
	users        repositories.UserRepository
	logger       *zap.Logger
}

// NewResolver creates a Resolver. An empty primaryClaim means "sub".
func NewResolver(primaryClaim string, users repositories.UserRepository, logger *zap.Logger) *Resolver {
	if primaryClaim == "" {
		primaryClaim = DefaultUserIDClaim
	}
	return &Resolver{
		primaryClaim: primaryClaim,
		users:        users,
		logger:       logger,
	}
}

// PrimaryClaim returns the claim consulted first
func (r *Resolver) PrimaryClaim() string {
	return r.primaryClaim
}

// ResolveUserID returns the first non-empty value among the primary claim and the fallback claims
func (r *Resolver) ResolveUserID(claims *token.Claims) (string, error) {
	if id, ok := claims.GetString(r.primaryClaim); ok && id != "" {
		return id, nil
	}

	for _, name := range fallbackUserIDClaims {
		if name == r.primaryClaim {
			continue
		}
		if id, ok := claims.GetString(name); ok && id != "" {
			r.logger.Debug("user id resolved from fallback claim",
				zap.String("claim", name),
				zap.String("primary_claim", r.primaryClaim))
			return id, nil
		}
	}

	return "", &MissingClaimError{Available: claims.Keys()}
}

// LoadOrCreateUser returns the user with id, creating it with username as display name when absent
func (r *Resolver) LoadOrCreateUser(ctx context.Context, id, username string) (*models.User, error) {
	user, created, err := r.users.GetOrCreate(ctx, id, username)
	if err != nil {
		return nil, fmt.Errorf("load or create user: %w", err)
	}
	if created {
		r.logger.Info("new user registered from login", zap.String("user_id", id))
	}
	return user, nil
}

// LoadExistingUser returns the user with id, or ErrUserNotFound
func (r *Resolver) LoadExistingUser(ctx context.Context, id string) (*models.User, error) {
	user, err := r.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}
