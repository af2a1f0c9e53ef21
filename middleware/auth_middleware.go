package middleware

import (
	"context"
	"net/http"

	"github.com/plantinhas/authgate/identity"
	"github.com/plantinhas/authgate/services"
	"github.com/plantinhas/authgate/utils"
	"go.uber.org/zap"
)

// BearerAuthenticator resolves an Authorization header value to an identity
type BearerAuthenticator interface {
	// AuthenticateBearer returns nil, nil when the header carries no bearer token
	AuthenticateBearer(ctx context.Context, header string) (*identity.Identity, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	authenticator BearerAuthenticator
	logger        *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(authenticator BearerAuthenticator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		logger:        logger,
	}
}

// Authenticate resolves the bearer token, when present, and stores the identity in the context.
// Requests without a bearer token continue anonymously so other schemes can be chained.
// A bearer token that cannot be authenticated ends the request.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		id, err := m.authenticator.AuthenticateBearer(ctx, r.Header.Get("Authorization"))
		if err != nil {
			m.logger.Warn("bearer authentication failed",
				zap.String("request_id", requestID),
				zap.String("error_type", string(services.GetErrorType(err))),
				zap.Error(err))
			m.writeAuthError(w, err, requestID)
			return
		}

		if id == nil {
			next.ServeHTTP(w, r)
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("user_id", id.UserID))

		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
	})
}

// RequireIdentity rejects requests that reach it without an authenticated identity.
// This should be called after Authenticate
func (m *AuthMiddleware) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetIdentityFromContext(r.Context()) == nil {
			m.logger.Debug("identity required",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeAuthError answers a failed bearer authentication. Unknown users are reported as 401 like any other rejection.
func (m *AuthMiddleware) writeAuthError(w http.ResponseWriter, err error, requestID string) {
	var writeErr error
	switch {
	case services.IsUnauthorizedError(err), services.IsNotFoundError(err):
		writeErr = utils.WriteUnauthorized(w, "Invalid or expired token")
	case services.IsExternalError(err):
		writeErr = utils.WriteServiceUnavailable(w, "Authentication temporarily unavailable", nil)
	default:
		m.logger.Error("authentication error",
			zap.String("request_id", requestID),
			zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")
	}
	if writeErr != nil {
		m.logger.Error("failed to write auth error response", zap.Error(writeErr))
	}
}
