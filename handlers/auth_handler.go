package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/plantinhas/authgate/identity"
	"github.com/plantinhas/authgate/middleware"
	"github.com/plantinhas/authgate/models"
	"github.com/plantinhas/authgate/services"
	"github.com/plantinhas/authgate/utils"
	"go.uber.org/zap"
)

// Authenticator is the part of the authentication service the HTTP handlers use
type Authenticator interface {
	AuthenticateCredentials(ctx context.Context, username, password string) (*identity.Identity, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=150"`
	Password string `json:"password" validate:"required"`
}

// UserResponse describes a stored user
type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoginResponse is returned after a successful credential login
type LoginResponse struct {
	Access string       `json:"access"`
	User   UserResponse `json:"user"`
}

// AuthHandler handles credential login and current-user lookups
type AuthHandler struct {
	authenticator Authenticator
	logger        *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authenticator Authenticator, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authenticator: authenticator,
		logger:        logger,
	}
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	var req LoginRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	id, err := h.authenticator.AuthenticateCredentials(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Warn("credential login failed",
			zap.String("request_id", requestID),
			zap.String("error_type", string(services.GetErrorType(err))),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}
	if id == nil {
		h.logger.Info("credentials rejected", zap.String("request_id", requestID))
		_ = utils.WriteUnauthorized(w, "Invalid username or password")
		return
	}

	h.logger.Info("user logged in",
		zap.String("request_id", requestID),
		zap.String("user_id", id.UserID))

	if err := utils.WriteOK(w, LoginResponse{
		Access: id.Token.Value(),
		User:   newUserResponse(id.User),
	}); err != nil {
		h.logger.Error("failed to write login response", zap.Error(err))
	}
}

// HandleMe handles GET /api/v1/me
// The user record is re-read from the auth database
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentityFromContext(r.Context())
	if id == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	user, err := h.authenticator.GetUser(r.Context(), id.UserID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if user == nil {
		_ = utils.WriteNotFound(w, "User no longer exists")
		return
	}

	_ = utils.WriteOK(w, newUserResponse(user))
}

func newUserResponse(user *models.User) UserResponse {
	if user == nil {
		return UserResponse{}
	}
	return UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
