package services

import (
	"context"
	"errors"
	"strings"

	"github.com/plantinhas/authgate/identity"
	"github.com/plantinhas/authgate/jwks"
	"github.com/plantinhas/authgate/models"
	"github.com/plantinhas/authgate/token"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/plantinhas/authgate/services"

// BearerScheme is the only Authorization scheme recognized
const BearerScheme = "Bearer"

// TokenVerifier validates a raw token and returns its decoded content
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*token.DecodedToken, error)
}

// Authenticator turns credentials or bearer tokens into identities
type Authenticator struct {
	verifier TokenVerifier
	login    CredentialExchanger
	resolver *identity.Resolver
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewAuthenticator creates a new authenticator. login may be nil when credential login is disabled.
func NewAuthenticator(verifier TokenVerifier, login CredentialExchanger, resolver *identity.Resolver, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		verifier: verifier,
		login:    login,
		resolver: resolver,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// AuthenticateCredentials exchanges username and password with the remote authentication
// service and returns the matching identity, creating the user on first sight.
// Rejected credentials yield a nil identity and a nil error.
func (a *Authenticator) AuthenticateCredentials(ctx context.Context, username, password string) (*identity.Identity, error) {
	ctx, span := a.tracer.Start(ctx, "auth.AuthenticateCredentials")
	defer span.End()

	if a.login == nil {
		return nil, a.fail(span, ErrLoginNotConfigured)
	}

	raw, ok, err := a.login.Exchange(ctx, username, password)
	if err != nil {
		return nil, a.fail(span, err)
	}
	if !ok {
		span.SetAttributes(attribute.Bool("auth.accepted", false))
		return nil, nil
	}

	decoded, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, a.fail(span, a.mapError(err))
	}

	userID, err := a.resolver.ResolveUserID(decoded.Claims)
	if err != nil {
		return nil, a.fail(span, a.mapError(err))
	}

	user, err := a.resolver.LoadOrCreateUser(ctx, userID, username)
	if err != nil {
		return nil, a.fail(span, a.mapError(err))
	}

	span.SetAttributes(attribute.Bool("auth.accepted", true), attribute.String("auth.user_id", user.ID))
	return identity.New(user, raw), nil
}

// AuthenticateBearer authenticates the value of an Authorization header.
// Only "Bearer <token>" is recognized; any other scheme or an empty token yields
// a nil identity without consulting the verifier. Once a bearer token is present
// every failure is returned as an error.
func (a *Authenticator) AuthenticateBearer(ctx context.Context, header string) (*identity.Identity, error) {
	raw, ok := ExtractBearerToken(header)
	if !ok {
		return nil, nil
	}

	ctx, span := a.tracer.Start(ctx, "auth.AuthenticateBearer")
	defer span.End()

	if a.verifier == nil {
		return nil, a.fail(span, ErrNotConfigured.Wrap(token.ErrNotConfigured))
	}

	decoded, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, a.fail(span, a.mapError(err))
	}

	userID, err := a.resolver.ResolveUserID(decoded.Claims)
	if err != nil {
		return nil, a.fail(span, a.mapError(err))
	}

	user, err := a.resolver.LoadExistingUser(ctx, userID)
	if err != nil {
		return nil, a.fail(span, a.mapError(err))
	}

	span.SetAttributes(attribute.String("auth.user_id", user.ID))
	return identity.New(user, raw), nil
}

// GetUser returns the stored user with id, or nil when there is none
func (a *Authenticator) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := a.resolver.LoadExistingUser(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, nil
		}
		return nil, ErrDatabaseError.Wrap(err)
	}
	return user, nil
}

// ExtractBearerToken returns the token of a "Bearer <token>" header value
func ExtractBearerToken(header string) (string, bool) {
	prefix := BearerScheme + " "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	raw := header[len(prefix):]
	if raw == "" {
		return "", false
	}
	return raw, true
}

func (a *Authenticator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(GetErrorType(err)))
	return err
}

// mapError converts component errors to domain errors. Token failures carry no detail.
func (a *Authenticator) mapError(err error) error {
	var missing *identity.MissingClaimError
	switch {
	case errors.Is(err, token.ErrNotConfigured):
		return ErrNotConfigured.Wrap(err)
	case errors.Is(err, jwks.ErrFetchFailed):
		return ErrKeysUnavailable.Wrap(err)
	case errors.Is(err, token.ErrInvalidToken):
		return ErrInvalidToken
	case errors.As(err, &missing):
		return ErrMissingUserIDClaim.Wrap(missing).
			WithDetail("available_claims", missing.Available)
	case errors.Is(err, identity.ErrUserNotFound):
		return ErrUserNotFound.Wrap(err)
	case GetErrorType(err) != "":
		return err
	default:
		a.logger.Error("authentication failed", zap.Error(err))
		return ErrInternal.Wrap(err)
	}
}
