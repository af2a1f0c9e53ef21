package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxLoginResponseSize = 64 << 10

// loginRequest is the body posted to the remote token endpoint
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse represents the remote token endpoint response
type TokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// CredentialExchanger trades a username and password for a signed access token.
// ok is false when the remote service rejected the credentials.
type CredentialExchanger interface {
	Exchange(ctx context.Context, username, password string) (accessToken string, ok bool, err error)
}

// LoginClient exchanges credentials against the remote authentication service
type LoginClient struct {
	tokenURL   string
	httpClient *http.Client
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewLoginClient creates a new login client posting to tokenURL
func NewLoginClient(tokenURL string, timeout time.Duration, logger *zap.Logger) *LoginClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout
	return NewLoginClientWithHTTPClient(tokenURL, client, logger)
}

// NewLoginClientWithHTTPClient creates a login client on top of an existing HTTP client
func NewLoginClientWithHTTPClient(tokenURL string, client *http.Client, logger *zap.Logger) *LoginClient {
	return &LoginClient{
		tokenURL:   tokenURL,
		httpClient: client,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}
}

// Exchange posts the credentials and returns the access token on a 2xx response.
// A non-2xx response is a rejection, not an error.
func (c *LoginClient) Exchange(ctx context.Context, username, password string) (string, bool, error) {
	if c.tokenURL == "" {
		return "", false, ErrLoginNotConfigured
	}

	ctx, span := c.tracer.Start(ctx, "auth.Exchange", trace.WithAttributes(attribute.String("auth.token_url", c.tokenURL)))
	defer span.End()

	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return "", false, WrapInternal("encode login request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", false, WrapInternal("create login request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login request failed")
		return "", false, ErrAuthServiceUnavailable.Wrap(err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxLoginResponseSize))
		c.logger.Info("credentials rejected by authentication service", zap.Int("status", resp.StatusCode))
		return "", false, nil
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxLoginResponseSize)).Decode(&tokenResp); err != nil {
		span.RecordError(err)
		return "", false, ErrInvalidAuthResponse.Wrap(fmt.Errorf("decode token response: %w", err))
	}

	if tokenResp.Access == "" {
		return "", false, ErrInvalidAuthResponse.Wrap(errors.New("no access token in response"))
	}

	return tokenResp.Access, true, nil
}
