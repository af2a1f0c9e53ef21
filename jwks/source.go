package jwks

import (
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

// ErrFetchFailed is returned when the JWKS endpoint is unreachable or its document is unusable
var ErrFetchFailed = errors.New("failed to fetch JWKS")

// maxDocumentSize bounds the JWKS response body
const maxDocumentSize = 1 << 20

const tracerName = "github.com/plantinhas/authgate/jwks"

// Source fetches the key set published by an issuer
type Source interface {
	Fetch(ctx context.Context, issuerBaseURL string) (*KeySet, error)
}

// HTTPSource fetches key sets over HTTP from {issuer}/.well-known/jwks.json
type HTTPSource struct {
	httpClient *http.Client
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewHTTPSource creates a Source whose requests are bounded by timeout
func NewHTTPSource(timeout time.Duration, logger *zap.Logger) *HTTPSource {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout
	return NewHTTPSourceWithClient(client, logger)
}

// NewHTTPSourceWithClient creates a Source on top of an existing HTTP client
func NewHTTPSourceWithClient(client *http.Client, logger *zap.Logger) *HTTPSource {
	return &HTTPSource{
		httpClient: client,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}
}

// Fetch downloads and parses the issuer's JWKS document
func (s *HTTPSource) Fetch(ctx context.Context, issuerBaseURL string) (*KeySet, error) {
	jwksURL := URL(issuerBaseURL)

	ctx, span := s.tracer.Start(ctx, "jwks.Fetch", trace.WithAttributes(attribute.String("jwks.url", jwksURL)))
	defer span.End()

	ks, err := s.fetch(ctx, issuerBaseURL, jwksURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("jwks fetch failed", zap.String("url", jwksURL), zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.Int("jwks.keys", ks.Len()))
	s.logger.Debug("jwks fetched", zap.String("url", jwksURL), zap.Int("keys", ks.Len()))
	return ks, nil
}

func (s *HTTPSource) fetch(ctx context.Context, issuerBaseURL, jwksURL string) (*KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status code %d", ErrFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetchFailed, err)
	}

	var doc JWKS
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode JWKS: %v", ErrFetchFailed, err)
	}

	ks, err := NewKeySet(issuerBaseURL, &doc, s.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return ks, nil
}
