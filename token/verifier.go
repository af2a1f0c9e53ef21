package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/plantinhas/authgate/jwks"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrNotConfigured is returned when no issuer is configured for verification
	ErrNotConfigured = errors.New("verifier not initialized")

	// ErrInvalidToken is returned for any malformed, forged, expired or wrongly signed token
	ErrInvalidToken = errors.New("invalid token")
)

const tracerName = "github.com/plantinhas/authgate/token"

// KeyProvider supplies the key set of an issuer and allows dropping it
type KeyProvider interface {
	GetKeySet(ctx context.Context, issuer string) (*jwks.KeySet, error)
	Invalidate(issuer string)
}

// Config holds configuration for Verifier
type Config struct {
	// Issuer is the identity provider base URL. Empty means verification is disabled.
	Issuer string
	// Leeway tolerates clock skew when checking exp, nbf and iat
	Leeway time.Duration
}

// Verifier validates RS256 tokens against the issuer's published keys
type Verifier struct {
	issuer string
	keys   KeyProvider
	parser *jwt.Parser
	logger *zap.Logger
	tracer trace.Tracer
}

// NewVerifier creates a new Verifier
func NewVerifier(cfg Config, keys KeyProvider, logger *zap.Logger) *Verifier {
	return &Verifier{
		issuer: cfg.Issuer,
		keys:   keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwks.AlgorithmRS256}),
			jwt.WithLeeway(cfg.Leeway),
		),
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// Issuer returns the configured issuer base URL
func (v *Verifier) Issuer() string {
	return v.issuer
}

// outcome of checking a token against one key set
type outcome int

const (
	// no key in the set produced a valid signature
	outcomeNoKey outcome = iota
	// a key matched but the token is unacceptable
	outcomeRejected
	outcomeVerified
)

// Verify checks the token signature, algorithm and time claims and returns its decoded content.
//
// A token whose kid is present in the cached key set is checked against that key only.
// Otherwise every cached key is tried in order. When no key verifies the token the key
// set is invalidated and refetched once before giving up.
func (v *Verifier) Verify(ctx context.Context, raw string) (*DecodedToken, error) {
	if v == nil || v.issuer == "" || v.keys == nil {
		return nil, ErrNotConfigured
	}

	ctx, span := v.tracer.Start(ctx, "token.Verify")
	defer span.End()

	decoded, err := v.verify(ctx, raw, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return decoded, nil
}

func (v *Verifier) verify(ctx context.Context, raw string, span trace.Span) (*DecodedToken, error) {
	unverified, _, err := v.parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		v.logger.Debug("token header unreadable", zap.Error(err))
		return nil, ErrInvalidToken
	}
	if alg, _ := unverified.Header["alg"].(string); alg != jwks.AlgorithmRS256 {
		v.logger.Debug("token algorithm rejected", zap.Any("alg", unverified.Header["alg"]))
		return nil, ErrInvalidToken
	}
	kid, _ := unverified.Header["kid"].(string)
	span.SetAttributes(attribute.Bool("token.has_kid", kid != ""))

	ks, err := v.keys.GetKeySet(ctx, v.issuer)
	if err != nil {
		return nil, err
	}

	decoded, result := v.verifyWithKeySet(raw, kid, ks)
	switch result {
	case outcomeVerified:
		return decoded, nil
	case outcomeRejected:
		return nil, ErrInvalidToken
	}

	// nothing in the cached set verified the token: refresh once
	span.AddEvent("jwks.refresh")
	v.logger.Info("no cached key verified token, refreshing key set",
		zap.String("issuer", v.issuer),
		zap.String("kid", kid))
	v.keys.Invalidate(v.issuer)

	ks, err = v.keys.GetKeySet(ctx, v.issuer)
	if err != nil {
		return nil, err
	}

	decoded, result = v.verifyWithKeySet(raw, kid, ks)
	if result == outcomeVerified {
		return decoded, nil
	}
	return nil, ErrInvalidToken
}

// verifyWithKeySet tries the kid-matched key, or every key in order when there is no match
func (v *Verifier) verifyWithKeySet(raw, kid string, ks *jwks.KeySet) (*DecodedToken, outcome) {
	if key, ok := ks.Find(kid); ok {
		decoded, result := v.verifyWithKey(raw, key)
		if result == outcomeNoKey {
			// the named key exists but did not sign this token
			return nil, outcomeRejected
		}
		return decoded, result
	}

	for _, key := range ks.Keys {
		decoded, result := v.verifyWithKey(raw, key)
		if result != outcomeNoKey {
			return decoded, result
		}
	}
	return nil, outcomeNoKey
}

func (v *Verifier) verifyWithKey(raw string, key jwks.SigningKey) (*DecodedToken, outcome) {
	if key.Algorithm != jwks.AlgorithmRS256 || key.PublicKey == nil {
		return nil, outcomeNoKey
	}

	parsed, err := v.parser.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return key.PublicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, outcomeNoKey
		}
		v.logger.Debug("token rejected", zap.String("kid", key.KeyID), zap.Error(err))
		return nil, outcomeRejected
	}
	if !parsed.Valid {
		return nil, outcomeRejected
	}

	claims, err := v.decodeClaims(raw)
	if err != nil {
		v.logger.Debug("token payload undecodable", zap.Error(err))
		return nil, outcomeRejected
	}

	return &DecodedToken{
		Header: parsed.Header,
		Claims: claims,
		KeyID:  key.KeyID,
	}, outcomeVerified
}

// decodeClaims reads the payload segment again to keep the claim order
func (v *Verifier) decodeClaims(raw string) (*Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("token has %d segments", len(parts))
	}
	payload, err := v.parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, err
	}
	claims := &Claims{}
	if err := json.Unmarshal(payload, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
