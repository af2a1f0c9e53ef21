package jwks

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"
)

// AlgorithmRS256 is the only signing algorithm accepted by this package
const AlgorithmRS256 = "RS256"

// wellKnownPath is appended to the issuer base URL to locate the key set
const wellKnownPath = "/.well-known/jwks.json"

// JWKS represents the JSON Web Key Set document
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// SigningKey is a verification key parsed from a JWK. It is never modified after parsing.
type SigningKey struct {
	KeyID     string
	Algorithm string
	PublicKey *rsa.PublicKey
}

// KeySet is the ordered set of signing keys published by one issuer
type KeySet struct {
	Issuer string
	Keys   []SigningKey
}

// Find returns the key with the given kid
func (ks *KeySet) Find(kid string) (SigningKey, bool) {
	if ks == nil || kid == "" {
		return SigningKey{}, false
	}
	for _, key := range ks.Keys {
		if key.KeyID == kid {
			return key, true
		}
	}
	return SigningKey{}, false
}

// Len returns the number of keys in the set
func (ks *KeySet) Len() int {
	if ks == nil {
		return 0
	}
	return len(ks.Keys)
}

// URL builds the JWKS endpoint for an issuer base URL
func URL(issuerBaseURL string) string {
	return strings.TrimRight(issuerBaseURL, "/") + wellKnownPath
}

// NewKeySet converts a JWKS document into a KeySet, skipping keys this package
// cannot verify with. It fails when no usable key remains.
func NewKeySet(issuer string, doc *JWKS, logger *zap.Logger) (*KeySet, error) {
	if doc == nil {
		return nil, errors.New("empty JWKS document")
	}

	ks := &KeySet{Issuer: issuer, Keys: make([]SigningKey, 0, len(doc.Keys))}
	for i := range doc.Keys {
		jwk := &doc.Keys[i]
		if jwk.Kty != "RSA" {
			continue
		}
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		alg := jwk.Alg
		if alg == "" {
			alg = AlgorithmRS256
		}
		if alg != AlgorithmRS256 {
			continue
		}

		publicKey, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			logger.Warn("skipping malformed JWKS key",
				zap.String("issuer", issuer),
				zap.String("kid", jwk.Kid),
				zap.Error(err))
			continue
		}
		ks.Keys = append(ks.Keys, SigningKey{
			KeyID:     jwk.Kid,
			Algorithm: alg,
			PublicKey: publicKey,
		})
	}

	if len(ks.Keys) == 0 {
		return nil, errors.New("JWKS contains no usable RS256 keys")
	}
	return ks, nil
}

// jwkToRSAPublicKey converts a JWK to an RSA public key
func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(jwk.N, "="))
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(jwk.E, "="))
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	if len(nBytes) == 0 || len(eBytes) == 0 || len(eBytes) > 4 {
		return nil, errors.New("invalid RSA key parameters")
	}

	var e int
	for _, b := range eBytes {
		e = e*256 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
