package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Test helper to generate RSA key pair
func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey, &privateKey.PublicKey
}

func toJWK(publicKey *rsa.PublicKey, kid string) JWK {
	return JWK{
		Kid: kid,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
	}
}

// Test helper to create a mock JWKS server that counts requests
func createMockJWKSServer(t *testing.T, keys []JWK, hits *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		if r.URL.Path != "/.well-known/jwks.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(JWKS{Keys: keys})
	}))
}

func TestURL(t *testing.T) {
	assert.Equal(t, "https://idp.example/.well-known/jwks.json", URL("https://idp.example/"))
	assert.Equal(t, "https://idp.example/.well-known/jwks.json", URL("https://idp.example"))
	assert.Equal(t, "https://idp.example/realm/.well-known/jwks.json", URL("https://idp.example/realm//"))
}

func TestNewKeySet(t *testing.T) {
	_, pub1 := generateTestKeyPair(t)
	_, pub2 := generateTestKeyPair(t)

	t.Run("keeps order and skips unusable keys", func(t *testing.T) {
		noAlg := toJWK(pub2, "K2")
		noAlg.Alg = ""
		doc := &JWKS{Keys: []JWK{
			toJWK(pub1, "K1"),
			{Kid: "EC1", Kty: "EC", Alg: "ES256"},
			{Kid: "PS1", Kty: "RSA", Alg: "PS256", N: "AQAB", E: "AQAB"},
			{Kid: "ENC", Kty: "RSA", Alg: "RS256", Use: "enc", N: "AQAB", E: "AQAB"},
			noAlg,
		}}

		ks, err := NewKeySet("https://idp.example", doc, zap.NewNop())
		require.NoError(t, err)
		require.Equal(t, 2, ks.Len())
		assert.Equal(t, "K1", ks.Keys[0].KeyID)
		assert.Equal(t, "K2", ks.Keys[1].KeyID)
		assert.Equal(t, AlgorithmRS256, ks.Keys[1].Algorithm)
		assert.Equal(t, 0, pub1.N.Cmp(ks.Keys[0].PublicKey.N))
		assert.Equal(t, pub1.E, ks.Keys[0].PublicKey.E)
	})

	t.Run("find by kid", func(t *testing.T) {
		ks, err := NewKeySet("https://idp.example", &JWKS{Keys: []JWK{toJWK(pub1, "K1")}}, zap.NewNop())
		require.NoError(t, err)

		key, ok := ks.Find("K1")
		assert.True(t, ok)
		assert.Equal(t, "K1", key.KeyID)

		_, ok = ks.Find("missing")
		assert.False(t, ok)
		_, ok = ks.Find("")
		assert.False(t, ok)
	})

	t.Run("no usable keys", func(t *testing.T) {
		_, err := NewKeySet("https://idp.example", &JWKS{Keys: []JWK{{Kty: "EC"}}}, zap.NewNop())
		assert.Error(t, err)

		_, err = NewKeySet("https://idp.example", &JWKS{}, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("bad encoding", func(t *testing.T) {
		_, err := NewKeySet("https://idp.example", &JWKS{Keys: []JWK{{Kty: "RSA", N: "!!", E: "AQAB"}}}, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("malformed key is skipped when a good one remains", func(t *testing.T) {
		doc := &JWKS{Keys: []JWK{
			{Kid: "BAD", Kty: "RSA", Alg: "RS256", N: "!!", E: "AQAB"},
			toJWK(pub1, "K1"),
			{Kid: "BADE", Kty: "RSA", N: "AQAB", E: "%%"},
		}}

		ks, err := NewKeySet("https://idp.example", doc, zap.NewNop())
		require.NoError(t, err)
		require.Equal(t, 1, ks.Len())
		assert.Equal(t, "K1", ks.Keys[0].KeyID)
	})
}

func TestHTTPSourceFetch(t *testing.T) {
	logger := zap.NewNop()
	_, publicKey := generateTestKeyPair(t)

	t.Run("success with trailing slash issuer", func(t *testing.T) {
		server := createMockJWKSServer(t, []JWK{toJWK(publicKey, "K1")}, nil)
		defer server.Close()

		source := NewHTTPSource(5*time.Second, logger)
		ks, err := source.Fetch(context.Background(), server.URL+"/")
		require.NoError(t, err)
		assert.Equal(t, 1, ks.Len())
		assert.Equal(t, "K1", ks.Keys[0].KeyID)
	})

	t.Run("non-2xx status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := NewHTTPSource(5*time.Second, logger).Fetch(context.Background(), server.URL)
		assert.ErrorIs(t, err, ErrFetchFailed)
	})

	t.Run("malformed document", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"keys": [`))
		}))
		defer server.Close()

		_, err := NewHTTPSource(5*time.Second, logger).Fetch(context.Background(), server.URL)
		assert.ErrorIs(t, err, ErrFetchFailed)
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		_, err := NewHTTPSource(time.Second, logger).Fetch(context.Background(), url)
		assert.ErrorIs(t, err, ErrFetchFailed)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer server.Close()
		defer close(release)

		_, err := NewHTTPSource(50*time.Millisecond, logger).Fetch(context.Background(), server.URL)
		assert.ErrorIs(t, err, ErrFetchFailed)
	})
}

// countingSource is a Source that counts fetches and can block them
type countingSource struct {
	calls int32
	gate  chan struct{}
	ks    *KeySet
	err   error
}

func (s *countingSource) Fetch(ctx context.Context, issuer string) (*KeySet, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.gate != nil {
		<-s.gate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.ks, nil
}

func TestCache(t *testing.T) {
	logger := zap.NewNop()
	issuer := "https://idp.example"
	ks := &KeySet{Issuer: issuer, Keys: []SigningKey{{KeyID: "K1", Algorithm: AlgorithmRS256}}}

	t.Run("second lookup is served from cache", func(t *testing.T) {
		source := &countingSource{ks: ks}
		cache := NewCache(source, logger)

		got, err := cache.GetKeySet(context.Background(), issuer)
		require.NoError(t, err)
		assert.Same(t, ks, got)

		got2, err := cache.GetKeySet(context.Background(), issuer)
		require.NoError(t, err)
		assert.Same(t, got, got2)
		assert.Equal(t, int32(1), atomic.LoadInt32(&source.calls))
	})

	t.Run("invalidate forces refetch", func(t *testing.T) {
		source := &countingSource{ks: ks}
		cache := NewCache(source, logger)

		_, err := cache.GetKeySet(context.Background(), issuer)
		require.NoError(t, err)
		cache.Invalidate(issuer)
		_, err = cache.GetKeySet(context.Background(), issuer)
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&source.calls))
	})

	t.Run("issuers are cached independently", func(t *testing.T) {
		source := &countingSource{ks: ks}
		cache := NewCache(source, logger)

		_, _ = cache.GetKeySet(context.Background(), issuer)
		_, _ = cache.GetKeySet(context.Background(), "https://other.example")
		assert.Equal(t, int32(2), atomic.LoadInt32(&source.calls))

		stats := cache.Stats()
		assert.Equal(t, 2, stats["issuers_cached"])
	})

	t.Run("failed fetch is not cached", func(t *testing.T) {
		source := &countingSource{err: errors.New("boom")}
		cache := NewCache(source, logger)

		_, err := cache.GetKeySet(context.Background(), issuer)
		assert.Error(t, err)
		_, err = cache.GetKeySet(context.Background(), issuer)
		assert.Error(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&source.calls))
		assert.Equal(t, 0, cache.Stats()["issuers_cached"])
	})

	t.Run("concurrent misses share one fetch", func(t *testing.T) {
		source := &countingSource{ks: ks, gate: make(chan struct{})}
		cache := NewCache(source, logger)

		const callers = 16
		var started, done sync.WaitGroup
		started.Add(callers)
		done.Add(callers)
		results := make([]*KeySet, callers)
		for i := 0; i < callers; i++ {
			go func(i int) {
				defer done.Done()
				started.Done()
				got, err := cache.GetKeySet(context.Background(), issuer)
				assert.NoError(t, err)
				results[i] = got
			}(i)
		}
		started.Wait()
		// give the goroutines time to join the in-flight fetch
		time.Sleep(50 * time.Millisecond)
		close(source.gate)
		done.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&source.calls))
		for _, got := range results {
			assert.Same(t, ks, got)
		}
	})

	t.Run("cancelled caller does not fail a shared fetch", func(t *testing.T) {
		source := &countingSource{ks: ks, gate: make(chan struct{})}
		cache := NewCache(source, logger)

		first, cancel := context.WithCancel(context.Background())
		firstErr := make(chan error, 1)
		go func() {
			_, err := cache.GetKeySet(first, issuer)
			firstErr <- err
		}()
		require.Eventually(t, func() bool { return atomic.LoadInt32(&source.calls) == 1 }, time.Second, 5*time.Millisecond)

		secondDone := make(chan struct{})
		var got *KeySet
		var secondErr error
		go func() {
			defer close(secondDone)
			got, secondErr = cache.GetKeySet(context.Background(), issuer)
		}()
		// let the second caller join the in-flight fetch
		time.Sleep(50 * time.Millisecond)

		cancel()
		err := <-firstErr
		assert.ErrorIs(t, err, ErrFetchFailed)
		assert.ErrorIs(t, err, context.Canceled)

		close(source.gate)
		<-secondDone
		require.NoError(t, secondErr)
		assert.Same(t, ks, got)
		assert.Equal(t, int32(1), atomic.LoadInt32(&source.calls))
	})

	t.Run("http source end to end", func(t *testing.T) {
		_, publicKey := generateTestKeyPair(t)
		var hits int32
		server := createMockJWKSServer(t, []JWK{toJWK(publicKey, "K1")}, &hits)
		defer server.Close()

		cache := NewCache(NewHTTPSource(5*time.Second, logger), logger)
		for i := 0; i < 3; i++ {
			_, err := cache.GetKeySet(context.Background(), server.URL)
			require.NoError(t, err)
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})
}
