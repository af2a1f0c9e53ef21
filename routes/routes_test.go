package routes

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/plantinhas/authgate/app"
	"github.com/plantinhas/authgate/config"
	"github.com/plantinhas/authgate/jwks"
	"github.com/plantinhas/authgate/repositories/postgres"
	"github.com/plantinhas/authgate/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var userColumns = []string{"id", "username", "created_at", "updated_at"}

type testServer struct {
	handler http.Handler
	mock    sqlmock.Sqlmock
	key     *rsa.PrivateKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwks.JWKS{Keys: []jwks.JWK{{
			Kid: "K1",
			Kty: "RSA",
			N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}}})
	}))
	t.Cleanup(jwksServer.Close)

	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	factory := postgres.NewRepositoryFactoryFromDBs(postgres.Wrap("auth", sqlDB, logger), nil, logger)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS auth_users").WillReturnResult(sqlmock.NewResult(0, 0))

	cfg := &config.Config{
		Environment:  "test",
		Server:       config.ServerConfig{CORSOrigins: []string{"http://localhost:5173"}},
		AuthDatabase: config.DatabaseConfig{ConnectionString: "postgres://auth@localhost/auth"},
		Auth: config.AuthConfig{
			BaseURL:     jwksServer.URL,
			UserIDClaim: "sub",
			JWKSTimeout: time.Second,
		},
	}

	deps, err := app.NewDependenciesWithFactory(context.Background(), cfg, factory, logger)
	require.NoError(t, err)

	return &testServer{handler: SetupRoutes(deps), mock: mock, key: key}
}

func (s *testServer) sign(t *testing.T, sub string) string {
	t.Helper()
	issued := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	issued.Header["kid"] = "K1"
	raw, err := issued.SignedString(s.key)
	require.NoError(t, err)
	return raw
}

func (s *testServer) do(method, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func TestRoutes(t *testing.T) {
	t.Run("liveness", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown endpoint is JSON 404", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(http.MethodGet, "/nope", "")

		assert.Equal(t, http.StatusNotFound, w.Code)
		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "not_found", response.Error)
	})

	t.Run("me requires a bearer token", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(http.MethodGet, "/api/v1/me", "")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
	})

	t.Run("me rejects a forged token", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(http.MethodGet, "/api/v1/me", "Bearer not.a.jwt")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("me with a valid token", func(t *testing.T) {
		s := newTestServer(t)
		now := time.Now()
		for i := 0; i < 2; i++ {
			s.mock.ExpectQuery("SELECT id, username, created_at, updated_at FROM auth_users").
				WithArgs("u-42").
				WillReturnRows(sqlmock.NewRows(userColumns).AddRow("u-42", "alice", now, now))
		}

		w := s.do(http.MethodGet, "/api/v1/me", "Bearer "+s.sign(t, "u-42"))

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var response struct {
			Data struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "u-42", response.Data.ID)
		assert.Equal(t, "alice", response.Data.Username)
		assert.NoError(t, s.mock.ExpectationsWereMet())
	})

	t.Run("login with an empty body", func(t *testing.T) {
		s := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.Body = http.NoBody
		w := httptest.NewRecorder()
		s.handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
