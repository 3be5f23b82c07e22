package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldcipher/rotor"
	"github.com/fieldcipher/rotor/password"
	"github.com/fieldcipher/rotor/userstore"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := rotor.DefaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}

	engine, err := rotor.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(userstore.NewRedisStore(rdb, "test:users")).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return NewServer(engine, zap.NewNop(), DefaultConfig())
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "non-envelope body: %s", rec.Body.String())
	return rec, env
}

func registerAndLogin(t *testing.T, s *Server) rotor.TokenPair {
	t.Helper()

	rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "alice",
		"password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var pair rotor.TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &pair))
	return pair
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec, env := doJSON(t, s, http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t)

	rec, env := doJSON(t, s, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username": "alice",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", env.Code)
}

func TestRegisterConflict(t *testing.T) {
	s := newTestServer(t)
	registerAndLogin(t, s)

	rec, env := doJSON(t, s, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username": "alice",
		"email":    "other@example.com",
		"password": "correct-horse",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "user_exists", env.Code)
}

func TestLoginFailure(t *testing.T) {
	s := newTestServer(t)
	registerAndLogin(t, s)

	rec, env := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "alice",
		"password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", env.Code)
}

func TestRefreshRotationAndReplay(t *testing.T) {
	s := newTestServer(t)
	pair := registerAndLogin(t, s)

	rec, env := doJSON(t, s, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var next rotor.TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &next))
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// Replay of the consumed token: family revoked, stable code, and the
	// error text names the security action.
	rec, env = doJSON(t, s, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "refresh_reuse", env.Code)
	assert.Contains(t, env.Error, "revoked")
	assert.Contains(t, env.Error, "security")

	// The successor from the legitimate rotation is dead as well.
	rec, env = doJSON(t, s, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": next.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_revoked", env.Code)
}

func TestProtectedRoutes(t *testing.T) {
	s := newTestServer(t)
	pair := registerAndLogin(t, s)

	rec, env := doJSON(t, s, http.MethodGet, "/api/v1/protected", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	rec, _ = doJSON(t, s, http.MethodGet, "/api/v1/protected", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env = doJSON(t, s, http.MethodGet, "/api/v1/profile", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "alice")
}

func TestLogoutEndsFamily(t *testing.T) {
	s := newTestServer(t)
	pair := registerAndLogin(t, s)

	// Logout sits behind the access-token guard.
	rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/auth/logout", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, s, http.MethodPost, "/api/v1/auth/logout", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, map[string]string{"Authorization": "Bearer " + pair.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := doJSON(t, s, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_revoked", env.Code)
}

func TestSimulateTheftEndpoint(t *testing.T) {
	s := newTestServer(t)
	pair := registerAndLogin(t, s)

	rec, env := doJSON(t, s, http.MethodPost, "/api/v1/security/simulate-theft", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report rotor.TheftReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.True(t, report.AttackerRotated)
	assert.True(t, report.ReuseDetected)
	assert.GreaterOrEqual(t, report.TokensRevoked, 2)
}

func TestTokenStatusEndpoint(t *testing.T) {
	s := newTestServer(t)
	pair := registerAndLogin(t, s)

	rec, env := doJSON(t, s, http.MethodGet,
		"/api/v1/security/token-status?refresh_token="+url.QueryEscape(pair.RefreshToken), nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"valid":true`)

	rec, env = doJSON(t, s, http.MethodGet, "/api/v1/security/token-status", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", env.Code)
}

func TestTokenInfoEndpoint(t *testing.T) {
	s := newTestServer(t)
	pair := registerAndLogin(t, s)

	rec, env := doJSON(t, s, http.MethodGet,
		"/api/v1/debug/token-info?access_token="+url.QueryEscape(pair.AccessToken)+
			"&refresh_token="+url.QueryEscape(pair.RefreshToken), nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "access_token")

	// Both parameters are optional.
	rec, _ = doJSON(t, s, http.MethodGet, "/api/v1/debug/token-info", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQREndpoints(t *testing.T) {
	s := newTestServer(t)
	pair := registerAndLogin(t, s)

	rec, env := doJSON(t, s, http.MethodPost, "/api/v1/qr/generate", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var grant rotor.QRGrant
	require.NoError(t, json.Unmarshal(env.Data, &grant))
	require.NotEmpty(t, grant.Payload)

	rec, env = doJSON(t, s, http.MethodPost, "/api/v1/qr/validate", map[string]string{
		"qr_data": grant.Payload,
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var qrPair rotor.TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &qrPair))
	assert.NotEmpty(t, qrPair.RefreshToken)

	// Second validation of the same ticket.
	rec, env = doJSON(t, s, http.MethodPost, "/api/v1/qr/validate", map[string]string{
		"qr_data": grant.Payload,
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "qr_used", env.Code)

	// Unauthenticated generation is rejected.
	rec, _ = doJSON(t, s, http.MethodPost, "/api/v1/qr/generate", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminDatabaseEndpoint(t *testing.T) {
	s := newTestServer(t)
	pair := registerAndLogin(t, s)

	// Operator views require an access token.
	rec, _ := doJSON(t, s, http.MethodGet, "/api/v1/admin/database", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env := doJSON(t, s, http.MethodGet, "/api/v1/admin/database", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "stats")
	assert.Contains(t, string(env.Data), "alice")
}

func TestAdminMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	pair := registerAndLogin(t, s)

	rec, _ := doJSON(t, s, http.MethodGet, "/api/v1/admin/metrics", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env := doJSON(t, s, http.MethodGet, "/api/v1/admin/metrics", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"login_success":1`)
}
