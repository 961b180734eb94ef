package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/ashureev/agentdesk/internal/langgraph"
	"github.com/ashureev/agentdesk/internal/ratelimit"
	"github.com/ashureev/agentdesk/internal/registry"
	"github.com/ashureev/agentdesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type limits struct {
	login, api, admin int
	trustProxy        bool
}

type testEnv struct {
	handler    http.Handler
	repo       *store.SQLiteStore
	tokens     *identity.Tokens
	adminToken string
	userToken  string
}

func newTestEnv(t *testing.T, l limits) *testEnv {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ctx := context.Background()
	for _, u := range []struct {
		username, password string
		role               domain.Role
		active             bool
	}{
		{"admin", "admin-pw", domain.RoleAdmin, true},
		{"joe", "joe-pw", domain.RoleUser, true},
		{"gone", "gone-pw", domain.RoleUser, false},
	} {
		hash, err := identity.HashPassword(u.password)
		require.NoError(t, err)
		require.NoError(t, repo.CreateUser(ctx, &domain.User{
			Username: u.username, PasswordHash: hash, Name: u.username, Role: u.role, Active: u.active,
		}))
	}

	newLimiter := func(n int) *ratelimit.FixedWindow {
		if n == 0 {
			n = 1000
		}
		fw := ratelimit.NewFixedWindow(n, 15*time.Minute)
		t.Cleanup(fw.Close)
		return fw
	}

	tokens := identity.NewTokens("test-secret", time.Hour)
	base := NewHandler(false)
	h := NewRouter(RouterConfig{
		Auth:          NewAuthHandler(base, identity.NewVerifier(repo), tokens, repo),
		Agents:        NewAgentHandler(base, registry.NewService(repo, nil)),
		Health:        NewHealthHandler(base, repo),
		Authenticator: identity.NewAuthenticator(tokens, repo),
		Limiters: Limiters{
			Login: newLimiter(l.login),
			API:   newLimiter(l.api),
			Admin: newLimiter(l.admin),
		},
		CORSOrigins: []string{"http://localhost:5173"},
		TrustProxy:  l.trustProxy,
	})

	env := &testEnv{handler: h, repo: repo, tokens: tokens}
	env.adminToken = env.login(t, "admin", "admin-pw")
	env.userToken = env.login(t, "joe", "joe-pw")
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Token
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func agentBody(name, assistantID string, active *bool) map[string]any {
	body := map[string]any{
		"displayName":      name,
		"graphName":        "graph",
		"category":         "general",
		"description":      "test agent",
		"assistantId":      assistantID,
		"starterQuestions": []string{"What can you do?"},
	}
	if active != nil {
		body["active"] = *active
	}
	return body
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, limits{})

	rr := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "joe"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "joe", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid credentials", decode[map[string]any](t, rr)["message"])

	rr = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "gone", "password": "gone-pw"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Account is inactive", decode[map[string]any](t, rr)["message"])

	rr = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "joe", "password": "joe-pw"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "passwordHash")
	assert.NotContains(t, rr.Body.String(), "$2a$")
	resp := decode[struct {
		Token string            `json:"token"`
		User  domain.PublicUser `json:"user"`
	}](t, rr)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "joe", resp.User.Username)
	assert.Equal(t, domain.RoleUser, resp.User.Role)
}

func TestMeAndLogout(t *testing.T) {
	env := newTestEnv(t, limits{})

	rr := env.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "No token provided", decode[map[string]any](t, rr)["message"])

	rr = env.do(t, http.MethodGet, "/api/auth/me", env.userToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	me := decode[struct {
		User domain.PublicUser `json:"user"`
	}](t, rr)
	assert.Equal(t, "joe", me.User.Username)

	rr = env.do(t, http.MethodPut, "/api/auth/me", env.userToken, map[string]string{"name": "Joe Q"})
	require.Equal(t, http.StatusOK, rr.Code)
	me = decode[struct {
		User domain.PublicUser `json:"user"`
	}](t, rr)
	assert.Equal(t, "Joe Q", me.User.Name)

	rr = env.do(t, http.MethodPost, "/api/auth/logout", env.userToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Logged out successfully", decode[map[string]any](t, rr)["message"])
}

func TestDeactivatedUserTokenRejected(t *testing.T) {
	env := newTestEnv(t, limits{})
	require.NoError(t, env.repo.SetUserActive(context.Background(), "joe", false))

	rr := env.do(t, http.MethodGet, "/api/agents", env.userToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAgentLifecycle(t *testing.T) {
	env := newTestEnv(t, limits{})

	rr := env.do(t, http.MethodPost, "/api/agents", env.adminToken, agentBody("Helper", "asst-1", nil))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[map[string]any](t, rr)
	id := created["id"].(string)
	assert.Equal(t, true, created["active"])
	assert.Equal(t, created["updatedAt"], created["lastModified"])

	rr = env.do(t, http.MethodPost, "/api/agents", env.adminToken, agentBody("Helper", "asst-2", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "An agent with this display name already exists", decode[map[string]any](t, rr)["message"])

	rr = env.do(t, http.MethodPost, "/api/agents", env.adminToken, map[string]any{"displayName": " "})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	verr := decode[struct {
		Errors []string `json:"errors"`
	}](t, rr)
	assert.Len(t, verr.Errors, 4)

	rr = env.do(t, http.MethodGet, "/api/agents/"+id, env.adminToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodPut, "/api/agents/"+id, env.adminToken, agentBody("Helper v2", "asst-1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Helper v2", decode[map[string]any](t, rr)["displayName"])

	rr = env.do(t, http.MethodPut, "/api/agents/missing", env.adminToken, agentBody("X", "asst-x", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPatch, "/api/agents/"+id+"/status", env.adminToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decode[map[string]any](t, rr)["active"])

	rr = env.do(t, http.MethodGet, "/api/agents/by-assistant/asst-1", env.userToken, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = env.do(t, http.MethodGet, "/api/agents/by-assistant/asst-1", env.adminToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodDelete, "/api/agents/"+id, env.adminToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Agent deleted successfully", decode[map[string]any](t, rr)["message"])

	rr = env.do(t, http.MethodDelete, "/api/agents/"+id, env.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Agent not found", decode[map[string]any](t, rr)["message"])
}

func TestListFiltersByRole(t *testing.T) {
	env := newTestEnv(t, limits{})
	inactive := false
	for i := range 3 {
		var active *bool
		if i == 1 {
			active = &inactive
		}
		rr := env.do(t, http.MethodPost, "/api/agents", env.adminToken, agentBody(fmt.Sprintf("Agent %d", i), fmt.Sprintf("asst-%d", i), active))
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	type listBody struct {
		Agents     []map[string]any `json:"agents"`
		Pagination struct {
			Total int `json:"total"`
			Page  int `json:"page"`
			Pages int `json:"pages"`
		} `json:"pagination"`
	}

	rr := env.do(t, http.MethodGet, "/api/agents?active=false", env.userToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[listBody](t, rr)
	assert.Equal(t, 2, body.Pagination.Total)
	for _, a := range body.Agents {
		assert.Equal(t, true, a["active"])
	}

	rr = env.do(t, http.MethodGet, "/api/agents?page=2&limit=2", env.adminToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body = decode[listBody](t, rr)
	assert.Equal(t, 3, body.Pagination.Total)
	assert.Equal(t, 2, body.Pagination.Page)
	assert.Equal(t, 2, body.Pagination.Pages)
	require.Len(t, body.Agents, 1)
	assert.Equal(t, "Agent 0", body.Agents[0]["displayName"])
}

func TestAccessControlOrdering(t *testing.T) {
	env := newTestEnv(t, limits{admin: 2})

	for range 5 {
		rr := env.do(t, http.MethodPost, "/api/agents", "", agentBody("X", "x", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		rr = env.do(t, http.MethodPost, "/api/agents", env.userToken, agentBody("X", "x", nil))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	}

	// Rejected callers did not consume the admin budget.
	rr := env.do(t, http.MethodGet, "/api/agents/nope", env.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = env.do(t, http.MethodGet, "/api/agents/nope", env.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = env.do(t, http.MethodGet, "/api/agents/nope", env.adminToken, nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// Non-admin routes are outside the admin tier.
	rr = env.do(t, http.MethodGet, "/api/agents", env.adminToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestEnv(t, limits{login: 3})

	// Two logins were spent by newTestEnv.
	rr := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "joe", "password": "bad"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "joe", "password": "joe-pw"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Contains(t, body["message"], "Too many login attempts")
	assert.NotNil(t, body["retryAfter"])

	// Other API routes keep working.
	rr = env.do(t, http.MethodGet, "/api/auth/me", env.userToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLoginRateLimitIgnoresForwardedFor(t *testing.T) {
	badLogin := func(env *testEnv, i int) int {
		body := bytes.NewBufferString(`{"username":"joe","password":"bad"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
		req.RemoteAddr = "192.0.2.1:1234"
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		return rr.Code
	}

	t.Run("untrusted", func(t *testing.T) {
		env := newTestEnv(t, limits{login: 3})
		codes := map[int]int{}
		for i := 0; i < 10; i++ {
			codes[badLogin(env, i)]++
		}
		// Two attempts were spent by newTestEnv from the same socket.
		assert.Equal(t, 1, codes[http.StatusUnauthorized])
		assert.Equal(t, 9, codes[http.StatusTooManyRequests])
	})

	t.Run("trusted", func(t *testing.T) {
		env := newTestEnv(t, limits{login: 3, trustProxy: true})
		for i := 0; i < 10; i++ {
			assert.Equal(t, http.StatusUnauthorized, badLogin(env, i), "attempt %d", i)
		}
	})
}

func TestAvailableProxiesUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(langgraph.APIKeyHeader) != "good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"assistant_id":"a-1","name":"Agent"}]`)
	}))
	defer upstream.Close()

	env := newTestEnv(t, limits{})

	rr := env.do(t, http.MethodPost, "/api/agents/available", env.adminToken, map[string]string{"apiUrl": upstream.URL, "apiKey": "good"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"assistant_id":"a-1","name":"Agent"}]`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/agents/available", env.adminToken, map[string]string{"apiUrl": upstream.URL, "apiKey": "bad"})
	assert.Equal(t, http.StatusBadGateway, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/agents/available", env.adminToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/agents/available", env.userToken, map[string]string{"apiUrl": upstream.URL})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHealthAndNotFound(t *testing.T) {
	env := newTestEnv(t, limits{})

	rr := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/nothing-here", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Not Found", decode[map[string]any](t, rr)["message"])
}
