package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammarakk/To-do-App-sub002/internal/domain"
)

// fakeAuthServer mimics the auth service wire format: bearer-guarded /me,
// single-use refresh tokens, enveloped JSON responses.
type fakeAuthServer struct {
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	refreshCalls int
	refreshDelay time.Duration

	server *httptest.Server
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()
	f := &fakeAuthServer{
		accessToken:  "access-0",
		refreshToken: "refresh-0",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", f.handleLogin)
	mux.HandleFunc("/api/v1/auth/refresh", f.handleRefresh)
	mux.HandleFunc("/api/v1/auth/logout", f.handleLogout)
	mux.HandleFunc("/api/v1/auth/me", f.handleMe)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAuthServer) currentTokens() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accessToken, f.refreshToken
}

func (f *fakeAuthServer) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": code},
	})
}

func (f *fakeAuthServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.Password != "SecurePass123" {
		writeError(w, http.StatusUnauthorized, "AUTHENTICATION_FAILED")
		return
	}

	access, refresh := f.currentTokens()
	writeData(w, http.StatusOK, map[string]any{
		"user": &domain.User{ID: "u-1", Email: req.Email, Role: domain.RoleUser},
		"tokens": map[string]any{
			"access_token":  access,
			"refresh_token": refresh,
			"token_type":    "bearer",
			"expires_in":    900,
		},
	})
}

func (f *fakeAuthServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.refreshCalls++
	delay := f.refreshDelay
	valid := req.RefreshToken == f.refreshToken
	if valid {
		// Single use: rotate both tokens.
		f.accessToken = "access-" + req.RefreshToken
		f.refreshToken = "rotated-" + req.RefreshToken
	}
	access, refresh := f.accessToken, f.refreshToken
	f.mu.Unlock()

	time.Sleep(delay)

	if !valid {
		writeError(w, http.StatusUnauthorized, "AUTHENTICATION_FAILED")
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    900,
	})
}

func (f *fakeAuthServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (f *fakeAuthServer) handleMe(w http.ResponseWriter, r *http.Request) {
	access, _ := f.currentTokens()
	if r.Header.Get("Authorization") != "Bearer "+access {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED")
		return
	}
	writeData(w, http.StatusOK, &domain.User{ID: "u-1", Email: "alice@example.com", Role: domain.RoleUser})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Tests ---

func TestClient_LoginThenMe(t *testing.T) {
	f := newFakeAuthServer(t)
	c := New(f.server.URL, NewMemoryStore(), testLogger())

	assert.Equal(t, StateAnonymous, c.State())

	user, err := c.Login(context.Background(), "alice@example.com", "SecurePass123")
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, StateAuthenticated, c.State())

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", me.Email)
	assert.Zero(t, f.refreshCount())
}

func TestClient_LoginFailure(t *testing.T) {
	f := newFakeAuthServer(t)
	c := New(f.server.URL, NewMemoryStore(), testLogger())

	_, err := c.Login(context.Background(), "alice@example.com", "WrongPass999")
	require.Error(t, err)
	assert.Equal(t, StateAnonymous, c.State())
}

func TestClient_AnonymousRequestIsRejectedLocally(t *testing.T) {
	f := newFakeAuthServer(t)
	c := New(f.server.URL, NewMemoryStore(), testLogger())

	_, err := c.Me(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginRequired)

	var lre *LoginRequiredError
	require.ErrorAs(t, err, &lre)
	assert.Equal(t, "/api/v1/auth/me", lre.Destination)
}

func TestClient_RefreshesOnceOn401(t *testing.T) {
	f := newFakeAuthServer(t)
	store := NewMemoryStore()
	// Stale access token, live refresh token.
	require.NoError(t, store.Save(Tokens{AccessToken: "stale", RefreshToken: "refresh-0"}))

	c := New(f.server.URL, store, testLogger())

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", me.Email)
	assert.Equal(t, 1, f.refreshCount())

	// The rotated pair is now in the store.
	tokens, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-refresh-0", tokens.AccessToken)
	assert.Equal(t, "rotated-refresh-0", tokens.RefreshToken)
}

func TestClient_ConcurrentRequestsShareOneRefresh(t *testing.T) {
	f := newFakeAuthServer(t)
	f.refreshDelay = 100 * time.Millisecond

	store := NewMemoryStore()
	require.NoError(t, store.Save(Tokens{AccessToken: "stale", RefreshToken: "refresh-0"}))
	c := New(f.server.URL, store, testLogger())

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Me(context.Background())
		}(i)
	}
	wg.Wait()

	// The refresh token is single use server-side, so a second exchange
	// would have failed: every caller succeeding proves they shared one.
	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
	assert.Equal(t, 1, f.refreshCount())
}

func TestClient_FailedRefreshClearsStateUniformly(t *testing.T) {
	f := newFakeAuthServer(t)
	store := NewMemoryStore()
	// Both tokens are garbage: the 401 triggers a refresh that also fails.
	require.NoError(t, store.Save(Tokens{AccessToken: "stale", RefreshToken: "bogus"}))
	c := New(f.server.URL, store, testLogger())

	_, err := c.Me(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginRequired)
	assert.Equal(t, StateAnonymous, c.State())

	tokens, loadErr := store.Load()
	require.NoError(t, loadErr)
	assert.True(t, tokens.Empty())

	// Subsequent requests fail the same way without touching the network.
	before := f.refreshCount()
	_, err = c.Me(context.Background())
	assert.ErrorIs(t, err, ErrLoginRequired)
	assert.Equal(t, before, f.refreshCount())
}

func TestClient_LogoutClearsLocalState(t *testing.T) {
	f := newFakeAuthServer(t)
	store := NewMemoryStore()
	require.NoError(t, store.Save(Tokens{AccessToken: "access-0", RefreshToken: "refresh-0"}))
	c := New(f.server.URL, store, testLogger())

	require.NoError(t, c.Logout(context.Background()))

	assert.Equal(t, StateAnonymous, c.State())
	tokens, err := store.Load()
	require.NoError(t, err)
	assert.True(t, tokens.Empty())
}

func TestLoginRequiredError_Unwrap(t *testing.T) {
	err := &LoginRequiredError{Destination: "/todos"}
	assert.True(t, errors.Is(err, ErrLoginRequired))
	assert.Contains(t, err.Error(), "/todos")
}
