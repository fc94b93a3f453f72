package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/ammarakk/To-do-App-sub002/internal/domain"
	"github.com/ammarakk/To-do-App-sub002/pkg/httpclient"
)

// State describes what the client currently holds.
type State int32

const (
	// StateAnonymous means no credentials are stored.
	StateAnonymous State = iota
	// StateAuthenticated means a token pair is stored.
	StateAuthenticated
	// StateRefreshing means a refresh exchange is in flight.
	StateRefreshing
)

// ErrLoginRequired is the terminal authentication failure: the stored
// credentials are gone or unusable and only a fresh login can recover.
var ErrLoginRequired = errors.New("login required")

// LoginRequiredError carries the request destination that triggered the
// failure so a UI can return the user there after login. It unwraps to
// ErrLoginRequired.
type LoginRequiredError struct {
	Destination string
}

func (e *LoginRequiredError) Error() string {
	if e.Destination == "" {
		return "login required"
	}
	return fmt.Sprintf("login required (requested %s)", e.Destination)
}

func (e *LoginRequiredError) Unwrap() error {
	return ErrLoginRequired
}

// Client is an authenticated HTTP client for the auth service. It attaches
// the stored access token to outgoing requests and transparently refreshes
// it once when the server answers 401. Concurrent 401s collapse into a
// single refresh exchange; refresh tokens are single-use on the server, so
// firing more than one would log the user out.
type Client struct {
	baseURL string
	http    *httpclient.Client
	store   TokenStore
	logger  *slog.Logger

	group singleflight.Group
	state atomic.Int32
}

// New creates a client for the auth service at baseURL.
func New(baseURL string, store TokenStore, logger *slog.Logger) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    httpclient.New(httpclient.DefaultConfig()),
		store:   store,
		logger:  logger,
	}
	if t, err := store.Load(); err == nil && !t.Empty() {
		c.state.Store(int32(StateAuthenticated))
	}
	return c
}

// State reports the client's current credential state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// --- Auth operations ---

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPairPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type authPayload struct {
	User   *domain.User     `json:"user"`
	Tokens tokenPairPayload `json:"tokens"`
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Signup registers a new account and stores the returned tokens.
func (c *Client) Signup(ctx context.Context, email, password string) (*domain.User, error) {
	return c.authenticate(ctx, "/api/v1/auth/signup", email, password)
}

// Login exchanges credentials for tokens and stores them.
func (c *Client) Login(ctx context.Context, email, password string) (*domain.User, error) {
	return c.authenticate(ctx, "/api/v1/auth/login", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (*domain.User, error) {
	var payload authPayload
	err := c.postJSON(ctx, path, credentialsRequest{Email: email, Password: password}, &payload)
	if err != nil {
		return nil, err
	}

	if err := c.store.Save(Tokens{
		AccessToken:  payload.Tokens.AccessToken,
		RefreshToken: payload.Tokens.RefreshToken,
	}); err != nil {
		return nil, fmt.Errorf("save tokens: %w", err)
	}
	c.state.Store(int32(StateAuthenticated))

	return payload.User, nil
}

// Logout revokes the stored session server-side and clears local state.
// Local state is cleared even if the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	tokens, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}

	defer func() {
		_ = c.store.Clear()
		c.state.Store(int32(StateAnonymous))
	}()

	if tokens.RefreshToken == "" {
		return nil
	}

	return c.postJSON(ctx, "/api/v1/auth/logout", refreshRequest{RefreshToken: tokens.RefreshToken}, nil)
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/auth/me", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp.StatusCode, &env)
	}

	var user domain.User
	if err := json.Unmarshal(env.Data, &user); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &user, nil
}

// --- Authenticated transport ---

// Do sends the request with the stored access token attached. On a 401 it
// performs one refresh and retries the request once; if the refresh fails
// the stored tokens are cleared and a LoginRequiredError is returned.
// Requests with a body must have GetBody set so the retry can rewind it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	tokens, err := c.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	if tokens.Empty() {
		return nil, &LoginRequiredError{Destination: req.URL.Path}
	}

	resp, err := c.send(req, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Access token rejected; discard the response and refresh.
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	accessToken, err := c.refresh(req.Context())
	if err != nil {
		return nil, &LoginRequiredError{Destination: req.URL.Path}
	}

	return c.send(req, accessToken)
}

func (c *Client) send(req *http.Request, accessToken string) (*http.Response, error) {
	r := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		r.Body = body
	}
	r.Header.Set("Authorization", "Bearer "+accessToken)
	return c.http.Do(r.Context(), r)
}

// refresh exchanges the stored refresh token for a new pair. Concurrent
// callers share one in-flight exchange through the singleflight group.
func (c *Client) refresh(ctx context.Context) (string, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		c.state.Store(int32(StateRefreshing))

		tokens, err := c.store.Load()
		if err != nil {
			return nil, fmt.Errorf("load tokens: %w", err)
		}
		if tokens.RefreshToken == "" {
			c.clearAuth(ctx)
			return nil, ErrLoginRequired
		}

		var payload tokenPairPayload
		err = c.postJSON(ctx, "/api/v1/auth/refresh", refreshRequest{RefreshToken: tokens.RefreshToken}, &payload)
		if err != nil {
			// Whatever the cause, the stored pair is no longer trustworthy.
			c.clearAuth(ctx)
			return nil, ErrLoginRequired
		}

		if err := c.store.Save(Tokens{
			AccessToken:  payload.AccessToken,
			RefreshToken: payload.RefreshToken,
		}); err != nil {
			c.clearAuth(ctx)
			return nil, fmt.Errorf("save tokens: %w", err)
		}

		c.state.Store(int32(StateAuthenticated))
		return payload.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) clearAuth(ctx context.Context) {
	_ = c.store.Clear()
	c.state.Store(int32(StateAnonymous))
	c.logger.WarnContext(ctx, "session no longer valid, login required")
}

// postJSON posts body to path and decodes the envelope's data into out when
// out is non-nil.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp.StatusCode, &env)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}

	return nil
}

func responseError(status int, env *envelope) error {
	if env.Error != nil {
		return fmt.Errorf("server returned %d: %s: %s", status, env.Error.Code, env.Error.Message)
	}
	return fmt.Errorf("server returned %d", status)
}
