package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ammarakk/To-do-App-sub002/internal/auth"
	"github.com/ammarakk/To-do-App-sub002/internal/domain"
	"github.com/ammarakk/To-do-App-sub002/internal/repository"
	apperrors "github.com/ammarakk/To-do-App-sub002/pkg/errors"
)

// --- Mock User Repository ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

// --- Mock Session Repository ---

type mockSessionRepository struct {
	mock.Mock
}

func (m *mockSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *mockSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *mockSessionRepository) Rotate(ctx context.Context, oldHash string, next *domain.Session) error {
	args := m.Called(ctx, oldHash, next)
	return args.Error(0)
}

func (m *mockSessionRepository) RevokeAllByUserID(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

// --- Fake Event Publisher ---

type recordingPublisher struct {
	mu            sync.Mutex
	registered    []string
	loggedIn      []string
	revoked       []string
	revokedCounts []int64
}

func (p *recordingPublisher) UserRegistered(_ context.Context, user *domain.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, user.ID)
}

func (p *recordingPublisher) UserLoggedIn(_ context.Context, user *domain.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loggedIn = append(p.loggedIn, user.ID)
}

func (p *recordingPublisher) SessionsRevoked(_ context.Context, userID string, count int64, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, userID)
	p.revokedCounts = append(p.revokedCounts, count)
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCodec() *auth.TokenCodec {
	return auth.NewTokenCodec("test-secret-key-for-testing", "auth", 15*time.Minute, 7*24*time.Hour)
}

func newTestService(users *mockUserRepository, sessions *mockSessionRepository) (*AuthService, *recordingPublisher) {
	events := &recordingPublisher{}
	svc := NewAuthService(
		users,
		sessions,
		newTestCodec(),
		auth.NewPasswordHasher(bcrypt.MinCost),
		events,
		newTestLogger(),
	)
	return svc, events
}

// hashForTest creates a bcrypt hash with cost 4 for fast tests.
func hashForTest(password string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(password), 4)
	if err != nil {
		panic(err)
	}
	return string(h)
}

func sampleUser() *domain.User {
	now := time.Now().UTC()
	return &domain.User{
		ID:           "u-1234",
		Email:        "alice@example.com",
		PasswordHash: hashForTest("SecurePass123"),
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// --- Signup Tests ---

func TestSignup_Success(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, events := newTestService(users, sessions)

	users.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).Return(nil)
	sessions.On("Create", mock.Anything, mock.AnythingOfType("*domain.Session")).Return(nil)

	user, tokens, err := svc.Signup(context.Background(), "Alice@Example.com ", "SecurePass123")

	require.NoError(t, err)
	require.NotNil(t, user)
	require.NotNil(t, tokens)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, "bearer", tokens.TokenType)
	assert.Equal(t, int64(900), tokens.ExpiresIn)
	assert.Equal(t, []string{user.ID}, events.registered)

	users.AssertExpectations(t)
	sessions.AssertExpectations(t)
}

func TestSignup_DuplicateEmail(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, _ := newTestService(users, sessions)

	users.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).
		Return(repository.ErrDuplicateEmail)

	user, tokens, err := svc.Signup(context.Background(), "alice@example.com", "SecurePass123")

	assert.Nil(t, user)
	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	users.AssertExpectations(t)
}

func TestSignup_PasswordTooShort(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, _ := newTestService(users, sessions)

	user, tokens, err := svc.Signup(context.Background(), "alice@example.com", "short")

	assert.Nil(t, user)
	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// --- Login Tests ---

func TestLogin_Success(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, events := newTestService(users, sessions)

	u := sampleUser()
	users.On("GetByEmail", mock.Anything, u.Email).Return(u, nil)
	sessions.On("Create", mock.Anything, mock.AnythingOfType("*domain.Session")).Return(nil)

	user, tokens, err := svc.Login(context.Background(), u.Email, "SecurePass123")

	require.NoError(t, err)
	assert.Equal(t, u.ID, user.ID)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, []string{u.ID}, events.loggedIn)

	users.AssertExpectations(t)
	sessions.AssertExpectations(t)
}

func TestLogin_WrongPassword(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, _ := newTestService(users, sessions)

	u := sampleUser()
	users.On("GetByEmail", mock.Anything, u.Email).Return(u, nil)

	user, tokens, err := svc.Login(context.Background(), u.Email, "WrongPass999")

	assert.Nil(t, user)
	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, apperrors.ErrAuthentication)
}

func TestLogin_UnknownEmail(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, _ := newTestService(users, sessions)

	users.On("GetByEmail", mock.Anything, "nobody@example.com").
		Return(nil, repository.ErrNotFound)

	_, _, err := svc.Login(context.Background(), "nobody@example.com", "SecurePass123")

	// Unknown email and wrong password produce the same error.
	assert.ErrorIs(t, err, apperrors.ErrAuthentication)
}

// --- Refresh Tests ---

func issueRefreshForTest(t *testing.T, svc *AuthService, user *domain.User) string {
	t.Helper()
	token, _, err := svc.codec.IssueRefresh(user.ID, "session-1")
	require.NoError(t, err)
	return token
}

func TestRefresh_Success(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, _ := newTestService(users, sessions)

	u := sampleUser()
	refreshToken := issueRefreshForTest(t, svc, u)

	users.On("GetByID", mock.Anything, u.ID).Return(u, nil)
	sessions.On("Rotate", mock.Anything, auth.HashToken(refreshToken), mock.AnythingOfType("*domain.Session")).
		Return(nil)

	tokens, err := svc.Refresh(context.Background(), refreshToken)

	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.NotEqual(t, refreshToken, tokens.RefreshToken)

	users.AssertExpectations(t)
	sessions.AssertExpectations(t)
}

func TestRefresh_RejectedSession(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, _ := newTestService(users, sessions)

	u := sampleUser()
	refreshToken := issueRefreshForTest(t, svc, u)

	users.On("GetByID", mock.Anything, u.ID).Return(u, nil)
	sessions.On("Rotate", mock.Anything, auth.HashToken(refreshToken), mock.AnythingOfType("*domain.Session")).
		Return(repository.ErrSessionRejected)

	tokens, err := svc.Refresh(context.Background(), refreshToken)

	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, apperrors.ErrAuthentication)
}

func TestRefresh_GarbageToken(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, _ := newTestService(users, sessions)

	tokens, err := svc.Refresh(context.Background(), "not-a-jwt")

	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, apperrors.ErrAuthentication)
	sessions.AssertNotCalled(t, "Rotate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefresh_AccessTokenRejected(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, _ := newTestService(users, sessions)

	u := sampleUser()
	accessToken, _, err := svc.codec.IssueAccess(u.ID, u.Role)
	require.NoError(t, err)

	// An access token must not be usable at the refresh endpoint.
	tokens, err := svc.Refresh(context.Background(), accessToken)

	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, apperrors.ErrAuthentication)
}

// --- Logout Tests ---

func TestLogout_RevokesAllUserSessions(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, events := newTestService(users, sessions)

	u := sampleUser()
	refreshToken := issueRefreshForTest(t, svc, u)

	// One refresh token signs the account out of every session it owns.
	sessions.On("RevokeAllByUserID", mock.Anything, u.ID).Return(int64(2), nil)

	err := svc.Logout(context.Background(), refreshToken)

	require.NoError(t, err)
	assert.Equal(t, []string{u.ID}, events.revoked)
	assert.Equal(t, []int64{2}, events.revokedCounts)
	sessions.AssertExpectations(t)
}

func TestLogout_InvalidTokenIsIdempotent(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, _ := newTestService(users, sessions)

	err := svc.Logout(context.Background(), "not-a-jwt")

	assert.NoError(t, err)
	sessions.AssertNotCalled(t, "RevokeAllByUserID", mock.Anything, mock.Anything)
}

func TestLogout_NoLiveSessionsEmitsNoEvent(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, events := newTestService(users, sessions)

	u := sampleUser()
	refreshToken := issueRefreshForTest(t, svc, u)

	sessions.On("RevokeAllByUserID", mock.Anything, u.ID).Return(int64(0), nil)

	err := svc.Logout(context.Background(), refreshToken)

	require.NoError(t, err)
	assert.Empty(t, events.revoked)
}

// --- Profile Tests ---

func TestProfile_Success(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, _ := newTestService(users, sessions)

	u := sampleUser()
	users.On("GetByID", mock.Anything, u.ID).Return(u, nil)

	got, err := svc.Profile(context.Background(), u.ID)

	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)
}

func TestProfile_DeletedAccount(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, _ := newTestService(users, sessions)

	users.On("GetByID", mock.Anything, "gone").Return(nil, repository.ErrNotFound)

	_, err := svc.Profile(context.Background(), "gone")

	assert.ErrorIs(t, err, apperrors.ErrAuthentication)
}

// --- RevokeAllSessions Tests ---

func TestRevokeAllSessions(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, events := newTestService(users, sessions)

	sessions.On("RevokeAllByUserID", mock.Anything, "u-1234").Return(int64(3), nil)

	n, err := svc.RevokeAllSessions(context.Background(), "u-1234")

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, []string{"u-1234"}, events.revoked)
}

func TestRevokeAllSessions_RepoFailure(t *testing.T) {
	users := new(mockUserRepository)
	sessions := new(mockSessionRepository)
	svc, _ := newTestService(users, sessions)

	sessions.On("RevokeAllByUserID", mock.Anything, "u-1234").
		Return(int64(0), errors.New("connection reset"))

	_, err := svc.RevokeAllSessions(context.Background(), "u-1234")

	require.Error(t, err)
	assert.Equal(t, 500, apperrors.HTTPStatus(err))
}
