package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ammarakk/To-do-App-sub002/internal/auth"
	"github.com/ammarakk/To-do-App-sub002/internal/domain"
	"github.com/ammarakk/To-do-App-sub002/internal/repository"
	apperrors "github.com/ammarakk/To-do-App-sub002/pkg/errors"
)

const (
	minPasswordLength = 8
	// bcrypt silently truncates beyond 72 bytes, so reject longer input.
	maxPasswordLength = 72

	// Upper bound on any single session ledger round trip.
	ledgerTimeout = 5 * time.Second
)

// EventPublisher emits auth lifecycle events. Implementations must be best
// effort and never block the request path on broker failures.
type EventPublisher interface {
	UserRegistered(ctx context.Context, user *domain.User)
	UserLoggedIn(ctx context.Context, user *domain.User)
	SessionsRevoked(ctx context.Context, userID string, count int64, reason string)
}

// AuthService implements signup, login, token refresh and logout.
type AuthService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	codec    *auth.TokenCodec
	hasher   *auth.PasswordHasher
	events   EventPublisher
	logger   *slog.Logger
}

// NewAuthService creates the auth service.
func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	codec *auth.TokenCodec,
	hasher *auth.PasswordHasher,
	events EventPublisher,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		codec:    codec,
		hasher:   hasher,
		events:   events,
		logger:   logger,
	}
}

// Signup registers a new account and logs it in, returning the created user
// and a fresh token pair.
func (s *AuthService) Signup(ctx context.Context, email, password string) (*domain.User, *domain.TokenPair, error) {
	email = domain.NormalizeEmail(email)

	if err := validatePassword(password); err != nil {
		return nil, nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	lctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	if err := s.users.Create(lctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, nil, apperrors.Conflict("user", "email", email)
		}
		return nil, nil, apperrors.Internal(fmt.Errorf("create user: %w", err))
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	s.events.UserRegistered(ctx, user)
	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", user.ID))

	return user, pair, nil
}

// Login verifies credentials and returns the user with a fresh token pair.
// Unknown email and wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, *domain.TokenPair, error) {
	email = domain.NormalizeEmail(email)

	lctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	user, err := s.users.GetByEmail(lctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperrors.AuthenticationFailed()
		}
		return nil, nil, apperrors.Internal(fmt.Errorf("get user by email: %w", err))
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, nil, apperrors.AuthenticationFailed()
		}
		return nil, nil, apperrors.Internal(err)
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	s.events.UserLoggedIn(ctx, user)
	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))

	return user, pair, nil
}

// Refresh exchanges a valid refresh token for a new token pair, retiring the
// presented token in the same transaction. Replaying a retired token revokes
// every session of the user; the caller sees the same generic rejection
// either way.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.codec.ParseRefresh(refreshToken)
	if err != nil {
		return nil, apperrors.AuthenticationFailed()
	}

	lctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	user, err := s.users.GetByID(lctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.AuthenticationFailed()
		}
		return nil, apperrors.Internal(fmt.Errorf("get user by id: %w", err))
	}

	sessionID := uuid.New().String()
	newRefresh, refreshExpiry, err := s.codec.IssueRefresh(user.ID, sessionID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	next := &domain.Session{
		ID:               sessionID,
		UserID:           user.ID,
		RefreshTokenHash: auth.HashToken(newRefresh),
		ExpiresAt:        refreshExpiry,
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.sessions.Rotate(lctx, auth.HashToken(refreshToken), next); err != nil {
		if errors.Is(err, repository.ErrSessionRejected) {
			s.logger.WarnContext(ctx, "refresh token rejected",
				slog.String("user_id", user.ID),
				slog.String("session_id", claims.SessionID),
			)
			return nil, apperrors.AuthenticationFailed()
		}
		return nil, apperrors.Internal(fmt.Errorf("rotate session: %w", err))
	}

	accessToken, _, err := s.codec.IssueAccess(user.ID, user.Role)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
	}, nil
}

// Logout revokes every session of the user behind the presented refresh
// token, signing the account out on all devices at once. It is idempotent:
// unknown, expired or already-revoked tokens succeed quietly so a client can
// always clear its state.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.codec.ParseRefresh(refreshToken)
	if err != nil {
		return nil
	}

	lctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	n, err := s.sessions.RevokeAllByUserID(lctx, claims.UserID)
	if err != nil {
		return apperrors.Internal(fmt.Errorf("revoke sessions: %w", err))
	}

	if n > 0 {
		s.events.SessionsRevoked(ctx, claims.UserID, n, "logout")
	}
	s.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", claims.UserID),
		slog.Int64("sessions_revoked", n),
	)

	return nil
}

// RevokeAllSessions force-logs-out the user everywhere.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	lctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	n, err := s.sessions.RevokeAllByUserID(lctx, userID)
	if err != nil {
		return 0, apperrors.Internal(fmt.Errorf("revoke all sessions: %w", err))
	}

	if n > 0 {
		s.events.SessionsRevoked(ctx, userID, n, "user_requested")
	}

	return n, nil
}

// Profile returns the account behind an authenticated user ID.
func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	lctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	user, err := s.users.GetByID(lctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Token is valid but the account is gone.
			return nil, apperrors.AuthenticationFailed()
		}
		return nil, apperrors.Internal(fmt.Errorf("get user by id: %w", err))
	}

	return user, nil
}

// issueTokens opens a new session for the user and mints the matching pair.
func (s *AuthService) issueTokens(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	sessionID := uuid.New().String()

	refreshToken, refreshExpiry, err := s.codec.IssueRefresh(user.ID, sessionID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	session := &domain.Session{
		ID:               sessionID,
		UserID:           user.ID,
		RefreshTokenHash: auth.HashToken(refreshToken),
		ExpiresAt:        refreshExpiry,
		CreatedAt:        time.Now().UTC(),
	}

	lctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	if err := s.sessions.Create(lctx, session); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("create session: %w", err))
	}

	accessToken, _, err := s.codec.IssueAccess(user.ID, user.Role)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
	}, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.ValidationFields(map[string]string{
			"password": fmt.Sprintf("must be at least %d characters", minPasswordLength),
		})
	}
	if len(password) > maxPasswordLength {
		return apperrors.ValidationFields(map[string]string{
			"password": fmt.Sprintf("must be at most %d characters", maxPasswordLength),
		})
	}
	return nil
}
