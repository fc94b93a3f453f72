package repository

import (
	"context"
	"errors"

	"github.com/ammarakk/To-do-App-sub002/internal/domain"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when a user insert hits the unique
	// email constraint.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrSessionRejected is returned by Rotate when the presented refresh
	// token hash does not map to a live session: unknown, expired, revoked,
	// or already rotated. Reuse of a revoked token additionally revokes the
	// user's other sessions before this error is returned.
	ErrSessionRejected = errors.New("session rejected")
)

// UserRepository persists user accounts.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// SessionRepository persists refresh sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	// Rotate atomically retires the session identified by oldHash and
	// records next in its place. The whole exchange happens in one
	// transaction so two concurrent refreshes with the same token cannot
	// both succeed.
	Rotate(ctx context.Context, oldHash string, next *domain.Session) error
	// RevokeAllByUserID marks every live session of the user as revoked and
	// returns how many it touched. Calling it again is a no-op.
	RevokeAllByUserID(ctx context.Context, userID string) (int64, error)
}
