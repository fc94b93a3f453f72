package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ammarakk/To-do-App-sub002/internal/domain"
	"github.com/ammarakk/To-do-App-sub002/internal/repository"
)

const sessionColumns = "id, user_id, refresh_token_hash, expires_at, revoked_at, created_at"

// SessionRepository implements repository.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new PostgreSQL-backed session repository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.RefreshTokenHash,
		s.ExpiresAt,
		s.RevokedAt,
		s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// GetByTokenHash retrieves a session by its refresh token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE refresh_token_hash = $1`

	var s domain.Session
	err := r.db.QueryRow(ctx, query, tokenHash).Scan(
		&s.ID,
		&s.UserID,
		&s.RefreshTokenHash,
		&s.ExpiresAt,
		&s.RevokedAt,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	return &s, nil
}

// Rotate exchanges the session identified by oldHash for next in a single
// transaction. The old row is locked with FOR UPDATE so a concurrent refresh
// with the same token blocks until this one commits, then sees a revoked row
// and is rejected.
//
// If the old session is already revoked the token is being replayed, which
// means it leaked. Every live session of that user is revoked before the
// rejection is returned, so the holder of the stolen lineage is cut off too.
func (r *SessionRepository) Rotate(ctx context.Context, oldHash string, next *domain.Session) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotate: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE refresh_token_hash = $1
		FOR UPDATE`

	var old domain.Session
	err = tx.QueryRow(ctx, query, oldHash).Scan(
		&old.ID,
		&old.UserID,
		&old.RefreshTokenHash,
		&old.ExpiresAt,
		&old.RevokedAt,
		&old.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrSessionRejected
		}
		return fmt.Errorf("lock session: %w", err)
	}

	now := time.Now().UTC()

	if old.RevokedAt != nil {
		_, err = tx.Exec(ctx,
			`UPDATE sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`,
			now, old.UserID,
		)
		if err != nil {
			return fmt.Errorf("revoke sessions on token reuse: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit reuse revocation: %w", err)
		}
		return repository.ErrSessionRejected
	}

	if !now.Before(old.ExpiresAt) {
		return repository.ErrSessionRejected
	}

	_, err = tx.Exec(ctx, `UPDATE sessions SET revoked_at = $1 WHERE id = $2`, now, old.ID)
	if err != nil {
		return fmt.Errorf("revoke rotated session: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		next.ID,
		next.UserID,
		next.RefreshTokenHash,
		next.ExpiresAt,
		next.RevokedAt,
		next.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rotated session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotate: %w", err)
	}

	return nil
}

// RevokeAllByUserID revokes every live session of the given user and
// returns how many were revoked. Already-revoked rows match nothing, so a
// repeated call succeeds with a count of zero.
func (r *SessionRepository) RevokeAllByUserID(ctx context.Context, userID string) (int64, error) {
	ct, err := r.db.Exec(ctx,
		`UPDATE sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`,
		time.Now().UTC(), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}

	return ct.RowsAffected(), nil
}
