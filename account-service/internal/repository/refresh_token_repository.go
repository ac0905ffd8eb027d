package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/patternvault/backend/shared/apperrors"
	"github.com/patternvault/backend/shared/database"
)

// RefreshTokenRepository records issued refresh credentials so they can be
// revoked before they expire.
type RefreshTokenRepository struct {
	db database.DBTX
}

func NewRefreshTokenRepository(db database.DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Store(ctx context.Context, jti string, userID int64, expiresAt time.Time) error {
	query := `INSERT INTO refresh_tokens (jti, user_id, expires_at) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, jti, userID, expiresAt.UTC()); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// IsActive reports whether jti belongs to userID, is unexpired and
// unrevoked, and the user is still active.
func (r *RefreshTokenRepository) IsActive(ctx context.Context, jti string, userID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM refresh_tokens rt
			JOIN users u ON u.id = rt.user_id
			WHERE rt.jti = $1 AND rt.user_id = $2
			  AND rt.revoked_at IS NULL AND rt.expires_at > NOW()
			  AND u.is_active
		)
	`
	var active bool
	if err := r.db.QueryRowContext(ctx, query, jti, userID).Scan(&active); err != nil {
		return false, fmt.Errorf("failed to look up refresh token: %w", err)
	}
	return active, nil
}

// Revoke marks an active refresh token as revoked. Unknown, foreign, expired
// or already revoked tokens yield ErrInvalidToken.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, jti string, userID int64) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = NOW()
		WHERE jti = $1 AND user_id = $2 AND revoked_at IS NULL AND expires_at > NOW()
	`
	result, err := r.db.ExecContext(ctx, query, jti, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.ErrInvalidToken
	}
	return nil
}

// DeleteExpired prunes tokens that can no longer be used.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune refresh tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}
