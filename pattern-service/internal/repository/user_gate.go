package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/patternvault/backend/shared/database"
)

// UserGate answers whether a token's user may still act.
type UserGate struct {
	db database.DBTX
}

func NewUserGate(db database.DBTX) *UserGate {
	return &UserGate{db: db}
}

func (g *UserGate) IsActive(ctx context.Context, userID int64) (bool, error) {
	var active bool
	err := g.db.QueryRowContext(ctx, `SELECT is_active FROM users WHERE id = $1`, userID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return active, nil
}
