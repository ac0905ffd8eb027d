package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/patternvault/backend/shared/apperrors"
	"github.com/patternvault/backend/shared/database"
	"github.com/patternvault/backend/shared/models"
	sharedredis "github.com/patternvault/backend/shared/redis"
)

const userViewKeyPrefix = "user:view:"

// UserReadRepository serves user views. Redis is the read model when
// configured; PostgreSQL is the fallback and warms the cache on every cold
// read. A nil cache means PostgreSQL only.
type UserReadRepository struct {
	db    database.DBTX
	cache *sharedredis.ViewCache[models.UserView]
}

func NewUserReadRepository(db database.DBTX, cache *sharedredis.ViewCache[models.UserView]) *UserReadRepository {
	return &UserReadRepository{db: db, cache: cache}
}

// GetActiveView returns the view of an active user or ErrNotFound.
// Cached views are only written for active users, and nothing in this
// system deactivates a user.
func (r *UserReadRepository) GetActiveView(ctx context.Context, id int64) (*models.UserView, error) {
	if r.cache != nil {
		if view, ok := r.cache.Get(ctx, userViewKey(id)); ok {
			return view, nil
		}
	}

	query := `
		SELECT id, username, email, date_joined
		FROM users
		WHERE id = $1 AND is_active
	`
	var view models.UserView
	err := r.db.QueryRowContext(ctx, query, id).Scan(&view.ID, &view.Username, &view.Email, &view.DateJoined)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	r.CacheUserView(ctx, &view)
	return &view, nil
}

// CacheUserView stores or refreshes the read model for a user.
func (r *UserReadRepository) CacheUserView(ctx context.Context, view *models.UserView) {
	if r.cache == nil {
		return
	}
	r.cache.Set(ctx, userViewKey(view.ID), view)
}

func userViewKey(id int64) string {
	return userViewKeyPrefix + strconv.FormatInt(id, 10)
}
