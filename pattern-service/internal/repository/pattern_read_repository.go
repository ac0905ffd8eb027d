package repository

import (
	"context"
	"fmt"

	"github.com/patternvault/backend/shared/cqrs"
	"github.com/patternvault/backend/shared/database"
	"github.com/patternvault/backend/shared/models"
)

// PatternReadRepository serves owner-scoped pattern listings from PostgreSQL.
type PatternReadRepository struct {
	db database.DBTX
}

func NewPatternReadRepository(db database.DBTX) *PatternReadRepository {
	return &PatternReadRepository{db: db}
}

// List returns one page of the owner's patterns, newest first, and the total
// number of matching rows.
func (r *PatternReadRepository) List(ctx context.Context, q cqrs.ListPatternsQuery) ([]models.PatternView, int, error) {
	filter := `p.user_id = $1`
	if q.FavoritesOnly {
		filter += ` AND p.is_favorite`
	}

	var count int
	countQuery := `SELECT COUNT(*) FROM patterns p WHERE ` + filter
	if err := r.db.QueryRowContext(ctx, countQuery, q.UserID).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("failed to count patterns: %w", err)
	}
	if count == 0 || q.Offset >= count {
		return []models.PatternView{}, count, nil
	}

	query := `
		SELECT ` + patternColumns + `
		FROM patterns p
		JOIN users u ON u.id = p.user_id
		WHERE ` + filter + `
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, q.UserID, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	views := make([]models.PatternView, 0, q.Limit)
	for rows.Next() {
		view, err := scanPattern(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan pattern: %w", err)
		}
		views = append(views, *view)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list patterns: %w", err)
	}
	return views, count, nil
}
