package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/patternvault/backend/shared/apperrors"
	"github.com/patternvault/backend/shared/cqrs"
	"github.com/patternvault/backend/shared/database"
	"github.com/patternvault/backend/shared/models"
)

// patternColumns selects a pattern joined with its owner's username.
// p is patterns, u is users.
const patternColumns = `p.id, p.user_id, u.username, p.image, p.name, p.size, p.description, p.is_favorite, p.created_at, p.updated_at`

const foreignKeyViolation = "23503"

// PatternWriteRepository handles the state-mutating statements for patterns.
// Every statement that touches an existing row filters on both id and owner,
// so rows owned by someone else behave exactly like missing rows.
type PatternWriteRepository struct {
	db database.DBTX
}

func NewPatternWriteRepository(db database.DBTX) *PatternWriteRepository {
	return &PatternWriteRepository{db: db}
}

// Create inserts the row and returns it joined with the owner's username in
// the same statement.
func (r *PatternWriteRepository) Create(ctx context.Context, p *models.Pattern) (*models.PatternView, error) {
	query := `
		WITH p AS (
			INSERT INTO patterns (user_id, image, name, size, description, is_favorite)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING *
		)
		SELECT ` + patternColumns + `
		FROM p
		JOIN users u ON u.id = p.user_id
	`
	view, err := scanPattern(r.db.QueryRowContext(ctx, query,
		p.UserID, p.Image, p.Name, p.Size, p.Description, p.IsFavorite,
	))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return nil, apperrors.ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to create pattern: %w", err)
	}
	return view, nil
}

// Update applies the supplied fields and always bumps updated_at. A pattern
// that does not exist or belongs to someone else yields ErrNotFound.
func (r *PatternWriteRepository) Update(ctx context.Context, cmd cqrs.UpdatePatternCommand) (*models.PatternView, error) {
	args := []any{cmd.PatternID, cmd.UserID}
	var sets []string
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if cmd.Name != nil {
		set("name", *cmd.Name)
	}
	if cmd.Description != nil {
		set("description", *cmd.Description)
	} else if cmd.ClearDescription {
		sets = append(sets, "description = NULL")
	}
	if cmd.Size != nil {
		set("size", *cmd.Size)
	}
	if cmd.IsFavorite != nil {
		set("is_favorite", *cmd.IsFavorite)
	}
	sets = append(sets, "updated_at = NOW()")

	query := `
		UPDATE patterns p
		SET ` + strings.Join(sets, ", ") + `
		FROM users u
		WHERE p.id = $1 AND p.user_id = $2 AND u.id = p.user_id
		RETURNING ` + patternColumns

	view, err := scanPattern(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update pattern: %w", err)
	}
	return view, nil
}

// Delete removes the row and returns its blob reference for release.
func (r *PatternWriteRepository) Delete(ctx context.Context, id, userID int64) (string, error) {
	query := `DELETE FROM patterns WHERE id = $1 AND user_id = $2 RETURNING image`

	var image string
	err := r.db.QueryRowContext(ctx, query, id, userID).Scan(&image)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to delete pattern: %w", err)
	}
	return image, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*models.PatternView, error) {
	var (
		view        models.PatternView
		description sql.NullString
	)
	err := row.Scan(
		&view.ID, &view.UserID, &view.Owner, &view.Image, &view.Name, &view.Size,
		&description, &view.IsFavorite, &view.CreatedAt, &view.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		view.Description = &description.String
	}
	return &view, nil
}
