package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/patternvault/backend/shared/apperrors"
	"github.com/patternvault/backend/shared/database"
	"github.com/patternvault/backend/shared/models"
)

// UserWriteRepository handles the user rows the account service owns.
// It operates against the PostgreSQL write store (source of truth).
type UserWriteRepository struct {
	db database.DBTX
}

func NewUserWriteRepository(db database.DBTX) *UserWriteRepository {
	return &UserWriteRepository{db: db}
}

// Taken reports which of username and email already belong to a user.
// Emails compare case-insensitively.
func (r *UserWriteRepository) Taken(ctx context.Context, username, email string) (bool, bool, error) {
	query := `
		SELECT
			EXISTS (SELECT 1 FROM users WHERE username = $1),
			EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER($2))
	`
	var usernameTaken, emailTaken bool
	if err := r.db.QueryRowContext(ctx, query, username, email).Scan(&usernameTaken, &emailTaken); err != nil {
		return false, false, fmt.Errorf("failed to check user uniqueness: %w", err)
	}
	return usernameTaken, emailTaken, nil
}

// Create inserts user and fills in its id and date_joined. Unique violations
// that slip past Taken surface as validation errors.
func (r *UserWriteRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (username, email, password_hash, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, is_active, date_joined
	`
	err := r.db.QueryRowContext(ctx, query, user.Username, user.Email, user.PasswordHash).
		Scan(&user.ID, &user.IsActive, &user.DateJoined)
	if err != nil {
		if constraint, ok := database.UniqueViolation(err); ok {
			return duplicateUserError(constraint)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetActiveByUsername fetches the write model, including PasswordHash, for
// credential checks.
func (r *UserWriteRepository) GetActiveByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT id, username, email, password_hash, is_active, date_joined
		FROM users
		WHERE username = $1 AND is_active
	`
	var user models.User
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.IsActive, &user.DateJoined,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func duplicateUserError(constraint string) error {
	switch constraint {
	case "users_email_lower_key":
		return apperrors.NewValidationError(apperrors.FieldError{
			Field: "email", Message: "A user with that email already exists", Type: "unique",
		})
	default:
		return apperrors.NewValidationError(apperrors.FieldError{
			Field: "username", Message: "A user with that username already exists", Type: "unique",
		})
	}
}
