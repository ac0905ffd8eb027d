package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patternvault/backend/shared/apperrors"
	"github.com/patternvault/backend/shared/cqrs"
	"github.com/patternvault/backend/shared/events"
	"github.com/patternvault/backend/shared/logging"
	"github.com/patternvault/backend/shared/models"
	"github.com/patternvault/backend/shared/tokens"
	"github.com/patternvault/backend/shared/utils"
)

type UserStore interface {
	Taken(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error)
	Create(ctx context.Context, user *models.User) error
	GetActiveByUsername(ctx context.Context, username string) (*models.User, error)
}

type RefreshTokenStore interface {
	Store(ctx context.Context, jti string, userID int64, expiresAt time.Time) error
	Revoke(ctx context.Context, jti string, userID int64) error
}

type ViewCacher interface {
	CacheUserView(ctx context.Context, view *models.UserView)
}

type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

// LoginResult is what a successful login hands back to the client.
type LoginResult struct {
	User   *models.UserView
	Tokens tokens.Pair
}

// AccountCommandService registers users and issues and revokes their
// credentials.
type AccountCommandService struct {
	users     UserStore
	refresh   RefreshTokenStore
	views     ViewCacher
	issuer    tokens.Issuer
	publisher EventPublisher
	log       logging.Logger
}

func NewAccountCommandService(
	users UserStore,
	refresh RefreshTokenStore,
	views ViewCacher,
	issuer tokens.Issuer,
	publisher EventPublisher,
	log logging.Logger,
) *AccountCommandService {
	return &AccountCommandService{
		users:     users,
		refresh:   refresh,
		views:     views,
		issuer:    issuer,
		publisher: publisher,
		log:       log,
	}
}

func (s *AccountCommandService) Register(ctx context.Context, cmd cqrs.RegisterCommand) (*models.UserView, error) {
	username := strings.TrimSpace(cmd.Username)
	if username == "" {
		return nil, apperrors.NewValidationError(apperrors.FieldError{
			Field: "username", Message: "This field may not be blank", Type: "blank",
		})
	}
	if cmd.Password != cmd.Password2 {
		return nil, apperrors.NewValidationError(apperrors.FieldError{
			Field: "password", Message: "Passwords do not match", Type: "mismatch",
		})
	}

	email := utils.NormalizeEmail(cmd.Email)

	usernameTaken, emailTaken, err := s.users.Taken(ctx, username, email)
	if err != nil {
		return nil, err
	}
	var dup []apperrors.FieldError
	if usernameTaken {
		dup = append(dup, apperrors.FieldError{Field: "username", Message: "A user with that username already exists", Type: "unique"})
	}
	if emailTaken {
		dup = append(dup, apperrors.FieldError{Field: "email", Message: "A user with that email already exists", Type: "unique"})
	}
	if len(dup) > 0 {
		return nil, apperrors.NewValidationError(dup...)
	}

	passwordHash, err := utils.HashPassword(cmd.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	view := user.View()
	s.views.CacheUserView(ctx, view)
	s.publish(ctx, events.AccountEventsStream, events.UserRegistered, events.UserRegisteredEvent{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
	})
	s.log.Info(ctx, "user registered", "user_id", user.ID)
	return view, nil
}

// Login verifies credentials and issues a token pair. Unknown usernames and
// wrong passwords are indistinguishable to the caller.
func (s *AccountCommandService) Login(ctx context.Context, cmd cqrs.LoginCommand) (*LoginResult, error) {
	username := strings.TrimSpace(cmd.Username)
	if username == "" {
		utils.BurnPasswordCheck(cmd.Password)
		return nil, apperrors.ErrInvalidCredentials
	}
	user, err := s.users.GetActiveByUsername(ctx, username)
	if errors.Is(err, apperrors.ErrNotFound) {
		utils.BurnPasswordCheck(cmd.Password)
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !utils.CheckPassword(cmd.Password, user.PasswordHash) {
		return nil, apperrors.ErrInvalidCredentials
	}

	pair, err := s.issuer.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.refresh.Store(ctx, pair.RefreshID, user.ID, pair.RefreshExpiresAt); err != nil {
		return nil, err
	}

	view := user.View()
	s.views.CacheUserView(ctx, view)
	return &LoginResult{User: view, Tokens: pair}, nil
}

// Logout revokes a refresh credential.
func (s *AccountCommandService) Logout(ctx context.Context, cmd cqrs.LogoutCommand) error {
	claims, err := s.issuer.VerifyRefresh(cmd.Token)
	if err != nil {
		return apperrors.ErrInvalidToken
	}
	if err := s.refresh.Revoke(ctx, claims.ID, claims.UserID); err != nil {
		return err
	}
	s.log.Info(ctx, "refresh token revoked", "user_id", claims.UserID)
	return nil
}

func (s *AccountCommandService) publish(ctx context.Context, stream, eventType string, data any) {
	err := s.publisher.Publish(ctx, stream, eventType, data)
	if err != nil && !errors.Is(err, events.ErrDisabled) {
		s.log.Warn(ctx, "failed to publish event", "type", eventType, "error", err)
	}
}
