package query

import (
	"context"
	"errors"

	"github.com/patternvault/backend/shared/apperrors"
	"github.com/patternvault/backend/shared/cqrs"
	"github.com/patternvault/backend/shared/models"
	"github.com/patternvault/backend/shared/tokens"
)

type UserViewReader interface {
	GetActiveView(ctx context.Context, id int64) (*models.UserView, error)
}

type RefreshTokenLookup interface {
	IsActive(ctx context.Context, jti string, userID int64) (bool, error)
}

// AccountQueryService serves profile reads and access-token refresh, neither
// of which changes state.
type AccountQueryService struct {
	users   UserViewReader
	refresh RefreshTokenLookup
	issuer  tokens.Issuer
}

func NewAccountQueryService(users UserViewReader, refresh RefreshTokenLookup, issuer tokens.Issuer) *AccountQueryService {
	return &AccountQueryService{users: users, refresh: refresh, issuer: issuer}
}

// GetProfile maps a vanished or deactivated user to ErrUnauthenticated: the
// bearer token no longer identifies anyone.
func (s *AccountQueryService) GetProfile(ctx context.Context, q cqrs.GetProfileQuery) (*models.UserView, error) {
	view, err := s.users.GetActiveView(ctx, q.UserID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return view, nil
}

// RefreshAccess exchanges a refresh credential for a new access credential.
// The refresh credential itself is not rotated.
func (s *AccountQueryService) RefreshAccess(ctx context.Context, cmd cqrs.RefreshTokenCommand) (string, error) {
	claims, err := s.issuer.VerifyRefresh(cmd.Token)
	if err != nil {
		return "", apperrors.ErrInvalidToken
	}
	active, err := s.refresh.IsActive(ctx, claims.ID, claims.UserID)
	if err != nil {
		return "", err
	}
	if !active {
		return "", apperrors.ErrInvalidToken
	}
	return s.issuer.IssueAccess(claims.UserID)
}
