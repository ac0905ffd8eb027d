// Package tokens issues and verifies the bearer credentials handed out by the
// account service. Access and refresh tokens are HS256 JWTs distinguished by
// their token_type claim.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/patternvault/backend/shared/apperrors"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the JWT payload for both token kinds.
type Claims struct {
	UserID    int64  `json:"user_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Pair is the result of a successful login.
type Pair struct {
	Access           string
	Refresh          string
	RefreshID        string
	RefreshExpiresAt time.Time
}

// Issuer hides the signing scheme from the services.
type Issuer interface {
	Issue(userID int64) (Pair, error)
	IssueAccess(userID int64) (string, error)
	VerifyAccess(token string) (int64, error)
	VerifyRefresh(token string) (*Claims, error)
}

type JWTIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewJWTIssuer(secret string, accessTTL, refreshTTL time.Duration) (*JWTIssuer, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is not set")
	}
	return &JWTIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

func (i *JWTIssuer) Issue(userID int64) (Pair, error) {
	access, err := i.IssueAccess(userID)
	if err != nil {
		return Pair{}, err
	}

	jti := uuid.NewString()
	exp := i.now().Add(i.refreshTTL)
	refresh, err := i.sign(userID, TypeRefresh, jti, exp)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		Access:           access,
		Refresh:          refresh,
		RefreshID:        jti,
		RefreshExpiresAt: exp,
	}, nil
}

func (i *JWTIssuer) IssueAccess(userID int64) (string, error) {
	return i.sign(userID, TypeAccess, uuid.NewString(), i.now().Add(i.accessTTL))
}

func (i *JWTIssuer) VerifyAccess(token string) (int64, error) {
	claims, err := i.parse(token, TypeAccess)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

func (i *JWTIssuer) VerifyRefresh(token string) (*Claims, error) {
	return i.parse(token, TypeRefresh)
}

func (i *JWTIssuer) sign(userID int64, tokenType, jti string, exp time.Time) (string, error) {
	now := i.now()
	claims := Claims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   fmt.Sprint(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

func (i *JWTIssuer) parse(tokenString, wantType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, apperrors.ErrInvalidToken
	}
	if claims.TokenType != wantType || claims.UserID <= 0 {
		return nil, apperrors.ErrInvalidToken
	}
	if wantType == TypeRefresh && claims.ID == "" {
		return nil, apperrors.ErrInvalidToken
	}
	return claims, nil
}
