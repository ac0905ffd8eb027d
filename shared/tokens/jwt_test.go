package tokens

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patternvault/backend/shared/apperrors"
)

func newTestIssuer(t *testing.T) *JWTIssuer {
	t.Helper()
	i, err := NewJWTIssuer("test-secret", 5*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	return i
}

func TestNewJWTIssuer_RequiresSecret(t *testing.T) {
	_, err := NewJWTIssuer("", time.Minute, time.Hour)
	assert.Error(t, err)
}

func TestIssue_RoundTrip(t *testing.T) {
	i := newTestIssuer(t)

	pair, err := i.Issue(42)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.Access)
	assert.NotEmpty(t, pair.Refresh)
	assert.NotEmpty(t, pair.RefreshID)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), pair.RefreshExpiresAt, 5*time.Second)

	uid, err := i.VerifyAccess(pair.Access)
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)

	claims, err := i.VerifyRefresh(pair.Refresh)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, pair.RefreshID, claims.ID)
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	i := newTestIssuer(t)
	pair, err := i.Issue(7)
	require.NoError(t, err)

	_, err = i.VerifyAccess(pair.Refresh)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)

	_, err = i.VerifyRefresh(pair.Access)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestVerify_Rejects(t *testing.T) {
	i := newTestIssuer(t)
	other, err := NewJWTIssuer("other-secret", 5*time.Minute, time.Hour)
	require.NoError(t, err)
	foreign, err := other.IssueAccess(1)
	require.NoError(t, err)

	expired := newTestIssuer(t)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, err := expired.IssueAccess(1)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID:    1,
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"empty", ""},
		{"wrong secret", foreign},
		{"expired", stale},
		{"alg none", none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := i.VerifyAccess(tt.token)
			assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
		})
	}
}
