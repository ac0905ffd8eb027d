package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patternvault/backend/shared/apperrors"
	"github.com/patternvault/backend/shared/cqrs"
	"github.com/patternvault/backend/shared/events"
	"github.com/patternvault/backend/shared/logging"
	"github.com/patternvault/backend/shared/models"
	"github.com/patternvault/backend/shared/tokens"
	"github.com/patternvault/backend/shared/utils"
)

// memUsers is an in-memory UserStore.
type memUsers struct {
	byName map[string]*models.User
	nextID int64
}

func newMemUsers() *memUsers { return &memUsers{byName: map[string]*models.User{}} }

func (m *memUsers) Taken(ctx context.Context, username, email string) (bool, bool, error) {
	var u, e bool
	for _, user := range m.byName {
		if user.Username == username {
			u = true
		}
		if equalFoldEmail(user.Email, email) {
			e = true
		}
	}
	return u, e, nil
}

func equalFoldEmail(a, b string) bool {
	return strings.EqualFold(a, b)
}

func (m *memUsers) Create(ctx context.Context, user *models.User) error {
	m.nextID++
	user.ID = m.nextID
	user.IsActive = true
	user.DateJoined = time.Now().UTC()
	cp := *user
	m.byName[user.Username] = &cp
	return nil
}

func (m *memUsers) GetActiveByUsername(ctx context.Context, username string) (*models.User, error) {
	u, ok := m.byName[username]
	if !ok || !u.IsActive {
		return nil, apperrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type memRefresh struct {
	stored  map[string]int64
	revoked map[string]bool
}

func newMemRefresh() *memRefresh {
	return &memRefresh{stored: map[string]int64{}, revoked: map[string]bool{}}
}

func (m *memRefresh) Store(ctx context.Context, jti string, userID int64, expiresAt time.Time) error {
	m.stored[jti] = userID
	return nil
}

func (m *memRefresh) Revoke(ctx context.Context, jti string, userID int64) error {
	if m.stored[jti] != userID || m.revoked[jti] {
		return apperrors.ErrInvalidToken
	}
	m.revoked[jti] = true
	return nil
}

type recordingCache struct{ views []*models.UserView }

func (r *recordingCache) CacheUserView(ctx context.Context, view *models.UserView) {
	r.views = append(r.views, view)
}

type recordingPublisher struct {
	types []string
	err   error
}

func (p *recordingPublisher) Publish(ctx context.Context, stream, eventType string, data any) error {
	p.types = append(p.types, eventType)
	return p.err
}

type fixture struct {
	svc     *AccountCommandService
	users   *memUsers
	refresh *memRefresh
	cache   *recordingCache
	pub     *recordingPublisher
	issuer  *tokens.JWTIssuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	issuer, err := tokens.NewJWTIssuer("test-secret", 5*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	f := &fixture{
		users:   newMemUsers(),
		refresh: newMemRefresh(),
		cache:   &recordingCache{},
		pub:     &recordingPublisher{},
		issuer:  issuer,
	}
	f.svc = NewAccountCommandService(f.users, f.refresh, f.cache, issuer, f.pub, logging.Discard())
	return f
}

func register(t *testing.T, f *fixture, username, email string) *models.UserView {
	t.Helper()
	view, err := f.svc.Register(context.Background(), cqrs.RegisterCommand{
		Username: username, Email: email, Password: "pw-123456", Password2: "pw-123456",
	})
	require.NoError(t, err)
	return view
}

func TestRegister_Success(t *testing.T) {
	f := newFixture(t)

	view := register(t, f, "ann", "ann@example.com")
	assert.Equal(t, int64(1), view.ID)
	assert.Equal(t, "ann", view.Username)
	assert.Equal(t, []string{events.UserRegistered}, f.pub.types)
	require.Len(t, f.cache.views, 1)

	stored := f.users.byName["ann"]
	assert.NotEqual(t, "pw-123456", stored.PasswordHash)
	assert.True(t, utils.CheckPassword("pw-123456", stored.PasswordHash))
}

func TestRegister_Rejects(t *testing.T) {
	f := newFixture(t)
	register(t, f, "ann", "ann@example.com")

	tests := []struct {
		name   string
		cmd    cqrs.RegisterCommand
		fields []string
	}{
		{
			name:   "blank username",
			cmd:    cqrs.RegisterCommand{Username: "   ", Email: "x@example.com", Password: "a", Password2: "a"},
			fields: []string{"username"},
		},
		{
			name:   "password mismatch",
			cmd:    cqrs.RegisterCommand{Username: "bob", Email: "bob@example.com", Password: "a", Password2: "b"},
			fields: []string{"password"},
		},
		{
			name:   "duplicate username",
			cmd:    cqrs.RegisterCommand{Username: "ann", Email: "other@example.com", Password: "a", Password2: "a"},
			fields: []string{"username"},
		},
		{
			name:   "duplicate email differing in case",
			cmd:    cqrs.RegisterCommand{Username: "bob", Email: "ann@EXAMPLE.com", Password: "a", Password2: "a"},
			fields: []string{"email"},
		},
		{
			name:   "both taken",
			cmd:    cqrs.RegisterCommand{Username: "ann", Email: "ann@example.com", Password: "a", Password2: "a"},
			fields: []string{"username", "email"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tt.cmd)
			require.ErrorIs(t, err, apperrors.ErrValidation)

			var ve *apperrors.ValidationError
			require.True(t, errors.As(err, &ve))
			var got []string
			for _, fe := range ve.Fields {
				got = append(got, fe.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestRegister_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("redis down")
	register(t, f, "ann", "ann@example.com")
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	registered := register(t, f, "ann", "ann@example.com")

	res, err := f.svc.Login(context.Background(), cqrs.LoginCommand{Username: "ann", Password: "pw-123456"})
	require.NoError(t, err)
	assert.Equal(t, registered.ID, res.User.ID)
	assert.Equal(t, registered.ID, f.refresh.stored[res.Tokens.RefreshID])

	uid, err := f.issuer.VerifyAccess(res.Tokens.Access)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, uid)

	_, err = f.svc.Login(context.Background(), cqrs.LoginCommand{Username: "ann", Password: "wrong"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, err = f.svc.Login(context.Background(), cqrs.LoginCommand{Username: "nobody", Password: "pw-123456"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, err = f.svc.Login(context.Background(), cqrs.LoginCommand{Username: "  ", Password: "pw-123456"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestLogin_InactiveUser(t *testing.T) {
	f := newFixture(t)
	register(t, f, "ann", "ann@example.com")
	f.users.byName["ann"].IsActive = false

	_, err := f.svc.Login(context.Background(), cqrs.LoginCommand{Username: "ann", Password: "pw-123456"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	register(t, f, "ann", "ann@example.com")
	res, err := f.svc.Login(context.Background(), cqrs.LoginCommand{Username: "ann", Password: "pw-123456"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background(), cqrs.LogoutCommand{Token: res.Tokens.Refresh}))
	assert.True(t, f.refresh.revoked[res.Tokens.RefreshID])

	// second logout with the same token fails
	assert.ErrorIs(t, f.svc.Logout(context.Background(), cqrs.LogoutCommand{Token: res.Tokens.Refresh}), apperrors.ErrInvalidToken)
	// access tokens are not refresh tokens
	assert.ErrorIs(t, f.svc.Logout(context.Background(), cqrs.LogoutCommand{Token: res.Tokens.Access}), apperrors.ErrInvalidToken)
}
