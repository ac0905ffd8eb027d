package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/patternvault/backend/account-service/internal/command"
	"github.com/patternvault/backend/shared/apperrors"
	"github.com/patternvault/backend/shared/cqrs"
	"github.com/patternvault/backend/shared/logging"
	"github.com/patternvault/backend/shared/middleware"
	"github.com/patternvault/backend/shared/models"
	"github.com/patternvault/backend/shared/tokens"
)

// ---- mock implementations ----

type mockAccountCommander struct {
	registerFn func(cqrs.RegisterCommand) (*models.UserView, error)
	loginFn    func(cqrs.LoginCommand) (*command.LoginResult, error)
	logoutFn   func(cqrs.LogoutCommand) error
}

func (m *mockAccountCommander) Register(_ context.Context, cmd cqrs.RegisterCommand) (*models.UserView, error) {
	if m.registerFn != nil {
		return m.registerFn(cmd)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockAccountCommander) Login(_ context.Context, cmd cqrs.LoginCommand) (*command.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(cmd)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockAccountCommander) Logout(_ context.Context, cmd cqrs.LogoutCommand) error {
	if m.logoutFn != nil {
		return m.logoutFn(cmd)
	}
	return fmt.Errorf("not configured")
}

type mockAccountQuerier struct {
	profileFn func(cqrs.GetProfileQuery) (*models.UserView, error)
	refreshFn func(cqrs.RefreshTokenCommand) (string, error)
}

func (m *mockAccountQuerier) GetProfile(_ context.Context, q cqrs.GetProfileQuery) (*models.UserView, error) {
	if m.profileFn != nil {
		return m.profileFn(q)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockAccountQuerier) RefreshAccess(_ context.Context, cmd cqrs.RefreshTokenCommand) (string, error) {
	if m.refreshFn != nil {
		return m.refreshFn(cmd)
	}
	return "", fmt.Errorf("not configured")
}

type staticVerifier struct{}

func (staticVerifier) VerifyAccess(token string) (int64, error) {
	if token == "good-access" {
		return 42, nil
	}
	return 0, apperrors.ErrInvalidToken
}

// ---- helpers ----

func newTestRouter(cmds AccountCommander, qrys AccountQuerier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewAccountHandler(cmds, qrys, logging.Discard())
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
	r.POST("/refresh-token", h.RefreshToken)
	r.POST("/logout", h.Logout)
	r.GET("/profile", middleware.AuthMiddleware(staticVerifier{}), h.Profile)
	return r
}

func doRequest(router *gin.Engine, method, url string, body any, headers map[string]string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, url, nil)
	if body != nil {
		var raw string
		if s, ok := body.(string); ok {
			raw = s
		} else {
			b, _ := json.Marshal(body)
			raw = string(b)
		}
		req, _ = http.NewRequest(method, url, strings.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var annView = &models.UserView{ID: 42, Username: "ann", Email: "ann@example.com", DateJoined: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

// ---- tests ----

func TestRegister(t *testing.T) {
	valid := map[string]string{"username": "ann", "email": "ann@example.com", "password": "pw", "password2": "pw"}

	tests := []struct {
		name           string
		body           any
		registerFn     func(cqrs.RegisterCommand) (*models.UserView, error)
		expectedStatus int
	}{
		{
			name:           "success - returns user view",
			body:           valid,
			registerFn:     func(cqrs.RegisterCommand) (*models.UserView, error) { return annView, nil },
			expectedStatus: http.StatusCreated,
		},
		{
			name: "bad request - duplicate username",
			body: valid,
			registerFn: func(cqrs.RegisterCommand) (*models.UserView, error) {
				return nil, apperrors.NewValidationError(apperrors.FieldError{Field: "username", Message: "taken", Type: "unique"})
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad request - invalid email",
			body:           map[string]string{"username": "ann", "email": "nope", "password": "pw", "password2": "pw"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad request - missing password2",
			body:           map[string]string{"username": "ann", "email": "ann@example.com", "password": "pw"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad request - malformed json",
			body:           "{not json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "internal error",
			body:           valid,
			registerFn:     func(cqrs.RegisterCommand) (*models.UserView, error) { return nil, fmt.Errorf("db down") },
			expectedStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockAccountCommander{registerFn: tt.registerFn}, &mockAccountQuerier{})
			w := doRequest(router, http.MethodPost, "/register", tt.body, nil)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestRegister_ResponseNeverContainsPassword(t *testing.T) {
	router := newTestRouter(&mockAccountCommander{
		registerFn: func(cqrs.RegisterCommand) (*models.UserView, error) { return annView, nil },
	}, &mockAccountQuerier{})

	w := doRequest(router, http.MethodPost, "/register",
		map[string]string{"username": "ann", "email": "ann@example.com", "password": "hunter22", "password2": "hunter22"}, nil)
	if strings.Contains(strings.ToLower(w.Body.String()), "password") || strings.Contains(w.Body.String(), "hunter22") {
		t.Errorf("response leaks credentials: %s", w.Body.String())
	}

	var resp RegisterResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.User == nil || resp.User.Username != "ann" {
		t.Errorf("unexpected user in response: %+v", resp.User)
	}
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		loginFn        func(cqrs.LoginCommand) (*command.LoginResult, error)
		expectedStatus int
	}{
		{
			name: "success - returns token pair",
			body: map[string]string{"username": "ann", "password": "pw"},
			loginFn: func(cqrs.LoginCommand) (*command.LoginResult, error) {
				return &command.LoginResult{User: annView, Tokens: tokens.Pair{Access: "a", Refresh: "r"}}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "bad request - invalid credentials",
			body: map[string]string{"username": "ann", "password": "wrong"},
			loginFn: func(cqrs.LoginCommand) (*command.LoginResult, error) {
				return nil, apperrors.ErrInvalidCredentials
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad request - missing username",
			body:           map[string]string{"password": "pw"},
			expectedStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockAccountCommander{loginFn: tt.loginFn}, &mockAccountQuerier{})
			w := doRequest(router, http.MethodPost, "/login", tt.body, nil)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedStatus == http.StatusOK {
				var resp LoginResponse
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if resp.Tokens.Access != "a" || resp.Tokens.Refresh != "r" {
					t.Errorf("unexpected tokens: %+v", resp.Tokens)
				}
			}
		})
	}
}

func TestRefreshToken(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		refreshFn      func(cqrs.RefreshTokenCommand) (string, error)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "success - returns new access token",
			body:           map[string]string{"refresh": "r"},
			refreshFn:      func(cqrs.RefreshTokenCommand) (string, error) { return "new-access", nil },
			expectedStatus: http.StatusOK,
			expectedBody:   `{"access":"new-access"}`,
		},
		{
			name:           "bad request - expired token",
			body:           map[string]string{"refresh": "old"},
			refreshFn:      func(cqrs.RefreshTokenCommand) (string, error) { return "", apperrors.ErrInvalidToken },
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad request - missing refresh",
			body:           map[string]string{},
			expectedStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockAccountCommander{}, &mockAccountQuerier{refreshFn: tt.refreshFn})
			w := doRequest(router, http.MethodPost, "/refresh-token", tt.body, nil)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedBody != "" && w.Body.String() != tt.expectedBody {
				t.Errorf("[%s] expected body %s got %s", tt.name, tt.expectedBody, w.Body.String())
			}
		})
	}
}

func TestLogout(t *testing.T) {
	router := newTestRouter(&mockAccountCommander{
		logoutFn: func(cmd cqrs.LogoutCommand) error {
			if cmd.Token == "r" {
				return nil
			}
			return apperrors.ErrInvalidToken
		},
	}, &mockAccountQuerier{})

	if w := doRequest(router, http.MethodPost, "/logout", map[string]string{"refresh": "r"}, nil); w.Code != http.StatusNoContent {
		t.Errorf("expected 204 got %d", w.Code)
	}
	if w := doRequest(router, http.MethodPost, "/logout", map[string]string{"refresh": "x"}, nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 got %d", w.Code)
	}
}

func TestProfile(t *testing.T) {
	tests := []struct {
		name           string
		headers        map[string]string
		profileFn      func(cqrs.GetProfileQuery) (*models.UserView, error)
		expectedStatus int
	}{
		{
			name:    "success",
			headers: map[string]string{"Authorization": "Bearer good-access"},
			profileFn: func(q cqrs.GetProfileQuery) (*models.UserView, error) {
				if q.UserID != 42 {
					return nil, fmt.Errorf("unexpected user id %d", q.UserID)
				}
				return annView, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unauthorised - missing token",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "unauthorised - refresh or foreign token",
			headers:        map[string]string{"Authorization": "Bearer some-refresh"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:    "unauthorised - user deactivated",
			headers: map[string]string{"Authorization": "Bearer good-access"},
			profileFn: func(cqrs.GetProfileQuery) (*models.UserView, error) {
				return nil, apperrors.ErrUnauthenticated
			},
			expectedStatus: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockAccountCommander{}, &mockAccountQuerier{profileFn: tt.profileFn})
			w := doRequest(router, http.MethodGet, "/profile", nil, tt.headers)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}
