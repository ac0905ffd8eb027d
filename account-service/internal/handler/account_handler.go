package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/patternvault/backend/account-service/internal/command"
	"github.com/patternvault/backend/shared/cqrs"
	"github.com/patternvault/backend/shared/logging"
	"github.com/patternvault/backend/shared/middleware"
	"github.com/patternvault/backend/shared/models"
)

// AccountCommander defines the write-side operations used by AccountHandler.
type AccountCommander interface {
	Register(context.Context, cqrs.RegisterCommand) (*models.UserView, error)
	Login(context.Context, cqrs.LoginCommand) (*command.LoginResult, error)
	Logout(context.Context, cqrs.LogoutCommand) error
}

// AccountQuerier defines the read-side operations used by AccountHandler.
type AccountQuerier interface {
	GetProfile(context.Context, cqrs.GetProfileQuery) (*models.UserView, error)
	RefreshAccess(context.Context, cqrs.RefreshTokenCommand) (string, error)
}

// AccountHandler handles registration, login, token and profile requests.
type AccountHandler struct {
	commands AccountCommander
	queries  AccountQuerier
	log      logging.Logger
}

type RegisterRequest struct {
	Username  string `json:"username" validate:"required,max=150"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required"`
	Password2 string `json:"password2" validate:"required"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RefreshTokenRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

type RegisterResponse struct {
	Message string           `json:"message"`
	User    *models.UserView `json:"user"`
}

type TokenPair struct {
	Refresh string `json:"refresh"`
	Access  string `json:"access"`
}

type LoginResponse struct {
	Message string           `json:"message"`
	User    *models.UserView `json:"user"`
	Tokens  TokenPair        `json:"tokens"`
}

type RefreshResponse struct {
	Access string `json:"access"`
}

func NewAccountHandler(commands AccountCommander, queries AccountQuerier, log logging.Logger) *AccountHandler {
	return &AccountHandler{commands: commands, queries: queries, log: log}
}

func (h *AccountHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.commands.Register(c.Request.Context(), cqrs.RegisterCommand{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		Password2: req.Password2,
	})
	if err != nil {
		h.fail(c, err, "Failed to register user")
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{Message: "User registered successfully", User: user})
}

func (h *AccountHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.commands.Login(c.Request.Context(), cqrs.LoginCommand{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.fail(c, err, "Failed to log in")
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Message: "Login successful",
		User:    res.User,
		Tokens:  TokenPair{Refresh: res.Tokens.Refresh, Access: res.Tokens.Access},
	})
}

func (h *AccountHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	access, err := h.queries.RefreshAccess(c.Request.Context(), cqrs.RefreshTokenCommand{Token: req.Refresh})
	if err != nil {
		h.fail(c, err, "Failed to refresh token")
		return
	}

	c.JSON(http.StatusOK, RefreshResponse{Access: access})
}

func (h *AccountHandler) Logout(c *gin.Context) {
	var req RefreshTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.commands.Logout(c.Request.Context(), cqrs.LogoutCommand{Token: req.Refresh}); err != nil {
		h.fail(c, err, "Failed to log out")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *AccountHandler) Profile(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	view, err := h.queries.GetProfile(c.Request.Context(), cqrs.GetProfileQuery{UserID: userID})
	if err != nil {
		h.fail(c, err, "Failed to load profile")
		return
	}

	c.JSON(http.StatusOK, view)
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return false
	}
	return true
}

func (h *AccountHandler) fail(c *gin.Context, err error, message string) {
	if middleware.RespondWithAppError(c, err) {
		return
	}
	_ = c.Error(err)
	h.log.Error(c.Request.Context(), message, "error", err)
	middleware.RespondWithError(c, http.StatusInternalServerError, message)
}
