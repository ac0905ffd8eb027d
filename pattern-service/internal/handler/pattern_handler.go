package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/patternvault/backend/shared/apperrors"
	"github.com/patternvault/backend/shared/cqrs"
	"github.com/patternvault/backend/shared/logging"
	"github.com/patternvault/backend/shared/middleware"
	"github.com/patternvault/backend/shared/models"
	"github.com/patternvault/backend/shared/utils"
)

const (
	maxPageSize = 100

	// Room for the non-file multipart fields on top of the image itself.
	formOverheadBytes = 1 << 20
)

// PatternCommander defines the write-side operations used by PatternHandler.
type PatternCommander interface {
	Create(context.Context, cqrs.CreatePatternCommand) (*models.PatternView, error)
	Update(context.Context, cqrs.UpdatePatternCommand) (*models.PatternView, error)
	Delete(context.Context, cqrs.DeletePatternCommand) error
}

// PatternQuerier defines the read-side operations used by PatternHandler.
type PatternQuerier interface {
	ListPatterns(context.Context, cqrs.ListPatternsQuery) ([]models.PatternView, int, error)
}

// URLResolver turns a blob reference into the URL clients fetch it from.
type URLResolver interface {
	URL(ref, origin string) string
}

type PatternHandler struct {
	commands      PatternCommander
	queries       PatternQuerier
	urls          URLResolver
	log           logging.Logger
	maxImageBytes int64
}

type CreatePatternRequest struct {
	Name        *string `form:"name" validate:"omitempty,max=255"`
	Size        int     `form:"size" validate:"required,oneof=150 230 300"`
	Description *string `form:"description"`
	IsFavorite  bool    `form:"is_favorite"`
}

// UpdatePatternRequest is a partial update. Absent fields stay nil.
type UpdatePatternRequest struct {
	Name        *string `json:"name" form:"name" validate:"omitempty,max=255"`
	Size        *int    `json:"size" form:"size" validate:"omitempty,oneof=150 230 300"`
	Description *string `json:"description" form:"description"`
	IsFavorite  *bool   `json:"is_favorite" form:"is_favorite"`
}

type PageQuery struct {
	Limit  int `form:"limit,default=20" validate:"gte=1"`
	Offset int `form:"offset,default=0" validate:"gte=0"`
}

func NewPatternHandler(commands PatternCommander, queries PatternQuerier, urls URLResolver, log logging.Logger, maxImageBytes int64) *PatternHandler {
	return &PatternHandler{
		commands:      commands,
		queries:       queries,
		urls:          urls,
		log:           log,
		maxImageBytes: maxImageBytes,
	}
}

func (h *PatternHandler) CreatePattern(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxImageBytes+formOverheadBytes)
	if _, err := c.MultipartForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, apperrors.ErrPayloadTooLarge, "Failed to create pattern")
			return
		}
		middleware.RespondWithError(c, http.StatusBadRequest, "Expected a multipart form")
		return
	}

	var req CreatePatternRequest
	if err := c.ShouldBind(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(&req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	cmd := cqrs.CreatePatternCommand{
		UserID:      userID,
		Name:        req.Name,
		Size:        req.Size,
		Description: req.Description,
		IsFavorite:  req.IsFavorite,
	}

	fh, err := c.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// The command reports the missing image alongside its other checks.
	case err != nil:
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid image upload")
		return
	default:
		f, err := fh.Open()
		if err != nil {
			h.fail(c, err, "Failed to read image upload")
			return
		}
		defer f.Close()
		cmd.Image = &cqrs.ImageUpload{Filename: fh.Filename, Size: fh.Size, Content: f}
	}

	view, err := h.commands.Create(c.Request.Context(), cmd)
	if err != nil {
		h.fail(c, err, "Failed to create pattern")
		return
	}

	c.JSON(http.StatusCreated, h.present(c, *view))
}

func (h *PatternHandler) ListPatterns(c *gin.Context) {
	h.list(c, false)
}

func (h *PatternHandler) ListFavorites(c *gin.Context) {
	h.list(c, true)
}

func (h *PatternHandler) list(c *gin.Context, favoritesOnly bool) {
	userID, _ := middleware.GetUserID(c)

	var page PageQuery
	if err := c.ShouldBindQuery(&page); err != nil {
		middleware.RespondWithValidationError(c, []middleware.ValidationError{{
			Field: "non_field_errors", Message: "limit and offset must be integers", Type: "invalid",
		}})
		return
	}
	if validationErrors := middleware.ValidateRequest(&page); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}
	if page.Limit > maxPageSize {
		page.Limit = maxPageSize
	}

	views, total, err := h.queries.ListPatterns(c.Request.Context(), cqrs.ListPatternsQuery{
		UserID:        userID,
		FavoritesOnly: favoritesOnly,
		Limit:         page.Limit,
		Offset:        page.Offset,
	})
	if err != nil {
		h.fail(c, err, "Failed to list patterns")
		return
	}

	results := make([]models.PatternView, 0, len(views))
	for _, v := range views {
		results = append(results, h.present(c, v))
	}

	next, previous := pageLinks(c, requestOrigin(c), page, total)
	c.JSON(http.StatusOK, models.Page[models.PatternView]{
		Count:    total,
		Next:     next,
		Previous: previous,
		Results:  results,
	})
}

func (h *PatternHandler) UpdatePattern(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	patternID, ok := utils.ParseID(c.Param("id"))
	if !ok {
		middleware.RespondWithError(c, http.StatusNotFound, "Not found")
		return
	}

	cmd, ok := bindUpdate(c)
	if !ok {
		return
	}
	cmd.PatternID = patternID
	cmd.UserID = userID

	view, err := h.commands.Update(c.Request.Context(), cmd)
	if err != nil {
		h.fail(c, err, "Failed to update pattern")
		return
	}

	c.JSON(http.StatusOK, h.present(c, *view))
}

func (h *PatternHandler) DeletePattern(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	patternID, ok := utils.ParseID(c.Param("id"))
	if !ok {
		middleware.RespondWithError(c, http.StatusNotFound, "Not found")
		return
	}

	if err := h.commands.Delete(c.Request.Context(), cqrs.DeletePatternCommand{PatternID: patternID, UserID: userID}); err != nil {
		h.fail(c, err, "Failed to delete pattern")
		return
	}

	c.Status(http.StatusNoContent)
}

// bindUpdate reads a partial update from JSON or form data. A JSON null
// clears the description; null on any other field is rejected.
func bindUpdate(c *gin.Context) (cqrs.UpdatePatternCommand, bool) {
	var (
		req              UpdatePatternRequest
		clearDescription bool
	)

	if c.ContentType() == gin.MIMEJSON || c.ContentType() == "" {
		body, err := c.GetRawData()
		if err != nil {
			middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
			return cqrs.UpdatePatternCommand{}, false
		}
		if len(bytes.TrimSpace(body)) > 0 {
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(body, &fields); err != nil {
				middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
				return cqrs.UpdatePatternCommand{}, false
			}
			var nulls []middleware.ValidationError
			for _, name := range []string{"name", "size", "is_favorite"} {
				if raw, ok := fields[name]; ok && isNull(raw) {
					nulls = append(nulls, middleware.ValidationError{Field: name, Message: "This field may not be null", Type: "null"})
				}
			}
			if nulls != nil {
				middleware.RespondWithValidationError(c, nulls)
				return cqrs.UpdatePatternCommand{}, false
			}
			if err := json.Unmarshal(body, &req); err != nil {
				middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
				return cqrs.UpdatePatternCommand{}, false
			}
			if raw, ok := fields["description"]; ok && isNull(raw) {
				clearDescription = true
			}
		}
	} else if err := c.ShouldBind(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return cqrs.UpdatePatternCommand{}, false
	}

	if validationErrors := middleware.ValidateRequest(&req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return cqrs.UpdatePatternCommand{}, false
	}

	return cqrs.UpdatePatternCommand{
		Name:             req.Name,
		Description:      req.Description,
		ClearDescription: clearDescription,
		Size:             req.Size,
		IsFavorite:       req.IsFavorite,
	}, true
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// present resolves the blob reference into an absolute URL.
func (h *PatternHandler) present(c *gin.Context, v models.PatternView) models.PatternView {
	v.Image = h.urls.URL(v.Image, requestOrigin(c))
	return v
}

// requestOrigin is the scheme and host the client used, as reported by a
// fronting proxy when there is one.
func requestOrigin(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	host := c.Request.Host
	if fwd := c.GetHeader("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host
}

// pageLinks builds absolute next/previous URLs that keep every other query
// parameter of the current request.
func pageLinks(c *gin.Context, origin string, page PageQuery, total int) (next, previous *string) {
	link := func(offset int) *string {
		q := c.Request.URL.Query()
		q.Set("limit", strconv.Itoa(page.Limit))
		if offset > 0 {
			q.Set("offset", strconv.Itoa(offset))
		} else {
			q.Del("offset")
		}
		u := url.URL{Path: c.Request.URL.Path, RawQuery: q.Encode()}
		s := origin + u.String()
		return &s
	}

	if page.Offset+page.Limit < total {
		next = link(page.Offset + page.Limit)
	}
	if page.Offset > 0 {
		previous = link(max(page.Offset-page.Limit, 0))
	}
	return next, previous
}

func (h *PatternHandler) fail(c *gin.Context, err error, message string) {
	if middleware.RespondWithAppError(c, err) {
		return
	}
	_ = c.Error(err)
	h.log.Error(c.Request.Context(), message, "error", err)
	middleware.RespondWithError(c, http.StatusInternalServerError, message)
}
