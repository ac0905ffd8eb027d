package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/patternvault/backend/shared/apperrors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their wire name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

type ValidationError = apperrors.FieldError

type BadRequestErrorResponse struct {
	Message string            `json:"message"`
	Details []ValidationError `json:"details"`
}

func ValidateRequest(obj any) []ValidationError {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Field: "non_field_errors", Message: err.Error(), Type: "invalid"}}
	}

	validationErrors := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		validationErrors = append(validationErrors, ValidationError{
			Field:   fe.Field(),
			Message: getErrorMsg(fe),
			Type:    fe.Tag(),
		})
	}
	return validationErrors
}

func getErrorMsg(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Enter a valid email address"
	case "min":
		return "Ensure this field has at least " + err.Param() + " characters"
	case "max":
		return "Ensure this field has no more than " + err.Param() + " characters"
	case "oneof":
		return "Must be one of: " + strings.ReplaceAll(err.Param(), " ", ", ")
	case "eqfield":
		return "Must match " + strings.ToLower(err.Param())
	case "gt":
		return "Value must be greater than " + err.Param()
	case "gte":
		return "Value must be greater than or equal to " + err.Param()
	case "lte":
		return "Value must be less than or equal to " + err.Param()
	default:
		return "Invalid value"
	}
}

func RespondWithValidationError(c *gin.Context, validationErrors []ValidationError) {
	c.JSON(http.StatusBadRequest, BadRequestErrorResponse{
		Message: "Invalid request data",
		Details: validationErrors,
	})
}

func RespondWithError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"message": message,
	})
}

// RespondWithAppError maps the shared error taxonomy onto HTTP responses.
// It reports false for errors outside the taxonomy so the caller can log
// them and answer 500.
func RespondWithAppError(c *gin.Context, err error) bool {
	var ve *apperrors.ValidationError
	switch {
	case errors.As(err, &ve):
		RespondWithValidationError(c, ve.Fields)
	case errors.Is(err, apperrors.ErrValidation):
		RespondWithError(c, http.StatusBadRequest, "Invalid request data")
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		RespondWithError(c, http.StatusBadRequest, "Invalid credentials")
	case errors.Is(err, apperrors.ErrInvalidToken):
		RespondWithError(c, http.StatusBadRequest, "Token is invalid or expired")
	case errors.Is(err, apperrors.ErrUnauthenticated):
		RespondWithError(c, http.StatusUnauthorized, "Authentication credentials were not provided or are invalid")
	case errors.Is(err, apperrors.ErrNotFound):
		RespondWithError(c, http.StatusNotFound, "Not found")
	case errors.Is(err, apperrors.ErrPayloadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, BadRequestErrorResponse{
			Message: "Payload too large",
			Details: []ValidationError{{Field: "image", Message: "Image size must not exceed 5 MB", Type: "max_size"}},
		})
	case errors.Is(err, apperrors.ErrRateLimited):
		RespondWithError(c, http.StatusTooManyRequests, "Request was throttled")
	default:
		return false
	}
	return true
}
