package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_MatchesSentinel(t *testing.T) {
	err := NewValidationError(FieldError{Field: "username", Message: "already taken", Type: "unique"})

	assert.True(t, errors.Is(err, ErrValidation))
	assert.True(t, errors.Is(fmt.Errorf("register: %w", err), ErrValidation))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "validation error: username: already taken", err.Error())
}

func TestValidationError_AsExtractsFields(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewValidationError(
		FieldError{Field: "email", Message: "already taken", Type: "unique"},
		FieldError{Field: "password2", Message: "mismatch", Type: "eqfield"},
	))

	var verr *ValidationError
	if assert.True(t, errors.As(wrapped, &verr)) {
		assert.Len(t, verr.Fields, 2)
		assert.Equal(t, "password2", verr.Fields[1].Field)
	}
}

func TestValidationError_EmptyMessage(t *testing.T) {
	assert.Equal(t, "validation error", NewValidationError().Error())
}
