package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", hash)
	assert.True(t, CheckPassword("s3cret-pass", hash))
	assert.False(t, CheckPassword("wrong", hash))
}

func TestParseID(t *testing.T) {
	tests := []struct {
		raw  string
		id   int64
		okay bool
	}{
		{"12", 12, true},
		{"0", 0, false},
		{"-3", 0, false},
		{"abc", 0, false},
		{"", 0, false},
		{"99999999999999999999", 0, false},
	}
	for _, tt := range tests {
		id, ok := ParseID(tt.raw)
		assert.Equal(t, tt.okay, ok, tt.raw)
		assert.Equal(t, tt.id, id, tt.raw)
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "Ann@example.com", NormalizeEmail(" Ann@EXAMPLE.com "))
	assert.Equal(t, "no-at-sign", NormalizeEmail("no-at-sign"))
}
