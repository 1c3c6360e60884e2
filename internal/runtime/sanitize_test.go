package runtime

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeInput_SizeLimit(t *testing.T) {
	tests := []struct {
		name      string
		inputSize int
		wantErr   bool
	}{
		{"Under Limit", DefaultMaxInputSize - 1, false},
		{"Exact Limit", DefaultMaxInputSize, false},
		{"Over Limit", DefaultMaxInputSize + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SanitizeInput(strings.Repeat("a", tt.inputSize), 0)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInputTooLarge)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSanitizeInput_EnvOverride(t *testing.T) {
	t.Setenv(EnvMaxInputSize, "8")
	_, err := SanitizeInput("123456789", 0)
	assert.ErrorIs(t, err, ErrInputTooLarge)

	_, err = SanitizeInput("123456789", 16)
	assert.NoError(t, err)
}

func TestSanitizeInput_ControlChars(t *testing.T) {
	got, err := SanitizeInput("hi\x1b[31m\x00 there\n\tok", 0)
	require.NoError(t, err)
	assert.Equal(t, "hi[31m there\n\tok", got)

	_, err = SanitizeInput(string([]byte{0xff, 0xfe}), 0)
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}
