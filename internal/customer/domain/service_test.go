package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileNormalize(t *testing.T) {
	p, err := Profile{Name: "  Jane Doe ", Email: " Jane@Example.com "}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", p.Name)
	assert.Equal(t, "jane@example.com", p.Email)

	_, err = Profile{Email: "jane@example.com"}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = Profile{Name: "Jane", Email: "not-an-email"}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = Profile{Name: "Jane", Email: "Jane <jane@example.com>"}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidEmail)
}
