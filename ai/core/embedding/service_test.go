package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(&Config{Dim: 768})
	assert.Error(t, err, "model is required")

	_, err = NewService(&Config{Model: "text-embedding-3-small"})
	assert.Error(t, err, "dimension is required")

	svc, err := NewService(&Config{Model: "text-embedding-3-small", Dim: 768})
	require.NoError(t, err)
	assert.Equal(t, 768, svc.Dim())
}

func TestEncode_BlankInput(t *testing.T) {
	svc, err := NewService(&Config{Model: "text-embedding-3-small", Dim: 768})
	require.NoError(t, err)

	// Blank text must short-circuit before any provider call.
	for _, input := range []string{"", "   ", "\n\t  "} {
		vec, err := svc.Encode(context.Background(), input)
		require.NoError(t, err)
		assert.Nil(t, vec)
	}
}
