package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfile_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{
			name:    "valid",
			profile: Profile{Mode: "prod", DSN: "postgres://localhost/dost", EmbeddingDim: 768},
		},
		{
			name:    "missing dsn",
			profile: Profile{Mode: "dev", EmbeddingDim: 768},
			wantErr: true,
		},
		{
			name:    "bad embedding dim",
			profile: Profile{Mode: "dev", DSN: "postgres://localhost/dost", EmbeddingDim: 0},
			wantErr: true,
		},
		{
			name:    "js render percent out of range",
			profile: Profile{Mode: "dev", DSN: "postgres://localhost/dost", EmbeddingDim: 768, JSRenderPercent: 150},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.profile.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestProfile_Validate_NormalizesMode(t *testing.T) {
	p := Profile{Mode: "bogus", DSN: "postgres://localhost/dost", EmbeddingDim: 768}
	require.NoError(t, p.Validate())
	assert.Equal(t, "demo", p.Mode)
}

func TestProfile_IsSearchEnabled(t *testing.T) {
	assert.True(t, (&Profile{SearchProvider: "serper"}).IsSearchEnabled())
	assert.True(t, (&Profile{SearchProvider: "duckduckgo"}).IsSearchEnabled())
	assert.False(t, (&Profile{SearchProvider: "none"}).IsSearchEnabled())
	assert.False(t, (&Profile{}).IsSearchEnabled())
}

func TestProfile_IsDev(t *testing.T) {
	assert.True(t, (&Profile{Mode: "dev"}).IsDev())
	assert.True(t, (&Profile{Mode: "demo"}).IsDev())
	assert.False(t, (&Profile{Mode: "prod"}).IsDev())
}
