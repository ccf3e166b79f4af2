package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	testCases := []struct {
		name string
		text string
		want Language
	}{
		{
			name: "plain english",
			text: "what is the weather today",
			want: English,
		},
		{
			name: "empty string",
			text: "",
			want: English,
		},
		{
			name: "hindi devanagari",
			text: "आज मौसम कैसा है",
			want: Hindi,
		},
		{
			name: "assamese bengali script",
			text: "আজি বতৰ কেনেকুৱা",
			want: Assamese,
		},
		{
			name: "mixed english and hindi picks hindi",
			text: "please tell me क्रिकेट score",
			want: Hindi,
		},
		{
			name: "first non-latin script wins",
			text: "নমস্কাৰ नमस्ते",
			want: Assamese,
		},
		{
			name: "digits and punctuation stay english",
			text: "2 + 2 = ?",
			want: English,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Detect(tc.text))
		})
	}
}

func TestLanguage_Name(t *testing.T) {
	assert.Equal(t, "English", English.Name())
	assert.Equal(t, "Hindi", Hindi.Name())
	assert.Equal(t, "Assamese", Assamese.Name())
	assert.Equal(t, "English", Language("klingon").Name())
}

func TestServiceMessage(t *testing.T) {
	for _, key := range []string{"quota_exceeded", "search_quota_exceeded", "service_unavailable"} {
		for _, l := range []Language{English, Hindi, Assamese} {
			msg := ServiceMessage(key, l)
			assert.NotEmpty(t, msg, "key %s lang %s", key, l)
		}
	}

	// Unknown language falls back to English.
	assert.Equal(t, ServiceMessage("quota_exceeded", English), ServiceMessage("quota_exceeded", Language("klingon")))

	// Unknown key yields empty.
	assert.Empty(t, ServiceMessage("no_such_key", English))
}
