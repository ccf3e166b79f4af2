package learner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	testCases := []struct {
		name          string
		message       string
		wantName      string
		wantLocation  string
		wantLikes     []string
		wantDislikes  []string
		wantInterests []string
	}{
		{
			name:          "name location and like in one message",
			message:       "My name is Rahul, I live in Guwahati and I love cricket",
			wantName:      "Rahul",
			wantLocation:  "Guwahati and I love cricket",
			wantLikes:     []string{"cricket"},
			wantInterests: []string{"cricket", "sports"},
		},
		{
			name:     "call me variant",
			message:  "you can call me priya",
			wantName: "Priya",
		},
		{
			name:         "i am from variant",
			message:      "I am from Dibrugarh.",
			wantLocation: "Dibrugarh",
		},
		{
			name:         "dislike",
			message:      "i hate homework",
			wantDislikes: []string{"homework"},
			// "homework" also triggers the education interest bucket.
			wantInterests: []string{"education"},
		},
		{
			name:          "interest keywords without statements",
			message:       "who won the ipl match yesterday",
			wantInterests: []string{"cricket", "sports"},
		},
		{
			name:    "no facts",
			message: "what is the capital of France",
		},
		{
			name:    "substring does not trigger interest",
			message: "I said something about maintenance",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			facts := Extract(tc.message)
			require.NotNil(t, facts)

			assert.Equal(t, tc.wantName, facts.Name)
			assert.Equal(t, tc.wantLocation, facts.Location)
			assert.Equal(t, tc.wantLikes, facts.Likes)
			assert.Equal(t, tc.wantDislikes, facts.Dislikes)
			assert.Equal(t, tc.wantInterests, facts.Interests)
		})
	}
}

func TestExtract_Deterministic(t *testing.T) {
	message := "my name is Anil, I love cricket and movies, i hate exams"
	first := Extract(message)
	second := Extract(message)
	assert.Equal(t, first, second, "same message must always yield the same facts")
}

func TestExtract_PreferredLanguage(t *testing.T) {
	facts := Extract("मुझे क्रिकेट पसंद है")
	assert.Equal(t, "hindi", facts.PreferredLanguage)

	facts = Extract("i like cricket")
	assert.Empty(t, facts.PreferredLanguage)
}

func TestExtract_ClampsLongFacts(t *testing.T) {
	long := strings.Repeat("x", 300)
	facts := Extract("i like " + long)
	require.Len(t, facts.Likes, 1)
	assert.Len(t, []rune(facts.Likes[0]), 100)
}

func TestFacts_Empty(t *testing.T) {
	assert.True(t, (&Facts{}).Empty())
	assert.False(t, (&Facts{Name: "Rahul"}).Empty())
	assert.False(t, (&Facts{Interests: []string{"sports"}}).Empty())
}

func TestFacts_Preferences(t *testing.T) {
	facts := &Facts{
		Name:              "Rahul",
		Location:          "Guwahati",
		PreferredLanguage: "assamese",
		Likes:             []string{"cricket"},
	}

	prefs := facts.Preferences()
	assert.Equal(t, "Rahul", prefs["name"])
	assert.Equal(t, "Guwahati", prefs["location"])
	assert.Equal(t, "assamese", prefs["preferred_language"])
	assert.Equal(t, []string{"cricket"}, prefs["likes"])
	_, ok := prefs["dislikes"]
	assert.False(t, ok, "empty fields should not appear in the delta")
}

func TestIsPersonalInfo(t *testing.T) {
	testCases := []struct {
		name    string
		message string
		want    bool
	}{
		{name: "name statement", message: "my name is Rahul", want: true},
		{name: "like statement", message: "I love momos", want: true},
		{name: "dislike statement", message: "i don't like rain", want: true},
		{name: "location statement", message: "i live in Shillong", want: true},
		{name: "plain question", message: "when is the next match", want: false},
		{name: "third person", message: "her name sounds nice", want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsPersonalInfo(tc.message))
		})
	}
}
