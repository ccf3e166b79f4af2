// Package learner extracts durable personal facts from free-form user
// messages and merges them into the profile. Extraction is rule based; there
// is no LLM in this path.
package learner

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/mydost/dost/ai/lang"
)

const maxFactLength = 100

// Facts are the extractable fields of one message.
type Facts struct {
	Name              string
	Location          string
	PreferredLanguage string
	Likes             []string
	Dislikes          []string
	Interests         []string
}

// Empty reports whether nothing was extracted.
func (f *Facts) Empty() bool {
	return f.Name == "" && f.Location == "" && f.PreferredLanguage == "" &&
		len(f.Likes) == 0 && len(f.Dislikes) == 0 && len(f.Interests) == 0
}

var (
	nameRe     = regexp.MustCompile(`(?i)\b(?:my name is|call me)\s+([\p{L}]+)`)
	locationRe = regexp.MustCompile(`(?i)\bi(?:'m| am)? (?:live in|from)\s+([^,.!?\n]+)`)
	likeRe     = regexp.MustCompile(`(?i)\bi (?:like|love)\s+([^,.!?\n]+)`)
	dislikeRe  = regexp.MustCompile(`(?i)\bi (?:hate|don'?t like)\s+([^,.!?\n]+)`)
)

// interestBuckets maps trigger keywords to interest tags. A sport keyword
// contributes both the generic "sports" tag and its own tag.
var interestBuckets = map[string][]string{
	"cricket":    {"sports", "cricket"},
	"football":   {"sports", "football"},
	"ipl":        {"sports", "cricket"},
	"kabaddi":    {"sports", "kabaddi"},
	"badminton":  {"sports", "badminton"},
	"hockey":     {"sports", "hockey"},
	"tennis":     {"sports", "tennis"},
	"match":      {"sports"},
	"technology": {"technology"},
	"tech":       {"technology"},
	"coding":     {"technology"},
	"programming": {"technology"},
	"computer":   {"technology"},
	"ai":         {"technology"},
	"movie":      {"entertainment"},
	"movies":     {"entertainment"},
	"music":      {"entertainment"},
	"song":       {"entertainment"},
	"bollywood":  {"entertainment"},
	"study":      {"education"},
	"exam":       {"education"},
	"homework":   {"education"},
	"school":     {"education"},
	"college":    {"education"},
}

// Extract pulls facts from one user message. The same message always yields
// the same facts; merging them twice changes nothing.
func Extract(message string) *Facts {
	facts := &Facts{}

	if m := nameRe.FindStringSubmatch(message); m != nil {
		facts.Name = capitalize(strings.ToLower(m[1]))
	}
	if m := locationRe.FindStringSubmatch(message); m != nil {
		facts.Location = clampFact(strings.TrimSpace(m[1]))
	}
	for _, m := range likeRe.FindAllStringSubmatch(message, -1) {
		facts.Likes = appendUnique(facts.Likes, clampFact(strings.TrimSpace(m[1])))
	}
	for _, m := range dislikeRe.FindAllStringSubmatch(message, -1) {
		facts.Dislikes = appendUnique(facts.Dislikes, clampFact(strings.TrimSpace(m[1])))
	}

	if detected := lang.Detect(message); detected != lang.English {
		facts.PreferredLanguage = string(detected)
	}

	lower := strings.ToLower(message)
	tags := map[string]bool{}
	for keyword, bucket := range interestBuckets {
		if containsWord(lower, keyword) {
			for _, tag := range bucket {
				tags[tag] = true
			}
		}
	}
	for tag := range tags {
		facts.Interests = append(facts.Interests, tag)
	}
	sort.Strings(facts.Interests)

	return facts
}

// Preferences renders the facts as a preference delta for the profile store.
// Keys overwrite; list values are deduplicated by the merge.
func (f *Facts) Preferences() map[string]any {
	prefs := map[string]any{}
	if f.Name != "" {
		prefs["name"] = f.Name
	}
	if f.Location != "" {
		prefs["location"] = f.Location
	}
	if f.PreferredLanguage != "" {
		prefs["preferred_language"] = f.PreferredLanguage
	}
	if len(f.Likes) > 0 {
		prefs["likes"] = f.Likes
	}
	if len(f.Dislikes) > 0 {
		prefs["dislikes"] = f.Dislikes
	}
	return prefs
}

// IsPersonalInfo reports whether the message contains a declarative statement
// about the user. Drives the personal-info metadata flag on stored memories.
func IsPersonalInfo(message string) bool {
	return nameRe.MatchString(message) ||
		locationRe.MatchString(message) ||
		likeRe.MatchString(message) ||
		dislikeRe.MatchString(message)
}

func capitalize(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func clampFact(s string) string {
	runes := []rune(s)
	if len(runes) > maxFactLength {
		return string(runes[:maxFactLength])
	}
	return s
}

func appendUnique(list []string, item string) []string {
	if item == "" {
		return list
	}
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
