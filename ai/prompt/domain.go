package prompt

import (
	"regexp"
	"strings"
)

// Domain tags a turn for template selection and the freshness policy.
type Domain string

const (
	DomainPrediction Domain = "prediction"
	DomainEducation  Domain = "education"
	DomainNews       Domain = "news"
	DomainHoroscope  Domain = "horoscope"
	DomainNotes      Domain = "notes"
	DomainGeneric    Domain = "generic"
)

var domainKeywords = []struct {
	domain   Domain
	keywords []string
}{
	{DomainPrediction, []string{"prediction", "predict", " vs ", "vs.", "probable xi", "playing xi", "who will win", "match today", "toss", "forecast", "dream11"}},
	{DomainNews, []string{"news", "headline", "headlines", "top stories", "breaking", "latest update"}},
	{DomainHoroscope, []string{"horoscope", "zodiac", "rashifal", "aries", "taurus", "gemini", "cancer", "leo", "virgo", "libra", "scorpio", "sagittarius", "capricorn", "aquarius", "pisces"}},
	{DomainNotes, []string{"note this", "save this", "todo", "to-do", "remind me to"}},
	{DomainEducation, []string{"explain", "lesson", "homework", "notes on", "syllabus", "teach me", "solve this"}},
}

// Classify tags the query with the first matching domain, generic otherwise.
func Classify(query string) Domain {
	q := " " + strings.ToLower(query) + " "
	for _, d := range domainKeywords {
		for _, kw := range d.keywords {
			if strings.Contains(q, kw) {
				return d.domain
			}
		}
	}
	return DomainGeneric
}

var sportNames = []string{"cricket", "football", "kabaddi", "hockey", "tennis", "badminton", "basketball"}

// DetectSport names the sport a prediction query is about, defaulting to
// cricket, which dominates our traffic.
func DetectSport(query string) string {
	q := strings.ToLower(query)
	for _, sport := range sportNames {
		if strings.Contains(q, sport) {
			return sport
		}
	}
	return "cricket"
}

var matchDetailsRe = regexp.MustCompile(`(?i)([\p{L}\d .']+?)\s+vs\.?\s+([\p{L}\d .']+)`)

// ExtractMatchDetails pulls the "X vs Y" pair out of a prediction query.
// Empty when the query names no matchup.
func ExtractMatchDetails(query string) string {
	m := matchDetailsRe.FindStringSubmatch(query)
	if m == nil {
		return ""
	}
	left := strings.TrimSpace(m[1])
	right := strings.TrimSpace(m[2])
	// Trim trailing filler like "prediction" from the right side.
	for _, filler := range []string{"prediction", "predict", "match", "today", "forecast"} {
		if idx := strings.Index(strings.ToLower(right), filler); idx >= 0 {
			right = strings.TrimSpace(right[:idx])
		}
	}
	if left == "" || right == "" {
		return ""
	}
	return left + " vs " + right
}

var timeSensitiveKeywords = []string{
	"today", "tonight", "tomorrow", "yesterday", "right now", "currently",
	"latest", "live", "score", "breaking", "update", "weather", "aaj", "abhi",
}

// NeedsFreshData applies the freshness policy: an explicit request, a
// time-sensitive keyword, or a sports-prediction turn triggers the web
// evidence pipeline.
func NeedsFreshData(query string, explicit bool, domain Domain) bool {
	if explicit {
		return true
	}
	if domain == DomainPrediction || domain == DomainNews {
		return true
	}
	q := strings.ToLower(query)
	for _, kw := range timeSensitiveKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
