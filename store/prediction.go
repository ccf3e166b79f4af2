package store

import (
	"strings"
	"time"
)

// Prediction is a shared, cross-user bundle of analyzed web evidence for a
// sports query. Lookup is by (sport, query_type, normalized match details);
// at most one active bundle per tuple is returned (latest wins).
type Prediction struct {
	ID           int64
	UID          string
	Sport        string
	QueryType    string
	MatchDetails string // normalized: lowercased, whitespace-collapsed
	Analysis     string
	Sources      []Citation
	ViewCount    int
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Active       bool
}

// Citation points at one web source attached to an answer.
type Citation struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// FindPrediction specifies a prediction cache lookup tuple.
// MatchDetails is normalized by the driver before comparison.
type FindPrediction struct {
	Sport        string
	QueryType    string
	MatchDetails string
}

// NormalizeMatchDetails canonicalizes a match descriptor so that
// "India  vs Australia " and "india vs australia" share one cache entry.
func NormalizeMatchDetails(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
