package store

import "time"

// UserProfile tracks learned preferences and interests for a registered user.
// Guests never have a profile row.
type UserProfile struct {
	UserID            string
	Preferences       map[string]any
	Interests         []string
	ConversationCount int
	TotalMessages     int
	FirstSeen         time.Time
	LastActive        time.Time
}

// UpsertUserProfile specifies a profile merge. Preferences overwrite by key,
// interests are union-merged, neither ever shrinks automatically.
type UpsertUserProfile struct {
	UserID            string
	Preferences       map[string]any
	Interests         []string
	IncrementMessages bool
}

// FindUserProfile specifies the conditions for finding a user profile.
type FindUserProfile struct {
	UserID string
}
