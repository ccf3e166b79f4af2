package store

import "time"

// QuotaLedger holds the per-user admission counters.
// messages_today is reset on the first admit after DailyResetAt.
type QuotaLedger struct {
	UserID           string
	Tier             string
	MessagesLifetime int
	MessagesToday    int
	DailyResetAt     time.Time
}

// GuestCounter is the lifetime message counter for an anonymous fingerprint.
type GuestCounter struct {
	Fingerprint  string
	MessageCount int
	CreatedAt    time.Time
}
