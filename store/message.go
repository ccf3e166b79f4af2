package store

import "time"

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MaxMessageContentBytes bounds stored message content. Longer content is
// truncated on write, never rejected.
const MaxMessageContentBytes = 4096

// Message is one turn in a conversation.
type Message struct {
	ID             int64
	ConversationID string
	UserID         string
	Role           Role
	Content        string
	CreatedAt      time.Time
}

// FindMessage specifies the conditions for listing messages.
type FindMessage struct {
	ConversationID *string
	UserID         *string
	Limit          int
}

// ConversationSummary is the side-bar listing entry for a conversation.
type ConversationSummary struct {
	ConversationID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	MessageCount   int
	Preview        string // first user message, truncated to 120 chars
}
