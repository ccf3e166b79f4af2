package store

import "time"

// MemoryType classifies a stored memory record.
type MemoryType string

const (
	MemoryTypeConversation MemoryType = "conversation"
	MemoryTypeDocument     MemoryType = "document"
	MemoryTypeKnowledge    MemoryType = "knowledge"
)

// SharedKnowledgeUserID is the system pseudo-user that owns the public
// knowledge namespace searched for every principal.
const SharedKnowledgeUserID = "system:knowledge"

// MemoryRecord is one entry in the per-user vector memory.
type MemoryRecord struct {
	ID             int64
	UserID         string
	ConversationID string // empty when not tied to a conversation
	Type           MemoryType
	Content        string
	Embedding      []float32
	Metadata       map[string]any
	CreatedAt      time.Time
}

// MemoryWithScore is a vector search hit.
type MemoryWithScore struct {
	*MemoryRecord
	Similarity float64
}

// VectorSearchOptions specifies a cosine-similarity top-k search.
type VectorSearchOptions struct {
	UserID    string
	Vector    []float32
	Limit     int
	Threshold float64 // minimum 1 - cosine_distance, 0 disables
	Type      *MemoryType
}
