package store

import (
	"context"
	"database/sql"
	"time"
)

// Driver is an interface for database drivers.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error

	// VectorEnabled reports whether the vector extension initialized.
	// When false, memory operations run in degraded mode (empty results).
	VectorEnabled() bool

	// Conversation log (durable, available even when the vector index is not).
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	ListConversationSummaries(ctx context.Context, userID string, limit int) ([]*ConversationSummary, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	DeleteAllConversations(ctx context.Context, userID string) error

	// Vector memory.
	CreateMemory(ctx context.Context, create *MemoryRecord) (*MemoryRecord, error)
	VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*MemoryWithScore, error)
	DeleteUserMemories(ctx context.Context, userID string) error
	DeleteConversationMemories(ctx context.Context, conversationID string) error

	// User profiles.
	GetUserProfile(ctx context.Context, find *FindUserProfile) (*UserProfile, error)
	UpsertUserProfile(ctx context.Context, upsert *UpsertUserProfile) (*UserProfile, error)
	DeleteUserProfile(ctx context.Context, userID string) error

	// Prediction cache.
	CreatePrediction(ctx context.Context, create *Prediction) (*Prediction, error)
	GetActivePrediction(ctx context.Context, find *FindPrediction) (*Prediction, error)
	ListPopularPredictions(ctx context.Context, sport string, limit int) ([]*Prediction, error)
	DeactivateExpiredPredictions(ctx context.Context) (int64, error)

	// Quota ledgers.
	GetQuotaLedger(ctx context.Context, userID string) (*QuotaLedger, error)
	EnsureQuotaLedger(ctx context.Context, userID, tier string, resetAt time.Time) (*QuotaLedger, error)
	ResetDailyQuota(ctx context.Context, userID string, resetAt time.Time) error
	IncrementQuotaCounters(ctx context.Context, userID string) error
	IncrementGuestCounter(ctx context.Context, fingerprint string) (int, error)
}
