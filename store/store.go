package store

import (
	"context"
	"time"

	"github.com/mydost/dost/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) VectorEnabled() bool {
	return s.driver.VectorEnabled()
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) ListConversationSummaries(ctx context.Context, userID string, limit int) ([]*ConversationSummary, error) {
	return s.driver.ListConversationSummaries(ctx, userID, limit)
}

func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	return s.driver.DeleteConversation(ctx, conversationID)
}

func (s *Store) DeleteAllConversations(ctx context.Context, userID string) error {
	return s.driver.DeleteAllConversations(ctx, userID)
}

func (s *Store) CreateMemory(ctx context.Context, create *MemoryRecord) (*MemoryRecord, error) {
	return s.driver.CreateMemory(ctx, create)
}

func (s *Store) VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*MemoryWithScore, error) {
	return s.driver.VectorSearch(ctx, opts)
}

func (s *Store) DeleteUserMemories(ctx context.Context, userID string) error {
	return s.driver.DeleteUserMemories(ctx, userID)
}

func (s *Store) DeleteConversationMemories(ctx context.Context, conversationID string) error {
	return s.driver.DeleteConversationMemories(ctx, conversationID)
}

func (s *Store) GetUserProfile(ctx context.Context, find *FindUserProfile) (*UserProfile, error) {
	return s.driver.GetUserProfile(ctx, find)
}

func (s *Store) UpsertUserProfile(ctx context.Context, upsert *UpsertUserProfile) (*UserProfile, error) {
	return s.driver.UpsertUserProfile(ctx, upsert)
}

func (s *Store) DeleteUserProfile(ctx context.Context, userID string) error {
	return s.driver.DeleteUserProfile(ctx, userID)
}

func (s *Store) CreatePrediction(ctx context.Context, create *Prediction) (*Prediction, error) {
	return s.driver.CreatePrediction(ctx, create)
}

func (s *Store) GetActivePrediction(ctx context.Context, find *FindPrediction) (*Prediction, error) {
	return s.driver.GetActivePrediction(ctx, find)
}

func (s *Store) ListPopularPredictions(ctx context.Context, sport string, limit int) ([]*Prediction, error) {
	return s.driver.ListPopularPredictions(ctx, sport, limit)
}

func (s *Store) DeactivateExpiredPredictions(ctx context.Context) (int64, error) {
	return s.driver.DeactivateExpiredPredictions(ctx)
}

func (s *Store) GetQuotaLedger(ctx context.Context, userID string) (*QuotaLedger, error) {
	return s.driver.GetQuotaLedger(ctx, userID)
}

func (s *Store) EnsureQuotaLedger(ctx context.Context, userID, tier string, resetAt time.Time) (*QuotaLedger, error) {
	return s.driver.EnsureQuotaLedger(ctx, userID, tier, resetAt)
}

func (s *Store) ResetDailyQuota(ctx context.Context, userID string, resetAt time.Time) error {
	return s.driver.ResetDailyQuota(ctx, userID, resetAt)
}

func (s *Store) IncrementQuotaCounters(ctx context.Context, userID string) error {
	return s.driver.IncrementQuotaCounters(ctx, userID)
}

func (s *Store) IncrementGuestCounter(ctx context.Context, fingerprint string) (int, error) {
	return s.driver.IncrementGuestCounter(ctx, fingerprint)
}

// DeleteUserData removes everything a user owns: messages, vector memories,
// and the profile row. Right-to-delete entry point.
func (s *Store) DeleteUserData(ctx context.Context, userID string) error {
	if err := s.driver.DeleteAllConversations(ctx, userID); err != nil {
		return err
	}
	if err := s.driver.DeleteUserMemories(ctx, userID); err != nil {
		return err
	}
	return s.driver.DeleteUserProfile(ctx, userID)
}
