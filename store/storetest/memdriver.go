// Package storetest provides an in-memory store.Driver for tests. It mirrors
// the PostgreSQL driver's semantics closely enough to exercise quota,
// retrieval, and orchestration logic without a database.
package storetest

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mydost/dost/store"
)

// MemDriver is an in-memory store.Driver.
type MemDriver struct {
	mu sync.Mutex

	nextID        int64
	Messages      []*store.Message
	Memories      []*store.MemoryRecord
	Profiles      map[string]*store.UserProfile
	Predictions   []*store.Prediction
	Ledgers       map[string]*store.QuotaLedger
	GuestCounters map[string]int

	// Degraded simulates a missing vector extension.
	Degraded bool

	// Now is injectable for expiry tests; defaults to time.Now.
	Now func() time.Time
}

// New creates an empty MemDriver.
func New() *MemDriver {
	return &MemDriver{
		Profiles:      map[string]*store.UserProfile{},
		Ledgers:       map[string]*store.QuotaLedger{},
		GuestCounters: map[string]int{},
		Now:           time.Now,
	}
}

func (d *MemDriver) GetDB() *sql.DB { return nil }
func (d *MemDriver) Close() error   { return nil }

func (d *MemDriver) Migrate(_ context.Context) error { return nil }

func (d *MemDriver) VectorEnabled() bool { return !d.Degraded }

func (d *MemDriver) nextid() int64 {
	d.nextID++
	return d.nextID
}

func (d *MemDriver) CreateMessage(_ context.Context, create *store.Message) (*store.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(create.Content) > store.MaxMessageContentBytes {
		create.Content = create.Content[:store.MaxMessageContentBytes]
	}
	create.ID = d.nextid()
	create.CreatedAt = d.Now()
	d.Messages = append(d.Messages, create)
	return create, nil
}

func (d *MemDriver) ListMessages(_ context.Context, find *store.FindMessage) ([]*store.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := []*store.Message{}
	for _, m := range d.Messages {
		if find.ConversationID != nil && m.ConversationID != *find.ConversationID {
			continue
		}
		if find.UserID != nil && m.UserID != *find.UserID {
			continue
		}
		list = append(list, m)
	}
	if find.Limit > 0 && len(list) > find.Limit {
		list = list[len(list)-find.Limit:]
	}
	return list, nil
}

func (d *MemDriver) ListConversationSummaries(_ context.Context, userID string, limit int) ([]*store.ConversationSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byConversation := map[string]*store.ConversationSummary{}
	order := []string{}
	for _, m := range d.Messages {
		if m.UserID != userID {
			continue
		}
		summary, ok := byConversation[m.ConversationID]
		if !ok {
			summary = &store.ConversationSummary{
				ConversationID: m.ConversationID,
				CreatedAt:      m.CreatedAt,
			}
			byConversation[m.ConversationID] = summary
			order = append(order, m.ConversationID)
		}
		summary.MessageCount++
		summary.UpdatedAt = m.CreatedAt
		if summary.Preview == "" && m.Role == store.RoleUser {
			preview := m.Content
			if len(preview) > 120 {
				preview = preview[:120]
			}
			summary.Preview = preview
		}
	}
	list := make([]*store.ConversationSummary, 0, len(order))
	for _, id := range order {
		list = append(list, byConversation[id])
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (d *MemDriver) DeleteConversation(_ context.Context, conversationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.Messages[:0]
	for _, m := range d.Messages {
		if m.ConversationID != conversationID {
			kept = append(kept, m)
		}
	}
	d.Messages = kept
	return nil
}

func (d *MemDriver) DeleteAllConversations(_ context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.Messages[:0]
	for _, m := range d.Messages {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	d.Messages = kept
	return nil
}

func (d *MemDriver) CreateMemory(_ context.Context, create *store.MemoryRecord) (*store.MemoryRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Degraded {
		return create, nil
	}
	create.ID = d.nextid()
	create.CreatedAt = d.Now()
	d.Memories = append(d.Memories, create)
	return create, nil
}

func (d *MemDriver) VectorSearch(_ context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryWithScore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Degraded {
		return []*store.MemoryWithScore{}, nil
	}
	results := []*store.MemoryWithScore{}
	for _, m := range d.Memories {
		if m.UserID != opts.UserID {
			continue
		}
		if opts.Type != nil && m.Type != *opts.Type {
			continue
		}
		similarity := cosine(opts.Vector, m.Embedding)
		if opts.Threshold > 0 && similarity < opts.Threshold {
			continue
		}
		results = append(results, &store.MemoryWithScore{MemoryRecord: m, Similarity: similarity})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (d *MemDriver) DeleteUserMemories(_ context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.Memories[:0]
	for _, m := range d.Memories {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	d.Memories = kept
	return nil
}

func (d *MemDriver) DeleteConversationMemories(_ context.Context, conversationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.Memories[:0]
	for _, m := range d.Memories {
		if m.ConversationID != conversationID {
			kept = append(kept, m)
		}
	}
	d.Memories = kept
	return nil
}

func (d *MemDriver) GetUserProfile(_ context.Context, find *store.FindUserProfile) (*store.UserProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Profiles[find.UserID], nil
}

func (d *MemDriver) UpsertUserProfile(_ context.Context, upsert *store.UpsertUserProfile) (*store.UserProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	profile, ok := d.Profiles[upsert.UserID]
	if !ok {
		profile = &store.UserProfile{
			UserID:      upsert.UserID,
			Preferences: map[string]any{},
			FirstSeen:   d.Now(),
		}
		d.Profiles[upsert.UserID] = profile
	}
	for k, v := range upsert.Preferences {
		profile.Preferences[k] = v
	}
	for _, interest := range upsert.Interests {
		found := false
		for _, existing := range profile.Interests {
			if existing == interest {
				found = true
				break
			}
		}
		if !found {
			profile.Interests = append(profile.Interests, interest)
		}
	}
	if upsert.IncrementMessages {
		profile.TotalMessages++
	}
	profile.LastActive = d.Now()
	return profile, nil
}

func (d *MemDriver) DeleteUserProfile(_ context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Profiles, userID)
	return nil
}

func (d *MemDriver) CreatePrediction(_ context.Context, create *store.Prediction) (*store.Prediction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	create.ID = d.nextid()
	create.CreatedAt = d.Now()
	create.MatchDetails = store.NormalizeMatchDetails(create.MatchDetails)
	create.Active = true
	d.Predictions = append(d.Predictions, create)
	return create, nil
}

func (d *MemDriver) GetActivePrediction(_ context.Context, find *store.FindPrediction) (*store.Prediction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	normalized := store.NormalizeMatchDetails(find.MatchDetails)
	var newest *store.Prediction
	for _, p := range d.Predictions {
		if !p.Active || !p.ExpiresAt.After(d.Now()) {
			continue
		}
		if p.Sport != find.Sport || p.QueryType != find.QueryType || p.MatchDetails != normalized {
			continue
		}
		if newest == nil || p.ID > newest.ID {
			newest = p
		}
	}
	if newest == nil {
		return nil, nil
	}
	newest.ViewCount++
	return newest, nil
}

func (d *MemDriver) ListPopularPredictions(_ context.Context, sport string, limit int) ([]*store.Prediction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := []*store.Prediction{}
	for _, p := range d.Predictions {
		if !p.Active || !p.ExpiresAt.After(d.Now()) {
			continue
		}
		if sport != "" && !strings.EqualFold(p.Sport, sport) {
			continue
		}
		list = append(list, p)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].ViewCount > list[j].ViewCount
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (d *MemDriver) DeactivateExpiredPredictions(_ context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var swept int64
	for _, p := range d.Predictions {
		if p.Active && !p.ExpiresAt.After(d.Now()) {
			p.Active = false
			swept++
		}
	}
	return swept, nil
}

func (d *MemDriver) GetQuotaLedger(_ context.Context, userID string) (*store.QuotaLedger, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Ledgers[userID], nil
}

func (d *MemDriver) EnsureQuotaLedger(_ context.Context, userID, tier string, resetAt time.Time) (*store.QuotaLedger, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ledger, ok := d.Ledgers[userID]
	if !ok {
		ledger = &store.QuotaLedger{UserID: userID, Tier: tier, DailyResetAt: resetAt}
		d.Ledgers[userID] = ledger
	} else {
		ledger.Tier = tier
	}
	copied := *ledger
	return &copied, nil
}

func (d *MemDriver) ResetDailyQuota(_ context.Context, userID string, resetAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ledger, ok := d.Ledgers[userID]; ok {
		ledger.MessagesToday = 0
		ledger.DailyResetAt = resetAt
	}
	return nil
}

func (d *MemDriver) IncrementQuotaCounters(_ context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ledger, ok := d.Ledgers[userID]; ok {
		ledger.MessagesLifetime++
		ledger.MessagesToday++
	}
	return nil
}

func (d *MemDriver) IncrementGuestCounter(_ context.Context, fingerprint string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.GuestCounters[fingerprint]++
	return d.GuestCounters[fingerprint], nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
