package quota

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mydost/dost/ai/cache"
	"github.com/mydost/dost/store"
)

// Tiers.
const (
	TierGuest     = "guest"
	TierFree      = "free"
	TierLimited   = "limited"
	TierUnlimited = "unlimited"
)

// Denial reasons surfaced to the caller.
const (
	ReasonFreeLimitExceeded      = "free_limit_exceeded"
	ReasonDailyLimitExceeded     = "daily_limit_exceeded"
	ReasonLifetimeLimitExceeded  = "lifetime_limit_exceeded"
	ReasonSearchSubquotaExceeded = "search_subquota_exceeded"
)

// Plan is one subscription tier's allowances. Nil means unlimited.
type Plan struct {
	ID               string
	Name             string
	Price            string
	Total            *int
	Daily            *int
	SearchesPerDay   int
	LimitDescription string
}

func intPtr(v int) *int { return &v }

// Plans is the tier table, in upgrade order.
var Plans = []Plan{
	{ID: TierGuest, Name: "Guest", Price: "free", Total: intPtr(3), SearchesPerDay: 5, LimitDescription: "3 messages total"},
	{ID: TierFree, Name: "Free", Price: "free", Total: intPtr(10), SearchesPerDay: 10, LimitDescription: "10 messages total"},
	{ID: TierLimited, Name: "Limited", Price: "₹99/month", Daily: intPtr(50), SearchesPerDay: 50, LimitDescription: "50 messages per day"},
	{ID: TierUnlimited, Name: "Unlimited", Price: "₹299/month", SearchesPerDay: 50, LimitDescription: "unlimited messages"},
}

// PlanByID returns the plan for a tier, defaulting unknown tiers to free.
func PlanByID(tier string) Plan {
	for _, p := range Plans {
		if p.ID == tier {
			return p
		}
	}
	return Plans[1]
}

// Principal identifies who is sending a message.
type Principal struct {
	ID      string
	Tier    string
	IsGuest bool
}

// Fingerprint derives a stable 32-hex guest identity from request metadata.
func Fingerprint(clientIP, userAgent string) string {
	sum := md5.Sum([]byte(clientIP + "|" + userAgent))
	return hex.EncodeToString(sum[:])
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Reason  string
	Used    int
	Limit   int
	ResetAt *time.Time
}

// Limits are the operator-tunable quota knobs.
type Limits struct {
	GuestMessages int // lifetime, default 3
	GuestSearches int // per day, default 5
	FreeSearches  int // per day, default 10
	PaidSearches  int // per day, default 50
}

func (l Limits) withDefaults() Limits {
	if l.GuestMessages <= 0 {
		l.GuestMessages = 3
	}
	if l.GuestSearches <= 0 {
		l.GuestSearches = 5
	}
	if l.FreeSearches <= 0 {
		l.FreeSearches = 10
	}
	if l.PaidSearches <= 0 {
		l.PaidSearches = 50
	}
	return l
}

// Manager enforces message quotas and the web-search sub-quota.
type Manager struct {
	store  *store.Store
	kv     cache.KV
	limits Limits
}

// NewManager creates a quota Manager.
func NewManager(st *store.Store, kv cache.KV, limits Limits) *Manager {
	return &Manager{store: st, kv: kv, limits: limits.withDefaults()}
}

// Admit decides whether a principal may send one more message. Admission
// increments the counters; a denial changes nothing beyond the guest counter
// bump, which is part of the atomic check itself.
func (m *Manager) Admit(ctx context.Context, p Principal) (*Decision, error) {
	if p.IsGuest {
		return m.admitGuest(ctx, p.ID)
	}
	return m.admitRegistered(ctx, p)
}

func (m *Manager) admitGuest(ctx context.Context, fingerprint string) (*Decision, error) {
	count, err := m.store.IncrementGuestCounter(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("increment guest counter: %w", err)
	}
	if count > m.limits.GuestMessages {
		return &Decision{
			Allowed: false,
			Reason:  ReasonFreeLimitExceeded,
			Used:    m.limits.GuestMessages,
			Limit:   m.limits.GuestMessages,
		}, nil
	}
	return &Decision{Allowed: true, Used: count, Limit: m.limits.GuestMessages}, nil
}

func (m *Manager) admitRegistered(ctx context.Context, p Principal) (*Decision, error) {
	now := time.Now()
	ledger, err := m.store.EnsureQuotaLedger(ctx, p.ID, p.Tier, now.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("load quota ledger: %w", err)
	}

	if !now.Before(ledger.DailyResetAt) {
		resetAt := now.Add(24 * time.Hour)
		if err := m.store.ResetDailyQuota(ctx, p.ID, resetAt); err != nil {
			return nil, fmt.Errorf("reset daily quota: %w", err)
		}
		ledger.MessagesToday = 0
		ledger.DailyResetAt = resetAt
	}

	plan := PlanByID(ledger.Tier)
	if plan.Total != nil && ledger.MessagesLifetime >= *plan.Total {
		return &Decision{
			Allowed: false,
			Reason:  ReasonLifetimeLimitExceeded,
			Used:    ledger.MessagesLifetime,
			Limit:   *plan.Total,
		}, nil
	}
	if plan.Daily != nil && ledger.MessagesToday >= *plan.Daily {
		resetAt := ledger.DailyResetAt
		return &Decision{
			Allowed: false,
			Reason:  ReasonDailyLimitExceeded,
			Used:    ledger.MessagesToday,
			Limit:   *plan.Daily,
			ResetAt: &resetAt,
		}, nil
	}

	if err := m.store.IncrementQuotaCounters(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("increment quota counters: %w", err)
	}

	used := ledger.MessagesLifetime + 1
	limit := 0
	if plan.Total != nil {
		limit = *plan.Total
	}
	if plan.Daily != nil {
		used = ledger.MessagesToday + 1
		limit = *plan.Daily
	}
	return &Decision{Allowed: true, Used: used, Limit: limit}, nil
}

func searchCountKey(principalID string) string {
	return "ws_count:" + principalID
}

// SearchCount returns how many fresh web searches the principal spent today.
func (m *Manager) SearchCount(ctx context.Context, p Principal) int {
	raw, ok := m.kv.Get(ctx, searchCountKey(p.ID))
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return count
}

// AllowSearch reports whether one more fresh web search fits the sub-quota.
// It does not spend the allowance; call ConsumeSearch when the provider is
// actually hit. Cached search reads are free.
func (m *Manager) AllowSearch(ctx context.Context, p Principal) bool {
	return m.SearchCount(ctx, p) < m.searchLimit(p)
}

func (m *Manager) searchLimit(p Principal) int {
	switch {
	case p.IsGuest:
		return m.limits.GuestSearches
	case p.Tier == TierLimited || p.Tier == TierUnlimited:
		return m.limits.PaidSearches
	default:
		return m.limits.FreeSearches
	}
}

// ConsumeSearch spends one unit of the web-search sub-quota. The counter
// lives in the cache layer with a 24 h window; the increment is atomic so
// concurrent searches cannot collapse into one unit.
func (m *Manager) ConsumeSearch(ctx context.Context, p Principal) {
	count := m.kv.Increment(ctx, searchCountKey(p.ID), 24*time.Hour)
	slog.Debug("web search consumed", "principal", p.ID, "count", count)
}
