// Package orchestrator runs one chat turn end to end: admission, context
// assembly across memory and web evidence, the single LLM call, and
// best-effort persistence of everything learned along the way.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/errgroup"

	"github.com/mydost/dost/ai/cache"
	"github.com/mydost/dost/ai/core/embedding"
	"github.com/mydost/dost/ai/core/llm"
	"github.com/mydost/dost/ai/lang"
	"github.com/mydost/dost/ai/learner"
	"github.com/mydost/dost/ai/prompt"
	"github.com/mydost/dost/ai/quota"
	"github.com/mydost/dost/ai/rag"
	"github.com/mydost/dost/ai/scrape"
	"github.com/mydost/dost/ai/search"
	"github.com/mydost/dost/internal/profile"
	"github.com/mydost/dost/store"
)

const (
	responseCachePrefix = "query_response"

	// Top search results handed to the scraper per turn.
	evidenceResultLimit = 5

	// Per-branch deadlines inside the fan-out. Expiry yields an empty
	// contribution, never a failed turn.
	ragStageTimeout      = 20 * time.Second
	evidenceStageTimeout = 45 * time.Second

	conversationSeedLimit = 50
	sportsQueryType       = "match_prediction"
	generalQueryType      = "general_analysis"
)

// Request is one incoming chat turn.
type Request struct {
	UserID           string // empty for guests
	Tier             string
	ConversationID   string
	Message          string
	IncludeWebSearch bool

	// Fingerprint material, used only when UserID is empty.
	ClientIP  string
	UserAgent string
}

// Response is the completed turn.
type Response struct {
	UserID         string           `json:"user_id"`
	ConversationID string           `json:"conversation_id"`
	Message        string           `json:"message"`
	Response       string           `json:"response"`
	Language       string           `json:"language"`
	TokensUsed     int              `json:"tokens_used"`
	Sources        []store.Citation `json:"sources"`
	Timestamp      time.Time        `json:"timestamp"`
}

// QuotaDeniedError is returned when admission fails. It carries what a client
// needs to render an upgrade path.
type QuotaDeniedError struct {
	Reason  string
	Used    int
	Limit   int
	ResetAt *time.Time
}

func (e *QuotaDeniedError) Error() string {
	return fmt.Sprintf("quota denied: %s (used %d of %d)", e.Reason, e.Used, e.Limit)
}

// guestSession holds what we learn about a guest during their short life.
// Never persisted.
type guestSession struct {
	Profile *store.UserProfile
}

// Service wires the turn pipeline together.
type Service struct {
	profile  *profile.Profile
	store    *store.Store
	kv       cache.KV
	quota    *quota.Manager
	llm      llm.Service
	embedder embedding.Service
	rag      *rag.Service
	search   *search.Service
	scrape   *scrape.Service

	// Hot conversation windows, keyed by conversation id.
	conversations *cache.LRUCache[string, []*store.Message]
	// Session-only guest profiles, keyed by fingerprint.
	guests *cache.LRUCache[string, *guestSession]
}

// NewService creates the orchestrator.
func NewService(
	prof *profile.Profile,
	st *store.Store,
	kv cache.KV,
	quotaManager *quota.Manager,
	llmService llm.Service,
	embedder embedding.Service,
	ragService *rag.Service,
	searchService *search.Service,
	scrapeService *scrape.Service,
) *Service {
	return &Service{
		profile:       prof,
		store:         st,
		kv:            kv,
		quota:         quotaManager,
		llm:           llmService,
		embedder:      embedder,
		rag:           ragService,
		search:        searchService,
		scrape:        scrapeService,
		conversations: cache.NewLRUCache[string, []*store.Message](500, 30*time.Minute),
		guests:        cache.NewLRUCache[string, *guestSession](2000, time.Hour),
	}
}

// HandleTurn runs the full per-turn algorithm. The only hard failures are
// quota denial (QuotaDeniedError) and LLM failure; everything else degrades.
func (s *Service) HandleTurn(ctx context.Context, req *Request) (*Response, error) {
	started := time.Now()

	principal := s.resolvePrincipal(req)

	decision, err := s.quota.Admit(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("quota check: %w", err)
	}
	if !decision.Allowed {
		quotaDenialsTotal.WithLabelValues(decision.Reason).Inc()
		turnsTotal.WithLabelValues(principal.Tier, "denied").Inc()
		return nil, &QuotaDeniedError{
			Reason:  decision.Reason,
			Used:    decision.Used,
			Limit:   decision.Limit,
			ResetAt: decision.ResetAt,
		}
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = shortuuid.New()
	}
	history := s.loadHistory(ctx, conversationID)

	language := lang.Detect(req.Message)

	userMsg, err := s.store.CreateMessage(ctx, &store.Message{
		ConversationID: conversationID,
		UserID:         principal.ID,
		Role:           store.RoleUser,
		Content:        req.Message,
	})
	if err != nil {
		// The turn can still answer; only durable history suffers.
		slog.Warn("failed to persist user message", "error", err)
		userMsg = &store.Message{ConversationID: conversationID, UserID: principal.ID, Role: store.RoleUser, Content: req.Message}
	}
	history = append(history, userMsg)

	domain := prompt.Classify(req.Message)
	freshNeeded := prompt.NeedsFreshData(req.Message, req.IncludeWebSearch, domain)

	if !freshNeeded {
		if cached, ok := s.cachedResponse(ctx, principal.ID, req.Message); ok {
			responseCacheTotal.WithLabelValues("hit").Inc()
			resp := s.finishTurn(ctx, principal, conversationID, req.Message, cached, nil, language, 0, history)
			turnsTotal.WithLabelValues(principal.Tier, "cached").Inc()
			turnDuration.Observe(time.Since(started).Seconds())
			return resp, nil
		}
		responseCacheTotal.WithLabelValues("miss").Inc()
	}

	if freshNeeded {
		// Prediction turns proceed even with the allowance spent: the shared
		// bundle read is free, and webEvidence re-checks the sub-quota before
		// hitting a provider.
		searchAllowed := s.quota.AllowSearch(ctx, principal) || s.search.HasCachedResults(ctx, req.Message)
		if !searchAllowed && domain != prompt.DomainPrediction {
			// Fresh data wanted, allowance spent, nothing cached.
			canned := lang.ServiceMessage("search_quota_exceeded", language)
			resp := s.finishTurn(ctx, principal, conversationID, req.Message, canned, nil, language, 0, history)
			turnsTotal.WithLabelValues(principal.Tier, "search_quota").Inc()
			turnDuration.Observe(time.Since(started).Seconds())
			return resp, nil
		}
	}

	ragContext, evidence := s.fanOut(ctx, principal, req.Message, domain, freshNeeded, history[:len(history)-1])

	systemPrompt := prompt.Compose(&prompt.Input{
		Domain:        domain,
		Language:      language,
		ProfileHeader: s.profileHeader(ctx, principal),
		Evidence:      evidence.text,
		Citations:     evidence.citations,
		RAGContext:    ragContext,
		FreshRequired: freshNeeded,
	})

	messages := append([]llm.Message{llm.SystemPrompt(systemPrompt)}, prompt.HistoryMessages(history)...)
	answer, stats, err := s.llm.Chat(ctx, messages)
	if err != nil {
		turnsTotal.WithLabelValues(principal.Tier, "llm_error").Inc()
		return nil, fmt.Errorf("llm call: %w", err)
	}
	tokensUsed := 0
	if stats != nil {
		tokensUsed = stats.TotalTokens
		llmTokensTotal.Add(float64(stats.TotalTokens))
	}

	if evidence.writeBack != nil {
		s.writeBackPrediction(ctx, evidence.writeBack, answer)
	}

	if !freshNeeded {
		s.cacheResponse(ctx, principal.ID, req.Message, answer)
	}

	resp := s.finishTurn(ctx, principal, conversationID, req.Message, answer, evidence.citations, language, tokensUsed, history)
	turnsTotal.WithLabelValues(principal.Tier, "ok").Inc()
	turnDuration.Observe(time.Since(started).Seconds())
	return resp, nil
}

func (s *Service) resolvePrincipal(req *Request) quota.Principal {
	if req.UserID != "" {
		tier := req.Tier
		if tier == "" {
			tier = quota.TierFree
		}
		return quota.Principal{ID: req.UserID, Tier: tier}
	}
	return quota.Principal{
		ID:      quota.Fingerprint(req.ClientIP, req.UserAgent),
		Tier:    quota.TierGuest,
		IsGuest: true,
	}
}

func (s *Service) loadHistory(ctx context.Context, conversationID string) []*store.Message {
	if history, ok := s.conversations.Get(conversationID); ok {
		return history
	}
	messages, err := s.store.ListMessages(ctx, &store.FindMessage{
		ConversationID: &conversationID,
		Limit:          conversationSeedLimit,
	})
	if err != nil {
		slog.Warn("failed to seed conversation history", "conversation_id", conversationID, "error", err)
		return []*store.Message{}
	}
	return messages
}

type evidenceBundle struct {
	text      string
	citations []store.Citation
	// writeBack is set on a sports prediction cache miss; the bundle is
	// completed with the LLM's analysis after the call.
	writeBack *store.Prediction
}

// fanOut runs memory retrieval and the web evidence pipeline concurrently.
// Both branches absorb their own failures.
func (s *Service) fanOut(ctx context.Context, p quota.Principal, message string, domain prompt.Domain, wantEvidence bool, priorHistory []*store.Message) (string, evidenceBundle) {
	var ragContext string
	var evidence evidenceBundle

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		if p.IsGuest || !rag.ShouldUseRAG(message) {
			return nil
		}
		ragCtx, cancel := context.WithTimeout(ctx, ragStageTimeout)
		defer cancel()
		ragContext = s.rag.BuildContext(ragCtx, p.ID, message, isPaidTier(p.Tier), priorHistory)
		return nil
	})

	g.Go(func() error {
		if !wantEvidence {
			return nil
		}
		evCtx, cancel := context.WithTimeout(ctx, evidenceStageTimeout)
		defer cancel()
		evidence = s.gatherEvidence(evCtx, p, message, domain)
		return nil
	})

	_ = g.Wait()
	return ragContext, evidence
}

func (s *Service) gatherEvidence(ctx context.Context, p quota.Principal, message string, domain prompt.Domain) evidenceBundle {
	if domain == prompt.DomainPrediction {
		if bundle, ok := s.predictionEvidence(ctx, p, message); ok {
			return bundle
		}
	}
	return s.webEvidence(ctx, p, message, domain)
}

// predictionEvidence consults the shared prediction cache. Matchup queries
// key on the extracted "X vs Y" pairing; open-ended prediction queries share
// a slower-moving general bundle keyed by the normalized query. On a miss it
// primes a write-back bundle and falls through to the web pipeline.
func (s *Service) predictionEvidence(ctx context.Context, p quota.Principal, message string) (evidenceBundle, bool) {
	sport := prompt.DetectSport(message)
	queryType := sportsQueryType
	ttlHours := s.profile.PredictionTTLSports
	matchDetails := prompt.ExtractMatchDetails(message)
	if matchDetails == "" {
		queryType = generalQueryType
		ttlHours = s.profile.PredictionTTLGeneral
		matchDetails = store.NormalizeMatchDetails(message)
	}

	prediction, err := s.store.GetActivePrediction(ctx, &store.FindPrediction{
		Sport:        sport,
		QueryType:    queryType,
		MatchDetails: matchDetails,
	})
	if err != nil {
		slog.Warn("prediction cache lookup failed", "error", err)
		return evidenceBundle{}, false
	}
	if prediction != nil {
		predictionCacheTotal.WithLabelValues("hit").Inc()
		return evidenceBundle{
			text:      "Cached match analysis:\n" + prediction.Analysis,
			citations: prediction.Sources,
		}, true
	}

	predictionCacheTotal.WithLabelValues("miss").Inc()
	bundle := s.webEvidence(ctx, p, message, prompt.DomainPrediction)
	if bundle.text != "" {
		bundle.writeBack = &store.Prediction{
			UID:          uuid.NewString(),
			Sport:        sport,
			QueryType:    queryType,
			MatchDetails: matchDetails,
			Sources:      bundle.citations,
			ExpiresAt:    time.Now().Add(time.Duration(ttlHours) * time.Hour),
		}
	}
	return bundle, true
}

// webEvidence searches, scrapes the top results, and builds the numbered
// evidence block. A fresh provider call spends one unit of the sub-quota;
// cache hits are free.
func (s *Service) webEvidence(ctx context.Context, p quota.Principal, message string, domain prompt.Domain) evidenceBundle {
	if !s.profile.IsSearchEnabled() {
		return evidenceBundle{}
	}

	cached := s.search.HasCachedResults(ctx, message)
	if !cached {
		if !s.quota.AllowSearch(ctx, p) {
			return evidenceBundle{}
		}
		s.quota.ConsumeSearch(ctx, p)
	}

	resp := s.search.Search(ctx, message, evidenceResultLimit)
	searchCallsTotal.WithLabelValues(resp.Provider).Inc()
	if len(resp.Results) == 0 {
		return evidenceBundle{}
	}

	fetchedAt := time.Now().UTC()
	citations := search.ExtractCitations(resp.Results, fetchedAt)

	var b []byte
	b = append(b, "Web evidence:\n"...)
	for i, result := range resp.Results {
		b = append(b, fmt.Sprintf("[%d] %s\n%s\n", i+1, result.Title, result.Snippet)...)
		if snapshot := s.scrape.FetchAndParse(ctx, result.URL); snapshot != nil && snapshot.Text != "" {
			excerpt := truncateBytes(snapshot.Text, 1500)
			b = append(b, excerpt...)
			b = append(b, '\n')
		}
		b = append(b, '\n')
	}

	return evidenceBundle{text: string(b), citations: citations}
}

func (s *Service) writeBackPrediction(ctx context.Context, bundle *store.Prediction, analysis string) {
	bundle.Analysis = analysis
	if _, err := s.store.CreatePrediction(ctx, bundle); err != nil {
		slog.Warn("prediction write-back failed", "sport", bundle.Sport, "error", err)
	}
}

func (s *Service) profileHeader(ctx context.Context, p quota.Principal) string {
	if p.IsGuest {
		if session, ok := s.guests.Get(p.ID); ok {
			return rag.ProfileHeader(session.Profile)
		}
		return ""
	}
	userProfile, err := s.store.GetUserProfile(ctx, &store.FindUserProfile{UserID: p.ID})
	if err != nil {
		slog.Warn("profile load failed", "user_id", p.ID, "error", err)
		return ""
	}
	return rag.ProfileHeader(userProfile)
}

func (s *Service) cachedResponse(ctx context.Context, userID, message string) (string, bool) {
	return s.kv.Get(ctx, cache.Key(responseCachePrefix, userID, message))
}

func (s *Service) cacheResponse(ctx context.Context, userID, message, answer string) {
	ttl := time.Duration(s.profile.ResponseCacheTTL) * time.Second
	s.kv.Set(ctx, cache.Key(responseCachePrefix, userID, message), answer, ttl)
}

// finishTurn persists the assistant message, stores embeddings, runs the
// profile learner, refreshes the hot-conversation window, and shapes the
// response. Every write in here is best effort.
func (s *Service) finishTurn(
	ctx context.Context,
	p quota.Principal,
	conversationID, userMessage, answer string,
	citations []store.Citation,
	language lang.Language,
	tokensUsed int,
	history []*store.Message,
) *Response {
	assistantMsg, err := s.store.CreateMessage(ctx, &store.Message{
		ConversationID: conversationID,
		UserID:         p.ID,
		Role:           store.RoleAssistant,
		Content:        answer,
	})
	if err != nil {
		slog.Warn("failed to persist assistant message", "error", err)
		assistantMsg = &store.Message{ConversationID: conversationID, UserID: p.ID, Role: store.RoleAssistant, Content: answer}
	}
	history = append(history, assistantMsg)
	s.conversations.Set(conversationID, history, 0)

	if !p.IsGuest {
		s.storeMemories(ctx, p.ID, conversationID, userMessage, answer)
	}
	s.learnFromMessage(ctx, p, userMessage)

	if tokensUsed == 0 {
		tokensUsed = llm.EstimateTokens(answer)
	}
	if citations == nil {
		citations = []store.Citation{}
	}

	return &Response{
		UserID:         p.ID,
		ConversationID: conversationID,
		Message:        userMessage,
		Response:       answer,
		Language:       string(language),
		TokensUsed:     tokensUsed,
		Sources:        citations,
		Timestamp:      time.Now().UTC(),
	}
}

// storeMemories embeds and stores both turn messages for later retrieval.
// Guests never reach this path.
func (s *Service) storeMemories(ctx context.Context, userID, conversationID, userMessage, answer string) {
	vectors, err := s.embedder.EncodeBatch(ctx, []string{userMessage, answer})
	if err != nil {
		slog.Warn("turn embedding failed", "error", err)
		return
	}

	userMeta := map[string]any{"role": "user"}
	if learner.IsPersonalInfo(userMessage) {
		userMeta["is_personal_info"] = true
	}
	if _, err := s.store.CreateMemory(ctx, &store.MemoryRecord{
		UserID:         userID,
		ConversationID: conversationID,
		Type:           store.MemoryTypeConversation,
		Content:        userMessage,
		Embedding:      vectors[0],
		Metadata:       userMeta,
	}); err != nil {
		slog.Warn("user memory write failed", "error", err)
	}

	if _, err := s.store.CreateMemory(ctx, &store.MemoryRecord{
		UserID:         userID,
		ConversationID: conversationID,
		Type:           store.MemoryTypeConversation,
		Content:        answer,
		Embedding:      vectors[1],
		Metadata:       map[string]any{"role": "assistant"},
	}); err != nil {
		slog.Warn("assistant memory write failed", "error", err)
	}
}

// learnFromMessage extracts facts and merges them: durably for registered
// users, session-only for guests.
func (s *Service) learnFromMessage(ctx context.Context, p quota.Principal, message string) {
	facts := learner.Extract(message)

	if p.IsGuest {
		if facts.Empty() {
			return
		}
		session, ok := s.guests.Get(p.ID)
		if !ok {
			session = &guestSession{Profile: &store.UserProfile{UserID: p.ID, Preferences: map[string]any{}}}
		}
		mergeGuestFacts(session.Profile, facts)
		s.guests.Set(p.ID, session, 0)
		return
	}

	upsert := &store.UpsertUserProfile{
		UserID:            p.ID,
		Preferences:       facts.Preferences(),
		Interests:         facts.Interests,
		IncrementMessages: true,
	}
	if _, err := s.store.UpsertUserProfile(ctx, upsert); err != nil {
		slog.Warn("profile merge failed", "user_id", p.ID, "error", err)
	}
}

func mergeGuestFacts(profile *store.UserProfile, facts *learner.Facts) {
	for k, v := range facts.Preferences() {
		profile.Preferences[k] = v
	}
	for _, interest := range facts.Interests {
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
}

func isPaidTier(tier string) bool {
	return tier == quota.TierLimited || tier == quota.TierUnlimited
}

// truncateBytes cuts at a byte budget without splitting a multi-byte rune.
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// MarshalJSON keeps the wire timestamp in RFC 3339 UTC.
func (r *Response) MarshalJSON() ([]byte, error) {
	type alias Response
	return json.Marshal(&struct {
		*alias
		Timestamp string `json:"timestamp"`
	}{
		alias:     (*alias)(r),
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
	})
}
