package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydost/dost/ai/cache"
	"github.com/mydost/dost/ai/core/llm"
	"github.com/mydost/dost/ai/lang"
	"github.com/mydost/dost/ai/quota"
	"github.com/mydost/dost/ai/rag"
	"github.com/mydost/dost/ai/scrape"
	"github.com/mydost/dost/ai/search"
	"github.com/mydost/dost/internal/profile"
	"github.com/mydost/dost/store"
	"github.com/mydost/dost/store/storetest"
)

type fakeLLM struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  [][]llm.Message
}

func (f *fakeLLM) Chat(_ context.Context, messages []llm.Message) (string, *llm.CallStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", nil, f.err
	}
	f.calls = append(f.calls, messages)
	return f.answer, &llm.CallStats{TotalTokens: 42}, nil
}

func (f *fakeLLM) ChatStream(_ context.Context, _ []llm.Message) (<-chan string, <-chan *llm.CallStats, <-chan error) {
	contentChan := make(chan string)
	statsChan := make(chan *llm.CallStats)
	errChan := make(chan error)
	close(contentChan)
	close(statsChan)
	close(errChan)
	return contentChan, statsChan, errChan
}

func (f *fakeLLM) Warmup(_ context.Context) {}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLLM) lastSystemPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	last := f.calls[len(f.calls)-1]
	if len(last) == 0 || last[0].Role != "system" {
		return ""
	}
	return last[0].Content
}

type fakeEmbedder struct {
	vec []float32
}

func (f *fakeEmbedder) Encode(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	return f.vec, nil
}

func (f *fakeEmbedder) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = f.vec
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dim() int { return len(f.vec) }

type testEnv struct {
	svc         *Service
	driver      *storetest.MemDriver
	llm         *fakeLLM
	quota       *quota.Manager
	serperCalls *atomic.Int32
}

// newTestEnv wires the orchestrator against in-memory infrastructure. When
// serperResults is nil search is disabled entirely.
func newTestEnv(t *testing.T, serperResults []map[string]string) *testEnv {
	t.Helper()

	driver := storetest.New()
	kv := cache.NewKV(context.Background(), "")
	st := store.New(driver, nil)
	fllm := &fakeLLM{answer: "Here is my answer."}
	embedder := &fakeEmbedder{vec: []float32{1, 0, 0}}

	prof := &profile.Profile{
		SearchProvider:       "none",
		ResponseCacheTTL:     3600,
		PredictionTTLSports:  6,
		PredictionTTLGeneral: 24,
	}

	var serperCalls atomic.Int32
	searchCfg := &search.Config{}
	if serperResults != nil {
		pageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><head><title>Preview</title></head><body><p>India have a strong record at this venue and are favourites on current form.</p></body></html>"))
		}))
		t.Cleanup(pageServer.Close)

		serperServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			serperCalls.Add(1)
			organic := make([]map[string]string, 0, len(serperResults))
			for _, r := range serperResults {
				item := map[string]string{}
				for k, v := range r {
					item[k] = v
				}
				if item["link"] == "" {
					item["link"] = pageServer.URL
				}
				organic = append(organic, item)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"organic": organic})
		}))
		t.Cleanup(serperServer.Close)

		prof.SearchProvider = "serper"
		searchCfg = &search.Config{APIKey: "test-key", APIURL: serperServer.URL}
	}

	searchService := search.NewService(searchCfg, kv)
	scrapeService := scrape.NewService(&scrape.Config{}, kv)
	quotaManager := quota.NewManager(st, kv, quota.Limits{})
	ragService := rag.NewService(st, embedder)

	svc := NewService(prof, st, kv, quotaManager, fllm, embedder, ragService, searchService, scrapeService)
	return &testEnv{svc: svc, driver: driver, llm: fllm, quota: quotaManager, serperCalls: &serperCalls}
}

func TestHandleTurn_RegisteredUser(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	resp, err := env.svc.HandleTurn(ctx, &Request{
		UserID:  "user-1",
		Tier:    quota.TierFree,
		Message: "my name is Rahul and I love cricket",
	})
	require.NoError(t, err)

	assert.Equal(t, "user-1", resp.UserID)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "Here is my answer.", resp.Response)
	assert.Equal(t, "english", resp.Language)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.NotNil(t, resp.Sources)
	assert.Empty(t, resp.Sources)

	// Both turn messages are persisted.
	require.Len(t, env.driver.Messages, 2)
	assert.Equal(t, store.RoleUser, env.driver.Messages[0].Role)
	assert.Equal(t, store.RoleAssistant, env.driver.Messages[1].Role)

	// Both sides of the turn are embedded into memory.
	require.Len(t, env.driver.Memories, 2)
	assert.Equal(t, true, env.driver.Memories[0].Metadata["is_personal_info"])

	// The learner merged facts into the durable profile.
	userProfile := env.driver.Profiles["user-1"]
	require.NotNil(t, userProfile)
	assert.Equal(t, "Rahul", userProfile.Preferences["name"])
	assert.Contains(t, userProfile.Interests, "cricket")
	assert.Equal(t, 1, userProfile.TotalMessages)
}

func TestHandleTurn_ProfileHeaderOnLaterTurns(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.HandleTurn(ctx, &Request{
		UserID:  "user-1",
		Message: "my name is Rahul and I love cricket",
	})
	require.NoError(t, err)

	_, err = env.svc.HandleTurn(ctx, &Request{
		UserID:  "user-1",
		Message: "suggest a weekend plan for someone like me",
	})
	require.NoError(t, err)

	assert.Contains(t, env.llm.lastSystemPrompt(), "User's name is Rahul.")
}

func TestHandleTurn_GuestLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	req := &Request{
		ClientIP:  "203.0.113.7",
		UserAgent: "Mozilla/5.0",
		Message:   "my name is Priya, tell me something interesting",
	}

	for i := 0; i < 3; i++ {
		resp, err := env.svc.HandleTurn(ctx, req)
		require.NoError(t, err, "guest message %d should pass", i+1)
		require.NotNil(t, resp)
	}

	_, err := env.svc.HandleTurn(ctx, req)
	var denied *QuotaDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, quota.ReasonFreeLimitExceeded, denied.Reason)
	assert.Equal(t, 3, denied.Limit)

	// Guests never get durable state: no profile row, no vector memories.
	assert.Empty(t, env.driver.Profiles)
	assert.Empty(t, env.driver.Memories)

	// But the session learned the name for prompting.
	fp := quota.Fingerprint(req.ClientIP, req.UserAgent)
	session, ok := env.svc.guests.Get(fp)
	require.True(t, ok)
	assert.Equal(t, "Priya", session.Profile.Preferences["name"])
}

func TestHandleTurn_ResponseCache(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	req := &Request{UserID: "user-1", Message: "tell me a joke"}

	first, err := env.svc.HandleTurn(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 1, env.llm.callCount())

	second, err := env.svc.HandleTurn(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, 1, env.llm.callCount(), "repeat question must be served from the response cache")

	// A different user asking the same thing gets a fresh call.
	_, err = env.svc.HandleTurn(ctx, &Request{UserID: "user-2", Message: "tell me a joke"})
	require.NoError(t, err)
	assert.Equal(t, 2, env.llm.callCount())
}

func TestHandleTurn_FreshQueriesAreNotCached(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	req := &Request{UserID: "user-1", Message: "what is the weather today"}

	_, err := env.svc.HandleTurn(ctx, req)
	require.NoError(t, err)
	_, err = env.svc.HandleTurn(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 2, env.llm.callCount(), "time-sensitive answers must not be reused")
}

func TestHandleTurn_FreshWithoutEvidence(t *testing.T) {
	// Search disabled: a fresh-data turn must carry the no-fabrication
	// directive instead of evidence.
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.HandleTurn(ctx, &Request{UserID: "user-1", Message: "latest news from Assam"})
	require.NoError(t, err)

	prompt := env.llm.lastSystemPrompt()
	assert.Contains(t, prompt, "Fresh data was requested but is unavailable")
	assert.NotContains(t, prompt, "Fresh web evidence is provided below.")
}

func TestHandleTurn_HindiTurn(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	resp, err := env.svc.HandleTurn(ctx, &Request{UserID: "user-1", Message: "मुझे एक कहानी सुनाओ"})
	require.NoError(t, err)

	assert.Equal(t, "hindi", resp.Language)
	assert.Contains(t, env.llm.lastSystemPrompt(), "Respond in Hindi using Devanagari script.")
}

func TestHandleTurn_SearchQuotaExhausted(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	p := quota.Principal{ID: "user-1", Tier: quota.TierFree}
	for i := 0; i < 10; i++ {
		env.quota.ConsumeSearch(ctx, p)
	}

	resp, err := env.svc.HandleTurn(ctx, &Request{UserID: "user-1", Message: "latest news from Assam"})
	require.NoError(t, err)

	assert.Equal(t, lang.ServiceMessage("search_quota_exceeded", lang.English), resp.Response)
	assert.Equal(t, 0, env.llm.callCount(), "the canned reply skips the llm")

	// The turn itself was still admitted and persisted.
	assert.Len(t, env.driver.Messages, 2)
}

func TestHandleTurn_WebEvidence(t *testing.T) {
	env := newTestEnv(t, []map[string]string{
		{"title": "Assam Headlines", "snippet": "Flood relief operations continue."},
	})
	ctx := context.Background()

	resp, err := env.svc.HandleTurn(ctx, &Request{UserID: "user-1", Message: "latest news from Assam"})
	require.NoError(t, err)

	systemPrompt := env.llm.lastSystemPrompt()
	assert.Contains(t, systemPrompt, "Fresh web evidence is provided below.")
	assert.Contains(t, systemPrompt, "[1] Assam Headlines")
	assert.Contains(t, systemPrompt, "Flood relief operations continue.")

	require.Len(t, resp.Sources, 1)
	assert.Equal(t, 1, resp.Sources[0].Number)
	assert.Equal(t, "Assam Headlines", resp.Sources[0].Title)

	// One fresh search spends one unit of the sub-quota.
	assert.Equal(t, 1, env.quota.SearchCount(ctx, quota.Principal{ID: "user-1", Tier: quota.TierFree}))
}

func TestHandleTurn_CachedSearchIsFree(t *testing.T) {
	env := newTestEnv(t, []map[string]string{
		{"title": "Assam Headlines", "snippet": "Flood relief operations continue."},
	})
	ctx := context.Background()

	_, err := env.svc.HandleTurn(ctx, &Request{UserID: "user-1", Message: "latest news from Assam"})
	require.NoError(t, err)
	require.Equal(t, int32(1), env.serperCalls.Load())

	// A second user asking the same fresh question rides the search cache:
	// no provider call, no sub-quota spend.
	_, err = env.svc.HandleTurn(ctx, &Request{UserID: "user-2", Message: "latest news from Assam"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), env.serperCalls.Load())
	assert.Equal(t, 0, env.quota.SearchCount(ctx, quota.Principal{ID: "user-2", Tier: quota.TierFree}))
}

func TestHandleTurn_PredictionCache(t *testing.T) {
	env := newTestEnv(t, []map[string]string{
		{"title": "Match Preview", "snippet": "India favoured at Eden Gardens."},
	})
	ctx := context.Background()

	env.llm.answer = "India should win; confidence 65%."

	_, err := env.svc.HandleTurn(ctx, &Request{UserID: "user-1", Message: "India vs Australia prediction"})
	require.NoError(t, err)

	// The analysis was written back to the shared cache.
	require.Len(t, env.driver.Predictions, 1)
	stored := env.driver.Predictions[0]
	assert.Equal(t, "cricket", stored.Sport)
	assert.Equal(t, "match_prediction", stored.QueryType)
	assert.Equal(t, "india vs australia", stored.MatchDetails)
	assert.Equal(t, "India should win; confidence 65%.", stored.Analysis)
	assert.NotEmpty(t, stored.UID)
	assert.True(t, stored.ExpiresAt.After(time.Now()))
	require.Equal(t, int32(1), env.serperCalls.Load())

	// A different user with the same matchup is served from the prediction
	// cache: no new search, evidence comes from the stored analysis.
	_, err = env.svc.HandleTurn(ctx, &Request{UserID: "user-2", Message: "india  VS australia prediction"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), env.serperCalls.Load(), "cache hit must not search again")
	assert.Contains(t, env.llm.lastSystemPrompt(), "Cached match analysis:")
	assert.Contains(t, env.llm.lastSystemPrompt(), "India should win")
	assert.Equal(t, 1, stored.ViewCount, "the hit bumps the view counter")
	assert.Len(t, env.driver.Predictions, 1, "no duplicate bundle is written")
}

func TestHandleTurn_PredictionCacheHitWithSearchQuotaSpent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.driver.CreatePrediction(ctx, &store.Prediction{
		UID:          "seeded",
		Sport:        "cricket",
		QueryType:    "match_prediction",
		MatchDetails: "india vs australia",
		Analysis:     "India have the edge in seaming conditions.",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	p := quota.Principal{ID: "user-1", Tier: quota.TierFree}
	for i := 0; i < 10; i++ {
		env.quota.ConsumeSearch(ctx, p)
	}

	// The shared bundle read is free, so the spent sub-quota must not hide it.
	resp, err := env.svc.HandleTurn(ctx, &Request{UserID: "user-1", Message: "India vs Australia prediction"})
	require.NoError(t, err)
	assert.Equal(t, "Here is my answer.", resp.Response)

	systemPrompt := env.llm.lastSystemPrompt()
	assert.Contains(t, systemPrompt, "Cached match analysis:")
	assert.Contains(t, systemPrompt, "India have the edge")
	assert.NotContains(t, systemPrompt, "Fresh data was requested but is unavailable")

	assert.Equal(t, 1, env.driver.Predictions[0].ViewCount, "the hit bumps the view counter")
}

func TestHandleTurn_GeneralPredictionBundle(t *testing.T) {
	env := newTestEnv(t, []map[string]string{
		{"title": "Season Preview", "snippet": "Form guide for the title race."},
	})
	ctx := context.Background()

	env.llm.answer = "Expect the defending champions to stay on top."

	_, err := env.svc.HandleTurn(ctx, &Request{UserID: "user-1", Message: "who will win the title this season prediction"})
	require.NoError(t, err)

	// No matchup in the query, so the analysis lands in the longer-lived
	// general bundle.
	require.Len(t, env.driver.Predictions, 1)
	stored := env.driver.Predictions[0]
	assert.Equal(t, "general_analysis", stored.QueryType)
	assert.True(t, stored.ExpiresAt.After(time.Now().Add(12*time.Hour)))

	_, err = env.svc.HandleTurn(ctx, &Request{UserID: "user-2", Message: "who will win the title this season prediction"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), env.serperCalls.Load(), "cache hit must not search again")
	assert.Contains(t, env.llm.lastSystemPrompt(), "Expect the defending champions")
}

func TestHandleTurn_LLMFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.llm.err = errors.New("provider down")

	_, err := env.svc.HandleTurn(context.Background(), &Request{UserID: "user-1", Message: "hello there my friend"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm call")
}

func TestHandleTurn_ConversationContinuity(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.svc.HandleTurn(ctx, &Request{UserID: "user-1", Message: "let us talk about travel plans"})
	require.NoError(t, err)

	_, err = env.svc.HandleTurn(ctx, &Request{
		UserID:         "user-1",
		ConversationID: first.ConversationID,
		Message:        "which place did I mention before?",
	})
	require.NoError(t, err)

	// The second call carries the first turn in its history window.
	env.llm.mu.Lock()
	last := env.llm.calls[len(env.llm.calls)-1]
	env.llm.mu.Unlock()

	var contents []string
	for _, m := range last {
		contents = append(contents, m.Content)
	}
	assert.Contains(t, strings.Join(contents, "\n"), "let us talk about travel plans")
}

func TestResponse_MarshalJSON(t *testing.T) {
	resp := &Response{
		UserID:         "user-1",
		ConversationID: "conv-1",
		Response:       "hello",
		Sources:        []store.Citation{},
		Timestamp:      time.Date(2025, time.June, 1, 5, 30, 0, 0, time.FixedZone("IST", 5*3600+1800)),
	}

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "2025-06-01T00:00:00Z", decoded["timestamp"], "timestamps are normalized to UTC")
	assert.Equal(t, "hello", decoded["response"])
}
