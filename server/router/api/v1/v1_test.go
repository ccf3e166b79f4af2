package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydost/dost/ai/cache"
	"github.com/mydost/dost/ai/core/llm"
	"github.com/mydost/dost/ai/lang"
	"github.com/mydost/dost/ai/orchestrator"
	"github.com/mydost/dost/ai/quota"
	"github.com/mydost/dost/ai/rag"
	"github.com/mydost/dost/ai/scrape"
	"github.com/mydost/dost/ai/search"
	"github.com/mydost/dost/internal/profile"
	"github.com/mydost/dost/store"
	"github.com/mydost/dost/store/storetest"
)

type stubLLM struct {
	answer string
}

func (s *stubLLM) Chat(_ context.Context, _ []llm.Message) (string, *llm.CallStats, error) {
	return s.answer, &llm.CallStats{TotalTokens: 10}, nil
}

func (s *stubLLM) ChatStream(_ context.Context, _ []llm.Message) (<-chan string, <-chan *llm.CallStats, <-chan error) {
	contentChan := make(chan string)
	statsChan := make(chan *llm.CallStats)
	errChan := make(chan error)
	close(contentChan)
	close(statsChan)
	close(errChan)
	return contentChan, statsChan, errChan
}

func (s *stubLLM) Warmup(_ context.Context) {}

type stubEmbedder struct{}

func (stubEmbedder) Encode(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	return []float32{1}, nil
}

func (stubEmbedder) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1}
	}
	return vectors, nil
}

func (stubEmbedder) Dim() int { return 1 }

func newTestAPI(t *testing.T) (*echo.Echo, *storetest.MemDriver) {
	t.Helper()

	driver := storetest.New()
	st := store.New(driver, nil)
	kv := cache.NewKV(context.Background(), "")
	prof := &profile.Profile{SearchProvider: "none", ResponseCacheTTL: 3600, PredictionTTLSports: 6, PredictionTTLGeneral: 24}

	orch := orchestrator.NewService(
		prof,
		st,
		kv,
		quota.NewManager(st, kv, quota.Limits{}),
		&stubLLM{answer: "assistant reply"},
		stubEmbedder{},
		rag.NewService(st, stubEmbedder{}),
		search.NewService(&search.Config{}, kv),
		scrape.NewService(&scrape.Config{}, kv),
	)

	e := echo.New()
	NewAPIV1Service(orch, st).RegisterRoutes(e)
	return e, driver
}

func doJSON(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestChat_OK(t *testing.T) {
	e, driver := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/chat", `{"user_id":"user-1","message":"hello, how are you doing today friend"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "assistant reply", resp["response"])
	assert.Equal(t, "user-1", resp["user_id"])
	assert.NotEmpty(t, resp["conversation_id"])

	assert.Len(t, driver.Messages, 2)
}

func TestChat_ValidatesMessage(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/chat", `{"user_id":"user-1","message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/chat", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_GuestQuotaEnvelope(t *testing.T) {
	e, _ := newTestAPI(t)

	body := `{"message":"hello from a guest visitor"}`
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		req.Header.Set("User-Agent", "TestAgent/1.0")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "guest message %d", i+1)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("User-Agent", "TestAgent/1.0")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var envelope quotaErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, quota.ReasonFreeLimitExceeded, envelope.Error)
	assert.Equal(t, lang.ServiceMessage("quota_exceeded", lang.English), envelope.Message)
	assert.Equal(t, 3, envelope.Limit)
	require.Len(t, envelope.Plans, len(quota.Plans))
	assert.Equal(t, "guest", envelope.Plans[0].ID)
	assert.Equal(t, "unlimited", envelope.Plans[len(envelope.Plans)-1].ID)
}

func TestListConversations(t *testing.T) {
	e, driver := newTestAPI(t)

	_, err := driver.CreateMessage(context.Background(), &store.Message{ConversationID: "c1", UserID: "user-1", Role: store.RoleUser, Content: "first question"})
	require.NoError(t, err)

	rec := doJSON(e, http.MethodGet, "/api/v1/conversations?user_id=user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Conversations []struct {
			ConversationID string `json:"ConversationID"`
			Preview        string `json:"Preview"`
		} `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "c1", resp.Conversations[0].ConversationID)
	assert.Equal(t, "first question", resp.Conversations[0].Preview)

	rec = doJSON(e, http.MethodGet, "/api/v1/conversations", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "user_id is required")
}

func TestDeleteConversation(t *testing.T) {
	e, driver := newTestAPI(t)
	ctx := context.Background()

	_, err := driver.CreateMessage(ctx, &store.Message{ConversationID: "c1", UserID: "user-1", Role: store.RoleUser, Content: "q"})
	require.NoError(t, err)
	_, err = driver.CreateMemory(ctx, &store.MemoryRecord{UserID: "user-1", ConversationID: "c1", Type: store.MemoryTypeConversation, Content: "q", Embedding: []float32{1}})
	require.NoError(t, err)

	rec := doJSON(e, http.MethodDelete, "/api/v1/conversations/c1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Empty(t, driver.Messages)
	assert.Empty(t, driver.Memories, "conversation memories are deleted with the conversation")
}

func TestDeleteAllConversations(t *testing.T) {
	e, driver := newTestAPI(t)
	ctx := context.Background()

	_, err := driver.CreateMessage(ctx, &store.Message{ConversationID: "c1", UserID: "user-1", Role: store.RoleUser, Content: "q"})
	require.NoError(t, err)
	_, err = driver.UpsertUserProfile(ctx, &store.UpsertUserProfile{UserID: "user-1", Preferences: map[string]any{"name": "Rahul"}})
	require.NoError(t, err)

	rec := doJSON(e, http.MethodDelete, "/api/v1/conversations?user_id=user-1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Empty(t, driver.Messages)
	assert.NotContains(t, driver.Profiles, "user-1")
}

func TestListPopularPredictions(t *testing.T) {
	e, driver := newTestAPI(t)
	ctx := context.Background()

	expiry := time.Now().Add(6 * time.Hour)
	for _, p := range []*store.Prediction{
		{UID: "a", Sport: "cricket", QueryType: "match_prediction", MatchDetails: "india vs australia", ViewCount: 5, ExpiresAt: expiry},
		{UID: "b", Sport: "cricket", QueryType: "match_prediction", MatchDetails: "csk vs mi", ViewCount: 9, ExpiresAt: expiry},
		{UID: "c", Sport: "football", QueryType: "match_prediction", MatchDetails: "x vs y", ViewCount: 7, ExpiresAt: expiry},
	} {
		_, err := driver.CreatePrediction(ctx, p)
		require.NoError(t, err)
	}

	rec := doJSON(e, http.MethodGet, "/api/v1/predictions/popular?sport=cricket", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Predictions []struct {
			UID       string `json:"UID"`
			ViewCount int    `json:"ViewCount"`
		} `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Predictions, 2)
	assert.Equal(t, "b", resp.Predictions[0].UID, "most viewed first")
	assert.Equal(t, "a", resp.Predictions[1].UID)
}
