// Package v1 is the REST ingress. It is a thin adapter: auth, payments, and
// admin surfaces live in other services and call in with an opaque user id.
package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mydost/dost/ai/lang"
	"github.com/mydost/dost/ai/orchestrator"
	"github.com/mydost/dost/ai/quota"
	"github.com/mydost/dost/store"
)

// APIV1Service handles the /api/v1 routes.
type APIV1Service struct {
	orchestrator *orchestrator.Service
	store        *store.Store
}

// NewAPIV1Service creates the v1 route handler group.
func NewAPIV1Service(orch *orchestrator.Service, st *store.Store) *APIV1Service {
	return &APIV1Service{orchestrator: orch, store: st}
}

// RegisterRoutes mounts the v1 routes on the echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.POST("/chat", s.Chat)
	g.GET("/conversations", s.ListConversations)
	g.GET("/conversations/:id", s.GetConversation)
	g.DELETE("/conversations/:id", s.DeleteConversation)
	g.DELETE("/conversations", s.DeleteAllConversations)
	g.GET("/predictions/popular", s.ListPopularPredictions)
}

// ChatRequest is the chat turn payload.
type ChatRequest struct {
	UserID           string `json:"user_id"`
	Tier             string `json:"tier"`
	ConversationID   string `json:"conversation_id"`
	Message          string `json:"message"`
	IncludeWebSearch bool   `json:"include_web_search"`
}

type planInfo struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Price            string `json:"price"`
	SearchesPerDay   int    `json:"searches_per_day"`
	LimitDescription string `json:"limit_description"`
}

type quotaErrorEnvelope struct {
	Error   string     `json:"error"`
	Message string     `json:"message"`
	Used    int        `json:"used"`
	Limit   int        `json:"limit"`
	ResetAt *string    `json:"reset_at,omitempty"`
	Plans   []planInfo `json:"plans"`
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Chat runs one conversational turn.
func (s *APIV1Service) Chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, &errorEnvelope{Error: "bad_request", Message: "invalid request body"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, &errorEnvelope{Error: "bad_request", Message: "message is required"})
	}

	resp, err := s.orchestrator.HandleTurn(c.Request().Context(), &orchestrator.Request{
		UserID:           req.UserID,
		Tier:             req.Tier,
		ConversationID:   req.ConversationID,
		Message:          req.Message,
		IncludeWebSearch: req.IncludeWebSearch,
		ClientIP:         clientIP(c),
		UserAgent:        c.Request().UserAgent(),
	})
	if err != nil {
		if denied, ok := err.(*orchestrator.QuotaDeniedError); ok {
			return c.JSON(http.StatusTooManyRequests, quotaEnvelope(denied, lang.Detect(req.Message)))
		}
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, &errorEnvelope{Error: "internal", Message: "failed to generate a response"})
	}

	return c.JSON(http.StatusOK, resp)
}

// ListConversations lists a user's conversation summaries.
func (s *APIV1Service) ListConversations(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, &errorEnvelope{Error: "bad_request", Message: "user_id is required"})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	summaries, err := s.store.ListConversationSummaries(c.Request().Context(), userID, limit)
	if err != nil {
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, &errorEnvelope{Error: "internal", Message: "failed to list conversations"})
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": summaries})
}

// GetConversation returns a conversation's messages in order.
func (s *APIV1Service) GetConversation(c echo.Context) error {
	conversationID := c.Param("id")
	messages, err := s.store.ListMessages(c.Request().Context(), &store.FindMessage{
		ConversationID: &conversationID,
	})
	if err != nil {
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, &errorEnvelope{Error: "internal", Message: "failed to load conversation"})
	}
	return c.JSON(http.StatusOK, map[string]any{"conversation_id": conversationID, "messages": messages})
}

// DeleteConversation removes one conversation and its vector memories.
func (s *APIV1Service) DeleteConversation(c echo.Context) error {
	conversationID := c.Param("id")
	ctx := c.Request().Context()

	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, &errorEnvelope{Error: "internal", Message: "failed to delete conversation"})
	}
	if err := s.store.DeleteConversationMemories(ctx, conversationID); err != nil {
		c.Logger().Error(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteAllConversations is the right-to-delete entry point: it removes a
// user's conversations, memories, and profile.
func (s *APIV1Service) DeleteAllConversations(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, &errorEnvelope{Error: "bad_request", Message: "user_id is required"})
	}
	if err := s.store.DeleteUserData(c.Request().Context(), userID); err != nil {
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, &errorEnvelope{Error: "internal", Message: "failed to delete user data"})
	}
	return c.NoContent(http.StatusNoContent)
}

// ListPopularPredictions lists active shared prediction bundles by views.
func (s *APIV1Service) ListPopularPredictions(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	predictions, err := s.store.ListPopularPredictions(c.Request().Context(), c.QueryParam("sport"), limit)
	if err != nil {
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, &errorEnvelope{Error: "internal", Message: "failed to list predictions"})
	}
	return c.JSON(http.StatusOK, map[string]any{"predictions": predictions})
}

// clientIP prefers the first X-Forwarded-For hop, matching how guests were
// fingerprinted before the service moved behind a proxy.
func clientIP(c echo.Context) string {
	if forwarded := c.Request().Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return c.RealIP()
}

func quotaEnvelope(denied *orchestrator.QuotaDeniedError, language lang.Language) *quotaErrorEnvelope {
	envelope := &quotaErrorEnvelope{
		Error:   denied.Reason,
		Message: lang.ServiceMessage("quota_exceeded", language),
		Used:    denied.Used,
		Limit:   denied.Limit,
		Plans:   make([]planInfo, 0, len(quota.Plans)),
	}
	if denied.ResetAt != nil {
		formatted := denied.ResetAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		envelope.ResetAt = &formatted
	}
	for _, p := range quota.Plans {
		envelope.Plans = append(envelope.Plans, planInfo{
			ID:               p.ID,
			Name:             p.Name,
			Price:            p.Price,
			SearchesPerDay:   p.SearchesPerDay,
			LimitDescription: p.LimitDescription,
		})
	}
	return envelope
}
