// Package rag scores and assembles the retrieval context for a turn: the
// profile header, the user's vector memories, the shared knowledge base, and
// the recent conversation window, fused by a hybrid ranking function.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mydost/dost/ai/core/embedding"
	"github.com/mydost/dost/ai/learner"
	"github.com/mydost/dost/store"
)

const (
	memoryLimitPaid = 30
	memoryLimitFree = 20
	knowledgeLimit  = 3

	topKPaid = 8
	topKFree = 5

	snippetChars = 300

	baseUserMemory = 0.7
	baseKnowledge  = 0.6

	overlapWeight = 0.3
	personalBoost = 0.3

	recencyWeight      = 0.4
	conversationFiller = 0.3

	thresholdPersonal = 0.4
	thresholdDefault  = 0.5
)

// Source tags shown in the composed context block.
const (
	sourcePersonalMemory = "personal memory"
	sourceKnowledgeBase  = "knowledge base"
	sourceRecentContext  = "recent context"
)

type candidate struct {
	id       int64
	content  string
	source   string
	score    float64
	personal bool
}

// Service builds RAG context blocks.
type Service struct {
	store    *store.Store
	embedder embedding.Service
}

// NewService creates a RAG Service.
func NewService(st *store.Store, embedder embedding.Service) *Service {
	return &Service{store: st, embedder: embedder}
}

// ProfileHeader renders the known-user block. It is cheap, needs no
// embedding, and is emitted even when the cost gate rejects retrieval.
func ProfileHeader(profile *store.UserProfile) string {
	if profile == nil {
		return ""
	}

	var b strings.Builder
	if name, ok := profile.Preferences["name"].(string); ok && name != "" {
		fmt.Fprintf(&b, "User's name is %s.\n", name)
	}
	if location, ok := profile.Preferences["location"].(string); ok && location != "" {
		fmt.Fprintf(&b, "User lives in %s.\n", location)
	}
	if language, ok := profile.Preferences["preferred_language"].(string); ok && language != "" {
		fmt.Fprintf(&b, "User prefers to chat in %s.\n", language)
	}
	if len(profile.Interests) > 0 {
		fmt.Fprintf(&b, "User's interests: %s.\n", strings.Join(profile.Interests, ", "))
	}
	if likes := stringList(profile.Preferences["likes"]); len(likes) > 0 {
		if len(likes) > 5 {
			likes = likes[:5]
		}
		fmt.Fprintf(&b, "User likes: %s.\n", strings.Join(likes, ", "))
	}

	if b.Len() == 0 {
		return ""
	}
	return "What you know about the user:\n" + b.String()
}

// BuildContext retrieves, scores, and formats the memory context for a query.
// Returns an empty string when nothing relevant is found or retrieval is
// degraded; it never fails the turn.
func (s *Service) BuildContext(ctx context.Context, userID, query string, paid bool, history []*store.Message) string {
	queryVec, err := s.embedder.Encode(ctx, query)
	if err != nil {
		slog.Warn("query embedding failed, skipping memory retrieval", "error", err)
		return ""
	}
	if queryVec == nil {
		return ""
	}

	memoryLimit := memoryLimitFree
	topK := topKFree
	if paid {
		memoryLimit = memoryLimitPaid
		topK = topKPaid
	}

	threshold := thresholdDefault
	personalQuery := IsPersonalQuery(query)
	if personalQuery {
		threshold = thresholdPersonal
	}

	keywords := queryKeywords(query)
	candidates := []candidate{}

	userMemories, err := s.store.VectorSearch(ctx, &store.VectorSearchOptions{
		UserID: userID,
		Vector: queryVec,
		Limit:  memoryLimit,
	})
	if err != nil {
		slog.Warn("user memory search failed", "error", err)
	}
	for _, m := range userMemories {
		c := candidate{
			id:       m.ID,
			content:  m.Content,
			source:   sourcePersonalMemory,
			personal: isPersonal(m.MemoryRecord),
		}
		c.score = baseUserMemory + overlapWeight*overlapRatio(keywords, m.Content)
		if c.personal {
			c.score += personalBoost
		}
		candidates = append(candidates, c)
	}

	knowledgeType := store.MemoryTypeKnowledge
	knowledge, err := s.store.VectorSearch(ctx, &store.VectorSearchOptions{
		UserID: store.SharedKnowledgeUserID,
		Vector: queryVec,
		Limit:  knowledgeLimit,
		Type:   &knowledgeType,
	})
	if err != nil {
		slog.Warn("knowledge search failed", "error", err)
	}
	for _, m := range knowledge {
		candidates = append(candidates, candidate{
			id:      m.ID,
			content: m.Content,
			source:  sourceKnowledgeBase,
			score:   baseKnowledge + overlapWeight*overlapRatio(keywords, m.Content),
		})
	}

	window := history
	if len(window) > memoryLimit {
		window = window[len(window)-memoryLimit:]
	}
	for i, m := range window {
		recency := float64(i+1) / float64(len(window))
		c := candidate{
			id:       m.ID,
			content:  m.Content,
			source:   sourceRecentContext,
			score:    recencyWeight*recency + overlapWeight*overlapRatio(keywords, m.Content) + conversationFiller,
			personal: learner.IsPersonalInfo(m.Content),
		}
		candidates = append(candidates, c)
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if c.score >= threshold {
			kept = append(kept, c)
		}
	}

	// Deterministic: primary score descending, personal items first among
	// equals, final tie broken by id.
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].personal != kept[j].personal {
			return kept[i].personal
		}
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return kept[i].id < kept[j].id
	})

	if len(kept) > topK {
		kept = kept[:topK]
	}
	if len(kept) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant context from memory:\n")
	for _, c := range kept {
		fmt.Fprintf(&b, "- [%s] %s\n", c.source, truncateRunes(c.content, snippetChars))
	}
	return b.String()
}

func isPersonal(m *store.MemoryRecord) bool {
	if m.Metadata != nil {
		if flag, ok := m.Metadata["is_personal_info"].(bool); ok && flag {
			return true
		}
	}
	return learner.IsPersonalInfo(m.Content)
}

// queryKeywords tokenizes a query to lowercase words of 3+ runes.
func queryKeywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r > 127)
	})
	keywords := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 3 {
			keywords = append(keywords, f)
		}
	}
	return keywords
}

// overlapRatio is the fraction of query keywords present in content.
func overlapRatio(keywords []string, content string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// stringList coerces a preferences value into a string slice. Lists written
// through the jsonb column come back as []any, fresh learner output as
// []string.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
