package rag

import (
	"regexp"
	"strings"
)

// memoryKeywords signal that the user is referring back to stored context.
// Includes romanized Hindi forms common in our user base.
var memoryKeywords = []string{
	"remember", "recall", "you said", "i told you", "we discussed",
	"last time", "earlier", "before", "previously", "again",
	"my name", "my favourite", "my favorite", "about me", "do you know me",
	"yaad", "bataya tha", "pehle", "phir se",
	"मुझे याद", "याद है", "पहले", "मैंने बताया",
}

// skipPrefixes are generic lookups that never need personal memory.
var skipPrefixes = []string{
	"what is ", "what are ", "define ", "meaning of ",
	"how to ", "translate ", "convert ",
}

var greetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true,
	"namaste": true, "namaskar": true,
	"good morning": true, "good afternoon": true, "good evening": true,
	"thanks": true, "thank you": true, "ok": true, "okay": true, "bye": true,
}

var (
	mathRe   = regexp.MustCompile(`^[\d\s+\-*/%().^=]+$`)
	whWordRe = regexp.MustCompile(`(?i)\b(who|whose|whom|when|where|which|why|how)\b`)
)

// ShouldUseRAG is the cost gate: it decides whether a turn is worth an
// embedding call and a vector index query. It errs toward retrieval; only
// short, clearly generic queries are rejected.
func ShouldUseRAG(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}

	for _, kw := range memoryKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}

	if greetings[strings.TrimRight(q, "!. ")] {
		return false
	}
	if mathRe.MatchString(q) {
		return false
	}

	short := len(strings.Fields(q)) <= 4
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(q, prefix) && short {
			return false
		}
	}

	if strings.Contains(q, "?") || whWordRe.MatchString(q) {
		return true
	}

	return !short
}

// personalQueryRe matches questions about the user themselves. These lower
// the relevance threshold and promote personal memories.
var personalQueryRe = regexp.MustCompile(`(?i)\b(my name|about me|who am i|my favou?rite|my likes|my interests|where (do|did) i|mera naam|mere bare)\b`)

// IsPersonalQuery reports whether the query asks about the user.
func IsPersonalQuery(query string) bool {
	return personalQueryRe.MatchString(query)
}
