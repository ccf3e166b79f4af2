package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/mydost/dost/ai/core/llm"
	"github.com/mydost/dost/ai/lang"
	"github.com/mydost/dost/store"
)

// historyTail is how many trailing messages ride along with the prompt.
const historyTail = 10

const basePersona = `You are Dost, a warm and practical AI assistant for users in India and Northeast India.
Be direct and helpful. Answer in the user's language. If you are not sure about something, say so honestly instead of inventing details.`

var domainTemplates = map[Domain]string{
	DomainPrediction: `This is a sports prediction request. Structure your answer as:
1. Quick verdict (one line, who is favoured and why)
2. Probable XIs or lineups if known
3. Key factors (form, venue, conditions, head to head)
4. Confidence percentage
5. What to watch next
Base everything on the evidence provided.`,
	DomainNews: `This is a news request. Give the top 5 relevant items as a numbered list.
Cite each item with its [n] source marker and end with a short takeaway.`,
	DomainEducation: `This is a study request. Explain step by step in simple language.
Use short paragraphs and examples. End with a quick summary the user can revise from.`,
	DomainHoroscope: `This is a horoscope request. Give a friendly daily reading covering mood,
work, relationships, and a lucky pointer. Keep it light; never present it as certainty.`,
	DomainNotes: `The user wants to save a note or task. Confirm what you recorded,
restate it cleanly, and offer to recall it later.`,
}

// Input carries everything the composer layers into the system prompt.
type Input struct {
	Domain        Domain
	Language      lang.Language
	ProfileHeader string
	Evidence      string
	Citations     []store.Citation
	RAGContext    string

	// FreshRequired marks turns where fresh data was needed; if Evidence is
	// empty on such a turn the no-fabrication directive is appended.
	FreshRequired bool

	Now time.Time
}

// Compose builds the layered system prompt.
func Compose(in *Input) string {
	var b strings.Builder

	b.WriteString(basePersona)
	b.WriteString("\n\n")

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	fmt.Fprintf(&b, "Today's date is %s. Do not claim knowledge of events after this date unless the evidence below provides it.\n\n", now.Format("Monday, 2 January 2006"))

	switch in.Language {
	case lang.Hindi:
		b.WriteString("Respond in Hindi using Devanagari script.\n")
	case lang.Assamese:
		b.WriteString("Respond in Assamese using Assamese script.\n")
	default:
		b.WriteString("Respond in English unless the user writes in another language.\n")
	}
	if in.ProfileHeader != "" {
		b.WriteString("\n")
		b.WriteString(in.ProfileHeader)
	}
	b.WriteString("\n")

	if template, ok := domainTemplates[in.Domain]; ok {
		b.WriteString(template)
		b.WriteString("\n\n")
	}

	if in.Evidence != "" {
		b.WriteString("Fresh web evidence is provided below. Use it as your primary source. Do not say \"I cannot generate\" or deflect; answer from the evidence.\n")
		b.WriteString("Cite sources inline with [n] markers matching the numbered list.\n\n")
		b.WriteString(in.Evidence)
		b.WriteString("\n")
		if len(in.Citations) > 0 {
			b.WriteString("Sources:\n")
			for _, c := range in.Citations {
				fmt.Fprintf(&b, "[%d] %s - %s\n", c.Number, c.Title, c.URL)
			}
		}
		b.WriteString("\n")
	} else if in.FreshRequired {
		b.WriteString("Fresh data was requested but is unavailable right now. Rely on memory and known information; do not fabricate fresh facts, scores, or dates.\n\n")
	}

	if in.RAGContext != "" {
		b.WriteString(in.RAGContext)
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// HistoryMessages trims history to the tail window and converts it for the
// LLM call, dropping messages with empty content.
func HistoryMessages(history []*store.Message) []llm.Message {
	if len(history) > historyTail {
		history = history[len(history)-historyTail:]
	}
	messages := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return messages
}
