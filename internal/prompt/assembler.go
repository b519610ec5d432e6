package prompt

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pinebranchco/wisp/internal/convo"
	"github.com/pinebranchco/wisp/internal/memory"
)

// decayRate halves a fact's recency weight roughly every 70 days.
const decayRate = 0.01

// FactSource is the read side of the memory store.
type FactSource interface {
	Lookup(ctx context.Context, userID, topicHint string) ([]memory.Record, error)
}

// RankedFact is one memory record selected for the payload.
type RankedFact struct {
	UserID  string
	Topic   string
	Summary string
	Score   float64
}

// PromptPayload is the structured generation input: persona instructions,
// ranked background facts and the recent turns of the channel. Rendering it
// to a literal prompt string is the caller's concern.
type PromptPayload struct {
	Persona string
	Facts   []RankedFact
	Recent  []convo.Message
}

// Assembler builds PromptPayloads from the conversation window and the
// memory store. Build never mutates either.
type Assembler struct {
	window      *convo.Window
	store       FactSource
	windowLimit int
}

func NewAssembler(window *convo.Window, store FactSource, windowLimit int) *Assembler {
	if windowLimit <= 0 {
		windowLimit = convo.DefaultCapacity
	}
	return &Assembler{window: window, store: store, windowLimit: windowLimit}
}

// Build assembles the payload for a reply to incoming. Memory lookups run
// under ctx; a slow or failed store degrades to an empty facts section and
// the reply proceeds on window context alone. Deterministic for identical
// window/store state and budget.
func (a *Assembler) Build(ctx context.Context, persona string, incoming convo.Message, budget int) PromptPayload {
	recent := a.window.Recent(incoming.ChannelID, a.windowLimit)

	facts := a.rankedFacts(ctx, recent, incoming)

	payload := PromptPayload{Persona: persona}
	payload.Recent, payload.Facts = pack(recent, facts, budget)
	return payload
}

// rankedFacts gathers memory records for every user seen in the conversation
// and ranks them by weight decayed over time since last update. Decay is
// anchored to the incoming message's timestamp, not the wall clock, so
// identical inputs always rank identically.
func (a *Assembler) rankedFacts(ctx context.Context, recent []convo.Message, incoming convo.Message) []RankedFact {
	if a.store == nil {
		return nil
	}

	users := candidateUsers(recent, incoming)
	hint := topicHint(recent, incoming)

	now := incoming.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	var facts []RankedFact
	for _, userID := range users {
		records, err := a.store.Lookup(ctx, userID, hint)
		if err != nil {
			log.Printf("[prompt] warning: memory lookup for %s degraded: %v", userID, err)
			continue
		}
		for _, r := range records {
			age := now.Sub(r.UpdatedAt).Hours() / 24
			if age < 0 {
				age = 0
			}
			facts = append(facts, RankedFact{
				UserID:  r.UserID,
				Topic:   r.Topic,
				Summary: r.Summary,
				Score:   r.Weight * math.Exp(-decayRate*age),
			})
		}
	}

	sort.SliceStable(facts, func(i, j int) bool {
		if facts[i].Score != facts[j].Score {
			return facts[i].Score > facts[j].Score
		}
		if facts[i].UserID != facts[j].UserID {
			return facts[i].UserID < facts[j].UserID
		}
		return facts[i].Topic < facts[j].Topic
	})
	return facts
}

// candidateUsers returns the authors present in the window plus the incoming
// author, deduplicated and sorted. Bot turns carry no memory.
func candidateUsers(recent []convo.Message, incoming convo.Message) []string {
	seen := make(map[string]bool)
	for _, m := range recent {
		if !m.FromBot && m.AuthorID != "" {
			seen[m.AuthorID] = true
		}
	}
	if !incoming.FromBot && incoming.AuthorID != "" {
		seen[incoming.AuthorID] = true
	}

	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

var hintStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true,
	"they": true, "me": true, "my": true, "your": true, "this": true,
	"that": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "to": true, "of": true, "in": true, "on": true, "for": true,
	"with": true, "at": true, "so": true, "do": true, "not": true,
	"have": true, "has": true, "just": true, "like": true, "what": true,
	"how": true, "when": true, "yeah": true, "ok": true, "okay": true,
}

// topicHint picks the most frequent substantive words from the conversation
// tail, incoming message weighted double. Ties break alphabetically so the
// hint is stable.
func topicHint(recent []convo.Message, incoming convo.Message) string {
	counts := make(map[string]int)
	note := func(text string, weight int) {
		fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		for _, f := range fields {
			if len(f) < 3 || hintStopwords[f] {
				continue
			}
			counts[f] += weight
		}
	}
	for _, m := range recent {
		note(m.Text, 1)
	}
	note(incoming.Text, 2)

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " ")
}

// pack fits recent messages and facts into the length budget. Recent turns
// win over background facts, except that space for the single top fact is
// reserved whenever it fits the budget at all. Messages are kept newest
// backwards and returned oldest first.
func pack(recent []convo.Message, facts []RankedFact, budget int) ([]convo.Message, []RankedFact) {
	if budget <= 0 {
		return nil, nil
	}

	reserve := 0
	if len(facts) > 0 {
		if c := factCost(facts[0]); c <= budget {
			reserve = c
		}
	}

	// Newest backwards until the message budget runs out.
	msgBudget := budget - reserve
	kept := 0
	used := 0
	for i := len(recent) - 1; i >= 0; i-- {
		c := messageCost(recent[i])
		if used+c > msgBudget {
			break
		}
		used += c
		kept++
	}
	packedMsgs := make([]convo.Message, kept)
	copy(packedMsgs, recent[len(recent)-kept:])

	var packedFacts []RankedFact
	remaining := budget - used
	for _, f := range facts {
		c := factCost(f)
		if c > remaining {
			break
		}
		packedFacts = append(packedFacts, f)
		remaining -= c
	}

	return packedMsgs, packedFacts
}

func messageCost(m convo.Message) int {
	return len(m.AuthorName) + len(m.Text) + 2
}

func factCost(f RankedFact) int {
	return len(f.Topic) + len(f.Summary) + 2
}

// Render flattens the payload into the literal prompt string handed to the
// generation runtime.
func (p PromptPayload) Render() string {
	var sb strings.Builder

	if p.Persona != "" {
		sb.WriteString(p.Persona)
		sb.WriteString("\n\n")
	}

	if len(p.Facts) > 0 {
		sb.WriteString("What you remember about the participants:\n")
		for _, f := range p.Facts {
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", f.UserID, f.Topic, f.Summary)
		}
		sb.WriteString("\n")
	}

	if len(p.Recent) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, m := range p.Recent {
			fmt.Fprintf(&sb, "%s: %s\n", m.AuthorName, m.Text)
		}
	}

	return sb.String()
}
