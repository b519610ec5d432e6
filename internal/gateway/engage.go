package gateway

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/google/uuid"

	"github.com/pinebranchco/wisp/internal/bus"
	"github.com/pinebranchco/wisp/internal/convo"
)

// Bare acknowledgements nobody expects an answer to.
var bareAcks = map[string]bool{
	"ok": true, "okay": true, "k": true, "kk": true,
	"lol": true, "lmao": true, "haha": true, "ha": true,
	"yes": true, "no": true, "yep": true, "nope": true, "yeah": true,
	"nice": true, "cool": true, "thanks": true, "thx": true, "ty": true,
	"hm": true, "hmm": true, "oh": true, "ah": true,
}

// shouldEngage decides whether the incoming message deserves a reply:
// explicit replies to the bot always do, then name mentions and configured
// trigger words, as whole words. Bare acknowledgements are skipped even when
// they would otherwise match.
func (g *Gateway) shouldEngage(msg bus.InboundMessage) bool {
	text := strings.ToLower(strings.TrimSpace(msg.Content))
	if text == "" {
		return false
	}

	if bareAcks[strings.Trim(text, "!.?,")] {
		return false
	}

	if msg.ReplyToBot {
		return true
	}

	if containsWord(text, strings.ToLower(g.persona.Name)) {
		return true
	}
	for _, w := range g.cfg.Gateway.TriggerWords {
		if containsWord(text, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// containsWord reports whether word occurs in text on word boundaries, so
// "wisp" does not fire on "whisper".
func containsWord(text, word string) bool {
	if word == "" {
		return false
	}
	for start := 0; ; {
		idx := strings.Index(text[start:], word)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(word)
		beforeOK := idx == 0 || !isWordChar(text[idx-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

const boredomCheckInterval = time.Minute

// boredomLoop watches for channels that went quiet after recent activity and
// drops an unprompted message to keep the conversation alive. Stealth mode
// disables it entirely; unexplained chattiness is what gets bots noticed.
func (g *Gateway) boredomLoop(ctx context.Context) {
	if g.cfg.Gateway.Stealth {
		return
	}
	threshold := time.Duration(g.cfg.Gateway.BoredomThresholdMin) * time.Minute
	if threshold <= 0 {
		return
	}

	ticker := time.NewTicker(boredomCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, key := range g.quietChannels(threshold) {
				g.speakUnprompted(ctx, key)
			}
		case <-ctx.Done():
			return
		}
	}
}

// quietChannels returns channels idle for longer than threshold and clears
// their activity marker so each quiet stretch prompts at most one message.
func (g *Gateway) quietChannels(threshold time.Duration) []string {
	g.activityMu.Lock()
	defer g.activityMu.Unlock()

	var out []string
	now := time.Now()
	for key, last := range g.lastActivity {
		if now.Sub(last) >= threshold {
			out = append(out, key)
			delete(g.lastActivity, key)
		}
	}
	return out
}

func (g *Gateway) speakUnprompted(ctx context.Context, channelKey string) {
	channelName, chatID, ok := splitChannelKey(channelKey)
	if !ok {
		return
	}

	payload := g.core.PrepareReply(ctx, g.persona.SystemPrompt(), convo.Message{
		ID:        uuid.NewString(),
		ChannelID: channelKey,
		Text:      "",
		Timestamp: time.Now(),
		FromBot:   true,
	})

	prompt := payload.Render() +
		"\n\nThe chat has gone quiet for a while. Say something natural to restart the conversation: a casual thought, a question for someone, or a follow-up on something discussed earlier. Keep it short."

	resp, err := g.runtime.Run(ctx, api.Request{Prompt: prompt, SessionID: channelKey})
	if err != nil {
		log.Printf("[gateway] boredom message error: %v", err)
		return
	}
	if resp == nil || resp.Result == nil {
		return
	}
	text := strings.TrimSpace(resp.Result.Output)
	if text == "" {
		return
	}

	log.Printf("[gateway] breaking the silence in %s", channelKey)
	g.bus.DispatchOutbound(bus.OutboundMessage{
		Channel: channelName,
		ChatID:  chatID,
		Content: text,
	})
	g.core.OnIncomingMessage(convo.Message{
		ID:         uuid.NewString(),
		ChannelID:  channelKey,
		AuthorID:   "wisp",
		AuthorName: g.persona.Name,
		Text:       text,
		Timestamp:  time.Now(),
		FromBot:    true,
	})
}

func splitChannelKey(key string) (channelName, chatID string, ok bool) {
	idx := strings.Index(key, ":")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}
