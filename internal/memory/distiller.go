package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pinebranchco/wisp/internal/convo"
)

const (
	distillTimeout    = 60 * time.Second
	distillMaxRetries = 3
)

// Distiller turns batches of recent messages into memory records. Distillation
// runs in the background off the reply path: NoteMessage counts per-channel
// traffic and kicks a flush once threshold messages have accumulated.
type Distiller struct {
	window    *convo.Window
	store     *Store
	client    CompletionClient
	threshold int

	mu      sync.Mutex
	pending map[string]int // channel -> messages since last distillation

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDistiller(window *convo.Window, store *Store, client CompletionClient, threshold int) *Distiller {
	if threshold <= 0 {
		threshold = 12
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Distiller{
		window:    window,
		store:     store,
		client:    client,
		threshold: threshold,
		pending:   make(map[string]int),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// NoteMessage records one new message for the channel and starts a background
// distillation pass when the threshold is reached. Never blocks on the
// completion capability.
func (d *Distiller) NoteMessage(channelID string) {
	d.mu.Lock()
	d.pending[channelID]++
	ready := d.pending[channelID] >= d.threshold
	if ready {
		d.pending[channelID] = 0
	}
	d.mu.Unlock()

	if ready {
		d.flushAsync(channelID)
	}
}

// Flush forces a distillation pass for the channel, regardless of how many
// messages have accumulated. Asynchronous like the threshold trigger.
func (d *Distiller) Flush(channelID string) {
	d.mu.Lock()
	d.pending[channelID] = 0
	d.mu.Unlock()
	d.flushAsync(channelID)
}

func (d *Distiller) flushAsync(channelID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.flushWithRetry(d.ctx, channelID)
	}()
}

func (d *Distiller) flushWithRetry(ctx context.Context, channelID string) {
	backoff := 2 * time.Second
	for attempt := 1; attempt <= distillMaxRetries; attempt++ {
		err := d.flushOnce(ctx, channelID)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrCompletionUnavailable) {
			log.Printf("[memory] distillation for %s failed: %v", channelID, err)
			return
		}
		if attempt == distillMaxRetries {
			log.Printf("[memory] distillation for %s gave up after %d attempts: %v", channelID, attempt, err)
			return
		}
		log.Printf("[memory] distillation for %s attempt %d failed, retrying in %s: %v", channelID, attempt, backoff, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (d *Distiller) flushOnce(ctx context.Context, channelID string) error {
	msgs := d.window.Recent(channelID, 0)
	if len(msgs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, distillTimeout)
	defer cancel()

	facts, err := d.Distill(ctx, msgs)
	if err != nil {
		return err
	}

	// A distillation that finished before shutdown still commits: the facts
	// are valid and each upsert is atomic.
	storeCtx, storeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer storeCancel()

	stored := 0
	for _, f := range facts {
		if err := d.store.Upsert(storeCtx, f.UserID, f.Topic, f.Summary, f.Confidence, f.SourceIDs); err != nil {
			log.Printf("[memory] warning: store fact for %s/%s: %v", f.UserID, f.Topic, err)
			continue
		}
		stored++
	}
	if stored > 0 {
		log.Printf("[memory] distilled %d fact(s) from %s (%d messages)", stored, channelID, len(msgs))
	}
	return nil
}

// Distill extracts candidate facts from an ordered message batch. Facts that
// cite no message actually present in the batch are dropped; confidence is
// clamped to [0,1]. A failing or timed-out completion yields the error, never
// partial facts.
func (d *Distiller) Distill(ctx context.Context, msgs []convo.Message) ([]Fact, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	known := make(map[string]bool, len(msgs))
	var sb strings.Builder
	for _, m := range msgs {
		if m.FromBot {
			// Bot turns give the model context but never count as fact sources.
			fmt.Fprintf(&sb, "%s|bot|%s: %s\n", m.ID, m.AuthorName, m.Text)
			continue
		}
		known[m.ID] = true
		fmt.Fprintf(&sb, "%s|%s|%s: %s\n", m.ID, m.AuthorID, m.AuthorName, m.Text)
	}

	raw, err := d.client.Complete(ctx, fmt.Sprintf(distillPrompt, sb.String()))
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrCompletionUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrCompletionUnavailable, err)
		}
		return nil, err
	}

	var result distillResult
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &result); err != nil {
		return nil, fmt.Errorf("%w: parse distillation result: %v", ErrCompletionUnavailable, err)
	}

	out := make([]Fact, 0, len(result.Facts))
	for _, f := range result.Facts {
		f.UserID = strings.TrimSpace(f.UserID)
		f.Topic = strings.TrimSpace(f.Topic)
		f.Summary = strings.TrimSpace(f.Summary)
		if f.UserID == "" || f.Topic == "" || f.Summary == "" {
			continue
		}

		cited := f.SourceIDs[:0]
		for _, id := range f.SourceIDs {
			if known[id] {
				cited = append(cited, id)
			}
		}
		if len(cited) == 0 {
			log.Printf("[memory] dropping unsupported fact %s/%s (no cited message in input)", f.UserID, f.Topic)
			continue
		}
		f.SourceIDs = cited

		if f.Confidence <= 0 {
			f.Confidence = 0.5
		} else if f.Confidence > 1 {
			f.Confidence = 1
		}
		out = append(out, f)
	}
	return out, nil
}

// Stop cancels in-flight distillations and waits for the workers to exit.
func (d *Distiller) Stop() {
	d.cancel()
	d.wg.Wait()
}

// stripCodeFence unwraps ```json fenced blocks some models insist on.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
