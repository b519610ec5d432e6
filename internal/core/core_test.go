package core

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pinebranchco/wisp/internal/config"
	"github.com/pinebranchco/wisp/internal/convo"
	"github.com/pinebranchco/wisp/internal/memory"
)

type scriptedCompletion struct {
	response string
	err      error
	calls    int
}

func (s *scriptedCompletion) Complete(_ context.Context, _ string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Memory.DBPath = filepath.Join(t.TempDir(), "wisp.db")
	cfg.Memory.DistillThreshold = 3
	return cfg
}

func newTestCore(t *testing.T, client memory.CompletionClient) *Core {
	t.Helper()
	c, err := New(testConfig(t), client)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func userMsg(i int) convo.Message {
	return convo.Message{
		ID: fmt.Sprintf("m%d", i), ChannelID: "ch", AuthorID: "u1",
		AuthorName: "ada", Text: fmt.Sprintf("chatting %d", i),
		Timestamp: time.Now(),
	}
}

func TestEndToEndDistillAndRecall(t *testing.T) {
	client := &scriptedCompletion{response: `{"facts":[
		{"user_id":"u1","topic":"coffee","summary":"likes espresso","confidence":0.9,"source_message_ids":["m1"]}
	]}`}
	c := newTestCore(t, client)

	for i := 1; i <= 3; i++ {
		c.OnIncomingMessage(userMsg(i))
	}
	// threshold 3 kicks a background pass; wait for it through Close-like
	// synchronization by polling the store.
	deadline := time.After(2 * time.Second)
	for {
		records, err := c.Store().Lookup(context.Background(), "u1", "coffee")
		if err == nil && len(records) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("distilled fact never reached the store")
		case <-time.After(10 * time.Millisecond):
		}
	}

	p := c.PrepareReply(context.Background(), "persona", convo.Message{
		ID: "in", ChannelID: "ch", AuthorID: "u1", AuthorName: "ada",
		Text: "coffee recommendations?", Timestamp: time.Now(),
	})
	if len(p.Facts) != 1 || p.Facts[0].Summary != "likes espresso" {
		t.Fatalf("recalled facts = %+v", p.Facts)
	}
	if len(p.Recent) != 3 {
		t.Errorf("recent = %d messages, want 3", len(p.Recent))
	}
}

func TestPrepareReplySurvivesDeadCompletion(t *testing.T) {
	client := &scriptedCompletion{err: memory.ErrCompletionUnavailable}
	c := newTestCore(t, client)

	for i := 1; i <= 5; i++ {
		c.OnIncomingMessage(userMsg(i))
	}

	p := c.PrepareReply(context.Background(), "persona", userMsg(6))
	if len(p.Recent) == 0 {
		t.Fatal("payload must carry window context when completion is down")
	}
	if len(p.Facts) != 0 {
		t.Errorf("no facts should exist, got %+v", p.Facts)
	}
}

func TestBotMessagesDoNotAdvanceDistillation(t *testing.T) {
	client := &scriptedCompletion{response: `{"facts":[]}`}
	c := newTestCore(t, client)

	for i := 1; i <= 2; i++ {
		c.OnIncomingMessage(userMsg(i))
	}
	for i := 0; i < 5; i++ {
		c.OnIncomingMessage(convo.Message{
			ID: fmt.Sprintf("b%d", i), ChannelID: "ch", AuthorID: "bot",
			AuthorName: "wisp", Text: "reply", FromBot: true,
		})
	}
	_ = c.Close()

	if client.calls != 0 {
		t.Errorf("bot turns advanced the distillation trigger: %d calls", client.calls)
	}
}

func TestFlushMemoryForcesPass(t *testing.T) {
	client := &scriptedCompletion{response: `{"facts":[]}`}
	c := newTestCore(t, client)

	c.OnIncomingMessage(userMsg(1))
	c.FlushMemory("ch")
	_ = c.Close()

	if client.calls != 1 {
		t.Errorf("flush did not run distillation: %d calls", client.calls)
	}
}

func TestNewRequiresDBPath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Memory.DBPath = ""
	if _, err := New(cfg, &scriptedCompletion{}); err == nil {
		t.Fatal("expected error for missing db path")
	}
}
