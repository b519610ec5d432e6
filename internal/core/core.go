package core

import (
	"context"
	"fmt"
	"time"

	"github.com/pinebranchco/wisp/internal/config"
	"github.com/pinebranchco/wisp/internal/convo"
	"github.com/pinebranchco/wisp/internal/memory"
	"github.com/pinebranchco/wisp/internal/prompt"
)

// Core is the memory and context-assembly subsystem behind the bot: the
// conversation window, the durable memory store, background distillation and
// the prompt assembler, behind one facade. The surrounding gateway feeds it
// messages and asks it for reply payloads; it never blocks a reply on
// distillation or on a slow store.
type Core struct {
	window    *convo.Window
	store     *memory.Store
	distiller *memory.Distiller
	assembler *prompt.Assembler

	promptBudget  int
	lookupTimeout time.Duration
}

// New opens the store at cfg.Memory.DBPath and wires the subsystem. client
// is the completion capability used for distillation; pass a fake in tests.
func New(cfg *config.Config, client memory.CompletionClient) (*Core, error) {
	dbPath := cfg.Memory.DBPath
	if dbPath == "" {
		return nil, fmt.Errorf("memory db path is required")
	}

	store, err := memory.NewStore(dbPath, memory.StoreOptions{
		SimilarityThreshold: cfg.Memory.SimilarityThreshold,
		MaxSummaryLen:       cfg.Memory.MaxSummaryLen,
	})
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	window := convo.NewWindow(cfg.Memory.WindowSize)

	return &Core{
		window:        window,
		store:         store,
		distiller:     memory.NewDistiller(window, store, client, cfg.Memory.DistillThreshold),
		assembler:     prompt.NewAssembler(window, store, cfg.Memory.WindowSize),
		promptBudget:  cfg.Memory.PromptBudget,
		lookupTimeout: time.Duration(cfg.Memory.LookupTimeoutMs) * time.Millisecond,
	}, nil
}

// OnIncomingMessage feeds the conversation window and advances the
// distillation trigger. Bot turns are buffered for context but do not count
// toward distillation. Never blocks.
func (c *Core) OnIncomingMessage(msg convo.Message) {
	c.window.Append(msg.ChannelID, msg)
	if !msg.FromBot {
		c.distiller.NoteMessage(msg.ChannelID)
	}
}

// PrepareReply builds the generation payload for a reply to incoming.
// Memory lookups are bounded by the configured timeout; on expiry the
// payload degrades to window context alone.
func (c *Core) PrepareReply(ctx context.Context, persona string, incoming convo.Message) prompt.PromptPayload {
	return c.PrepareReplyWithBudget(ctx, persona, incoming, c.promptBudget)
}

func (c *Core) PrepareReplyWithBudget(ctx context.Context, persona string, incoming convo.Message, budget int) prompt.PromptPayload {
	if c.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.lookupTimeout)
		defer cancel()
	}
	return c.assembler.Build(ctx, persona, incoming, budget)
}

// FlushMemory forces a distillation pass for the channel regardless of the
// message threshold. Asynchronous.
func (c *Core) FlushMemory(channelID string) {
	c.distiller.Flush(channelID)
}

// Window exposes the conversation window for read-side callers.
func (c *Core) Window() *convo.Window {
	return c.window
}

// Store exposes the durable record store for maintenance and CLI callers.
func (c *Core) Store() *memory.Store {
	return c.store
}

// Close stops background distillation (waiting for in-flight passes) and
// closes the store.
func (c *Core) Close() error {
	c.distiller.Stop()
	return c.store.Close()
}
