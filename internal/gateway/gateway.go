package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/google/uuid"

	"github.com/pinebranchco/wisp/internal/bus"
	"github.com/pinebranchco/wisp/internal/channel"
	"github.com/pinebranchco/wisp/internal/config"
	"github.com/pinebranchco/wisp/internal/convo"
	"github.com/pinebranchco/wisp/internal/core"
	"github.com/pinebranchco/wisp/internal/cron"
	"github.com/pinebranchco/wisp/internal/memory"
	"github.com/pinebranchco/wisp/internal/persona"
)

// Runtime is the generation backend. Split out so tests can fake it.
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// RuntimeFactory creates a Runtime instance.
type RuntimeFactory func(cfg *config.Config) (Runtime, error)

// Options carries test injection points.
type Options struct {
	RuntimeFactory   RuntimeFactory
	CompletionClient memory.CompletionClient
	SignalChan       chan os.Signal
	Persona          *persona.Persona
}

// DefaultRuntimeFactory builds the agentsdk-go runtime from config.
func DefaultRuntimeFactory(cfg *config.Config) (Runtime, error) {
	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:  cfg.Agent.Workspace,
		ModelFactory: provider,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

// Gateway wires channels, the memory core and the generation runtime, and
// runs the message loop.
type Gateway struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	runtime  Runtime
	channels *channel.Manager
	cron     *cron.Service
	core     *core.Core
	persona  *persona.Persona

	activityMu   sync.Mutex
	lastActivity map[string]time.Time // channel key -> last inbound

	handlers   sync.WaitGroup // in-flight handleInbound goroutines
	signalChan chan os.Signal

	// sleep is swapped out in tests so typing simulation does not stall them.
	sleep func(time.Duration)
}

func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:          cfg,
		bus:          bus.NewMessageBus(config.DefaultBufSize),
		lastActivity: make(map[string]time.Time),
		signalChan:   opts.SignalChan,
		sleep:        time.Sleep,
	}

	p := opts.Persona
	if p == nil {
		loaded, err := persona.Load(config.PersonaPath())
		if err != nil {
			return nil, fmt.Errorf("load persona: %w", err)
		}
		p = loaded
	}
	if cfg.Gateway.Stealth {
		p.Stealth = true
	}
	g.persona = p

	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = filepath.Join(config.ConfigDir(), "data", "memory.db")
	}
	client := opts.CompletionClient
	if client == nil {
		client = memory.NewCompletionClient(cfg)
	}
	c, err := core.New(cfg, client)
	if err != nil {
		return nil, fmt.Errorf("create memory core: %w", err)
	}
	g.core = c

	factory := opts.RuntimeFactory
	if factory == nil {
		factory = DefaultRuntimeFactory
	}
	rt, err := factory(cfg)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	g.runtime = rt

	chMgr, err := channel.NewManager(cfg, g.bus)
	if err != nil {
		_ = c.Close()
		rt.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.cron = cron.NewService()
	if err := g.registerMaintenanceJobs(client); err != nil {
		_ = c.Close()
		rt.Close()
		return nil, fmt.Errorf("register maintenance jobs: %w", err)
	}

	return g, nil
}

func (g *Gateway) registerMaintenanceJobs(client memory.CompletionClient) error {
	maint := memory.NewMaintenance(g.core.Store(), client)

	err := g.cron.Add("memory-recompress", "0 0 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := maint.RecompressOversized(ctx, 20); err != nil {
			log.Printf("[gateway] recompress warning: %v", err)
		}
	})
	if err != nil {
		return err
	}

	if g.cfg.Memory.Retention.Enabled {
		days := g.cfg.Memory.Retention.Days
		minWeight := g.cfg.Memory.Retention.MinWeight
		err = g.cron.Add("memory-retention", "0 0 4 * * 1", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := maint.SweepStale(ctx, time.Duration(days)*24*time.Hour, minWeight); err != nil {
				log.Printf("[gateway] retention sweep warning: %v", err)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Run starts everything and blocks until SIGINT/SIGTERM.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.Names())

	g.cron.Start()

	go g.processLoop(ctx)
	go g.boredomLoop(ctx)

	log.Printf("[gateway] running as %s", g.persona.Name)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			// One task per message: the typing pause on a busy channel
			// must not hold up traffic from the others.
			g.handlers.Add(1)
			go func() {
				defer g.handlers.Done()
				g.handleInbound(ctx, msg)
			}()
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

	channelKey := msg.ChannelKey()
	g.noteActivity(channelKey)

	incoming := toWindowMessage(msg, channelKey)
	g.core.OnIncomingMessage(incoming)

	if !g.shouldEngage(msg) {
		return
	}

	payload := g.core.PrepareReply(ctx, g.persona.SystemPrompt(), incoming)

	resp, err := g.runtime.Run(ctx, api.Request{
		Prompt:    payload.Render(),
		SessionID: channelKey,
	})
	if err != nil {
		log.Printf("[gateway] runtime error: %v", err)
		return
	}
	if resp == nil || resp.Result == nil {
		return
	}
	reply := strings.TrimSpace(resp.Result.Output)
	if reply == "" {
		return
	}

	g.simulateTyping(ctx, msg.Channel, msg.ChatID, reply)

	g.bus.DispatchOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
		ReplyTo: msg.MessageID,
	})

	// The bot's own turn feeds the window so follow-ups see it.
	g.core.OnIncomingMessage(convo.Message{
		ID:         uuid.NewString(),
		ChannelID:  channelKey,
		AuthorID:   "wisp",
		AuthorName: g.persona.Name,
		Text:       reply,
		Timestamp:  time.Now(),
		FromBot:    true,
	})
}

func toWindowMessage(msg bus.InboundMessage, channelKey string) convo.Message {
	id := msg.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return convo.Message{
		ID:         id,
		ChannelID:  channelKey,
		AuthorID:   msg.SenderID,
		AuthorName: msg.SenderName,
		Text:       msg.Content,
		Timestamp:  ts,
	}
}

// simulateTyping holds the reply back for a human-looking composing pause,
// flashing the channel's typing indicator if it has one.
func (g *Gateway) simulateTyping(ctx context.Context, channelName, chatID, reply string) {
	base := time.Duration(g.cfg.Gateway.Typing.BaseDelayMs) * time.Millisecond
	perChar := time.Duration(g.cfg.Gateway.Typing.DelayPerCharMs) * time.Millisecond
	delay := base + time.Duration(len(reply))*perChar
	if delay > 8*time.Second {
		delay = 8 * time.Second
	}

	if ch := g.channels.Get(channelName); ch != nil {
		if typer, ok := ch.(channel.Typing); ok {
			typer.ShowTyping(chatID)
		}
	}

	select {
	case <-ctx.Done():
	default:
		g.sleep(delay)
	}
}

func (g *Gateway) noteActivity(channelKey string) {
	g.activityMu.Lock()
	g.lastActivity[channelKey] = time.Now()
	g.activityMu.Unlock()
}

// FlushMemory forces a distillation pass. Exposed for the CLI.
func (g *Gateway) FlushMemory(channelKey string) {
	g.core.FlushMemory(channelKey)
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	g.channels.StopAll()
	g.handlers.Wait()
	if err := g.core.Close(); err != nil {
		log.Printf("[gateway] close memory core warning: %v", err)
	}
	if g.runtime != nil {
		g.runtime.Close()
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
