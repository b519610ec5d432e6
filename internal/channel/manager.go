package channel

import (
	"context"
	"fmt"
	"log"

	"github.com/pinebranchco/wisp/internal/bus"
	"github.com/pinebranchco/wisp/internal/config"
)

// Manager owns the enabled channel adapters and their lifecycle.
type Manager struct {
	channels []Channel
}

func NewManager(cfg *config.Config, b *bus.MessageBus) (*Manager, error) {
	m := &Manager{}

	if cfg.Channels.Telegram.Enabled {
		tg, err := NewTelegramChannel(cfg.Channels.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.channels = append(m.channels, tg)
	}

	if len(m.channels) == 0 {
		return nil, fmt.Errorf("no channels enabled")
	}
	return m, nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	for _, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start channel %s: %w", ch.Name(), err)
		}
		log.Printf("[channel] %s started", ch.Name())
	}
	return nil
}

func (m *Manager) StopAll() {
	for _, ch := range m.channels {
		if err := ch.Stop(); err != nil {
			log.Printf("[channel] stop %s: %v", ch.Name(), err)
		}
	}
}

// Get returns the adapter with the given name, or nil.
func (m *Manager) Get(name string) Channel {
	for _, ch := range m.channels {
		if ch.Name() == name {
			return ch
		}
	}
	return nil
}

// Names lists the active adapters.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch.Name())
	}
	return out
}
