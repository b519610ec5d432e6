package convo

import (
	"sync"
	"time"
)

// Message is one chat turn as seen by the memory subsystem. Immutable once
// appended.
type Message struct {
	ID         string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Text       string
	Timestamp  time.Time
	FromBot    bool
}

// Window keeps the N most recent messages per channel. Oldest entries are
// dropped on overflow; there is no durability guarantee.
type Window struct {
	mu       sync.RWMutex
	capacity int
	channels map[string][]Message
}

const DefaultCapacity = 30

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		channels: make(map[string][]Message),
	}
}

func (w *Window) Capacity() int {
	return w.capacity
}

// Append adds msg to its channel buffer, evicting the oldest entry when the
// buffer is full.
func (w *Window) Append(channelID string, msg Message) {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := w.channels[channelID]
	buf = append(buf, msg)
	if len(buf) > w.capacity {
		// Shift instead of re-slicing so the backing array does not pin
		// evicted messages.
		copy(buf, buf[len(buf)-w.capacity:])
		buf = buf[:w.capacity]
	}
	w.channels[channelID] = buf
}

// Recent returns up to limit most recent messages for the channel,
// most-recent-last. The returned slice is a copy. An unknown channel yields
// an empty result.
func (w *Window) Recent(channelID string, limit int) []Message {
	w.mu.RLock()
	defer w.mu.RUnlock()

	buf := w.channels[channelID]
	if limit <= 0 || limit > len(buf) {
		limit = len(buf)
	}
	out := make([]Message, limit)
	copy(out, buf[len(buf)-limit:])
	return out
}

// Len reports how many messages are currently buffered for the channel.
func (w *Window) Len(channelID string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.channels[channelID])
}

// Channels returns the ids of all channels with at least one buffered
// message.
func (w *Window) Channels() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.channels))
	for id, buf := range w.channels {
		if len(buf) > 0 {
			out = append(out, id)
		}
	}
	return out
}
