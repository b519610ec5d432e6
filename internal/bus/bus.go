package bus

import (
	"log"
	"time"
)

// InboundMessage is one user message delivered by a channel adapter.
type InboundMessage struct {
	Channel    string
	ChatID     string
	MessageID  string
	SenderID   string
	SenderName string
	Content    string
	Timestamp  time.Time
	// ReplyToBot is set when the message explicitly replies to one of
	// the bot's own messages.
	ReplyToBot bool
	Metadata   map[string]any
}

// ChannelKey identifies the conversation thread the message belongs to.
func (m *InboundMessage) ChannelKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is reply text addressed to a channel adapter.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	ReplyTo string
}

// MessageBus decouples channel adapters from the gateway. Adapters push
// inbound messages; the gateway pushes outbound replies which the owning
// adapter picks up through its subscription.
type MessageBus struct {
	Inbound   chan InboundMessage
	outbound  map[string]chan OutboundMessage
	bufferLen int
}

func NewMessageBus(bufferLen int) *MessageBus {
	if bufferLen <= 0 {
		bufferLen = 100
	}
	return &MessageBus{
		Inbound:   make(chan InboundMessage, bufferLen),
		outbound:  make(map[string]chan OutboundMessage),
		bufferLen: bufferLen,
	}
}

// SubscribeOutbound returns the outbound queue for a channel adapter,
// creating it on first use. Must be called during wiring, before
// DispatchOutbound can route to that channel.
func (b *MessageBus) SubscribeOutbound(channel string) chan OutboundMessage {
	ch, ok := b.outbound[channel]
	if !ok {
		ch = make(chan OutboundMessage, b.bufferLen)
		b.outbound[channel] = ch
	}
	return ch
}

// DispatchOutbound routes a reply to its channel's queue. Unknown channels
// and full queues drop the message with a log line rather than blocking the
// gateway loop.
func (b *MessageBus) DispatchOutbound(msg OutboundMessage) {
	ch, ok := b.outbound[msg.Channel]
	if !ok {
		log.Printf("[bus] dropping outbound for unknown channel %q", msg.Channel)
		return
	}
	select {
	case ch <- msg:
	default:
		log.Printf("[bus] outbound queue for %q full, dropping message", msg.Channel)
	}
}
