package channel

import "context"

// Channel is one chat-platform adapter. Start begins delivering inbound
// messages to the bus and draining the adapter's outbound queue.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// Typing is implemented by adapters that can show a typing indicator while
// the gateway simulates composing a reply.
type Typing interface {
	ShowTyping(chatID string)
}

// BaseChannel carries the pieces every adapter shares: its name and the
// sender allowlist.
type BaseChannel struct {
	name      string
	allowFrom map[string]bool
}

func NewBaseChannel(name string, allowFrom []string) BaseChannel {
	allowed := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allowed[id] = true
	}
	return BaseChannel{name: name, allowFrom: allowed}
}

func (b *BaseChannel) Name() string {
	return b.name
}

// IsAllowed reports whether the sender passes the allowlist. An empty
// allowlist admits everyone.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.allowFrom) == 0 {
		return true
	}
	return b.allowFrom[senderID]
}
