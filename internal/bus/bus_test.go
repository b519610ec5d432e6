package bus

import "testing"

func TestChannelKey(t *testing.T) {
	m := InboundMessage{Channel: "telegram", ChatID: "42"}
	if got := m.ChannelKey(); got != "telegram:42" {
		t.Errorf("ChannelKey = %q", got)
	}
}

func TestDispatchOutboundRoutes(t *testing.T) {
	b := NewMessageBus(4)
	out := b.SubscribeOutbound("telegram")

	b.DispatchOutbound(OutboundMessage{Channel: "telegram", ChatID: "42", Content: "hi"})

	select {
	case msg := <-out:
		if msg.Content != "hi" {
			t.Errorf("content = %q", msg.Content)
		}
	default:
		t.Fatal("message not routed")
	}
}

func TestDispatchOutboundUnknownChannel(t *testing.T) {
	b := NewMessageBus(4)
	// must not panic or block
	b.DispatchOutbound(OutboundMessage{Channel: "nope", Content: "hi"})
}

func TestDispatchOutboundFullQueueDrops(t *testing.T) {
	b := NewMessageBus(1)
	_ = b.SubscribeOutbound("telegram")

	b.DispatchOutbound(OutboundMessage{Channel: "telegram", Content: "first"})
	// queue is full; this must drop, not block
	b.DispatchOutbound(OutboundMessage{Channel: "telegram", Content: "second"})

	out := b.SubscribeOutbound("telegram")
	if msg := <-out; msg.Content != "first" {
		t.Errorf("content = %q", msg.Content)
	}
	select {
	case msg := <-out:
		t.Fatalf("second message should have been dropped, got %q", msg.Content)
	default:
	}
}
