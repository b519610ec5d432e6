package channel

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/pinebranchco/wisp/internal/bus"
	"github.com/pinebranchco/wisp/internal/config"
)

type fakeBot struct {
	self    tgbotapi.User
	sent    []tgbotapi.MessageConfig
	actions []tgbotapi.ChatActionConfig
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeBot) StopReceivingUpdates() {}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if action, ok := c.(tgbotapi.ChatActionConfig); ok {
		f.actions = append(f.actions, action)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetSelf() tgbotapi.User {
	return f.self
}

func newTestChannel(t *testing.T, allowFrom []string) (*TelegramChannel, *fakeBot, *bus.MessageBus) {
	t.Helper()
	b := bus.NewMessageBus(8)
	cfg := config.TelegramConfig{Token: "test-token", AllowFrom: allowFrom}
	ch, err := NewTelegramChannelWithFactory(cfg, b, nil)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	bot := &fakeBot{self: tgbotapi.User{ID: 999, UserName: "wisp_bot"}}
	ch.SetBot(bot)
	return ch, bot, b
}

func tgMessage(fromID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: fromID, UserName: "ada"},
		Chat:      &tgbotapi.Chat{ID: 42},
		Text:      text,
		Date:      1700000000,
	}
}

func TestHandleMessagePublishesInbound(t *testing.T) {
	ch, _, b := newTestChannel(t, nil)

	ch.handleMessage(tgMessage(12345, "hello there"))

	select {
	case msg := <-b.Inbound:
		if msg.Channel != "telegram" || msg.ChatID != "42" || msg.SenderID != "12345" {
			t.Errorf("unexpected message: %+v", msg)
		}
		if msg.Content != "hello there" || msg.SenderName != "ada" {
			t.Errorf("unexpected content: %+v", msg)
		}
		if msg.ReplyToBot {
			t.Error("plain message flagged as reply to bot")
		}
	default:
		t.Fatal("no inbound message published")
	}
}

func TestHandleMessageDetectsReplyToBot(t *testing.T) {
	ch, _, b := newTestChannel(t, nil)

	msg := tgMessage(12345, "yes exactly")
	msg.ReplyToMessage = &tgbotapi.Message{
		From: &tgbotapi.User{ID: 999, UserName: "wisp_bot"},
	}
	ch.handleMessage(msg)

	got := <-b.Inbound
	if !got.ReplyToBot {
		t.Error("reply to the bot not flagged")
	}
}

func TestHandleMessageAllowlist(t *testing.T) {
	ch, _, b := newTestChannel(t, []string{"1"})

	ch.handleMessage(tgMessage(2, "not allowed"))

	select {
	case msg := <-b.Inbound:
		t.Fatalf("disallowed sender published: %+v", msg)
	default:
	}
}

func TestHandleMessageSkipsNonText(t *testing.T) {
	ch, _, b := newTestChannel(t, nil)

	ch.handleMessage(tgMessage(1, ""))

	select {
	case <-b.Inbound:
		t.Fatal("empty message published")
	default:
	}
}

func TestSendChunksLongMessages(t *testing.T) {
	ch, bot, _ := newTestChannel(t, nil)

	long := strings.Repeat("line of reply text\n", 300) // ~5700 chars
	if err := ch.send(bus.OutboundMessage{ChatID: "42", Content: long}); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(bot.sent) < 2 {
		t.Fatalf("expected chunked send, got %d message(s)", len(bot.sent))
	}
	for i, m := range bot.sent {
		if len(m.Text) > 4000 {
			t.Errorf("chunk %d exceeds limit: %d chars", i, len(m.Text))
		}
	}
}

func TestSendInvalidChatID(t *testing.T) {
	ch, _, _ := newTestChannel(t, nil)
	if err := ch.send(bus.OutboundMessage{ChatID: "abc", Content: "hi"}); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}

func TestShowTyping(t *testing.T) {
	ch, bot, _ := newTestChannel(t, nil)

	ch.ShowTyping("42")

	if len(bot.actions) != 1 || bot.actions[0].Action != tgbotapi.ChatTyping {
		t.Fatalf("typing action not sent: %+v", bot.actions)
	}
}

func TestNewTelegramChannelRequiresToken(t *testing.T) {
	b := bus.NewMessageBus(1)
	if _, err := NewTelegramChannel(config.TelegramConfig{}, b); err == nil {
		t.Fatal("expected error for missing token")
	}
}
