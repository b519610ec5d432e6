package convo

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func msg(id, channel, author, text string) Message {
	return Message{
		ID:         id,
		ChannelID:  channel,
		AuthorID:   author,
		AuthorName: author,
		Text:       text,
		Timestamp:  time.Now(),
	}
}

func TestWindowAppendAndRecent(t *testing.T) {
	w := NewWindow(3)

	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("m%d", i)
		w.Append("ch", msg(id, "ch", "u1", "message "+id))
	}

	got := w.Recent("ch", 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, want := range []string{"m3", "m4", "m5"} {
		if got[i].ID != want {
			t.Errorf("recent[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestWindowRecentLimit(t *testing.T) {
	w := NewWindow(10)
	for i := 1; i <= 4; i++ {
		w.Append("ch", msg(fmt.Sprintf("m%d", i), "ch", "u1", "hi"))
	}

	got := w.Recent("ch", 2)
	if len(got) != 2 || got[0].ID != "m3" || got[1].ID != "m4" {
		t.Fatalf("unexpected recent result: %+v", got)
	}

	// limit larger than buffer returns everything
	got = w.Recent("ch", 100)
	if len(got) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(got))
	}
}

func TestWindowEmptyChannel(t *testing.T) {
	w := NewWindow(3)
	got := w.Recent("nope", 5)
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}

func TestWindowNoCrossChannelLeakage(t *testing.T) {
	w := NewWindow(5)
	w.Append("a", msg("m1", "a", "u1", "in a"))
	w.Append("b", msg("m2", "b", "u2", "in b"))

	for _, m := range w.Recent("a", 5) {
		if m.ChannelID != "a" {
			t.Fatalf("channel a returned message for %s", m.ChannelID)
		}
	}
	if got := w.Recent("b", 5); len(got) != 1 || got[0].ID != "m2" {
		t.Fatalf("unexpected channel b contents: %+v", got)
	}
}

func TestWindowRecentReturnsCopy(t *testing.T) {
	w := NewWindow(3)
	w.Append("ch", msg("m1", "ch", "u1", "original"))

	got := w.Recent("ch", 1)
	got[0].Text = "mutated"

	again := w.Recent("ch", 1)
	if again[0].Text != "original" {
		t.Fatal("Recent must return a copy")
	}
}

func TestWindowDefaultCapacity(t *testing.T) {
	w := NewWindow(0)
	if w.Capacity() != DefaultCapacity {
		t.Fatalf("capacity = %d, want %d", w.Capacity(), DefaultCapacity)
	}
}

func TestWindowConcurrentAccess(t *testing.T) {
	w := NewWindow(20)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		ch := fmt.Sprintf("ch%d", i%3)
		go func(ch string, i int) {
			defer wg.Done()
			w.Append(ch, msg(fmt.Sprintf("m%d", i), ch, "u1", "hi"))
		}(ch, i)
		go func(ch string) {
			defer wg.Done()
			_ = w.Recent(ch, 10)
		}(ch)
	}
	wg.Wait()

	total := 0
	for _, ch := range w.Channels() {
		total += w.Len(ch)
	}
	if total != 10 {
		t.Fatalf("expected 10 buffered messages, got %d", total)
	}
}
