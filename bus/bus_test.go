package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func startedBus(t *testing.T) *Bus {
	t.Helper()
	b := New()
	b.Start()
	return b
}

func TestPublishDeliversBeforeReturn(t *testing.T) {
	b := startedBus(t)
	var got []string
	b.Subscribe("t", func(m *Message) {
		got = append(got, m.Type)
	})
	if err := b.Publish("t", &Message{Type: "a"}); err != nil {
		t.Fatal(err)
	}
	// Synchronous delivery: the handler must already have run.
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("delivery not synchronous: got %v", got)
	}
}

func TestPerTopicOrdering(t *testing.T) {
	b := startedBus(t)
	var got []string
	b.Subscribe("t", func(m *Message) { got = append(got, m.Type) })
	for i := 0; i < 10; i++ {
		if err := b.Publish("t", &Message{Type: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	for i, typ := range got {
		if typ != fmt.Sprintf("m%d", i) {
			t.Fatalf("order broken at %d: %v", i, got)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := startedBus(t)
	n := 0
	unsub := b.Subscribe("t", func(*Message) { n++ })
	b.Publish("t", &Message{Type: "a"})
	unsub()
	unsub() // second call is a no-op
	b.Publish("t", &Message{Type: "b"})
	if n != 1 {
		t.Fatalf("handler ran %d times, want 1", n)
	}
}

func TestLateSubscriberSeesNothing(t *testing.T) {
	b := startedBus(t)
	b.Publish("t", &Message{Type: "early"})
	var got []*Message
	b.Subscribe("t", func(m *Message) { got = append(got, m) })
	if len(got) != 0 {
		t.Fatalf("late subscriber received %d messages", len(got))
	}
	// History is the explicit replay surface.
	hist := b.History("t", 0)
	if len(hist) != 1 || hist[0].Type != "early" {
		t.Fatalf("history: got %v", hist)
	}
}

func TestHistoryBounded(t *testing.T) {
	b := New(WithHistorySize(4))
	b.Start()
	for i := 0; i < 10; i++ {
		b.Publish("t", &Message{Type: fmt.Sprintf("m%d", i)})
	}
	hist := b.History("t", 0)
	if len(hist) != 4 {
		t.Fatalf("history length: got %d, want 4", len(hist))
	}
	if hist[0].Type != "m6" || hist[3].Type != "m9" {
		t.Fatalf("history window: got %s..%s", hist[0].Type, hist[3].Type)
	}
	if got := b.History("t", 2); len(got) != 2 || got[0].Type != "m8" {
		t.Fatalf("limited history: got %v", got)
	}
}

func TestPublishAfterStop(t *testing.T) {
	b := startedBus(t)
	b.Stop()
	if err := b.Publish("t", &Message{Type: "a"}); err != ErrBusClosed {
		t.Fatalf("got %v, want ErrBusClosed", err)
	}
	// Start after Stop does not resurrect the bus.
	b.Start()
	if err := b.Publish("t", &Message{Type: "a"}); err != ErrBusClosed {
		t.Fatalf("after restart: got %v, want ErrBusClosed", err)
	}
}

func TestStopDrainsInFlightDelivery(t *testing.T) {
	b := startedBus(t)

	entered := make(chan struct{})
	done := make(chan struct{})
	b.Subscribe("t", func(*Message) {
		close(entered)
		time.Sleep(20 * time.Millisecond)
		close(done)
	})

	go b.Publish("t", &Message{Type: "a"})
	<-entered
	b.Stop()

	select {
	case <-done:
	default:
		t.Fatal("Stop returned while a delivery was still in flight")
	}
}

func TestPublishBeforeStart(t *testing.T) {
	b := New()
	if err := b.Publish("t", &Message{Type: "a"}); err != ErrBusClosed {
		t.Fatalf("got %v, want ErrBusClosed", err)
	}
}

func TestEnvelopeFilled(t *testing.T) {
	b := startedBus(t)
	var got *Message
	b.Subscribe("t", func(m *Message) { got = m })
	b.Publish("t", &Message{Type: "a"})
	if got.ID == "" || got.Timestamp.IsZero() || got.Meta.Version != 1 {
		t.Fatalf("envelope not filled: %+v", got)
	}
}

func TestConcurrentPublishers(t *testing.T) {
	b := startedBus(t)
	var mu sync.Mutex
	count := 0
	b.Subscribe("t", func(*Message) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish("t", &Message{Type: "x"})
			}
		}()
	}
	wg.Wait()
	if count != 400 {
		t.Fatalf("deliveries: got %d, want 400", count)
	}
}

func TestCrossTopicHandlerPublish(t *testing.T) {
	// A handler may publish to a different topic; the nested delivery
	// completes before the outer Publish returns.
	b := startedBus(t)
	var seen []string
	b.Subscribe("second", func(m *Message) { seen = append(seen, m.Type) })
	b.Subscribe("first", func(m *Message) {
		b.Publish("second", &Message{Type: "chained"})
	})
	b.Publish("first", &Message{Type: "origin"})
	if len(seen) != 1 || seen[0] != "chained" {
		t.Fatalf("chained publish: got %v", seen)
	}
}
