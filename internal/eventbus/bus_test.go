package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: "ping"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != "ping" {
				t.Fatalf("subscriber %d: Type = %q", i, ev.Type)
			}
			if ev.Time.IsZero() {
				t.Fatalf("subscriber %d: Time not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event", i)
		}
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(2)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "tick"}) // must never block
	}

	got := 0
	for {
		select {
		case <-ch:
			got++
		default:
			if got != 2 {
				t.Fatalf("buffered events = %d, want 2", got)
			}
			return
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)

	unsub()
	unsub() // second call is a no-op

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after unsubscribe")
	}

	b.Publish(Event{Type: "late"}) // must not panic
}
