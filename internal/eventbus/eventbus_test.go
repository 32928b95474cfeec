package eventbus

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New(4, zerolog.Nop())
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	b.Publish(Event{Kind: KindMessageNew, SessionID: "sess_alice_deadbeef"})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.Events:
			if ev.Kind != KindMessageNew {
				t.Fatalf("unexpected event kind: %v", ev.Kind)
			}
		default:
			t.Fatalf("expected event to be delivered")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(4, zerolog.Nop())
	sub := b.Subscribe()
	sub.Unsubscribe()

	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", got)
	}
	// publishing after unsubscribe must not panic on the closed channel
	b.Publish(Event{Kind: KindAgentStart})
}

func TestPublishDropsSlowSubscriberWithoutBlocking(t *testing.T) {
	b := New(1, zerolog.Nop())
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(Event{Kind: KindAgentChunk, Content: "one"})
	b.Publish(Event{Kind: KindAgentChunk, Content: "two"}) // buffer full, subscriber dropped

	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("expected slow subscriber to be dropped, got %d subscribers", got)
	}
	first, ok := <-sub.Events
	if !ok || first.Content != "one" {
		t.Fatalf("expected the first buffered event to still be readable, got %+v ok=%v", first, ok)
	}
	if _, ok := <-sub.Events; ok {
		t.Fatalf("expected the channel to be drained and closed after the one buffered event")
	}
}

func TestCloseAllClosesLiveSubscriberChannels(t *testing.T) {
	b := New(4, zerolog.Nop())
	sub := b.Subscribe()

	b.CloseAll()

	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("expected 0 subscribers after CloseAll, got %d", got)
	}
	if _, ok := <-sub.Events; ok {
		t.Fatalf("expected a subscriber's channel to be closed by CloseAll")
	}
}

func TestRegistryDropClosesSubscribersHeldDirectlyByCallers(t *testing.T) {
	r := NewRegistry(4, zerolog.Nop())
	// Simulate a WebSocket handler that holds a direct *Bus pointer rather
	// than looking it up through the registry on every event.
	bus := r.Bus("sess_alice_deadbeef")
	sub := bus.Subscribe()

	r.Drop("sess_alice_deadbeef")

	select {
	case _, ok := <-sub.Events:
		if ok {
			t.Fatalf("expected the subscriber's channel to be closed after Drop")
		}
	default:
		t.Fatalf("expected the subscriber's channel to be closed (readable as closed), not still open and empty")
	}
}

func TestRegistryReturnsSameBusPerSession(t *testing.T) {
	r := NewRegistry(4, zerolog.Nop())
	a := r.Bus("sess_alice_deadbeef")
	b := r.Bus("sess_alice_deadbeef")
	if a != b {
		t.Fatalf("expected the same bus instance for repeated lookups")
	}
	r.Drop("sess_alice_deadbeef")
	c := r.Bus("sess_alice_deadbeef")
	if c == a {
		t.Fatalf("expected a fresh bus after Drop")
	}
}
