package bus

import (
	"testing"
	"time"
)

func collect(sub *Subscription, n int, timeout time.Duration) []Event {
	out := make([]Event, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestPublishRoutesToFirehoseAndSessionTopic(t *testing.T) {
	b := New()
	fire := b.Subscribe(Firehose, 8)
	sess := b.Subscribe(SessionTopic("s1"), 8)
	other := b.Subscribe(SessionTopic("s2"), 8)

	b.Publish(Event{Type: "llm_request", SessionID: "s1"})
	b.Publish(Event{Type: "agent_response", SessionID: "s1"})
	b.Publish(Event{Type: "session_ended"}) // no session id → firehose only

	got := collect(sess, 2, time.Second)
	if len(got) != 2 || got[0].Type != "llm_request" || got[1].Type != "agent_response" {
		t.Fatalf("session topic got %+v", got)
	}
	if fh := collect(fire, 3, time.Second); len(fh) != 3 {
		t.Fatalf("firehose got %d events, want 3", len(fh))
	}
	select {
	case ev := <-other.C:
		t.Fatalf("unrelated session topic received %+v", ev)
	default:
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	b := New()
	sub := b.Subscribe(Firehose, 1)
	b.Publish(Event{Type: "x"})
	ev := collect(sub, 1, time.Second)
	if len(ev) != 1 || ev[0].Timestamp.IsZero() {
		t.Fatalf("expected stamped timestamp, got %+v", ev)
	}
}

func TestSlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	b := New()
	slow := b.Subscribe(Firehose, 2)
	fast := b.Subscribe(Firehose, 16)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: "tick"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	if b.SubscriberCount(Firehose) != 1 {
		t.Fatalf("slow subscriber not dropped, count=%d", b.SubscriberCount(Firehose))
	}
	// The slow subscriber's channel must be closed after the drop.
	drained := 0
	for range slow.C {
		drained++
	}
	if drained > 2 {
		t.Fatalf("slow subscriber drained %d events, buffer was 2", drained)
	}
	if got := collect(fast, 10, time.Second); len(got) != 10 {
		t.Fatalf("fast subscriber got %d events, want 10", len(got))
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe(SessionTopic("s"), 1)
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	if b.SubscriberCount(SessionTopic("s")) != 0 {
		t.Fatal("subscription still registered after unsubscribe")
	}
}

func TestOrderingPerTopic(t *testing.T) {
	b := New()
	sub := b.Subscribe(SessionTopic("ord"), 64)
	types := []string{"llm_request", "llm_response", "tool_call_start", "tool_call_end", "agent_response"}
	for _, ty := range types {
		b.Publish(Event{Type: ty, SessionID: "ord"})
	}
	got := collect(sub, len(types), time.Second)
	for i, ev := range got {
		if ev.Type != types[i] {
			t.Fatalf("event %d = %s, want %s", i, ev.Type, types[i])
		}
	}
}
