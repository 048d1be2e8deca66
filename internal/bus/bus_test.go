package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("cache.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindCacheUpdated, Payload: "entry"})

	select {
	case evt := <-ch:
		if evt.Kind != KindCacheUpdated {
			t.Errorf("got kind %q, want %s", evt.Kind, KindCacheUpdated)
		}
		if evt.Timestamp.IsZero() {
			t.Error("zero timestamp was not filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("push.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMutationConfirmed})
	b.Publish(Event{Kind: KindPushStateChanged})

	select {
	case evt := <-ch:
		if evt.Kind != KindPushStateChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindPushStateChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyNamespaceReceivesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Publish(Event{Kind: KindServerMessage})
	b.Publish(Event{Kind: KindMutationRolledBack})
	if len(ch) != 2 {
		t.Errorf("buffered %d events, want 2", len(ch))
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("cache.", 10)
	unsub()
	unsub()

	b.Publish(Event{Kind: KindCacheRemoved})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("mutation.", 1)
	defer unsub()

	b.Publish(Event{Kind: KindMutationConfirmed, Payload: 1})
	// Non-blocking: the second one is dropped.
	b.Publish(Event{Kind: KindMutationConfirmed, Payload: 2})

	evt := <-ch
	if evt.Payload != 1 {
		t.Errorf("got payload %v, want 1", evt.Payload)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}
