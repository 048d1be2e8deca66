package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/inbox/internal/bus"
)

func recv(t *testing.T, sub *Subscription) Entry {
	t.Helper()
	select {
	case e := <-sub.Updates():
		return e
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for update on %s", sub.Key())
		return Entry{}
	}
}

func TestNewKeyIsStable(t *testing.T) {
	type args struct {
		Email string `json:"email"`
	}
	a := NewKey("getConversations", args{Email: "a@x"})
	b := NewKey("getConversations", args{Email: "a@x"})
	c := NewKey("getConversations", args{Email: "b@x"})
	if a != b {
		t.Errorf("equal args give different keys: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different args give the same key")
	}
	if got, want := a.String(), `getConversations({"email":"a@x"})`; got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
}

func TestSubscribeDeliversCurrentEntry(t *testing.T) {
	s := New(Options{GracePeriod: -1})
	defer s.Close()
	key := NewKey("q", 1)
	s.Set(key, List[int]{Items: []int{1}, Total: 1})

	sub := s.Subscribe(key)
	defer sub.Close()

	e := recv(t, sub)
	if e.Status != StatusSuccess {
		t.Errorf("Status = %s, want success", e.Status)
	}
	if l := e.Data.(List[int]); l.Total != 1 {
		t.Errorf("Total = %d, want 1", l.Total)
	}
}

func TestUpdatePublishesToEveryConsumer(t *testing.T) {
	s := New(Options{GracePeriod: -1})
	defer s.Close()
	key := NewKey("q", 1)
	s.Set(key, List[int]{Items: []int{1}, Total: 1})

	a := s.Subscribe(key)
	defer a.Close()
	b := s.Subscribe(key)
	defer b.Close()
	recv(t, a)
	recv(t, b)

	err := UpdateList(s, key, func(l List[int]) List[int] {
		return List[int]{Items: append([]int{2}, l.Items...), Total: l.Total + 1}
	})
	if err != nil {
		t.Fatalf("UpdateList error = %v", err)
	}
	for _, sub := range []*Subscription{a, b} {
		if l := recv(t, sub).Data.(List[int]); l.Total != 2 || l.Items[0] != 2 {
			t.Errorf("update = %+v", l)
		}
	}
	if s.Consumers(key) != 2 {
		t.Errorf("Consumers = %d, want 2", s.Consumers(key))
	}
}

func TestUpdateMissingKey(t *testing.T) {
	s := New(Options{})
	defer s.Close()
	key := NewKey("q", 1)

	err := s.Update(key, func(data any) (any, error) { return data, nil })
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Update(absent) error = %v, want ErrKeyNotFound", err)
	}

	s.SetStatus(key, StatusPending, nil)
	err = s.Update(key, func(data any) (any, error) { return data, nil })
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Update(pending) error = %v, want ErrKeyNotFound", err)
	}
}

func TestUpdateWrongType(t *testing.T) {
	s := New(Options{})
	defer s.Close()
	key := NewKey("q", 1)
	s.Set(key, "scalar")

	err := UpdateList(s, key, func(l List[int]) List[int] { return l })
	if err == nil || errors.Is(err, ErrKeyNotFound) {
		t.Errorf("UpdateList(scalar) error = %v", err)
	}
	if v, _, ok := GetValue[string](s, key); !ok || v != "scalar" {
		t.Errorf("GetValue = %q, %v", v, ok)
	}
}

func TestSlowConsumerGetsLatest(t *testing.T) {
	s := New(Options{GracePeriod: -1})
	defer s.Close()
	key := NewKey("q", 1)
	sub := s.Subscribe(key)
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		s.Set(key, i)
	}
	if v := recv(t, sub).Data; v != 5 {
		t.Errorf("latest = %v, want 5", v)
	}
}

func TestSetStatusKeepsData(t *testing.T) {
	s := New(Options{})
	defer s.Close()
	key := NewKey("q", 1)
	s.Set(key, 1)
	s.SetStatus(key, StatusError, errors.New("boom"))

	e, _ := s.Get(key)
	if e.Status != StatusError || e.Err == nil || e.Data != 1 {
		t.Errorf("entry = %+v", e)
	}
	s.Set(key, 2)
	e, _ = s.Get(key)
	if e.Status != StatusSuccess || e.Err != nil {
		t.Errorf("Set did not clear the error: %+v", e)
	}
}

func TestSetStale(t *testing.T) {
	s := New(Options{})
	defer s.Close()
	key := NewKey("q", 1)

	s.SetStale(key, true)
	if _, ok := s.Get(key); ok {
		t.Fatal("SetStale created an entry")
	}

	s.Set(key, 1)
	s.SetStale(key, true)
	if e, _ := s.Get(key); !e.Stale {
		t.Error("entry not stale")
	}
	s.Set(key, 2)
	if e, _ := s.Get(key); e.Stale {
		t.Error("Set did not clear stale")
	}
}

func TestZeroGraceRemovesOnLastClose(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindCacheRemoved, 4)
	defer unsub()

	s := New(Options{Bus: b})
	defer s.Close()
	key := NewKey("q", 1)
	s.Set(key, 1)

	a := s.Subscribe(key)
	c := s.Subscribe(key)
	a.Close()
	if _, ok := s.Get(key); !ok {
		t.Fatal("entry removed while a consumer remains")
	}
	c.Close()
	if _, ok := s.Get(key); ok {
		t.Fatal("entry kept after last consumer left")
	}
	select {
	case evt := <-ch:
		if evt.Payload.(Key) != key {
			t.Errorf("removed key = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no cache.removed event")
	}
}

func TestGracePeriodEviction(t *testing.T) {
	s := New(Options{GracePeriod: 20 * time.Millisecond})
	defer s.Close()
	key := NewKey("q", 1)
	s.Set(key, 1)

	sub := s.Subscribe(key)
	sub.Close()

	e, ok := s.Get(key)
	if !ok {
		t.Fatal("entry removed before the grace period")
	}
	if !e.Stale {
		t.Error("retired entry not marked stale")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := s.Get(key); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("entry never evicted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestResubscribeCancelsEviction(t *testing.T) {
	s := New(Options{GracePeriod: 30 * time.Millisecond})
	defer s.Close()
	key := NewKey("q", 1)
	s.Set(key, 1)

	s.Subscribe(key).Close()
	again := s.Subscribe(key)
	defer again.Close()

	time.Sleep(150 * time.Millisecond)
	if _, ok := s.Get(key); !ok {
		t.Fatal("entry evicted while subscribed")
	}
}

func TestOnClose(t *testing.T) {
	s := New(Options{})
	defer s.Close()
	sub := s.Subscribe(NewKey("q", 1))

	calls := 0
	sub.OnClose(func() { calls++ })
	sub.Close()
	sub.Close()
	if calls != 1 {
		t.Errorf("OnClose ran %d times, want 1", calls)
	}
	sub.OnClose(func() { calls++ })
	if calls != 2 {
		t.Error("OnClose after Close did not run immediately")
	}
}
