package push

import (
	"testing"
	"time"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/model"
)

var testKey = Key{Topic: model.KindMessage, Filter: "1"}

func TestInitialState(t *testing.T) {
	m := NewMachine(testKey, nil)
	if m.Current() != Closed {
		t.Errorf("initial state = %s, want CLOSED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		path []State
	}{
		{[]State{Connecting, Open}},
		{[]State{Connecting, Reconnecting, Open}},
		{[]State{Connecting, Open, Reconnecting, Closed}},
		{[]State{Connecting, Closed, Connecting}},
	}
	for _, tt := range tests {
		m := NewMachine(testKey, nil)
		for _, to := range tt.path {
			if err := m.Transition(to); err != nil {
				t.Fatalf("path %v: %v", tt.path, err)
			}
		}
		if got := m.Current(); got != tt.path[len(tt.path)-1] {
			t.Errorf("path %v: state = %s", tt.path, got)
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(testKey, nil)
	if err := m.Transition(Open); err == nil {
		t.Error("Transition(CLOSED -> OPEN) should fail")
	}
	if m.Current() != Closed {
		t.Errorf("state changed after invalid transition: %s", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("push.", 10)
	defer unsub()

	m := NewMachine(testKey, b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		sc, ok := evt.Payload.(StateChange)
		if !ok {
			t.Fatalf("payload type = %T", evt.Payload)
		}
		if sc.Key != testKey || sc.From != Closed || sc.To != Connecting {
			t.Errorf("change = %+v", sc)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state event")
	}
}

func TestDelay(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := cfg.Delay(tt.n); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}

func TestDelayWithoutMaxDelay(t *testing.T) {
	cfg := Config{BaseDelay: time.Second}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{10, 512 * time.Second},
		{12, 2048 * time.Second},
		{13, Ceiling},
		{35, Ceiling},
		{64, Ceiling},
		{1 << 20, Ceiling},
	}
	for _, tt := range tests {
		if got := cfg.Delay(tt.n); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.n, got, tt.want)
		}
	}

	prev := time.Duration(0)
	for n := 1; n <= 200; n++ {
		got := cfg.Delay(n)
		if got <= 0 || got < prev {
			t.Fatalf("Delay(%d) = %s after %s", n, got, prev)
		}
		prev = got
	}
}

func TestExhausted(t *testing.T) {
	cfg := Config{MaxAttempts: 2}
	if cfg.Exhausted(2) {
		t.Error("Exhausted(2) with MaxAttempts 2")
	}
	if !cfg.Exhausted(3) {
		t.Error("not Exhausted(3) with MaxAttempts 2")
	}
	if (Config{}).Exhausted(1000) {
		t.Error("zero MaxAttempts should retry forever")
	}
}
