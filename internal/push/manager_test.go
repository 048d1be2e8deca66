package push

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/inbox/internal/model"
)

type fakeConn struct {
	events chan model.Event
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan model.Event, 16),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadEvent() (model.Event, error) {
	select {
	case evt := <-c.events:
		return evt, nil
	case err := <-c.errs:
		return model.Event{}, err
	case <-c.done:
		return model.Event{}, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// fakeDialer hands out queued connections. An empty queue fails the dial.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) push(c *fakeConn) {
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
}

func (d *fakeDialer) Dial(_ context.Context, topic model.Kind) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, fmt.Errorf("connection refused for %s", topic)
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type recorder struct {
	mu     sync.Mutex
	events []model.ID
	states []State
}

func (r *recorder) HandleEvent(evt model.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt.EntityID())
	r.mu.Unlock()
}

func (r *recorder) HandleState(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]model.ID, []State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events), slices.Clone(r.states)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func message(id model.ID) model.Event {
	return model.MessageEvent(model.Message{ID: id, ConversationID: 1})
}

func TestAcquireDeliversEventsInOrder(t *testing.T) {
	d := &fakeDialer{}
	conn := newFakeConn()
	d.push(conn)
	m := NewManager(d, fastConfig(3), nil, nil)
	defer m.Close()

	rec := &recorder{}
	release := m.Acquire(testKey, rec)
	defer release()
	waitFor(t, "open", func() bool { return m.State(testKey) == Open })

	conn.events <- message(1)
	conn.events <- model.ConversationEvent(model.Conversation{ID: 9, Users: []model.User{{Email: "a"}}})
	conn.events <- message(2)
	conn.events <- message(2)

	waitFor(t, "events", func() bool {
		ids, _ := rec.snapshot()
		return len(ids) == 3
	})
	ids, states := rec.snapshot()
	if want := []model.ID{1, 2, 2}; !slices.Equal(ids, want) {
		t.Errorf("events = %v, want %v", ids, want)
	}
	if want := []State{Connecting, Open}; !slices.Equal(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	d := &fakeDialer{}
	conn := newFakeConn()
	d.push(conn)
	m := NewManager(d, fastConfig(3), nil, nil)
	defer m.Close()

	rec := &recorder{}
	defer m.Acquire(testKey, rec)()
	waitFor(t, "open", func() bool { return m.State(testKey) == Open })

	conn.errs <- fmt.Errorf("%w: bad json", ErrMalformedFrame)
	conn.events <- message(5)
	waitFor(t, "event after malformed frame", func() bool {
		ids, _ := rec.snapshot()
		return len(ids) == 1
	})
	if d.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", d.dialCount())
	}
}

func TestChannelIsShared(t *testing.T) {
	d := &fakeDialer{}
	conn := newFakeConn()
	d.push(conn)
	m := NewManager(d, fastConfig(3), nil, nil)
	defer m.Close()

	first := &recorder{}
	r1 := m.Acquire(testKey, first)
	r2 := m.Acquire(testKey, &recorder{})
	waitFor(t, "open", func() bool { return m.State(testKey) == Open })

	chs := m.Channels()
	if len(chs) != 1 || chs[0].Refs != 2 {
		t.Fatalf("channels = %+v", chs)
	}

	r1()
	r1()
	if m.State(testKey) != Open || conn.closed() {
		t.Fatal("channel closed while a consumer remains")
	}
	r2()
	if m.State(testKey) != Closed {
		t.Errorf("state after last release = %s", m.State(testKey))
	}
	waitFor(t, "conn closed", conn.closed)
	if d.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", d.dialCount())
	}
	if _, states := first.snapshot(); states[len(states)-1] != Closed {
		t.Errorf("states = %v, want trailing CLOSED", states)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	d := &fakeDialer{}
	first, second := newFakeConn(), newFakeConn()
	d.push(first)
	m := NewManager(d, fastConfig(5), nil, nil)
	defer m.Close()

	rec := &recorder{}
	defer m.Acquire(testKey, rec)()
	waitFor(t, "open", func() bool { return m.State(testKey) == Open })

	d.push(second)
	first.errs <- errors.New("connection reset")
	waitFor(t, "second dial", func() bool { return d.dialCount() == 2 })
	waitFor(t, "reopen", func() bool { return m.State(testKey) == Open })

	second.events <- message(3)
	waitFor(t, "event on new connection", func() bool {
		ids, _ := rec.snapshot()
		return len(ids) == 1
	})
	_, states := rec.snapshot()
	if want := []State{Connecting, Open, Reconnecting, Open}; !slices.Equal(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestRetriesExhausted(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, fastConfig(2), nil, nil)
	defer m.Close()

	rec := &recorder{}
	release := m.Acquire(testKey, rec)
	defer release()

	waitFor(t, "give up", func() bool {
		_, states := rec.snapshot()
		return len(states) > 0 && states[len(states)-1] == Closed
	})
	if got := d.dialCount(); got != 3 {
		t.Errorf("dials = %d, want 3", got)
	}
	_, states := rec.snapshot()
	if want := []State{Connecting, Reconnecting, Closed}; !slices.Equal(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestReacquireRestartsClosedChannel(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, fastConfig(1), nil, nil)
	defer m.Close()

	rec := &recorder{}
	r1 := m.Acquire(testKey, rec)
	defer r1()
	waitFor(t, "give up", func() bool {
		_, states := rec.snapshot()
		return len(states) > 0 && states[len(states)-1] == Closed
	})
	// Let the run loop finish before a new consumer arrives.
	waitFor(t, "run loop exit", func() bool {
		chs := m.Channels()
		return len(chs) == 1 && chs[0].State == Closed
	})
	time.Sleep(20 * time.Millisecond)

	d.push(newFakeConn())
	r2 := m.Acquire(testKey, &recorder{})
	defer r2()
	waitFor(t, "reopen", func() bool { return m.State(testKey) == Open })
}

func TestReleaseDropsLaterEvents(t *testing.T) {
	d := &fakeDialer{}
	conn := newFakeConn()
	d.push(conn)
	m := NewManager(d, fastConfig(3), nil, nil)
	defer m.Close()

	rec := &recorder{}
	release := m.Acquire(testKey, rec)
	waitFor(t, "open", func() bool { return m.State(testKey) == Open })

	release()
	conn.events <- message(1)
	time.Sleep(50 * time.Millisecond)

	if ids, _ := rec.snapshot(); len(ids) != 0 {
		t.Errorf("events after release = %v", ids)
	}
	if d.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", d.dialCount())
	}
}
