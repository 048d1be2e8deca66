package sync

import (
	"cmp"
	"context"
	"errors"
	"slices"
	gosync "sync"
	"testing"
	"time"

	"github.com/matheus3301/inbox/internal/cache"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/optimistic"
	"github.com/matheus3301/inbox/internal/push"
	"github.com/matheus3301/inbox/internal/remote"
)

var (
	alice = model.User{ID: 1, Name: "Alice", Email: "alice@x"}
	bob   = model.User{ID: 2, Name: "Bob", Email: "bob@x"}
	carol = model.User{ID: 3, Name: "Carol", Email: "carol@x"}
)

// fakeRemote is an in-memory data service.
type fakeRemote struct {
	mu       gosync.Mutex
	users    []model.User
	convs    []model.Conversation
	msgs     []model.Message
	nextID   model.ID
	fail     error
	listCall int

	// createGate, when set, holds CreateConversation until it is closed;
	// createStarted is signalled when a create reaches the gate.
	createGate    chan struct{}
	createStarted chan struct{}
	// listGate does the same for ListConversations, which also gives up
	// when its context ends while held.
	listGate    chan struct{}
	listStarted chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{users: []model.User{alice, bob, carol}, nextID: 100}
}

func (f *fakeRemote) seedConversation(a, b model.User, text string, ts int64) model.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c := model.Conversation{
		ID:           f.nextID,
		Participants: model.Participants(a.Email, b.Email),
		Users:        []model.User{a, b},
		Message:      text,
		Timestamp:    ts,
	}
	f.convs = append(f.convs, c)
	return c
}

func (f *fakeRemote) seedMessage(convID model.ID, from, to model.User, text string, ts int64) model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m := model.Message{ID: f.nextID, ConversationID: convID, Sender: from, Receiver: to, Message: model.Body(text), Timestamp: ts}
	f.msgs = append(f.msgs, m)
	return m
}

func (f *fakeRemote) failWith(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *fakeRemote) lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCall
}

func page[T model.Entity](items []T, p remote.PageRequest) remote.Page[T] {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b T) int { return cmp.Compare(b.EntityTimestamp(), a.EntityTimestamp()) })
	total := len(sorted)
	start := (max(p.Page, 1) - 1) * p.Limit
	if p.Limit == 0 {
		return remote.Page[T]{Items: sorted, Total: total}
	}
	if start > len(sorted) {
		start = len(sorted)
	}
	end := min(start+p.Limit, len(sorted))
	return remote.Page[T]{Items: sorted[start:end], Total: total}
}

func (f *fakeRemote) ListConversations(ctx context.Context, email string, p remote.PageRequest) (remote.Page[model.Conversation], error) {
	f.mu.Lock()
	gate, started := f.listGate, f.listStarted
	f.mu.Unlock()
	if gate != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return remote.Page[model.Conversation]{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCall++
	if f.fail != nil {
		return remote.Page[model.Conversation]{}, f.fail
	}
	var mine []model.Conversation
	for _, c := range f.convs {
		if c.HasParticipant(email) {
			mine = append(mine, c)
		}
	}
	return page(mine, p), nil
}

func (f *fakeRemote) FindConversation(_ context.Context, a, b string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.convs {
		if c.Involves(a, b) {
			return &c, nil
		}
	}
	return nil, nil
}

// holdCreates makes the next CreateConversation wait for release.
func (f *fakeRemote) holdCreates() (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createGate = make(chan struct{})
	f.createStarted = make(chan struct{}, 1)
	gate := f.createGate
	return f.createStarted, func() { close(gate) }
}

func (f *fakeRemote) holdLists() (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listGate = make(chan struct{})
	f.listStarted = make(chan struct{}, 1)
	gate := f.listGate
	return f.listStarted, func() { close(gate) }
}

func (f *fakeRemote) CreateConversation(_ context.Context, d model.Draft) (model.Conversation, error) {
	f.mu.Lock()
	gate, started := f.createGate, f.createStarted
	f.mu.Unlock()
	if gate != nil {
		started <- struct{}{}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return model.Conversation{}, f.fail
	}
	f.nextID++
	c := model.Conversation{ID: f.nextID, Participants: d.Participants, Users: d.Users, Message: d.Message, Timestamp: d.Timestamp}
	f.convs = append(f.convs, c)
	return c, nil
}

func (f *fakeRemote) EditConversation(_ context.Context, id model.ID, d model.Draft) (model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return model.Conversation{}, f.fail
	}
	for i, c := range f.convs {
		if c.ID == id {
			f.convs[i] = c.WithFields(model.Fields{Message: d.Message, Timestamp: d.Timestamp})
			return f.convs[i], nil
		}
	}
	return model.Conversation{}, &remote.Error{StatusCode: 404, Method: "PATCH", Path: "/conversations", Message: "not found"}
}

func (f *fakeRemote) ListMessages(_ context.Context, id model.ID, p remote.PageRequest) (remote.Page[model.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCall++
	if f.fail != nil {
		return remote.Page[model.Message]{}, f.fail
	}
	var of []model.Message
	for _, m := range f.msgs {
		if m.ConversationID == id {
			of = append(of, m)
		}
	}
	return page(of, p), nil
}

func (f *fakeRemote) CreateMessage(_ context.Context, m model.Message) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m.ID = f.nextID
	f.msgs = append(f.msgs, m)
	return m, nil
}

func (f *fakeRemote) FindUser(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

// fakeConn delivers events pushed by the test.
type fakeConn struct {
	events chan model.Event
	errs   chan error
	done   chan struct{}
	once   gosync.Once
}

func (c *fakeConn) ReadEvent() (model.Event, error) {
	select {
	case evt := <-c.events:
		return evt, nil
	case err := <-c.errs:
		return model.Event{}, err
	case <-c.done:
		return model.Event{}, errors.New("closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// fakeDialer opens a fresh fakeConn per dial and remembers the latest per topic.
type fakeDialer struct {
	mu     gosync.Mutex
	latest map[model.Kind]*fakeConn
	down   bool
}

func (d *fakeDialer) Dial(_ context.Context, topic model.Kind) (push.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return nil, errors.New("connection refused")
	}
	c := &fakeConn{events: make(chan model.Event, 16), errs: make(chan error, 1), done: make(chan struct{})}
	if d.latest == nil {
		d.latest = make(map[model.Kind]*fakeConn)
	}
	d.latest[topic] = c
	return c, nil
}

func (d *fakeDialer) conn(topic model.Kind) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latest[topic]
}

func (d *fakeDialer) setDown(down bool) {
	d.mu.Lock()
	d.down = down
	d.mu.Unlock()
}

type harness struct {
	sync   *Synchronizer
	store  *cache.Store
	remote *fakeRemote
	dialer *fakeDialer
	push   *push.Manager
}

const testNow = 1_700_000_000_000

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := cache.New(cache.Options{GracePeriod: -1})
	t.Cleanup(store.Close)
	d := &fakeDialer{}
	pm := push.NewManager(d, push.Config{MaxAttempts: 0, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil, nil)
	t.Cleanup(pm.Close)
	r := newFakeRemote()
	s := New(store, r, pm, optimistic.NewCoordinator(store, nil, nil), Options{
		ConversationsPerPage: 2,
		MessagesPerPage:      2,
		Now:                  func() time.Time { return time.UnixMilli(testNow) },
	}, nil)
	return &harness{sync: s, store: store, remote: r, dialer: d, push: pm}
}

func (h *harness) waitOpen(t *testing.T, key push.Key) *fakeConn {
	t.Helper()
	waitFor(t, "channel "+key.String()+" open", func() bool { return h.push.State(key) == push.Open })
	return h.dialer.conn(key.Topic)
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

func convIDs(items []model.Conversation) []model.ID {
	out := make([]model.ID, len(items))
	for i, c := range items {
		out[i] = c.ID
	}
	return out
}

func msgIDs(items []model.Message) []model.ID {
	out := make([]model.ID, len(items))
	for i, m := range items {
		out[i] = m.ID
	}
	return out
}
