package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/model"
	"go.uber.org/zap"
)

// ErrMalformedFrame marks a frame that could not be parsed into an event.
// The connection survives it; the frame is dropped.
var ErrMalformedFrame = errors.New("push: malformed frame")

// Key identifies a subscription: a topic plus the identity filter the
// handler applies to it.
type Key struct {
	Topic  model.Kind
	Filter string
}

func (k Key) String() string {
	return string(k.Topic) + ":" + k.Filter
}

// Handler receives the events and state changes of one channel. Events are
// delivered one at a time in arrival order and may be duplicated, so
// HandleEvent must be idempotent.
type Handler interface {
	HandleEvent(evt model.Event)
	HandleState(state State)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Event func(model.Event)
	State func(State)
}

func (h HandlerFuncs) HandleEvent(evt model.Event) {
	if h.Event != nil {
		h.Event(evt)
	}
}

func (h HandlerFuncs) HandleState(state State) {
	if h.State != nil {
		h.State(state)
	}
}

// Conn is one live transport connection.
type Conn interface {
	// ReadEvent blocks for the next event. Errors wrapping ErrMalformedFrame
	// are recoverable; any other error ends the connection.
	ReadEvent() (model.Event, error)
	Close() error
}

// Dialer opens transport connections for a topic.
type Dialer interface {
	Dial(ctx context.Context, topic model.Kind) (Conn, error)
}

// ChannelInfo is a snapshot of one channel.
type ChannelInfo struct {
	Key      Key
	State    State
	Refs     int
	Attempts int
}

// Manager owns one live channel per subscription key. A channel opens when
// its first consumer acquires it and closes when the last one releases it.
type Manager struct {
	mu       sync.Mutex
	channels map[Key]*channel
	dialer   Dialer
	cfg      Config
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewManager creates a manager.
func NewManager(dialer Dialer, cfg Config, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		channels: make(map[Key]*channel),
		dialer:   dialer,
		cfg:      cfg,
		bus:      b,
		logger:   logger,
	}
}

// Acquire adds a consumer of key. The first consumer registers handler and
// opens the channel; later handlers are ignored. The returned release
// function must be called once the consumer is gone.
func (m *Manager) Acquire(key Key, handler Handler) (release func()) {
	m.mu.Lock()
	c, ok := m.channels[key]
	if !ok {
		c = &channel{
			key:     key,
			handler: handler,
			machine: NewMachine(key, m.bus),
			logger:  m.logger.With(zap.Stringer("channel", key)),
		}
		m.channels[key] = c
	}
	c.refs++
	refs := c.refs
	m.mu.Unlock()

	if refs == 1 || c.machine.Current() == Closed {
		m.start(c)
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(key, c) })
	}
}

// State returns the state of the channel for key, Closed when absent.
func (m *Manager) State(key Key) State {
	m.mu.Lock()
	c, ok := m.channels[key]
	m.mu.Unlock()
	if !ok {
		return Closed
	}
	return c.machine.Current()
}

// Channels returns a snapshot of every channel.
func (m *Manager) Channels() []ChannelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChannelInfo, 0, len(m.channels))
	for _, c := range m.channels {
		c.mu.Lock()
		attempts := c.attempts
		c.mu.Unlock()
		out = append(out, ChannelInfo{Key: c.key, State: c.machine.Current(), Refs: c.refs, Attempts: attempts})
	}
	return out
}

// Close closes every channel regardless of consumers.
func (m *Manager) Close() {
	m.mu.Lock()
	channels := make([]*channel, 0, len(m.channels))
	for key, c := range m.channels {
		channels = append(channels, c)
		delete(m.channels, key)
	}
	m.mu.Unlock()

	for _, c := range channels {
		c.close()
	}
}

func (m *Manager) release(key Key, c *channel) {
	m.mu.Lock()
	c.refs--
	last := c.refs == 0
	if last && m.channels[key] == c {
		delete(m.channels, key)
	}
	m.mu.Unlock()

	if last {
		c.close()
	}
}

func (m *Manager) start(c *channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.attempts = 0
	c.transitionLocked(Connecting)
	go m.run(ctx, c)
}

func (m *Manager) run(ctx context.Context, c *channel) {
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		close(c.done)
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		conn, err := m.connect(ctx, c)
		if err == nil {
			attempt = 0
			c.setAttempts(0)
			if !c.transition(Open) {
				_ = conn.Close()
				return
			}
			c.logger.Info("push channel open")
			err = m.serve(ctx, c, conn)
		}
		if ctx.Err() != nil {
			return
		}

		attempt++
		c.setAttempts(attempt)
		if m.cfg.Exhausted(attempt) {
			c.logger.Warn("push channel giving up", zap.Error(err), zap.Int("attempts", attempt-1))
			c.transition(Closed)
			return
		}
		delay := m.cfg.Delay(attempt)
		c.logger.Warn("push channel disconnected", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("retry_in", delay))
		if !c.transition(Reconnecting) {
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) connect(ctx context.Context, c *channel) (Conn, error) {
	dialCtx := ctx
	if m.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
		defer cancel()
	}
	conn, err := m.dialer.Dial(dialCtx, c.key.Topic)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.key.Topic, err)
	}
	return conn, nil
}

func (m *Manager) serve(ctx context.Context, c *channel, conn Conn) error {
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		evt, err := conn.ReadEvent()
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				c.logger.Warn("dropping malformed push frame", zap.Error(err))
				continue
			}
			return err
		}
		if evt.Kind != c.key.Topic {
			c.logger.Debug("dropping event for another topic", zap.String("kind", string(evt.Kind)))
			continue
		}
		c.dispatch(evt)
	}
}

type channel struct {
	key     Key
	handler Handler
	machine *Machine
	logger  *zap.Logger

	// refs is guarded by Manager.mu.
	refs int

	mu       sync.Mutex
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
	attempts int
}

// dispatch hands evt to the handler unless the channel was closed. The
// channel lock is held for the call, so close waits for a handler that
// already started and no handler starts after close.
func (c *channel) dispatch(evt model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Debug("dropping event after close", zap.Int64("id", int64(evt.EntityID())))
		return
	}
	c.handler.HandleEvent(evt)
}

func (c *channel) transition(to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.transitionLocked(to)
	return true
}

func (c *channel) transitionLocked(to State) {
	if c.machine.Current() == to {
		return
	}
	if err := c.machine.Transition(to); err != nil {
		c.logger.Error("push state", zap.Error(err))
		return
	}
	c.handler.HandleState(to)
}

func (c *channel) setAttempts(n int) {
	c.mu.Lock()
	c.attempts = n
	c.mu.Unlock()
}

// close is terminal for this channel instance.
func (c *channel) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.transitionLocked(Closed)
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.logger.Info("push channel closed")
}
