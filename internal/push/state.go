package push

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/inbox/internal/bus"
)

// State is the connection state of one push channel.
type State string

const (
	Closed       State = "CLOSED"
	Connecting   State = "CONNECTING"
	Open         State = "OPEN"
	Reconnecting State = "RECONNECTING"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Closed:       {Connecting},
	Connecting:   {Open, Reconnecting, Closed},
	Open:         {Reconnecting, Closed},
	Reconnecting: {Open, Closed},
}

// Machine tracks and enforces the state of one channel.
type Machine struct {
	mu      sync.RWMutex
	key     Key
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine in the Closed state.
func NewMachine(key Key, b *bus.Bus) *Machine {
	return &Machine{key: key, current: Closed, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("push %s: invalid transition from %s to %s", m.key, m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindPushStateChanged,
			Timestamp: time.Now(),
			Payload:   StateChange{Key: m.key, From: from, To: to},
		})
	}
	return nil
}

// StateChange is the payload for state change events.
type StateChange struct {
	Key  Key
	From State
	To   State
}
