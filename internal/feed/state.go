package feed

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkarimoff/evoinbox/internal/bus"
)

// State represents a change-feed subscription state.
type State string

const (
	Idle        State = "IDLE"
	Subscribing State = "SUBSCRIBING"
	Active      State = "ACTIVE"
	Closed      State = "CLOSED"
	Errored     State = "ERRORED"
)

// validTransitions defines allowed subscription state transitions.
var validTransitions = map[State][]State{
	Idle:        {Subscribing, Closed},
	Subscribing: {Active, Errored, Closed},
	Active:      {Errored, Closed},
	Errored:     {Subscribing, Closed},
	Closed:      {Subscribing},
}

// Machine tracks and enforces subscription state transitions. At most one
// subscription is active, bound to the preferred instance; rebinding goes
// through Closed and back to Subscribing.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Idle, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "feed.state_changed",
			Timestamp: time.Now(),
			Payload:   StateChange{From: from, To: to},
		})
	}
	return nil
}

// StateChange is the payload for feed.state_changed events.
type StateChange struct {
	From State
	To   State
}
