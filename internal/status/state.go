package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is the lifecycle state of one room session.
type State string

const (
	Opening   State = "OPENING"
	Hydrating State = "HYDRATING"
	Live      State = "LIVE"
	Degraded  State = "DEGRADED"
	Failed    State = "FAILED"
	Closed    State = "CLOSED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Opening:   {Hydrating, Closed},
	Hydrating: {Live, Degraded, Failed, Closed},
	Live:      {Closed},
	Degraded:  {Closed},
	Failed:    {Closed},
	Closed:    {},
}

// Machine tracks and enforces room session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	roomID  int64
	bus     *bus.Bus
}

// NewMachine creates a state machine for roomID starting in Opening.
// b may be nil.
func NewMachine(roomID int64, b *bus.Bus) *Machine {
	return &Machine{
		current: Opening,
		roomID:  roomID,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Terminal reports whether the session can no longer change state.
func (m *Machine) Terminal() bool {
	return m.Current() == Closed
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Emit(bus.RoomStateChanged, m.roomID, StatusChange{From: from, To: to})
	}
	return nil
}

// StatusChange is the payload for state change events.
type StatusChange struct {
	From State
	To   State
}
