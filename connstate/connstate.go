// Package connstate implements the connection state machine. State changes
// move through a fixed legality table and are published to observers exactly
// once per transition, in the order they occur.
package connstate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vzorr/chat-test-client-sub001/event"
)

// State is the connection lifecycle state
type State int

const (
	// Disconnected means no transport connection exists
	Disconnected State = iota
	// Connecting means an initial connection attempt is in flight
	Connecting
	// Connected means the transport is established and usable
	Connected
	// Reconnecting means an established connection was lost and recovery
	// attempts are in progress
	Reconnecting
	// Errored means connection or reconnection failed terminally
	Errored
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// Change describes a single committed transition
type Change struct {
	From State
	To   State
	At   time.Time
}

// validTransitions lists the legal next states for each state.
// Disconnected is reachable from every state so teardown always succeeds.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Errored, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connected, Errored, Disconnected},
	Errored:      {Connecting, Disconnected},
}

// Machine is a thread-safe connection state machine. The zero state is
// Disconnected; use New to get a machine with observer support.
type Machine struct {
	mu      sync.Mutex
	current State
	logger  *slog.Logger
	changes *event.Hub[Change]
}

// New creates a Machine starting in Disconnected
func New(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		current: Disconnected,
		logger:  logger.With("component", "connstate"),
		changes: event.NewHub[Change](logger),
	}
}

// Current returns the current state
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Is reports whether the machine is in the given state
func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

// CanTransition reports whether moving from the current state to next is legal
func (m *Machine) CanTransition(next State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return legal(m.current, next)
}

// To attempts a transition to next. It returns true if the transition was
// committed and observers were notified, false if the transition is illegal
// or a no-op. Self-transitions never notify.
func (m *Machine) To(next State) bool {
	m.mu.Lock()
	if m.current == next || !legal(m.current, next) {
		cur := m.current
		m.mu.Unlock()
		if cur != next {
			m.logger.Debug("illegal state transition rejected",
				"from", cur.String(),
				"to", next.String())
		}
		return false
	}
	change := Change{From: m.current, To: next, At: time.Now()}
	m.current = next
	m.mu.Unlock()

	m.logger.Info("connection state changed",
		"from", change.From.String(),
		"to", change.To.String())
	m.changes.Publish(change)
	return true
}

// OnChange registers an observer for committed transitions. The returned
// disposer removes the observer and is safe to call more than once.
func (m *Machine) OnChange(fn func(Change)) func() {
	return m.changes.Subscribe(fn)
}

func legal(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
