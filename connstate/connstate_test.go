package connstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "error", Errored.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestMachine_StartsDisconnected(t *testing.T) {
	m := New(nil)
	assert.Equal(t, Disconnected, m.Current())
	assert.True(t, m.Is(Disconnected))
}

func TestMachine_LegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		ok   bool
	}{
		{"disconnected to connecting", Disconnected, Connecting, true},
		{"disconnected to connected skips connecting", Disconnected, Connected, false},
		{"disconnected to reconnecting", Disconnected, Reconnecting, false},
		{"connecting to connected", Connecting, Connected, true},
		{"connecting to error", Connecting, Errored, true},
		{"connecting to disconnected", Connecting, Disconnected, true},
		{"connecting to reconnecting", Connecting, Reconnecting, false},
		{"connected to reconnecting", Connected, Reconnecting, true},
		{"connected to disconnected", Connected, Disconnected, true},
		{"connected to connecting", Connected, Connecting, false},
		{"connected to error", Connected, Errored, false},
		{"reconnecting to connected", Reconnecting, Connected, true},
		{"reconnecting to error", Reconnecting, Errored, true},
		{"reconnecting to disconnected", Reconnecting, Disconnected, true},
		{"error to connecting", Errored, Connecting, true},
		{"error to disconnected", Errored, Disconnected, true},
		{"error to connected", Errored, Connected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(nil)
			m.current = tt.from
			assert.Equal(t, tt.ok, m.CanTransition(tt.to))
			assert.Equal(t, tt.ok, m.To(tt.to))
			if tt.ok {
				assert.Equal(t, tt.to, m.Current())
			} else {
				assert.Equal(t, tt.from, m.Current())
			}
		})
	}
}

func TestMachine_SelfTransitionIsNoOp(t *testing.T) {
	m := New(nil)
	var notified int
	m.OnChange(func(Change) { notified++ })

	assert.False(t, m.To(Disconnected))
	assert.Equal(t, 0, notified)
}

func TestMachine_NotifiesOncePerTransition(t *testing.T) {
	m := New(nil)
	var changes []Change
	m.OnChange(func(c Change) { changes = append(changes, c) })

	require.True(t, m.To(Connecting))
	require.True(t, m.To(Connected))
	require.True(t, m.To(Reconnecting))
	require.True(t, m.To(Connected))

	require.Len(t, changes, 4)
	assert.Equal(t, Disconnected, changes[0].From)
	assert.Equal(t, Connecting, changes[0].To)
	assert.Equal(t, Connected, changes[1].To)
	assert.Equal(t, Reconnecting, changes[2].To)
	assert.Equal(t, Connected, changes[3].To)
	assert.False(t, changes[0].At.IsZero())
}

func TestMachine_IllegalTransitionDoesNotNotify(t *testing.T) {
	m := New(nil)
	var notified int
	m.OnChange(func(Change) { notified++ })

	assert.False(t, m.To(Reconnecting))
	assert.Equal(t, 0, notified)
	assert.Equal(t, Disconnected, m.Current())
}

func TestMachine_DisposerRemovesObserver(t *testing.T) {
	m := New(nil)
	var notified int
	dispose := m.OnChange(func(Change) { notified++ })

	require.True(t, m.To(Connecting))
	dispose()
	dispose() // safe to call twice
	require.True(t, m.To(Connected))

	assert.Equal(t, 1, notified)
}

func TestMachine_DisconnectedReachableFromEverywhere(t *testing.T) {
	for _, from := range []State{Connecting, Connected, Reconnecting, Errored} {
		m := New(nil)
		m.current = from
		assert.True(t, m.To(Disconnected), "from %s", from)
	}
}
