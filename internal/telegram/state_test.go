package telegram

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateUninitialized, StateInitialized, true},
		{StateUninitialized, StateActive, false},
		{StateInitialized, StateActive, true},
		{StateInitialized, StateInactive, false},
		{StateActive, StateInactive, true},
		{StateActive, StateInitialized, false},
		{StateInactive, StateActive, true},
		{StateInactive, StateUninitialized, false},
	}
	for _, tt := range tests {
		sm := newStateMachine()
		sm.current = tt.from
		err := sm.TransitionTo(tt.to, "test")
		if tt.ok {
			require.NoError(t, err, "%s -> %s", tt.from, tt.to)
			assert.Equal(t, tt.to, sm.Current())
			continue
		}
		var te *TransitionError
		require.ErrorAs(t, err, &te, "%s -> %s", tt.from, tt.to)
		assert.Equal(t, tt.from, te.From)
		assert.Equal(t, tt.from, sm.Current())
	}
}

func TestStateMachineFail(t *testing.T) {
	t.Parallel()
	sm := newStateMachine()

	sm.Fail(errors.New("no token"))
	assert.Equal(t, StateUninitialized, sm.Current())
	reason, at := sm.LastError()
	assert.Equal(t, "no token", reason)
	assert.False(t, at.IsZero())

	require.NoError(t, sm.TransitionTo(StateInitialized, ""))
	require.NoError(t, sm.TransitionTo(StateActive, ""))
	sm.Fail(errors.New("network down"))
	assert.Equal(t, StateInactive, sm.Current())
	history := sm.History()
	assert.Equal(t, "network down", history[len(history)-1].Reason)
}

func TestStateMachineHistoryBounded(t *testing.T) {
	t.Parallel()
	sm := newStateMachine()
	require.NoError(t, sm.TransitionTo(StateInitialized, ""))
	for i := 0; i < maxHistory; i++ {
		require.NoError(t, sm.TransitionTo(StateActive, ""))
		require.NoError(t, sm.TransitionTo(StateInactive, ""))
	}
	assert.Len(t, sm.History(), maxHistory)
}
