package telegram

import (
	"fmt"
	"sync"
	"time"
)

// State is the bot activity state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateActive        State = "active"
	StateInactive      State = "inactive"
)

// Allowed transitions. Initialization is one-way; afterwards the bot only
// toggles between active and inactive.
var validTransitions = map[State]map[State]bool{
	StateUninitialized: {StateInitialized: true},
	StateInitialized:   {StateActive: true},
	StateActive:        {StateInactive: true},
	StateInactive:      {StateActive: true},
}

type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("bot state transition %s -> %s is not allowed", e.From, e.To)
}

type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const maxHistory = 20

type stateMachine struct {
	mu          sync.RWMutex
	current     State
	lastError   string
	lastErrorAt time.Time
	history     []TransitionRecord
	now         func() time.Time
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateUninitialized, now: time.Now}
}

func (sm *stateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

func (sm *stateMachine) Initialized() bool {
	return sm.Current() != StateUninitialized
}

func (sm *stateMachine) Active() bool {
	return sm.Current() == StateActive
}

func (sm *stateMachine) TransitionTo(target State, reason string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !validTransitions[sm.current][target] {
		return &TransitionError{From: sm.current, To: target}
	}
	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        target,
		Reason:    reason,
		Timestamp: sm.now().UTC(),
	})
	if len(sm.history) > maxHistory {
		sm.history = sm.history[len(sm.history)-maxHistory:]
	}
	sm.current = target
	return nil
}

// Fail records err as the last failure, flipping an active bot to inactive.
func (sm *stateMachine) Fail(err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.lastError = err.Error()
	sm.lastErrorAt = sm.now().UTC()
	if sm.current == StateActive {
		sm.history = append(sm.history, TransitionRecord{
			From:      StateActive,
			To:        StateInactive,
			Reason:    sm.lastError,
			Timestamp: sm.lastErrorAt,
		})
		sm.current = StateInactive
	}
}

func (sm *stateMachine) LastError() (string, time.Time) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.lastError, sm.lastErrorAt
}

func (sm *stateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]TransitionRecord, len(sm.history))
	copy(out, sm.history)
	return out
}
