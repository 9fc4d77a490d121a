// Package session provides consultation session lifecycle management
// and the registry that maps consultation ids to live sessions.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a consultation session.
type State int

const (
	// StateOpen - connection accepted, no audio yet.
	StateOpen State = iota
	// StateStreaming - audio frames are being accepted and forwarded.
	StateStreaming
	// StateFinalizing - no more audio accepted; draining in-flight
	// recognition before producing the final transcript.
	StateFinalizing
	// StateClosed - session ended cleanly. Terminal.
	StateClosed
	// StateFailed - session ended on unrecoverable error. Terminal.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateStreaming:
		return "STREAMING"
	case StateFinalizing:
		return "FINALIZING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or FAILED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// Errors for invalid state transitions.
var (
	ErrSessionTerminal = errors.New("session is in a terminal state")
	ErrNotStreaming    = errors.New("session is not streaming")
	ErrNotFinalizing   = errors.New("session is not finalizing")
)

// Lifecycle manages the state machine for a single consultation session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	OPEN → STREAMING → FINALIZING → CLOSED
//	  │        │           │
//	  │        │           └── Fail() ──→ FAILED
//	  │        └── Fail() ──→ FAILED
//	  └── BeginFinalize() ──→ FINALIZING (disconnect before first frame)
//
// Frames are only accepted in STREAMING; finalization is entered at
// most once; CLOSED and FAILED are terminal.
type Lifecycle struct {
	mu    sync.RWMutex
	id    string
	state State
}

// NewLifecycle creates a new session lifecycle in OPEN state.
func NewLifecycle(id string) *Lifecycle {
	return &Lifecycle{id: id, state: StateOpen}
}

// ID returns the consultation id.
func (l *Lifecycle) ID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.id
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// BeginStreaming transitions OPEN → STREAMING. Called on the first
// accepted audio frame. Idempotent while streaming.
func (l *Lifecycle) BeginStreaming() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.state = StateStreaming
		return nil
	case StateStreaming:
		return nil
	case StateFinalizing:
		return ErrNotStreaming
	default:
		return ErrSessionTerminal
	}
}

// AcceptFrame validates that an audio frame may be forwarded.
// Frames are only accepted while STREAMING.
func (l *Lifecycle) AcceptFrame() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch l.state {
	case StateStreaming:
		return nil
	case StateClosed, StateFailed:
		return ErrSessionTerminal
	default:
		return ErrNotStreaming
	}
}

// BeginFinalize transitions OPEN or STREAMING → FINALIZING.
// Idempotent while finalizing; fails in terminal states.
func (l *Lifecycle) BeginFinalize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen, StateStreaming:
		l.state = StateFinalizing
		return nil
	case StateFinalizing:
		return nil
	default:
		return ErrSessionTerminal
	}
}

// Close transitions FINALIZING → CLOSED.
func (l *Lifecycle) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateFinalizing:
		l.state = StateClosed
		return nil
	case StateClosed:
		return nil
	case StateFailed:
		return ErrSessionTerminal
	default:
		return ErrNotFinalizing
	}
}

// Fail transitions any non-terminal state to FAILED.
// Returns true if the session was failed by this call.
func (l *Lifecycle) Fail() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateFailed
	return true
}
