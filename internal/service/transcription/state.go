package transcription

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a recognition session.
type State int

const (
	// StateIdle - Session created, recognition not started.
	StateIdle State = iota
	// StateStreaming - Recognition running, audio being pushed.
	StateStreaming
	// StateStopping - End of audio signaled, waiting for a terminal signal.
	StateStopping
	// StateResolved - Session ended with an outcome.
	StateResolved
	// StateCanceled - Session ended with a RecognitionError.
	StateCanceled
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStreaming:
		return "STREAMING"
	case StateStopping:
		return "STOPPING"
	case StateResolved:
		return "RESOLVED"
	case StateCanceled:
		return "CANCELED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (RESOLVED or CANCELED).
func (s State) IsTerminal() bool {
	return s == StateResolved || s == StateCanceled
}

// Errors for invalid state transitions.
var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStreaming   = errors.New("session is not streaming")
	ErrSessionEnded   = errors.New("session has ended")
)

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access; mutated only by the session owner.
//
// State transitions:
//
//	IDLE → STREAMING → STOPPING → RESOLVED
//	          │           │
//	          └───────────┴──→ CANCELED
//
// Rules:
//   - IDLE: Begin() starts streaming
//   - STREAMING: BeginStopping() on end of audio; Resolve()/Cancel() on an early terminal signal
//   - STOPPING: Resolve() or Cancel()
//   - RESOLVED, CANCELED: terminal, further transitions fail
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a new lifecycle in IDLE state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Begin transitions IDLE → STREAMING.
func (l *Lifecycle) Begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateIdle:
		l.state = StateStreaming
		return nil
	case StateResolved, StateCanceled:
		return ErrSessionEnded
	default:
		return ErrAlreadyStarted
	}
}

// BeginStopping transitions STREAMING → STOPPING.
func (l *Lifecycle) BeginStopping() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateStreaming:
		l.state = StateStopping
		return nil
	case StateResolved, StateCanceled:
		return ErrSessionEnded
	default:
		return ErrNotStreaming
	}
}

// Resolve transitions to RESOLVED from STREAMING or STOPPING.
func (l *Lifecycle) Resolve() error {
	return l.finish(StateResolved)
}

// Cancel transitions to CANCELED from any non-terminal state.
// Returns false if the session had already ended.
func (l *Lifecycle) Cancel() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateCanceled
	return true
}

func (l *Lifecycle) finish(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateStreaming, StateStopping:
		l.state = to
		return nil
	case StateResolved, StateCanceled:
		return ErrSessionEnded
	default:
		return fmt.Errorf("cannot finish from state %v", l.state)
	}
}
