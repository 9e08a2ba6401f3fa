// Package session implements the conversation with one remote endpoint: the
// open handshake, the lifecycle state machine, and the per-session resource
// id mapping. Data-layer traffic is handed to the owning runtime through the
// Events interface.
//
// The lifecycle is:
//
//	Idle -> Opening -> Established -> Closing -> Closed
//	                      \-> KeepAliveLost -> Closing
package session

import "sync/atomic"

// State is a session lifecycle state.
type State int32

const (
	// Idle is the zero state before the handshake starts.
	Idle State = iota
	// Opening covers the Open/Accept exchange.
	Opening
	// Established is the operational state: declarations and data flow, the
	// lease countdown resets on any inbound frame.
	Established
	// KeepAliveLost means no inbound frame arrived within the failure
	// threshold; the session is about to close.
	KeepAliveLost
	// Closing is the teardown in progress.
	Closing
	// Closed is terminal: local resource ids are invalidated and pending
	// queries fail.
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Established:
		return "established"
	case KeepAliveLost:
		return "keepalive-lost"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateMachine is an atomic state cell enforcing forward-only transitions.
type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) get() State { return State(m.v.Load()) }

// advance moves to next if it is a legal successor of the current state and
// reports whether the transition happened.
func (m *stateMachine) advance(next State) bool {
	for {
		cur := State(m.v.Load())
		if !validTransition(cur, next) {
			return false
		}
		if m.v.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

func validTransition(cur, next State) bool {
	switch cur {
	case Idle:
		return next == Opening
	case Opening:
		return next == Established || next == Closing || next == Closed
	case Established:
		return next == KeepAliveLost || next == Closing || next == Closed
	case KeepAliveLost:
		return next == Closing || next == Closed
	case Closing:
		return next == Closed
	default:
		return false
	}
}
