package callmgr

import (
	"context"
	"strings"

	"github.com/looplab/fsm"
)

// NOTE: transition notification deliberately does not use fsm's
// "enter_state" callback. That callback fires synchronously inside
// Event() while the caller typically still holds the session's own
// lock; routing it straight to the event bus risks a handler calling
// back into session state and deadlocking on a non-reentrant mutex.
// CallSession.transitionTo instead reports the transition to its
// caller after releasing the lock.

// State is a CallSession lifecycle state.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateRinging       State = "RINGING"
	StateConnecting    State = "CONNECTING"
	StateConnected     State = "CONNECTED"
	StateOnHold        State = "ON_HOLD"
	StateTransferring  State = "TRANSFERRING"
	StateCompleted     State = "COMPLETED"
	StateFailed        State = "FAILED"
	StateCancelled     State = "CANCELLED"
)

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// eventFor names the fsm event that drives a transition into dst. Every
// transition is modeled as "goto the destination state", keeping the
// event set small and the table below the single source of truth.
func eventFor(dst State) string {
	return "to_" + strings.ToLower(string(dst))
}

// newSessionFSM builds the looplab/fsm machine for the authoritative call
// state table, rejecting any transition outside it.
func newSessionFSM(initial State) *fsm.FSM {
	events := fsm.Events{
		{Name: eventFor(StateRinging), Src: []string{string(StateInitializing)}, Dst: string(StateRinging)},
		{Name: eventFor(StateConnecting), Src: []string{string(StateInitializing), string(StateRinging)}, Dst: string(StateConnecting)},
		{Name: eventFor(StateConnected), Src: []string{string(StateConnecting), string(StateOnHold), string(StateTransferring)}, Dst: string(StateConnected)},
		{Name: eventFor(StateOnHold), Src: []string{string(StateConnected)}, Dst: string(StateOnHold)},
		{Name: eventFor(StateTransferring), Src: []string{string(StateConnected)}, Dst: string(StateTransferring)},
		{Name: eventFor(StateCompleted), Src: []string{string(StateConnected), string(StateOnHold), string(StateTransferring)}, Dst: string(StateCompleted)},
		{Name: eventFor(StateFailed), Src: []string{
			string(StateInitializing), string(StateRinging), string(StateConnecting),
			string(StateConnected), string(StateOnHold), string(StateTransferring),
		}, Dst: string(StateFailed)},
		{Name: eventFor(StateCancelled), Src: []string{
			string(StateInitializing), string(StateRinging), string(StateConnecting),
		}, Dst: string(StateCancelled)},
	}

	return fsm.NewFSM(string(initial), events, nil)
}

// transition attempts to move f into dst, returning false (no state
// change) if dst is not reachable from f's current state.
func transition(ctx context.Context, f *fsm.FSM, dst State) bool {
	if err := f.Event(ctx, eventFor(dst)); err != nil {
		return false
	}
	return true
}
