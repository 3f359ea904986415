package callmgr

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// Direction is the call's originating side.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CallSession is one call's full lifecycle record.
type CallSession struct {
	ID         string
	FromNumber string
	ToNumber   string
	Direction  Direction
	SIPHeaders map[string]string
	Codec      string

	CreatedAt     time.Time
	RingStartAt   time.Time
	ConnectTimeAt time.Time
	EndTimeAt     time.Time

	TransferTarget string
	TransferMode   string
	Recording      bool
	EndReason      string

	mu  sync.Mutex
	fsm *fsm.FSM
}

func newCallSession(id, from, to string, dir Direction, headers map[string]string, codec string) *CallSession {
	s := &CallSession{
		ID:         id,
		FromNumber: from,
		ToNumber:   to,
		Direction:  dir,
		SIPHeaders: headers,
		Codec:      codec,
		CreatedAt:  time.Now(),
	}
	s.fsm = newSessionFSM(StateInitializing)
	return s
}

// State returns the session's current lifecycle state.
func (s *CallSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State(s.fsm.Current())
}

// IsRecording reports the session's current recording flag under its own
// lock, for callers outside the package that cannot take that lock
// directly.
func (s *CallSession) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Recording
}

// TransferInfo returns the target and mode most recently set by
// TransferCall, under the session's own lock.
func (s *CallSession) TransferInfo() (target, mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TransferTarget, s.TransferMode
}

// transitionTo moves the session to dst under its own lock, stamping the
// state-specific timestamps the table requires. It reports the state
// transitioned from and whether the transition was accepted; the caller
// is responsible for notifying the event bus after releasing any lock
// of its own.
func (s *CallSession) transitionTo(ctx context.Context, dst State) (from State, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from = State(s.fsm.Current())
	if !transition(ctx, s.fsm, dst) {
		return from, false
	}
	switch dst {
	case StateRinging:
		s.RingStartAt = time.Now()
	case StateConnected:
		if s.ConnectTimeAt.IsZero() {
			s.ConnectTimeAt = time.Now()
		}
	case StateCompleted, StateFailed, StateCancelled:
		s.EndTimeAt = time.Now()
	}
	return from, true
}
