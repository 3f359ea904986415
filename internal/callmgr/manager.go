// Package callmgr owns CallSession admission, state, and cleanup: the
// Router decides whether an inbound call is accepted, queued, forwarded,
// or rejected; the Manager tracks every active session's state machine,
// fans out lifecycle events, and runs the sweepers that reclaim stale
// sessions and queue entries.
package callmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

const (
	defaultStaleSessionAge = 4 * time.Hour
	staleSweepInterval     = 5 * time.Minute
	queueSweepInterval     = 1 * time.Minute
)

// Hooks lets the Manager drive the rest of the system on session
// lifecycle events without importing those packages directly.
type Hooks struct {
	ReleaseRTPPort  func(callID string)
	DisconnectAI    func(callID string)
	StopIVRAndMoH   func(callID string)
	NotifySignaling func(callID string, state State)
}

// Config bounds admission.
type Config struct {
	MaxConcurrentCalls int
	MaxPerNumber       int
	StaleSessionAge    time.Duration
}

// Manager is the single owner of the active-call map and number
// counters; other components see only read-only views.
type Manager struct {
	cfg    Config
	router *Router
	queue  *Queue
	bus    *EventBus
	hooks  Hooks
	logger *slog.Logger

	mu          sync.Mutex
	sessions    map[string]*CallSession
	numberCount map[string]int

	scheduler gocron.Scheduler
}

// NewManager creates a Manager. router and queue may be nil (an
// always-accept router and an unused queue are used instead).
func NewManager(cfg Config, router *Router, queue *Queue, bus *EventBus, hooks Hooks, logger *slog.Logger) *Manager {
	if cfg.StaleSessionAge <= 0 {
		cfg.StaleSessionAge = defaultStaleSessionAge
	}
	if router == nil {
		router = NewRouter(nil, nil, nil)
	}
	if queue == nil {
		queue = NewQueue(5*time.Minute, 0)
	}
	if bus == nil {
		bus = NewEventBus(logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg: cfg, router: router, queue: queue, bus: bus, hooks: hooks, logger: logger,
		sessions:    make(map[string]*CallSession),
		numberCount: make(map[string]int),
	}
}

// StartSweepers schedules the stale-session and queue-expiry sweepers.
// Callers that also run DTMF/IVR sweepers on the same cadence family may
// share the returned scheduler instead of creating another.
func (m *Manager) StartSweepers() (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("callmgr: create scheduler: %w", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(staleSweepInterval),
		gocron.NewTask(m.sweepStaleSessions),
	); err != nil {
		return nil, fmt.Errorf("callmgr: schedule stale-session sweep: %w", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(queueSweepInterval),
		gocron.NewTask(m.sweepQueue),
	); err != nil {
		return nil, fmt.Errorf("callmgr: schedule queue sweep: %w", err)
	}
	scheduler.Start()
	m.scheduler = scheduler
	return scheduler, nil
}

// StopSweepers shuts down the scheduler started by StartSweepers, if any.
func (m *Manager) StopSweepers() {
	if m.scheduler != nil {
		_ = m.scheduler.Shutdown()
	}
}

// HandleIncomingCall runs admission for an inbound call: router
// evaluation, blacklist/whitelist, concurrency and per-number caps. On
// acceptance it creates the session in INITIALIZING and transitions it
// to RINGING.
func (m *Manager) HandleIncomingCall(from, to string, headers map[string]string, codec string) (Decision, *CallSession) {
	decision := m.router.Evaluate(from, to, time.Now())
	if decision.Action == ActionReject {
		return decision, nil
	}

	m.mu.Lock()
	if m.cfg.MaxConcurrentCalls > 0 && len(m.sessions) >= m.cfg.MaxConcurrentCalls {
		m.mu.Unlock()
		return Decision{Action: ActionReject, RejectReason: "max_concurrent_calls"}, nil
	}
	if m.cfg.MaxPerNumber > 0 && m.numberCount[from] >= m.cfg.MaxPerNumber {
		m.mu.Unlock()
		return Decision{Action: ActionReject, RejectReason: "per_number_cap"}, nil
	}
	m.mu.Unlock()

	if decision.Action == ActionQueue {
		queueCallID := uuid.NewString()
		if err := m.queue.Enqueue(queueCallID, decision.QueueName, decision.QueuePriority); err != nil {
			return Decision{Action: ActionReject, RejectReason: "queue_full"}, nil
		}
		decision.QueueCallID = queueCallID
		return decision, nil
	}

	session := m.register(from, to, DirectionInbound, headers, codec)
	m.bus.Emit(Event{Name: "call_created", CallID: session.ID})
	m.UpdateState(session.ID, StateRinging, nil)
	return decision, session
}

// DequeueNext pops the next waiting call for admission, if any.
func (m *Manager) DequeueNext() (*QueuedCall, bool) {
	return m.queue.Dequeue()
}

// AdmitQueuedCall promotes a call previously queued by HandleIncomingCall
// (tracked under Decision.QueueCallID) into an active session, reusing
// queueCallID as the session id so a caller already holding that id for
// the pending SIP transaction stays in sync.
func (m *Manager) AdmitQueuedCall(queueCallID, from, to string, headers map[string]string, codec string) *CallSession {
	session := newCallSession(queueCallID, from, to, DirectionInbound, headers, codec)
	m.mu.Lock()
	m.sessions[queueCallID] = session
	m.numberCount[from]++
	m.mu.Unlock()
	m.bus.Emit(Event{Name: "call_created", CallID: queueCallID})
	m.UpdateState(queueCallID, StateRinging, nil)
	return session
}

// InitiateOutboundCall creates a session in INITIALIZING for a
// core-originated call.
func (m *Manager) InitiateOutboundCall(from, to string, headers map[string]string, codec string) *CallSession {
	session := m.register(from, to, DirectionOutbound, headers, codec)
	m.bus.Emit(Event{Name: "call_created", CallID: session.ID})
	return session
}

func (m *Manager) register(from, to string, dir Direction, headers map[string]string, codec string) *CallSession {
	id := uuid.NewString()
	session := newCallSession(id, from, to, dir, headers, codec)

	m.mu.Lock()
	m.sessions[id] = session
	m.numberCount[from]++
	m.mu.Unlock()
	return session
}

// onTransition runs the shared side effects of any accepted state
// change. Called after CallSession.transitionTo has released its own
// lock, so handlers are free to call back into the session or Manager.
func (m *Manager) onTransition(callID string, from, to State) {
	m.bus.Emit(Event{Name: "state_changed", CallID: callID, Data: map[string]any{"from": from, "to": to}})
	if m.hooks.NotifySignaling != nil {
		m.hooks.NotifySignaling(callID, to)
	}
	if to.Terminal() {
		m.bus.Emit(Event{Name: "call_ended", CallID: callID, Data: map[string]any{"state": to}})
		m.cleanup(callID)
	}
}

// Get returns callID's session, if tracked.
func (m *Manager) Get(callID string) (*CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	return s, ok
}

// ActiveCount returns the number of tracked (non-terminal) sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// UpdateState drives callID's state machine to newState. Unknown call
// ids and transitions outside the table are no-ops returning false.
func (m *Manager) UpdateState(callID string, newState State, extras map[string]any) bool {
	session, ok := m.Get(callID)
	if !ok {
		return false
	}
	from, ok := session.transitionTo(context.Background(), newState)
	if !ok {
		return false
	}
	m.onTransition(callID, from, newState)
	if extras != nil {
		m.bus.Emit(Event{Name: "state_changed_extras", CallID: callID, Data: extras})
	}
	return true
}

// TransferCall moves a CONNECTED call to TRANSFERRING with the given
// target and mode.
func (m *Manager) TransferCall(callID, target, mode string) bool {
	session, ok := m.Get(callID)
	if !ok || session.State() != StateConnected {
		return false
	}
	session.mu.Lock()
	session.TransferTarget = target
	session.TransferMode = mode
	session.mu.Unlock()
	return m.UpdateState(callID, StateTransferring, nil)
}

// HoldCall moves a CONNECTED call to ON_HOLD.
func (m *Manager) HoldCall(callID string) bool {
	return m.UpdateState(callID, StateOnHold, nil)
}

// ResumeCall moves an ON_HOLD call back to CONNECTED.
func (m *Manager) ResumeCall(callID string) bool {
	return m.UpdateState(callID, StateConnected, nil)
}

// StartRecording marks callID as recording. No-op on unknown call ids.
func (m *Manager) StartRecording(callID string) bool {
	session, ok := m.Get(callID)
	if !ok {
		return false
	}
	session.mu.Lock()
	session.Recording = true
	session.mu.Unlock()
	return true
}

// StopRecording clears callID's recording flag.
func (m *Manager) StopRecording(callID string) bool {
	session, ok := m.Get(callID)
	if !ok {
		return false
	}
	session.mu.Lock()
	session.Recording = false
	session.mu.Unlock()
	return true
}

// errorReasons are hangup reasons that route to FAILED instead of
// COMPLETED.
var errorReasons = map[string]bool{
	"error": true, "timeout": true, "network_error": true, "rejected": true,
}

// HangupCall moves any non-terminal call to COMPLETED (CANCELLED if it
// never reached CONNECTED), or FAILED when reason names an error
// condition.
func (m *Manager) HangupCall(callID, reason string) bool {
	session, ok := m.Get(callID)
	if !ok {
		return false
	}
	current := session.State()
	if current.Terminal() {
		return false
	}
	dst := StateCompleted
	switch {
	case errorReasons[reason]:
		dst = StateFailed
	case current == StateInitializing || current == StateRinging || current == StateConnecting:
		dst = StateCancelled
	}
	session.mu.Lock()
	session.EndReason = reason
	session.mu.Unlock()
	return m.UpdateState(callID, dst, nil)
}

func (m *Manager) cleanup(callID string) {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if ok {
		delete(m.sessions, callID)
		if n := m.numberCount[session.FromNumber] - 1; n <= 0 {
			delete(m.numberCount, session.FromNumber)
		} else {
			m.numberCount[session.FromNumber] = n
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if m.hooks.ReleaseRTPPort != nil {
		m.hooks.ReleaseRTPPort(callID)
	}
	if m.hooks.DisconnectAI != nil {
		m.hooks.DisconnectAI(callID)
	}
	if m.hooks.StopIVRAndMoH != nil {
		m.hooks.StopIVRAndMoH(callID)
	}
}

func (m *Manager) sweepStaleSessions() {
	m.mu.Lock()
	stale := make([]string, 0)
	now := time.Now()
	for id, s := range m.sessions {
		if !s.State().Terminal() && now.Sub(s.CreatedAt) > m.cfg.StaleSessionAge {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.logger.Warn("forcing stale call to terminal state", "call_id", id)
		m.HangupCall(id, "stale_session_swept")
	}
}

func (m *Manager) sweepQueue() {
	for _, expired := range m.queue.Sweep() {
		m.bus.Emit(Event{Name: "queued_call_expired", CallID: expired.CallID, Data: map[string]any{
			"queue": expired.QueueName,
		}})
	}
}
