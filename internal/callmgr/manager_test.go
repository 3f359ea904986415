package callmgr

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleIncomingCallAcceptsByDefaultAndReachesRinging(t *testing.T) {
	m := NewManager(Config{}, nil, nil, nil, Hooks{}, nil)
	decision, session := m.HandleIncomingCall("+15551230000", "+15559999999", nil, "PCMU")
	require.Equal(t, ActionAccept, decision.Action)
	require.NotNil(t, session)
	assert.Equal(t, StateRinging, session.State())
}

func TestHandleIncomingCallRejectsBlacklisted(t *testing.T) {
	router := NewRouter([]string{"+15551111111"}, nil, nil)
	m := NewManager(Config{}, router, nil, nil, Hooks{}, nil)
	decision, session := m.HandleIncomingCall("+15551111111", "+15559999999", nil, "PCMU")
	assert.Equal(t, ActionReject, decision.Action)
	assert.Equal(t, "caller_blacklisted", decision.RejectReason)
	assert.Nil(t, session)
}

func TestHandleIncomingCallRejectsNotWhitelisted(t *testing.T) {
	router := NewRouter(nil, []string{"+15552222222"}, nil)
	m := NewManager(Config{}, router, nil, nil, Hooks{}, nil)
	decision, session := m.HandleIncomingCall("+15551111111", "+15559999999", nil, "PCMU")
	assert.Equal(t, ActionReject, decision.Action)
	assert.Equal(t, "caller_not_whitelisted", decision.RejectReason)
	assert.Nil(t, session)
}

func TestRouterFirstMatchingRuleByPriorityWins(t *testing.T) {
	rules := []Rule{
		{Priority: 1, Conditions: RuleConditions{CallerPattern: regexp.MustCompile(`^\+1555`)}, Decision: Decision{Action: ActionForward, ForwardTarget: "sip:low@pbx"}},
		{Priority: 10, Conditions: RuleConditions{CallerPattern: regexp.MustCompile(`^\+1555`)}, Decision: Decision{Action: ActionForward, ForwardTarget: "sip:high@pbx"}},
	}
	router := NewRouter(nil, nil, rules)
	d := router.Evaluate("+15551230000", "+15559999999", time.Now())
	assert.Equal(t, "sip:high@pbx", d.ForwardTarget)
}

func TestMaxConcurrentCallsRejectsOverflow(t *testing.T) {
	m := NewManager(Config{MaxConcurrentCalls: 1}, nil, nil, nil, Hooks{}, nil)
	_, first := m.HandleIncomingCall("+1", "+2", nil, "PCMU")
	require.NotNil(t, first)

	decision, second := m.HandleIncomingCall("+3", "+2", nil, "PCMU")
	assert.Equal(t, ActionReject, decision.Action)
	assert.Equal(t, "max_concurrent_calls", decision.RejectReason)
	assert.Nil(t, second)
}

func TestPerNumberCapRejectsOverflow(t *testing.T) {
	m := NewManager(Config{MaxPerNumber: 1}, nil, nil, nil, Hooks{}, nil)
	_, first := m.HandleIncomingCall("+1", "+2", nil, "PCMU")
	require.NotNil(t, first)

	decision, second := m.HandleIncomingCall("+1", "+2", nil, "PCMU")
	assert.Equal(t, ActionReject, decision.Action)
	assert.Equal(t, "per_number_cap", decision.RejectReason)
	assert.Nil(t, second)
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	m := NewManager(Config{}, nil, nil, nil, Hooks{}, nil)
	_, session := m.HandleIncomingCall("+1", "+2", nil, "PCMU")
	require.Equal(t, StateRinging, session.State())

	assert.False(t, m.UpdateState(session.ID, StateOnHold, nil))
	assert.Equal(t, StateRinging, session.State())

	require.True(t, m.UpdateState(session.ID, StateConnecting, nil))
	require.True(t, m.UpdateState(session.ID, StateConnected, nil))
	assert.True(t, m.UpdateState(session.ID, StateOnHold, nil))
}

func TestHangupCallRoutesToCompletedOrFailed(t *testing.T) {
	m := NewManager(Config{}, nil, nil, nil, Hooks{}, nil)
	_, s1 := m.HandleIncomingCall("+1", "+2", nil, "PCMU")
	require.True(t, m.UpdateState(s1.ID, StateConnecting, nil))
	require.True(t, m.UpdateState(s1.ID, StateConnected, nil))
	assert.True(t, m.HangupCall(s1.ID, "caller_hangup"))
	assert.Equal(t, StateCompleted, s1.State())

	_, s2 := m.HandleIncomingCall("+3", "+4", nil, "PCMU")
	assert.True(t, m.HangupCall(s2.ID, "network_error"))
	assert.Equal(t, StateFailed, s2.State())
}

func TestCleanupInvokesHooksAndRemovesSession(t *testing.T) {
	var released, disconnected, stopped []string
	hooks := Hooks{
		ReleaseRTPPort: func(callID string) { released = append(released, callID) },
		DisconnectAI:   func(callID string) { disconnected = append(disconnected, callID) },
		StopIVRAndMoH:  func(callID string) { stopped = append(stopped, callID) },
	}
	m := NewManager(Config{}, nil, nil, nil, hooks, nil)
	_, session := m.HandleIncomingCall("+1", "+2", nil, "PCMU")
	require.True(t, m.HangupCall(session.ID, "caller_hangup"))

	assert.Equal(t, []string{session.ID}, released)
	assert.Equal(t, []string{session.ID}, disconnected)
	assert.Equal(t, []string{session.ID}, stopped)
	_, ok := m.Get(session.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestTransferHoldResumeRequireConnected(t *testing.T) {
	m := NewManager(Config{}, nil, nil, nil, Hooks{}, nil)
	_, session := m.HandleIncomingCall("+1", "+2", nil, "PCMU")

	assert.False(t, m.TransferCall(session.ID, "sip:ops@pbx", "blind"))

	require.True(t, m.UpdateState(session.ID, StateConnecting, nil))
	require.True(t, m.UpdateState(session.ID, StateConnected, nil))

	assert.True(t, m.HoldCall(session.ID))
	assert.Equal(t, StateOnHold, session.State())
	assert.True(t, m.ResumeCall(session.ID))
	assert.Equal(t, StateConnected, session.State())

	assert.True(t, m.TransferCall(session.ID, "sip:ops@pbx", "blind"))
	assert.Equal(t, StateTransferring, session.State())
	assert.Equal(t, "sip:ops@pbx", session.TransferTarget)
}

func TestQueueActionEnqueuesInsteadOfCreatingSession(t *testing.T) {
	rules := []Rule{{Priority: 1, Decision: Decision{Action: ActionQueue, QueueName: "sales", QueuePriority: 5}}}
	router := NewRouter(nil, nil, rules)
	queue := NewQueue(5*time.Minute, 10)
	m := NewManager(Config{}, router, queue, nil, Hooks{}, nil)

	decision, session := m.HandleIncomingCall("+1", "+2", nil, "PCMU")
	assert.Equal(t, ActionQueue, decision.Action)
	assert.Nil(t, session)
	assert.Equal(t, 1, queue.Len())
	assert.NotEmpty(t, decision.QueueCallID)
}

func TestAdmitQueuedCallPromotesByQueueCallID(t *testing.T) {
	rules := []Rule{{Priority: 1, Decision: Decision{Action: ActionQueue, QueueName: "sales", QueuePriority: 5}}}
	router := NewRouter(nil, nil, rules)
	queue := NewQueue(5*time.Minute, 10)
	m := NewManager(Config{}, router, queue, nil, Hooks{}, nil)

	decision, _ := m.HandleIncomingCall("+1", "+2", nil, "PCMU")
	require.Equal(t, ActionQueue, decision.Action)

	queued, ok := m.DequeueNext()
	require.True(t, ok)
	assert.Equal(t, decision.QueueCallID, queued.CallID)

	session := m.AdmitQueuedCall(queued.CallID, "+1", "+2", nil, "PCMU")
	assert.Equal(t, decision.QueueCallID, session.ID)
	assert.Equal(t, StateRinging, session.State())

	got, ok := m.Get(decision.QueueCallID)
	require.True(t, ok)
	assert.Same(t, session, got)
}

func TestQueueOrdersByPriorityThenAge(t *testing.T) {
	q := NewQueue(time.Hour, 0)
	require.NoError(t, q.Enqueue("low", "q", 1))
	require.NoError(t, q.Enqueue("high", "q", 10))
	require.NoError(t, q.Enqueue("mid", "q", 5))

	first, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "high", first.CallID)

	second, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "mid", second.CallID)

	third, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "low", third.CallID)
}

func TestQueueSweepEvictsExpired(t *testing.T) {
	q := NewQueue(0, 0)
	require.NoError(t, q.Enqueue("a", "q", 1))
	time.Sleep(time.Millisecond)
	expired := q.Sweep()
	require.Len(t, expired, 1)
	assert.Equal(t, "a", expired[0].CallID)
	assert.Equal(t, 0, q.Len())
}

func TestEventBusSyncHandlerPanicIsRecovered(t *testing.T) {
	bus := NewEventBus(nil)
	called := false
	bus.OnSync("boom", func(Event) { panic("nope") })
	bus.OnSync("boom", func(Event) { called = true })

	assert.NotPanics(t, func() { bus.Emit(Event{Name: "boom"}) })
	assert.True(t, called)
}

func TestEventBusAsyncHandlerRuns(t *testing.T) {
	bus := NewEventBus(nil)
	done := make(chan struct{})
	bus.OnAsync("go", func(Event) { close(done) })
	bus.Emit(Event{Name: "go"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async handler did not run")
	}
}
