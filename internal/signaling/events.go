// Package signaling translates between SIP requests on the wire and the
// call manager's event/command surface. It is a thin UAS/UAC built on
// emiago/sipgo: INVITE/ACK/BYE/CANCEL/INFO/MESSAGE become call manager
// calls, and call manager actions become BYE/REFER/INFO/MESSAGE requests
// sent back out. Transaction and dialog-retransmission mechanics stay
// inside sipgo; this package only does the translation.
package signaling

import "github.com/Olib-AI/voicebridge/internal/callmgr"

// CallInfo summarizes an inbound call as extracted from an INVITE and its
// SDP offer.
type CallInfo struct {
	FromNumber    string
	ToNumber      string
	SIPHeaders    map[string]string
	Codec         string
	RemoteRTPHost string
	RemoteRTPPort int
}

// Router is consulted synchronously on each inbound INVITE and on each
// queued-call promotion. It is satisfied by *callmgr.Manager.
type Router interface {
	HandleIncomingCall(from, to string, headers map[string]string, codec string) (callmgr.Decision, *callmgr.CallSession)
	AdmitQueuedCall(queueCallID, from, to string, headers map[string]string, codec string) *callmgr.CallSession
}

// Handlers dispatches translated SIP events that are not themselves
// admission decisions. Each field is optional; a nil handler silently
// drops that event, matching aibridge.Handlers' convention.
type Handlers struct {
	OnCallAnswer func(callID string)
	OnCallEnd    func(callID, reason string)
	OnDTMFInfo   func(callID, digit string)
	OnSMSMessage func(fromURI, toURI, body string, headers map[string]string, callID string)
}
