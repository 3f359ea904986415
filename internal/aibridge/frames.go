package aibridge

import "encoding/json"

// FrameType is the discriminator carried on every WebSocket message
// exchanged with the AI backend.
type FrameType string

const (
	FrameAuth         FrameType = "auth"
	FrameAudioData    FrameType = "audio_data"
	FrameCallStart    FrameType = "call_start"
	FrameCallEnd      FrameType = "call_end"
	FrameDTMF         FrameType = "dtmf"
	FrameDTMFSequence FrameType = "dtmf_sequence"
	FrameHeartbeat    FrameType = "heartbeat"
	FrameStatus       FrameType = "status"
	FrameError        FrameType = "error"
	FrameHangup       FrameType = "hangup"
	FrameTransfer     FrameType = "transfer"
	FrameHold         FrameType = "hold"
	FrameResume       FrameType = "resume"
	FrameDTMFSend     FrameType = "dtmf_send"
)

// Envelope is the outer shape of every frame; Data carries the
// type-specific payload as raw JSON so dispatch can happen before
// unmarshaling the body.
type Envelope struct {
	Type FrameType       `json:"type"`
	Auth *AuthPayload    `json:"auth,omitempty"`
	Call *CallInfo       `json:"call,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AuthPayload is the auth frame's credential block.
type AuthPayload struct {
	Token     string `json:"token"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
	CallID    string `json:"call_id"`
}

// CallInfo describes the call being bridged, sent alongside the auth
// frame so the AI backend has call context before audio starts flowing.
type CallInfo struct {
	ConversationID string            `json:"conversation_id"`
	FromNumber     string            `json:"from_number"`
	ToNumber       string            `json:"to_number"`
	Direction      string            `json:"direction"`
	SIPHeaders     map[string]string `json:"sip_headers,omitempty"`
	Codec          string            `json:"codec"`
	SampleRate     int               `json:"sample_rate"`
}

// AudioDataPayload carries one base64-encoded PCM frame.
type AudioDataPayload struct {
	CallID    string `json:"call_id"`
	Audio     string `json:"audio"`
	Timestamp int64  `json:"timestamp"`
	Sequence  uint32 `json:"sequence"`
}

// DTMFPayload mirrors a detected digit out to the AI backend.
type DTMFPayload struct {
	CallID     string  `json:"call_id"`
	Digit      string  `json:"digit"`
	DurationMs int64   `json:"duration_ms"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// DTMFSequencePayload reports a completed pattern match on the per-call
// digit sequence, alongside each raw digit already sent as its own
// DTMFPayload frame.
type DTMFSequencePayload struct {
	CallID         string `json:"call_id"`
	Sequence       string `json:"sequence"`
	PatternMatched string `json:"pattern_matched"`
	Context        string `json:"context,omitempty"`
}

// ControlPayload is the generic shape for hangup/transfer/hold/resume/
// dtmf_send frames arriving from the AI backend.
type ControlPayload struct {
	CallID string `json:"call_id"`
	Target string `json:"target,omitempty"` // transfer destination
	Digits string `json:"digits,omitempty"` // dtmf_send
}
