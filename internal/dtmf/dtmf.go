// Package dtmf implements the DTMF detection pipeline: an RFC 2833
// (RFC 4733) telephony-event decoder carried over RTP, and a Goertzel
// in-band tone detector for bearer-carried DTMF, both feeding a shared
// event model consumed by the pattern processor in processor.go.
package dtmf

import (
	"time"
)

// Digit is one DTMF keypad symbol.
type Digit byte

// Method identifies how a DTMFEvent was detected.
type Method string

const (
	MethodRFC2833 Method = "rfc2833"
	MethodInband  Method = "inband"
	MethodSIPInfo Method = "sip_info"
)

// Event is a single detected DTMF digit.
type Event struct {
	CallID     string
	Digit      Digit
	Method     Method
	Timestamp  time.Time
	DurationMs int64
	Confidence float64
}

var eventCodeToDigit = map[uint8]Digit{
	0: '0', 1: '1', 2: '2', 3: '3', 4: '4', 5: '5', 6: '6', 7: '7', 8: '8', 9: '9',
	10: '*', 11: '#', 12: 'A', 13: 'B', 14: 'C', 15: 'D',
}

// RFC2833Decoder parses telephony-event RTP payloads (RFC 4733 §2.3) into
// Events, tracking in-progress events per call so an Event is only
// emitted once the End bit is observed for a digit that was actually
// started.
type RFC2833Decoder struct {
	callID string
	active map[uint8]rfc2833State
}

type rfc2833State struct {
	start time.Time
}

// NewRFC2833Decoder creates a decoder scoped to one call.
func NewRFC2833Decoder(callID string) *RFC2833Decoder {
	return &RFC2833Decoder{
		callID: callID,
		active: make(map[uint8]rfc2833State),
	}
}

// Decode parses one telephony-event payload. It returns an Event and
// ok=true only when the End bit is set and a matching start was
// previously observed for the same event code; malformed payloads
// (shorter than 4 bytes) are dropped rather than erroring.
func (d *RFC2833Decoder) Decode(payload []byte) (Event, bool) {
	if len(payload) < 4 {
		return Event{}, false
	}
	eventCode := payload[0]
	endBit := payload[1]&0x80 != 0
	durationUnits := uint16(payload[2])<<8 | uint16(payload[3])

	now := time.Now()
	if !endBit {
		if _, ok := d.active[eventCode]; !ok {
			d.active[eventCode] = rfc2833State{start: now}
		}
		return Event{}, false
	}

	state, ok := d.active[eventCode]
	if !ok {
		return Event{}, false
	}
	delete(d.active, eventCode)

	digit, ok := eventCodeToDigit[eventCode&0x0f]
	if !ok {
		return Event{}, false
	}

	// Duration prefers the wall clock; falls back to the RTP duration
	// field (8kHz timestamp units) when the wall clock gives a
	// non-positive reading.
	durationMs := now.Sub(state.start).Milliseconds()
	if durationMs <= 0 {
		durationMs = int64(durationUnits) * 1000 / 8000
	}

	return Event{
		CallID:     d.callID,
		Digit:      digit,
		Method:     MethodRFC2833,
		Timestamp:  now,
		DurationMs: durationMs,
		Confidence: 1.0,
	}, true
}
