package bridge

import (
	"time"

	"github.com/Olib-AI/voicebridge/internal/aibridge"
	"github.com/Olib-AI/voicebridge/internal/dtmf"
)

// HandleDTMFInfo implements signaling.Handlers.OnDTMFInfo: a digit
// carried by a SIP INFO request rather than RTP, fed through the same
// debounce/IVR/pattern path as an RTP-detected digit.
func (b *Bridge) HandleDTMFInfo(callID, digit string) {
	if digit == "" {
		return
	}
	b.handleDTMFEvent(dtmf.Event{
		CallID:    callID,
		Digit:     dtmf.Digit(digit[0]),
		Method:    dtmf.MethodSIPInfo,
		Timestamp: time.Now(),
	})
}

// handleDTMFEvent fans out one detected digit (from either the RFC 2833
// decoder or the in-band Goertzel detector) to the AI backend, the active
// IVR session if any, and the pattern processor, debouncing duplicate
// reports from the two detection paths first.
func (b *Bridge) handleDTMFEvent(ev dtmf.Event) {
	cm, ok := b.get(ev.CallID)
	if !ok || !cm.debounce.Allow(ev) {
		return
	}

	if b.AI != nil {
		_ = b.AI.SendDTMF(ev.CallID, aibridge.DTMFPayload{
			CallID:     ev.CallID,
			Digit:      string(ev.Digit),
			DurationMs: ev.DurationMs,
			Confidence: ev.Confidence,
			Method:     string(ev.Method),
		})
	}

	if b.IVR != nil && b.IVR.Active(ev.CallID) {
		b.IVR.HandleDigit(ev.CallID, ev.Digit)
	}

	if b.DTMF == nil {
		return
	}
	match, matched := b.DTMF.HandleDigit(ev.CallID, ev.Digit)
	if !matched {
		return
	}
	if b.Metrics != nil {
		b.Metrics.DTMFPatternMatches.Inc()
	}
	b.dispatchDTMFMatch(match)
}

// dispatchDTMFMatch carries out the side effect named by a completed
// pattern match. ActionCustom is left to Processor.Dispatch, which
// already knows how to resolve the registered handler.
func (b *Bridge) dispatchDTMFMatch(m dtmf.Match) {
	switch m.Pattern.Action {
	case dtmf.ActionForwardToAI:
		if b.AI == nil {
			return
		}
		_ = b.AI.SendDTMFSequence(m.CallID, aibridge.DTMFSequencePayload{
			CallID:         m.CallID,
			Sequence:       m.Sequence,
			PatternMatched: m.Pattern.Regex.String(),
			Context:        m.Pattern.Parameters["context"],
		})
	case dtmf.ActionTransfer:
		if b.Manager == nil {
			return
		}
		b.Manager.TransferCall(m.CallID, m.Pattern.Parameters["target"], m.Pattern.Parameters["mode"])
	case dtmf.ActionPlayAudio:
		if b.Signaling == nil {
			return
		}
		_ = b.Signaling.PlayAudio(m.CallID, m.Pattern.Parameters["asset"])
	case dtmf.ActionHangup:
		if b.Manager == nil {
			return
		}
		b.Manager.HangupCall(m.CallID, "dtmf_pattern")
	case dtmf.ActionToggleRecording:
		if b.Manager == nil {
			return
		}
		session, ok := b.Manager.Get(m.CallID)
		if !ok {
			return
		}
		if session.IsRecording() {
			b.Manager.StopRecording(m.CallID)
		} else {
			b.Manager.StartRecording(m.CallID)
		}
	case dtmf.ActionEnterIVR:
		if b.IVR == nil {
			return
		}
		_ = b.IVR.StartSession(m.CallID, m.Pattern.Parameters["menu"])
	case dtmf.ActionCustom:
		if b.DTMF == nil {
			return
		}
		_ = b.DTMF.Dispatch(m)
	}
}
