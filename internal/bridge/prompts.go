package bridge

import (
	"github.com/pkg/errors"

	"github.com/Olib-AI/voicebridge/internal/aibridge"
	"github.com/Olib-AI/voicebridge/internal/codec"
	"github.com/Olib-AI/voicebridge/internal/ivr"
	"github.com/Olib-AI/voicebridge/internal/moh"
)

// IVRHooks builds the ivr.Hooks bound to this Bridge, reusing the
// music-on-hold player as the prompt-playback sink: a menu's prompt asset
// loops through the call's RTP session until the next digit (or a
// non-interruptible menu's own completion) stops it.
func (b *Bridge) IVRHooks() ivr.Hooks {
	return ivr.Hooks{
		PlayPrompt:  b.ivrPlayPrompt,
		StopPrompt:  b.ivrStopPrompt,
		Transfer:    b.ivrTransfer,
		Hangup:      b.ivrHangup,
		ForwardToAI: b.ivrForwardToAI,
		EndSession:  b.ivrEndSession,
	}
}

func (b *Bridge) ivrPlayPrompt(callID, asset string) {
	if b.MoH == nil || asset == "" {
		return
	}
	cm, ok := b.get(callID)
	if !ok {
		return
	}
	sink := func(chunk []byte) {
		enc := codec.Convert(chunk, codec.PCM, cm.codecName)
		cm.rtp.Send(enc)
	}
	src := moh.Source{Kind: moh.KindFile, Path: asset}
	if err := b.MoH.Start(callID, src, sink); err != nil {
		b.logger.Warn("ivr prompt playback failed", "call_id", callID, "asset", asset, "error", errors.Wrap(err, "play ivr prompt"))
	}
}

func (b *Bridge) ivrStopPrompt(callID string) {
	if b.MoH != nil {
		b.MoH.Stop(callID)
	}
}

func (b *Bridge) ivrTransfer(callID, target string) {
	if b.Manager != nil {
		b.Manager.TransferCall(callID, target, "blind")
	}
}

func (b *Bridge) ivrHangup(callID string) {
	if b.Manager != nil {
		b.Manager.HangupCall(callID, "ivr_hangup")
	}
}

func (b *Bridge) ivrForwardToAI(callID, collected string) {
	if b.AI == nil {
		return
	}
	_ = b.AI.SendDTMFSequence(callID, aibridge.DTMFSequencePayload{
		CallID:         callID,
		Sequence:       collected,
		PatternMatched: "ivr_collect_input",
	})
}

func (b *Bridge) ivrEndSession(callID string, reason ivr.EndReason) {
	b.ivrStopPrompt(callID)
	b.logger.Debug("ivr session ended", "call_id", callID, "reason", reason)
}
