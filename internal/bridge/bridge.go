// Package bridge is the per-call media orchestrator: it is the one place
// that knows about RTP, the jitter buffer, codec/resample conversion,
// DTMF detection, IVR, music-on-hold, and the AI bridge all at once, and
// wires them together behind the narrow hook interfaces callmgr and
// signaling already expose. No other package imports this one; it sits
// above the component packages, not beside them.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Olib-AI/voicebridge/internal/aibridge"
	"github.com/Olib-AI/voicebridge/internal/callmgr"
	"github.com/Olib-AI/voicebridge/internal/codec"
	"github.com/Olib-AI/voicebridge/internal/dtmf"
	"github.com/Olib-AI/voicebridge/internal/ivr"
	"github.com/Olib-AI/voicebridge/internal/moh"
	"github.com/Olib-AI/voicebridge/internal/portpool"
	"github.com/Olib-AI/voicebridge/internal/signaling"
	"github.com/Olib-AI/voicebridge/internal/telemetry"
)

// Config bounds the media pipeline every call gets.
type Config struct {
	RTPPortRange      portpool.Range
	TelephonyRate     int // e.g. 8000
	AIRate            int // e.g. 16000
	FrameMs           int // 20
	JitterMaxSize     int
	JitterTargetDelay time.Duration
	PublicRTPIP       string
	HoldSource        moh.Source
}

func (c *Config) setDefaults() {
	if c.TelephonyRate <= 0 {
		c.TelephonyRate = 8000
	}
	if c.AIRate <= 0 {
		c.AIRate = 16000
	}
	if c.FrameMs <= 0 {
		c.FrameMs = 20
	}
	if c.JitterMaxSize <= 0 {
		c.JitterMaxSize = 50
	}
	if c.JitterTargetDelay <= 0 {
		c.JitterTargetDelay = 60 * time.Millisecond
	}
	if c.HoldSource.Kind == "" {
		c.HoldSource = moh.Source{Kind: moh.KindGenerated, ToneHz: 440, ToneDurationMs: 2000}
	}
}

// Bridge owns every active call's media pipeline and is the hook target
// for both callmgr.Hooks and signaling.Config.MediaStart.
type Bridge struct {
	cfg    Config
	pool   *portpool.Pool
	logger *slog.Logger

	Manager   *callmgr.Manager
	AI        *aibridge.Manager
	IVR       *ivr.Engine
	MoH       *moh.Manager
	DTMF      *dtmf.Processor
	Signaling *signaling.Adapter

	// Metrics is optional; every reporting call site checks it for nil.
	Metrics *telemetry.Metrics

	mu    sync.Mutex
	calls map[string]*callMedia
}

// New creates a Bridge. The component managers/engines are constructed by
// the caller and assigned afterward (Manager, AI, IVR, MoH, DTMF,
// Signaling are exported for exactly that two-phase wiring: several of
// them in turn need Bridge's methods as their own hooks, so neither side
// can be fully constructed first).
func New(cfg Config, logger *slog.Logger) (*Bridge, error) {
	cfg.setDefaults()
	pool, err := portpool.New(cfg.RTPPortRange)
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:    cfg,
		pool:   pool,
		logger: logger.With("component", "bridge"),
		calls:  make(map[string]*callMedia),
	}, nil
}

// Hooks builds the callmgr.Hooks bound to this Bridge. It may be called
// before AI, IVR, MoH, DTMF, Manager and Signaling are assigned: each hook
// reads those fields when it runs and skips any that are still nil.
func (b *Bridge) Hooks() callmgr.Hooks {
	return callmgr.Hooks{
		ReleaseRTPPort:  b.releaseMedia,
		DisconnectAI:    b.disconnectAI,
		StopIVRAndMoH:   b.stopIVRAndMoH,
		NotifySignaling: b.notifySignaling,
	}
}

// disconnectAI always decrements AIConnectionsActive even if this call's
// AI connection never finished handshaking; Manager.cleanup runs this
// hook unconditionally on call teardown, so the gauge is an
// approximation, not an exact count of live connections.
func (b *Bridge) disconnectAI(callID string) {
	if b.AI == nil {
		return
	}
	b.AI.Disconnect(callID)
	if b.Metrics != nil {
		b.Metrics.AIConnectionsActive.Dec()
	}
}

// MediaStart implements signaling.Config.MediaStart: it allocates a local
// RTP port, starts the call's media pipeline, and returns the port to
// advertise in the SDP answer.
func (b *Bridge) MediaStart(callID, remoteHost string, remotePort int, codecName, dtmfPT string) (int, error) {
	localPort, err := b.pool.Allocate()
	if err != nil {
		return 0, fmt.Errorf("bridge: allocate rtp port for call %s: %w", callID, err)
	}

	cm, err := newCallMedia(b.cfg, callID, localPort, remoteHost, remotePort, codecName, dtmfPT, b.logger)
	if err != nil {
		b.pool.Release(localPort)
		return 0, err
	}

	b.mu.Lock()
	if existing, ok := b.calls[callID]; ok {
		existing.stop()
		b.pool.Release(existing.localPort)
	}
	b.calls[callID] = cm
	b.mu.Unlock()

	cm.start(b)
	if b.Metrics != nil {
		b.Metrics.CallsActive.Inc()
		b.Metrics.RTPPortsInUse.Inc()
	}
	return localPort, nil
}

func (b *Bridge) get(callID string) (*callMedia, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cm, ok := b.calls[callID]
	return cm, ok
}

func (b *Bridge) releaseMedia(callID string) {
	b.mu.Lock()
	cm, ok := b.calls[callID]
	if ok {
		delete(b.calls, callID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	cm.stop()
	b.pool.Release(cm.localPort)
	if b.DTMF != nil {
		b.DTMF.Clear(callID)
	}
	if b.Metrics != nil {
		b.Metrics.CallsActive.Dec()
		b.Metrics.RTPPortsInUse.Dec()
	}
}

func (b *Bridge) stopIVRAndMoH(callID string) {
	if b.IVR != nil {
		b.IVR.Stop(callID)
	}
	if b.MoH != nil {
		b.MoH.Stop(callID)
	}
}

// notifySignaling reacts to call state changes that need a side effect
// outside the media pipeline: starting/stopping hold music and mirroring
// a transfer or hangup out onto the SIP dialog.
func (b *Bridge) notifySignaling(callID string, state callmgr.State) {
	switch state {
	case callmgr.StateOnHold:
		b.startHoldMusic(callID)
	case callmgr.StateConnected:
		if b.MoH != nil {
			b.MoH.Stop(callID)
		}
	case callmgr.StateTransferring:
		if b.Signaling == nil || b.Manager == nil {
			return
		}
		session, ok := b.Manager.Get(callID)
		if !ok {
			return
		}
		target, mode := session.TransferInfo()
		if err := b.Signaling.Transfer(callID, target, mode); err != nil {
			b.logger.Warn("transfer failed", "call_id", callID, "error", errors.Wrap(err, "transfer call"))
		}
	case callmgr.StateCompleted, callmgr.StateFailed, callmgr.StateCancelled:
		if b.Signaling != nil {
			_ = b.Signaling.Hangup(callID)
		}
	}
	if b.Metrics != nil && state.Terminal() {
		b.Metrics.CallsTotal.WithLabelValues(string(state)).Inc()
	}
}

// OnCallAnswered drives CONNECTING then CONNECTED on ACK (wired as
// signaling.Handlers.OnCallAnswer) and kicks off the AI connection.
func (b *Bridge) OnCallAnswered(callID string) {
	if b.Manager == nil {
		return
	}
	b.Manager.UpdateState(callID, callmgr.StateConnecting, nil)
	if !b.Manager.UpdateState(callID, callmgr.StateConnected, nil) {
		return
	}
	session, ok := b.Manager.Get(callID)
	if !ok || b.AI == nil {
		return
	}
	info := aibridge.CallInfo{
		ConversationID: callID,
		FromNumber:     session.FromNumber,
		ToNumber:       session.ToNumber,
		Direction:      string(session.Direction),
		SIPHeaders:     session.SIPHeaders,
		Codec:          session.Codec,
		SampleRate:     b.cfg.AIRate,
	}
	go func() {
		if err := b.AI.ConnectForCall(context.Background(), callID, info); err != nil {
			b.logger.Warn("ai bridge connect failed", "call_id", callID, "error", errors.Wrap(err, "connect ai bridge"))
			return
		}
		if b.Metrics != nil {
			b.Metrics.AIConnectionsActive.Inc()
		}
	}()
}

func (b *Bridge) startHoldMusic(callID string) {
	if b.MoH == nil {
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
	if err := b.MoH.Start(callID, b.cfg.HoldSource, sink); err != nil {
		b.logger.Warn("hold music start failed", "call_id", callID, "error", errors.Wrap(err, "start hold music"))
	}
}

// OnAIAudio implements aibridge.Handlers.OnAudio: it resamples the AI
// backend's PCM down to telephony rate and transmits it as RTP.
func (b *Bridge) OnAIAudio(callID string, payload aibridge.AudioDataPayload) {
	cm, ok := b.get(callID)
	if !ok {
		return
	}
	cm.writeAIAudio(b, payload.Audio)
}
