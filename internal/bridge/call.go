package bridge

import (
	"encoding/base64"
	"encoding/binary"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/Olib-AI/voicebridge/internal/codec"
	"github.com/Olib-AI/voicebridge/internal/dtmf"
	"github.com/Olib-AI/voicebridge/internal/jitter"
	"github.com/Olib-AI/voicebridge/internal/resample"
	"github.com/Olib-AI/voicebridge/internal/rtpsession"
)

// callMedia is one call's media pipeline: an RTP endpoint feeding a
// jitter buffer, DTMF decoders running on the packets the jitter buffer
// would otherwise drain, and resamplers bridging telephony-rate RTP audio
// to the AI backend's sample rate in both directions.
type callMedia struct {
	callID     string
	localPort  int
	codecName  codec.Name
	dtmfPT     int // -1 when the offer carried no telephone-event payload type
	frameBytes int // telephony-rate PCM bytes per FrameMs

	rtp      *rtpsession.Session
	jitterBuf *jitter.Buffer
	rfc2833  *dtmf.RFC2833Decoder
	inband   *dtmf.InbandDetector
	debounce *dtmf.Debouncer

	mu     sync.Mutex
	toAI   *resample.StreamingResampler
	fromAI *resample.StreamingResampler

	lastDropped uint64 // last jitterBuf.Stats().Dropped observed, for delta reporting

	stopCh chan struct{}
	once   sync.Once
}

func newCallMedia(cfg Config, callID string, localPort int, remoteHost string, remotePort int, codecName, dtmfPT string, logger *slog.Logger) (*callMedia, error) {
	name := codec.Name(codecName)
	pt := rtpsession.PayloadTypeForCodec(name)
	samplesPerPacket := uint32(cfg.TelephonyRate / 1000 * cfg.FrameMs)

	session, err := rtpsession.New(rtpsession.Config{
		LocalPort:        localPort,
		RemoteHost:       remoteHost,
		RemotePort:       remotePort,
		PayloadType:      pt,
		SamplesPerPacket: samplesPerPacket,
	}, logger)
	if err != nil {
		return nil, err
	}

	dtmfPTVal := -1
	if dtmfPT != "" {
		if v, err := strconv.Atoi(dtmfPT); err == nil {
			dtmfPTVal = v
		}
	}

	frameBytes := cfg.TelephonyRate / 1000 * cfg.FrameMs * 2 // PCM16 mono
	aiFrameBytes := cfg.AIRate / 1000 * cfg.FrameMs * 2

	cm := &callMedia{
		callID:     callID,
		localPort:  localPort,
		codecName:  name,
		dtmfPT:     dtmfPTVal,
		frameBytes: frameBytes,
		rtp:        session,
		jitterBuf: jitter.New(jitter.Config{
			MaxSize:       cfg.JitterMaxSize,
			TargetDelayMs: cfg.JitterTargetDelay.Milliseconds(),
		}),
		rfc2833:  dtmf.NewRFC2833Decoder(callID),
		inband:   dtmf.NewInbandDetector(callID, cfg.TelephonyRate),
		debounce: dtmf.NewDebouncer(),
		toAI:     resample.NewStreamingResampler(cfg.TelephonyRate, cfg.AIRate, aiFrameBytes),
		fromAI:   resample.NewStreamingResampler(cfg.AIRate, cfg.TelephonyRate, frameBytes),
		stopCh:   make(chan struct{}),
	}
	return cm, nil
}

// start wires the RTP receive callback and launches the per-call drain
// loop that turns played-out jitter buffer packets into AI audio frames.
func (cm *callMedia) start(b *Bridge) {
	cm.rtp.OnReceive(func(header *rtp.Header, payload []byte) {
		cm.onRTPPacket(b, header, payload)
	})
	cm.rtp.Start()
	go cm.drainLoop(b)
}

func (cm *callMedia) onRTPPacket(b *Bridge, header *rtp.Header, payload []byte) {
	if b.Metrics != nil {
		b.Metrics.RTPPacketsTotal.WithLabelValues("inbound").Inc()
	}
	// The receive loop's rtp.Packet.Unmarshal has already removed any RTP
	// padding, so the payload is used as delivered.
	stripped := payload
	if cm.dtmfPT >= 0 && int(header.PayloadType) == cm.dtmfPT {
		if ev, ok := cm.rfc2833.Decode(stripped); ok {
			if b.Metrics != nil {
				b.Metrics.DTMFEventsTotal.WithLabelValues(string(dtmf.MethodRFC2833)).Inc()
			}
			b.handleDTMFEvent(ev)
		}
		return
	}
	cm.jitterBuf.Insert(jitter.Packet{
		Sequence:  header.SequenceNumber,
		Timestamp: header.Timestamp,
		Payload:   stripped,
	})
	if b.Metrics != nil {
		if stats := cm.jitterBuf.Stats(); stats.Dropped > cm.lastDropped {
			b.Metrics.JitterBufferDrops.Add(float64(stats.Dropped - cm.lastDropped))
			cm.lastDropped = stats.Dropped
		}
	}
}

func (cm *callMedia) drainLoop(b *Bridge) {
	ticker := time.NewTicker(time.Duration(b.cfg.FrameMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-cm.stopCh:
			return
		case <-ticker.C:
			cm.drainOnce(b)
		}
	}
}

func (cm *callMedia) drainOnce(b *Bridge) {
	pkt, ok := cm.jitterBuf.Drain()
	if !ok {
		return
	}
	pcm := codec.Convert(pkt.Payload, cm.codecName, codec.PCM)

	if ev, ok := cm.inband.ProcessFrame(bytesToInt16(pcm)); ok {
		if b.Metrics != nil {
			b.Metrics.DTMFEventsTotal.WithLabelValues(string(dtmf.MethodInband)).Inc()
		}
		b.handleDTMFEvent(ev)
	}

	cm.mu.Lock()
	frames := cm.toAI.Push(pcm)
	cm.mu.Unlock()
	if b.AI == nil {
		return
	}
	now := time.Now().UnixMilli()
	for _, frame := range frames {
		audio := base64.StdEncoding.EncodeToString(frame)
		_ = b.AI.SendAudio(cm.callID, audio, now)
		if b.Metrics != nil {
			b.Metrics.AIFramesTotal.WithLabelValues("audio_data", "outbound").Inc()
		}
	}
}

// writeAIAudio decodes one base64 PCM frame from the AI backend,
// resamples it to telephony rate, encodes it to the call's RTP codec,
// and transmits it.
func (cm *callMedia) writeAIAudio(b *Bridge, audioB64 string) {
	raw, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		return
	}
	if b.Metrics != nil {
		b.Metrics.AIFramesTotal.WithLabelValues("audio_data", "inbound").Inc()
	}
	cm.mu.Lock()
	frames := cm.fromAI.Push(raw)
	cm.mu.Unlock()
	for _, frame := range frames {
		enc := codec.Convert(frame, codec.PCM, cm.codecName)
		cm.rtp.Send(enc)
		if b.Metrics != nil {
			b.Metrics.RTPPacketsTotal.WithLabelValues("outbound").Inc()
		}
	}
}

func (cm *callMedia) stop() {
	cm.once.Do(func() { close(cm.stopCh) })
	cm.rtp.Stop()
}

func bytesToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return out
}
