// Package rtpsession implements one UDP-bound RTP endpoint per call: a
// receive loop handing payloads to a jitter buffer, and a send path that
// packs headers with a monotonically increasing sequence/timestamp and a
// session-fixed SSRC.
package rtpsession

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pkg/errors"

	"github.com/Olib-AI/voicebridge/internal/codec"
)

// PayloadTypeForCodec maps codec names to their RFC 3551 static payload
// type: PCMA 8, G722 9, G729 18, and 0 for PCMU or any other name. G722
// and G729 are recognized on the wire even though the transcode set only
// covers PCM/PCMU/PCMA.
func PayloadTypeForCodec(name codec.Name) uint8 {
	switch name {
	case codec.PCMA:
		return 8
	case "G722":
		return 9
	case "G729":
		return 18
	default:
		return 0 // PCMU, and the fallback default
	}
}

// Config configures a Session.
type Config struct {
	LocalPort   int
	RemoteHost  string
	RemotePort  int
	PayloadType uint8
	// SamplesPerPacket is added to the RTP timestamp on every Send,
	// matching the payload's sample count (e.g. 160 at 8kHz/20ms).
	SamplesPerPacket uint32
}

// ReceiveFunc is invoked with each parsed payload as packets arrive,
// already stripped of RTP padding.
type ReceiveFunc func(header *rtp.Header, payload []byte)

// Session is one per-call RTP endpoint.
type Session struct {
	cfg    Config
	conn   *net.UDPConn
	remote *net.UDPAddr
	logger *slog.Logger

	ssrc uint32
	seq  uint32 // stored as uint32, truncated to uint16 on use, for atomic ops
	ts   uint32

	onReceive ReceiveFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	sendErrors      atomic.Uint64
	recvErrors      atomic.Uint64
}

// New binds a UDP socket on cfg.LocalPort and prepares the session. The
// socket is not read until Start is called.
func New(cfg Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.LocalPort})
	if err != nil {
		return nil, fmt.Errorf("rtpsession: listen on port %d: %w", cfg.LocalPort, err)
	}
	tuneSocket(conn)

	var remote *net.UDPAddr
	if cfg.RemoteHost != "" {
		remote, err = net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.RemoteHost, cfg.RemotePort))
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("rtpsession: resolve remote %s:%d: %w", cfg.RemoteHost, cfg.RemotePort, err)
		}
	}

	return &Session{
		cfg:    cfg,
		conn:   conn,
		remote: remote,
		logger: logger,
		ssrc:   randomSSRC(),
		stopCh: make(chan struct{}),
	}, nil
}

func randomSSRC() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// SetRemote updates the destination for outbound packets, e.g. once
// late-arriving SDP/signaling supplies it.
func (s *Session) SetRemote(host string, port int) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("rtpsession: resolve remote %s:%d: %w", host, port, err)
	}
	s.remote = addr
	return nil
}

// OnReceive registers the callback invoked for every inbound packet.
func (s *Session) OnReceive(fn ReceiveFunc) {
	s.onReceive = fn
}

// LocalPort returns the bound UDP port.
func (s *Session) LocalPort() int {
	return s.cfg.LocalPort
}

// SSRC returns this session's synchronization source identifier.
func (s *Session) SSRC() uint32 {
	return s.ssrc
}

// Start launches the receive loop in the background. On socket error the
// loop terminates cleanly; the error is logged and counted, never
// propagated across the goroutine boundary.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.recvLoop()
}

func (s *Session) recvLoop() {
	defer s.wg.Done()
	buf := make([]byte, 1500)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.recvErrors.Add(1)
			s.logger.Debug("rtp recv loop terminating", "error", errors.Wrap(err, "read udp"), "local_port", s.cfg.LocalPort)
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.recvErrors.Add(1)
			s.logger.Debug("dropping unparseable rtp packet", "error", errors.Wrap(err, "unmarshal rtp packet"))
			continue
		}
		s.packetsReceived.Add(1)
		if s.onReceive != nil {
			s.onReceive(&pkt.Header, pkt.Payload)
		}
	}
}

// Send packs and transmits one RTP packet carrying payload. The sequence
// number increments (and wraps) on every call; the timestamp advances by
// SamplesPerPacket. Send errors drop the packet and are logged/counted,
// never returned to a caller expecting best-effort media delivery (spec
// §4.3/§7); callers that need to know about a dead remote should watch
// Stats().SendErrors instead.
func (s *Session) Send(payload []byte) {
	if s.remote == nil {
		return
	}
	seq := uint16(atomic.AddUint32(&s.seq, 1) - 1)
	ts := atomic.AddUint32(&s.ts, s.cfg.SamplesPerPacket) - s.cfg.SamplesPerPacket

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         seq == 0,
			PayloadType:    s.cfg.PayloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}

	buf, err := pkt.Marshal()
	if err != nil {
		s.sendErrors.Add(1)
		s.logger.Warn("failed to marshal rtp packet", "error", errors.Wrap(err, "marshal rtp packet"))
		return
	}
	if _, err := s.conn.WriteToUDP(buf, s.remote); err != nil {
		s.sendErrors.Add(1)
		s.logger.Warn("failed to send rtp packet, dropping", "error", errors.Wrap(err, "write udp"), "remote", s.remote)
		return
	}
	s.packetsSent.Add(1)
}

// Stop signals the receive loop to exit and waits for it, then closes the
// socket. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	_ = s.conn.Close()
}

// Stats are cumulative counters for observability.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	SendErrors      uint64
	RecvErrors      uint64
}

func (s *Session) Stats() Stats {
	return Stats{
		PacketsSent:     s.packetsSent.Load(),
		PacketsReceived: s.packetsReceived.Load(),
		SendErrors:      s.sendErrors.Load(),
		RecvErrors:      s.recvErrors.Load(),
	}
}

// StripPadding removes RTP padding bytes per the last-byte length when the
// packet's padding flag is set. pion/rtp already does this during
// Unmarshal; this helper exists for callers handling raw bytes relayed
// through the signaling adapter's own rtp_packet event instead of a
// direct UDP socket.
func StripPadding(header *rtp.Header, payload []byte) []byte {
	if !header.Padding || len(payload) == 0 {
		return payload
	}
	padLen := int(payload[len(payload)-1])
	if padLen <= 0 || padLen > len(payload) {
		return payload
	}
	return payload[:len(payload)-padLen]
}
