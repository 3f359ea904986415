// Package aibridge maintains one outbound WebSocket connection per call
// to the conversational AI backend: an authenticated handshake, JSON
// audio/control framing, a 30s heartbeat, and exponential-backoff
// reconnection.
package aibridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// DefaultMaxRetries bounds the exponential-backoff reconnect loop.
const DefaultMaxRetries = 5

// DefaultHeartbeatInterval is how often a ping frame is sent once
// connected.
const DefaultHeartbeatInterval = 30 * time.Second

// writeTimeout bounds how long a single frame write may stall.
const writeTimeout = 10 * time.Second

// Handlers dispatches inbound frames by type to the Call Manager. Each
// field is optional; a nil handler silently drops that frame type.
type Handlers struct {
	OnAudio    func(callID string, audio AudioDataPayload)
	OnHangup   func(callID string)
	OnTransfer func(callID, target string)
	OnHold     func(callID string)
	OnResume   func(callID string)
	OnDTMFSend func(callID, digits string)
	OnStatus   func(callID string, data json.RawMessage)
	OnError    func(callID string, data json.RawMessage)
}

// Config configures a Connection.
type Config struct {
	URL               string
	MaxRetries        int
	HeartbeatInterval time.Duration
}

// Connection is one call's WebSocket session with the AI backend.
type Connection struct {
	cfg    Config
	callID string
	auth   *Authenticator
	call   CallInfo
	logger *slog.Logger
	h      Handlers

	mu       sync.Mutex
	conn     *websocket.Conn
	seq      uint32
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// writeMu serializes every WriteJSON call on conn. gorilla/websocket
	// panics on concurrent writers, and the per-call send path and
	// heartbeatLoop write from separate goroutines; kept distinct from mu
	// so a stalled write never blocks a state read.
	writeMu sync.Mutex

	missedHeartbeats int
}

// NewConnection creates a Connection for one call. It does not dial;
// call Connect to perform the handshake.
func NewConnection(cfg Config, callID string, auth *Authenticator, call CallInfo, h Handlers, logger *slog.Logger) *Connection {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		cfg:    cfg,
		callID: callID,
		auth:   auth,
		call:   call,
		logger: logger,
		h:      h,
		stopCh: make(chan struct{}),
	}
}

// Connect dials the backend and performs the auth handshake, retrying
// with exponential backoff (2^attempt seconds) up to cfg.MaxRetries.
func (c *Connection) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			lastErr = err
			c.logger.Warn("ai bridge connect failed", "call_id", c.callID, "attempt", attempt, "error", errors.Wrap(err, "dial ai backend"))
			continue
		}

		authPayload, err := c.auth.Build(c.callID)
		if err != nil {
			conn.Close()
			return fmt.Errorf("aibridge: build auth payload: %w", err)
		}
		call := c.call
		envelope := Envelope{Type: FrameAuth, Auth: &authPayload, Call: &call}
		c.writeMu.Lock()
		err = conn.WriteJSON(envelope)
		c.writeMu.Unlock()
		if err != nil {
			conn.Close()
			lastErr = err
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		c.wg.Add(2)
		go c.readLoop()
		go c.heartbeatLoop()
		return nil
	}
	return fmt.Errorf("aibridge: connect to %q failed after %d attempts: %w", c.cfg.URL, c.cfg.MaxRetries+1, lastErr)
}

// SendAudio forwards one base64-encoded PCM frame, tagging it with a
// per-connection monotonically increasing sequence number.
func (c *Connection) SendAudio(audio string, timestamp int64) error {
	c.mu.Lock()
	conn := c.conn
	c.seq++
	seq := c.seq
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("aibridge: call %s not connected", c.callID)
	}

	payload := AudioDataPayload{CallID: c.callID, Audio: audio, Timestamp: timestamp, Sequence: seq}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.writeEnvelope(Envelope{Type: FrameAudioData, Data: raw})
}

// SendDTMF forwards a detected digit.
func (c *Connection) SendDTMF(p DTMFPayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.writeEnvelope(Envelope{Type: FrameDTMF, Data: raw})
}

// SendDTMFSequence forwards a completed pattern match on the call's
// accumulated digit sequence, alongside the individual SendDTMF frames
// already sent for each digit.
func (c *Connection) SendDTMFSequence(p DTMFSequencePayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.writeEnvelope(Envelope{Type: FrameDTMFSequence, Data: raw})
}

func (c *Connection) writeEnvelope(e Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("aibridge: call %s not connected", c.callID)
	}
	// No outbound queue: a write that stalls the socket past writeTimeout
	// fails this call's frame rather than buffering unboundedly.
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(e)
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("ai bridge read error", "call_id", c.callID, "error", errors.Wrap(err, "read ai bridge frame"))
			}
			c.handleDisconnect()
			return
		}
		c.dispatch(env)
	}
}

// handleDisconnect notifies the Call Manager when the socket drops on
// its own, as opposed to the call being torn down locally via shutdown
// (which already closed stopCh and doesn't need a second notification).
func (c *Connection) handleDisconnect() {
	select {
	case <-c.stopCh:
		return
	default:
	}
	c.shutdown()
	if c.h.OnHangup != nil {
		c.h.OnHangup(c.callID)
	}
}

func (c *Connection) dispatch(env Envelope) {
	switch env.Type {
	case FrameAudioData:
		if c.h.OnAudio == nil {
			return
		}
		var p AudioDataPayload
		if err := json.Unmarshal(env.Data, &p); err == nil {
			c.h.OnAudio(c.callID, p)
		}
	case FrameHangup:
		if c.h.OnHangup != nil {
			c.h.OnHangup(c.callID)
		}
	case FrameTransfer:
		if c.h.OnTransfer == nil {
			return
		}
		var p ControlPayload
		if err := json.Unmarshal(env.Data, &p); err == nil {
			c.h.OnTransfer(c.callID, p.Target)
		}
	case FrameHold:
		if c.h.OnHold != nil {
			c.h.OnHold(c.callID)
		}
	case FrameResume:
		if c.h.OnResume != nil {
			c.h.OnResume(c.callID)
		}
	case FrameDTMFSend:
		if c.h.OnDTMFSend == nil {
			return
		}
		var p ControlPayload
		if err := json.Unmarshal(env.Data, &p); err == nil {
			c.h.OnDTMFSend(c.callID, p.Digits)
		}
	case FrameHeartbeat:
		c.mu.Lock()
		c.missedHeartbeats = 0
		c.mu.Unlock()
	case FrameStatus:
		if c.h.OnStatus != nil {
			c.h.OnStatus(c.callID, env.Data)
		}
	case FrameError:
		if c.h.OnError != nil {
			c.h.OnError(c.callID, env.Data)
		}
	}
}

func (c *Connection) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.writeEnvelope(Envelope{Type: FrameHeartbeat}); err != nil {
				if c.recordMissedHeartbeat() {
					return
				}
				continue
			}
			c.mu.Lock()
			c.missedHeartbeats = 0
			c.mu.Unlock()
		}
	}
}

// recordMissedHeartbeat counts a failed heartbeat send and, once two
// consecutive failures have accumulated, forces the call to clean up.
// It returns true when the loop should stop.
func (c *Connection) recordMissedHeartbeat() bool {
	c.mu.Lock()
	c.missedHeartbeats++
	missed := c.missedHeartbeats
	c.mu.Unlock()
	if missed < 2 {
		return false
	}
	c.logger.Warn("ai bridge heartbeat failed twice, forcing cleanup", "call_id", c.callID)
	if c.h.OnHangup != nil {
		c.h.OnHangup(c.callID)
	}
	c.shutdown()
	return true
}

// shutdown sends a call_end control frame and closes the socket, without
// waiting for the read/heartbeat goroutines to exit. Safe to call from
// within those goroutines themselves.
func (c *Connection) shutdown() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteJSON(Envelope{Type: FrameCallEnd})
			c.writeMu.Unlock()
			conn.Close()
		}
	})
}

// Close sends a call_end control frame, closes the socket, and waits for
// the read and heartbeat goroutines to exit. Call from outside the
// Connection's own goroutines (e.g. the owning Call Manager).
func (c *Connection) Close() {
	c.shutdown()
	c.wg.Wait()
}
