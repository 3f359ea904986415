package aibridge

import (
	"context"
	"log/slog"
	"sync"
)

// Manager tracks one Connection per active call.
type Manager struct {
	cfg    Config
	auth   *Authenticator
	h      Handlers
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewManager creates a Manager. Handlers are shared across every
// connection it opens.
func NewManager(cfg Config, auth *Authenticator, h Handlers, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, auth: auth, h: h, logger: logger, conns: make(map[string]*Connection)}
}

// ConnectForCall opens and authenticates a new Connection for callID,
// replacing any existing one.
func (m *Manager) ConnectForCall(ctx context.Context, callID string, call CallInfo) error {
	conn := NewConnection(m.cfg, callID, m.auth, call, m.h, m.logger)
	if err := conn.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if existing, ok := m.conns[callID]; ok {
		existing.Close()
	}
	m.conns[callID] = conn
	m.mu.Unlock()
	return nil
}

// SendAudio forwards a PCM frame for an active call.
func (m *Manager) SendAudio(callID, audioB64 string, timestamp int64) error {
	conn, ok := m.get(callID)
	if !ok {
		return nil
	}
	return conn.SendAudio(audioB64, timestamp)
}

// SendDTMF forwards a detected digit for an active call.
func (m *Manager) SendDTMF(callID string, p DTMFPayload) error {
	conn, ok := m.get(callID)
	if !ok {
		return nil
	}
	return conn.SendDTMF(p)
}

// SendDTMFSequence forwards a completed pattern match for an active call.
func (m *Manager) SendDTMFSequence(callID string, p DTMFSequencePayload) error {
	conn, ok := m.get(callID)
	if !ok {
		return nil
	}
	return conn.SendDTMFSequence(p)
}

// Disconnect closes and forgets callID's connection, if any.
func (m *Manager) Disconnect(callID string) {
	m.mu.Lock()
	conn, ok := m.conns[callID]
	delete(m.conns, callID)
	m.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// Active reports whether callID has an open connection.
func (m *Manager) Active(callID string) bool {
	_, ok := m.get(callID)
	return ok
}

func (m *Manager) get(callID string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[callID]
	return conn, ok
}
