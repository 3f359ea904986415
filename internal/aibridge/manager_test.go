package aibridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainingServer(t *testing.T) *httptest.Server {
	return newEchoServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		var env Envelope
		for {
			if conn.ReadJSON(&env) != nil {
				return
			}
		}
	})
}

func TestConnectForCallReplacesExisting(t *testing.T) {
	srv := drainingServer(t)
	auth := NewAuthenticator([]byte("s1"), []byte("s2"), "inst")
	m := NewManager(Config{URL: wsURL(srv), HeartbeatInterval: time.Hour}, auth, Handlers{}, nil)

	require.NoError(t, m.ConnectForCall(context.Background(), "call-1", CallInfo{}))
	first, _ := m.get("call-1")
	require.NotNil(t, first)

	require.NoError(t, m.ConnectForCall(context.Background(), "call-1", CallInfo{}))
	second, _ := m.get("call-1")
	require.NotNil(t, second)
	assert.NotSame(t, first, second)

	m.Disconnect("call-1")
	assert.False(t, m.Active("call-1"))
}

func TestManagerActiveAndDisconnect(t *testing.T) {
	srv := drainingServer(t)
	auth := NewAuthenticator([]byte("s1"), []byte("s2"), "inst")
	m := NewManager(Config{URL: wsURL(srv), HeartbeatInterval: time.Hour}, auth, Handlers{}, nil)

	assert.False(t, m.Active("call-9"))

	require.NoError(t, m.ConnectForCall(context.Background(), "call-9", CallInfo{}))
	assert.True(t, m.Active("call-9"))

	m.Disconnect("call-9")
	assert.False(t, m.Active("call-9"))
}

func TestManagerSendAudioAndDTMFNoopWhenInactive(t *testing.T) {
	auth := NewAuthenticator([]byte("s1"), []byte("s2"), "inst")
	m := NewManager(Config{URL: "ws://unused"}, auth, Handlers{}, nil)

	assert.NoError(t, m.SendAudio("ghost", "AAAA", 1))
	assert.NoError(t, m.SendDTMF("ghost", DTMFPayload{Digit: "1"}))
}

func TestManagerConnectFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	auth := NewAuthenticator([]byte("s1"), []byte("s2"), "inst")
	m := NewManager(Config{URL: wsURL(srv), MaxRetries: 0, HeartbeatInterval: time.Hour}, auth, Handlers{}, nil)

	err := m.ConnectForCall(context.Background(), "call-err", CallInfo{})
	assert.Error(t, err)
	assert.False(t, m.Active("call-err"))
}
