package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv(envJWTSecret, "jwt-test-secret")
	t.Setenv(envHMACSecret, "hmac-test-secret")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, `
network:
  ai_platform_url: "wss://ai.example.com/bridge"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "wss://ai.example.com/bridge", cfg.Network.AIPlatformURL)
	require.Equal(t, defaultSIPListenAddr, cfg.Network.SIPListenAddr)
	require.Equal(t, "udp", cfg.Network.SIPTransport)
	require.Equal(t, defaultRTPPortMin, cfg.Network.RTPPortMin)
	require.Equal(t, defaultRTPPortMax, cfg.Network.RTPPortMax)
	require.Equal(t, 8000, cfg.Audio.SampleRate)
	require.Equal(t, 20, cfg.Audio.FrameMs)
	require.Equal(t, 16000, cfg.Audio.AISampleRate)
	require.Equal(t, 5*time.Second, cfg.Timings.DTMFSequenceTimeout)
	require.Equal(t, 300*time.Second, cfg.Timings.IVRSessionTimeout)
	require.Equal(t, 24*time.Hour, cfg.Timings.SMSExpiry)
	require.Equal(t, 300*time.Second, cfg.Timings.SMSRetryInterval)
	require.Equal(t, 30*time.Second, cfg.Timings.AIHeartbeat)
	require.Equal(t, 5, cfg.Timings.AIMaxRetries)
	require.Equal(t, "jwt-test-secret", cfg.Security.JWTSecret)
	require.Equal(t, "hmac-test-secret", cfg.Security.HMACSecret)
}

func TestLoadOverridesDefaults(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, `
network:
  sip_listen_addr: "0.0.0.0:5080"
  sip_transport: "TCP"
  ai_platform_url: "wss://ai.example.com/bridge"
  rtp_port_range: [30000, 30100]
audio:
  sample_rate: 16000
  frame_ms: 10
  ai_sample_rate: 24000
limits:
  max_concurrent_calls: 10
timings:
  dtmf_sequence_timeout_s: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:5080", cfg.Network.SIPListenAddr)
	require.Equal(t, "tcp", cfg.Network.SIPTransport)
	require.Equal(t, 30000, cfg.Network.RTPPortMin)
	require.Equal(t, 30100, cfg.Network.RTPPortMax)
	require.Equal(t, 16000, cfg.Audio.SampleRate)
	require.Equal(t, 10, cfg.Audio.FrameMs)
	require.Equal(t, 24000, cfg.Audio.AISampleRate)
	require.Equal(t, 10, cfg.Limits.MaxConcurrentCalls)
	require.Equal(t, 8*time.Second, cfg.Timings.DTMFSequenceTimeout)
}

func TestLoadRequiresAIPlatformURL(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, "network:\n  sip_listen_addr: \"0.0.0.0:5060\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRequiresSecretsFromEnvironment(t *testing.T) {
	path := writeConfig(t, `
network:
  ai_platform_url: "wss://ai.example.com/bridge"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvalidTransport(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, `
network:
  ai_platform_url: "wss://ai.example.com/bridge"
  sip_transport: "sctp"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMalformedPortRange(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, `
network:
  ai_platform_url: "wss://ai.example.com/bridge"
  rtp_port_range: [30000]
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	setSecrets(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
