// Package config loads the daemon's typed configuration from a YAML file,
// following the process surface named in this bridge's external
// interfaces: network endpoints, audio rates, admission/rate limits,
// sweep/retry timings, and the two AI bridge credentials. The two
// Security fields are never read from YAML; they come from environment
// variables only, so a checked-in sample config never carries a secret.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultSIPListenAddr  = "0.0.0.0:5060"
	defaultSIPTransport   = "udp"
	defaultSampleRate     = 8000
	defaultAISampleRate   = 16000
	defaultFrameMs        = 20
	defaultRTPPortMin     = 10000
	defaultRTPPortMax     = 20000
	defaultMaxConcurrent  = 500
	defaultMaxPerNumber   = 5
	defaultMaxQueueSize   = 200
	defaultSMSQueueMax    = 1000
	defaultSMSGlobalRate  = 600
	defaultSMSPerNumRate  = 10
	defaultDTMFTimeoutS   = 5
	defaultIVRTimeoutS    = 300
	defaultSMSExpiryH     = 24
	defaultSMSRetryS      = 300
	defaultAIHeartbeatS   = 30
	defaultAIMaxRetries   = 5
	defaultInstanceID     = "voicebridge"
	envJWTSecret          = "VOICEBRIDGE_JWT_SECRET"
	envHMACSecret         = "VOICEBRIDGE_HMAC_SECRET"
)

// Network is the daemon's listening endpoints and the AI backend target.
type Network struct {
	SIPListenAddr string
	SIPTransport  string
	PublicRTPIP   string
	AIPlatformURL string
	RTPPortMin    int
	RTPPortMax    int
	MetricsAddr   string
}

// Audio is the sample rates and frame size every media component shares.
type Audio struct {
	SampleRate   int
	FrameMs      int
	AISampleRate int
}

// Limits bounds admission and SMS throughput.
type Limits struct {
	MaxConcurrentCalls     int
	MaxCallsPerNumber      int
	MaxQueueSize           int
	SMSQueueMax            int
	SMSGlobalRatePerMin    int
	SMSPerNumberRatePerMin int
}

// Timings is every sweep/retry/expiry interval in the system.
type Timings struct {
	DTMFSequenceTimeout time.Duration
	IVRSessionTimeout   time.Duration
	SMSExpiry           time.Duration
	SMSRetryInterval    time.Duration
	AIHeartbeat         time.Duration
	AIMaxRetries        int
}

// Security holds the AI bridge's two auth credentials. Both are populated
// exclusively from environment variables; see envJWTSecret/envHMACSecret.
type Security struct {
	JWTSecret  string
	HMACSecret string
	InstanceID string
}

// Config is the fully resolved, defaulted process surface.
type Config struct {
	Network  Network
	Audio    Audio
	Limits   Limits
	Timings  Timings
	Security Security
}

type yamlConfig struct {
	Network struct {
		SIPListenAddr string `yaml:"sip_listen_addr"`
		SIPTransport  string `yaml:"sip_transport"`
		PublicRTPIP   string `yaml:"public_rtp_ip"`
		AIPlatformURL string `yaml:"ai_platform_url"`
		RTPPortRange  []int  `yaml:"rtp_port_range"`
		MetricsAddr   string `yaml:"metrics_addr"`
	} `yaml:"network"`
	Audio struct {
		SampleRate   int `yaml:"sample_rate"`
		FrameMs      int `yaml:"frame_ms"`
		AISampleRate int `yaml:"ai_sample_rate"`
	} `yaml:"audio"`
	Limits struct {
		MaxConcurrentCalls     int `yaml:"max_concurrent_calls"`
		MaxCallsPerNumber      int `yaml:"max_calls_per_number"`
		MaxQueueSize           int `yaml:"max_queue_size"`
		SMSQueueMax            int `yaml:"sms_queue_max"`
		SMSGlobalRatePerMin    int `yaml:"sms_global_rate_per_min"`
		SMSPerNumberRatePerMin int `yaml:"sms_per_number_rate_per_min"`
	} `yaml:"limits"`
	Timings struct {
		DTMFSequenceTimeoutS int `yaml:"dtmf_sequence_timeout_s"`
		IVRSessionTimeoutS   int `yaml:"ivr_session_timeout_s"`
		SMSExpiryH           int `yaml:"sms_expiry_h"`
		SMSRetryIntervalS    int `yaml:"sms_retry_interval_s"`
		AIHeartbeatS         int `yaml:"ai_heartbeat_s"`
		AIMaxRetries         int `yaml:"ai_max_retries"`
	} `yaml:"timings"`
	Security struct {
		InstanceID string `yaml:"instance_id"`
	} `yaml:"security"`
}

// Load reads path, applies defaults, and overlays the two secret fields
// from the environment.
func Load(path string) (Config, error) {
	cfg := Config{
		Network: Network{
			SIPListenAddr: defaultSIPListenAddr,
			SIPTransport:  defaultSIPTransport,
			RTPPortMin:    defaultRTPPortMin,
			RTPPortMax:    defaultRTPPortMax,
		},
		Audio: Audio{
			SampleRate:   defaultSampleRate,
			FrameMs:      defaultFrameMs,
			AISampleRate: defaultAISampleRate,
		},
		Limits: Limits{
			MaxConcurrentCalls:     defaultMaxConcurrent,
			MaxCallsPerNumber:      defaultMaxPerNumber,
			MaxQueueSize:           defaultMaxQueueSize,
			SMSQueueMax:            defaultSMSQueueMax,
			SMSGlobalRatePerMin:    defaultSMSGlobalRate,
			SMSPerNumberRatePerMin: defaultSMSPerNumRate,
		},
		Timings: Timings{
			DTMFSequenceTimeout: defaultDTMFTimeoutS * time.Second,
			IVRSessionTimeout:   defaultIVRTimeoutS * time.Second,
			SMSExpiry:           defaultSMSExpiryH * time.Hour,
			SMSRetryInterval:    defaultSMSRetryS * time.Second,
			AIHeartbeat:         defaultAIHeartbeatS * time.Second,
			AIMaxRetries:        defaultAIMaxRetries,
		},
		Security: Security{InstanceID: defaultInstanceID},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if yc.Network.AIPlatformURL == "" {
		return Config{}, errors.New("config: network.ai_platform_url is required")
	}
	cfg.Network.AIPlatformURL = yc.Network.AIPlatformURL
	if yc.Network.SIPListenAddr != "" {
		cfg.Network.SIPListenAddr = yc.Network.SIPListenAddr
	}
	if yc.Network.SIPTransport != "" {
		cfg.Network.SIPTransport = strings.ToLower(yc.Network.SIPTransport)
	}
	if cfg.Network.SIPTransport != "udp" && cfg.Network.SIPTransport != "tcp" {
		return Config{}, fmt.Errorf("config: network.sip_transport must be 'udp' or 'tcp', got %q", cfg.Network.SIPTransport)
	}
	cfg.Network.PublicRTPIP = yc.Network.PublicRTPIP
	cfg.Network.MetricsAddr = yc.Network.MetricsAddr
	if len(yc.Network.RTPPortRange) == 2 {
		cfg.Network.RTPPortMin, cfg.Network.RTPPortMax = yc.Network.RTPPortRange[0], yc.Network.RTPPortRange[1]
	} else if len(yc.Network.RTPPortRange) != 0 {
		return Config{}, fmt.Errorf("config: network.rtp_port_range must have exactly 2 entries, got %d", len(yc.Network.RTPPortRange))
	}
	if cfg.Network.RTPPortMin <= 0 || cfg.Network.RTPPortMax <= cfg.Network.RTPPortMin {
		return Config{}, fmt.Errorf("config: invalid rtp_port_range %d-%d", cfg.Network.RTPPortMin, cfg.Network.RTPPortMax)
	}

	if yc.Audio.SampleRate > 0 {
		cfg.Audio.SampleRate = yc.Audio.SampleRate
	}
	if yc.Audio.FrameMs > 0 {
		cfg.Audio.FrameMs = yc.Audio.FrameMs
	}
	if yc.Audio.AISampleRate > 0 {
		cfg.Audio.AISampleRate = yc.Audio.AISampleRate
	}

	if yc.Limits.MaxConcurrentCalls > 0 {
		cfg.Limits.MaxConcurrentCalls = yc.Limits.MaxConcurrentCalls
	}
	if yc.Limits.MaxCallsPerNumber > 0 {
		cfg.Limits.MaxCallsPerNumber = yc.Limits.MaxCallsPerNumber
	}
	if yc.Limits.MaxQueueSize > 0 {
		cfg.Limits.MaxQueueSize = yc.Limits.MaxQueueSize
	}
	if yc.Limits.SMSQueueMax > 0 {
		cfg.Limits.SMSQueueMax = yc.Limits.SMSQueueMax
	}
	if yc.Limits.SMSGlobalRatePerMin > 0 {
		cfg.Limits.SMSGlobalRatePerMin = yc.Limits.SMSGlobalRatePerMin
	}
	if yc.Limits.SMSPerNumberRatePerMin > 0 {
		cfg.Limits.SMSPerNumberRatePerMin = yc.Limits.SMSPerNumberRatePerMin
	}

	if yc.Timings.DTMFSequenceTimeoutS > 0 {
		cfg.Timings.DTMFSequenceTimeout = time.Duration(yc.Timings.DTMFSequenceTimeoutS) * time.Second
	}
	if yc.Timings.IVRSessionTimeoutS > 0 {
		cfg.Timings.IVRSessionTimeout = time.Duration(yc.Timings.IVRSessionTimeoutS) * time.Second
	}
	if yc.Timings.SMSExpiryH > 0 {
		cfg.Timings.SMSExpiry = time.Duration(yc.Timings.SMSExpiryH) * time.Hour
	}
	if yc.Timings.SMSRetryIntervalS > 0 {
		cfg.Timings.SMSRetryInterval = time.Duration(yc.Timings.SMSRetryIntervalS) * time.Second
	}
	if yc.Timings.AIHeartbeatS > 0 {
		cfg.Timings.AIHeartbeat = time.Duration(yc.Timings.AIHeartbeatS) * time.Second
	}
	if yc.Timings.AIMaxRetries > 0 {
		cfg.Timings.AIMaxRetries = yc.Timings.AIMaxRetries
	}

	if yc.Security.InstanceID != "" {
		cfg.Security.InstanceID = yc.Security.InstanceID
	}
	cfg.Security.JWTSecret = os.Getenv(envJWTSecret)
	cfg.Security.HMACSecret = os.Getenv(envHMACSecret)
	if cfg.Security.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: %s must be set", envJWTSecret)
	}
	if cfg.Security.HMACSecret == "" {
		return Config{}, fmt.Errorf("config: %s must be set", envHMACSecret)
	}

	return cfg, nil
}
