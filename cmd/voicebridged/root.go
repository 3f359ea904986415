package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/lmittmann/tint"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Olib-AI/voicebridge/internal/aibridge"
	"github.com/Olib-AI/voicebridge/internal/bridge"
	"github.com/Olib-AI/voicebridge/internal/callmgr"
	"github.com/Olib-AI/voicebridge/internal/config"
	"github.com/Olib-AI/voicebridge/internal/dtmf"
	"github.com/Olib-AI/voicebridge/internal/ivr"
	"github.com/Olib-AI/voicebridge/internal/moh"
	"github.com/Olib-AI/voicebridge/internal/portpool"
	"github.com/Olib-AI/voicebridge/internal/signaling"
	"github.com/Olib-AI/voicebridge/internal/sms"
	"github.com/Olib-AI/voicebridge/internal/telemetry"
)

const sweepInterval = 30 * time.Second

func newRootCommand(version, commit string) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:     "voicebridged",
		Short:   "SIP/RTP-to-AI voice bridge daemon",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
		SilenceErrors: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "voicebridge.yaml", "path to the YAML config file")
	return cmd
}

func run(parentCtx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("voicebridged: %w", err)
	}

	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)
	metricsServer := telemetry.NewServer(cfg.Network.MetricsAddr, reg)
	go func() {
		if err := metricsServer.Start(ctx); err != nil {
			logger.Warn("metrics server stopped", "error", errors.Wrap(err, "run metrics server"))
		}
	}()

	media, err := bridge.New(bridge.Config{
		RTPPortRange:  portpool.Range{Min: cfg.Network.RTPPortMin, Max: cfg.Network.RTPPortMax},
		TelephonyRate: cfg.Audio.SampleRate,
		AIRate:        cfg.Audio.AISampleRate,
		FrameMs:       cfg.Audio.FrameMs,
		PublicRTPIP:   cfg.Network.PublicRTPIP,
	}, logger)
	if err != nil {
		return fmt.Errorf("voicebridged: %w", err)
	}
	media.Metrics = metrics

	manager := callmgr.NewManager(callmgr.Config{
		MaxConcurrentCalls: cfg.Limits.MaxConcurrentCalls,
		MaxPerNumber:       cfg.Limits.MaxCallsPerNumber,
	}, nil, callmgr.NewQueue(5*time.Minute, cfg.Limits.MaxQueueSize), nil, media.Hooks(), logger)
	media.Manager = manager
	if _, err := manager.StartSweepers(); err != nil {
		return fmt.Errorf("voicebridged: %w", err)
	}
	defer manager.StopSweepers()

	ivrEngine := ivr.NewEngine(nil, nil, cfg.Timings.IVRSessionTimeout, media.IVRHooks())
	media.IVR = ivrEngine

	mohManager := moh.NewManager(cfg.Audio.SampleRate)
	media.MoH = mohManager
	go mohManager.Run()
	defer mohManager.Shutdown()

	dtmfProcessor := dtmf.NewProcessor(nil, nil, 32, int(cfg.Timings.DTMFSequenceTimeout/time.Second))
	media.DTMF = dtmfProcessor

	auth := aibridge.NewAuthenticator([]byte(cfg.Security.JWTSecret), []byte(cfg.Security.HMACSecret), cfg.Security.InstanceID)
	aiManager := aibridge.NewManager(aibridge.Config{
		URL:               cfg.Network.AIPlatformURL,
		MaxRetries:        cfg.Timings.AIMaxRetries,
		HeartbeatInterval: cfg.Timings.AIHeartbeat,
	}, auth, aibridge.Handlers{
		OnAudio:    media.OnAIAudio,
		OnHangup:   func(callID string) { manager.HangupCall(callID, "ai_requested") },
		OnTransfer: func(callID, target string) { manager.TransferCall(callID, target, "blind") },
		OnHold:     func(callID string) { manager.HoldCall(callID) },
		OnResume:   func(callID string) { manager.ResumeCall(callID) },
		OnDTMFSend: func(callID, digits string) {
			for _, d := range digits {
				_ = media.Signaling.DTMFSend(callID, string(d))
			}
		},
	}, logger)
	media.AI = aiManager

	var smsCore *sms.Core
	adapter := signaling.NewAdapter(signaling.Config{
		ListenAddr:  cfg.Network.SIPListenAddr,
		Transport:   cfg.Network.SIPTransport,
		PublicRTPIP: cfg.Network.PublicRTPIP,
		MediaStart:  media.MediaStart,
	}, manager, signaling.Handlers{
		OnCallAnswer: media.OnCallAnswered,
		OnCallEnd:    func(callID, reason string) { manager.HangupCall(callID, reason) },
		OnDTMFInfo:   media.HandleDTMFInfo,
		OnSMSMessage: func(fromURI, toURI, body string, _ map[string]string, callID string) {
			_, action := smsCore.ReceiveMessage(fromURI, toURI, body)
			logger.Debug("sms received", "call_id", callID, "action", action.Kind)
		},
	}, logger)
	media.Signaling = adapter

	smsCore = newSMSCore(cfg, logger, sipSender{adapter: adapter, metrics: metrics}, metrics)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("voicebridged: create scheduler: %w", err)
	}
	if _, err := scheduler.NewJob(gocron.DurationJob(sweepInterval), gocron.NewTask(ivrEngine.Sweep)); err != nil {
		return fmt.Errorf("voicebridged: schedule ivr sweep: %w", err)
	}
	if _, err := scheduler.NewJob(gocron.DurationJob(sweepInterval), gocron.NewTask(dtmfProcessor.Sweep)); err != nil {
		return fmt.Errorf("voicebridged: schedule dtmf sweep: %w", err)
	}
	scheduler.Start()
	defer func() { _ = scheduler.Shutdown() }()

	if err := adapter.Start(ctx); err != nil {
		return fmt.Errorf("voicebridged: %w", err)
	}
	defer adapter.Stop()

	go smsCore.Run(ctx)

	metrics.CallsActive.Set(0)
	logger.Info("voicebridged started", "sip_listen_addr", cfg.Network.SIPListenAddr, "ai_platform_url", cfg.Network.AIPlatformURL)

	<-ctx.Done()
	logger.Info("voicebridged shutting down")
	return nil
}

// newSMSCore assembles the SMS subsystem from cfg. ForwardToAI and Custom
// actions have no standalone SMS-side AI channel in this bridge (the AI
// connection is call-scoped); both log instead of silently dropping.
func newSMSCore(cfg config.Config, logger *slog.Logger, sender sms.Sender, metrics *telemetry.Metrics) *sms.Core {
	queue := sms.NewQueue(cfg.Limits.SMSQueueMax)
	limiter := sms.NewRateLimiter(sms.RateLimiterConfig{
		GlobalPerMinute:    cfg.Limits.SMSGlobalRatePerMin,
		PerNumberPerMinute: cfg.Limits.SMSPerNumberRatePerMin,
		CleanupInterval:    5 * time.Minute,
		MaxIdle:            10 * time.Minute,
	})
	deliveryCfg := sms.DefaultDeliveryConfig()
	deliveryCfg.RetryInterval = cfg.Timings.SMSRetryInterval
	pipeline := sms.NewPipeline(deliveryCfg, queue, sender, logger)

	var core *sms.Core
	enqueue := func(msg *sms.Message, to, body string) {
		if _, err := core.SendMessage(msg.ToNumber, to, body, msg.Priority); err != nil {
			if metrics != nil {
				metrics.SMSRateLimitedTotal.Inc()
			}
			logger.Warn("sms reply dropped", "to", to, "error", errors.Wrap(err, "send sms reply"))
			return
		}
		if metrics != nil {
			metrics.SMSQueuedTotal.Inc()
		}
	}

	processor := sms.NewProcessor(
		sms.NewConversationTracker(cfg.Timings.SMSExpiry),
		sms.NewSpamScorer(nil, 0.8),
		sms.NewRuleEngine(nil),
		sms.Handlers{
			ForwardToAI: func(msg *sms.Message) { logger.Info("sms forward_to_ai has no bound AI channel", "from", msg.FromNumber) },
			AutoReply:   func(msg *sms.Message, template string) { enqueue(msg, msg.FromNumber, template) },
			ForwardToPhone: func(msg *sms.Message, target string) {
				enqueue(msg, target, fmt.Sprintf("fwd from %s: %s", msg.FromNumber, msg.Body))
			},
			Custom: func(msg *sms.Message, handler string) { logger.Info("sms custom rule fired", "from", msg.FromNumber, "handler", handler) },
		},
	)
	core = sms.NewCore(queue, limiter, processor, pipeline)
	return core
}

// sipSender implements sms.Sender over the signaling Adapter's MESSAGE
// transmission, so the SMS delivery pipeline has no knowledge of SIP.
type sipSender struct {
	adapter *signaling.Adapter
	metrics *telemetry.Metrics
}

func (s sipSender) Send(_ context.Context, to, from, body string, headers map[string]string) error {
	_, err := s.adapter.SendMessage(to, from, body, headers)
	if s.metrics != nil {
		outcome := "sent"
		if err != nil {
			outcome = "failed"
		}
		s.metrics.SMSSentTotal.WithLabelValues(outcome).Inc()
	}
	return err
}
