package sms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Sender hands one message to the SIP plane as a MESSAGE request. The
// required X-SMS-ID/X-SMS-Segments headers and content type are the
// delivery pipeline's responsibility, not the Sender's.
type Sender interface {
	Send(ctx context.Context, to, from, body string, headers map[string]string) error
}

// DeliveryConfig bounds the delivery pipeline.
type DeliveryConfig struct {
	MaxConcurrentMessages int
	DeliveryTimeout       time.Duration
	RetryInterval         time.Duration
}

// DefaultDeliveryConfig returns the pipeline's default bounds.
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		MaxConcurrentMessages: 10,
		DeliveryTimeout:       30 * time.Minute,
		RetryInterval:         30 * time.Second,
	}
}

// Pipeline is the worker-pool delivery loop: it dequeues messages, hands
// them to Sender, and tracks SENT→DELIVERED timeouts and retry/expiry.
type Pipeline struct {
	cfg    DeliveryConfig
	queue  *Queue
	sender Sender
	logger *slog.Logger

	mu       sync.Mutex
	inFlight map[string]*Message
	sem      chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg DeliveryConfig, queue *Queue, sender Sender, logger *slog.Logger) *Pipeline {
	if cfg.MaxConcurrentMessages <= 0 {
		cfg.MaxConcurrentMessages = 10
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Minute
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg: cfg, queue: queue, sender: sender, logger: logger,
		inFlight: make(map[string]*Message),
		sem:      make(chan struct{}, cfg.MaxConcurrentMessages),
		stopCh:   make(chan struct{}),
	}
}

// Run is the worker loop: a long-running task that pulls from the queue
// whenever a delivery slot is free, until ctx is done or Stop is called.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case p.sem <- struct{}{}:
		}

		msg, ok := p.queue.Dequeue(time.Now())
		if !ok {
			<-p.sem
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			}
			continue
		}

		p.wg.Add(1)
		go p.deliver(ctx, msg)
	}
}

// Stop signals Run to exit and waits for in-flight deliveries to finish.
func (p *Pipeline) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Pipeline) deliver(ctx context.Context, msg *Message) {
	defer p.wg.Done()
	defer func() { <-p.sem }()

	msg.Status = StatusSending
	headers := map[string]string{
		"X-SMS-ID":       msg.ID,
		"X-SMS-Segments": fmt.Sprintf("%d", msg.Segments),
		"Content-Type":   "text/plain; charset=utf-8",
	}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	err := p.sender.Send(ctx, msg.ToNumber, msg.FromNumber, msg.Body, headers)
	if err == nil {
		msg.Status = StatusSent
		msg.SentAt = time.Now()
		p.mu.Lock()
		p.inFlight[msg.ID] = msg
		p.mu.Unlock()
		time.AfterFunc(p.cfg.DeliveryTimeout, func() { p.assumeDelivered(msg.ID) })
		return
	}

	p.logger.Warn("sms delivery failed", "message_id", msg.ID, "error", errors.Wrap(err, "send sms"))
	if msg.RetryCount < msg.MaxRetries && !msg.IsExpired(time.Now()) {
		msg.RetryCount++
		time.AfterFunc(p.cfg.RetryInterval, func() {
			if enqErr := p.queue.Enqueue(msg); enqErr != nil {
				msg.Status = StatusFailed
			}
		})
		return
	}
	msg.Status = StatusFailed
}

// assumeDelivered flips a SENT message to DELIVERED if no explicit
// confirmation arrived within the delivery timeout.
func (p *Pipeline) assumeDelivered(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, ok := p.inFlight[id]
	if !ok {
		return
	}
	delete(p.inFlight, id)
	if msg.Status == StatusSent {
		msg.Status = StatusDelivered
	}
}

// ConfirmDelivery records an explicit delivery confirmation for id,
// preempting the timeout-based assumption.
func (p *Pipeline) ConfirmDelivery(id string, delivered bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, ok := p.inFlight[id]
	if !ok {
		return
	}
	delete(p.inFlight, id)
	if delivered {
		msg.Status = StatusDelivered
	} else {
		msg.Status = StatusFailed
	}
}
