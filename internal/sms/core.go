package sms

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Core wires the queue, rate limiter, processor, and delivery pipeline
// into the SMS subsystem's single entry point.
type Core struct {
	Queue     *Queue
	Limiter   *RateLimiter
	Processor *Processor
	Pipeline  *Pipeline
}

// NewCore creates a Core from its already-configured parts.
func NewCore(queue *Queue, limiter *RateLimiter, processor *Processor, pipeline *Pipeline) *Core {
	return &Core{Queue: queue, Limiter: limiter, Processor: processor, Pipeline: pipeline}
}

// Run starts the delivery worker loop; it blocks until ctx is done.
func (c *Core) Run(ctx context.Context) {
	c.Pipeline.Run(ctx)
}

// SendMessage enqueues an outbound message, rejecting it if the global
// or per-number rate limit is exceeded.
func (c *Core) SendMessage(from, to, body string, priority int) (*Message, error) {
	if !c.Limiter.Allow(from) {
		return nil, errRateLimited
	}
	msg := NewMessage(uuid.NewString(), from, to, body, priority)
	if err := c.Queue.Enqueue(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ReceiveMessage runs an inbound message through the processor.
func (c *Core) ReceiveMessage(from, to, body string) (*Message, RuleAction) {
	msg := NewMessage(uuid.NewString(), from, to, body, 0)
	msg.Direction = DirectionInbound
	action := c.Processor.HandleInbound(msg)
	return msg, action
}

var errRateLimited = &coreError{"sms: rate limit exceeded"}

type coreError struct{ msg string }

func (e *coreError) Error() string { return e.msg }

// shutdownTimeout bounds how long Stop waits for in-flight deliveries.
const shutdownTimeout = 10 * time.Second

// Stop drains the delivery pipeline, logging if it does not finish
// within shutdownTimeout.
func (c *Core) Stop(logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		c.Pipeline.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		if logger != nil {
			logger.Warn("sms pipeline did not drain within shutdown timeout")
		}
	}
}
