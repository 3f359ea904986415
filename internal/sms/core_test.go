package sms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoreSendMessageRejectsOverRateLimit(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{GlobalPerMinute: 6000, PerNumberPerMinute: 1})
	defer limiter.Stop()
	queue := NewQueue(0)
	core := NewCore(queue, limiter, nil, nil)

	_, err := core.SendMessage("+1", "+2", "hi", 0)
	require.NoError(t, err)

	_, err = core.SendMessage("+1", "+2", "hi again", 0)
	assert.Error(t, err)
}

func TestCoreReceiveMessageRunsProcessor(t *testing.T) {
	var forwarded bool
	processor := NewProcessor(nil, nil, NewRuleEngine(nil), Handlers{ForwardToAI: func(*Message) { forwarded = true }})
	core := NewCore(nil, nil, processor, nil)

	msg, action := core.ReceiveMessage("+1", "+2", "hello")
	assert.Equal(t, ActionForwardToAI, action.Kind)
	assert.Equal(t, DirectionInbound, msg.Direction)
	assert.True(t, forwarded)
}
