package sms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessorForwardsToAIByDefault(t *testing.T) {
	var forwarded *Message
	h := Handlers{ForwardToAI: func(msg *Message) { forwarded = msg }}
	p := NewProcessor(NewConversationTracker(time.Hour), nil, NewRuleEngine(nil), h)

	msg := NewMessage("m1", "+1", "+2", "hello", 0)
	msg.Direction = DirectionInbound
	action := p.HandleInbound(msg)

	require.Equal(t, ActionForwardToAI, action.Kind)
	require.NotNil(t, forwarded)
	assert.Equal(t, "m1", forwarded.ID)
}

func TestProcessorBlocksAfterBlockSenderAction(t *testing.T) {
	rules := []Rule{{Priority: 1, Action: RuleAction{Kind: ActionBlockSender}}}
	p := NewProcessor(nil, nil, NewRuleEngine(rules), Handlers{})

	first := p.HandleInbound(NewMessage("m1", "+1", "+2", "hi", 0))
	assert.Equal(t, ActionBlockSender, first.Kind)

	second := p.HandleInbound(NewMessage("m2", "+1", "+2", "hi again", 0))
	assert.Equal(t, ActionBlockSender, second.Kind)
}

func TestProcessorStoresOnlyWhenSpamDetected(t *testing.T) {
	scorer := NewSpamScorer(nil, 0.1)
	p := NewProcessor(nil, scorer, NewRuleEngine(nil), Handlers{})
	action := p.HandleInbound(NewMessage("m1", "+1", "+2", "WIN BIG NOW!!!", 0))
	assert.Equal(t, ActionStoreOnly, action.Kind)
}

func TestProcessorTracksConversation(t *testing.T) {
	conv := NewConversationTracker(time.Hour)
	p := NewProcessor(conv, nil, NewRuleEngine(nil), Handlers{})
	p.HandleInbound(NewMessage("m1", "+1", "+2", "hi", 0))

	c, ok := conv.Get("+1", "+2")
	require.True(t, ok)
	assert.Len(t, c.Messages, 1)
}
