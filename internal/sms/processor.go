package sms

import (
	"time"
)

// Handlers runs the side effects a matched rule action names. Each
// field is optional; a nil handler silently drops that action.
type Handlers struct {
	ForwardToAI    func(msg *Message)
	AutoReply      func(msg *Message, template string)
	ForwardToPhone func(msg *Message, target string)
	TriggerCall    func(msg *Message)
	Custom         func(msg *Message, handler string)
}

// Processor runs inbound messages through conversation tracking, spam
// scoring, and the rule engine, then dispatches the resulting action.
type Processor struct {
	conversations *ConversationTracker
	spam          *SpamScorer
	rules         *RuleEngine
	blockedSender map[string]bool
	h             Handlers
}

// NewProcessor creates a Processor.
func NewProcessor(conversations *ConversationTracker, spam *SpamScorer, rules *RuleEngine, h Handlers) *Processor {
	return &Processor{conversations: conversations, spam: spam, rules: rules, blockedSender: make(map[string]bool), h: h}
}

// HandleInbound processes one inbound message: conversation tracking,
// optional spam scoring, rule evaluation, and action dispatch. It
// returns the action taken.
func (p *Processor) HandleInbound(msg *Message) RuleAction {
	if p.blockedSender[msg.FromNumber] {
		return RuleAction{Kind: ActionBlockSender}
	}
	if p.conversations != nil {
		p.conversations.Track(msg)
	}
	if p.spam != nil && p.spam.IsSpam(msg.Body) {
		return RuleAction{Kind: ActionStoreOnly}
	}

	action := p.rules.Evaluate(msg.FromNumber, msg.Body, time.Now())
	p.dispatch(msg, action)
	return action
}

func (p *Processor) dispatch(msg *Message, action RuleAction) {
	switch action.Kind {
	case ActionForwardToAI:
		if p.h.ForwardToAI != nil {
			p.h.ForwardToAI(msg)
		}
	case ActionAutoReply:
		if p.h.AutoReply != nil {
			p.h.AutoReply(msg, action.ReplyTemplate)
		}
	case ActionForwardToPhone:
		if p.h.ForwardToPhone != nil {
			p.h.ForwardToPhone(msg, action.ForwardNumber)
		}
	case ActionBlockSender:
		p.blockedSender[msg.FromNumber] = true
	case ActionTriggerCall:
		if p.h.TriggerCall != nil {
			p.h.TriggerCall(msg)
		}
	case ActionCustom:
		if p.h.Custom != nil {
			p.h.Custom(msg, action.CustomHandler)
		}
	case ActionStoreOnly:
	}
}

// ApplyDeliveryReport flips the referenced message's status when an
// inbound message carries a delivery report pointing at an earlier
// outbound message.
func ApplyDeliveryReport(pipeline *Pipeline, referencedID string, delivered bool) {
	if pipeline == nil {
		return
	}
	pipeline.ConfirmDelivery(referencedID, delivered)
}
