package sms

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRuleEngineDefaultsToForwardToAI(t *testing.T) {
	e := NewRuleEngine(nil)
	action := e.Evaluate("+1", "hello", time.Now())
	assert.Equal(t, ActionForwardToAI, action.Kind)
}

func TestRuleEngineHighestPriorityWins(t *testing.T) {
	rules := []Rule{
		{Priority: 1, Conditions: RuleConditions{ContentPattern: regexp.MustCompile(`stop`)}, Action: RuleAction{Kind: ActionStoreOnly}},
		{Priority: 10, Conditions: RuleConditions{ContentPattern: regexp.MustCompile(`stop`)}, Action: RuleAction{Kind: ActionBlockSender}},
	}
	e := NewRuleEngine(rules)
	action := e.Evaluate("+1", "please stop texting me", time.Now())
	assert.Equal(t, ActionBlockSender, action.Kind)
}

func TestRuleConditionsBlacklistOverridesWhitelist(t *testing.T) {
	rules := []Rule{{
		Priority: 1,
		Conditions: RuleConditions{
			Whitelist: map[string]bool{"+1": true},
			Blacklist: map[string]bool{"+1": true},
		},
		Action: RuleAction{Kind: ActionAutoReply},
	}}
	e := NewRuleEngine(rules)
	action := e.Evaluate("+1", "hi", time.Now())
	assert.Equal(t, ActionForwardToAI, action.Kind)
}

func TestTimeRangeOvernightWraparound(t *testing.T) {
	r := TimeRange{StartMinute: 22 * 60, EndMinute: 6 * 60}
	assert.True(t, r.contains(23*60))
	assert.True(t, r.contains(5*60))
	assert.False(t, r.contains(12*60))
}
