package sms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpamScorerFlagsURLAndMultiplePhoneNumbers(t *testing.T) {
	scorer := NewSpamScorer(nil, 0.4)
	score := scorer.Score("Call +15551230000 or +15559990000 now! www.example.com")
	assert.GreaterOrEqual(t, score, 0.4)
	assert.True(t, scorer.IsSpam("Call +15551230000 or +15559990000 now! www.example.com"))
}

func TestSpamScorerIgnoresOrdinaryMessage(t *testing.T) {
	scorer := NewSpamScorer(nil, DefaultSpamThreshold)
	assert.False(t, scorer.IsSpam("Hey, are we still on for lunch tomorrow?"))
}

func TestSpamScorerExcessiveCapsAndPunct(t *testing.T) {
	scorer := NewSpamScorer(nil, 0.2)
	assert.True(t, scorer.IsSpam("WIN BIG NOW!!!"))
}
