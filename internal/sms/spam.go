package sms

import (
	"regexp"
	"strings"
)

// DefaultSpamThreshold is the weighted score at or above which a message
// is flagged as spam.
const DefaultSpamThreshold = 0.8

var phoneNumberPattern = regexp.MustCompile(`\+?\d{7,15}`)
var urlPattern = regexp.MustCompile(`(?i)https?://|www\.`)

// SpamRule is one weighted signal in the scorer.
type SpamRule struct {
	Name    string
	Pattern *regexp.Regexp
	Weight  float64
}

// SpamScorer computes a weighted spam score in [0, 1] for a message
// body, combining regex-pattern hits with structural heuristics.
type SpamScorer struct {
	Rules     []SpamRule
	Threshold float64
}

// NewSpamScorer creates a SpamScorer with the given rules and
// threshold (DefaultSpamThreshold if threshold <= 0).
func NewSpamScorer(rules []SpamRule, threshold float64) *SpamScorer {
	if threshold <= 0 {
		threshold = DefaultSpamThreshold
	}
	return &SpamScorer{Rules: rules, Threshold: threshold}
}

// Score returns the weighted score for body; Score >= Threshold means
// spam.
func (s *SpamScorer) Score(body string) float64 {
	var total float64
	for _, r := range s.Rules {
		if r.Pattern.MatchString(body) {
			total += r.Weight
		}
	}
	total += excessiveCapsScore(body)
	total += excessivePunctScore(body)
	if urlPattern.MatchString(body) {
		total += 0.3
	}
	if len(phoneNumberPattern.FindAllString(body, -1)) > 1 {
		total += 0.2
	}
	if total > 1 {
		total = 1
	}
	return total
}

// IsSpam reports whether body's score meets the threshold.
func (s *SpamScorer) IsSpam(body string) bool {
	return s.Score(body) >= s.Threshold
}

func excessiveCapsScore(body string) float64 {
	letters, caps := 0, 0
	for _, r := range body {
		if r >= 'a' && r <= 'z' {
			letters++
		} else if r >= 'A' && r <= 'Z' {
			letters++
			caps++
		}
	}
	if letters < 6 {
		return 0
	}
	ratio := float64(caps) / float64(letters)
	if ratio > 0.7 {
		return 0.3
	}
	return 0
}

func excessivePunctScore(body string) float64 {
	count := strings.Count(body, "!") + strings.Count(body, "?")
	if count >= 3 {
		return 0.2
	}
	return 0
}
