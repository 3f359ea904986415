package dtmf

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessorMatchProducesOneActionAndClearsSequence(t *testing.T) {
	p := NewProcessor([]Pattern{
		{Regex: regexp.MustCompile(`^911$`), Action: ActionHangup},
	}, nil, 0, 0)

	_, ok := p.HandleDigit("c2", '9')
	assert.False(t, ok)
	_, ok = p.HandleDigit("c2", '1')
	assert.False(t, ok)

	match, ok := p.HandleDigit("c2", '1')
	require.True(t, ok)
	assert.Equal(t, ActionHangup, match.Pattern.Action)
	assert.Equal(t, "911", match.Sequence)
	assert.Equal(t, "", p.Sequence("c2"))
}

func TestProcessorLongestPatternWinsFirst(t *testing.T) {
	p := NewProcessor([]Pattern{
		{Regex: regexp.MustCompile(`^1$`), Action: ActionTransfer},
		{Regex: regexp.MustCompile(`^123$`), Action: ActionHangup},
	}, nil, 0, 0)

	p.HandleDigit("c1", '1')
	p.HandleDigit("c1", '2')
	match, ok := p.HandleDigit("c1", '3')
	require.True(t, ok)
	assert.Equal(t, ActionHangup, match.Pattern.Action)
}

func TestProcessorUnmatchedDigitsForwarded(t *testing.T) {
	var seen []Digit
	p := NewProcessor(nil, nil, 0, 0)
	p.UnmatchedDigit = func(callID string, digit Digit) {
		seen = append(seen, digit)
	}
	p.HandleDigit("c1", '5')
	p.HandleDigit("c1", '6')
	assert.Equal(t, []Digit{'5', '6'}, seen)
	assert.Equal(t, "56", p.Sequence("c1"))
}

func TestProcessorMaxSequenceLengthClears(t *testing.T) {
	p := NewProcessor(nil, nil, 3, 0)
	p.HandleDigit("c1", '1')
	p.HandleDigit("c1", '2')
	p.HandleDigit("c1", '3')
	p.HandleDigit("c1", '4')
	assert.Equal(t, "", p.Sequence("c1"))
}

func TestProcessorCustomHandlerDispatch(t *testing.T) {
	called := false
	p := NewProcessor([]Pattern{
		{Regex: regexp.MustCompile(`^\*9$`), Action: ActionCustom, Handler: "page_operator"},
	}, map[string]CustomHandler{
		"page_operator": func(callID, sequence string, params map[string]string) error {
			called = true
			return nil
		},
	}, 0, 0)

	p.HandleDigit("c1", '*')
	match, ok := p.HandleDigit("c1", '9')
	require.True(t, ok)
	require.NoError(t, p.Dispatch(match))
	assert.True(t, called)
}

func TestProcessorSweepClearsStaleSequences(t *testing.T) {
	p := NewProcessor(nil, nil, 0, 0)
	p.HandleDigit("c1", '1')
	p.timeout = 0
	p.Sweep()
	assert.Equal(t, "", p.Sequence("c1"))
}
