package dtmf

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"
)

// Action names a DTMFPattern's effect.
type Action string

const (
	ActionForwardToAI     Action = "forward_to_ai"
	ActionTransfer        Action = "transfer"
	ActionPlayAudio       Action = "play_audio"
	ActionHangup          Action = "hangup"
	ActionToggleRecording Action = "toggle_recording"
	ActionEnterIVR        Action = "enter_ivr"
	ActionCustom          Action = "custom"
)

// Pattern is a configured digit-sequence matcher and the action it
// triggers when the full per-call sequence matches its regex.
type Pattern struct {
	Regex      *regexp.Regexp
	Action     Action
	Timeout    time.Duration
	Parameters map[string]string
	// Handler names the registered custom handler to invoke when
	// Action is ActionCustom. The name is looked up only when Dispatch
	// runs; NewProcessor does not check it, so an unknown name surfaces
	// as a Dispatch error mid-call.
	Handler string
}

// CustomHandler implements a Pattern whose Action is ActionCustom.
type CustomHandler func(callID, sequence string, params map[string]string) error

// Match is what the Processor hands to a caller when a pattern matches.
type Match struct {
	CallID   string
	Sequence string
	Pattern  Pattern
}

type sequenceState struct {
	digits        string
	lastDigitTime time.Time
}

// Processor maintains a growing digit sequence per call and tests
// registered patterns, longest-regex-source-first, against the full
// sequence on every digit. Digits that never complete a match are
// forwarded independently via UnmatchedDigit.
type Processor struct {
	mu        sync.Mutex
	sequences map[string]*sequenceState

	patterns          []Pattern
	customHandlers    map[string]CustomHandler
	maxSequenceLength int
	timeout           time.Duration

	// UnmatchedDigit is invoked, if set, once per appended digit that
	// does not complete a pattern match, carrying the call id and the
	// single digit just appended.
	UnmatchedDigit func(callID string, digit Digit)
}

// NewProcessor creates a Processor. patterns is sorted internally so the
// longest regex source (the most specific pattern) is tried first;
// maxSequenceLength and timeoutSeconds default to 20 and 5 respectively
// when non-positive.
func NewProcessor(patterns []Pattern, customHandlers map[string]CustomHandler, maxSequenceLength int, timeoutSeconds int) *Processor {
	if maxSequenceLength <= 0 {
		maxSequenceLength = 20
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 5
	}
	sorted := make([]Pattern, len(patterns))
	copy(sorted, patterns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Regex.String()) > len(sorted[j].Regex.String())
	})
	return &Processor{
		sequences:         make(map[string]*sequenceState),
		patterns:          sorted,
		customHandlers:    customHandlers,
		maxSequenceLength: maxSequenceLength,
		timeout:           time.Duration(timeoutSeconds) * time.Second,
	}
}

// HandleDigit appends digit to call's sequence, tests patterns in
// descending-length order for the first match, and returns the Match and
// ok=true if one fired. On a match the sequence is cleared. If no
// pattern matches and the sequence would exceed maxSequenceLength, it is
// cleared instead of growing unbounded. Unmatched digits are reported via
// UnmatchedDigit exactly once, regardless of whether the sequence was
// subsequently cleared for length.
func (p *Processor) HandleDigit(callID string, digit Digit) (Match, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.sequences[callID]
	if !ok {
		st = &sequenceState{}
		p.sequences[callID] = st
	}
	st.digits += string(digit)
	st.lastDigitTime = time.Now()

	for _, pat := range p.patterns {
		if pat.Regex.MatchString(st.digits) {
			match := Match{CallID: callID, Sequence: st.digits, Pattern: pat}
			delete(p.sequences, callID)
			return match, true
		}
	}

	if p.UnmatchedDigit != nil {
		p.UnmatchedDigit(callID, digit)
	}

	if len(st.digits) > p.maxSequenceLength {
		delete(p.sequences, callID)
	}
	return Match{}, false
}

// Dispatch invokes the action named by m.Pattern, routing ActionCustom
// through the registered handler. It returns an error for a custom
// handler name that is not registered; names are not validated earlier.
func (p *Processor) Dispatch(m Match) error {
	if m.Pattern.Action != ActionCustom {
		return nil
	}
	handler, ok := p.customHandlers[m.Pattern.Handler]
	if !ok {
		return fmt.Errorf("dtmf: no custom handler registered for %q", m.Pattern.Handler)
	}
	return handler(m.CallID, m.Sequence, m.Pattern.Parameters)
}

// Sweep clears sequences whose last digit arrived more than the
// configured timeout ago. Call periodically from a scheduler.
func (p *Processor) Sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for callID, st := range p.sequences {
		if now.Sub(st.lastDigitTime) > p.timeout {
			delete(p.sequences, callID)
		}
	}
}

// Clear drops a call's sequence, e.g. on call teardown.
func (p *Processor) Clear(callID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sequences, callID)
}

// Sequence returns the current digit sequence for a call, for tests and
// diagnostics.
func (p *Processor) Sequence(callID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.sequences[callID]; ok {
		return st.digits
	}
	return ""
}
