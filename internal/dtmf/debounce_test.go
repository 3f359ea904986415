package dtmf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerSuppressesRapidDuplicate(t *testing.T) {
	d := NewDebouncer()
	base := time.Now()
	ev := Event{Digit: '5', Timestamp: base}
	assert.True(t, d.Allow(ev))

	dup := Event{Digit: '5', Timestamp: base.Add(10 * time.Millisecond)}
	assert.False(t, d.Allow(dup))
}

func TestDebouncerAllowsAfterGap(t *testing.T) {
	d := NewDebouncer()
	base := time.Now()
	d.Allow(Event{Digit: '5', Timestamp: base})

	later := Event{Digit: '5', Timestamp: base.Add(200 * time.Millisecond)}
	assert.True(t, d.Allow(later))
}

func TestDebouncerTracksDigitsIndependently(t *testing.T) {
	d := NewDebouncer()
	base := time.Now()
	assert.True(t, d.Allow(Event{Digit: '1', Timestamp: base}))
	assert.True(t, d.Allow(Event{Digit: '2', Timestamp: base.Add(5 * time.Millisecond)}))
}
