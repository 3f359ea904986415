package dtmf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dtmfTone synthesizes n samples of summed low+high frequency sine tones
// at 8kHz, the standard DTMF generation model.
func dtmfTone(low, high float64, n int, amplitude float64) []int16 {
	const rate = 8000
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		t := float64(i) / rate
		v := amplitude * (math.Sin(2*math.Pi*low*t) + math.Sin(2*math.Pi*high*t)) / 2
		out[i] = int16(v * 32767)
	}
	return out
}

func silence(n int) []int16 {
	return make([]int16, n)
}

func TestClassifyFrameDetectsDigit1(t *testing.T) {
	frame := dtmfTone(697, 1209, frameSamples, 0.9)
	digit, ok := classifyFrame(frame, 8000)
	require.True(t, ok)
	assert.Equal(t, Digit('1'), digit)
}

func TestClassifyFrameRejectsSilence(t *testing.T) {
	_, ok := classifyFrame(silence(frameSamples), 8000)
	assert.False(t, ok)
}

func TestInbandDetector40msDetectedVs30msNot(t *testing.T) {
	// 40ms = 2 frames of tone followed by silence: the minimum-duration
	// gate (2 frames) is satisfied, so an Event is emitted on release.
	d := NewInbandDetector("c1", 8000)
	_, ok := d.ProcessFrame(dtmfTone(697, 1209, frameSamples, 0.9))
	assert.False(t, ok)
	_, ok = d.ProcessFrame(dtmfTone(697, 1209, frameSamples, 0.9))
	assert.False(t, ok)
	ev, ok := d.ProcessFrame(silence(frameSamples))
	require.True(t, ok)
	assert.Equal(t, Digit('1'), ev.Digit)
	assert.Equal(t, int64(40), ev.DurationMs)

	// 30ms worth of tone only ever completes a single full 20ms frame
	// before silence; the gate (2 frames) is never reached, so release
	// produces no Event.
	d2 := NewInbandDetector("c1", 8000)
	_, ok = d2.ProcessFrame(dtmfTone(697, 1209, frameSamples, 0.9))
	assert.False(t, ok)
	_, ok = d2.ProcessFrame(silence(frameSamples))
	assert.False(t, ok)
}

func TestInbandDetectorEightyMsSummedTone(t *testing.T) {
	d := NewInbandDetector("c1", 8000)
	var lastEv Event
	var lastOk bool
	for i := 0; i < 4; i++ {
		lastEv, lastOk = d.ProcessFrame(dtmfTone(697, 1209, frameSamples, 0.5))
		assert.False(t, lastOk)
	}
	lastEv, lastOk = d.ProcessFrame(silence(frameSamples))
	require.True(t, lastOk)
	assert.Equal(t, Digit('1'), lastEv.Digit)
	assert.GreaterOrEqual(t, lastEv.DurationMs, int64(70))
	assert.LessOrEqual(t, lastEv.DurationMs, int64(90))
}

func TestInbandDetectorSecondDigitFlushesFirst(t *testing.T) {
	d := NewInbandDetector("c1", 8000)
	d.ProcessFrame(dtmfTone(697, 1209, frameSamples, 0.9))
	d.ProcessFrame(dtmfTone(697, 1209, frameSamples, 0.9))

	ev, ok := d.ProcessFrame(dtmfTone(770, 1336, frameSamples, 0.9))
	require.True(t, ok)
	assert.Equal(t, Digit('1'), ev.Digit)
}

func TestInbandDetectorTwistRejection(t *testing.T) {
	const rate = 8000
	n := frameSamples
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		ts := float64(i) / rate
		// Low tone at full scale, high tone attenuated far past the
		// twist ratio: should not classify as a valid digit.
		v := math.Sin(2*math.Pi*697*ts)*0.9 + math.Sin(2*math.Pi*1209*ts)*0.05
		out[i] = int16(v * 32767)
	}
	_, ok := classifyFrame(out, rate)
	assert.False(t, ok)
}
