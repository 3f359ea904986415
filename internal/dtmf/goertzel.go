package dtmf

import (
	"math"
	"time"
)

var lowFreqs = [4]float64{697, 770, 852, 941}
var highFreqs = [4]float64{1209, 1336, 1477, 1633}

var digitGrid = [4][4]Digit{
	{'1', '2', '3', 'A'},
	{'4', '5', '6', 'B'},
	{'7', '8', '9', 'C'},
	{'*', '0', '#', 'D'},
}

const (
	frameSamples       = 160 // 20ms at 8kHz
	twistMaxRatio      = 0.5
	groupRatioMin      = 0.5
	groupRatioMax      = 2.0
	minDetectionFrames = 2 // 2 * 20ms = 40ms minimum duration gate
)

// goertzel evaluates the single-frequency Goertzel power for freq (Hz)
// over a Hann-windowed frame sampled at rate.
func goertzel(frame []float64, freq float64, rate int) float64 {
	n := len(frame)
	k := int(0.5 + float64(n)*freq/float64(rate))
	omega := 2 * math.Pi * float64(k) / float64(n)
	coeff := 2 * math.Cos(omega)

	var s0, s1, s2 float64
	for i := 0; i < n; i++ {
		s0 = frame[i] + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}

func hannWindow(samples []int16) []float64 {
	n := len(samples)
	out := make([]float64, n)
	for i, s := range samples {
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		out[i] = float64(s) * w
	}
	return out
}

// classifyFrame runs the eight Goertzel filters over one 20ms frame and
// returns the detected digit and whether the frame passes the twist and
// group-ratio rejection rules that distinguish real dual-tone pairs from
// voice energy landing near the same frequencies.
func classifyFrame(samples []int16, rate int) (Digit, bool) {
	if len(samples) < 2 {
		return 0, false
	}
	windowed := hannWindow(samples)

	var lowEnergy, highEnergy [4]float64
	for i, f := range lowFreqs {
		lowEnergy[i] = goertzel(windowed, f, rate)
	}
	for i, f := range highFreqs {
		highEnergy[i] = goertzel(windowed, f, rate)
	}

	lowIdx, lowMax := argmax(lowEnergy[:])
	highIdx, highMax := argmax(highEnergy[:])

	const threshold = 1e5
	if lowMax < threshold || highMax < threshold {
		return 0, false
	}

	for i, e := range lowEnergy {
		if i != lowIdx && e > lowMax*twistMaxRatio {
			return 0, false
		}
	}
	for i, e := range highEnergy {
		if i != highIdx && e > highMax*twistMaxRatio {
			return 0, false
		}
	}

	ratio := highMax / lowMax
	if ratio < groupRatioMin || ratio > groupRatioMax {
		return 0, false
	}

	return digitGrid[lowIdx][highIdx], true
}

func argmax(values []float64) (int, float64) {
	idx := 0
	max := values[0]
	for i, v := range values[1:] {
		if v > max {
			max = v
			idx = i + 1
		}
	}
	return idx, max
}

// frameDurationMs is the duration one frameSamples frame represents at
// 8kHz. In-band duration is measured in frame counts rather than wall
// time, since it describes the audio's own duration, not how long
// processing took.
const frameDurationMs = frameSamples * 1000 / 8000

// InbandDetector runs Goertzel detection over a stream of 20ms/160-sample
// frames, enforcing the minimum-duration gate and emitting exactly one
// Event per sustained tone (on release). A second digit detected while
// the first is still active flushes the first as its own Event.
type InbandDetector struct {
	callID string
	rate   int

	currentDigit    Digit
	consistentCount int
}

// NewInbandDetector creates a detector scoped to one call, sampling at
// rate Hz (nominally 8000).
func NewInbandDetector(callID string, rate int) *InbandDetector {
	if rate <= 0 {
		rate = 8000
	}
	return &InbandDetector{callID: callID, rate: rate}
}

// ProcessFrame feeds one 20ms frame of linear PCM16 samples. A digit only
// becomes "confirmed" once minDetectionFrames worth of consistent
// classification have been seen (the minimum-duration gate); the Event
// itself is emitted on release — either silence or a different digit
// replacing it — carrying the full duration of the run of frames that
// were classified as that digit. Unconfirmed blips (shorter than the
// gate) never produce an Event. A confirmed digit still active when a
// different one appears is flushed as its own Event before tracking
// switches to the new digit.
func (d *InbandDetector) ProcessFrame(samples []int16) (Event, bool) {
	digit, detected := classifyFrame(samples, d.rate)

	if !detected {
		return d.flush()
	}

	if d.currentDigit == 0 {
		d.currentDigit = digit
		d.consistentCount = 1
		return Event{}, false
	}

	if digit == d.currentDigit {
		d.consistentCount++
		return Event{}, false
	}

	// A different digit replaces whatever was active; flush it first.
	ev, ok := d.flush()
	d.currentDigit = digit
	d.consistentCount = 1
	return ev, ok
}

// flush emits an Event for the currently tracked digit if it satisfied
// the minimum-duration gate, then clears tracking state. Call this both
// on silence and when a different digit interrupts the active one.
func (d *InbandDetector) flush() (Event, bool) {
	if d.currentDigit == 0 || d.consistentCount < minDetectionFrames {
		d.currentDigit = 0
		d.consistentCount = 0
		return Event{}, false
	}

	ev := Event{
		CallID:     d.callID,
		Digit:      d.currentDigit,
		Method:     MethodInband,
		Timestamp:  time.Now(),
		DurationMs: int64(d.consistentCount * frameDurationMs),
		Confidence: 1.0,
	}
	d.currentDigit = 0
	d.consistentCount = 0
	return ev, true
}
