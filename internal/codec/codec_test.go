package codec

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(amplitude float64, freq float64, rate int, n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amplitude * float64(1<<15-1) * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(int16(v)))
	}
	return out
}

func pearson(a, b []byte) float64 {
	n := len(a) / 2
	var sa, sb float64
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = float64(int16(binary.LittleEndian.Uint16(a[i*2 : i*2+2])))
		ys[i] = float64(int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2])))
		sa += xs[i]
		sb += ys[i]
	}
	ma, mb := sa/float64(n), sb/float64(n)
	var num, da, db float64
	for i := 0; i < n; i++ {
		dx := xs[i] - ma
		dy := ys[i] - mb
		num += dx * dy
		da += dx * dx
		db += dy * dy
	}
	if da == 0 || db == 0 {
		return 1
	}
	return num / math.Sqrt(da*db)
}

func TestConvertRoundTripCorrelation(t *testing.T) {
	pcm := sine(0.5, 1000, 8000, 800)

	ulawRound := Convert(Convert(pcm, PCM, PCMU), PCMU, PCM)
	require.Len(t, ulawRound, len(pcm))
	assert.GreaterOrEqual(t, pearson(pcm, ulawRound), 0.8)

	alawRound := Convert(Convert(pcm, PCM, PCMA), PCMA, PCM)
	require.Len(t, alawRound, len(pcm))
	assert.GreaterOrEqual(t, pearson(pcm, alawRound), 0.8)
}

func TestConvertUnknownCodecPassesThrough(t *testing.T) {
	in := []byte{1, 2, 3, 4}
	out := Convert(in, Name("BOGUS"), PCM)
	assert.Equal(t, in, out)
}

func TestConvertEmptyInput(t *testing.T) {
	assert.Empty(t, Convert(nil, PCM, PCMU))
}

func TestConvertIdentity(t *testing.T) {
	in := []byte{1, 2, 3, 4}
	assert.Equal(t, in, Convert(in, PCMU, PCMU))
}

func TestAdjustVolumeSaturates(t *testing.T) {
	pcm := make([]byte, 2)
	binary.LittleEndian.PutUint16(pcm, uint16(int16(20000)))
	out := AdjustVolume(pcm, 3.0)
	s := int16(binary.LittleEndian.Uint16(out))
	assert.Equal(t, int16(1<<15-1), s)
}

func TestDetectSilence(t *testing.T) {
	silence := CreateSilence(20, 8000)
	assert.True(t, DetectSilence(silence, 8))

	loud := sine(0.5, 440, 8000, 160)
	assert.False(t, DetectSilence(loud, 8))
}

func TestCreateSilenceExactLength(t *testing.T) {
	s := CreateSilence(20, 8000)
	assert.Len(t, s, 320)
	for _, b := range s {
		assert.Equal(t, byte(0), b)
	}
}

func TestSplitFrames(t *testing.T) {
	pcm := make([]byte, 320*3+10)
	frames := SplitFrames(pcm, 20, 8000)
	require.Len(t, frames, 3)
	for _, f := range frames {
		assert.Len(t, f, 320)
	}
}

func TestMixSaturation(t *testing.T) {
	a := make([]byte, 2)
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(a, uint16(int16(30000)))
	binary.LittleEndian.PutUint16(b, uint16(int16(30000)))
	out := Mix(a, b)
	s := int16(binary.LittleEndian.Uint16(out))
	assert.Equal(t, int16(30000), s)
}
