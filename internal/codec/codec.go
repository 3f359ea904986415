// Package codec implements audio transcoding between the narrowband
// telephony codecs carried over RTP and the linear PCM frames the AI
// bridge exchanges with the conversational backend.
package codec

import (
	"encoding/binary"
	"math"

	"github.com/zaf/g711"
)

// Name identifies a supported audio codec by its RTP-facing name.
type Name string

const (
	PCM  Name = "PCM"
	PCMU Name = "PCMU"
	PCMA Name = "PCMA"
)

// PayloadType returns the RFC 3551 static payload type for a codec name,
// and false for codecs without a static assignment (e.g. linear PCM,
// which never travels on the wire as-is).
func PayloadType(n Name) (uint8, bool) {
	switch n {
	case PCMU:
		return 0, true
	case PCMA:
		return 8, true
	default:
		return 0, false
	}
}

// Convert transcodes pcm-or-companded bytes from one codec to another.
// Same-codec conversion is the identity. Unknown codec names are a
// best-effort media transform failure mode: the input is returned
// unchanged rather than raising an error, reserving hard failures for
// protocol boundaries instead of media-path edge cases.
func Convert(in []byte, from, to Name) []byte {
	if len(in) == 0 {
		return in
	}
	if from == to {
		return in
	}
	pcm, ok := toPCM(in, from)
	if !ok {
		return in
	}
	out, ok := fromPCM(pcm, to)
	if !ok {
		return in
	}
	return out
}

func toPCM(in []byte, from Name) ([]byte, bool) {
	switch from {
	case PCM:
		return in, true
	case PCMU:
		return g711.DecodeUlaw(in), true
	case PCMA:
		return g711.DecodeAlaw(in), true
	default:
		return nil, false
	}
}

func fromPCM(pcm []byte, to Name) ([]byte, bool) {
	switch to {
	case PCM:
		return pcm, true
	case PCMU:
		return g711.EncodeUlaw(pcm), true
	case PCMA:
		return g711.EncodeAlaw(pcm), true
	default:
		return nil, false
	}
}

// AdjustVolume multiplies every int16 sample in pcm by factor, saturating
// to the int16 range rather than wrapping.
func AdjustVolume(pcm []byte, factor float64) []byte {
	out := make([]byte, len(pcm))
	copy(out, pcm)
	n := len(out) / 2
	for i := 0; i < n; i++ {
		off := i * 2
		s := int16(binary.LittleEndian.Uint16(out[off : off+2]))
		v := float64(s) * factor
		out[off], out[off+1] = packInt16(saturate(v))
	}
	return out
}

func saturate(v float64) int16 {
	const max = float64(1<<15 - 1)
	const min = -float64(1 << 15)
	if v > max {
		return int16(max)
	}
	if v < min {
		return int16(min)
	}
	return int16(v)
}

func packInt16(s int16) (byte, byte) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:2], uint16(s))
	return b[0], b[1]
}

// DetectSilence reports whether the RMS amplitude of pcm is below
// threshold. An empty buffer is considered silent.
func DetectSilence(pcm []byte, threshold float64) bool {
	n := len(pcm) / 2
	if n == 0 {
		return true
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		off := i * 2
		s := float64(int16(binary.LittleEndian.Uint16(pcm[off : off+2])))
		sumSquares += s * s
	}
	rms := math.Sqrt(sumSquares / float64(n))
	return rms < threshold
}

// CreateSilence returns ms milliseconds of zeroed PCM16 mono at rate.
func CreateSilence(ms int, rate int) []byte {
	samples := rate * ms / 1000
	return make([]byte, samples*2)
}

// SplitFrames slices pcm into fixed-size frames of frameMs duration at
// rate, dropping any trailing partial frame.
func SplitFrames(pcm []byte, frameMs int, rate int) [][]byte {
	if frameMs <= 0 {
		frameMs = 20
	}
	frameBytes := rate * frameMs / 1000 * 2
	if frameBytes <= 0 {
		return nil
	}
	var frames [][]byte
	for off := 0; off+frameBytes <= len(pcm); off += frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, pcm[off:off+frameBytes])
		frames = append(frames, frame)
	}
	return frames
}

// Mix averages two PCM16 buffers sample-wise, saturating. Buffers of
// differing length are mixed up to the shorter length; the remainder of
// the longer buffer is appended unchanged.
func Mix(a, b []byte) []byte {
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	minLen -= minLen % 2
	out := make([]byte, maxInt(len(a), len(b)))
	for i := 0; i < minLen/2; i++ {
		off := i * 2
		sa := int32(int16(binary.LittleEndian.Uint16(a[off : off+2])))
		sb := int32(int16(binary.LittleEndian.Uint16(b[off : off+2])))
		avg := saturate(float64(sa+sb) / 2)
		out[off], out[off+1] = packInt16(avg)
	}
	if len(a) > minLen {
		copy(out[minLen:], a[minLen:])
	} else if len(b) > minLen {
		copy(out[minLen:], b[minLen:])
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
