// Package resample converts linear PCM16 mono audio between sample rates:
// fast zero-order-hold/decimation paths for the 8kHz<->16kHz telephony/AI
// cases, and a polyphase fallback for arbitrary ratios.
package resample

import (
	"encoding/binary"

	resampler "github.com/tphakala/go-audio-resampler"
)

// Resample converts pcm (PCM16LE mono) from sourceRate to targetRate.
// Same-rate input is the identity. 8<->16kHz uses exact hold/decimation;
// any other ratio falls back to a polyphase resampler producing
// ceil(n*target/source) samples with int16 saturation.
func Resample(pcm []byte, sourceRate, targetRate int) []byte {
	if sourceRate <= 0 || targetRate <= 0 || sourceRate == targetRate {
		return pcm
	}
	switch {
	case sourceRate == 8000 && targetRate == 16000:
		return upsampleHold(pcm, 2)
	case sourceRate == 16000 && targetRate == 8000:
		return downsampleDecimate(pcm, 2)
	default:
		return polyphase(pcm, sourceRate, targetRate)
	}
}

func upsampleHold(pcm []byte, factor int) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*factor*2)
	for i := 0; i < n; i++ {
		s := pcm[i*2 : i*2+2]
		for k := 0; k < factor; k++ {
			off := (i*factor + k) * 2
			out[off] = s[0]
			out[off+1] = s[1]
		}
	}
	return out
}

func downsampleDecimate(pcm []byte, factor int) []byte {
	n := len(pcm) / 2
	outN := n / factor
	out := make([]byte, outN*2)
	for i := 0; i < outN; i++ {
		src := pcm[i*factor*2 : i*factor*2+2]
		copy(out[i*2:i*2+2], src)
	}
	return out
}

// polyphase delegates the arbitrary-ratio case to the pack's interpolating
// resampler, producing ceil(n*target/source) output samples.
func polyphase(pcm []byte, sourceRate, targetRate int) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return pcm
	}
	in := make([]int16, n)
	for i := 0; i < n; i++ {
		in[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	outN := (n*targetRate + sourceRate - 1) / sourceRate
	out, err := resampler.Resample(in, sourceRate, targetRate, outN)
	if err != nil {
		return pcm
	}
	buf := make([]byte, len(out)*2)
	for i, s := range out {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(s))
	}
	return buf
}

// StreamingResampler wraps Resample for a chunked input stream, buffering
// the source-rate remainder that doesn't divide evenly into a full output
// frame and emitting it on the next Push call rather than dropping or
// padding it.
type StreamingResampler struct {
	sourceRate, targetRate int
	outFrameBytes          int
	remainder              []byte
}

// NewStreamingResampler creates a resampler that emits complete
// outFrameBytes-sized PCM16 chunks at targetRate.
func NewStreamingResampler(sourceRate, targetRate, outFrameBytes int) *StreamingResampler {
	return &StreamingResampler{
		sourceRate:    sourceRate,
		targetRate:    targetRate,
		outFrameBytes: outFrameBytes,
	}
}

// Push resamples chunk and returns zero or more full outFrameBytes
// chunks; any undersized tail is buffered for the next call.
func (s *StreamingResampler) Push(chunk []byte) [][]byte {
	resampled := Resample(chunk, s.sourceRate, s.targetRate)
	buf := append(s.remainder, resampled...)

	var frames [][]byte
	for len(buf) >= s.outFrameBytes {
		frame := make([]byte, s.outFrameBytes)
		copy(frame, buf[:s.outFrameBytes])
		frames = append(frames, frame)
		buf = buf[s.outFrameBytes:]
	}
	s.remainder = append([]byte(nil), buf...)
	return frames
}

// Flush returns any buffered remainder, zero-padded to a full frame, and
// resets internal state. Callers that need the final partial frame at
// stream end should call this once after the last Push.
func (s *StreamingResampler) Flush() []byte {
	if len(s.remainder) == 0 {
		return nil
	}
	frame := make([]byte, s.outFrameBytes)
	copy(frame, s.remainder)
	s.remainder = nil
	return frame
}
