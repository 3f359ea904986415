// Package moh implements music-on-hold: loading a PCM buffer from a file,
// remote stream, or generated tone, and playing it out to held calls in
// fixed-size chunks at wall-clock cadence.
package moh

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"os"

	"github.com/go-audio/wav"

	"github.com/Olib-AI/voicebridge/internal/resample"
)

// Kind identifies a hold-music source type.
type Kind string

const (
	KindFile      Kind = "file"
	KindStream    Kind = "stream"
	KindGenerated Kind = "generated"
)

// Source describes where hold audio comes from.
type Source struct {
	Kind Kind

	// Path is a filesystem path to a WAV file, used when Kind is
	// KindFile.
	Path string

	// URL is fetched over HTTP and decoded as WAV, used when Kind is
	// KindStream.
	URL string

	// ToneHz and ToneDurationMs configure a generated sine tone loop,
	// used when Kind is KindGenerated. ToneHz defaults to 440 and
	// ToneDurationMs to 2000 when zero.
	ToneHz         float64
	ToneDurationMs int
}

// Load produces a loop-ready PCM16LE mono buffer at sampleRate Hz for the
// source. WAV sources are resampled if their native rate differs.
func Load(src Source, sampleRate int) ([]byte, error) {
	switch src.Kind {
	case KindFile:
		f, err := openFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("moh: open %q: %w", src.Path, err)
		}
		defer f.Close()
		return decodeWAV(f, sampleRate)
	case KindStream:
		resp, err := http.Get(src.URL)
		if err != nil {
			return nil, fmt.Errorf("moh: fetch %q: %w", src.URL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("moh: fetch %q: status %d", src.URL, resp.StatusCode)
		}
		return decodeWAV(resp.Body, sampleRate)
	case KindGenerated:
		return generateTone(src, sampleRate), nil
	default:
		return nil, fmt.Errorf("moh: unknown source kind %q", src.Kind)
	}
}

func decodeWAV(r io.Reader, sampleRate int) ([]byte, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		rs = newByteSeeker(b)
	}

	d := wav.NewDecoder(rs)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("moh: decode wav: %w", err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	// Downmix to mono by taking the first channel only if the source is
	// multi-channel.
	pcm := make([]byte, 0, len(buf.Data)/channels*2+2)
	for i := 0; i < len(buf.Data); i += channels {
		v := int16(buf.Data[i])
		pcm = append(pcm, byte(v), byte(v>>8))
	}

	srcRate := buf.Format.SampleRate
	if srcRate == 0 {
		srcRate = sampleRate
	}
	if srcRate == sampleRate {
		return pcm, nil
	}
	return resample.Resample(pcm, srcRate, sampleRate), nil
}

func generateTone(src Source, sampleRate int) []byte {
	hz := src.ToneHz
	if hz <= 0 {
		hz = 440
	}
	durationMs := src.ToneDurationMs
	if durationMs <= 0 {
		durationMs = 2000
	}
	n := sampleRate * durationMs / 1000
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		v := int16(0.3 * 32767 * math.Sin(2*math.Pi*hz*t))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// byteSeeker adapts an in-memory byte slice to io.ReadSeeker for sources
// (e.g. HTTP bodies) that don't natively support seeking, which
// go-audio/wav's decoder requires.
type byteSeeker struct {
	data []byte
	pos  int64
}

func newByteSeeker(data []byte) *byteSeeker {
	return &byteSeeker{data: data}
}

func (b *byteSeeker) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *byteSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = b.pos + offset
	case io.SeekEnd:
		newPos = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("moh: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("moh: negative seek position")
	}
	b.pos = newPos
	return newPos, nil
}

func openFile(path string) (io.ReadCloser, error) {
	return os.Open(path)
}
