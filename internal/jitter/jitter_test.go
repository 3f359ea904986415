package jitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(cfg Config) (*Buffer, *fakeClock) {
	b := New(cfg)
	clk := &fakeClock{t: time.Unix(0, 0)}
	b.now = clk.Now
	return b, clk
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestDrainOrdersSequentialPackets(t *testing.T) {
	b, _ := newTestBuffer(Config{MaxSize: 10, TargetDelayMs: 60})
	b.Insert(Packet{Sequence: 2, Payload: []byte("b")})
	b.Insert(Packet{Sequence: 1, Payload: []byte("a")})

	p, ok := b.Drain()
	require.True(t, ok)
	assert.Equal(t, uint16(1), p.Sequence)

	p, ok = b.Drain()
	require.True(t, ok)
	assert.Equal(t, uint16(2), p.Sequence)

	_, ok = b.Drain()
	assert.False(t, ok)
}

func TestDuplicateSequenceDropped(t *testing.T) {
	b, _ := newTestBuffer(Config{MaxSize: 10, TargetDelayMs: 60})
	b.Insert(Packet{Sequence: 5})
	b.Insert(Packet{Sequence: 5})
	assert.Equal(t, 1, b.Len())
}

func TestOverflowEvictsOldest(t *testing.T) {
	b, _ := newTestBuffer(Config{MaxSize: 2, TargetDelayMs: 60})
	b.Insert(Packet{Sequence: 1})
	b.Insert(Packet{Sequence: 2})
	b.Insert(Packet{Sequence: 3})

	assert.Equal(t, 2, b.Len())
	p, ok := b.Drain()
	require.True(t, ok)
	assert.Equal(t, uint16(2), p.Sequence)
}

func TestGapSkipAfterTargetDelay(t *testing.T) {
	// seq 1,2,4,5,6 arrive at 0,20,40,60,80ms with target_delay_ms=60.
	// Expect 1,2 then, after the wait exceeds the target, 4,5,6 with a skip.
	b, clk := newTestBuffer(Config{MaxSize: 10, TargetDelayMs: 60})

	b.Insert(Packet{Sequence: 1})
	p, ok := b.Drain()
	require.True(t, ok)
	assert.Equal(t, uint16(1), p.Sequence)

	clk.Advance(20 * time.Millisecond)
	b.Insert(Packet{Sequence: 2})
	p, ok = b.Drain()
	require.True(t, ok)
	assert.Equal(t, uint16(2), p.Sequence)

	clk.Advance(20 * time.Millisecond)
	b.Insert(Packet{Sequence: 4})
	_, ok = b.Drain() // expected=3, not present, gap not yet old enough
	assert.False(t, ok)

	clk.Advance(20 * time.Millisecond)
	b.Insert(Packet{Sequence: 5})
	_, ok = b.Drain()
	assert.False(t, ok)

	clk.Advance(20 * time.Millisecond) // 80ms since seq 1 arrived, now > 60ms
	b.Insert(Packet{Sequence: 6})

	p, ok = b.Drain()
	require.True(t, ok)
	assert.Equal(t, uint16(4), p.Sequence)
	assert.Equal(t, uint64(1), b.Stats().Skipped)

	p, ok = b.Drain()
	require.True(t, ok)
	assert.Equal(t, uint16(5), p.Sequence)

	p, ok = b.Drain()
	require.True(t, ok)
	assert.Equal(t, uint16(6), p.Sequence)
}

func TestSequenceWrapPreservesOrdering(t *testing.T) {
	b, _ := newTestBuffer(Config{MaxSize: 10, TargetDelayMs: 60})
	b.Insert(Packet{Sequence: 65535})
	p, ok := b.Drain()
	require.True(t, ok)
	assert.Equal(t, uint16(65535), p.Sequence)

	b.Insert(Packet{Sequence: 0})
	p, ok = b.Drain()
	require.True(t, ok)
	assert.Equal(t, uint16(0), p.Sequence)
}
