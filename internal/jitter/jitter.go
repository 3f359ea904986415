// Package jitter implements a bounded, sequence-keyed playout buffer:
// reject duplicates, evict the lowest sequence on overflow, and drain in
// expected-sequence order with a gap-skip once more than the target delay
// has elapsed since the first packet was inserted.
package jitter

import (
	"sync"
	"time"
)

// Packet is the minimal shape the jitter buffer needs from an RTP packet;
// callers copy these fields out of their parsed RTP packets.
type Packet struct {
	Sequence  uint16
	Timestamp uint32
	Payload   []byte
}

// Config configures a Buffer.
type Config struct {
	MaxSize       int
	TargetDelayMs int64
}

// Buffer is the per-call jitter buffer. All methods are safe for
// concurrent use, though in practice exactly one producer (the RTP
// receive loop) and one consumer (the drain loop) own a Buffer per call.
type Buffer struct {
	cfg Config
	now func() time.Time

	mu             sync.Mutex
	packets        map[uint16]Packet
	lastPlayedSeq  *uint16
	haveFirst      bool
	baseWallTime   time.Time
	packetsDropped uint64
	packetsSkipped uint64
}

// New creates a Buffer from cfg, defaulting MaxSize to 50 and
// TargetDelayMs to 60 when unset.
func New(cfg Config) *Buffer {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 50
	}
	if cfg.TargetDelayMs <= 0 {
		cfg.TargetDelayMs = 60
	}
	return &Buffer{
		cfg:     cfg,
		packets: make(map[uint16]Packet),
		now:     time.Now,
	}
}

// Insert adds pkt to the buffer. Duplicates by sequence are dropped
// silently. When the buffer is at capacity, the lowest sequence number
// present is evicted to make room. The first packet ever inserted anchors
// the wall-clock arrival time used by the gap-skip rule.
func (b *Buffer) Insert(pkt Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.haveFirst {
		b.haveFirst = true
		b.baseWallTime = b.now()
	}

	if _, dup := b.packets[pkt.Sequence]; dup {
		return
	}

	if len(b.packets) >= b.cfg.MaxSize {
		oldest := b.minSequenceLocked()
		delete(b.packets, oldest)
		b.packetsDropped++
	}

	b.packets[pkt.Sequence] = pkt
}

// Drain returns the next packet to play out, or ok=false when nothing is
// ready yet:
//   - if no packet has ever played, deliver the minimum buffered sequence;
//   - else compute expected = last+1 (mod 2^16); if present, deliver and
//     advance;
//   - else, if more than TargetDelayMs has elapsed since the first packet
//     ever inserted, skip the gap and deliver the minimum buffered
//     sequence (marking it skipped);
//   - otherwise return nothing yet.
func (b *Buffer) Drain() (Packet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.packets) == 0 {
		return Packet{}, false
	}

	if b.lastPlayedSeq == nil {
		seq := b.minSequenceLocked()
		pkt := b.packets[seq]
		delete(b.packets, seq)
		b.setLastPlayedLocked(seq)
		return pkt, true
	}

	expected := *b.lastPlayedSeq + 1
	if pkt, ok := b.packets[expected]; ok {
		delete(b.packets, expected)
		b.setLastPlayedLocked(expected)
		return pkt, true
	}

	if b.now().Sub(b.baseWallTime).Milliseconds() > b.cfg.TargetDelayMs {
		seq := b.minSequenceLocked()
		pkt := b.packets[seq]
		delete(b.packets, seq)
		b.packetsSkipped++
		b.setLastPlayedLocked(seq)
		return pkt, true
	}

	return Packet{}, false
}

// setLastPlayedLocked advances last_played_seq. base_wall_time is the
// anchor recorded once on the very first packet ever inserted (spec
// §4.4/§3) and is never reset here — the gap-skip rule measures elapsed
// time since that single anchor, not since the last delivered packet.
func (b *Buffer) setLastPlayedLocked(seq uint16) {
	b.lastPlayedSeq = &seq
}

func (b *Buffer) minSequenceLocked() uint16 {
	first := true
	var min uint16
	for seq := range b.packets {
		if first || seqLess(seq, min) {
			min = seq
			first = false
		}
	}
	return min
}

// seqLess orders 16-bit RTP sequence numbers accounting for wraparound:
// a is "less than" b if advancing from a to b by fewer than half the
// sequence space is shorter than advancing from b to a.
func seqLess(a, b uint16) bool {
	if a == b {
		return false
	}
	diff := b - a
	return diff < 0x8000
}

// Len returns the current number of buffered packets.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets)
}

// Stats reports cumulative counters for observability.
type Stats struct {
	Buffered int
	Dropped  uint64
	Skipped  uint64
}

// Stats returns a snapshot of buffer occupancy and drop/skip counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Buffered: len(b.packets),
		Dropped:  b.packetsDropped,
		Skipped:  b.packetsSkipped,
	}
}
