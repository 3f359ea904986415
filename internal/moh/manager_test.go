package moh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartGeneratedSourcePlaysLoopingChunks(t *testing.T) {
	m := NewManager(8000)
	var chunks [][]byte
	err := m.Start("c1", Source{Kind: KindGenerated, ToneHz: 440, ToneDurationMs: 100}, func(chunk []byte) {
		cp := make([]byte, len(chunk))
		copy(cp, chunk)
		chunks = append(chunks, cp)
	})
	require.NoError(t, err)
	assert.True(t, m.Active("c1"))

	for i := 0; i < 10; i++ {
		m.tickAll()
	}
	require.Len(t, chunks, 10)
	for _, c := range chunks {
		assert.Len(t, c, DefaultChunkBytes)
	}
}

func TestStopRemovesPlayer(t *testing.T) {
	m := NewManager(8000)
	require.NoError(t, m.Start("c1", Source{Kind: KindGenerated}, func([]byte) {}))
	m.Stop("c1")
	assert.False(t, m.Active("c1"))
}

func TestPlayerLoopsAcrossBufferBoundary(t *testing.T) {
	p := &player{buf: []byte{1, 2, 3, 4, 5, 6}, chunkSize: 4}
	var got [][]byte
	p.sink = func(c []byte) {
		cp := make([]byte, len(c))
		copy(cp, c)
		got = append(got, cp)
	}
	p.tick()
	p.tick()
	require.Len(t, got, 2)
	assert.Equal(t, []byte{1, 2, 3, 4}, got[0])
	assert.Equal(t, []byte{5, 6, 1, 2}, got[1])
}

func TestGenerateToneDefaultsWhenUnset(t *testing.T) {
	out := generateTone(Source{}, 8000)
	assert.Len(t, out, 8000*2*2) // 2000ms default, 16-bit samples
}

func TestLoadUnknownKindErrors(t *testing.T) {
	_, err := Load(Source{Kind: "bogus"}, 8000)
	assert.Error(t, err)
}
