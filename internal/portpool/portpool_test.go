package portpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateOnlyEvenPorts(t *testing.T) {
	p, err := New(Range{Min: 10000, Max: 10006})
	require.NoError(t, err)

	seen := map[int]bool{}
	for i := 0; i < 4; i++ {
		port, err := p.Allocate()
		require.NoError(t, err)
		assert.Equal(t, 0, port%2)
		seen[port] = true
	}
	assert.Len(t, seen, 4)
}

func TestAllocateExhaustion(t *testing.T) {
	p, err := New(Range{Min: 10000, Max: 10002})
	require.NoError(t, err)

	_, err = p.Allocate()
	require.NoError(t, err)
	_, err = p.Allocate()
	require.NoError(t, err)
	_, err = p.Allocate()
	assert.Error(t, err)
}

func TestReleaseAllowsReallocation(t *testing.T) {
	p, err := New(Range{Min: 10000, Max: 10000})
	require.NoError(t, err)

	port, err := p.Allocate()
	require.NoError(t, err)
	_, err = p.Allocate()
	assert.Error(t, err)

	p.Release(port)
	again, err := p.Allocate()
	require.NoError(t, err)
	assert.Equal(t, port, again)
}
