package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/vram/mem"
)

func TestPoolReusesFreedBlocks(t *testing.T) {
	host := mem.NewHostResource()
	p := New(host, 1<<20)

	a, err := p.Allocate(1024, 0)
	require.NoError(t, err)
	assert.Equal(t, mem.Host, a.Kind)
	require.NoError(t, p.Deallocate(a))

	upCount, _ := host.Outstanding()
	assert.Equal(t, 1, upCount, "freed block stays held from upstream")

	// Same-size request comes from the free list, not upstream.
	b, err := p.Allocate(1024, 0)
	require.NoError(t, err)
	upCount, _ = host.Outstanding()
	assert.Equal(t, 1, upCount)

	// A smaller request also fits the recycled block.
	require.NoError(t, p.Deallocate(b))
	c, err := p.Allocate(512, 0)
	require.NoError(t, err)
	assert.Len(t, c.Bytes, 512)
	upCount, _ = host.Outstanding()
	assert.Equal(t, 1, upCount)

	require.NoError(t, p.Deallocate(c))
	require.NoError(t, p.Close())
}

func TestPoolExhaustionAndCompaction(t *testing.T) {
	host := mem.NewHostResource()
	p := New(host, 1000)

	a, err := p.Allocate(600, 0)
	require.NoError(t, err)

	// Live block pins 600 of 1000; no room and nothing to compact.
	_, err = p.Allocate(600, 0)
	assert.ErrorIs(t, err, ErrPoolExhausted)

	// Once freed, the block serves an equal-sized request directly.
	require.NoError(t, p.Deallocate(a))
	b, err := p.Allocate(600, 0)
	require.NoError(t, err)

	st := p.Stats()
	assert.Equal(t, uint64(600), st.HeldBytes)
	assert.Equal(t, 1, st.LiveBlocks)
	assert.Zero(t, st.FreeBlocks)

	// A bigger request cannot reuse the 600-byte block; compaction
	// drops it upstream to fund the new one.
	require.NoError(t, p.Deallocate(b))
	c, err := p.Allocate(700, 0)
	require.NoError(t, err)

	st = p.Stats()
	assert.Equal(t, uint64(700), st.HeldBytes)
	assert.Zero(t, st.FreeBlocks)

	require.NoError(t, p.Deallocate(c))
	require.NoError(t, p.Close())
}

func TestPoolStats(t *testing.T) {
	p := New(mem.NewHostResource(), 1000)

	a, err := p.Allocate(600, 0)
	require.NoError(t, err)

	st := p.Stats()
	assert.Equal(t, uint64(1000), st.MaxBytes)
	assert.Equal(t, uint64(600), st.HeldBytes)
	assert.Equal(t, 1, st.LiveBlocks)
	assert.Zero(t, st.FreeBlocks)

	require.NoError(t, p.Deallocate(a))
	st = p.Stats()
	assert.Zero(t, st.LiveBlocks)
	assert.Equal(t, 1, st.FreeBlocks)

	require.NoError(t, p.Close())
}

func TestPoolReturnInvariant(t *testing.T) {
	p := New(mem.NewHostResource(), 1<<20)
	other := New(mem.NewHostResource(), 1<<20)

	a, err := p.Allocate(64, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, other.Deallocate(a), mem.ErrNotOwned)
	require.NoError(t, p.Deallocate(a))
	assert.ErrorIs(t, p.Deallocate(a), mem.ErrAlreadyFreed)
}

func TestPoolClosed(t *testing.T) {
	host := mem.NewHostResource()
	p := New(host, 1<<20)

	a, err := p.Allocate(64, 0)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	// Close released everything upstream, live blocks included.
	upCount, _ := host.Outstanding()
	assert.Zero(t, upCount)

	_, err = p.Allocate(64, 0)
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.ErrorIs(t, p.Deallocate(a), ErrPoolClosed)
	require.NoError(t, p.Close())
}

func TestPoolAlignmentRespected(t *testing.T) {
	p := New(mem.NewHostResource(), 1<<20)

	a, err := p.Allocate(100, 64)
	require.NoError(t, err)
	require.NoError(t, p.Deallocate(a))

	// A stricter alignment request must not reuse the weaker block.
	b, err := p.Allocate(100, 4096)
	require.NoError(t, err)
	st := p.Stats()
	assert.Equal(t, 1, st.FreeBlocks, "64-aligned block stays on the free list")

	require.NoError(t, p.Deallocate(b))
	require.NoError(t, p.Close())
}
