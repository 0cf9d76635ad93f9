package gpu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/vram/mem"
)

// requireGPU skips when no adapter/device is available, so the suite
// still passes on headless CI.
func requireGPU(t *testing.T) {
	t.Helper()
	if _, err := GetContext(); err != nil {
		t.Skipf("no GPU available: %v", err)
	}
}

func TestDeviceRoundTrip(t *testing.T) {
	requireGPU(t)

	dev, err := NewDeviceResource(16 << 20)
	require.NoError(t, err)

	a, err := dev.Allocate(4096, 0)
	require.NoError(t, err)
	assert.Equal(t, mem.Device, a.Kind)
	assert.Nil(t, a.Bytes, "device memory has no host view")
	assert.Equal(t, uint64(4096), dev.Used())

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	require.NoError(t, Upload(a, payload))

	back, err := Download(a)
	require.NoError(t, err)
	assert.Equal(t, payload, back)

	require.NoError(t, dev.Deallocate(a))
	assert.Zero(t, dev.Used())
	require.NoError(t, dev.Close())
}

func TestPadSize(t *testing.T) {
	cases := []struct {
		in, want uint64
	}{
		{0, 0},
		{1, 4},
		{3, 4},
		{4, 4},
		{6, 8},
		{4096, 4096},
		{4097, 4100},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, padSize(c.in), "padSize(%d)", c.in)
	}

	// Aligned input comes back as-is, no copy.
	even := []byte{1, 2, 3, 4}
	assert.Equal(t, &even[0], &padBytes(even)[0])

	odd := padBytes([]byte{1, 2, 3, 4, 5, 6})
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 0, 0}, odd)
}

// Odd-sized allocations must still survive a full transfer: WebGPU
// rejects copies and writes that are not 4-byte multiples, so the
// buffers are padded while the allocation keeps its requested size.
func TestDeviceOddSizeRoundTrip(t *testing.T) {
	requireGPU(t)

	dev, err := NewDeviceResource(16 << 20)
	require.NoError(t, err)
	defer dev.Close()

	a, err := dev.Allocate(6, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), a.Size)
	assert.Equal(t, uint64(8), dev.Used())

	payload := []byte{10, 20, 30, 40, 50, 60}
	require.NoError(t, Upload(a, payload))

	back, err := Download(a)
	require.NoError(t, err)
	assert.Equal(t, payload, back)

	require.NoError(t, dev.Deallocate(a))
	assert.Zero(t, dev.Used())
}

func TestDeviceBudget(t *testing.T) {
	requireGPU(t)

	dev, err := NewDeviceResource(8192)
	require.NoError(t, err)
	defer dev.Close()

	a, err := dev.Allocate(8192, 0)
	require.NoError(t, err)

	_, err = dev.Allocate(1, 0)
	assert.ErrorIs(t, err, mem.ErrBudgetExceeded)

	require.NoError(t, dev.Deallocate(a))
}

func TestStreamPoolDeferredReuse(t *testing.T) {
	requireGPU(t)

	s := mem.NewStream("test")
	defer s.Close()

	p, err := NewStreamPool(s, 16<<20)
	require.NoError(t, err)

	a, err := p.AllocateAsync(s, 4096, 0)
	require.NoError(t, err)
	require.NoError(t, a.Ready().Wait(context.Background()))
	require.NoError(t, a.Err())

	// Hold the stream so the release stays pending.
	gate := make(chan struct{})
	_, err = s.Submit(func() { <-gate })
	require.NoError(t, err)
	require.NoError(t, p.DeallocateAsync(s, a))

	held, live, free := p.Stats()
	assert.Equal(t, uint64(4096), held)
	assert.Equal(t, 1, live, "buffer not reusable before the stream passes the release")
	assert.Zero(t, free)

	close(gate)
	require.NoError(t, s.Synchronize(context.Background()))

	held, live, free = p.Stats()
	assert.Equal(t, uint64(4096), held)
	assert.Zero(t, live)
	assert.Equal(t, 1, free)

	// The freed buffer now serves the next allocation.
	b, err := p.Allocate(4096, 0)
	require.NoError(t, err)
	held, _, _ = p.Stats()
	assert.Equal(t, uint64(4096), held)

	require.NoError(t, p.Deallocate(b))
	require.NoError(t, p.Close())
}

func TestStreamPoolWrongStream(t *testing.T) {
	requireGPU(t)

	s1 := mem.NewStream("one")
	defer s1.Close()
	s2 := mem.NewStream("two")
	defer s2.Close()

	p, err := NewStreamPool(s1, 16<<20)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.AllocateAsync(s2, 64, 0)
	assert.ErrorIs(t, err, mem.ErrStreamMismatch)
}
