package mem

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostAllocateAligned(t *testing.T) {
	r := NewHostResource()

	for _, align := range []uint64{0, 8, 64, 256, 4096} {
		a, err := r.Allocate(100, align)
		require.NoError(t, err)

		want := align
		if want == 0 {
			want = DefaultAlign
		}
		addr := uintptr(unsafe.Pointer(&a.Bytes[0]))
		assert.Zerof(t, uint64(addr)%want, "align %d", align)
		assert.Len(t, a.Bytes, 100)
		assert.Equal(t, Host, a.Kind)
		assert.True(t, a.Ready().Done(), "sync allocations are ready immediately")

		require.NoError(t, r.Deallocate(a))
	}

	count, bytes := r.Outstanding()
	assert.Zero(t, count)
	assert.Zero(t, bytes)
}

func TestResourceEqual(t *testing.T) {
	r1 := NewHostResource()
	r2 := NewHostResource()

	assert.True(t, Equal(r1, r1))
	assert.False(t, Equal(r1, r2), "matching kind and context is not enough")

	s := NewStream("eq")
	defer s.Close()
	ad := NewStreamAdapter(r1, s)
	assert.True(t, Equal(ad, ad))
	assert.False(t, Equal(ad, r1), "a wrapper is not its base")
}

func TestHostBadAlign(t *testing.T) {
	r := NewHostResource()
	_, err := r.Allocate(16, 3)
	assert.ErrorIs(t, err, ErrBadAlign)
}

func TestHostReturnInvariant(t *testing.T) {
	r1 := NewHostResource()
	r2 := NewHostResource()

	a, err := r1.Allocate(64, 0)
	require.NoError(t, err)

	// Wrong instance, even with identical kind and context.
	assert.ErrorIs(t, r2.Deallocate(a), ErrNotOwned)
	assert.ErrorIs(t, r2.Deallocate(nil), ErrNotOwned)

	// Tampered size and alignment.
	a.Size = 65
	assert.ErrorIs(t, r1.Deallocate(a), ErrSizeMismatch)
	a.Size = 64
	a.Align = 128
	assert.ErrorIs(t, r1.Deallocate(a), ErrAlignMismatch)
	a.Align = DefaultAlign

	require.NoError(t, r1.Deallocate(a))
	assert.ErrorIs(t, r1.Deallocate(a), ErrAlreadyFreed)
}

func TestHostOutstandingAccounting(t *testing.T) {
	r := NewHostResource()

	a, err := r.Allocate(100, 0)
	require.NoError(t, err)
	b, err := r.Allocate(200, 0)
	require.NoError(t, err)

	count, bytes := r.Outstanding()
	assert.Equal(t, 2, count)
	assert.Equal(t, uint64(300), bytes)

	require.NoError(t, r.Deallocate(a))
	require.NoError(t, r.Deallocate(b))

	count, bytes = r.Outstanding()
	assert.Zero(t, count)
	assert.Zero(t, bytes)
}
