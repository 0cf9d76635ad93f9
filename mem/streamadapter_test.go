package mem

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamAdapterAsyncAllocate(t *testing.T) {
	s := NewStream("alloc")
	defer s.Close()

	host := NewHostResource()
	r := NewStreamAdapter(host, s)

	assert.Equal(t, Host, r.Kind())
	assert.Equal(t, StreamContext(s), r.Context())

	a, err := r.AllocateAsync(s, 128, 0)
	require.NoError(t, err)
	assert.Equal(t, s, a.Stream())

	require.NoError(t, a.Ready().Wait(context.Background()))
	require.NoError(t, a.Err())
	assert.Len(t, a.Bytes, 128)

	require.NoError(t, r.DeallocateAsync(s, a))
	require.NoError(t, s.Synchronize(context.Background()))

	count, _ := host.Outstanding()
	assert.Zero(t, count)
}

func TestStreamAdapterDeferredRelease(t *testing.T) {
	s := NewStream("deferred")
	defer s.Close()

	host := NewHostResource()
	r := NewStreamAdapter(host, s)

	a, err := r.Allocate(64, 0)
	require.NoError(t, err)

	// Hold the stream so the enqueued release cannot run yet.
	gate := make(chan struct{})
	_, err = s.Submit(func() { <-gate })
	require.NoError(t, err)

	require.NoError(t, r.DeallocateAsync(s, a))

	// The record is retired immediately...
	assert.ErrorIs(t, r.DeallocateAsync(s, a), ErrAlreadyFreed)

	// ...but the base memory is still held until the stream gets there.
	count, _ := host.Outstanding()
	assert.Equal(t, 1, count)

	close(gate)
	require.NoError(t, s.Synchronize(context.Background()))
	count, _ = host.Outstanding()
	assert.Zero(t, count)
}

func TestStreamAdapterStreamMismatch(t *testing.T) {
	s1 := NewStream("one")
	defer s1.Close()
	s2 := NewStream("two")
	defer s2.Close()

	r := NewStreamAdapter(NewHostResource(), s1)

	_, err := r.AllocateAsync(s2, 64, 0)
	assert.ErrorIs(t, err, ErrStreamMismatch)

	a, err := r.Allocate(64, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, r.DeallocateAsync(s2, a), ErrStreamMismatch)
	require.NoError(t, r.Deallocate(a))
}

// errorResource refuses every allocation.
type errorResource struct{ err error }

func (r *errorResource) Allocate(size, align uint64) (*Allocation, error) { return nil, r.err }
func (r *errorResource) Deallocate(a *Allocation) error                   { return nil }
func (r *errorResource) Kind() Kind                                       { return Host }
func (r *errorResource) Context() Context                                 { return AnyContext() }

func TestStreamAdapterDeferredFailure(t *testing.T) {
	s := NewStream("fail")
	defer s.Close()

	base := &errorResource{err: errors.New("backing store full")}
	r := NewStreamAdapter(base, s)

	a, err := r.AllocateAsync(s, 64, 0)
	require.NoError(t, err, "submission itself succeeds")

	require.NoError(t, a.Ready().Wait(context.Background()))
	assert.ErrorIs(t, a.Err(), base.err)

	// Failed allocations are retired, not deallocatable.
	assert.Error(t, r.DeallocateAsync(s, a))

	count, _ := r.Outstanding()
	assert.Zero(t, count)

	// The synchronous path surfaces the same error directly.
	_, err = r.Allocate(64, 0)
	assert.ErrorIs(t, err, base.err)
}
