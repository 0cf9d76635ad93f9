package mem

import (
	"context"
	"sync"
)

// StreamAdapter turns any synchronous Resource into a
// StreamOrderedResource bound to one stream. Allocation and release run
// as stream ops, so they are ordered against everything else submitted
// to that stream.
type StreamAdapter struct {
	base Resource
	s    *Stream

	ledger Ledger

	mu    sync.Mutex
	inner map[*Allocation]*Allocation // adapter allocation -> base allocation
}

var _ StreamOrderedResource = (*StreamAdapter)(nil)

func NewStreamAdapter(base Resource, s *Stream) *StreamAdapter {
	return &StreamAdapter{
		base:  base,
		s:     s,
		inner: make(map[*Allocation]*Allocation),
	}
}

func (r *StreamAdapter) Kind() Kind       { return r.base.Kind() }
func (r *StreamAdapter) Context() Context { return StreamContext(r.s) }

// AllocateAsync enqueues the allocation on s. The returned record is not
// ready until the stream reaches the op; a failed deferred allocation
// reports through Allocation.Err and must not be deallocated.
func (r *StreamAdapter) AllocateAsync(s *Stream, size, align uint64) (*Allocation, error) {
	if s != r.s {
		return nil, ErrStreamMismatch
	}
	align, err := NormalizeAlign(align)
	if err != nil {
		return nil, err
	}

	a := NewAsyncAllocation(r, s, size, align)
	r.ledger.Add(a)

	_, err = s.Submit(func() {
		in, err := r.base.Allocate(size, align)
		if err != nil {
			_ = r.ledger.Remove(r, s, a)
			a.Complete(err)
			return
		}
		r.mu.Lock()
		r.inner[a] = in
		r.mu.Unlock()
		a.Bytes = in.Bytes
		a.Handle = in.Handle
		a.Complete(nil)
	})
	if err != nil {
		_ = r.ledger.Remove(r, s, a)
		return nil, err
	}
	return a, nil
}

// DeallocateAsync enqueues the release on s. The record is retired
// immediately (double frees fail fast); the base memory is reclaimed
// when the stream reaches the op.
func (r *StreamAdapter) DeallocateAsync(s *Stream, a *Allocation) error {
	if err := r.ledger.Remove(r, s, a); err != nil {
		return err
	}

	release := func() {
		r.mu.Lock()
		in := r.inner[a]
		delete(r.inner, a)
		r.mu.Unlock()
		if in != nil {
			_ = r.base.Deallocate(in)
		}
		a.Bytes = nil
		a.Handle = nil
	}

	if _, err := s.Submit(release); err != nil {
		// Stream already closed and drained; release inline.
		release()
	}
	return nil
}

// Allocate is the synchronous path: enqueue on the bound stream, then
// wait for readiness.
func (r *StreamAdapter) Allocate(size, align uint64) (*Allocation, error) {
	a, err := r.AllocateAsync(r.s, size, align)
	if err != nil {
		return nil, err
	}
	if err := a.Ready().Wait(context.Background()); err != nil {
		return nil, err
	}
	if a.Err() != nil {
		return nil, a.Err()
	}
	return a, nil
}

// Deallocate enqueues the release and waits for the stream to pass it.
func (r *StreamAdapter) Deallocate(a *Allocation) error {
	if err := r.DeallocateAsync(r.s, a); err != nil {
		return err
	}
	return r.s.Synchronize(context.Background())
}

// Outstanding returns live allocation count and bytes.
func (r *StreamAdapter) Outstanding() (int, uint64) { return r.ledger.Outstanding() }
