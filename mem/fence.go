package mem

import (
	"context"
	"sync"
)

// Fence is a one-shot completion marker. Streams signal a fence when
// execution passes the point it was submitted at.
type Fence struct {
	done chan struct{}
	once sync.Once
}

func NewFence() *Fence {
	return &Fence{done: make(chan struct{})}
}

// Signal marks the fence reached. Safe to call more than once.
func (f *Fence) Signal() {
	f.once.Do(func() { close(f.done) })
}

// Done reports whether the fence has been signaled, without blocking.
func (f *Fence) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the fence is signaled or ctx is cancelled.
func (f *Fence) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
