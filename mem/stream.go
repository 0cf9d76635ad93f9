package mem

import (
	"context"
	"sync"
)

// streamBuffer is how many submitted ops a stream holds before Submit
// starts blocking the caller.
const streamBuffer = 64

type streamOp struct {
	run   func()
	fence *Fence
}

// Stream is a serial execution queue: ops run strictly in submission
// order on a single worker goroutine. It plays the role of an execution
// queue for stream-ordered resources; GPU-backed resources submit their
// device work from inside stream ops so host-side order and device-side
// order agree.
type Stream struct {
	name string
	ops  chan streamOp
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewStream starts a stream with its worker goroutine. The name only
// shows up in Context.String and logs.
func NewStream(name string) *Stream {
	s := &Stream{
		name: name,
		ops:  make(chan streamOp, streamBuffer),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Stream) loop() {
	for op := range s.ops {
		op.run()
		op.fence.Signal()
	}
	close(s.done)
}

func (s *Stream) Name() string { return s.name }

// Submit enqueues fn. The returned fence is signaled once fn has run and
// everything submitted before it has completed.
func (s *Stream) Submit(fn func()) (*Fence, error) {
	f := NewFence()

	// Hold the read lock across the send so Close cannot close the
	// channel under us.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	s.ops <- streamOp{run: fn, fence: f}
	return f, nil
}

// HostFunc enqueues a host callback, ordered like any other op. It is
// Submit under the name the execution-queue vocabulary uses.
func (s *Stream) HostFunc(fn func()) (*Fence, error) {
	return s.Submit(fn)
}

// Synchronize blocks until everything submitted so far has completed.
func (s *Stream) Synchronize(ctx context.Context) error {
	f, err := s.Submit(func() {})
	if err != nil {
		if err == ErrStreamClosed {
			// A closed stream has already drained.
			return nil
		}
		return err
	}
	return f.Wait(ctx)
}

// Close drains pending ops and stops the worker. Submitting to a closed
// stream returns ErrStreamClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ops)
	s.mu.Unlock()

	<-s.done
	return nil
}
