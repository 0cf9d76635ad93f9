package gpu

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"go.uber.org/zap"

	"github.com/openfluke/vram/mem"
)

// UnifiedResource emulates unified memory: each allocation is a device
// storage buffer shadowed by host bytes. The two sides agree only at
// explicit sync points — Flush pushes host changes to the device,
// Invalidate pulls device changes back — both ordered against a stream.
// Kind Unified, any context.
type UnifiedResource struct {
	ledger mem.Ledger

	mu      sync.Mutex
	buffers map[*mem.Allocation]*wgpu.Buffer
	closed  bool
}

func NewUnifiedResource() (*UnifiedResource, error) {
	if _, err := GetContext(); err != nil {
		return nil, fmt.Errorf("unified resource: %w", err)
	}
	return &UnifiedResource{
		buffers: make(map[*mem.Allocation]*wgpu.Buffer),
	}, nil
}

func (r *UnifiedResource) Kind() mem.Kind       { return mem.Unified }
func (r *UnifiedResource) Context() mem.Context { return mem.AnyContext() }

func (r *UnifiedResource) Allocate(size, align uint64) (*mem.Allocation, error) {
	align, err := mem.NormalizeAlign(align)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, mem.ErrClosed
	}

	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	buf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "vram/unified",
		Size:  padSize(size),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer: %v", err)
	}

	a := mem.NewAllocation(r, size, align)
	a.Bytes = mem.AlignedBytes(size, align)
	a.Handle = buf
	r.buffers[a] = buf
	r.ledger.Add(a)
	return a, nil
}

func (r *UnifiedResource) Deallocate(a *mem.Allocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return mem.ErrClosed
	}
	if err := r.ledger.Remove(r, nil, a); err != nil {
		return err
	}

	buf := r.buffers[a]
	delete(r.buffers, a)
	buf.Destroy()
	a.Bytes = nil
	a.Handle = nil
	return nil
}

// Flush enqueues a host-to-device sync of a on s. The returned fence is
// signaled once the device side is current.
func (r *UnifiedResource) Flush(s *mem.Stream, a *mem.Allocation) (*mem.Fence, error) {
	if a.Owner() != r {
		return nil, mem.ErrNotOwned
	}
	buf, ok := a.Handle.(*wgpu.Buffer)
	if !ok {
		return nil, fmt.Errorf("allocation has no device buffer")
	}
	host := a.Bytes

	return s.Submit(func() {
		c, err := GetContext()
		if err != nil {
			log.Warn("flush lost its device", zap.Error(err))
			return
		}
		c.Queue.WriteBuffer(buf, 0, padBytes(host))
	})
}

// Invalidate enqueues a device-to-host sync of a on s. The returned
// fence is signaled once the host bytes are current.
func (r *UnifiedResource) Invalidate(s *mem.Stream, a *mem.Allocation) (*mem.Fence, error) {
	if a.Owner() != r {
		return nil, mem.ErrNotOwned
	}
	buf, ok := a.Handle.(*wgpu.Buffer)
	if !ok {
		return nil, fmt.Errorf("allocation has no device buffer")
	}
	host := a.Bytes
	size := a.Size

	return s.Submit(func() {
		data, err := downloadBuffer(buf, size)
		if err != nil {
			log.Warn("invalidate readback failed", zap.Error(err))
			return
		}
		copy(host, data)
	})
}

// Close destroys any buffers still outstanding.
func (r *UnifiedResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	n := len(r.buffers)
	for _, buf := range r.buffers {
		buf.Destroy()
	}
	r.buffers = nil

	if n > 0 {
		return fmt.Errorf("%d outstanding allocations at close", n)
	}
	return nil
}
