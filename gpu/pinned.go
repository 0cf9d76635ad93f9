package gpu

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/vram/mem"
)

// PinnedResource pairs aligned host bytes with a dedicated transfer
// buffer per allocation, standing in for page-locked memory: the host
// writes Bytes directly, Upload/Download move the bytes across without
// allocating a fresh staging buffer each time. Kind Pinned, any context.
type PinnedResource struct {
	ledger mem.Ledger

	mu      sync.Mutex
	staging map[*mem.Allocation]*wgpu.Buffer
	closed  bool
}

func NewPinnedResource() (*PinnedResource, error) {
	if _, err := GetContext(); err != nil {
		return nil, fmt.Errorf("pinned resource: %w", err)
	}
	return &PinnedResource{
		staging: make(map[*mem.Allocation]*wgpu.Buffer),
	}, nil
}

func (r *PinnedResource) Kind() mem.Kind       { return mem.Pinned }
func (r *PinnedResource) Context() mem.Context { return mem.AnyContext() }

func (r *PinnedResource) Allocate(size, align uint64) (*mem.Allocation, error) {
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
		Label: "vram/pinned",
		Size:  padSize(size),
		Usage: wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer buffer: %v", err)
	}

	a := mem.NewAllocation(r, size, align)
	a.Bytes = mem.AlignedBytes(size, align)
	a.Handle = buf
	r.staging[a] = buf
	r.ledger.Add(a)
	return a, nil
}

func (r *PinnedResource) Deallocate(a *mem.Allocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return mem.ErrClosed
	}
	if err := r.ledger.Remove(r, nil, a); err != nil {
		return err
	}

	buf := r.staging[a]
	delete(r.staging, a)
	buf.Destroy()
	a.Bytes = nil
	a.Handle = nil
	return nil
}

// Upload pushes the allocation's host bytes into its transfer buffer.
func (r *PinnedResource) Upload(a *mem.Allocation) error {
	if a.Owner() != r {
		return mem.ErrNotOwned
	}
	return Upload(a, a.Bytes)
}

// Download pulls the transfer buffer's contents back into the
// allocation's host bytes. Blocks until the copy completes.
func (r *PinnedResource) Download(a *mem.Allocation) error {
	if a.Owner() != r {
		return mem.ErrNotOwned
	}
	data, err := Download(a)
	if err != nil {
		return err
	}
	copy(a.Bytes, data)
	return nil
}

// Close destroys transfer buffers still outstanding.
func (r *PinnedResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	n := len(r.staging)
	for _, buf := range r.staging {
		buf.Destroy()
	}
	r.staging = nil

	if n > 0 {
		return fmt.Errorf("%d outstanding allocations at close", n)
	}
	return nil
}
