package gpu

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/vram/mem"
)

// DeviceResource hands out device-local storage buffers: kind Device,
// any context. Host code cannot touch these allocations directly; use
// Upload/Download or copy through a pinned allocation.
type DeviceResource struct {
	budget uint64 // 0 means unlimited
	maxBuf uint64

	ledger mem.Ledger

	mu      sync.Mutex
	used    uint64
	buffers map[*mem.Allocation]*wgpu.Buffer
	closed  bool
}

// NewDeviceResource fails when no adapter/device is available. budget 0
// disables the soft cap; the adapter's MaxBufferSize still applies per
// allocation.
func NewDeviceResource(budget uint64) (*DeviceResource, error) {
	if _, err := GetContext(); err != nil {
		return nil, fmt.Errorf("device resource: %w", err)
	}
	return &DeviceResource{
		budget:  budget,
		maxBuf:  MaxBufferSize(),
		buffers: make(map[*mem.Allocation]*wgpu.Buffer),
	}, nil
}

func (r *DeviceResource) Kind() mem.Kind       { return mem.Device }
func (r *DeviceResource) Context() mem.Context { return mem.AnyContext() }

func (r *DeviceResource) Allocate(size, align uint64) (*mem.Allocation, error) {
	align, err := mem.NormalizeAlign(align)
	if err != nil {
		return nil, err
	}
	if r.maxBuf > 0 && size > r.maxBuf {
		return nil, fmt.Errorf("%d bytes exceeds adapter max buffer size %d", size, r.maxBuf)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, mem.ErrClosed
	}
	padded := padSize(size)
	if r.budget > 0 && r.used+padded > r.budget {
		return nil, mem.ErrBudgetExceeded
	}

	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	buf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "vram/device",
		Size:  padded,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer: %v", err)
	}

	a := mem.NewAllocation(r, size, align)
	a.Handle = buf
	r.buffers[a] = buf
	r.used += padded
	r.ledger.Add(a)
	return a, nil
}

func (r *DeviceResource) Deallocate(a *mem.Allocation) error {
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
	r.used -= padSize(a.Size)
	a.Handle = nil
	return nil
}

// Used returns bytes currently allocated from the device.
func (r *DeviceResource) Used() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

// Close destroys any buffers still outstanding and refuses further use.
func (r *DeviceResource) Close() error {
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
	r.used = 0

	if n > 0 {
		return fmt.Errorf("%d outstanding allocations at close", n)
	}
	return nil
}
