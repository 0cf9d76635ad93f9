package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/vram/mem"
)

// spBlock is one device buffer owned by a StreamPool.
type spBlock struct {
	buf  *wgpu.Buffer
	size uint64
}

// StreamPool is the stream-ordered device resource: allocation and
// release are ops on one stream. A released buffer rejoins the free list
// only when the stream reaches the release point, so reuse can never
// overtake work submitted before the free. Kind Device, stream context.
type StreamPool struct {
	stream *mem.Stream
	budget uint64 // bytes of device buffers held, 0 means unlimited

	ledger mem.Ledger

	mu     sync.Mutex
	held   uint64
	free   []*spBlock
	blocks map[*mem.Allocation]*spBlock
	closed bool
}

var _ mem.StreamOrderedResource = (*StreamPool)(nil)

func NewStreamPool(s *mem.Stream, budget uint64) (*StreamPool, error) {
	if _, err := GetContext(); err != nil {
		return nil, fmt.Errorf("stream pool: %w", err)
	}
	return &StreamPool{
		stream: s,
		budget: budget,
		blocks: make(map[*mem.Allocation]*spBlock),
	}, nil
}

func (p *StreamPool) Kind() mem.Kind       { return mem.Device }
func (p *StreamPool) Context() mem.Context { return mem.StreamContext(p.stream) }

// AllocateAsync enqueues the allocation on s, which must be the pool's
// stream. The returned record is ready once the stream reaches the op;
// check Allocation.Err after that. Failed allocations must not be
// deallocated.
func (p *StreamPool) AllocateAsync(s *mem.Stream, size, align uint64) (*mem.Allocation, error) {
	if s != p.stream {
		return nil, mem.ErrStreamMismatch
	}
	align, err := mem.NormalizeAlign(align)
	if err != nil {
		return nil, err
	}

	a := mem.NewAsyncAllocation(p, s, size, align)
	p.ledger.Add(a)

	_, err = s.Submit(func() {
		blk, err := p.takeBlock(size)
		if err != nil {
			_ = p.ledger.Remove(p, s, a)
			a.Complete(err)
			return
		}
		p.mu.Lock()
		p.blocks[a] = blk
		p.mu.Unlock()
		a.Handle = blk.buf
		a.Complete(nil)
	})
	if err != nil {
		_ = p.ledger.Remove(p, s, a)
		return nil, err
	}
	return a, nil
}

// takeBlock reuses a free block or creates a buffer, respecting the
// budget. Runs on the stream worker.
func (p *StreamPool) takeBlock(size uint64) (*spBlock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, mem.ErrClosed
	}

	for i, blk := range p.free {
		if blk.size >= size {
			p.free = append(p.free[:i], p.free[i+1:]...)
			return blk, nil
		}
	}

	padded := padSize(size)
	if p.budget > 0 && p.held+padded > p.budget {
		p.compact()
		if p.held+padded > p.budget {
			return nil, mem.ErrBudgetExceeded
		}
	}

	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	buf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "vram/stream",
		Size:  padded,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer: %v", err)
	}
	p.held += padded
	return &spBlock{buf: buf, size: padded}, nil
}

// compact destroys free buffers until held bytes drop under half the
// budget (mu held).
func (p *StreamPool) compact() {
	for len(p.free) > 0 && p.held > p.budget/2 {
		blk := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		blk.buf.Destroy()
		p.held -= blk.size
	}
}

// DeallocateAsync retires the record immediately and enqueues the
// release on s; the buffer rejoins the free list when the stream gets
// there.
func (p *StreamPool) DeallocateAsync(s *mem.Stream, a *mem.Allocation) error {
	if err := p.ledger.Remove(p, s, a); err != nil {
		return err
	}

	release := func() {
		p.mu.Lock()
		blk := p.blocks[a]
		delete(p.blocks, a)
		if blk != nil && !p.closed {
			p.free = append(p.free, blk)
		} else if blk != nil {
			blk.buf.Destroy()
		}
		p.mu.Unlock()
		a.Handle = nil
	}

	if _, err := s.Submit(release); err != nil {
		// Stream already closed and drained; release inline.
		release()
	}
	return nil
}

// Allocate is the synchronous path: enqueue on the pool's stream and
// wait for readiness.
func (p *StreamPool) Allocate(size, align uint64) (*mem.Allocation, error) {
	a, err := p.AllocateAsync(p.stream, size, align)
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
func (p *StreamPool) Deallocate(a *mem.Allocation) error {
	if err := p.DeallocateAsync(p.stream, a); err != nil {
		return err
	}
	return p.stream.Synchronize(context.Background())
}

// Stats is a snapshot of pool occupancy.
func (p *StreamPool) Stats() (heldBytes uint64, liveBlocks, freeBlocks int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held, len(p.blocks), len(p.free)
}

// Close waits for the stream to drain, then destroys every buffer the
// pool holds.
func (p *StreamPool) Close() error {
	_ = p.stream.Synchronize(context.Background())

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for _, blk := range p.free {
		blk.buf.Destroy()
	}
	for _, blk := range p.blocks {
		blk.buf.Destroy()
	}
	n := len(p.blocks)
	p.free = nil
	p.blocks = nil
	p.held = 0

	if n > 0 {
		return fmt.Errorf("%d outstanding allocations at close", n)
	}
	return nil
}
