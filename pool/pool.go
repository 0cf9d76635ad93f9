// Package pool provides pooling resources layered over any mem.Resource:
// a first-fit free-list pool and an LRU cache of recently freed blocks.
// Both exist to cut round trips to expensive upstream allocators (device
// buffers, pinned memory).
package pool

import (
	"errors"
	"sync"

	"github.com/openfluke/vram/mem"
)

var (
	ErrPoolExhausted = errors.New("memory pool exhausted")
	ErrPoolClosed    = errors.New("memory pool closed")
)

// block is one upstream allocation owned by the pool.
type block struct {
	upstream *mem.Allocation
	size     uint64
	align    uint64
}

// Pool recycles upstream allocations through a first-fit free list,
// capped at maxBytes held from upstream. Kind and context are the
// upstream's.
type Pool struct {
	upstream mem.Resource
	maxBytes uint64

	ledger mem.Ledger

	mu        sync.Mutex
	heldBytes uint64
	free      []*block
	live      map[*mem.Allocation]*block
	closed    bool
}

func New(upstream mem.Resource, maxBytes uint64) *Pool {
	return &Pool{
		upstream: upstream,
		maxBytes: maxBytes,
		live:     make(map[*mem.Allocation]*block),
	}
}

func (p *Pool) Kind() mem.Kind       { return p.upstream.Kind() }
func (p *Pool) Context() mem.Context { return p.upstream.Context() }

func (p *Pool) Allocate(size, align uint64) (*mem.Allocation, error) {
	align, err := mem.NormalizeAlign(align)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	// First fit from the free list. Power-of-two alignments mean a
	// stricter block satisfies any weaker request.
	for i, blk := range p.free {
		if blk.size >= size && blk.align >= align {
			p.free = append(p.free[:i], p.free[i+1:]...)
			return p.handOut(blk, size, align), nil
		}
	}

	if p.heldBytes+size > p.maxBytes {
		p.compact()
		if p.heldBytes+size > p.maxBytes {
			return nil, ErrPoolExhausted
		}
	}

	up, err := p.upstream.Allocate(size, align)
	if err != nil {
		return nil, err
	}
	p.heldBytes += size
	return p.handOut(&block{upstream: up, size: size, align: align}, size, align), nil
}

// handOut wraps blk in a pool-owned allocation record (mu held).
func (p *Pool) handOut(blk *block, size, align uint64) *mem.Allocation {
	a := mem.NewAllocation(p, size, align)
	if blk.upstream.Bytes != nil {
		a.Bytes = blk.upstream.Bytes[:size:size]
	}
	a.Handle = blk.upstream.Handle
	p.live[a] = blk
	p.ledger.Add(a)
	return a
}

func (p *Pool) Deallocate(a *mem.Allocation) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if err := p.ledger.Remove(p, nil, a); err != nil {
		return err
	}

	blk := p.live[a]
	delete(p.live, a)
	p.free = append(p.free, blk)
	a.Bytes = nil
	a.Handle = nil
	return nil
}

// compact releases free blocks back upstream until held bytes drop under
// half the cap (mu held).
func (p *Pool) compact() {
	for len(p.free) > 0 && p.heldBytes > p.maxBytes/2 {
		blk := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		_ = p.upstream.Deallocate(blk.upstream)
		p.heldBytes -= blk.size
	}
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	MaxBytes   uint64
	HeldBytes  uint64
	LiveBlocks int
	FreeBlocks int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxBytes:   p.maxBytes,
		HeldBytes:  p.heldBytes,
		LiveBlocks: len(p.live),
		FreeBlocks: len(p.free),
	}
}

// Close releases everything the pool holds upstream, live blocks
// included: by then their owners are gone or wrong.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for _, blk := range p.free {
		_ = p.upstream.Deallocate(blk.upstream)
	}
	for _, blk := range p.live {
		_ = p.upstream.Deallocate(blk.upstream)
	}
	p.free = nil
	p.live = nil
	p.heldBytes = 0
	return nil
}
