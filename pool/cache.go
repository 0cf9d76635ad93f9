package pool

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openfluke/vram/mem"
)

// minClass is the smallest size class the cache rounds up to.
const minClass = 256

// Cache keeps recently freed blocks in an LRU instead of returning them
// upstream, the way caching device allocators do. Upstream allocations
// are rounded up to power-of-two size classes so a freed block can serve
// any later request in its class. Evicted blocks (capacity, Purge) go
// back upstream.
type Cache struct {
	upstream mem.Resource

	ledger mem.Ledger

	// mu guards everything below. All lru calls happen with mu held, so
	// the eviction callback also runs with mu held and must not lock.
	mu      sync.Mutex
	blocks  *lru.Cache[*mem.Allocation, uint64] // cached upstream alloc -> class
	index   map[uint64][]*mem.Allocation        // class -> cached upstream allocs
	live    map[*mem.Allocation]*mem.Allocation // cache alloc -> upstream alloc
	reusing *mem.Allocation                     // block being taken back, skip upstream free
	closed  bool
}

// NewCache caches up to maxBlocks freed blocks in front of upstream.
func NewCache(upstream mem.Resource, maxBlocks int) (*Cache, error) {
	c := &Cache{
		upstream: upstream,
		index:    make(map[uint64][]*mem.Allocation),
		live:     make(map[*mem.Allocation]*mem.Allocation),
	}
	blocks, err := lru.NewWithEvict[*mem.Allocation, uint64](maxBlocks, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("cache lru: %w", err)
	}
	c.blocks = blocks
	return c, nil
}

func (c *Cache) Kind() mem.Kind       { return c.upstream.Kind() }
func (c *Cache) Context() mem.Context { return c.upstream.Context() }

// onEvict runs with c.mu held (all lru calls are made under the lock).
func (c *Cache) onEvict(up *mem.Allocation, class uint64) {
	if up == c.reusing {
		// Being handed back out, not discarded.
		c.reusing = nil
		return
	}
	c.dropFromIndex(up, class)
	_ = c.upstream.Deallocate(up)
}

func (c *Cache) dropFromIndex(up *mem.Allocation, class uint64) {
	list := c.index[class]
	for i, cand := range list {
		if cand == up {
			c.index[class] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(c.index[class]) == 0 {
		delete(c.index, class)
	}
}

// sizeClass rounds size up to the next power of two, at least minClass.
// Past the largest power of two the size is its own class; doubling
// further would overflow to zero.
func sizeClass(size uint64) uint64 {
	if size > 1<<63 {
		return size
	}
	class := uint64(minClass)
	for class < size {
		class <<= 1
	}
	return class
}

func (c *Cache) Allocate(size, align uint64) (*mem.Allocation, error) {
	align, err := mem.NormalizeAlign(align)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrPoolClosed
	}

	class := sizeClass(size)

	// Cache hit: any block in the class with sufficient alignment.
	for _, up := range c.index[class] {
		if up.Align >= align {
			c.dropFromIndex(up, class)
			c.reusing = up
			c.blocks.Remove(up)
			return c.handOut(up, size, align), nil
		}
	}

	up, err := c.upstream.Allocate(class, align)
	if err != nil {
		return nil, err
	}
	return c.handOut(up, size, align), nil
}

// handOut wraps the upstream block in a cache-owned record (mu held).
func (c *Cache) handOut(up *mem.Allocation, size, align uint64) *mem.Allocation {
	a := mem.NewAllocation(c, size, align)
	if up.Bytes != nil {
		a.Bytes = up.Bytes[:size:size]
	}
	a.Handle = up.Handle
	c.live[a] = up
	c.ledger.Add(a)
	return a
}

func (c *Cache) Deallocate(a *mem.Allocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrPoolClosed
	}
	if err := c.ledger.Remove(c, nil, a); err != nil {
		return err
	}

	up := c.live[a]
	delete(c.live, a)
	a.Bytes = nil
	a.Handle = nil

	// up.Size is the class the block was allocated at.
	class := up.Size
	c.index[class] = append(c.index[class], up)
	c.blocks.Add(up, class)
	return nil
}

// CachedBlocks returns how many freed blocks are parked in the cache.
func (c *Cache) CachedBlocks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks.Len()
}

// Close flushes the cache back upstream. Outstanding live allocations
// are reported as an error and left alone; they still belong to callers.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.blocks.Purge()

	if n := len(c.live); n > 0 {
		return fmt.Errorf("%d outstanding allocations at close", n)
	}
	return nil
}
