// Package adaptor bridges mem resources to pre-existing generic
// allocator interfaces. Right now that means Apache Arrow's
// memory.Allocator, so arrow buffers can be carved out of any
// host-visible resource (host, pinned, unified, or a pool over one).
package adaptor

import (
	"fmt"
	"sync"
	"unsafe"

	arrowmem "github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/openfluke/vram/mem"
)

// Allocator implements arrow's memory.Allocator on top of a
// host-visible mem.Resource. The arrow interface has no error returns,
// so allocation failures panic, same as arrow's own cgo allocator.
type Allocator struct {
	res mem.Resource

	mu    sync.Mutex
	byPtr map[uintptr]*mem.Allocation
}

var _ arrowmem.Allocator = (*Allocator)(nil)

// New rejects resources whose memory the host cannot touch; arrow
// buffers are host byte slices.
func New(res mem.Resource) (*Allocator, error) {
	if !res.Kind().HostVisible() {
		return nil, fmt.Errorf("adaptor: %s memory is not host visible", res.Kind())
	}
	return &Allocator{
		res:   res,
		byPtr: make(map[uintptr]*mem.Allocation),
	}, nil
}

func (al *Allocator) Allocate(size int) []byte {
	if size == 0 {
		return []byte{}
	}

	a, err := al.res.Allocate(uint64(size), mem.DefaultAlign)
	if err != nil {
		panic(fmt.Sprintf("adaptor: allocate %d bytes: %v", size, err))
	}

	al.mu.Lock()
	al.byPtr[uintptr(unsafe.Pointer(&a.Bytes[0]))] = a
	al.mu.Unlock()
	return a.Bytes
}

func (al *Allocator) Reallocate(size int, b []byte) []byte {
	if size == len(b) {
		return b
	}
	newBuf := al.Allocate(size)
	copy(newBuf, b)
	al.Free(b)
	return newBuf
}

func (al *Allocator) Free(b []byte) {
	if len(b) == 0 {
		return
	}

	al.mu.Lock()
	ptr := uintptr(unsafe.Pointer(&b[0]))
	a, ok := al.byPtr[ptr]
	if ok {
		delete(al.byPtr, ptr)
	}
	al.mu.Unlock()

	if !ok {
		// Not ours, ignore.
		return
	}
	if err := al.res.Deallocate(a); err != nil {
		panic(fmt.Sprintf("adaptor: free: %v", err))
	}
}

// Outstanding returns how many arrow buffers have not been freed yet.
func (al *Allocator) Outstanding() int {
	al.mu.Lock()
	defer al.mu.Unlock()
	return len(al.byPtr)
}
