package mem

// DefaultAlign is used when Allocate is called with align == 0. 64 bytes
// keeps host buffers cache-line aligned and matches what columnar
// consumers expect.
const DefaultAlign = 64

// Resource hands out raw memory of one (kind, context) pair.
//
// Resources own no allocations. The caller owns each Allocation and must
// return it, unmodified, to the same resource instance via Deallocate.
// Two distinct resource instances are never interchangeable, even when
// kind and context agree: bookkeeping is per instance.
type Resource interface {
	// Allocate returns at least size bytes aligned to align (0 means
	// DefaultAlign, otherwise align must be a power of two).
	Allocate(size, align uint64) (*Allocation, error)

	// Deallocate returns a to the resource. The allocation's recorded
	// size and alignment must match what Allocate produced.
	Deallocate(a *Allocation) error

	Kind() Kind
	Context() Context
}

// StreamOrderedResource orders allocation and deallocation against an
// execution stream instead of performing them synchronously.
//
// An allocation returned by AllocateAsync is not guaranteed ready until
// work submitted to the stream before it has completed; wait on
// Allocation.Ready (or synchronize the stream) before touching it.
// DeallocateAsync enqueues the release: the memory is reclaimed when the
// stream reaches that point, not when the call returns.
type StreamOrderedResource interface {
	Resource

	AllocateAsync(s *Stream, size, align uint64) (*Allocation, error)
	DeallocateAsync(s *Stream, a *Allocation) error
}

// Equal reports whether memory allocated from a may be returned to b.
// Bookkeeping is per instance, so only the same instance qualifies,
// whatever the kinds and contexts say.
func Equal(a, b Resource) bool { return a == b }

// NormalizeAlign applies the DefaultAlign fallback and rejects
// non-power-of-two alignments. Resource implementations call this before
// doing anything else with the align argument.
func NormalizeAlign(align uint64) (uint64, error) {
	if align == 0 {
		return DefaultAlign, nil
	}
	if align&(align-1) != 0 {
		return 0, ErrBadAlign
	}
	return align, nil
}
