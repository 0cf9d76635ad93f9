package mem

// Allocation is one caller-owned piece of memory handed out by a
// Resource. The caller must hand it back, unmodified, to the resource it
// came from; resources verify Size/Align/stream against their own
// bookkeeping on Deallocate and refuse anything that does not match.
type Allocation struct {
	Size  uint64
	Align uint64
	Kind  Kind

	// Bytes is the host-visible view of the memory. It is nil for
	// device-only kinds and, for stream-ordered allocations, only valid
	// once Ready has been signaled.
	Bytes []byte

	// Handle is the backend object carrying the memory when it is not
	// (only) host bytes, e.g. a *wgpu.Buffer. Same readiness rule as
	// Bytes.
	Handle any

	owner  Resource
	stream *Stream
	ready  *Fence
	err    error
	freed  bool
}

// NewAllocation builds a synchronous allocation record: it is ready as
// soon as the resource returns it. The resource fills in Bytes/Handle.
func NewAllocation(owner Resource, size, align uint64) *Allocation {
	a := &Allocation{
		Size:  size,
		Align: align,
		Kind:  owner.Kind(),
		owner: owner,
		ready: NewFence(),
	}
	a.ready.Signal()
	return a
}

// NewAsyncAllocation builds a stream-ordered allocation record bound to
// s. It is not ready until the owning resource calls Complete from the
// stream op that performs the actual allocation.
func NewAsyncAllocation(owner Resource, s *Stream, size, align uint64) *Allocation {
	return &Allocation{
		Size:   size,
		Align:  align,
		Kind:   owner.Kind(),
		owner:  owner,
		stream: s,
		ready:  NewFence(),
	}
}

// Owner returns the resource this allocation must be returned to.
func (a *Allocation) Owner() Resource { return a.owner }

// Stream returns the stream the allocation is ordered against, nil for
// synchronous allocations.
func (a *Allocation) Stream() *Stream { return a.stream }

// Ready is signaled once the memory is actually backed and safe to
// touch (subject to the resource's context rules).
func (a *Allocation) Ready() *Fence { return a.ready }

// Err reports whether the deferred allocation failed. Only meaningful
// after Ready has been signaled.
func (a *Allocation) Err() error { return a.err }

// Complete is called by stream-ordered resources from inside the stream
// op that backs (or fails) the allocation.
func (a *Allocation) Complete(err error) {
	a.err = err
	a.ready.Signal()
}
