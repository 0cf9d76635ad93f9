package mem

import "unsafe"

// HostResource hands out plain host memory: kind Host, any context. The
// device cannot touch these allocations; they exist so pools, adaptors
// and tests can run the full resource machinery without a GPU.
type HostResource struct {
	ledger Ledger
}

func NewHostResource() *HostResource { return &HostResource{} }

func (r *HostResource) Kind() Kind       { return Host }
func (r *HostResource) Context() Context { return AnyContext() }

func (r *HostResource) Allocate(size, align uint64) (*Allocation, error) {
	align, err := NormalizeAlign(align)
	if err != nil {
		return nil, err
	}

	a := NewAllocation(r, size, align)
	a.Bytes = AlignedBytes(size, align)
	r.ledger.Add(a)
	return a, nil
}

func (r *HostResource) Deallocate(a *Allocation) error {
	if err := r.ledger.Remove(r, nil, a); err != nil {
		return err
	}
	a.Bytes = nil
	return nil
}

// Outstanding returns live allocation count and bytes.
func (r *HostResource) Outstanding() (int, uint64) { return r.ledger.Outstanding() }

// AlignedBytes over-allocates by align and shifts the slice start so the
// first byte sits on the requested boundary. align must be a normalized
// power of two.
func AlignedBytes(size, align uint64) []byte {
	buf := make([]byte, size+align)
	addr := uint64(uintptr(unsafe.Pointer(&buf[0])))
	shift := uint64(0)
	if rem := addr % align; rem != 0 {
		shift = align - rem
	}
	return buf[shift : size+shift : size+shift]
}
