package mem

import "sync"

type ledgerRecord struct {
	size  uint64
	align uint64
}

// Ledger is the bookkeeping every resource implementation in this module
// shares: it tracks outstanding allocations for one resource instance
// and enforces the return invariant (same instance, same size/align,
// same stream, no double free).
type Ledger struct {
	mu    sync.Mutex
	live  map[*Allocation]ledgerRecord
	bytes uint64
}

// Add records a freshly produced allocation.
func (l *Ledger) Add(a *Allocation) {
	l.mu.Lock()
	if l.live == nil {
		l.live = make(map[*Allocation]ledgerRecord)
	}
	l.live[a] = ledgerRecord{size: a.Size, align: a.Align}
	l.bytes += a.Size
	l.mu.Unlock()
}

// Remove validates a against the ledger of owner and drops it. s must
// match the allocation's stream (nil for synchronous resources). On
// success the allocation is marked freed.
func (l *Ledger) Remove(owner Resource, s *Stream, a *Allocation) error {
	if a == nil || a.owner != owner {
		return ErrNotOwned
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if a.freed {
		return ErrAlreadyFreed
	}
	rec, ok := l.live[a]
	if !ok {
		return ErrNotOwned
	}
	if a.Size != rec.size {
		return ErrSizeMismatch
	}
	if a.Align != rec.align {
		return ErrAlignMismatch
	}
	if a.stream != s {
		return ErrStreamMismatch
	}

	delete(l.live, a)
	l.bytes -= rec.size
	a.freed = true
	return nil
}

// Outstanding returns the number of live allocations and their total
// size in bytes.
func (l *Ledger) Outstanding() (count int, bytes uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live), l.bytes
}
