package mem

import "errors"

var (
	ErrNotOwned       = errors.New("allocation does not belong to this resource")
	ErrAlreadyFreed   = errors.New("allocation already deallocated")
	ErrSizeMismatch   = errors.New("allocation size does not match resource bookkeeping")
	ErrAlignMismatch  = errors.New("allocation alignment does not match resource bookkeeping")
	ErrStreamMismatch = errors.New("stream does not match the allocation's stream")
	ErrBadAlign       = errors.New("alignment must be zero or a power of two")
	ErrBudgetExceeded = errors.New("allocation would exceed resource budget")
	ErrClosed         = errors.New("resource closed")
	ErrStreamClosed   = errors.New("stream closed")
)
