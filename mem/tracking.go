package mem

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tracking wraps a synchronous Resource with per-allocation ids,
// structured logging and a leak report. Meant for debugging resource
// usage; the pass-through cost is one map touch and a log line.
type Tracking struct {
	base Resource
	log  *zap.Logger

	mu   sync.Mutex
	live map[*Allocation]trackInfo
}

type trackInfo struct {
	id   string
	when time.Time
}

// Leak describes one allocation still outstanding when Close was called.
type Leak struct {
	ID   string
	Size uint64
	Age  time.Duration
}

// NewTracking wraps base. A nil logger disables logging.
func NewTracking(base Resource, log *zap.Logger) *Tracking {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracking{
		base: base,
		log:  log,
		live: make(map[*Allocation]trackInfo),
	}
}

func (t *Tracking) Kind() Kind       { return t.base.Kind() }
func (t *Tracking) Context() Context { return t.base.Context() }

func (t *Tracking) Allocate(size, align uint64) (*Allocation, error) {
	a, err := t.base.Allocate(size, align)
	if err != nil {
		t.log.Warn("allocate failed",
			zap.Uint64("size", size),
			zap.Uint64("align", align),
			zap.Stringer("kind", t.base.Kind()),
			zap.Error(err))
		return nil, err
	}

	info := trackInfo{id: uuid.NewString(), when: time.Now()}
	t.mu.Lock()
	t.live[a] = info
	t.mu.Unlock()

	t.log.Debug("allocate",
		zap.String("id", info.id),
		zap.Uint64("size", a.Size),
		zap.Uint64("align", a.Align),
		zap.Stringer("kind", a.Kind))
	return a, nil
}

func (t *Tracking) Deallocate(a *Allocation) error {
	t.mu.Lock()
	info, ok := t.live[a]
	if ok {
		delete(t.live, a)
	}
	t.mu.Unlock()

	if err := t.base.Deallocate(a); err != nil {
		t.log.Warn("deallocate failed", zap.String("id", info.id), zap.Error(err))
		return err
	}
	if !ok {
		// Base accepted it, so it was handed out before tracking began.
		t.log.Debug("deallocate (untracked)", zap.Uint64("size", a.Size))
		return nil
	}

	t.log.Debug("deallocate",
		zap.String("id", info.id),
		zap.Uint64("size", a.Size),
		zap.Duration("held", time.Since(info.when)))
	return nil
}

// Leaks returns the allocations still outstanding.
func (t *Tracking) Leaks() []Leak {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Leak, 0, len(t.live))
	for a, info := range t.live {
		out = append(out, Leak{ID: info.id, Size: a.Size, Age: time.Since(info.when)})
	}
	return out
}

// Close logs every outstanding allocation and returns an error when any
// exist. It does not free them; they still belong to the caller.
func (t *Tracking) Close() error {
	leaks := t.Leaks()
	for _, l := range leaks {
		t.log.Warn("leaked allocation",
			zap.String("id", l.ID),
			zap.Uint64("size", l.Size),
			zap.Duration("age", l.Age))
	}
	if n := len(leaks); n > 0 {
		return fmt.Errorf("%d outstanding allocations at close", n)
	}
	return nil
}
