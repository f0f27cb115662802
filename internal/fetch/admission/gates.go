// Package admission bounds concurrent heavy work by resource class.
//
// Shards and pages can outnumber what the host (and the platform's
// throttling heuristics) tolerate; the gates cap simultaneous
// downloads, processing, bulk I/O, and transcodes independently of how
// much work is in flight.
package admission

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Class identifies one admission gate.
type Class int

const (
	Download Class = iota
	Processing
	BulkIO
	Transcode
)

func (c Class) String() string {
	switch c {
	case Download:
		return "download"
	case Processing:
		return "processing"
	case BulkIO:
		return "bulk_io"
	case Transcode:
		return "transcode"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Gates holds four independent counting limiters sized from the worker
// counts. Acquire blocks until a permit is free; Release returns it.
type Gates struct {
	sems map[Class]*semaphore.Weighted
	caps map[Class]int64
}

// NewGates sizes the gates from the base worker count and the
// transcode worker count.
func NewGates(workers, transcodeWorkers int) *Gates {
	if workers < 1 {
		workers = 1
	}
	if transcodeWorkers < 0 {
		transcodeWorkers = 0
	}

	caps := map[Class]int64{
		Download:   int64(workers),
		Processing: int64(max(workers/2, 1)),
		BulkIO:     int64(min(2*workers, 20)),
		Transcode:  int64(min(transcodeWorkers, workers)),
	}
	for class, capacity := range caps {
		if capacity < 1 {
			// A zero-capacity gate would deadlock every caller;
			// degrade to serial instead.
			caps[class] = 1
		}
	}

	sems := make(map[Class]*semaphore.Weighted, len(caps))
	for class, capacity := range caps {
		sems[class] = semaphore.NewWeighted(capacity)
	}

	return &Gates{sems: sems, caps: caps}
}

// Acquire blocks until a permit for class is available or ctx is done.
func (g *Gates) Acquire(ctx context.Context, class Class) error {
	sem, ok := g.sems[class]
	if !ok {
		return fmt.Errorf("unknown admission class %s", class)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire %s permit: %w", class, err)
	}
	return nil
}

// TryAcquire acquires a permit without blocking.
func (g *Gates) TryAcquire(class Class) bool {
	sem, ok := g.sems[class]
	if !ok {
		return false
	}
	return sem.TryAcquire(1)
}

// Release returns a permit for class.
func (g *Gates) Release(class Class) {
	if sem, ok := g.sems[class]; ok {
		sem.Release(1)
	}
}

// With runs fn while holding a permit for class. The permit is
// released on every exit path, including panics inside fn.
func (g *Gates) With(ctx context.Context, class Class, fn func() error) error {
	if err := g.Acquire(ctx, class); err != nil {
		return err
	}
	defer g.Release(class)
	return fn()
}

// Capacity returns the configured permit count for class.
func (g *Gates) Capacity(class Class) int64 {
	return g.caps[class]
}
