// Package router orders gateway connections by routing zone and warms
// them up before heavy fetching begins.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/harvester/internal/core/domain"
)

// Prober issues one cheap existence-check call against target and
// reports the routing zone the platform answered from (0 if unknown).
type Prober interface {
	Probe(ctx context.Context, target string) (zone int, err error)
}

// PrioritizeByZone returns worker indices with every worker whose
// routing zone matches targetZone first, then the rest. The partition
// is stable: both groups keep their original relative order. A
// targetZone of 0 means "no preference" and yields the original order.
func PrioritizeByZone(workers []domain.WorkerDescriptor, targetZone int) []int {
	matched := make([]int, 0, len(workers))
	rest := make([]int, 0, len(workers))

	for i, w := range workers {
		if targetZone != 0 && w.RoutingZone == targetZone {
			matched = append(matched, i)
		} else {
			rest = append(rest, i)
		}
	}

	return append(matched, rest...)
}

// SelectBest returns the index of the most suitable worker for
// targetZone, falling back to the first worker. The second return is
// false when there are no workers at all.
func SelectBest(workers []domain.WorkerDescriptor, targetZone int) (int, bool) {
	if len(workers) == 0 {
		return 0, false
	}
	order := PrioritizeByZone(workers, targetZone)
	return order[0], true
}

// Prewarm probes every worker concurrently against probeTarget, each
// probe bounded by timeout. All probes are launched together and
// joined together, so total wall time tracks the slowest probe rather
// than the sum. A successful probe tags the worker's routing zone when
// the platform reports one; a worker with a nil prober is marked
// failed without being attempted. One worker's failure or timeout
// never affects another's result.
func Prewarm(
	ctx context.Context,
	workers []*domain.WorkerDescriptor,
	probers []Prober,
	probeTarget string,
	timeout time.Duration,
) map[int]bool {
	results := make(map[int]bool, len(workers))
	var mu sync.Mutex

	var g errgroup.Group
	for i, w := range workers {
		var p Prober
		if i < len(probers) {
			p = probers[i]
		}
		if p == nil {
			mu.Lock()
			results[w.Index] = false
			mu.Unlock()
			w.LastWarmupOK = false
			continue
		}

		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			zone, err := p.Probe(probeCtx, probeTarget)
			ok := err == nil

			w.LastWarmupOK = ok
			if ok {
				w.WarmedAt = time.Now()
				if zone != 0 {
					w.RoutingZone = zone
				}
			} else {
				slog.Debug("Prewarm probe failed",
					"worker", w.Index, "name", w.Name, "error", err)
			}

			mu.Lock()
			results[w.Index] = ok
			mu.Unlock()
			return nil
		})
	}

	// Probe goroutines never return errors; Wait is a pure join.
	_ = g.Wait()
	return results
}
