// Package backoff classifies remote errors and computes retry delays.
//
// The classifier never sleeps and never retries by itself: it turns an
// error plus the caller's attempt counter into an advisory delay, and
// the caller's retry loop decides what to do with it. Server-specified
// waits (flood control, slow mode) are returned verbatim - shortening
// them risks harsher penalties from the platform.
package backoff

import (
	"errors"
	"strings"
	"sync"

	"github.com/vietddude/harvester/internal/core/domain"
)

// Delay caps per error class, in seconds.
const (
	maxTimeoutDelay  = 300.0
	maxFetchDelay    = 60.0
	maxProtocolDelay = 30.0
	maxDefaultDelay  = 60.0
)

// timeoutMultiplierCap bounds how much repeated timeouts on one
// operation can amplify the base delay.
const timeoutMultiplierCap = 5

// OperationStats holds retry counters for one operation name. Created
// lazily on first reference and kept for the classifier's lifetime.
type OperationStats struct {
	TimeoutCount int
	TotalRetries int
	LastDelay    float64
}

// Classifier computes backoff delays and tracks per-operation retry
// statistics. Safe for concurrent use by parallel shard workers.
type Classifier struct {
	mu    sync.Mutex
	stats map[string]*OperationStats
}

// NewClassifier creates an empty classifier.
func NewClassifier() *Classifier {
	return &Classifier{stats: make(map[string]*OperationStats)}
}

// HandleError returns the delay in seconds the caller should wait
// before retrying operation after err at the given attempt number.
// Classification itself never fails: anything unrecognized falls
// through to a minimal attempt-scaled backoff.
func (c *Classifier) HandleError(err error, operation string, attempt int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.stats[operation]
	if !ok {
		st = &OperationStats{}
		c.stats[operation] = st
	}
	st.TotalRetries++

	delay := c.computeDelay(err, st, attempt)
	st.LastDelay = delay
	return delay
}

func (c *Classifier) computeDelay(err error, st *OperationStats, attempt int) float64 {
	var flood *domain.FloodWaitError
	if errors.As(err, &flood) {
		// Authoritative server wait, verbatim and uncapped.
		return flood.Seconds
	}

	var slow *domain.SlowModeWaitError
	if errors.As(err, &slow) {
		return slow.Seconds
	}

	if isTimeout(err) {
		delay := 10.0 + float64(attempt)*5.0
		// Check the counter before incrementing: the first timeout on
		// an operation gets the unscaled base delay.
		if st.TimeoutCount > 0 {
			multiplier := st.TimeoutCount + 1
			if multiplier > timeoutMultiplierCap {
				multiplier = timeoutMultiplierCap
			}
			delay *= float64(multiplier)
		}
		st.TimeoutCount++
		return capDelay(delay, maxTimeoutDelay)
	}

	var fetch *domain.FetchError
	if errors.As(err, &fetch) {
		return capDelay(5.0+float64(attempt)*2.0, maxFetchDelay)
	}

	var proto *domain.ProtocolError
	if errors.As(err, &proto) {
		return capDelay(3.0+float64(attempt)*1.5, maxProtocolDelay)
	}

	return capDelay(2.0+float64(attempt), maxDefaultDelay)
}

// Stats returns a copy of the counters for operation, or the zero
// value if the operation has never been seen.
func (c *Classifier) Stats(operation string) OperationStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.stats[operation]; ok {
		return *st
	}
	return OperationStats{}
}

// Reset drops all per-operation counters.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = make(map[string]*OperationStats)
}

func isTimeout(err error) bool {
	var timeout *domain.TimeoutError
	if errors.As(err, &timeout) {
		return true
	}

	// Some transports only surface timeouts as message text.
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timed out") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "deadline exceeded")
}

func capDelay(delay, max float64) float64 {
	if delay > max {
		return max
	}
	return delay
}
