package window

import (
	"sync"
	"time"
)

// RollingWindow keeps refresh-cycle outcomes for a fixed duration.
type RollingWindow struct {
	mu       sync.RWMutex
	duration time.Duration
	items    []item
	failed   int
}

type item struct {
	timestamp time.Time
	ok        bool
	height    uint64
}

// NewRollingWindow creates a new time-based rolling window.
func NewRollingWindow(duration time.Duration) *RollingWindow {
	if duration <= 0 {
		duration = 1 * time.Hour // default fallback
	}
	return &RollingWindow{
		duration: duration,
		items:    make([]item, 0, 1000),
	}
}

// Add records a cycle outcome for the block at height and prunes entries
// older than the window duration.
func (w *RollingWindow) Add(ok bool, timestamp time.Time, height uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.items = append(w.items, item{
		timestamp: timestamp,
		ok:        ok,
		height:    height,
	})
	if !ok {
		w.failed++
	}

	cutoff := timestamp.Add(-w.duration)
	pruneCount := 0
	for _, it := range w.items {
		if it.timestamp.After(cutoff) {
			break
		}
		if !it.ok {
			w.failed--
		}
		pruneCount++
	}

	if pruneCount > 0 {
		w.items = w.items[pruneCount:]
	}
}

// Stats returns failed cycles, total cycles and the failure ratio.
func (w *RollingWindow) Stats() (failed int, total int, ratio float64) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	total = len(w.items)
	if total == 0 {
		return 0, 0, 0.0
	}
	return w.failed, total, float64(w.failed) / float64(total)
}

// Bitmap returns outcomes oldest to newest, true = cycle succeeded.
func (w *RollingWindow) Bitmap() []bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]bool, len(w.items))
	for i, it := range w.items {
		result[i] = it.ok
	}
	return result
}

// LastSuccess returns the time of the most recent successful cycle.
func (w *RollingWindow) LastSuccess() (time.Time, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for i := len(w.items) - 1; i >= 0; i-- {
		if w.items[i].ok {
			return w.items[i].timestamp, true
		}
	}
	return time.Time{}, false
}

// LastInterval returns the time between the last two cycles.
func (w *RollingWindow) LastInterval() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.items) < 2 {
		return 0
	}

	last := w.items[len(w.items)-1].timestamp
	prev := w.items[len(w.items)-2].timestamp
	return last.Sub(prev)
}

// AvgIntervalLastN averages the time between the last n cycles.
// Returns 0 if there are fewer than two entries.
func (w *RollingWindow) AvgIntervalLastN(n int) time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.items) < 2 || n < 2 {
		return 0
	}

	start := len(w.items) - n
	if start < 0 {
		start = 0
	}

	intervals := len(w.items) - 1 - start
	if intervals <= 0 {
		return 0
	}

	first := w.items[start].timestamp
	last := w.items[len(w.items)-1].timestamp
	return last.Sub(first) / time.Duration(intervals)
}
