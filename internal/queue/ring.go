package queue

import (
	"sync"

	"goldmap-platform/internal/models"
)

// resultRing retains the last N job results plus a lifetime counter.
// Retention is bounded so a long-lived process cannot grow without
// limit, mirroring removeOnComplete/removeOnFail semantics.
type resultRing struct {
	mu      sync.Mutex
	results []models.JobResult
	next    int
	filled  bool
	count   int
}

func newResultRing(capacity int) *resultRing {
	return &resultRing{results: make([]models.JobResult, capacity)}
}

func (r *resultRing) push(result models.JobResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[r.next] = result
	r.next = (r.next + 1) % len(r.results)
	if r.next == 0 {
		r.filled = true
	}
	r.count++
}

// total returns the lifetime count, not the retained count.
func (r *resultRing) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// snapshot returns the retained results oldest first.
func (r *resultRing) snapshot() []models.JobResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.filled {
		out := make([]models.JobResult, r.next)
		copy(out, r.results[:r.next])
		return out
	}

	out := make([]models.JobResult, 0, len(r.results))
	out = append(out, r.results[r.next:]...)
	out = append(out, r.results[:r.next]...)
	return out
}
