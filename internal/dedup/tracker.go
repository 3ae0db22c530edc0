// Package dedup tracks in-flight download work so concurrent requests
// for the same resource/format do not both invoke the external fetcher.
// The registry is in-process and advisory; the durable result cache is
// the system of record.
package dedup

import (
	"sync"

	"github.com/fetchbay/fetchbay/internal/domain/model"
)

// Tracker is a concurrency-safe registry of in-flight dedup keys.
// Constructed explicitly and passed to components; never a package-level
// singleton.
type Tracker struct {
	mu       sync.Mutex
	inFlight map[model.DedupKey]struct{}
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		inFlight: make(map[model.DedupKey]struct{}),
	}
}

// TryBegin atomically registers the key if no work is in flight for it.
// Returns false when another task already owns the key; the caller must
// not start a second fetch and should tell the requester to wait.
func (t *Tracker) TryBegin(key model.DedupKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.inFlight[key]; exists {
		return false
	}
	t.inFlight[key] = struct{}{}
	return true
}

// End removes the in-flight marker. Idempotent; called on completion or
// failure of the owning task.
func (t *Tracker) End(key model.DedupKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, key)
}

// Len returns the number of keys currently in flight.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inFlight)
}
