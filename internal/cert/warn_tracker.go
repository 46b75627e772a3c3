package cert

import (
	"sync"
	"time"
)

// warnTracker suppresses duplicate expiry warnings: each identifier is
// warned at most once per cooldown window, so overlapping or re-run warn
// passes do not spam users.
type warnTracker struct {
	mu       sync.Mutex
	sent     map[string]time.Time
	cooldown time.Duration
}

func newWarnTracker(cooldown time.Duration) *warnTracker {
	return &warnTracker{
		sent:     make(map[string]time.Time),
		cooldown: cooldown,
	}
}

// shouldNotify returns true if this identifier hasn't been warned within
// the cooldown, and marks it warned. Entries past the cooldown are pruned
// on the way, so the map stays bounded by one cooldown window of warnings
// even as identifiers come and go.
func (w *warnTracker) shouldNotify(certID string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, at := range w.sent {
		if now.Sub(at) >= w.cooldown {
			delete(w.sent, id)
		}
	}

	last, ok := w.sent[certID]
	if ok && now.Sub(last) < w.cooldown {
		return false
	}
	w.sent[certID] = now
	return true
}

// forget clears the cooldown so a failed delivery is retried on the next
// pass.
func (w *warnTracker) forget(certID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sent, certID)
}
