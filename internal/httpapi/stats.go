package httpapi

import (
	"net/http"
	"sync"
	"time"

	"vpnpanel/internal/model"
)

const statsCacheTTL = 30 * time.Second

// statsCache keeps the aggregate certificate counts for a short window so
// dashboard polling does not hammer the store. Lifecycle mutations
// invalidate it.
type statsCache struct {
	mu        sync.Mutex
	stats     model.CertStats
	fetchedAt time.Time
	valid     bool
}

func newStatsCache() *statsCache {
	return &statsCache{}
}

func (c *statsCache) get(now time.Time) (model.CertStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || now.Sub(c.fetchedAt) > statsCacheTTL {
		return model.CertStats{}, false
	}
	return c.stats, true
}

func (c *statsCache) put(stats model.CertStats, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = stats
	c.fetchedAt = now
	c.valid = true
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}

func (s *Server) handleCertStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	claims := claimsFromContext(r.Context())
	if !claims.isAdmin() {
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		return
	}

	now := time.Now().UTC()
	if stats, ok := s.stats.get(now); ok {
		writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
		return
	}

	stats, err := s.certs.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.stats.put(stats, now)
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}
