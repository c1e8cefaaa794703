package bridge

import (
	"math"
	"sync"
	"time"
)

// ClientHealth is the watcher-facing record kept for every live API client.
type ClientHealth struct {
	// DropCookies asks the next holder to rotate the session before use.
	DropCookies bool
	// RequestDurations is the sliding window of recent request latencies,
	// keyed by request start time.
	RequestDurations map[time.Time]time.Duration
	// RequestInterval mirrors the client's current backoff hint.
	RequestInterval time.Duration
	// AvgDuration is the mean of the window in seconds, rounded to 3 decimals.
	AvgDuration float64
	// Grown is set once the window covers the full perfomance_window.
	Grown bool
}

// HealthRegistry tracks ClientHealth per client id behind a single lock.
// Workers append samples and consume the drop flag, the watcher prunes and
// classifies, the pool adds and removes entries.
type HealthRegistry struct {
	mu      sync.Mutex
	clients map[string]*ClientHealth
}

// NewHealthRegistry builds an empty registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{clients: make(map[string]*ClientHealth)}
}

// Add registers a fresh health entry for a client id.
func (r *HealthRegistry) Add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = &ClientHealth{
		RequestDurations: make(map[time.Time]time.Duration),
	}
}

// Remove deletes the entry for a retired client.
func (r *HealthRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// Count returns the number of tracked clients.
func (r *HealthRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Has reports whether a client id is tracked.
func (r *HealthRegistry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[id]
	return ok
}

// RecordDuration appends one latency sample for a client.
func (r *HealthRegistry) RecordDuration(id string, start time.Time, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.clients[id]; ok {
		h.RequestDurations[start] = d
	}
}

// SetInterval mirrors a client's request_interval into its health entry.
func (r *HealthRegistry) SetInterval(id string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.clients[id]; ok {
		h.RequestInterval = d
	}
}

// ConsumeDropCookies reads and clears the drop_cookies flag.
func (r *HealthRegistry) ConsumeDropCookies(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.clients[id]
	if !ok || !h.DropCookies {
		return false
	}
	h.DropCookies = false
	return true
}

// Snapshot returns a copy of one client's health entry.
func (r *HealthRegistry) Snapshot(id string) (ClientHealth, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.clients[id]
	if !ok {
		return ClientHealth{}, false
	}
	cp := *h
	cp.RequestDurations = make(map[time.Time]time.Duration, len(h.RequestDurations))
	for k, v := range h.RequestDurations {
		cp.RequestDurations[k] = v
	}
	return cp, true
}

// Prune drops latency samples older than cutoff for every client.
func (r *HealthRegistry) Prune(cutoff time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.clients {
		for t := range h.RequestDurations {
			if t.Before(cutoff) {
				delete(h.RequestDurations, t)
			}
		}
	}
}

// Averages recomputes per-client mean durations and returns the global mean
// together with the per-client values. A client whose oldest sample is at or
// before windowStart has a saturated window and is marked grown.
func (r *HealthRegistry) Averages(windowStart time.Time) (avg float64, values []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.clients {
		if len(h.RequestDurations) == 0 {
			continue
		}
		var sum time.Duration
		oldest := time.Time{}
		for t, d := range h.RequestDurations {
			sum += d
			if oldest.IsZero() || t.Before(oldest) {
				oldest = t
			}
		}
		if !oldest.After(windowStart) {
			h.Grown = true
		}
		h.AvgDuration = round3(sum.Seconds() / float64(len(h.RequestDurations)))
		values = append(values, h.AvgDuration)
	}
	if len(values) == 0 {
		return 0, values
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return round3(sum / float64(len(values))), values
}

// MarkBad sets drop_cookies on every client that is either slower than dev
// with a saturated window, or throttled while not actually slow. It returns
// the ids flagged on this pass.
func (r *HealthRegistry) MarkBad(dev float64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var flagged []string
	for id, h := range r.clients {
		switch {
		case h.Grown && h.AvgDuration > dev:
			h.DropCookies = true
			flagged = append(flagged, id)
		case h.AvgDuration < dev && h.RequestInterval > 0:
			h.DropCookies = true
			flagged = append(flagged, id)
		}
	}
	return flagged
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
