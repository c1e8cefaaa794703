package bridge

import (
	"log/slog"
	"math"
	"time"

	"github.com/fairyhunter13/procurement-bridge/internal/observability"
)

// PerformanceWatcher detects degraded API clients by comparing each client's
// mean request latency against one standard deviation above the global mean.
// Flagged clients get drop_cookies set so the next holder rotates the session.
type PerformanceWatcher struct {
	health   *HealthRegistry
	window   time.Duration
	interval time.Duration
}

// NewPerformanceWatcher wires the watcher to a health registry. window is the
// perfomance_window, interval the watch tick.
func NewPerformanceWatcher(health *HealthRegistry, window, interval time.Duration) *PerformanceWatcher {
	return &PerformanceWatcher{health: health, window: window, interval: interval}
}

// Tick runs one watcher pass: prune stale samples, recompute per-client and
// global statistics, export gauges and flag bad clients.
func (w *PerformanceWatcher) Tick(now time.Time) {
	w.health.Prune(now.Add(-(w.window + w.interval)))
	avg, values := w.health.Averages(now.Add(-w.window))

	std := stdDev(values)
	dev := round3(std + avg)
	var minAvg, maxAvg float64
	if len(values) > 0 {
		minAvg, maxAvg = values[0], values[0]
		for _, v := range values[1:] {
			minAvg = math.Min(minAvg, v)
			maxAvg = math.Max(maxAvg, v)
		}
		minAvg *= 1000
		maxAvg *= 1000
	}

	observability.RequestsDev.Set(dev * 1000)
	observability.RequestsMinAvg.Set(minAvg)
	observability.RequestsMaxAvg.Set(maxAvg)
	observability.RequestsAvg.Set(avg * 1000)

	slog.Info("perfomance watcher",
		slog.Float64("requests_stdev_sec", round3(std)),
		slog.Float64("requests_dev_ms", dev*1000),
		slog.Float64("requests_min_avg_ms", minAvg),
		slog.Float64("requests_max_avg_ms", maxAvg),
		slog.Float64("requests_avg_sec", avg))

	for _, id := range w.health.MarkBad(dev) {
		observability.ClientsDroppedCookiesTotal.Inc()
		slog.Debug("perfomance watcher: marked client as bad", slog.String("client_id", id))
	}
}

// stdDev is the population standard deviation, rounded to 3 decimals.
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - avg) * (v - avg)
	}
	return round3(math.Sqrt(variance / float64(len(values))))
}
