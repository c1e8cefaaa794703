package bridge

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/pqueue"
)

// QueueController grows and shrinks the main worker pool based on how full
// the main queue is. One scale decision per tick, no hysteresis beyond the
// two thresholds.
type QueueController struct {
	cfg     *config.Config
	pool    *ClientPool
	workers *workerSet
	main    *pqueue.Queue
	retry   *pqueue.Queue
	spawn   func(ctx context.Context)
}

// NewQueueController wires a controller over the main worker pool. spawn
// starts one new main worker.
func NewQueueController(cfg *config.Config, pool *ClientPool, workers *workerSet, main, retry *pqueue.Queue, spawn func(ctx context.Context)) *QueueController {
	return &QueueController{cfg: cfg, pool: pool, workers: workers, main: main, retry: retry, spawn: spawn}
}

// Run ticks until ctx is done.
func (c *QueueController) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ControllerTick())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *QueueController) tick(ctx context.Context) {
	capacity := float64(c.cfg.ResourceItemsQueueSize)
	size := float64(c.main.Len())

	if c.workers.FreeCount() > 0 && size > capacity/100*c.cfg.WorkersIncThreshold {
		if err := c.pool.Create(ctx); err != nil {
			return
		}
		c.spawn(ctx)
		slog.Info("queue controller: create main queue worker")
	} else if size < capacity/100*c.cfg.WorkersDecThreshold && c.workers.Len() > c.cfg.WorkersMin {
		if c.workers.PopShutdown() {
			_ = c.pool.Retire(ctx)
			slog.Info("queue controller: kill main queue worker")
		}
	}

	mainFill := round2(size / (capacity / 100))
	slog.Info("resource items queue fill", slog.Float64("percent", mainFill))
	// The retry fill has always been reported with capacity and 100 applied
	// in the wrong order; kept as-is because dashboards expect these numbers.
	retryFill := round2(float64(c.retry.Len()) / float64(c.cfg.RetryResourceItemsQueueSize) / 100)
	slog.Info("retry resource items queue fill", slog.Float64("percent", retryFill))
}

func round2(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return math.Round(v*100) / 100
}
