package bridge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/domain"
	"github.com/fairyhunter13/procurement-bridge/internal/observability"
	"github.com/fairyhunter13/procurement-bridge/internal/pqueue"
)

// Options carries the collaborators resolved by the caller (plugins, feeder).
type Options struct {
	Feeder   domain.Feeder
	Storage  domain.Storage
	Handlers map[string]domain.Handler
	// WorkerFactory spawns main and retry workers.
	WorkerFactory WorkerFactory
	// FilterFactory is optional; when nil the filter stage is skipped and the
	// main queue aliases the input queue.
	FilterFactory FilterFactory
}

// Bridge is the running process instance: queue set, client pool, worker
// pools and the supervisor loop.
type Bridge struct {
	// ID is the bridge identity stamped into every client's User-Agent.
	ID string

	cfg  *config.Config
	opts Options

	input *pqueue.Queue
	main  *pqueue.Queue
	retry *pqueue.Queue

	health  *HealthRegistry
	clients *ClientPool
	watcher *PerformanceWatcher

	mainWorkers  *workerSet
	retryWorkers *workerSet
	controller   *QueueController

	feederTask  *taskHandle
	filterTasks []*taskHandle
}

// New assembles a bridge from validated configuration.
func New(cfg *config.Config, opts Options) *Bridge {
	b := &Bridge{
		ID:     strings.ReplaceAll(uuid.New().String(), "-", ""),
		cfg:    cfg,
		opts:   opts,
		input:  pqueue.New(cfg.InputQueueSize),
		retry:  pqueue.New(cfg.RetryResourceItemsQueueSize),
		health: NewHealthRegistry(),
	}
	if opts.FilterFactory != nil {
		b.main = pqueue.New(cfg.ResourceItemsQueueSize)
	} else {
		// No filter plugin configured: the filter stage is skipped entirely.
		b.main = b.input
	}
	b.clients = NewClientPool(cfg, b.ID, b.health)
	b.watcher = NewPerformanceWatcher(b.health, cfg.PerformanceWindow(), cfg.WatchTick())
	b.mainWorkers = newWorkerSet("main", cfg.WorkersMax)
	b.retryWorkers = newWorkerSet("retry", cfg.RetryWorkersMax)
	b.controller = NewQueueController(cfg, b.clients, b.mainWorkers, b.main, b.retry, b.spawnMainWorker)
	return b
}

// Queues exposes the queue set for filter plugins and tests.
func (b *Bridge) Queues() (input, main, retry *pqueue.Queue) {
	return b.input, b.main, b.retry
}

// Health exposes the client health registry.
func (b *Bridge) Health() *HealthRegistry { return b.health }

func (b *Bridge) workerEnv(queue *pqueue.Queue) WorkerEnv {
	return WorkerEnv{
		Clients:    b.clients,
		Queue:      queue,
		Storage:    b.opts.Storage,
		Config:     b.cfg,
		RetryQueue: b.retry,
		Health:     b.health,
		Handlers:   b.opts.Handlers,
	}
}

func (b *Bridge) spawnMainWorker(ctx context.Context) {
	b.mainWorkers.Spawn(ctx, b.opts.WorkerFactory, b.workerEnv(b.main))
}

func (b *Bridge) spawnRetryWorker(ctx context.Context) {
	b.retryWorkers.Spawn(ctx, b.opts.WorkerFactory, b.workerEnv(b.retry))
}

// fillInputQueue drains the upstream feed into the input queue, blocking on
// backpressure. It ends with the feeder's error so the supervisor can log it.
func (b *Bridge) fillInputQueue(ctx context.Context) error {
	for pi := range b.opts.Feeder.ResourceItems(ctx) {
		if err := b.input.Put(ctx, pi); err != nil {
			return err
		}
		slog.Debug("added resource item from sync",
			slog.String("resource_id", pi.Item.ID),
			slog.String("date_modified", pi.Item.DateModified),
			slog.Int("input_queue_size", b.input.Len()))
	}
	return b.opts.Feeder.Err()
}

// Run starts the pipeline and supervises it until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	slog.Info("start basic bridge", slog.String("bridge_id", b.ID))
	slog.Info("start data sync")

	b.feederTask = spawnTask(ctx, b.fillInputQueue)
	if b.opts.FilterFactory != nil {
		n := b.cfg.FilterWorkersCount
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			b.filterTasks = append(b.filterTasks, spawnTask(ctx, b.opts.FilterFactory(b.cfg, b.input, b.main, b.opts.Storage)))
		}
	}
	go b.controller.Run(ctx)

	b.superviseTick(ctx)
	ticker := time.NewTicker(b.cfg.WatchTick())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.superviseTick(ctx)
		}
	}
}

// superviseTick is one supervisor pass: watcher tick, task respawn, pool
// top-up, gauges.
func (b *Bridge) superviseTick(ctx context.Context) {
	b.watcher.Tick(time.Now())

	if b.feederTask.Ready() {
		slog.Error("input queue filler died", slog.Any("error", b.feederTask.Err()))
		b.feederTask = spawnTask(ctx, b.fillInputQueue)
	}
	for i, ft := range b.filterTasks {
		if ft.Ready() {
			slog.Error("filter task died", slog.Any("error", ft.Err()))
			b.filterTasks[i] = spawnTask(ctx, b.opts.FilterFactory(b.cfg, b.input, b.main, b.opts.Storage))
		}
	}

	for i := b.mainWorkers.Len(); i < b.cfg.WorkersMin; i++ {
		if err := b.clients.Create(ctx); err != nil {
			return
		}
		b.spawnMainWorker(ctx)
		slog.Info("watcher: create main queue worker")
	}
	for i := b.retryWorkers.Len(); i < b.cfg.RetryWorkersMin; i++ {
		if err := b.clients.Create(ctx); err != nil {
			return
		}
		b.spawnRetryWorker(ctx)
		slog.Info("watcher: create retry queue worker")
	}

	observability.QueueSize.WithLabelValues("input").Set(float64(b.input.Len()))
	observability.QueueSize.WithLabelValues("main").Set(float64(b.main.Len()))
	observability.QueueSize.WithLabelValues("retry").Set(float64(b.retry.Len()))
	observability.APIClients.Set(float64(b.health.Count()))

	slog.Info("bridge status",
		slog.Int("main_threads", b.mainWorkers.Len()),
		slog.Int("retry_threads", b.retryWorkers.Len()),
		slog.Int("main_queue_size", b.main.Len()),
		slog.Int("retry_queue_size", b.retry.Len()),
		slog.Int("api_clients", b.health.Count()))
}

// taskHandle tracks one long-running task so the supervisor can detect death
// and respawn.
type taskHandle struct {
	done chan struct{}
	err  error
}

func spawnTask(ctx context.Context, t Task) *taskHandle {
	h := &taskHandle{done: make(chan struct{})}
	go func() {
		h.err = t(ctx)
		close(h.done)
	}()
	return h
}

// Ready reports whether the task has terminated.
func (h *taskHandle) Ready() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err returns the task's terminal error; only meaningful after Ready.
func (h *taskHandle) Err() error { return h.err }
