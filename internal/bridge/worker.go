package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/domain"
	"github.com/fairyhunter13/procurement-bridge/internal/observability"
	"github.com/fairyhunter13/procurement-bridge/internal/pqueue"
)

// queueTimeout bounds a single blocking Get so workers can observe their
// shutdown flag between items.
const queueTimeout = 3 * time.Second

// Task is a long-running pipeline stage. It returns when ctx is cancelled or
// when the stage dies; the supervisor respawns dead stages.
type Task func(ctx context.Context) error

// Runner is a worker as seen by the pools and the controller: a loop plus a
// cooperative stop.
type Runner interface {
	Run(ctx context.Context) error
	// Shutdown asks the worker to exit after its current item. There is no
	// hard interrupt of an in-flight request.
	Shutdown()
}

// WorkerFactory builds a worker from its environment; worker plugins register
// factories with this signature.
type WorkerFactory func(env WorkerEnv) Runner

// FilterFactory builds the filter task moving input to main through storage.
type FilterFactory func(cfg *config.Config, input, main *pqueue.Queue, db domain.Storage) Task

// WorkerEnv is the fixed spawning environment for worker plugins.
type WorkerEnv struct {
	Clients    *ClientPool
	Queue      *pqueue.Queue
	Storage    domain.Storage
	Config     *config.Config
	RetryQueue *pqueue.Queue
	Health     *HealthRegistry
	Handlers   map[string]domain.Handler
}

// Worker is the basic worker: pop an item, fetch it upstream with a pooled
// client, dispatch to the handler for its procurementMethodType, and route
// transient failures to the retry queue.
type Worker struct {
	env    WorkerEnv
	stop   atomic.Bool
	tracer trace.Tracer
}

// NewWorker builds a basic worker.
func NewWorker(env WorkerEnv) *Worker {
	return &Worker{env: env, tracer: otel.Tracer("bridge.worker")}
}

// Shutdown implements Runner.
func (w *Worker) Shutdown() { w.stop.Store(true) }

// Run implements Runner.
func (w *Worker) Run(ctx context.Context) error {
	for !w.stop.Load() {
		getCtx, cancel := context.WithTimeout(ctx, queueTimeout)
		pi, err := w.env.Queue.Get(getCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		w.processItem(ctx, pi)
	}
	return nil
}

func (w *Worker) processItem(ctx context.Context, pi domain.PrioritizedItem) {
	ctx, span := w.tracer.Start(ctx, "ProcessResourceItem")
	defer span.End()

	attemptID := ulid.Make().String()
	lg := slog.With(
		slog.String("attempt_id", attemptID),
		slog.String("resource_id", pi.Item.ID),
		slog.Int("priority", pi.Priority))

	client, err := w.env.Clients.Acquire(ctx)
	if err != nil {
		return
	}
	if w.env.Health.ConsumeDropCookies(client.ID) {
		client.RotateSession()
		lg.Info("rotated client session", slog.String("client_id", client.ID))
	}
	if client.RequestInterval > 0 {
		if !sleepCtx(ctx, client.RequestInterval) {
			w.env.Clients.Release(client)
			return
		}
	}

	start := time.Now()
	item, err := client.GetResourceItem(ctx, pi.Item.ID)
	w.env.Health.RecordDuration(client.ID, start, time.Since(start))

	retry := false
	switch {
	case err == nil && item.DateModified < pi.Item.DateModified:
		// Upstream replica has not caught up with the feed yet.
		client.NotActualCount++
		lg.Debug("resource not actual yet",
			slog.String("got", item.DateModified),
			slog.String("want", pi.Item.DateModified))
		retry = true
	case err == nil:
		client.NotActualCount = 0
		client.RequestInterval = 0
		w.env.Health.SetInterval(client.ID, 0)
		retry = w.dispatch(ctx, lg, item)
	case errors.Is(err, domain.ErrRateLimited):
		client.RequestInterval += w.env.Config.RetryTimeout()
		w.env.Health.SetInterval(client.ID, client.RequestInterval)
		lg.Warn("upstream throttled request",
			slog.String("client_id", client.ID),
			slog.Duration("request_interval", client.RequestInterval))
		retry = true
	case errors.Is(err, domain.ErrSessionInvalid):
		client.RotateSession()
		lg.Warn("upstream rejected session, rotated cookies", slog.String("client_id", client.ID))
		retry = true
	case domain.IsTransient(err):
		client.RequestInterval = w.env.Config.RetryTimeout()
		w.env.Health.SetInterval(client.ID, client.RequestInterval)
		lg.Warn("transient request failure", slog.Any("error", err))
		retry = true
	default:
		observability.HandleItem("dropped")
		lg.Warn("dropping resource item after permanent failure", slog.Any("error", err))
	}
	w.env.Clients.Release(client)

	if retry {
		if err := w.env.RetryQueue.Put(ctx, pi); err == nil {
			observability.HandleItem("retried")
		}
	}
}

// dispatch routes a fetched item to its handler. It returns true when the
// item should be re-enqueued for retry.
func (w *Worker) dispatch(ctx context.Context, lg *slog.Logger, item domain.ResourceItem) bool {
	h, ok := w.env.Handlers[item.ProcurementMethodType]
	if !ok {
		observability.HandleItem("no_handler")
		lg.Debug("no handler for procurement method type",
			slog.String("procurement_method_type", item.ProcurementMethodType))
		return false
	}
	if err := h.Process(ctx, item); err != nil {
		observability.HandleItem("handler_failed")
		lg.Error("handler failed", slog.Any("error", err))
		return true
	}
	observability.HandleItem("handled")
	lg.Debug("resource item handled",
		slog.String("date_modified", item.DateModified),
		slog.String("procurement_method_type", item.ProcurementMethodType))
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// workerSet tracks the live workers of one pool. Workers remove themselves
// when their Run loop exits, matching how a gevent pool forgets dead
// greenlets.
type workerSet struct {
	mu      sync.Mutex
	max     int
	name    string
	workers []Runner
}

func newWorkerSet(name string, max int) *workerSet {
	return &workerSet{name: name, max: max}
}

// Spawn builds a worker from factory and runs it on its own goroutine.
func (s *workerSet) Spawn(ctx context.Context, factory WorkerFactory, env WorkerEnv) {
	w := factory(env)
	s.mu.Lock()
	s.workers = append(s.workers, w)
	n := len(s.workers)
	s.mu.Unlock()
	observability.Workers.WithLabelValues(s.name).Set(float64(n))
	go func() {
		_ = w.Run(ctx)
		s.remove(w)
	}()
}

func (s *workerSet) remove(w Runner) {
	s.mu.Lock()
	for i, cur := range s.workers {
		if cur == w {
			s.workers = append(s.workers[:i], s.workers[i+1:]...)
			break
		}
	}
	n := len(s.workers)
	s.mu.Unlock()
	observability.Workers.WithLabelValues(s.name).Set(float64(n))
}

// Len returns the number of live workers.
func (s *workerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// FreeCount returns the remaining capacity of the pool.
func (s *workerSet) FreeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max - len(s.workers)
}

// PopShutdown removes the most recently spawned worker and asks it to stop.
// Returns false when the pool is empty.
func (s *workerSet) PopShutdown() bool {
	s.mu.Lock()
	if len(s.workers) == 0 {
		s.mu.Unlock()
		return false
	}
	w := s.workers[len(s.workers)-1]
	s.workers = s.workers[:len(s.workers)-1]
	n := len(s.workers)
	s.mu.Unlock()
	observability.Workers.WithLabelValues(s.name).Set(float64(n))
	w.Shutdown()
	return true
}
