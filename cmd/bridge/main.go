// Package main provides the bridge entry point.
//
// The bridge continuously pulls procurement resource items from the upstream
// API, filters them against the storage backend and dispatches them to the
// configured handlers. Usage: bridge <config.yaml>.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fairyhunter13/procurement-bridge/internal/bridge"
	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/observability"
	"github.com/fairyhunter13/procurement-bridge/internal/plugin"

	"github.com/fairyhunter13/procurement-bridge/internal/adapter/feeder"
	_ "github.com/fairyhunter13/procurement-bridge/internal/adapter/filter"
	_ "github.com/fairyhunter13/procurement-bridge/internal/adapter/handler"
	_ "github.com/fairyhunter13/procurement-bridge/internal/adapter/storage/postgres"
	_ "github.com/fairyhunter13/procurement-bridge/internal/adapter/storage/redisstore"
	_ "github.com/fairyhunter13/procurement-bridge/internal/adapter/worker"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: bridge <config.yaml>")
		return 2
	}

	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("env load failed", slog.Any("error", err))
		return 1
	}
	logger := observability.SetupLogger(env)
	slog.SetDefault(logger)

	cfg, err := config.LoadFile(args[0])
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		return 1
	}

	observability.InitMetrics()
	go func() {
		if err := http.ListenAndServe(env.OpsAddr, observability.OpsRouter()); err != nil {
			slog.Error("ops server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(env)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	db, err := plugin.Storage(&cfg)
	if err != nil {
		slog.Error("storage plugin init failed", slog.Any("error", err))
		return 1
	}
	handlers, errs := plugin.Handlers(&cfg, db)
	for _, err := range errs {
		slog.Warn("handler plugin skipped", slog.Any("error", err))
	}
	if len(handlers) == 0 {
		slog.Warn("no handler plugins active; fetched items will be dropped")
	}
	workerFactory, err := plugin.Worker(&cfg)
	if err != nil {
		slog.Error("worker plugin init failed", slog.Any("error", err))
		return 1
	}
	filterFactory, err := plugin.Filter(&cfg)
	if err != nil {
		slog.Error("filter plugin init failed", slog.Any("error", err))
		return 1
	}

	b := bridge.New(&cfg, bridge.Options{
		Feeder:        feeder.New(&cfg),
		Storage:       db,
		Handlers:      handlers,
		WorkerFactory: workerFactory,
		FilterFactory: filterFactory,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	slog.Info("starting bridge",
		slog.String("bridge_id", b.ID),
		slog.String("resource", cfg.Resource),
		slog.String("api_server", cfg.ResourcesAPIServer))
	if err := b.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("bridge stopped", slog.Any("error", err))
		return 1
	}
	slog.Info("bridge stopped")
	return 0
}
