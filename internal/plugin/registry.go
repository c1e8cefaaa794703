// Package plugin holds the explicit registries for the four plugin
// namespaces: storage, handlers, filter and worker plugins.
//
// Adapter packages register factories from init; the binary selects blank
// imports, so the set of compiled-in plugins is a compile-time table.
// Handler registration names double as the procurementMethodType they handle.
package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fairyhunter13/procurement-bridge/internal/bridge"
	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/domain"
)

// StorageFactory builds a storage backend from configuration.
type StorageFactory func(cfg *config.Config) (domain.Storage, error)

// HandlerFactory builds a handler bound to the shared storage backend.
type HandlerFactory func(cfg *config.Config, db domain.Storage) (domain.Handler, error)

var (
	mu       sync.RWMutex
	storages = map[string]StorageFactory{}
	handlers = map[string]HandlerFactory{}
	filters  = map[string]bridge.FilterFactory{}
	workers  = map[string]bridge.WorkerFactory{}
)

// RegisterStorage registers a storage plugin; duplicate names panic, the way
// duplicate database/sql drivers do.
func RegisterStorage(name string, f StorageFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := storages[name]; dup {
		panic("plugin: duplicate storage plugin " + name)
	}
	storages[name] = f
}

// RegisterHandler registers a handler plugin under the procurementMethodType
// it handles.
func RegisterHandler(name string, f HandlerFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := handlers[name]; dup {
		panic("plugin: duplicate handler plugin " + name)
	}
	handlers[name] = f
}

// RegisterFilter registers a filter plugin.
func RegisterFilter(name string, f bridge.FilterFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := filters[name]; dup {
		panic("plugin: duplicate filter plugin " + name)
	}
	filters[name] = f
}

// RegisterWorker registers a worker plugin.
func RegisterWorker(name string, f bridge.WorkerFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := workers[name]; dup {
		panic("plugin: duplicate worker plugin " + name)
	}
	workers[name] = f
}

// Storage resolves the configured storage plugin and builds it.
func Storage(cfg *config.Config) (domain.Storage, error) {
	mu.RLock()
	f, ok := storages[cfg.StorageConfig.StorageType]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown storage plugin %q", domain.ErrConfig, cfg.StorageConfig.StorageType)
	}
	return f(cfg)
}

// Handlers builds the handler table, honoring the optional allow-list from
// the configuration. Factories that fail are skipped with their error
// reported, matching how missing entry points were silently absent.
func Handlers(cfg *config.Config, db domain.Storage) (map[string]domain.Handler, []error) {
	mu.RLock()
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	mu.RUnlock()
	sort.Strings(names)

	allowed := func(string) bool { return true }
	if len(cfg.Handlers) > 0 {
		set := make(map[string]struct{}, len(cfg.Handlers))
		for _, n := range cfg.Handlers {
			set[n] = struct{}{}
		}
		allowed = func(n string) bool { _, ok := set[n]; return ok }
	}

	out := make(map[string]domain.Handler)
	var errs []error
	for _, name := range names {
		if !allowed(name) {
			continue
		}
		mu.RLock()
		f := handlers[name]
		mu.RUnlock()
		h, err := f(cfg, db)
		if err != nil {
			errs = append(errs, fmt.Errorf("handler %q: %w", name, err))
			continue
		}
		out[name] = h
	}
	return out, errs
}

// Filter resolves the configured filter plugin; an empty filter type means
// the filter stage is disabled and nil is returned.
func Filter(cfg *config.Config) (bridge.FilterFactory, error) {
	if cfg.FilterConfig.FilterType == "" {
		return nil, nil
	}
	mu.RLock()
	f, ok := filters[cfg.FilterConfig.FilterType]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown filter plugin %q", domain.ErrConfig, cfg.FilterConfig.FilterType)
	}
	return f, nil
}

// Worker resolves the configured worker plugin.
func Worker(cfg *config.Config) (bridge.WorkerFactory, error) {
	mu.RLock()
	f, ok := workers[cfg.WorkerConfig.WorkerType]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown worker plugin %q", domain.ErrConfig, cfg.WorkerConfig.WorkerType)
	}
	return f, nil
}
