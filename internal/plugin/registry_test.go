package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/procurement-bridge/internal/bridge"
	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/domain"
	"github.com/fairyhunter13/procurement-bridge/internal/pqueue"
)

type fakeStorage struct{}

func (fakeStorage) Filter(_ context.Context, items []domain.ResourceItem) ([]domain.ResourceItem, error) {
	return items, nil
}
func (fakeStorage) Upsert(context.Context, domain.ResourceItem) error { return nil }

type fakeHandler struct{ name string }

func (fakeHandler) Process(context.Context, domain.ResourceItem) error { return nil }

func TestStorageResolution(t *testing.T) {
	RegisterStorage("test-mem", func(*config.Config) (domain.Storage, error) {
		return fakeStorage{}, nil
	})

	cfg := config.Default()
	cfg.StorageConfig.StorageType = "test-mem"
	s, err := Storage(&cfg)
	require.NoError(t, err)
	require.NotNil(t, s)

	cfg.StorageConfig.StorageType = "no-such-storage"
	_, err = Storage(&cfg)
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestRegisterStorage_DuplicatePanics(t *testing.T) {
	RegisterStorage("test-dup", func(*config.Config) (domain.Storage, error) { return fakeStorage{}, nil })
	require.Panics(t, func() {
		RegisterStorage("test-dup", func(*config.Config) (domain.Storage, error) { return fakeStorage{}, nil })
	})
}

func TestHandlersResolution(t *testing.T) {
	RegisterHandler("test-pmt-a", func(*config.Config, domain.Storage) (domain.Handler, error) {
		return fakeHandler{name: "a"}, nil
	})
	RegisterHandler("test-pmt-b", func(*config.Config, domain.Storage) (domain.Handler, error) {
		return fakeHandler{name: "b"}, nil
	})
	RegisterHandler("test-pmt-broken", func(*config.Config, domain.Storage) (domain.Handler, error) {
		return nil, errors.New("no brokers configured")
	})

	cfg := config.Default()
	out, errs := Handlers(&cfg, fakeStorage{})
	require.Contains(t, out, "test-pmt-a")
	require.Contains(t, out, "test-pmt-b")
	require.NotContains(t, out, "test-pmt-broken")
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), `handler "test-pmt-broken"`)
}

func TestHandlersAllowList(t *testing.T) {
	RegisterHandler("test-allowed", func(*config.Config, domain.Storage) (domain.Handler, error) {
		return fakeHandler{}, nil
	})
	RegisterHandler("test-excluded", func(*config.Config, domain.Storage) (domain.Handler, error) {
		return fakeHandler{}, nil
	})

	cfg := config.Default()
	cfg.Handlers = []string{"test-allowed"}
	out, errs := Handlers(&cfg, fakeStorage{})
	require.Empty(t, errs)
	require.Contains(t, out, "test-allowed")
	require.NotContains(t, out, "test-excluded")
}

func TestFilterResolution(t *testing.T) {
	RegisterFilter("test-filter", func(*config.Config, *pqueue.Queue, *pqueue.Queue, domain.Storage) bridge.Task {
		return nil
	})

	cfg := config.Default()
	cfg.FilterConfig.FilterType = "test-filter"
	f, err := Filter(&cfg)
	require.NoError(t, err)
	require.NotNil(t, f)

	cfg.FilterConfig.FilterType = ""
	f, err = Filter(&cfg)
	require.NoError(t, err)
	require.Nil(t, f, "empty filter type disables the stage")

	cfg.FilterConfig.FilterType = "no-such-filter"
	_, err = Filter(&cfg)
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestWorkerResolution(t *testing.T) {
	RegisterWorker("test-worker", func(bridge.WorkerEnv) bridge.Runner { return nil })

	cfg := config.Default()
	cfg.WorkerConfig.WorkerType = "test-worker"
	w, err := Worker(&cfg)
	require.NoError(t, err)
	require.NotNil(t, w)

	cfg.WorkerConfig.WorkerType = "no-such-worker"
	_, err = Worker(&cfg)
	require.ErrorIs(t, err, domain.ErrConfig)
}
