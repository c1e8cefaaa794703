package handler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/domain"
	"github.com/fairyhunter13/procurement-bridge/internal/plugin"
)

type memStorage struct {
	mu       sync.Mutex
	upserted []domain.ResourceItem
	err      error
}

func (s *memStorage) Filter(_ context.Context, items []domain.ResourceItem) ([]domain.ResourceItem, error) {
	return items, nil
}

func (s *memStorage) Upsert(_ context.Context, item domain.ResourceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.upserted = append(s.upserted, item)
	return nil
}

func TestBasic_Process(t *testing.T) {
	db := &memStorage{}
	h := &Basic{db: db}

	item := domain.ResourceItem{ID: "t1", DateModified: "2026-01-01T00:00:00+02:00"}
	require.NoError(t, h.Process(context.Background(), item))
	require.Len(t, db.upserted, 1)
	require.Equal(t, "t1", db.upserted[0].ID)

	// idempotent: a second pass just overwrites
	require.NoError(t, h.Process(context.Background(), item))
	require.Len(t, db.upserted, 2)
}

func TestBasic_ProcessUpsertFailure(t *testing.T) {
	db := &memStorage{err: errors.New("connection refused")}
	h := &Basic{db: db}

	err := h.Process(context.Background(), domain.ResourceItem{ID: "t1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "upsert t1")
}

func TestRegisteredProcurementMethodTypes(t *testing.T) {
	cfg := config.Default()
	cfg.Handlers = []string{"belowThreshold", "aboveThreshold"}

	out, errs := plugin.Handlers(&cfg, &memStorage{})
	require.Empty(t, errs)
	require.Contains(t, out, "belowThreshold")
	require.Contains(t, out, "aboveThreshold")
}

func TestKafkaHandlerRequiresBrokers(t *testing.T) {
	cfg := config.Default()
	cfg.Handlers = []string{"reporting"}

	out, errs := plugin.Handlers(&cfg, &memStorage{})
	require.Empty(t, out)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "no brokers configured")
}

func TestBasicHandlerRequiresStorage(t *testing.T) {
	cfg := config.Default()
	cfg.Handlers = []string{"belowThreshold"}

	out, errs := plugin.Handlers(&cfg, nil)
	require.Empty(t, out)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "requires a storage backend")
}
