package filter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/domain"
	"github.com/fairyhunter13/procurement-bridge/internal/pqueue"
)

// keepStorage keeps only the ids in keep; nil keep means keep everything.
type keepStorage struct {
	mu   sync.Mutex
	keep map[string]bool
	err  error
}

func (s *keepStorage) Filter(_ context.Context, items []domain.ResourceItem) ([]domain.ResourceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.keep == nil {
		return items, nil
	}
	var out []domain.ResourceItem
	for _, item := range items {
		if s.keep[item.ID] {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *keepStorage) Upsert(context.Context, domain.ResourceItem) error { return nil }

func queued(id string, priority int) domain.PrioritizedItem {
	return domain.PrioritizedItem{Priority: priority, Item: domain.ResourceItem{ID: id, DateModified: "2026-01-01"}}
}

func TestFilter_ForwardsKeptItems(t *testing.T) {
	cfg := config.Default()
	input := pqueue.New(10)
	main := pqueue.New(10)
	db := &keepStorage{keep: map[string]bool{"t1": true, "t3": true}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	task := New(&cfg, input, main, db)
	done := make(chan error, 1)
	go func() { done <- task(ctx) }()

	require.NoError(t, input.Put(ctx, queued("t1", 1)))
	require.NoError(t, input.Put(ctx, queued("t2", 1)))
	require.NoError(t, input.Put(ctx, queued("t3", 1000)))

	var got []string
	for len(got) < 2 {
		getCtx, getCancel := context.WithTimeout(ctx, 3*time.Second)
		pi, err := main.Get(getCtx)
		getCancel()
		require.NoError(t, err, "filtered items never reached the main queue")
		got = append(got, pi.Item.ID)
	}
	require.ElementsMatch(t, []string{"t1", "t3"}, got)
	require.Equal(t, 0, main.Len(), "t2 was filtered out")

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("filter task did not stop")
	}
}

func TestFilter_StorageFailureKillsTask(t *testing.T) {
	cfg := config.Default()
	input := pqueue.New(10)
	main := pqueue.New(10)
	db := &keepStorage{err: errors.New("storage down")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	task := New(&cfg, input, main, db)
	done := make(chan error, 1)
	go func() { done <- task(ctx) }()

	require.NoError(t, input.Put(ctx, queued("t1", 1)))

	select {
	case err := <-done:
		require.Error(t, err)
		require.Contains(t, err.Error(), "filter batch")
	case <-time.After(5 * time.Second):
		t.Fatal("filter task survived a storage failure")
	}
}
