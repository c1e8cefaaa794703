// Package filter ships the built-in filter plugin.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/procurement-bridge/internal/bridge"
	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/domain"
	"github.com/fairyhunter13/procurement-bridge/internal/plugin"
	"github.com/fairyhunter13/procurement-bridge/internal/pqueue"
)

// batchSize bounds how many items one storage Filter call covers; batchWait
// bounds how long a partial batch may sit before being flushed.
const (
	batchSize = 100
	batchWait = time.Second
)

func init() {
	plugin.RegisterFilter("basic", New)
}

// New builds the basic filter task: pop items from input, drop the ones the
// storage already holds at the same or newer dateModified, forward the rest
// to main.
func New(_ *config.Config, input, main *pqueue.Queue, db domain.Storage) bridge.Task {
	return func(ctx context.Context) error {
		for {
			batch, err := collect(ctx, input)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				continue
			}
			items := make([]domain.ResourceItem, len(batch))
			for i, pi := range batch {
				items[i] = pi.Item
			}
			keep, err := db.Filter(ctx, items)
			if err != nil {
				return fmt.Errorf("filter batch: %w", err)
			}
			kept := make(map[string]struct{}, len(keep))
			for _, item := range keep {
				kept[item.ID] = struct{}{}
			}
			for _, pi := range batch {
				if _, ok := kept[pi.Item.ID]; !ok {
					slog.Debug("filtered out resource item",
						slog.String("resource_id", pi.Item.ID),
						slog.String("date_modified", pi.Item.DateModified))
					continue
				}
				if err := main.Put(ctx, pi); err != nil {
					return err
				}
			}
		}
	}
}

// collect gathers up to batchSize items, waiting at most batchWait after the
// first one.
func collect(ctx context.Context, input *pqueue.Queue) ([]domain.PrioritizedItem, error) {
	first, err := input.Get(ctx)
	if err != nil {
		return nil, err
	}
	batch := []domain.PrioritizedItem{first}
	deadline, cancel := context.WithTimeout(ctx, batchWait)
	defer cancel()
	for len(batch) < batchSize {
		pi, err := input.Get(deadline)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			break
		}
		batch = append(batch, pi)
	}
	return batch, nil
}
