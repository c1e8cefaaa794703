// Package handler ships the built-in resource item handlers.
//
// Handlers register under the procurementMethodType they process; the worker
// dispatches each fetched item to the handler registered under the item's
// type.
package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/domain"
	"github.com/fairyhunter13/procurement-bridge/internal/plugin"
)

func init() {
	basic := func(_ *config.Config, db domain.Storage) (domain.Handler, error) {
		if db == nil {
			return nil, fmt.Errorf("basic handler requires a storage backend")
		}
		return &Basic{db: db}, nil
	}
	// The basic handler covers the common open procedures.
	plugin.RegisterHandler("belowThreshold", basic)
	plugin.RegisterHandler("aboveThreshold", basic)
}

// Basic persists items into the storage backend unchanged. Upsert is
// idempotent, so concurrent processing of the same item is safe.
type Basic struct {
	db domain.Storage
}

// Process implements domain.Handler.
func (h *Basic) Process(ctx context.Context, item domain.ResourceItem) error {
	if err := h.db.Upsert(ctx, item); err != nil {
		return fmt.Errorf("upsert %s: %w", item.ID, err)
	}
	slog.Debug("persisted resource item",
		slog.String("resource_id", item.ID),
		slog.String("date_modified", item.DateModified))
	return nil
}
