// Package domain defines the bridge's entities, ports and error taxonomy.
//
// The bridge core routes procurement resource items from an upstream feed
// through filtering and dispatch; everything it talks to (feeder, storage,
// handlers) is a port defined here and implemented under internal/adapter.
package domain

import (
	"context"
	"encoding/json"
	"errors"
)

// Error taxonomy (sentinels)
var (
	// ErrConfig marks configuration errors that are fatal at startup.
	ErrConfig = errors.New("config error")
	// ErrNotFound covers permanent upstream 4xx responses other than 429.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited covers upstream 429 responses.
	ErrRateLimited = errors.New("rate limited")
	// ErrServerError covers upstream 5xx responses.
	ErrServerError = errors.New("server error")
	// ErrSessionInvalid covers upstream 412 responses; the client must rotate
	// its session cookies before retrying.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrNoHandler is returned when no handler is registered for an item's
	// procurementMethodType.
	ErrNoHandler = errors.New("no handler")
)

// ResourceItem is one upstream procurement record to be synchronized.
// DateModified is the upstream ISO-8601 timestamp; upstream timestamps
// compare correctly as strings.
type ResourceItem struct {
	ID                    string          `json:"id"`
	DateModified          string          `json:"dateModified"`
	ProcurementMethodType string          `json:"procurementMethodType,omitempty"`
	Raw                   json.RawMessage `json:"-"`
}

// PrioritizedItem pairs a resource item with its queue priority.
// Lower priority values are delivered sooner.
type PrioritizedItem struct {
	Priority int
	Item     ResourceItem
}

// Feeder produces a lazy, prioritized stream of resource items from the
// upstream API. The channel closes when the feeder stops; Err reports the
// cause so the supervisor can log it and respawn the feed.
type Feeder interface {
	ResourceItems(ctx context.Context) <-chan PrioritizedItem
	Err() error
}

// Storage is the filter/persistence backend port.
type Storage interface {
	// Filter returns the subset of items that still need processing,
	// typically those whose dateModified is newer than the stored copy.
	Filter(ctx context.Context, items []ResourceItem) ([]ResourceItem, error)
	// Upsert persists one item.
	Upsert(ctx context.Context, item ResourceItem) error
}

// Handler enriches and persists one resource item. Handlers are keyed by the
// procurementMethodType they process and must be idempotent: two workers may
// process the same item concurrently.
type Handler interface {
	Process(ctx context.Context, item ResourceItem) error
}

// IsTransient reports whether an upstream request failure should be retried.
// Network-level errors (anything not classified by the sentinels below) are
// treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}
