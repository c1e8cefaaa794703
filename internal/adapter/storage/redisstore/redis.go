// Package redisstore implements the redis storage plugin.
//
// It keeps one key per resource item holding the last synchronized
// dateModified; filtering compares the incoming feed timestamp against the
// stored one.
package redisstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/domain"
	"github.com/fairyhunter13/procurement-bridge/internal/plugin"
)

func init() {
	plugin.RegisterStorage("redis", func(cfg *config.Config) (domain.Storage, error) {
		return New(cfg)
	})
}

// Storage is a redis-backed filter/persistence backend.
type Storage struct {
	rdb *redis.Client
}

// New connects to redis using the storage_config section.
func New(cfg *config.Config) (*Storage, error) {
	sc := cfg.StorageConfig
	host := sc.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := sc.Port
	if port == 0 {
		port = 6379
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		DB:       sc.DB,
		Password: sc.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis storage: ping: %w", err)
	}
	slog.Info("connected redis storage", slog.String("addr", rdb.Options().Addr), slog.Int("db", sc.DB))
	return &Storage{rdb: rdb}, nil
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(rdb *redis.Client) *Storage {
	return &Storage{rdb: rdb}
}

// Filter keeps the items whose dateModified is newer than the stored copy.
func (s *Storage) Filter(ctx context.Context, items []domain.ResourceItem) ([]domain.ResourceItem, error) {
	if len(items) == 0 {
		return nil, nil
	}
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = item.ID
	}
	stored, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis storage: mget: %w", err)
	}
	var out []domain.ResourceItem
	for i, item := range items {
		prev, _ := stored[i].(string)
		if prev == "" || prev < item.DateModified {
			out = append(out, item)
		}
	}
	return out, nil
}

// Upsert stores the item's dateModified under its id.
func (s *Storage) Upsert(ctx context.Context, item domain.ResourceItem) error {
	if err := s.rdb.Set(ctx, item.ID, item.DateModified, 0).Err(); err != nil {
		return fmt.Errorf("redis storage: set: %w", err)
	}
	return nil
}
