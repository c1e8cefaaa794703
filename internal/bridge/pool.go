package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/observability"
)

// ClientPool owns the set of upstream API clients. Idle clients sit in a FIFO
// channel; a worker acquires one for the duration of a single request and
// releases it to the tail. Every pooled client has a matching entry in the
// health registry, added and removed atomically with pool membership.
type ClientPool struct {
	cfg      *config.Config
	bridgeID string
	health   *HealthRegistry
	clients  chan *APIClient
}

// NewClientPool builds an empty pool sized for the largest possible client
// population (both worker pools at max).
func NewClientPool(cfg *config.Config, bridgeID string, health *HealthRegistry) *ClientPool {
	return &ClientPool{
		cfg:      cfg,
		bridgeID: bridgeID,
		health:   health,
		clients:  make(chan *APIClient, cfg.WorkersMax+cfg.RetryWorkersMax),
	}
}

// Acquire blocks until a client is available.
func (p *ClientPool) Acquire(ctx context.Context) (*APIClient, error) {
	select {
	case c := <-p.clients:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a client to the tail of the pool.
func (p *ClientPool) Release(c *APIClient) {
	select {
	case p.clients <- c:
	default:
		// Pool shrank below this client's slot; drop it entirely.
		p.health.Remove(c.ID)
	}
}

// Create builds a new client, retrying forever with exponential backoff
// starting at 100ms. The only way out without a client is ctx cancellation.
func (p *ClientPool) Create(ctx context.Context) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 100 * time.Millisecond
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxInterval = time.Hour
	expo.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		c, err := newAPIClient(ctx, p.cfg, p.bridgeID)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) {
				slog.Error("failed to start api client", slog.Int("status_code", se.code))
			} else {
				slog.Error("failed to start api client", slog.Any("error", err))
			}
			return err
		}
		p.health.Add(c.ID)
		p.clients <- c
		observability.APIClients.Set(float64(p.health.Count()))
		slog.Info("started api client",
			slog.String("client_id", c.ID),
			slog.String("user_agent", c.UserAgent()))
		return nil
	}, backoff.WithContext(expo, ctx))
}

// Retire pops one idle client and deletes its health entry atomically. It
// blocks until an idle client is available.
func (p *ClientPool) Retire(ctx context.Context) error {
	select {
	case c := <-p.clients:
		p.health.Remove(c.ID)
		observability.APIClients.Set(float64(p.health.Count()))
		slog.Info("retired api client", slog.String("client_id", c.ID))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Available returns the number of idle clients in the pool.
func (p *ClientPool) Available() int { return len(p.clients) }

// Count returns the number of live clients, idle or held.
func (p *ClientPool) Count() int { return p.health.Count() }
