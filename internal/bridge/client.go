// Package bridge implements the concurrent dispatch core: the API client
// pool with per-client health tracking, the performance watcher, the elastic
// worker pools, the queue controller and the supervisor that ties them
// together.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/domain"
)

// APIClient is a handle bound to one upstream HTTP session. A client is held
// by at most one worker at a time; RequestInterval and NotActualCount are
// only touched by the current holder.
type APIClient struct {
	ID string

	// RequestInterval is the backoff hint set after throttled requests; the
	// next holder sleeps this long before using the client.
	RequestInterval time.Duration
	// NotActualCount counts consecutive "resource unchanged" responses. The
	// core maintains it for handler plugins and never reads it.
	NotActualCount int

	hc        *http.Client
	base      *url.URL
	version   string
	resource  string
	userAgent string
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.code)
}

// newAPIClient builds a client with a fresh cookie session and verifies the
// upstream accepts it. The verification request is what picks up the
// server-affinity cookie the session keeps for its lifetime.
func newAPIClient(ctx context.Context, cfg *config.Config, bridgeID string) (*APIClient, error) {
	base, err := url.Parse(cfg.ResourcesAPIServer)
	if err != nil {
		return nil, fmt.Errorf("parse api server url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	c := &APIClient{
		ID: uuid.New().String(),
		hc: &http.Client{
			Timeout:   30 * time.Second,
			Jar:       jar,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		base:      base,
		version:   cfg.ResourcesAPIVersion,
		resource:  cfg.Resource,
		userAgent: cfg.UserAgent + "/" + bridgeID,
	}
	if err := c.ping(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// UserAgent returns the User-Agent header stamped on every request.
func (c *APIClient) UserAgent() string { return c.userAgent }

// RotateSession replaces the cookie jar so the next request negotiates a
// fresh upstream session.
func (c *APIClient) RotateSession() {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return
	}
	c.hc.Jar = jar
}

func (c *APIClient) collectionURL() string {
	return strings.TrimRight(c.base.String(), "/") + "/api/" + c.version + "/" + c.resource
}

func (c *APIClient) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.collectionURL()+"?limit=1", nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// GetResourceItem fetches one resource by id and classifies failures into the
// domain error taxonomy.
func (c *APIClient) GetResourceItem(ctx context.Context, id string) (domain.ResourceItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.collectionURL()+"/"+id, nil)
	if err != nil {
		return domain.ResourceItem{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.ResourceItem{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.ResourceItem{}, fmt.Errorf("%w: get %s", domain.ErrRateLimited, id)
	case resp.StatusCode == http.StatusPreconditionFailed:
		return domain.ResourceItem{}, fmt.Errorf("%w: get %s", domain.ErrSessionInvalid, id)
	case resp.StatusCode >= 500:
		return domain.ResourceItem{}, fmt.Errorf("%w: get %s: status %d", domain.ErrServerError, id, resp.StatusCode)
	default:
		return domain.ResourceItem{}, fmt.Errorf("%w: get %s: status %d", domain.ErrNotFound, id, resp.StatusCode)
	}

	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.ResourceItem{}, fmt.Errorf("%w: get %s: decode: %v", domain.ErrServerError, id, err)
	}
	var item domain.ResourceItem
	if err := json.Unmarshal(body.Data, &item); err != nil {
		return domain.ResourceItem{}, fmt.Errorf("%w: get %s: decode data: %v", domain.ErrServerError, id, err)
	}
	item.Raw = body.Data
	return item, nil
}
