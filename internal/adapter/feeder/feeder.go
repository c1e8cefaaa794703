// Package feeder implements the upstream resource feed: a lazy, prioritized
// stream of resource items pulled from the changes feed of the procurement
// API.
//
// The feed is drained in two phases. A backward retriever walks the
// descending feed once to backfill history at a low priority; a forward
// retriever then follows the head of the feed at a high priority, sleeping
// up_wait_sleep whenever it catches up.
package feeder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"log/slog"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/domain"
)

const (
	// ForwardPriority is assigned to head-of-feed items.
	ForwardPriority = 1
	// BackwardPriority is assigned to backfill items.
	BackwardPriority = 1000
)

// HTTPFeeder implements domain.Feeder against the upstream changes feed.
type HTTPFeeder struct {
	cfg *config.Config
	hc  *http.Client

	mu  sync.Mutex
	err error
}

// New builds a feeder from validated configuration.
func New(cfg *config.Config) *HTTPFeeder {
	return &HTTPFeeder{
		cfg: cfg,
		hc:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Err returns the error that terminated the stream, if any.
func (f *HTTPFeeder) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *HTTPFeeder) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// ResourceItems starts the feed and returns its output channel. The channel
// closes when ctx is done or the feed dies; Err reports the cause.
func (f *HTTPFeeder) ResourceItems(ctx context.Context) <-chan domain.PrioritizedItem {
	out := make(chan domain.PrioritizedItem, f.cfg.RetrieversParams.QueueSize)
	f.setErr(nil)
	go func() {
		defer close(out)
		if err := f.run(ctx, out); err != nil && ctx.Err() == nil {
			f.setErr(err)
		}
	}()
	return out
}

type feedPage struct {
	Data []domain.ResourceItem `json:"data"`
	Next struct {
		Offset string `json:"offset"`
	} `json:"next_page"`
}

func (f *HTTPFeeder) run(ctx context.Context, out chan<- domain.PrioritizedItem) error {
	// Backward fill: one descending walk of the feed.
	offset, err := f.drain(ctx, out, "", true)
	if err != nil {
		return err
	}
	slog.Info("backward sync finished, following feed head")

	// Forward sync: follow the head, sleeping at the edge.
	for {
		next, err := f.drain(ctx, out, offset, false)
		if err != nil {
			return err
		}
		if next == offset {
			if !sleepCtx(ctx, f.cfg.UpWaitSleep()) {
				return ctx.Err()
			}
		} else {
			offset = next
			if !sleepCtx(ctx, time.Duration(f.cfg.RetrieversParams.UpRequestsSleep*float64(time.Second))) {
				return ctx.Err()
			}
		}
	}
}

// drain pages the feed from offset until an empty page, emitting every item.
// It returns the last seen offset.
func (f *HTTPFeeder) drain(ctx context.Context, out chan<- domain.PrioritizedItem, offset string, descending bool) (string, error) {
	priority := ForwardPriority
	if descending {
		priority = BackwardPriority
	}
	for {
		page, err := f.fetchPage(ctx, offset, descending)
		if err != nil {
			return offset, err
		}
		for _, item := range page.Data {
			select {
			case out <- domain.PrioritizedItem{Priority: priority, Item: item}:
			case <-ctx.Done():
				return offset, ctx.Err()
			}
		}
		if page.Next.Offset == "" || page.Next.Offset == offset || len(page.Data) == 0 {
			if page.Next.Offset != "" {
				offset = page.Next.Offset
			}
			return offset, nil
		}
		offset = page.Next.Offset
		if descending {
			if !sleepCtx(ctx, time.Duration(f.cfg.RetrieversParams.DownRequestsSleep*float64(time.Second))) {
				return offset, ctx.Err()
			}
		}
	}
}

// fetchPage requests one feed page, retrying transient upstream failures
// with exponential backoff.
func (f *HTTPFeeder) fetchPage(ctx context.Context, offset string, descending bool) (*feedPage, error) {
	q := url.Values{}
	q.Set("feed", "changes")
	if descending {
		q.Set("descending", "1")
	}
	if offset != "" {
		q.Set("offset", offset)
	}
	for k, v := range f.cfg.ExtraParams {
		q.Set(k, v)
	}
	u := strings.TrimRight(f.cfg.ResourcesAPIServer, "/") +
		"/api/" + f.cfg.ResourcesAPIVersion + "/" + f.cfg.Resource + "?" + q.Encode()

	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = 2 * time.Minute

	var page *feedPage
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", f.cfg.UserAgent)
		resp, err := f.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("feed page: status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("feed page: status %d", resp.StatusCode))
		}
		var p feedPage
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return fmt.Errorf("feed page: decode: %w", err)
		}
		page = &p
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return nil, err
	}
	return page, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
