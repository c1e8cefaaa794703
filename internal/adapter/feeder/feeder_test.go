package feeder

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/domain"
)

func feedConfig(serverURL string) *config.Config {
	cfg := config.Default()
	cfg.ResourcesAPIServer = serverURL
	cfg.RetrieversParams.DownRequestsSleep = 0
	cfg.RetrieversParams.UpRequestsSleep = 0
	cfg.ExtraParams = map[string]string{"mode": "_all_"}
	return &cfg
}

// feedServer serves a changes feed with two historic items and one new item.
func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("feed") != "changes" || q.Get("mode") != "_all_" {
			http.Error(w, "missing feed params", http.StatusBadRequest)
			return
		}

		if q.Get("descending") == "1" {
			switch q.Get("offset") {
			case "":
				fmt.Fprint(w, `{"data": [
					{"id": "old2", "dateModified": "2026-01-02T00:00:00+02:00"},
					{"id": "old1", "dateModified": "2026-01-01T00:00:00+02:00"}
				], "next_page": {"offset": "head"}}`)
			default:
				fmt.Fprintf(w, `{"data": [], "next_page": {"offset": %q}}`, q.Get("offset"))
			}
			return
		}
		switch q.Get("offset") {
		case "head":
			fmt.Fprint(w, `{"data": [
				{"id": "new1", "dateModified": "2026-01-03T00:00:00+02:00"}
			], "next_page": {"offset": "head2"}}`)
		default:
			fmt.Fprintf(w, `{"data": [], "next_page": {"offset": %q}}`, q.Get("offset"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFeeder_BackfillThenForward(t *testing.T) {
	srv := feedServer(t)
	f := New(feedConfig(srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := f.ResourceItems(ctx)

	var got []domain.PrioritizedItem
	for len(got) < 3 {
		select {
		case pi := <-out:
			got = append(got, pi)
		case <-time.After(2 * time.Second):
			t.Fatalf("feed stalled after %d items", len(got))
		}
	}
	cancel()

	require.Equal(t, "old2", got[0].Item.ID)
	require.Equal(t, BackwardPriority, got[0].Priority)
	require.Equal(t, "old1", got[1].Item.ID)
	require.Equal(t, BackwardPriority, got[1].Priority)
	require.Equal(t, "new1", got[2].Item.ID)
	require.Equal(t, ForwardPriority, got[2].Priority)

	require.Eventually(t, func() bool {
		select {
		case _, open := <-out:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond, "channel closes after cancel")
	require.NoError(t, f.Err())
}

func TestHTTPFeeder_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"data": [{"id": "t1", "dateModified": "2026-01-01T00:00:00+02:00"}], "next_page": {"offset": "end"}}`)
	}))
	t.Cleanup(srv.Close)

	f := New(feedConfig(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := f.ResourceItems(ctx)

	select {
	case pi := <-out:
		require.Equal(t, "t1", pi.Item.ID)
	case <-time.After(10 * time.Second):
		t.Fatal("feed never recovered")
	}
	require.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestHTTPFeeder_PermanentFailureKillsFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := New(feedConfig(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := f.ResourceItems(ctx)

	select {
	case _, open := <-out:
		require.False(t, open)
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not close")
	}
	require.Error(t, f.Err())
	require.Contains(t, f.Err().Error(), "status 404")
}

func TestHTTPFeeder_CancelBeforeStart(t *testing.T) {
	srv := feedServer(t)
	f := New(feedConfig(srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := f.ResourceItems(ctx)

	require.Eventually(t, func() bool {
		select {
		case _, open := <-out:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.Err(), "cancellation is not a feed failure")
}
