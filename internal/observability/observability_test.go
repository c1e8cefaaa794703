package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
)

func TestOpsRouter_Healthz(t *testing.T) {
	srv := httptest.NewServer(OpsRouter())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOpsRouter_Metrics(t *testing.T) {
	srv := httptest.NewServer(OpsRouter())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleItem(t *testing.T) {
	before := testutil.ToFloat64(ItemsHandledTotal.WithLabelValues("handled"))
	HandleItem("handled")
	HandleItem("handled")
	require.Equal(t, before+2, testutil.ToFloat64(ItemsHandledTotal.WithLabelValues("handled")))
}

func TestSetupLogger(t *testing.T) {
	lg := SetupLogger(config.Env{AppEnv: "dev"})
	require.NotNil(t, lg)
	lg = SetupLogger(config.Env{AppEnv: "prod"})
	require.NotNil(t, lg)
}
