package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerHandler_ServesMetrics(t *testing.T) {
	r := NewMetricsRegistry()
	r.CoreMetrics().RecordMessageStored("AdminPanel")

	srv := NewServer(":0", "/metrics", r, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "errai_messages_stored_total")
}

func TestServerHandler_Health(t *testing.T) {
	srv := NewServer("", "", NewMetricsRegistry(), nil)
	assert.Equal(t, "http://:9090/metrics", srv.Address())

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerStop_NotStarted(t *testing.T) {
	srv := NewServer(":0", "/metrics", NewMetricsRegistry(), nil)
	require.NoError(t, srv.Stop(0))
}
