package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServerExposesRecordedMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordRun("COMPLETED", 3*time.Second, 4)
	metrics.RecordTool("read_file", false)

	srv := httptest.NewServer(NewServer("", metrics, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `loopsmith_runs_total{outcome="COMPLETED"} 1`)
	require.Contains(t, string(body), `loopsmith_tool_executions_total{status="ok",tool="read_file"} 1`)
}

func TestServerHealthEndpoint(t *testing.T) {
	srv := httptest.NewServer(NewServer("", NewMetrics(), nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"ok"}`, string(body))
}
