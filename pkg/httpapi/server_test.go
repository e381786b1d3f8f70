package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/bca/pkg/experiment"
	"github.com/boristopalov/bca/pkg/messaging"
	"github.com/boristopalov/bca/pkg/metrics"
)

type fixedStatus experiment.Status

func (f fixedStatus) Status() experiment.Status { return experiment.Status(f) }

func newTestServer(t *testing.T) (*Server, *bytes.Buffer, http.Handler) {
	t.Helper()
	srv := NewServer(fixedStatus{Name: "office", RunID: "run-1", Running: true, Callbacks: 12},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	var access bytes.Buffer
	return srv, &access, srv.Handler(&access)
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	_, access, h := newTestServer(t)
	rec := get(h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Contains(t, access.String(), "GET /healthz")
}

func TestStatus(t *testing.T) {
	_, _, h := newTestServer(t)
	rec := get(h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var st experiment.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "run-1", st.RunID)
	assert.True(t, st.Running)
	assert.Equal(t, 12, st.Callbacks)
}

func TestLatest(t *testing.T) {
	srv, _, h := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, get(h, "/latest").Code)

	require.NoError(t, srv.WriteSnapshot(context.Background(), messaging.Snapshot{
		RunID:          "run-1",
		TotalTimesteps: 5,
		Time:           time.Date(2021, 1, 1, 1, 15, 0, 0, time.UTC),
		Values:         map[string]float64{"zn0_temp": 20.25},
	}))

	rec := get(h, "/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap messaging.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, 5, snap.TotalTimesteps)
	assert.Equal(t, 20.25, snap.Values["zn0_temp"])
}

func TestMetrics(t *testing.T) {
	metrics.Timesteps.Inc()
	_, _, h := newTestServer(t)
	rec := get(h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bca_timesteps_total")
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, h := newTestServer(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListenAndServeStops(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx, "127.0.0.1:0", io.Discard) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
