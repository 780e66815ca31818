package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/regs"
	"github.com/seasonwatch/regs-crawler/internal/store/memory"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeStatus struct{ hb regs.Heartbeat }

func (f fakeStatus) Snapshot() regs.Heartbeat { return f.hb }

func newTestServer(t *testing.T, cfg Config, status StatusSource, ready ReadyFunc) (*Server, *memory.JobStore) {
	t.Helper()
	ids := &seqIDs{}
	clock := fixedClock{t: time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)}
	jobs := memory.NewJobStore(ids, clock)
	return New(jobs, ids, clock, status, ready, cfg, zap.NewNop()), jobs
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{}, nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzReflectsReadiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "ready", err: nil, want: http.StatusOK},
		{name: "database down", err: errors.New("dial tcp: connection refused"), want: http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := newTestServer(t, Config{}, nil, func(context.Context) error { return tc.err })
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{}, nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestStatusReturnsWorkerSnapshot(t *testing.T) {
	t.Parallel()

	hb := regs.Heartbeat{WorkerID: "worker-7", ActiveJobs: 2, ClaimedTotal: 15, FinishedTotal: 13}
	srv, _ := newTestServer(t, Config{}, fakeStatus{hb: hb}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got regs.Heartbeat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "worker-7", got.WorkerID)
	require.Equal(t, 2, got.ActiveJobs)
	require.EqualValues(t, 15, got.ClaimedTotal)
}

func TestCreateRunEnqueuesCrossProduct(t *testing.T) {
	t.Parallel()

	srv, jobs := newTestServer(t, Config{}, nil, nil)

	body := `{"job_type":"extract_state_species","state_codes":["pa","AL"],"species":["deer","trout"],"tier":"pro"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp createRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	require.Len(t, resp.JobIDs, 4)

	status, err := jobs.RunStatus(context.Background(), resp.RunID)
	require.NoError(t, err)
	require.True(t, status.Active())

	claimed, err := jobs.Claim(context.Background(), "w1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 4)
	pairs := make(map[string]bool)
	for _, j := range claimed {
		require.Equal(t, resp.RunID, j.RunID)
		require.Equal(t, regs.TierPro, j.Tier)
		pairs[j.StateCode+"/"+j.Species] = true
	}
	require.Equal(t, map[string]bool{
		"PA/deer": true, "PA/trout": true, "AL/deer": true, "AL/trout": true,
	}, pairs)
}

func TestCreateRunValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "unknown job type", body: `{"job_type":"reindex","state_codes":["PA"]}`},
		{name: "missing states", body: `{"job_type":"discover_state"}`},
		{name: "extraction without species", body: `{"job_type":"extract_state_species","state_codes":["PA"]}`},
		{name: "unknown tier", body: `{"job_type":"discover_state","state_codes":["PA"],"tier":"platinum"}`},
		{name: "malformed json", body: `{"job_type":`},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := newTestServer(t, Config{}, nil, nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(tc.body)))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRunStatusEndpoint(t *testing.T) {
	t.Parallel()

	srv, jobs := newTestServer(t, Config{}, nil, nil)
	require.NoError(t, jobs.CreateRun(context.Background(), "run-42"))
	id, err := jobs.Enqueue(context.Background(), regs.Job{RunID: "run-42", Type: regs.JobTypeDiscoverState, StateCode: "PA", Tier: regs.TierBasic})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/run-42", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"running"`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyGuardsV1Routes(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{APIKey: "sekret"}, fakeStatus{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("X-API-Key", "sekret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open even when an API key is configured.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
