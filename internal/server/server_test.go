package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stocksim/internal/config"
	"github.com/aristath/stocksim/internal/di"
	"github.com/aristath/stocksim/internal/events"
)

func newTestServer(t *testing.T) (*Server, *di.Container) {
	t.Helper()
	cfg := &config.Config{
		DataDir:           t.TempDir(),
		Port:              8001,
		DevMode:           true,
		ReportingTimezone: "UTC",
		Simulation: config.SimulationConfig{
			Schedule:       "0 0 22 * * *",
			Volatility:     0.02,
			MaxDailyMove:   0.1,
			MaxVolumeDelta: 1000,
			Seed:           3,
			Workers:        2,
		},
		Reconcile: config.ReconcileConfig{Schedule: "0 30 22 * * *"},
		Analytics: config.AnalyticsConfig{HistoryMaxDays: 365, TopN: 3, MaterialityPct: 1},
		Maintenance: config.MaintenanceConfig{
			HealthCheckSchedule: "@hourly",
			VacuumSchedule:      "0 0 4 * * SUN",
		},
	}
	require.NoError(t, cfg.Validate())

	container, jobs, err := di.Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(container.Close)

	srv := New(Config{Log: zerolog.Nop(), Config: cfg, Container: container, Jobs: jobs})
	srv.systemHandlers.cpuPercent = func(context.Context) (float64, error) { return 12.5, nil }
	srv.systemHandlers.memPercent = func(context.Context) (float64, error) { return 40, nil }
	srv.systemHandlers.diskUsage = func(context.Context, string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Free: 2 << 30, UsedPercent: 55}, nil
	}
	return srv, container
}

func serve(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	w := serve(t, srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]interface{}{"market": "ok", "ledger": "ok", "portfolio": "ok", "cache": "ok"}, body["databases"])
}

func TestHealth_DatabaseDown(t *testing.T) {
	srv, container := newTestServer(t)
	require.NoError(t, container.LedgerDB.Close())

	w := serve(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestSystemStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	w := serve(t, srv, http.MethodGet, "/api/system/status")
	require.Equal(t, http.StatusOK, w.Code)

	var status SystemStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, 12.5, status.CPUPercent)
	assert.Equal(t, 40.0, status.MemPercent)
	assert.Equal(t, uint64(2048), status.DiskFreeMB)
	assert.Len(t, status.Databases, 4)
	assert.Len(t, status.Jobs, 5)
	assert.False(t, status.BackupsEnabled)
	assert.NotEmpty(t, status.Today)
}

func TestDatabaseStats(t *testing.T) {
	srv, _ := newTestServer(t)

	w := serve(t, srv, http.MethodGet, "/api/system/databases")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Databases []DatabaseStatus `json:"databases"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Databases, 4)
	for _, db := range body.Databases {
		assert.True(t, db.Healthy, db.Name)
		require.NotNil(t, db.Stats)
		assert.Positive(t, db.Stats.PageSize)
	}
}

func TestTriggerJob(t *testing.T) {
	srv, _ := newTestServer(t)

	w := serve(t, srv, http.MethodPost, "/api/system/jobs/check_core_databases")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"completed"`)

	w = serve(t, srv, http.MethodPost, "/api/system/jobs/simulate_market")
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(t, srv, http.MethodGet, "/api/market/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"day"`)

	w = serve(t, srv, http.MethodPost, "/api/system/jobs/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"unknown job: nope"}`, w.Body.String())
}

type gateJob struct {
	started chan struct{}
	release chan struct{}
}

func (j *gateJob) Name() string { return "slow_job" }

func (j *gateJob) Run() error {
	close(j.started)
	<-j.release
	return nil
}

func TestTriggerJob_ConflictWhileRunning(t *testing.T) {
	srv, container := newTestServer(t)
	job := &gateJob{started: make(chan struct{}), release: make(chan struct{})}
	require.NoError(t, container.Scheduler.AddJob("0 0 3 * * *", job))
	srv.systemHandlers.jobs[job.Name()] = job

	done := make(chan int, 1)
	go func() { done <- serve(t, srv, http.MethodPost, "/api/system/jobs/slow_job").Code }()
	<-job.started

	w := serve(t, srv, http.MethodPost, "/api/system/jobs/slow_job")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already running")

	close(job.release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestJobsStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	w := serve(t, srv, http.MethodGet, "/api/system/jobs")
	require.Equal(t, http.StatusOK, w.Code)
	for _, name := range []string{"simulate_market", "reconcile_positions", "check_core_databases", "check_wal_checkpoints", "database_maintenance"} {
		assert.Contains(t, w.Body.String(), name)
	}
}

func TestListBackups_NotConfigured(t *testing.T) {
	srv, _ := newTestServer(t)

	w := serve(t, srv, http.MethodGet, "/api/system/backups")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModuleRoutesMounted(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{
		"/api/market/stocks",
		"/api/ledger/users",
		"/api/leaderboard",
		"/api/portfolio/alice/positions",
	} {
		w := serve(t, srv, http.MethodGet, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestEventsStream(t *testing.T) {
	srv, container := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events/stream?types=STOCK_UPDATED", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() map[string]interface{} {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var payload map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &payload))
			return payload
		}
	}

	assert.Equal(t, "connected", readEvent()["type"])

	// Filtered out, then delivered
	container.EventManager.Emit(events.PriceUpdated, "market", map[string]interface{}{"symbol": "ACME"})
	container.EventManager.Emit(events.StockUpdated, "market", map[string]interface{}{"symbol": "ACME"})

	event := readEvent()
	assert.Equal(t, "STOCK_UPDATED", event["type"])
	assert.Equal(t, "market", event["module"])
}
