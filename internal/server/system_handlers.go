package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/stocksim/internal/database"
	"github.com/aristath/stocksim/internal/di"
	"github.com/aristath/stocksim/internal/scheduler"
)

// SystemStatusResponse is the payload of GET /api/system/status
type SystemStatusResponse struct {
	Status         string                `json:"status"`
	Uptime         string                `json:"uptime"`
	CPUPercent     float64               `json:"cpu_percent"`
	MemPercent     float64               `json:"memory_percent"`
	DiskFreeMB     uint64                `json:"disk_free_mb"`
	DiskUsedPct    float64               `json:"disk_used_percent"`
	Databases      []DatabaseStatus      `json:"databases"`
	Jobs           []scheduler.JobStatus `json:"jobs"`
	Today          string                `json:"today"`
	BackupsEnabled bool                  `json:"backups_enabled"`
}

// DatabaseStatus is the health and size of one database
type DatabaseStatus struct {
	Name    string          `json:"name"`
	Healthy bool            `json:"healthy"`
	Error   string          `json:"error,omitempty"`
	Stats   *database.Stats `json:"stats,omitempty"`
}

// SystemHandlers serves operational endpoints
type SystemHandlers struct {
	container *di.Container
	jobs      map[string]scheduler.Job
	dataDir   string
	startedAt time.Time
	log       zerolog.Logger

	cpuPercent func(ctx context.Context) (float64, error)
	memPercent func(ctx context.Context) (float64, error)
	diskUsage  func(ctx context.Context, path string) (*disk.UsageStat, error)
}

// NewSystemHandlers creates system handlers. jobs may be nil.
func NewSystemHandlers(container *di.Container, jobs *di.JobInstances, dataDir string, log zerolog.Logger) *SystemHandlers {
	byName := make(map[string]scheduler.Job)
	if jobs != nil {
		for _, job := range jobs.All() {
			byName[job.Name()] = job
		}
	}

	return &SystemHandlers{
		container:  container,
		jobs:       byName,
		dataDir:    dataDir,
		startedAt:  time.Now(),
		log:        log.With().Str("handler", "system").Logger(),
		cpuPercent: sampleCPU,
		memPercent: sampleMemory,
		diskUsage:  disk.UsageWithContext,
	}
}

// HandleSystemStatus returns host load, database health and job state
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := SystemStatusResponse{
		Status:         "healthy",
		Uptime:         time.Since(h.startedAt).Round(time.Second).String(),
		Databases:      h.databaseStatuses(ctx),
		Jobs:           h.jobStatuses(),
		BackupsEnabled: h.container.BackupService != nil,
	}
	if h.container.MarketService != nil {
		response.Today = h.container.MarketService.Today().String()
	}

	if cpuPct, err := h.cpuPercent(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else {
		response.CPUPercent = cpuPct
	}
	if memPct, err := h.memPercent(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		response.MemPercent = memPct
	}
	if usage, err := h.diskUsage(ctx, h.dataDir); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
	} else {
		response.DiskFreeMB = usage.Free >> 20
		response.DiskUsedPct = usage.UsedPercent
	}

	for _, db := range response.Databases {
		if !db.Healthy {
			response.Status = "degraded"
			break
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// HandleDatabaseStats returns per-database health and page statistics
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"databases":    h.databaseStatuses(r.Context()),
		"last_checked": time.Now().Format(time.RFC3339),
	})
}

// HandleJobsStatus lists scheduled jobs with their next and previous runs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": h.jobStatuses(),
	})
}

// HandleTriggerJob runs a registered job immediately
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job: "+name)
		return
	}
	if h.container.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not available")
		return
	}

	startTime := time.Now()
	if err := h.container.Scheduler.RunNow(job); err != nil {
		if errors.Is(err, scheduler.ErrJobRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":         name,
		"status":      "completed",
		"duration_ms": time.Since(startTime).Milliseconds(),
	})
}

// HandleListBackups lists stored backup archives, newest first
func (h *SystemHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	if h.container.BackupService == nil {
		writeError(w, http.StatusNotFound, "backups are not configured")
		return
	}

	backups, err := h.container.BackupService.ListBackups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backups")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backups": backups,
		"count":   len(backups),
	})
}

func (h *SystemHandlers) databaseStatuses(ctx context.Context) []DatabaseStatus {
	dbs := h.container.Databases()
	statuses := make([]DatabaseStatus, 0, len(dbs))
	for _, db := range dbs {
		status := DatabaseStatus{Name: db.Name(), Healthy: true}
		if err := db.QuickCheck(ctx); err != nil {
			status.Healthy = false
			status.Error = err.Error()
			statuses = append(statuses, status)
			continue
		}
		stats, err := db.GetStats(ctx)
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
		}
		status.Stats = stats
		statuses = append(statuses, status)
	}
	return statuses
}

func (h *SystemHandlers) jobStatuses() []scheduler.JobStatus {
	if h.container.Scheduler != nil {
		return h.container.Scheduler.Jobs()
	}

	// Not scheduled yet: report what could be triggered
	statuses := make([]scheduler.JobStatus, 0, len(h.jobs))
	for name := range h.jobs {
		statuses = append(statuses, scheduler.JobStatus{Name: name})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// sampleCPU averages all CPUs over 100ms so the status call stays fast
func sampleCPU(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

func sampleMemory(ctx context.Context) (float64, error) {
	stat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return stat.UsedPercent, nil
}
