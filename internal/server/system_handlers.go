package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/mktcalc/internal/database"
	"github.com/aristath/mktcalc/internal/scheduler"
)

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	journal     *database.DB
	scheduler   *scheduler.Scheduler

	// swapped in tests
	systemStats func() (float64, float64)
}

// NewSystemHandlers creates a new system handlers instance. journal and
// sched may be nil.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	journal *database.DB,
	sched *scheduler.Scheduler,
) *SystemHandlers {
	h := &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		journal:     journal,
		scheduler:   sched,
	}
	h.systemStats = h.getSystemStats
	return h
}

// SystemStatusResponse represents the system status
type SystemStatusResponse struct {
	Status        string  `json:"status"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Goroutines    int     `json:"goroutines"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	HeapAlloc     string  `json:"heap_alloc"`
	Journal       bool    `json:"journal"`
	Jobs          int     `json:"jobs"`
}

// JobsStatusResponse lists the scheduler's jobs
type JobsStatusResponse struct {
	TotalJobs int                   `json:"total_jobs"`
	Jobs      []scheduler.JobStatus `json:"jobs"`
}

// DiskUsageResponse represents disk usage of the data directory
type DiskUsageResponse struct {
	DataDir      string  `json:"data_dir"`
	DataDirMB    float64 `json:"data_dir_mb"`
	DataDirHuman string  `json:"data_dir_human"`
	JournalMB    float64 `json:"journal_mb"`
}

// HandleSystemStatus returns process and host status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, memPercent := h.systemStats()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	uptime := time.Since(h.startupTime)
	response := SystemStatusResponse{
		Status:        "healthy",
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		HeapAlloc:     humanize.Bytes(ms.HeapAlloc),
		Journal:       h.journal != nil,
	}
	if h.scheduler != nil {
		response.Jobs = len(h.scheduler.Status())
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleJobsStatus returns scheduler job status
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting jobs status")

	jobs := []scheduler.JobStatus{}
	if h.scheduler != nil {
		jobs = h.scheduler.Status()
	}

	h.writeJSON(w, http.StatusOK, JobsStatusResponse{
		TotalJobs: len(jobs),
		Jobs:      jobs,
	})
}

// HandleTriggerJob runs a registered job immediately
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if h.scheduler == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{
			"status":  "error",
			"message": "scheduler not running",
		})
		return
	}

	if err := h.scheduler.RunByName(name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrJobNotFound) {
			status = http.StatusNotFound
		}
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		h.writeJSON(w, status, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": name + " completed",
	})
}

// HandleDiskUsage returns disk usage statistics
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting disk usage")

	dataDirSize := h.getDirSize(h.dataDir)

	var journalSize int64
	if h.journal != nil {
		if info, err := os.Stat(h.journal.Path()); err == nil {
			journalSize = info.Size()
		}
	}

	h.writeJSON(w, http.StatusOK, DiskUsageResponse{
		DataDir:      h.dataDir,
		DataDirMB:    float64(dataDirSize) / 1024 / 1024,
		DataDirHuman: humanize.Bytes(uint64(dataDirSize)),
		JournalMB:    float64(journalSize) / 1024 / 1024,
	})
}

// getDirSize calculates total size of a directory in bytes
func (h *SystemHandlers) getDirSize(dirPath string) int64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return totalSize
}

// getSystemStats calculates CPU and RAM usage percentages.
// Samples CPU over 100ms so the endpoint stays responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
