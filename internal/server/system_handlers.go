package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/meridian/decisiondesk/internal/database"
	"github.com/meridian/decisiondesk/internal/scheduler"
)

// SystemHandlers handles monitoring and operations endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	deskDB      *database.DB
	ledgerDB    *database.DB
	scheduler   *scheduler.Scheduler

	revalidationJob scheduler.Job
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, dataDir string, deskDB, ledgerDB *database.DB, sched *scheduler.Scheduler) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now().UTC(),
		deskDB:      deskDB,
		ledgerDB:    ledgerDB,
		scheduler:   sched,
	}
}

// SetJobs registers jobs for manual triggering
func (h *SystemHandlers) SetJobs(revalidation scheduler.Job) {
	h.revalidationJob = revalidation
}

// HandleHealth handles GET /health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	var activeIdeas, liveVariants int
	if err := h.deskDB.Conn().QueryRow(
		`SELECT COUNT(*) FROM ideas WHERE retention = 'active'`).Scan(&activeIdeas); err != nil && !errors.Is(err, sql.ErrNoRows) {
		h.log.Error().Err(err).Msg("Failed to count ideas")
	}
	if err := h.deskDB.Conn().QueryRow(
		`SELECT COUNT(*) FROM variants WHERE deleted_at IS NULL`).Scan(&liveVariants); err != nil && !errors.Is(err, sql.ErrNoRows) {
		h.log.Error().Err(err).Msg("Failed to count variants")
	}

	var openSheets int
	if err := h.ledgerDB.Conn().QueryRow(
		`SELECT COUNT(*) FROM sheets WHERE status NOT IN ('executed', 'cancelled')`).Scan(&openSheets); err != nil && !errors.Is(err, sql.ErrNoRows) {
		h.log.Error().Err(err).Msg("Failed to count sheets")
	}

	cpuAvg, memUsed := h.resourceUsage()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startupTime).Seconds()),
		"active_ideas":   activeIdeas,
		"live_variants":  liveVariants,
		"open_sheets":    openSheets,
		"cpu_percent":    cpuAvg,
		"memory_percent": memUsed,
	})
}

// resourceUsage samples CPU over a short window so the endpoint stays fast
func (h *SystemHandlers) resourceUsage() (float64, float64) {
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

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{})
	for _, db := range []*database.DB{h.deskDB, h.ledgerDB} {
		size := 0.0
		if info, err := os.Stat(filepath.Join(h.dataDir, db.Name()+".db")); err == nil {
			size = float64(info.Size()) / (1024 * 1024)
		}
		stats[db.Name()] = map[string]interface{}{
			"size_mb": size,
			"profile": string(db.Profile()),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// HandleDatabaseIntegrity handles GET /api/system/database/integrity
func (h *SystemHandlers) HandleDatabaseIntegrity(w http.ResponseWriter, r *http.Request) {
	result, err := database.NewIntegrityChecker(h.deskDB.Conn()).Check()
	if err != nil {
		h.log.Error().Err(err).Msg("Integrity check failed")
		http.Error(w, "Integrity check failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"valid":                result.IsValid,
		"orphaned_tracks":      result.OrphanedTracks,
		"orphaned_proposals":   result.OrphanedProposals,
		"orphaned_variants":    result.OrphanedVariants,
		"duplicate_live_slots": result.DuplicateLiveSlots,
		"duplicate_proposals":  result.DuplicateProposals,
	})
}

// HandleTriggerRevalidation handles POST /api/system/jobs/revalidation/trigger
func (h *SystemHandlers) HandleTriggerRevalidation(w http.ResponseWriter, r *http.Request) {
	if h.revalidationJob == nil {
		http.Error(w, "Revalidation job not registered", http.StatusServiceUnavailable)
		return
	}

	go func() {
		if err := h.scheduler.RunNow(h.revalidationJob); err != nil {
			h.log.Error().Err(err).Msg("Manual revalidation failed")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "triggered"})
}
