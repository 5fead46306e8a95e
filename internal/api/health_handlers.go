package api

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	goproc "github.com/shirou/gopsutil/v4/process"

	"github.com/medorby/medorby/internal/classifier"
	"github.com/medorby/medorby/internal/config"
	"github.com/medorby/medorby/internal/hospital"
	"github.com/medorby/medorby/internal/rag"
)

// HealthHandlers serves the service health endpoint.
type HealthHandlers struct {
	config     *config.Config
	engine     *rag.Engine
	classifier *classifier.Classifier
	hospital   *hospital.Store
	version    string
	started    time.Time
}

// NewHealthHandlers creates health handlers
func NewHealthHandlers(cfg *config.Config, engine *rag.Engine, cls *classifier.Classifier, hospitalStore *hospital.Store, version string) *HealthHandlers {
	return &HealthHandlers{
		config:     cfg,
		engine:     engine,
		classifier: cls,
		hospital:   hospitalStore,
		version:    version,
		started:    time.Now(),
	}
}

// HandleHealth reports service status, the council model roster, and feature
// readiness.
func (h *HealthHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := h.hospital.Stats()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read hospital stats for health check")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "MEDORBY API",
		"version": h.version,
		"models":  h.config.CouncilDivergers,
		"features": map[string]any{
			"rag_indexed":      h.engine.Stats().TotalDocuments,
			"classifier_ready": h.classifier != nil,
			"hospital_db":      stats,
		},
		"runtime": h.runtimeBlock(r.Context()),
	})
}

// runtimeBlock samples process resource usage. Every probe is best-effort;
// a failing probe just drops its key.
func (h *HealthHandlers) runtimeBlock(ctx context.Context) map[string]any {
	block := map[string]any{
		"goroutines":     runtime.NumGoroutine(),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}

	proc, err := goproc.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return block
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		block["rss_bytes"] = mem.RSS
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		block["cpu_percent"] = cpu
	}
	return block
}
