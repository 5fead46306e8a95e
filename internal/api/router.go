package api

import (
	"net/http"
	"strings"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/medorby/medorby/internal/classifier"
	"github.com/medorby/medorby/internal/config"
	"github.com/medorby/medorby/internal/council"
	"github.com/medorby/medorby/internal/federated"
	"github.com/medorby/medorby/internal/hospital"
	"github.com/medorby/medorby/internal/rag"
	"github.com/medorby/medorby/internal/reports"
	"github.com/medorby/medorby/internal/triage"
)

// Router handles HTTP routing
type Router struct {
	mux        *http.ServeMux
	config     *config.Config
	gate       *triage.Gate
	classifier *classifier.Classifier
	engine     *rag.Engine
	council    *council.Orchestrator
	reports    *reports.Store
	aggregator *federated.Aggregator
	hospital   *hospital.Store
	version    string
	origins    []string
}

// NewRouter creates a new router instance
func NewRouter(cfg *config.Config, gate *triage.Gate, cls *classifier.Classifier, engine *rag.Engine, orch *council.Orchestrator, reportStore *reports.Store, aggregator *federated.Aggregator, hospitalStore *hospital.Store, version string) http.Handler {
	r := &Router{
		mux:        http.NewServeMux(),
		config:     cfg,
		gate:       gate,
		classifier: cls,
		engine:     engine,
		council:    orch,
		reports:    reportStore,
		aggregator: aggregator,
		hospital:   hospitalStore,
		version:    version,
		origins:    splitOrigins(cfg.AllowedOrigins),
	}

	r.setupRoutes()
	return ErrorHandler(r)
}

// setupRoutes configures all routes
func (r *Router) setupRoutes() {
	// Create handlers
	triageHandlers := NewTriageHandlers(r.gate, r.classifier)
	ragHandlers := NewRAGHandlers(r.engine)
	councilHandlers := NewCouncilHandlers(r.council, r.origins)
	reportHandlers := NewReportHandlers(r.reports, r.engine, r.classifier, r.council, r.hospital)
	federatedHandlers := NewFederatedHandlers(r.aggregator, r.hospital, r.config.FederatedMinClients, r.config.DPNoiseMultiplier)
	hospitalHandlers := NewHospitalHandlers(r.hospital)
	healthHandlers := NewHealthHandlers(r.config, r.engine, r.classifier, r.hospital, r.version)

	// Triage and classification
	r.mux.HandleFunc("/api/triage", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			triageHandlers.HandleTriage(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/api/classify", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			triageHandlers.HandleClassify(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Retrieval
	r.mux.HandleFunc("/api/rag/retrieve", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			ragHandlers.HandleRetrieve(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/api/rag/stats", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			ragHandlers.HandleStats(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Council deliberation
	r.mux.HandleFunc("/api/council", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			councilHandlers.HandleCouncil(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/api/council/ws", councilHandlers.HandleCouncilWS)

	// Medical reports
	r.mux.HandleFunc("/api/reports", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			reportHandlers.HandleList(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/api/reports/", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodDelete:
			reportHandlers.HandleDelete(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/api/reports/upload", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			reportHandlers.HandleUpload(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/api/reports/analyze/", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			reportHandlers.HandleAnalyze(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Federated learning
	r.mux.HandleFunc("/api/federated/update", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			federatedHandlers.HandleUpdate(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/api/federated/adapter", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			federatedHandlers.HandleAdapter(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/api/federated/status", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			federatedHandlers.HandleStatus(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Hospital store
	r.mux.HandleFunc("/api/hospital/records", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			hospitalHandlers.HandleRecords(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/api/hospital/records/", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			hospitalHandlers.HandleRecordPDF(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/api/hospital/stats", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			hospitalHandlers.HandleStats(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Health and metrics
	r.mux.HandleFunc("/api/health", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			healthHandlers.HandleHealth(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.Handle("/metrics", promhttp.Handler())
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()

	if origin := req.Header.Get("Origin"); origin != "" && originAllowed(r.origins, origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	}

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)

	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Dur("duration", time.Since(start)).
		Msg("HTTP request")
}

// splitOrigins parses the comma-separated allowed-origins setting into
// match patterns.
func splitOrigins(raw string) []string {
	var patterns []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// originAllowed reports whether origin matches any configured pattern.
// Patterns may carry wildcards, e.g. "https://*.example.org".
func originAllowed(patterns []string, origin string) bool {
	for _, p := range patterns {
		if wildcard.Match(p, origin) {
			return true
		}
	}
	return false
}
