package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/medorby/medorby/internal/api"
	"github.com/medorby/medorby/internal/classifier"
	"github.com/medorby/medorby/internal/config"
	"github.com/medorby/medorby/internal/council"
	"github.com/medorby/medorby/internal/dp"
	"github.com/medorby/medorby/internal/federated"
	"github.com/medorby/medorby/internal/hospital"
	"github.com/medorby/medorby/internal/llm"
	"github.com/medorby/medorby/internal/logging"
	"github.com/medorby/medorby/internal/rag"
	"github.com/medorby/medorby/internal/reports"
	"github.com/medorby/medorby/internal/triage"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	flagListenAddr string
	flagDataDir    string
)

var rootCmd = &cobra.Command{
	Use:     "medorby",
	Short:   "Medorby - privacy-first medical triage and LLM council service",
	Long:    `Medorby screens symptom descriptions through a deterministic red-flag gate and deliberates non-emergency cases across a council of language models with retrieval-augmented context`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagListenAddr, "listen", "", "listen address (overrides MEDORBY_LISTEN_ADDR)")
	rootCmd.Flags().StringVar(&flagDataDir, "data-dir", "", "data directory (overrides MEDORBY_DATA_DIR)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Medorby %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Initialize logger with baseline defaults for early startup logs
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "medorby",
	})

	// Flags win over the environment. Setting the variables before Load keeps
	// the derived paths (knowledge, reports, adapters) consistent.
	if flagListenAddr != "" {
		os.Setenv("MEDORBY_LISTEN_ADDR", flagListenAddr)
	}
	if flagDataDir != "" {
		os.Setenv("MEDORBY_DATA_DIR", flagDataDir)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Re-initialize logging with configuration-driven settings
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "medorby",
	})

	log.Info().Str("version", Version).Msg("Starting Medorby triage server")

	if err := cfg.EnsureDirs(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create data directories")
	}

	hospitalStore, err := hospital.Open(cfg.HospitalDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open hospital database")
	}
	defer hospitalStore.Close()

	reportStore, err := reports.NewStore(cfg.ReportsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize report store")
	}

	// Uploaded reports feed the retrieval corpus alongside the knowledge
	// directory, so report changes trigger a rebuild.
	engine := rag.NewEngine(cfg.KnowledgeDir, reportStore)
	reportStore.SetOnChange(engine.Rebuild)
	engine.Rebuild()

	watcher, err := rag.NewWatcher(engine, cfg.KnowledgeDir)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create knowledge watcher, file changes will require restart")
	} else {
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start knowledge watcher")
		}
		defer watcher.Stop()
	}

	cls := classifier.New()

	aggregator, err := federated.New(cfg.AdapterDim, cfg.DPClipNorm, cfg.DPNoiseMultiplier, cfg.AdaptersDir, dp.New())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize federated aggregator")
	}

	client := llm.New(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMTimeout, cfg.LLMMaxConcurrent)
	roster := council.RosterFromModels(cfg.CouncilDivergers, cfg.CouncilReviewer, cfg.CouncilChairman)
	orch := council.New(cls, engine, client, hospitalStore, roster)

	gate := triage.NewGate()

	router := api.NewRouter(cfg, gate, cls, engine, orch, reportStore, aggregator, hospitalStore, Version)

	// NOTE: We use ReadHeaderTimeout instead of ReadTimeout to avoid affecting
	// WebSocket connections. ReadTimeout sets a deadline on the underlying
	// connection that persists even after WebSocket upgrade, causing premature
	// disconnections. ReadHeaderTimeout only applies during header reading.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // Disabled to support SSE/streaming - each handler manages its own deadline
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Int("council_members", len(roster.Divergers)).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// SIGTERM and SIGINT for shutdown, SIGHUP for a knowledge re-index.
	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)

	for {
		select {
		case <-reloadChan:
			log.Info().Msg("Received SIGHUP, rebuilding knowledge index...")
			engine.Rebuild()

		case <-sigChan:
			log.Info().Msg("Shutting down server...")
			goto shutdown
		}
	}

shutdown:

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Server stopped")
}
