// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all runtime settings for the triage service.
type Config struct {
	ListenAddr string

	DataDir        string
	KnowledgeDir   string
	ReportsDir     string
	AdaptersDir    string
	HospitalDBPath string

	LLMAPIKey        string
	LLMBaseURL       string
	LLMTimeout       time.Duration
	LLMMaxConcurrent int64

	CouncilDivergers []string
	CouncilReviewer  string
	CouncilChairman  string

	AdapterDim          int
	FederatedMinClients int
	DPClipNorm          float64
	DPNoiseMultiplier   float64

	AllowedOrigins string

	LogLevel  string
	LogFormat string
}

// Defaults returns the baseline configuration before environment overrides.
func Defaults() *Config {
	return &Config{
		ListenAddr:          ":8000",
		DataDir:             "./data",
		LLMBaseURL:          "https://api.groq.com/openai/v1",
		LLMTimeout:          15 * time.Second,
		LLMMaxConcurrent:    8,
		CouncilDivergers:    []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant", "qwen/qwen3-32b"},
		CouncilReviewer:     "llama-3.1-8b-instant",
		CouncilChairman:     "llama-3.3-70b-versatile",
		AdapterDim:          128,
		FederatedMinClients: 3,
		DPClipNorm:          1.0,
		DPNoiseMultiplier:   0.8,
		AllowedOrigins:      "*",
		LogLevel:            "info",
		LogFormat:           "auto",
	}
}

// Load reads configuration from .env files and environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if dir := os.Getenv("MEDORBY_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	// Load .env from the data directory first, then the working directory.
	envFile := os.Getenv("MEDORBY_ENV_FILE")
	if envFile == "" {
		envFile = filepath.Join(cfg.DataDir, ".env")
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file")
		}
	}
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env from current directory")
	}

	// Environment overrides. Data dir may itself come from the .env file.
	if dir := os.Getenv("MEDORBY_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if addr := os.Getenv("MEDORBY_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if key := os.Getenv("MEDORBY_LLM_API_KEY"); key != "" {
		cfg.LLMAPIKey = key
	}
	if base := os.Getenv("MEDORBY_LLM_BASE_URL"); base != "" {
		cfg.LLMBaseURL = strings.TrimRight(base, "/")
	}
	if timeout := os.Getenv("MEDORBY_LLM_TIMEOUT"); timeout != "" {
		cfg.LLMTimeout = parseDuration("MEDORBY_LLM_TIMEOUT", timeout, cfg.LLMTimeout)
	}
	if conc := os.Getenv("MEDORBY_LLM_MAX_CONCURRENT"); conc != "" {
		cfg.LLMMaxConcurrent = int64(parseInt("MEDORBY_LLM_MAX_CONCURRENT", conc, int(cfg.LLMMaxConcurrent)))
	}
	if divergers := os.Getenv("MEDORBY_COUNCIL_DIVERGERS"); divergers != "" {
		cfg.CouncilDivergers = splitList(divergers)
	}
	if reviewer := os.Getenv("MEDORBY_COUNCIL_REVIEWER"); reviewer != "" {
		cfg.CouncilReviewer = reviewer
	}
	if chairman := os.Getenv("MEDORBY_COUNCIL_CHAIRMAN"); chairman != "" {
		cfg.CouncilChairman = chairman
	}
	if dim := os.Getenv("MEDORBY_ADAPTER_DIM"); dim != "" {
		cfg.AdapterDim = parseInt("MEDORBY_ADAPTER_DIM", dim, cfg.AdapterDim)
	}
	if minClients := os.Getenv("MEDORBY_FEDERATED_MIN_CLIENTS"); minClients != "" {
		cfg.FederatedMinClients = parseInt("MEDORBY_FEDERATED_MIN_CLIENTS", minClients, cfg.FederatedMinClients)
	}
	if clip := os.Getenv("MEDORBY_DP_CLIP_NORM"); clip != "" {
		cfg.DPClipNorm = parseFloat("MEDORBY_DP_CLIP_NORM", clip, cfg.DPClipNorm)
	}
	if noise := os.Getenv("MEDORBY_DP_NOISE_MULTIPLIER"); noise != "" {
		cfg.DPNoiseMultiplier = parseFloat("MEDORBY_DP_NOISE_MULTIPLIER", noise, cfg.DPNoiseMultiplier)
	}
	if origins := os.Getenv("MEDORBY_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = origins
	}
	if level := os.Getenv("MEDORBY_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("MEDORBY_LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	cfg.KnowledgeDir = os.Getenv("MEDORBY_KNOWLEDGE_DIR")
	if cfg.KnowledgeDir == "" {
		cfg.KnowledgeDir = filepath.Join(cfg.DataDir, "knowledge")
	}
	cfg.ReportsDir = filepath.Join(cfg.DataDir, "reports")
	cfg.AdaptersDir = filepath.Join(cfg.DataDir, "adapters")
	cfg.HospitalDBPath = filepath.Join(cfg.DataDir, "hospital.db")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.LLMAPIKey == "" {
		log.Warn().Msg("No LLM API key configured; council calls will degrade to sentinel responses")
	}

	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.AdapterDim <= 0 {
		return fmt.Errorf("adapter dimension must be positive, got %d", c.AdapterDim)
	}
	if c.FederatedMinClients <= 0 {
		return fmt.Errorf("federated min clients must be positive, got %d", c.FederatedMinClients)
	}
	if c.DPClipNorm <= 0 {
		return fmt.Errorf("dp clip norm must be positive, got %g", c.DPClipNorm)
	}
	if c.DPNoiseMultiplier < 0 {
		return fmt.Errorf("dp noise multiplier must be non-negative, got %g", c.DPNoiseMultiplier)
	}
	if len(c.CouncilDivergers) == 0 {
		return fmt.Errorf("at least one council diverger model is required")
	}
	if c.CouncilReviewer == "" || c.CouncilChairman == "" {
		return fmt.Errorf("council reviewer and chairman models are required")
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("llm timeout must be positive, got %s", c.LLMTimeout)
	}
	if c.LLMMaxConcurrent <= 0 {
		return fmt.Errorf("llm max concurrent must be positive, got %d", c.LLMMaxConcurrent)
	}
	return nil
}

// EnsureDirs creates the data directories the service persists into.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.KnowledgeDir, c.ReportsDir, c.AdaptersDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func parseInt(name, value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Warn().Str("var", name).Str("value", value).Int("fallback", fallback).Msg("Invalid integer value")
		return fallback
	}
	return parsed
}

func parseFloat(name, value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		log.Warn().Str("var", name).Str("value", value).Float64("fallback", fallback).Msg("Invalid float value")
		return fallback
	}
	return parsed
}

func parseDuration(name, value string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		// Allow bare seconds, e.g. "15".
		if secs, serr := strconv.Atoi(strings.TrimSpace(value)); serr == nil {
			return time.Duration(secs) * time.Second
		}
		log.Warn().Str("var", name).Str("value", value).Dur("fallback", fallback).Msg("Invalid duration value")
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
