// Package daemon manages the sentinel daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Server        ServerConfig        `toml:"server"`
	ModelService  ModelServiceConfig  `toml:"model_service"`
	ContentSource ContentSourceConfig `toml:"content_source"`
	Circuit       CircuitConfig       `toml:"circuit"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Pipeline      PipelineConfig      `toml:"pipeline"`
	Store         StoreConfig         `toml:"store"`
	Alerts        AlertsConfig        `toml:"alerts"`
	Logging       LoggingConfig       `toml:"logging"`
	Telemetry     TelemetryConfig     `toml:"telemetry"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ModelServiceConfig points at the external learned-model service the
// Failsafe Dispatcher prefers when the circuit is healthy.
type ModelServiceConfig struct {
	BaseURL        string `toml:"base_url"`
	DefaultModel   string `toml:"default_model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ContentSourceConfig controls the upstream listing API. ExtraHeaders is
// populated from SOURCE_*-prefixed environment variables, never from the
// TOML file, and forwarded verbatim on every upstream request.
type ContentSourceConfig struct {
	BaseURL             string            `toml:"base_url"`
	DefaultSubreddit    string            `toml:"default_subreddit"`
	PostLimit           int               `toml:"post_limit"`
	CommentLimitPerPost int               `toml:"comment_limit_per_post"`
	ExtraHeaders        map[string]string `toml:"-"`
}

// CircuitConfig controls the Failsafe Dispatcher's breaker.
type CircuitConfig struct {
	FailureThreshold     int `toml:"failure_threshold"`
	FailureWindowSeconds int `toml:"failure_window_seconds"`
	ResetTimeoutSeconds  int `toml:"reset_timeout_seconds"`
}

// SchedulerConfig controls the periodic pipeline scheduler.
type SchedulerConfig struct {
	Enabled         bool `toml:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds"`
	JitterSeconds   int  `toml:"jitter_seconds"`
}

// PipelineConfig tunes the orchestrator's concurrency and default
// behavior for scheduled runs.
type PipelineConfig struct {
	MaxConcurrentPipelines  int  `toml:"max_concurrent_pipelines"`
	PersistFanout           int  `toml:"persist_fanout"`
	PersistFailureThreshold int  `toml:"persist_failure_threshold"`
	EnableAlerts            bool `toml:"enable_alerts"`
	TaskTTLHours            int  `toml:"task_ttl_hours"`
}

// StoreConfig controls the SQLite result store location. DSN overrides
// Dir with a full SQLite DSN when set (e.g. via STORE_DSN).
type StoreConfig struct {
	Dir string `toml:"dir"`
	DSN string `toml:"dsn"`
}

// AlertsConfig controls the alert rule set. An empty RulesFile uses the
// bundled default rules.
type AlertsConfig struct {
	RulesFile string `toml:"rules_file"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// TelemetryConfig controls observability.
type TelemetryConfig struct {
	Prometheus     bool `toml:"prometheus"`
	PrometheusPort int  `toml:"prometheus_port"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8733,
		},
		ModelService: ModelServiceConfig{
			BaseURL:        "",
			DefaultModel:   "distilbert",
			TimeoutSeconds: 5,
		},
		ContentSource: ContentSourceConfig{
			BaseURL:             "https://www.reddit.com",
			DefaultSubreddit:    "mentalhealth",
			PostLimit:           25,
			CommentLimitPerPost: 10,
		},
		Circuit: CircuitConfig{
			FailureThreshold:     3,
			FailureWindowSeconds: 300,
			ResetTimeoutSeconds:  60,
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			IntervalSeconds: 300,
			JitterSeconds:   30,
		},
		Pipeline: PipelineConfig{
			MaxConcurrentPipelines:  4,
			PersistFanout:           8,
			PersistFailureThreshold: 10,
			EnableAlerts:            true,
		},
		Store: StoreConfig{
			Dir: filepath.Join(sentinelHome(), "data"),
		},
		Alerts: AlertsConfig{
			RulesFile: "",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Prometheus:     false,
			PrometheusPort: 9090,
		},
	}
}

// LoadConfig reads config from ~/.sentinel/config.toml, falling back to
// defaults, then applies environment overrides on top.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(sentinelHome(), "config.toml")

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides layers environment variables on top of a loaded
// Config, matching the precedence documented for the daemon: TOML file,
// then env. Unset or unparseable variables leave the existing value
// untouched.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MODEL_SERVICE_URL"); v != "" {
		cfg.ModelService.BaseURL = v
	}
	if v, ok := envInt("CIRCUIT_MAX_FAILURES"); ok {
		cfg.Circuit.FailureThreshold = v
	}
	if v, ok := envInt("CIRCUIT_WINDOW_SECONDS"); ok {
		cfg.Circuit.FailureWindowSeconds = v
	}
	if v, ok := envInt("CIRCUIT_COOLDOWN_SECONDS"); ok {
		cfg.Circuit.ResetTimeoutSeconds = v
	}
	if v, ok := envBool("SCHEDULER_ENABLED"); ok {
		cfg.Scheduler.Enabled = v
	}
	if v, ok := envInt("SCRAPING_INTERVAL_MINUTES"); ok {
		cfg.Scheduler.IntervalSeconds = v * 60
	}
	if v, ok := envFloat("SCRAPING_JITTER_FRAC"); ok {
		cfg.Scheduler.JitterSeconds = int(v * float64(cfg.Scheduler.IntervalSeconds))
	}
	if v, ok := envInt("PIPELINE_MAX_PARALLEL"); ok {
		cfg.Pipeline.MaxConcurrentPipelines = v
	}
	if v, ok := envInt("PIPELINE_PERSIST_FANOUT"); ok {
		cfg.Pipeline.PersistFanout = v
	}
	if v := os.Getenv("STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v, ok := envInt("TASK_TTL_HOURS"); ok {
		cfg.Pipeline.TaskTTLHours = v
	}

	cfg.ContentSource.ExtraHeaders = sourceHeadersFromEnv()
}

// sourceHeadersFromEnv collects SOURCE_*-prefixed environment variables
// into a header map, stripping the prefix and forwarding the rest of the
// name unchanged as the header key (e.g. SOURCE_AUTHORIZATION becomes
// the "AUTHORIZATION" header). These credentials are opaque to sentinel:
// it only relays them to the content source.
func sourceHeadersFromEnv() map[string]string {
	const prefix = "SOURCE_"
	var headers map[string]string
	for _, kv := range os.Environ() {
		name, value, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(name, prefix) {
			continue
		}
		if headers == nil {
			headers = make(map[string]string)
		}
		headers[strings.TrimPrefix(name, prefix)] = value
	}
	return headers
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// SaveConfig writes the config to ~/.sentinel/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(sentinelHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// sentinelHome returns the sentinel data directory.
func sentinelHome() string {
	if env := os.Getenv("SENTINEL_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sentinel")
}

// SentinelHome is exported for use by other packages.
func SentinelHome() string {
	return sentinelHome()
}
