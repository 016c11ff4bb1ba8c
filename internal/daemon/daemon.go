package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tutu-network/sentinel/internal/alerts"
	"github.com/tutu-network/sentinel/internal/api"
	"github.com/tutu-network/sentinel/internal/contentsource"
	"github.com/tutu-network/sentinel/internal/domain"
	"github.com/tutu-network/sentinel/internal/failsafe"
	"github.com/tutu-network/sentinel/internal/health"
	"github.com/tutu-network/sentinel/internal/infra/sqlite"
	"github.com/tutu-network/sentinel/internal/modelclient"
	"github.com/tutu-network/sentinel/internal/orchestrator"
	"github.com/tutu-network/sentinel/internal/registry"
	"github.com/tutu-network/sentinel/internal/scheduler"
)

// Daemon is the sentinel runtime: it wires together the content source,
// the model client and its Failsafe Dispatcher, the alert evaluator,
// the result store, the task registry, the orchestrator, the periodic
// scheduler, and the HTTP API.
type Daemon struct {
	Config Config

	DB          *sqlite.DB
	ModelClient *modelclient.Client
	Dispatcher  *failsafe.Dispatcher
	Source      *contentsource.Source
	Evaluator   *alerts.Evaluator
	Registry    *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Health      *health.Checker
	Scheduler   *scheduler.Scheduler
	Server      *api.Server

	cancel context.CancelFunc
}

// New creates and initializes a Daemon using the config found at
// ~/.sentinel/config.toml (or defaults, if absent).
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	var db *sqlite.DB
	var err error
	if cfg.Store.DSN != "" {
		db, err = sqlite.OpenDSN(cfg.Store.DSN)
	} else {
		db, err = sqlite.Open(cfg.Store.Dir)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	client := modelclient.New(cfg.ModelService.BaseURL)

	breakerCfg := failsafe.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		FailureWindow:    time.Duration(cfg.Circuit.FailureWindowSeconds) * time.Second,
		ResetTimeout:     time.Duration(cfg.Circuit.ResetTimeoutSeconds) * time.Second,
	}
	dispatcher := failsafe.New(client, breakerCfg, time.Duration(cfg.ModelService.TimeoutSeconds)*time.Second)

	source := contentsource.NewWithHeaders(cfg.ContentSource.BaseURL, cfg.ContentSource.ExtraHeaders)

	rules, err := alerts.LoadRulesFile(cfg.Alerts.RulesFile)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load alert rules: %w", err)
	}
	evaluator := alerts.New(rules)

	taskTTL := registry.DefaultTTL
	if cfg.Pipeline.TaskTTLHours > 0 {
		taskTTL = time.Duration(cfg.Pipeline.TaskTTLHours) * time.Hour
	}
	reg := registry.New(taskTTL)

	orchCfg := orchestrator.Config{
		MaxConcurrentPipelines:  cfg.Pipeline.MaxConcurrentPipelines,
		PersistFanout:           cfg.Pipeline.PersistFanout,
		PersistFailureThreshold: cfg.Pipeline.PersistFailureThreshold,
	}
	orch := orchestrator.New(source, dispatcher, evaluator, db, reg, orchCfg)

	checker := health.NewChecker(db, source.Ping, dispatcher)

	srv := api.NewServer(orch, dispatcher, reg, db, checker)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	d := &Daemon{
		Config:       cfg,
		DB:           db,
		ModelClient:  client,
		Dispatcher:   dispatcher,
		Source:       source,
		Evaluator:    evaluator,
		Registry:     reg,
		Orchestrator: orch,
		Health:       checker,
		Server:       srv,
	}

	if cfg.Scheduler.Enabled {
		job := d.scheduledPipelineJob()
		schedCfg := scheduler.Config{
			Interval: time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
			Jitter:   time.Duration(cfg.Scheduler.JitterSeconds) * time.Second,
		}
		d.Scheduler = scheduler.New("pipeline", schedCfg, job)
	}

	return d, nil
}

// scheduledPipelineJobPollInterval is how often scheduledPipelineJob
// polls the registry while waiting for a submitted pipeline to reach a
// terminal state.
const scheduledPipelineJobPollInterval = 500 * time.Millisecond

// scheduledPipelineJob submits one full pipeline run against the
// configured default subreddit and blocks until it reaches a terminal
// state, for use by the periodic scheduler. Blocking here is what makes
// the scheduler's non-overlap guard meaningful: Submit itself returns as
// soon as the run is queued, so without this wait every tick would start
// a fresh pipeline regardless of whether the previous one had finished.
func (d *Daemon) scheduledPipelineJob() scheduler.JobFunc {
	return func(ctx context.Context) error {
		req := domain.PipelineRequest{
			SourceParams: domain.SourceParams{
				Subreddit:           d.Config.ContentSource.DefaultSubreddit,
				PostLimit:           d.Config.ContentSource.PostLimit,
				CommentLimitPerPost: d.Config.ContentSource.CommentLimitPerPost,
				Sort:                domain.SortNew,
			},
			Stages:       []domain.Stage{domain.StageScrape, domain.StageProcess, domain.StageClean, domain.StagePersist},
			EnableAlerts: d.Config.Pipeline.EnableAlerts,
		}
		pipelineID := d.Orchestrator.Submit(ctx, req)

		ticker := time.NewTicker(scheduledPipelineJobPollInterval)
		defer ticker.Stop()
		for {
			if t, ok := d.Registry.Get(pipelineID); ok && t.State.IsTerminal() {
				if t.State == domain.TaskFailed {
					return fmt.Errorf("scheduled pipeline %s failed: %s", pipelineID, t.Error)
				}
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}

// Serve starts the HTTP server and background loops, blocking until
// shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Registry.RunReaper(ctx)
	go d.Health.Run(ctx)
	if d.Scheduler != nil {
		go d.Scheduler.Run(ctx)
	}

	addr := fmt.Sprintf("%s:%d", d.Config.Server.Host, d.Config.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	fmt.Printf("sentinel serving on http://%s\n", addr)
	if d.Scheduler != nil {
		fmt.Printf("  scheduler: every %ds (+/- %ds jitter)\n", d.Config.Scheduler.IntervalSeconds, d.Config.Scheduler.JitterSeconds)
	}
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
