// Package orchestrator runs a PipelineRequest through its enabled
// stages — scrape, process, clean, persist — tracking progress and
// state in the Task Registry and honoring cancellation between items.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/sentinel/internal/alerts"
	"github.com/tutu-network/sentinel/internal/domain"
	"github.com/tutu-network/sentinel/internal/failsafe"
	"github.com/tutu-network/sentinel/internal/infra/metrics"
	"github.com/tutu-network/sentinel/internal/infra/sqlite"
	"github.com/tutu-network/sentinel/internal/registry"
)

// Config tunes the Orchestrator's concurrency.
type Config struct {
	// MaxConcurrentPipelines bounds how many pipelines run at once
	// across the whole process.
	MaxConcurrentPipelines int
	// PersistFanout bounds how many classifications the persist stage
	// writes concurrently within a single pipeline.
	PersistFanout int
	// PersistFailureThreshold is how many consecutive store failures
	// within the persist stage abort it; per-item errors below this
	// count are skipped and the stage still succeeds.
	PersistFailureThreshold int
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrentPipelines: 4, PersistFanout: 8, PersistFailureThreshold: 10}
}

// Orchestrator executes PipelineRequests submitted via HTTP or the
// Scheduler.
type Orchestrator struct {
	source     domain.ContentSource
	dispatcher *failsafe.Dispatcher
	evaluator  *alerts.Evaluator
	store      domain.ResultStore
	reg        *registry.Registry
	cfg        Config
	sem        chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New wires an Orchestrator around its collaborators.
func New(source domain.ContentSource, dispatcher *failsafe.Dispatcher, evaluator *alerts.Evaluator, store domain.ResultStore, reg *registry.Registry, cfg Config) *Orchestrator {
	if cfg.MaxConcurrentPipelines <= 0 {
		cfg.MaxConcurrentPipelines = DefaultConfig().MaxConcurrentPipelines
	}
	if cfg.PersistFanout <= 0 {
		cfg.PersistFanout = DefaultConfig().PersistFanout
	}
	if cfg.PersistFailureThreshold <= 0 {
		cfg.PersistFailureThreshold = DefaultConfig().PersistFailureThreshold
	}
	return &Orchestrator{
		source:     source,
		dispatcher: dispatcher,
		evaluator:  evaluator,
		store:      store,
		reg:        reg,
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.MaxConcurrentPipelines),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// stageOrder is the canonical execution order; PipelineRequest.Stages
// selects a subset, always run in this order regardless of how the
// caller listed them.
var stageOrder = []domain.Stage{
	domain.StageScrape,
	domain.StageProcess,
	domain.StageClean,
	domain.StagePersist,
}

// Submit registers a new Pipeline and its stage Tasks as pending, then
// runs it asynchronously. It returns immediately with the pipeline ID;
// callers poll the registry for status.
func (o *Orchestrator) Submit(ctx context.Context, req domain.PipelineRequest) string {
	pipelineID := uuid.NewString()
	now := time.Now()

	enabled := intersectOrdered(req.Stages)

	pipelineTask := domain.Task{
		ID:        pipelineID,
		Type:      domain.TaskPipeline,
		State:     domain.TaskPending,
		CreatedAt: now,
	}
	o.reg.Put(pipelineTask)

	stageTasks := make([]domain.Task, len(enabled))
	for i, stage := range enabled {
		stageTasks[i] = domain.Task{
			ID:        pipelineID + ":" + string(stage),
			Type:      stageTaskType(stage),
			State:     domain.TaskPending,
			CreatedAt: now,
			ParentID:  pipelineID,
		}
		o.reg.Put(stageTasks[i])
	}

	metrics.PipelinesStarted.Inc()
	go o.run(pipelineID, enabled, req)

	return pipelineID
}

func (o *Orchestrator) run(pipelineID string, stages []domain.Stage, req domain.PipelineRequest) {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.sem <- struct{}{}
	defer func() { <-o.sem }()

	o.mu.Lock()
	o.cancels[pipelineID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, pipelineID)
		o.mu.Unlock()
	}()

	if t, ok := o.reg.Get(pipelineID); ok && t.State == domain.TaskCancelled {
		return
	}

	metrics.PipelinesActive.Inc()
	defer metrics.PipelinesActive.Dec()

	o.markRunning(pipelineID)

	state := &runState{}
	var failErr error

	for _, stage := range stages {
		if err := runCtx.Err(); err != nil {
			failErr = err
			o.markStage(pipelineID, stage, domain.TaskCancelled, "", 100)
			break
		}

		taskID := pipelineID + ":" + string(stage)
		o.markStageState(taskID, domain.TaskRunning)

		stageStart := time.Now()
		var err error
		switch stage {
		case domain.StageScrape:
			err = o.runScrape(runCtx, taskID, req.SourceParams, state)
		case domain.StageProcess:
			err = o.runProcess(runCtx, taskID, req.SourceParams, state)
		case domain.StageClean:
			err = o.runClean(taskID, state)
		case domain.StagePersist:
			err = o.runPersist(runCtx, taskID, req.EnableAlerts, state)
		}
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(stageStart).Seconds())

		if err != nil {
			o.markStage(pipelineID, stage, domain.TaskFailed, err.Error(), stageProgressOnFail(state))
			failErr = err
			break
		}
		o.markStage(pipelineID, stage, domain.TaskSucceeded, "", 100)
	}

	o.finish(pipelineID, failErr)
}

// runState threads data between stages within one pipeline run.
type runState struct {
	raw     []domain.RawItem
	classed []domain.Classification
}

func (o *Orchestrator) runScrape(ctx context.Context, taskID string, params domain.SourceParams, state *runState) error {
	var items []domain.RawItem
	err := o.source.Fetch(ctx, params, func(item domain.RawItem) bool {
		items = append(items, item)
		metrics.ItemsScraped.Inc()
		o.updateProgress(taskID, progressOf(len(items), params.PostLimit))
		return true
	})
	state.raw = items
	if err != nil && len(items) == 0 {
		return fmt.Errorf("scrape: %w", err)
	}
	return nil
}

func (o *Orchestrator) runProcess(ctx context.Context, taskID string, params domain.SourceParams, state *runState) error {
	total := len(state.raw)
	classed := make([]domain.Classification, 0, total)

	for i, item := range state.raw {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("process: %w", err)
		}

		text := normalizeText(item)
		verdict := o.dispatcher.Predict(ctx, text, "")

		classed = append(classed, domain.Classification{
			NormalizedItem: domain.NormalizedItem{
				RawItem:  item,
				Text:     text,
				TextHash: sqlite.TextHash(text),
			},
			SentimentVerdict: verdict,
			StoredAt:         time.Now(),
		})
		o.updateProgress(taskID, progressOf(i+1, total))
	}

	state.classed = classed
	return nil
}

func (o *Orchestrator) runClean(taskID string, state *runState) error {
	seen := make(map[string]bool, len(state.classed))
	cleaned := make([]domain.Classification, 0, len(state.classed))

	for i, c := range state.classed {
		if c.Text == "" || seen[c.TextHash] {
			continue
		}
		seen[c.TextHash] = true
		cleaned = append(cleaned, c)
		o.updateProgress(taskID, progressOf(i+1, len(state.classed)))
	}

	state.classed = cleaned
	return nil
}

// runPersist writes classifications to the store with up to
// PersistFanout concurrent writes. The stage aborts only if
// PersistFailureThreshold store failures land consecutively (in
// completion order; any success resets the counter) — an isolated bad
// item never fails an otherwise-healthy run, but a down store does.
func (o *Orchestrator) runPersist(ctx context.Context, taskID string, enableAlerts bool, state *runState) error {
	total := len(state.classed)
	if total == 0 {
		o.updateProgress(taskID, 100)
		return nil
	}

	persistCtx, abort := context.WithCancel(ctx)
	defer abort()

	sem := make(chan struct{}, o.cfg.PersistFanout)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var done int
	var consecutiveFailures int
	var thresholdErr error

	for _, c := range state.classed {
		c := c
		if err := persistCtx.Err(); err != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			id, inserted, err := o.store.StoreClassification(persistCtx, c)

			mu.Lock()
			if err != nil {
				consecutiveFailures++
				log.Printf("[orchestrator] persist classification failed: %v", err)
				if consecutiveFailures >= o.cfg.PersistFailureThreshold && thresholdErr == nil {
					thresholdErr = fmt.Errorf("persist: %d consecutive items failed to store: %w", consecutiveFailures, err)
					abort()
				}
			} else {
				consecutiveFailures = 0
			}
			done++
			o.updateProgress(taskID, progressOf(done, total))
			mu.Unlock()

			if err == nil && inserted && enableAlerts {
				o.raiseAlerts(persistCtx, id, c)
			}
		}()
	}
	wg.Wait()

	return thresholdErr
}

func (o *Orchestrator) raiseAlerts(ctx context.Context, contentID string, c domain.Classification) {
	for _, a := range o.evaluator.Evaluate(contentID, c.Text, c.SentimentVerdict) {
		a.ID = uuid.NewString()
		a.CreatedAt = time.Now()
		if _, err := o.store.StoreAlert(ctx, a); err != nil {
			log.Printf("[orchestrator] store alert failed: %v", err)
		}
	}
}

// Cancel requests cancellation of a running pipeline. The first
// transition to cancelled wins; a pipeline already in a terminal state
// is left untouched, making Cancel idempotent. Stage tasks already
// running observe the cancellation at the next item boundary.
func (o *Orchestrator) Cancel(pipelineID string) error {
	err := o.reg.Update(pipelineID, func(t domain.Task) domain.Task {
		if !t.State.IsTerminal() {
			t.State = domain.TaskCancelled
			now := time.Now()
			t.FinishedAt = &now
		}
		return t
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	cancel, ok := o.cancels[pipelineID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (o *Orchestrator) markRunning(pipelineID string) {
	now := time.Now()
	o.reg.Update(pipelineID, func(t domain.Task) domain.Task {
		if t.State != domain.TaskPending {
			return t
		}
		t.State = domain.TaskRunning
		t.StartedAt = &now
		return t
	})
}

func (o *Orchestrator) markStageState(taskID string, state domain.TaskState) {
	now := time.Now()
	o.reg.Update(taskID, func(t domain.Task) domain.Task {
		t.State = state
		t.StartedAt = &now
		return t
	})
}

func (o *Orchestrator) markStage(pipelineID string, stage domain.Stage, state domain.TaskState, errMsg string, progress int) {
	now := time.Now()
	taskID := pipelineID + ":" + string(stage)
	o.reg.Update(taskID, func(t domain.Task) domain.Task {
		t.State = state
		t.Error = errMsg
		t.Progress = progress
		t.FinishedAt = &now
		return t
	})
}

func (o *Orchestrator) updateProgress(taskID string, progress int) {
	o.reg.Update(taskID, func(t domain.Task) domain.Task {
		t.Progress = progress
		return t
	})
}

func (o *Orchestrator) finish(pipelineID string, err error) {
	now := time.Now()
	var final domain.TaskState
	o.reg.Update(pipelineID, func(t domain.Task) domain.Task {
		if t.State == domain.TaskCancelled {
			final = domain.TaskCancelled
			return t
		}
		if err != nil {
			t.State = domain.TaskFailed
			t.Error = err.Error()
		} else {
			t.State = domain.TaskSucceeded
			t.Progress = 100
		}
		t.FinishedAt = &now
		final = t.State
		return t
	})
	metrics.PipelinesCompleted.WithLabelValues(string(final)).Inc()
}

func stageTaskType(stage domain.Stage) domain.TaskType {
	switch stage {
	case domain.StageScrape:
		return domain.TaskScrape
	case domain.StageProcess:
		return domain.TaskProcess
	case domain.StageClean:
		return domain.TaskClean
	case domain.StagePersist:
		return domain.TaskPersist
	default:
		return domain.TaskScrape
	}
}

func progressOf(done, total int) int {
	if total <= 0 {
		return 100
	}
	pct := done * 100 / total
	if pct > 100 {
		pct = 100
	}
	return pct
}

func stageProgressOnFail(state *runState) int {
	return 0
}

func intersectOrdered(requested []domain.Stage) []domain.Stage {
	want := make(map[domain.Stage]bool, len(requested))
	for _, s := range requested {
		want[s] = true
	}
	out := make([]domain.Stage, 0, len(stageOrder))
	for _, s := range stageOrder {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}

// normalizeText collapses a RawItem's title and body into a single
// whitespace-normalized string for classification and hashing.
func normalizeText(item domain.RawItem) string {
	parts := make([]string, 0, 2)
	if item.Title != "" {
		parts = append(parts, item.Title)
	}
	if item.Body != "" {
		parts = append(parts, item.Body)
	}
	joined := strings.Join(parts, ". ")
	return strings.Join(strings.Fields(joined), " ")
}
