package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tutu-network/sentinel/internal/alerts"
	"github.com/tutu-network/sentinel/internal/domain"
	"github.com/tutu-network/sentinel/internal/failsafe"
	"github.com/tutu-network/sentinel/internal/registry"
)

func newTestRegistry() *registry.Registry {
	return registry.New(time.Hour)
}

type fakeSource struct {
	items []domain.RawItem
	err   error
}

func (f *fakeSource) Fetch(ctx context.Context, params domain.SourceParams, yield func(domain.RawItem) bool) error {
	for _, item := range f.items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !yield(item) {
			return nil
		}
	}
	return f.err
}

// slowSource yields one item at a time, pausing delay between each and
// checking ctx between items, so a test can cancel a pipeline mid-scrape
// and observe that later items never get yielded.
type slowSource struct {
	items []domain.RawItem
	delay time.Duration
}

func (f *slowSource) Fetch(ctx context.Context, params domain.SourceParams, yield func(domain.RawItem) bool) error {
	for _, item := range f.items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.delay):
		}
		if !yield(item) {
			return nil
		}
	}
	return nil
}

type fakeStore struct {
	mu              sync.Mutex
	classifications []domain.Classification
	alertsStored    []domain.Alert
}

func (s *fakeStore) StoreClassification(ctx context.Context, c domain.Classification) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.classifications {
		if existing.TextHash == c.TextHash {
			return existing.RawItem.ID, false, nil
		}
	}
	s.classifications = append(s.classifications, c)
	return c.RawItem.ID, true, nil
}

func (s *fakeStore) StoreAlert(ctx context.Context, a domain.Alert) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alertsStored = append(s.alertsStored, a)
	return a.ID, nil
}

func (s *fakeStore) UpdateAlertStatus(ctx context.Context, id string, status domain.AlertStatus, note string) (bool, error) {
	return true, nil
}

func (s *fakeStore) Summarize(ctx context.Context, window int64) (domain.Summary, error) {
	return domain.Summary{}, nil
}

func (s *fakeStore) ListAlerts(ctx context.Context, status domain.AlertStatus, limit, offset int) ([]domain.Alert, error) {
	return nil, nil
}

func testOrchestrator(t *testing.T, items []domain.RawItem) (*Orchestrator, *fakeStore) {
	t.Helper()
	source := &fakeSource{items: items}
	dispatcher := failsafe.New(&stubAlwaysFailClient{}, failsafe.DefaultConfig(), time.Second)
	rules, err := alerts.LoadDefaultRules()
	if err != nil {
		t.Fatalf("LoadDefaultRules() error = %v", err)
	}
	evaluator := alerts.New(rules)
	store := &fakeStore{}
	reg := newTestRegistry()

	orch := New(source, dispatcher, evaluator, store, reg, DefaultConfig())
	return orch, store
}

type stubAlwaysFailClient struct{}

func (s *stubAlwaysFailClient) Infer(ctx context.Context, text string, model string) (domain.SentimentVerdict, error) {
	return domain.SentimentVerdict{}, domain.ErrNetwork
}

func waitForTerminal(t *testing.T, orch *Orchestrator, pipelineID string) domain.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := orch.reg.Get(pipelineID)
		if ok && task.State.IsTerminal() {
			return task
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("pipeline %s did not reach a terminal state in time", pipelineID)
	return domain.Task{}
}

func TestSubmit_RunsAllStagesAndPersists(t *testing.T) {
	items := []domain.RawItem{
		{ID: "a1", Kind: domain.KindPost, Title: "bad day", Body: "I feel hopeless and worthless"},
		{ID: "a2", Kind: domain.KindPost, Title: "ok", Body: "the weather is fine"},
	}
	orch, store := testOrchestrator(t, items)

	req := domain.PipelineRequest{
		SourceParams: domain.SourceParams{Subreddit: "test", PostLimit: 2},
		Stages:       []domain.Stage{domain.StageScrape, domain.StageProcess, domain.StageClean, domain.StagePersist},
		EnableAlerts: true,
	}

	pipelineID := orch.Submit(context.Background(), req)
	task := waitForTerminal(t, orch, pipelineID)

	if task.State != domain.TaskSucceeded {
		t.Fatalf("pipeline state = %s, want succeeded (error: %s)", task.State, task.Error)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.classifications) != 2 {
		t.Errorf("stored classifications = %d, want 2", len(store.classifications))
	}
	if len(store.alertsStored) == 0 {
		t.Error("expected at least one alert for the hopeless/worthless item")
	}
}

func TestSubmit_DedupsIdenticalTextInCleanStage(t *testing.T) {
	items := []domain.RawItem{
		{ID: "a1", Body: "same text"},
		{ID: "a2", Body: "same text"},
	}
	orch, store := testOrchestrator(t, items)

	req := domain.PipelineRequest{
		SourceParams: domain.SourceParams{Subreddit: "test", PostLimit: 2},
		Stages:       []domain.Stage{domain.StageScrape, domain.StageProcess, domain.StageClean, domain.StagePersist},
	}
	pipelineID := orch.Submit(context.Background(), req)
	waitForTerminal(t, orch, pipelineID)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.classifications) != 1 {
		t.Errorf("stored classifications = %d, want 1 (duplicate text should be cleaned)", len(store.classifications))
	}
}

func TestSubmit_PartialStageSelection(t *testing.T) {
	items := []domain.RawItem{{ID: "a1", Body: "hello"}}
	orch, store := testOrchestrator(t, items)

	req := domain.PipelineRequest{
		SourceParams: domain.SourceParams{Subreddit: "test", PostLimit: 1},
		Stages:       []domain.Stage{domain.StageScrape},
	}
	pipelineID := orch.Submit(context.Background(), req)
	task := waitForTerminal(t, orch, pipelineID)

	if task.State != domain.TaskSucceeded {
		t.Fatalf("pipeline state = %s, want succeeded", task.State)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.classifications) != 0 {
		t.Errorf("stored classifications = %d, want 0 (persist stage was not enabled)", len(store.classifications))
	}
}

func TestCancel_MarksPipelineCancelled(t *testing.T) {
	items := []domain.RawItem{{ID: "a1", Body: "hello"}}
	orch, _ := testOrchestrator(t, items)

	req := domain.PipelineRequest{
		SourceParams: domain.SourceParams{Subreddit: "test", PostLimit: 1},
		Stages:       []domain.Stage{domain.StageScrape},
	}
	pipelineID := orch.Submit(context.Background(), req)
	if err := orch.Cancel(pipelineID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	task, _ := orch.reg.Get(pipelineID)
	if task.State != domain.TaskCancelled {
		t.Errorf("state = %s, want cancelled", task.State)
	}
}

// TestCancel_StopsInFlightScrapeBeforeCompletion proves Cancel actually
// interrupts a running stage rather than only flipping the registry flag
// on a pipeline that has already finished: a pipeline scraping 20 items
// at 20ms apiece is cancelled after the first item or two land, and must
// persist strictly fewer than the full set and stop making progress
// afterward.
func TestCancel_StopsInFlightScrapeBeforeCompletion(t *testing.T) {
	items := make([]domain.RawItem, 20)
	for i := range items {
		items[i] = domain.RawItem{ID: fmt.Sprintf("a%d", i), Body: "hello"}
	}
	source := &slowSource{items: items, delay: 20 * time.Millisecond}

	dispatcher := failsafe.New(&stubAlwaysFailClient{}, failsafe.DefaultConfig(), time.Second)
	rules, err := alerts.LoadDefaultRules()
	if err != nil {
		t.Fatalf("LoadDefaultRules() error = %v", err)
	}
	evaluator := alerts.New(rules)
	store := &fakeStore{}
	reg := newTestRegistry()
	orch := New(source, dispatcher, evaluator, store, reg, DefaultConfig())

	req := domain.PipelineRequest{
		SourceParams: domain.SourceParams{Subreddit: "test", PostLimit: len(items)},
		Stages:       []domain.Stage{domain.StageScrape, domain.StageProcess, domain.StageClean, domain.StagePersist},
	}
	pipelineID := orch.Submit(context.Background(), req)

	time.Sleep(50 * time.Millisecond) // let a couple of items land
	if err := orch.Cancel(pipelineID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	task := waitForTerminal(t, orch, pipelineID)
	if task.State != domain.TaskCancelled {
		t.Fatalf("state = %s, want cancelled", task.State)
	}

	// The full 20-item scrape would take 400ms; give the (correctly
	// cancelled) pipeline a window well short of that to settle, then
	// make sure no further items show up afterward.
	store.mu.Lock()
	storedAtCancel := len(store.classifications)
	store.mu.Unlock()
	if storedAtCancel >= len(items) {
		t.Fatalf("stored = %d, want fewer than all %d items after mid-run cancel", storedAtCancel, len(items))
	}

	time.Sleep(100 * time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.classifications) != storedAtCancel {
		t.Errorf("stored classifications grew after cancel: %d -> %d", storedAtCancel, len(store.classifications))
	}
}
