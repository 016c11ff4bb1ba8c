package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tutu-network/sentinel/internal/failsafe"
	"github.com/tutu-network/sentinel/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewChecker(t *testing.T) {
	db := newTestDB(t)
	dispatcher := failsafe.New(nil, failsafe.DefaultConfig(), time.Second)

	c := NewChecker(db, func(ctx context.Context) error { return nil }, dispatcher)
	if c == nil {
		t.Fatal("NewChecker() returned nil")
	}
	if len(c.checks) != 3 {
		t.Errorf("checks = %d, want 3", len(c.checks))
	}
}

func TestChecker_RunAllHealthy(t *testing.T) {
	db := newTestDB(t)
	dispatcher := failsafe.New(nil, failsafe.DefaultConfig(), time.Second)

	c := NewChecker(db, func(ctx context.Context) error { return nil }, dispatcher)
	c.runAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("Statuses() = %d, want 3", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
}

func TestChecker_IsHealthy_AllPass(t *testing.T) {
	db := newTestDB(t)
	dispatcher := failsafe.New(nil, failsafe.DefaultConfig(), time.Second)

	c := NewChecker(db, func(ctx context.Context) error { return nil }, dispatcher)
	c.runAll(context.Background())

	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	db := newTestDB(t)
	dispatcher := failsafe.New(nil, failsafe.DefaultConfig(), time.Second)

	c := NewChecker(db, func(ctx context.Context) error { return nil }, dispatcher)

	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_SQLiteCheck(t *testing.T) {
	db := newTestDB(t)
	dispatcher := failsafe.New(nil, failsafe.DefaultConfig(), time.Second)

	c := NewChecker(db, func(ctx context.Context) error { return nil }, dispatcher)
	c.runAll(context.Background())

	statuses := c.Statuses()
	found := false
	for _, s := range statuses {
		if s.Name == "sqlite" {
			found = true
			if !s.Healthy {
				t.Errorf("sqlite check should be healthy")
			}
		}
	}
	if !found {
		t.Error("sqlite check not found in statuses")
	}
}

func TestChecker_ContentSourceCheck_Failure(t *testing.T) {
	db := newTestDB(t)
	dispatcher := failsafe.New(nil, failsafe.DefaultConfig(), time.Second)

	c := NewChecker(db, func(ctx context.Context) error { return errors.New("dns lookup failed") }, dispatcher)
	c.runAll(context.Background())

	statuses := c.Statuses()
	for _, s := range statuses {
		if s.Name == "content_source" {
			if s.Healthy {
				t.Error("content_source check should be unhealthy")
			}
			if s.Error == "" {
				t.Error("expected error message on content_source check")
			}
		}
	}
	if c.IsHealthy() {
		t.Error("IsHealthy() should be false when content_source check fails")
	}
}

func TestChecker_ContentSourceCheck_NilPingIsHealthy(t *testing.T) {
	db := newTestDB(t)
	dispatcher := failsafe.New(nil, failsafe.DefaultConfig(), time.Second)

	c := NewChecker(db, nil, dispatcher)
	c.runAll(context.Background())

	for _, s := range c.Statuses() {
		if s.Name == "content_source" && !s.Healthy {
			t.Error("content_source check with nil ping should be healthy")
		}
	}
}

func TestChecker_CircuitCheck_NilDispatcherIsHealthy(t *testing.T) {
	db := newTestDB(t)

	c := NewChecker(db, func(ctx context.Context) error { return nil }, nil)
	c.runAll(context.Background())

	for _, s := range c.Statuses() {
		if s.Name == "circuit" && !s.Healthy {
			t.Error("circuit check with nil dispatcher should be healthy")
		}
	}
}

func TestChecker_CustomCheck(t *testing.T) {
	c := &Checker{
		checks: []Check{
			{
				Name: "always_pass",
				CheckFn: func(ctx context.Context) error {
					return nil
				},
			},
		},
	}

	c.runAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	if !statuses[0].Healthy {
		t.Error("always_pass check should be healthy")
	}
}

func TestChecker_FailingCheck(t *testing.T) {
	c := &Checker{
		checks: []Check{
			{
				Name: "always_fail",
				CheckFn: func(ctx context.Context) error {
					return errors.New("permission denied")
				},
			},
		},
	}

	c.runAll(context.Background())

	statuses := c.Statuses()
	if statuses[0].Healthy {
		t.Error("always_fail check should not be healthy")
	}
	if statuses[0].Error == "" {
		t.Error("error message should be populated")
	}
}

func TestChecker_StatusesCopy(t *testing.T) {
	db := newTestDB(t)
	dispatcher := failsafe.New(nil, failsafe.DefaultConfig(), time.Second)
	c := NewChecker(db, func(ctx context.Context) error { return nil }, dispatcher)
	c.runAll(context.Background())

	s1 := c.Statuses()
	s2 := c.Statuses()

	if len(s1) > 0 {
		s1[0].Healthy = false
		if !s2[0].Healthy {
			t.Error("Statuses() should return a copy, not a reference")
		}
	}
}
