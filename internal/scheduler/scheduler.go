// Package scheduler runs a recurring job on a jittered interval,
// skipping a tick entirely if the previous run is still in flight.
// Grounded on the ticker-driven Run(ctx) loop used elsewhere in this
// codebase for periodic background work.
package scheduler

import (
	"context"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// Config tunes a Scheduler's timing.
type Config struct {
	// Interval is the base time between runs.
	Interval time.Duration
	// Jitter adds up to this much random extra delay to each tick, to
	// avoid a thundering herd when several schedulers share a process.
	Jitter time.Duration
}

// JobFunc is the work a Scheduler runs on each tick.
type JobFunc func(ctx context.Context) error

// Scheduler triggers JobFunc periodically. Only one run is ever in
// flight; a tick that lands while the previous run hasn't returned is
// skipped rather than queued.
type Scheduler struct {
	mu     sync.Mutex
	cfg    Config
	job    JobFunc
	name   string
	paused bool

	running  int32 // atomic: 1 while job is executing
	lastRun  time.Time
	lastErr  error
	skipped  int64
	runCount int64
}

// New creates a Scheduler that calls job on each non-skipped tick.
func New(name string, cfg Config, job JobFunc) *Scheduler {
	return &Scheduler{name: name, cfg: cfg, job: job}
}

// Run blocks, ticking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		delay := s.nextDelay()
		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			go s.tick(ctx)
		}
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	s.mu.Lock()
	interval := s.cfg.Interval
	jitter := s.cfg.Jitter
	s.mu.Unlock()

	if jitter <= 0 {
		return interval
	}
	return interval + time.Duration(rand.Int64N(int64(jitter)))
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if paused {
		return
	}

	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		log.Printf("[scheduler] %s: skipping tick, previous run still in flight", s.name)
		return
	}
	defer atomic.StoreInt32(&s.running, 0)

	err := s.job(ctx)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastErr = err
	s.runCount++
	s.mu.Unlock()

	if err != nil {
		log.Printf("[scheduler] %s: run failed: %v", s.name, err)
	}
}

// Pause stops future ticks from invoking the job until Resume is called.
// A run already in flight completes normally.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume re-enables ticks after Pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// Reschedule changes the interval and jitter taking effect on the next
// tick.
func (s *Scheduler) Reschedule(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Status summarizes the scheduler's recent activity.
type Status struct {
	Name     string    `json:"name"`
	Paused   bool      `json:"paused"`
	Running  bool      `json:"running"`
	LastRun  time.Time `json:"last_run,omitempty"`
	LastErr  string    `json:"last_error,omitempty"`
	RunCount int64     `json:"run_count"`
	Skipped  int64     `json:"skipped_ticks"`
}

// Status returns the scheduler's current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Name:     s.name,
		Paused:   s.paused,
		Running:  atomic.LoadInt32(&s.running) == 1,
		LastRun:  s.lastRun,
		RunCount: s.runCount,
		Skipped:  s.skipped,
	}
	if s.lastErr != nil {
		st.LastErr = s.lastErr.Error()
	}
	return st
}
