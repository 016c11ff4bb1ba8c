// Package registry holds the in-process Task Registry: every Task and
// Pipeline the orchestrator creates lives here until it is reaped. Reaping
// is TTL-based on time since the task finished, not LRU — a task that's
// still running is never evicted regardless of age.
package registry

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tutu-network/sentinel/internal/domain"
)

// DefaultTTL is how long a finished task is kept before it is eligible
// for eviction.
const DefaultTTL = 24 * time.Hour

// DefaultReapInterval is how often the background reaper sweeps for
// expired tasks.
const DefaultReapInterval = 10 * time.Minute

type entry struct {
	task    domain.Task
	element *list.Element // position in insertion-order list, for eviction scans
}

// Registry is a thread-safe store of Tasks (stages) and Pipelines,
// keyed by ID, with TTL eviction of terminal tasks.
type Registry struct {
	mu           sync.Mutex
	tasks        map[string]*entry
	order        *list.List // insertion order, oldest at back
	ttl          time.Duration
	reapInterval time.Duration
	now          func() time.Time
}

// New creates an empty Registry with the given eviction TTL. A zero ttl
// uses DefaultTTL.
func New(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		tasks:        make(map[string]*entry),
		order:        list.New(),
		ttl:          ttl,
		reapInterval: DefaultReapInterval,
		now:          time.Now,
	}
}

// Put inserts or overwrites a task record.
func (r *Registry) Put(task domain.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.tasks[task.ID]; ok {
		e.task = task
		return
	}
	el := r.order.PushFront(task.ID)
	r.tasks[task.ID] = &entry{task: task, element: el}
}

// Get returns the task with id, if present.
func (r *Registry) Get(id string) (domain.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return e.task, true
}

// Update applies mutate to the task with id under the registry lock and
// stores the result. Returns domain.ErrTaskNotFound if id is unknown.
func (r *Registry) Update(id string, mutate func(domain.Task) domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	e.task = mutate(e.task)
	return nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Type     domain.TaskType // zero value matches any type
	State    domain.TaskState
	ParentID string
}

// List returns tasks matching filter, newest (by CreatedAt) first.
func (r *Registry) List(filter ListFilter) []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Task, 0, len(r.tasks))
	for _, e := range r.tasks {
		t := e.task
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.State != "" && t.State != filter.State {
			continue
		}
		if filter.ParentID != "" && t.ParentID != filter.ParentID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Delete removes a task from the registry outright, whatever its state
// or age (TTL eviction goes through ReapExpired instead).
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[id]
	if !ok {
		return
	}
	r.order.Remove(e.element)
	delete(r.tasks, id)
}

// ReapExpired evicts every terminal task whose FinishedAt is older than
// the registry's TTL. Running and pending tasks are never reaped
// regardless of age. Returns the number evicted.
func (r *Registry) ReapExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	evicted := 0

	for el := r.order.Back(); el != nil; {
		prev := el.Prev()
		id := el.Value.(string)
		e, ok := r.tasks[id]
		if !ok {
			r.order.Remove(el)
			el = prev
			continue
		}
		t := e.task
		if t.State.IsTerminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			r.order.Remove(el)
			delete(r.tasks, id)
			evicted++
		}
		el = prev
	}
	return evicted
}

// Len returns the number of tasks currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// RunReaper blocks, sweeping for expired tasks every reapInterval until
// ctx is cancelled.
func (r *Registry) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReapExpired()
		}
	}
}
