package jobs

import (
	"context"
	"sort"
	"sync"
)

// Executor runs the type-specific work of a job.
type Executor interface {
	Execute(ctx context.Context, job Job) Outcome
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job Job) Outcome

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, job Job) Outcome {
	return f(ctx, job)
}

// Registry maps job types to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds an executor to a job type, replacing any previous binding.
func (r *Registry) Register(jobType string, executor Executor) {
	if jobType == "" || executor == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[jobType] = executor
}

// Lookup returns the executor for a type.
func (r *Registry) Lookup(jobType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[jobType]
	return e, ok
}

// Types lists registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
