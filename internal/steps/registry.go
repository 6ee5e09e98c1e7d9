package steps

import (
	"sort"
	"sync"

	"github.com/rendis/rigflow/pkg/schema"
)

// Registry maps step types to executors. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[schema.StepType]Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[schema.StepType]Executor),
	}
}

// Register adds an executor. Returns error on duplicate step type.
func (r *Registry) Register(exec Executor) error {
	if exec == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	t := exec.StepType()
	if t == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor step type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[t]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor for %q already registered", t)
	}

	r.executors[t] = exec
	return nil
}

// Get retrieves the executor for a step type.
func (r *Registry) Get(t schema.StepType) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no executor registered for step type %q", t)
	}
	return exec, nil
}

// Has checks if a step type has an executor.
func (r *Registry) Has(t schema.StepType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[t]
	return ok
}

// Types returns the registered step types, sorted.
func (r *Registry) Types() []schema.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]schema.StepType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Count returns the number of registered executors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}
