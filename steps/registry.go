package steps

import (
	"fmt"
	"sync"
)

// Registry maps step types to their executors. It is populated at engine
// construction time; dispatch resolves through the map, no reflection.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]StepExecutor
}

func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]StepExecutor),
	}
}

// NewDefaultRegistry returns a registry with the built-in step types.
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(NewNoopExecutor())
	registry.Register(NewHttpExecutor())
	registry.Register(NewScriptExecutor())
	return registry
}

func (r *Registry) Register(executor StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[NormalizeType(executor.Type())] = executor
}

func (r *Registry) Get(stepType string) (StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, ok := r.executors[NormalizeType(stepType)]
	if !ok {
		return nil, fmt.Errorf("no executor registered for step type %s", stepType)
	}
	return executor, nil
}

func (r *Registry) HasType(stepType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[NormalizeType(stepType)]
	return ok
}
