package router

import (
	"context"
	"sort"
	"sync"

	"github.com/msageha/termcmd/internal/model"
)

// Runner executes a resolved command.
type Runner interface {
	Run(ctx context.Context, cmd *model.ParsedCommand) (any, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd *model.ParsedCommand) (any, error)

func (f RunnerFunc) Run(ctx context.Context, cmd *model.ParsedCommand) (any, error) {
	return f(ctx, cmd)
}

// Registry maps command ids to runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]Runner),
	}
}

// Register sets the runner for a command id, replacing any previous one.
func (r *Registry) Register(commandID string, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[commandID] = runner
}

func (r *Registry) Unregister(commandID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runners, commandID)
}

// Get returns the runner for a command id, or nil.
func (r *Registry) Get(commandID string) Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runners[commandID]
}

func (r *Registry) Has(commandID string) bool {
	return r.Get(commandID) != nil
}

// List returns the registered command ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.runners))
	for id := range r.runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runners)
}
