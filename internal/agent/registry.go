package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrAgentNotFound is returned for unknown agent names
var ErrAgentNotFound = errors.New("agent not found")

// Registry holds the running agents by name
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	order  []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{agents: map[string]*Agent{}}
}

// Register adds an agent; names are unique
func (r *Registry) Register(a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.Name()]; ok {
		return fmt.Errorf("agent %s already registered", a.Name())
	}
	r.agents[a.Name()] = a
	r.order = append(r.order, a.Name())
	return nil
}

// Get looks an agent up by name
func (r *Registry) Get(name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return a, nil
}

// All returns the agents in registration order
func (r *Registry) All() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name])
	}
	return out
}

// StartAll starts every agent
func (r *Registry) StartAll(ctx context.Context) {
	for _, a := range r.All() {
		a.Start(ctx)
	}
}

// StopAll stops every agent and joins their errors
func (r *Registry) StopAll(ctx context.Context) error {
	var errs []error
	for _, a := range r.All() {
		if err := a.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshots describes every agent
func (r *Registry) Snapshots() []Snapshot {
	agents := r.All()
	out := make([]Snapshot, len(agents))
	for i, a := range agents {
		out[i] = a.Snapshot()
	}
	return out
}

// Healthy reports whether every agent is healthy
func (r *Registry) Healthy() bool {
	for _, a := range r.All() {
		if !a.Healthy() {
			return false
		}
	}
	return true
}

// FindTask locates a task on any agent
func (r *Registry) FindTask(id string) (Task, *Agent, bool) {
	for _, a := range r.All() {
		if t, ok := a.Task(id); ok {
			return t, a, true
		}
	}
	return Task{}, nil, false
}
