package agent

import (
	"context"
	"fmt"
	"sync"
)

// AgentFactory is a constructor that creates an Agent.
type AgentFactory func() Agent

// Registry maps agent roles to their factory constructors and manages
// the lifecycle of spawned agents.
type Registry struct {
	mu        sync.Mutex
	factories map[Role]AgentFactory
	order     []Role
	spawned   []Agent
}

// NewRegistry creates a Registry with one role agent per known role, all
// backed by provider.
func NewRegistry(provider Provider) *Registry {
	r := &Registry{factories: make(map[Role]AgentFactory)}
	for _, role := range Roles() {
		role := role
		r.Register(role, func() Agent { return NewRoleAgent(role, provider) })
	}
	return r
}

// Register adds or replaces the factory for role. New roles are appended
// to the port-assignment order.
func (r *Registry) Register(role Role, f AgentFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[role]; !ok {
		r.order = append(r.order, role)
	}
	r.factories[role] = f
}

// Spawn creates a single agent by role using the registered factory.
func (r *Registry) Spawn(role Role) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[role]
	if !ok {
		return nil, fmt.Errorf("no factory registered for role %q", role)
	}
	ag := factory()
	r.spawned = append(r.spawned, ag)
	return ag, nil
}

// Spawned pairs a started agent with its role and URL.
type Spawned struct {
	Role  Role
	URL   string
	Agent Agent
}

// SpawnAll starts every registered agent on sequential ports from
// basePort. A basePort of 0 binds every agent to an ephemeral port. On any
// failure the agents already started are stopped.
func (r *Registry) SpawnAll(ctx context.Context, host string, basePort int) ([]Spawned, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if host == "" {
		host = "127.0.0.1"
	}

	var started []Spawned
	stopStarted := func() {
		for j := len(started) - 1; j >= 0; j-- {
			_ = started[j].Agent.Stop(ctx)
		}
	}

	for i, role := range r.order {
		ag := r.factories[role]()
		port := 0
		if basePort > 0 {
			port = basePort + i
		}
		addr := fmt.Sprintf("%s:%d", host, port)
		if err := ag.Start(ctx, addr); err != nil {
			stopStarted()
			return nil, fmt.Errorf("start agent %q on %s: %w", role, addr, err)
		}
		started = append(started, Spawned{Role: role, URL: "http://" + ag.Addr(), Agent: ag})
	}

	for _, s := range started {
		r.spawned = append(r.spawned, s.Agent)
	}
	return started, nil
}

// StopAll gracefully stops all spawned agents in reverse order.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for i := len(r.spawned) - 1; i >= 0; i-- {
		if err := r.spawned[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.spawned = nil
	return firstErr
}
