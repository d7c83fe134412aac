// Package agent holds everything between the pipeline stages and the
// external reasoning provider: the provider contract, the Invoker that
// retries and repairs calls, output schemas, and the local heuristic
// perspective agents that can be served over A2A.
package agent

import (
	"context"

	"github.com/dusk-indust/vigil/internal/a2a"
)

// Agent is a perspective agent served over A2A.
type Agent interface {
	// Card returns the agent's A2A Agent Card.
	Card() a2a.AgentCard

	// HandleTask processes an A2A task and returns the completed task.
	HandleTask(ctx context.Context, task a2a.Task, msg a2a.Message) (*a2a.Task, error)

	// Start launches the agent's HTTP server on the given address.
	Start(ctx context.Context, addr string) error

	// Addr returns the bound address after Start.
	Addr() string

	// Stop gracefully shuts down the agent.
	Stop(ctx context.Context) error
}

// Role identifies a perspective agent.
type Role string

const (
	RoleSynthesizer  Role = "synthesizer"
	RoleExplicit     Role = "explicit"
	RoleInferred     Role = "inferred"
	RoleConsolidator Role = "consolidator"
	RoleGenerator    Role = "generator"
	RoleValidator    Role = "validator"
	RoleRefiner      Role = "refiner"
	RoleLexical      Role = "lexical"
	RoleBehavioral   Role = "behavioral"
	RoleManager      Role = "manager"
	RoleGuard        Role = "guard"
)

// Roles lists every role in port-assignment order.
func Roles() []Role {
	return []Role{
		RoleSynthesizer,
		RoleExplicit, RoleInferred, RoleConsolidator,
		RoleGenerator, RoleValidator, RoleRefiner,
		RoleLexical, RoleBehavioral, RoleManager,
		RoleGuard,
	}
}
