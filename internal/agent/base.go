package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dusk-indust/vigil/internal/a2a"
)

// Compile-time interface checks.
var (
	_ Agent       = (*BaseAgent)(nil)
	_ a2a.Handler = (*BaseAgent)(nil)
)

// ProcessFunc handles one incoming message. It receives the task (in
// WORKING state) and the message, and returns artifacts to attach to the
// completed task.
type ProcessFunc func(ctx context.Context, task *a2a.Task, msg a2a.Message) ([]a2a.Artifact, error)

// BaseAgent composes an A2A server and task store around a ProcessFunc.
type BaseAgent struct {
	server  *a2a.Server
	store   *a2a.TaskStore
	card    a2a.AgentCard
	process ProcessFunc
}

// NewBaseAgent creates a BaseAgent with the given card and process function.
func NewBaseAgent(card a2a.AgentCard, process ProcessFunc) *BaseAgent {
	b := &BaseAgent{
		store:   a2a.NewTaskStore(0),
		card:    card,
		process: process,
	}
	b.server = a2a.NewServer(card, b)
	return b
}

// NewRoleAgent serves one perspective role backed by a provider. The
// first data part of each message is passed through as the prompt input.
func NewRoleAgent(role Role, provider Provider) *BaseAgent {
	card := a2a.AgentCard{
		Name:               "vigil-" + string(role),
		Description:        fmt.Sprintf("Heuristic %s perspective agent", role),
		Version:            "0.1.0",
		DefaultInputModes:  []string{"application/json"},
		DefaultOutputModes: []string{"application/json"},
		Skills: []a2a.AgentSkill{{
			ID:          string(role),
			Name:        string(role),
			Description: fmt.Sprintf("Answers %s prompts with a JSON object", role),
			Tags:        []string{"negotiation", string(role)},
		}},
	}
	return NewBaseAgent(card, func(ctx context.Context, task *a2a.Task, msg a2a.Message) ([]a2a.Artifact, error) {
		var input json.RawMessage
		var texts []string
		for _, p := range msg.Parts {
			switch {
			case len(p.Data) > 0 && input == nil:
				input = p.Data
			case p.Text != "":
				texts = append(texts, p.Text)
			}
		}
		if input == nil {
			return nil, fmt.Errorf("%s: message has no data part", role)
		}
		out, err := provider.Call(ctx, Prompt{
			TemplateID:  templateFrom(texts),
			Role:        role,
			Input:       input,
			Corrections: correctionsFrom(texts),
		})
		if err != nil {
			return nil, err
		}
		return []a2a.Artifact{{
			ArtifactID: a2a.NewID(),
			Name:       string(role),
			Parts:      []a2a.Part{{Data: json.RawMessage(out), MediaType: "application/json"}},
		}}, nil
	})
}

// templateFrom reads the "template:" line written by the A2A provider.
func templateFrom(texts []string) string {
	for _, t := range texts {
		for _, line := range strings.Split(t, "\n") {
			if v, ok := strings.CutPrefix(line, "template: "); ok {
				return v
			}
		}
	}
	return ""
}

func correctionsFrom(texts []string) []string {
	var out []string
	for _, t := range texts {
		for _, line := range strings.Split(t, "\n") {
			if v, ok := strings.CutPrefix(line, "correction: "); ok {
				out = append(out, v)
			}
		}
	}
	return out
}

// Card returns the agent's A2A Agent Card.
func (b *BaseAgent) Card() a2a.AgentCard {
	return b.card
}

// HandleTask processes an A2A task with a message and returns the completed task.
func (b *BaseAgent) HandleTask(ctx context.Context, task a2a.Task, msg a2a.Message) (*a2a.Task, error) {
	task.Status = a2a.TaskStatus{
		State:     a2a.TaskStateSubmitted,
		Timestamp: time.Now(),
	}
	if err := b.store.Create(task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	if err := b.store.Update(task.ID, func(t *a2a.Task) {
		t.Status = a2a.TaskStatus{
			State:     a2a.TaskStateWorking,
			Timestamp: time.Now(),
		}
	}); err != nil {
		return nil, fmt.Errorf("update task to working: %w", err)
	}

	artifacts, err := b.process(ctx, &task, msg)
	if err != nil {
		_ = b.store.Update(task.ID, func(t *a2a.Task) {
			t.Status = a2a.TaskStatus{
				State:     a2a.TaskStateFailed,
				Timestamp: time.Now(),
				Message:   &a2a.Message{Role: a2a.RoleAgent, Parts: []a2a.Part{a2a.TextPart(err.Error())}},
			}
		})
		result, _ := b.store.Get(task.ID)
		return result, err
	}

	if err := b.store.Update(task.ID, func(t *a2a.Task) {
		t.Status = a2a.TaskStatus{
			State:     a2a.TaskStateCompleted,
			Timestamp: time.Now(),
		}
		t.Artifacts = artifacts
	}); err != nil {
		return nil, fmt.Errorf("update task to completed: %w", err)
	}

	return b.store.Get(task.ID)
}

// Start launches the agent's HTTP server on the given address.
func (b *BaseAgent) Start(ctx context.Context, addr string) error {
	return b.server.Start(ctx, addr)
}

// Addr returns the bound listener address.
func (b *BaseAgent) Addr() string {
	return b.server.Addr()
}

// Stop gracefully shuts down the agent.
func (b *BaseAgent) Stop(ctx context.Context) error {
	return b.server.Stop(ctx)
}

// HandleSendMessage creates a task from the incoming message and processes it.
func (b *BaseAgent) HandleSendMessage(ctx context.Context, req a2a.SendMessageRequest) (*a2a.Task, error) {
	task := a2a.Task{
		ID:        a2a.NewID(),
		ContextID: req.Message.ContextID,
	}
	return b.HandleTask(ctx, task, req.Message)
}

// HandleGetTask retrieves a task by ID from the store.
func (b *BaseAgent) HandleGetTask(_ context.Context, req a2a.GetTaskRequest) (*a2a.Task, error) {
	return b.store.Get(req.ID)
}
