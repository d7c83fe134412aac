package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/dusk-indust/vigil/internal/a2a"
)

// Prompt is one request to a reasoning provider. Input is marshalled as
// structured data; Corrections carries corrective context for repair calls.
type Prompt struct {
	TemplateID  string   `json:"templateId"`
	Role        Role     `json:"role"`
	Input       any      `json:"input"`
	SchemaHint  string   `json:"schemaHint,omitempty"`
	Corrections []string `json:"corrections,omitempty"`
}

// Provider is the reasoning-provider capability. Implementations may be
// swapped without touching the stages above the invoker.
type Provider interface {
	Call(ctx context.Context, p Prompt) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, p Prompt) (string, error)

// Call implements Provider.
func (f ProviderFunc) Call(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

// Compile-time interface checks.
var (
	_ Provider = ProviderFunc(nil)
	_ Provider = (*A2AProvider)(nil)
)

// A2AProvider reaches perspective agents over A2A. Each role maps to an
// endpoint; roles without an entry use the default endpoint.
type A2AProvider struct {
	client    a2a.Client
	endpoints map[Role]string
	fallback  string
}

// NewA2AProvider creates a provider that routes calls by role.
func NewA2AProvider(client a2a.Client, endpoints map[string]string, defaultEndpoint string) *A2AProvider {
	eps := make(map[Role]string, len(endpoints))
	for role, url := range endpoints {
		eps[Role(role)] = url
	}
	return &A2AProvider{client: client, endpoints: eps, fallback: defaultEndpoint}
}

// Endpoint returns the URL a role is routed to, or "" if none.
func (p *A2AProvider) Endpoint(role Role) string {
	if url, ok := p.endpoints[role]; ok {
		return url
	}
	return p.fallback
}

// Call sends the prompt as an instruction text part plus a data part
// holding the input, and returns the concatenated artifact text.
func (p *A2AProvider) Call(ctx context.Context, pr Prompt) (string, error) {
	endpoint := p.Endpoint(pr.Role)
	if endpoint == "" {
		return "", fmt.Errorf("agent: no endpoint for role %q", pr.Role)
	}

	data, err := a2a.DataPart(pr.Input)
	if err != nil {
		return "", fmt.Errorf("agent: encode input: %w", err)
	}

	msg := a2a.Message{
		MessageID: a2a.NewID(),
		Role:      a2a.RoleUser,
		Parts:     []a2a.Part{a2a.TextPart(instruction(pr)), data},
	}
	task, err := p.client.SendMessage(ctx, endpoint, a2a.SendMessageRequest{
		Message:       msg,
		Configuration: &a2a.SendMessageConfig{AcceptedOutputModes: []string{"application/json"}, Blocking: true},
	})
	if err != nil {
		return "", err
	}
	return a2a.ArtifactText(task.Artifacts), nil
}

// instruction renders the text part of an A2A prompt.
func instruction(pr Prompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "template: %s\nrole: %s\n", pr.TemplateID, pr.Role)
	if pr.SchemaHint != "" {
		b.WriteString(pr.SchemaHint)
	}
	for _, c := range pr.Corrections {
		b.WriteString("\ncorrection: ")
		b.WriteString(c)
	}
	return b.String()
}
