package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/conversation"
	"github.com/dusk-indust/vigil/internal/department"
	"github.com/stretchr/testify/require"
)

// roleProvider answers each prompt with the handler registered for its
// role. Roles without a handler fail.
type roleProvider struct {
	mu      sync.Mutex
	handle  map[agent.Role]func(ctx context.Context, p agent.Prompt) (string, error)
	prompts []agent.Prompt
}

func newRoleProvider() *roleProvider {
	return &roleProvider{handle: map[agent.Role]func(context.Context, agent.Prompt) (string, error){}}
}

func (p *roleProvider) on(role agent.Role, out string) *roleProvider {
	p.handle[role] = func(context.Context, agent.Prompt) (string, error) { return out, nil }
	return p
}

func (p *roleProvider) onFunc(role agent.Role, fn func(ctx context.Context, pr agent.Prompt) (string, error)) *roleProvider {
	p.handle[role] = fn
	return p
}

func (p *roleProvider) Call(ctx context.Context, pr agent.Prompt) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, pr)
	fn := p.handle[pr.Role]
	p.mu.Unlock()
	if fn == nil {
		return "", fmt.Errorf("no handler for role %s", pr.Role)
	}
	return fn(ctx, pr)
}

func (p *roleProvider) calls(role agent.Role) []agent.Prompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []agent.Prompt
	for _, pr := range p.prompts {
		if pr.Role == role {
			out = append(out, pr)
		}
	}
	return out
}

// after returns out once d has passed, or the context error if the call
// is cut first.
func after(d time.Duration, out string) func(context.Context, agent.Prompt) (string, error) {
	return func(ctx context.Context, _ agent.Prompt) (string, error) {
		select {
		case <-time.After(d):
			return out, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func blockUntilCut(ctx context.Context, _ agent.Prompt) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func okResult(role agent.Role, payload string) agent.CallResult {
	return agent.CallResult{Role: role, Status: agent.StatusOK, Payload: json.RawMessage(payload), Attempts: 1}
}

func malformedResult(role agent.Role, payload string, unresolved ...string) agent.CallResult {
	return agent.CallResult{Role: role, Status: agent.StatusMalformed, Payload: json.RawMessage(payload), Attempts: 2, Repaired: true, Unresolved: unresolved}
}

func fastOptions() Options {
	return Options{
		Invoker: agent.Options{
			MaxAttempts: 1,
			BaseBackoff: time.Millisecond,
			MaxBackoff:  time.Millisecond,
			CallTimeout: time.Second,
		},
		StageTimeout:     2 * time.Second,
		ActuationTimeout: time.Second,
	}
}

func testEnv(p agent.Provider, timeout time.Duration) *env {
	opts := fastOptions()
	return &env{invoker: agent.NewInvoker(p, opts.Invoker, nil), timeout: timeout}
}

func loadDepartment(t *testing.T, name string) *department.Descriptor {
	t.Helper()
	c, err := department.Load("")
	require.NoError(t, err)
	d, err := c.Get(name)
	require.NoError(t, err)
	return d
}

var testBase = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func chatSnapshot(version int64) *conversation.Snapshot {
	return &conversation.Snapshot{
		ConversationID: "5511987654321@s.whatsapp.net",
		Version:        version,
		Source:         conversation.SourceChat,
		Messages: []conversation.Message{
			{Sender: "op", Timestamp: testBase, Text: "Podemos oferecer R$ 1.000,00 até 10/03/2026."},
			{Sender: "ana", Timestamp: testBase.Add(2 * time.Hour), Text: "Acho caro, não consigo.", FromClient: true},
			{Sender: "op", Timestamp: testBase.Add(3 * time.Hour), Text: "Então R$ 800,00 para 15/03/2026."},
			{Sender: "ana", Timestamp: testBase.Add(3*time.Hour + 5*time.Minute), Text: "Ótimo, aceito. Obrigado!", FromClient: true},
		},
	}
}

func emailSnapshot(version int64) *conversation.Snapshot {
	subject := "Acordo PROCESSO 1234567-89.2024.8.26.0100 PARTE: Maria Souza - GRUPO 3"
	return &conversation.Snapshot{
		ConversationID: "thread-42",
		Version:        version,
		Source:         conversation.SourceEmail,
		Subject:        subject,
		Messages: []conversation.Message{
			{Sender: "legal@firm.example", Timestamp: testBase, Text: "Proposta de R$ 5.000,00 com vencimento 20/03/2026.", Subject: subject, Type: conversation.TypeText},
			{Sender: "maria@client.example", Timestamp: testBase.Add(24 * time.Hour), Text: "Contraproposta: R$ 4.000,00.", Subject: subject, FromClient: true, Type: conversation.TypeText},
		},
	}
}

func newTestRun(t *testing.T, d *department.Descriptor, snap *conversation.Snapshot) *Run {
	t.Helper()
	trig := Trigger{ConversationID: snap.ConversationID, SourceTag: snap.Source, SnapshotVersion: snap.Version}
	return newRun("run-test", trig, d, snap, nil, nil)
}
