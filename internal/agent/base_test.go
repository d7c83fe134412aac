package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/dusk-indust/vigil/internal/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCard returns an AgentCard suitable for testing.
func testCard() a2a.AgentCard {
	return a2a.AgentCard{
		Name:        "test-agent",
		Description: "A test agent",
		Version:     "0.1.0",
		Skills: []a2a.AgentSkill{
			{
				ID:          "echo",
				Name:        "Echo",
				Description: "Echoes the input back",
				Tags:        []string{"test"},
			},
		},
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
	}
}

// successProcess returns a ProcessFunc that produces a single text artifact.
func successProcess() ProcessFunc {
	return func(ctx context.Context, task *a2a.Task, msg a2a.Message) ([]a2a.Artifact, error) {
		return []a2a.Artifact{
			{
				ArtifactID: "art-1",
				Name:       "output",
				Parts:      []a2a.Part{a2a.TextPart("hello")},
			},
		}, nil
	}
}

// failProcess returns a ProcessFunc that always returns an error.
func failProcess() ProcessFunc {
	return func(ctx context.Context, task *a2a.Task, msg a2a.Message) ([]a2a.Artifact, error) {
		return nil, errors.New("processing failed")
	}
}

// testMessage returns a Message suitable for testing.
func testMessage() a2a.Message {
	return a2a.Message{
		MessageID: "msg-1",
		ContextID: "ctx-1",
		Role:      a2a.RoleUser,
		Parts:     []a2a.Part{a2a.TextPart("test input")},
	}
}

func TestBaseAgent_HandleTask_HappyPath(t *testing.T) {
	agent := NewBaseAgent(testCard(), successProcess())

	task := a2a.Task{ID: a2a.NewID(), ContextID: "ctx-1"}
	result, err := agent.HandleTask(context.Background(), task, testMessage())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, task.ID, result.ID)
	assert.Equal(t, a2a.TaskStateCompleted, result.Status.State)
	assert.False(t, result.Status.Timestamp.IsZero())
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "hello", result.Artifacts[0].Parts[0].Text)
}

func TestBaseAgent_HandleTask_Failure(t *testing.T) {
	agent := NewBaseAgent(testCard(), failProcess())

	task := a2a.Task{ID: a2a.NewID(), ContextID: "ctx-1"}
	result, err := agent.HandleTask(context.Background(), task, testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "processing failed")
	require.NotNil(t, result)
	assert.Equal(t, a2a.TaskStateFailed, result.Status.State)
	require.NotNil(t, result.Status.Message)
	assert.Equal(t, a2a.RoleAgent, result.Status.Message.Role)
	assert.Contains(t, result.Status.Message.Parts[0].Text, "processing failed")
}

func TestBaseAgent_HandleTask_DuplicateID(t *testing.T) {
	agent := NewBaseAgent(testCard(), successProcess())
	ctx := context.Background()

	task := a2a.Task{ID: a2a.NewID(), ContextID: "ctx-1"}
	_, err := agent.HandleTask(ctx, task, testMessage())
	require.NoError(t, err)

	_, err = agent.HandleTask(ctx, task, testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestBaseAgent_HandleSendMessage_GetTask(t *testing.T) {
	agent := NewBaseAgent(testCard(), successProcess())
	ctx := context.Background()

	created, err := agent.HandleSendMessage(ctx, a2a.SendMessageRequest{Message: testMessage()})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "ctx-1", created.ContextID)

	got, err := agent.HandleGetTask(ctx, a2a.GetTaskRequest{ID: created.ID})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, got.Status.State)
	assert.Equal(t, "art-1", got.Artifacts[0].ArtifactID)

	_, err = agent.HandleGetTask(ctx, a2a.GetTaskRequest{ID: "nonexistent"})
	assert.ErrorContains(t, err, "not found")
}

func TestBaseAgent_StartStop(t *testing.T) {
	agent := NewBaseAgent(testCard(), successProcess())
	ctx := context.Background()

	require.NoError(t, agent.Start(ctx, "127.0.0.1:0"))
	addr := agent.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get(fmt.Sprintf("http://%s%s", addr, a2a.AgentCardPath))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, agent.Stop(stopCtx))

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestRoleAgent_OverA2A(t *testing.T) {
	ag := NewRoleAgent(RoleSynthesizer, NewLocalProvider())
	ctx := context.Background()
	require.NoError(t, ag.Start(ctx, "127.0.0.1:0"))
	defer ag.Stop(ctx)

	p := NewA2AProvider(a2a.NewHTTPClient(), map[string]string{
		string(RoleSynthesizer): "http://" + ag.Addr(),
	}, "")

	out, err := p.Call(ctx, Prompt{
		TemplateID: "synthesize-v1",
		Role:       RoleSynthesizer,
		Input:      map[string]any{"entity": map[string]any{"person": map[string]any{"name": "Ana", "owner": "Carlos"}}},
	})
	require.NoError(t, err)
	assert.Contains(t, Get([]byte(out), "summary").String(), "Client Ana is handled by Carlos.")
}

func TestRoleAgent_MissingDataPart(t *testing.T) {
	ag := NewRoleAgent(RoleLexical, NewLocalProvider())
	result, err := ag.HandleSendMessage(context.Background(), a2a.SendMessageRequest{Message: testMessage()})
	require.Error(t, err)
	assert.Equal(t, a2a.TaskStateFailed, result.Status.State)
}

func TestA2AProvider_NoEndpoint(t *testing.T) {
	p := NewA2AProvider(a2a.NewHTTPClient(), nil, "")
	_, err := p.Call(context.Background(), Prompt{Role: RoleGuard})
	assert.ErrorContains(t, err, "no endpoint")
	assert.Equal(t, "", p.Endpoint(RoleGuard))

	p = NewA2AProvider(a2a.NewHTTPClient(), map[string]string{"guard": "http://g"}, "http://default")
	assert.Equal(t, "http://g", p.Endpoint(RoleGuard))
	assert.Equal(t, "http://default", p.Endpoint(RoleLexical))
}

func TestInstructionRoundTrip(t *testing.T) {
	text := instruction(Prompt{TemplateID: "extract-v2", Role: RoleExplicit, Corrections: []string{"a: missing", "b: want number"}})
	assert.Equal(t, "extract-v2", templateFrom([]string{text}))
	assert.Equal(t, []string{"a: missing", "b: want number"}, correctionsFrom([]string{text}))
}
