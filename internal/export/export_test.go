package export

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func sampleRun() *store.RunRecord {
	return &store.RunRecord{
		ID:              "run-1",
		ConversationID:  "thread-42",
		Department:      "negotiation-email",
		SnapshotVersion: 1,
		State:           "blocked-needs-review",
		StartedAt:       t0,
		EndedAt:         t0.Add(time.Minute),
		AuditTrail: []agent.CallResult{
			{Role: agent.RoleGenerator, Status: agent.StatusOK, Attempts: 1, Duration: 1500 * time.Microsecond},
			{Role: agent.RoleValidator, Status: agent.StatusFailed, Attempts: 3, Err: "connection refused"},
		},
		Transitions: []store.Transition{
			{From: "queued", To: "analyzing", At: t0},
			{From: "analyzing", To: "auditing", At: t0},
			{From: "auditing", To: "auditing-repair", At: t0, Note: "status: required field is missing"},
			{From: "auditing-repair", To: "auditing", At: t0},
			{From: "auditing", To: "blocked-needs-review", At: t0},
		},
	}
}

func TestExportRun(t *testing.T) {
	exp := ExportRun(sampleRun(), t0.Add(time.Hour))

	assert.Equal(t, "2026-03-02T11:00:00Z", exp.ExportedAt)
	require.Len(t, exp.Agents, 2)
	assert.Equal(t, AgentExport{Role: "generator", Status: "ok", Attempts: 1, Duration: "2ms"}, exp.Agents[0])
	assert.Equal(t, []string{"connection refused"}, exp.Agents[1].Issues)
	assert.Equal(t, []string{"validator: failed"}, exp.Omissions)

	data, err := Marshal(exp)
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(data, &back))
	run := back["run"].(map[string]any)
	assert.Equal(t, "run-1", run["run_id"])
}

func TestGenerateMermaid(t *testing.T) {
	got := GenerateMermaid(sampleRun())
	want := "stateDiagram-v2\n" +
		"  [*] --> queued\n" +
		"  queued --> analyzing\n" +
		"  analyzing --> auditing\n" +
		"  auditing --> auditing_repair : status required field is missing\n" +
		"  auditing_repair --> auditing\n" +
		"  auditing --> blocked_needs_review\n" +
		"  blocked_needs_review --> [*]\n"
	assert.Equal(t, want, got)
}

func TestGenerateMermaid_NoTransitions(t *testing.T) {
	rec := &store.RunRecord{ID: "r", State: "queued"}
	assert.Equal(t, "stateDiagram-v2\n  [*] --> queued\n", GenerateMermaid(rec))
}
