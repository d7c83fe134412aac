package orchestrator

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func temp(role agent.Role, score float64, trend string) agent.CallResult {
	b := `{"score":` + strconv.FormatFloat(score, 'f', -1, 64) + `,"trend":"` + trend + `"}`
	return okResult(role, b)
}

func TestMergeTemperature(t *testing.T) {
	manager := okResult(agent.RoleManager, `{"score":6.44,"trend":"improving","label":"Neutral","justification":"client accepted"}`)

	tests := []struct {
		name         string
		lexical      agent.CallResult
		behavioral   agent.CallResult
		manager      *agent.CallResult
		trend        string
		disagreement bool
		provenance   Provenance
		score        *float64
		label        string
		omissions    int
	}{
		{
			name:       "matching trends",
			lexical:    temp(agent.RoleLexical, 6, TrendImproving),
			behavioral: temp(agent.RoleBehavioral, 7, TrendImproving),
			manager:    &manager,
			trend:      TrendImproving,
			provenance: ProvenanceExplicit,
			score:      ptr(6.4),
			label:      "Neutral",
		},
		{
			name:         "opposing trends",
			lexical:      temp(agent.RoleLexical, 8, TrendImproving),
			behavioral:   temp(agent.RoleBehavioral, 3, TrendWorsening),
			trend:        TrendStable,
			disagreement: true,
			provenance:   ProvenanceConflict,
			score:        ptr(5.5),
			label:        "Neutral",
		},
		{
			name:       "one branch missing",
			lexical:    agent.Failed(agent.RoleLexical, "stage timeout"),
			behavioral: temp(agent.RoleBehavioral, 2, TrendWorsening),
			trend:      TrendWorsening,
			provenance: ProvenanceInferred,
			score:      ptr(2),
			label:      "Critical",
			omissions:  1,
		},
		{
			name:       "malformed branch agrees",
			lexical:    malformedResult(agent.RoleLexical, `{"trend":"improving"}`, "score"),
			behavioral: temp(agent.RoleBehavioral, 7, TrendImproving),
			manager:    &manager,
			trend:      TrendImproving,
			provenance: ProvenanceConflict,
			score:      ptr(6.4),
			label:      "Neutral",
		},
		{
			name:       "only a malformed branch",
			lexical:    agent.Failed(agent.RoleLexical, "stage timeout"),
			behavioral: malformedResult(agent.RoleBehavioral, `{"trend":"worsening"}`, "score"),
			trend:      TrendWorsening,
			provenance: ProvenanceConflict,
			omissions:  1,
		},
		{
			name:       "both missing",
			lexical:    agent.Failed(agent.RoleLexical, "boom"),
			behavioral: malformedResult(agent.RoleBehavioral, `{"score":4}`, "trend"),
			trend:      TrendStable,
			omissions:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := MergeTemperature(tt.lexical, tt.behavioral, tt.manager)
			assert.Equal(t, tt.trend, rep.Trend)
			assert.Equal(t, tt.disagreement, rep.Disagreement)
			assert.Equal(t, tt.provenance, rep.Provenance["trend"])
			if tt.score == nil {
				assert.Nil(t, rep.Score)
			} else {
				require.NotNil(t, rep.Score)
				assert.InDelta(t, *tt.score, *rep.Score, 1e-9)
			}
			assert.Equal(t, tt.label, rep.Label)
			assert.Len(t, rep.Omissions, tt.omissions)
		})
	}
}

func TestMergeTemperature_ManagerFailureFallsBackToMean(t *testing.T) {
	mgr := agent.Failed(agent.RoleManager, "unreachable")
	rep := MergeTemperature(temp(agent.RoleLexical, 9, TrendImproving), temp(agent.RoleBehavioral, 8, TrendImproving), &mgr)
	require.NotNil(t, rep.Score)
	assert.InDelta(t, 8.5, *rep.Score, 1e-9)
	assert.Equal(t, "Positive", rep.Label)
	require.Len(t, rep.Omissions, 1)
	assert.Equal(t, "manager", rep.Omissions[0].Branch)
}

func TestAssessTemperature_SkipsManagerWithoutTrends(t *testing.T) {
	p := newRoleProvider().
		on(agent.RoleLexical, `{"score":5,"trend":"sideways"}`).
		on(agent.RoleManager, `{"score":5,"trend":"stable"}`)
	run := newTestRun(t, loadDepartment(t, "negotiation-chat"), chatSnapshot(1))

	rep := testEnv(p, time.Second).assessTemperature(context.Background(), run)
	assert.Equal(t, TrendStable, rep.Trend)
	assert.Nil(t, rep.Score)
	assert.Len(t, rep.Omissions, 2)
	assert.Empty(t, p.calls(agent.RoleManager))
}

func TestAssessTemperature_ManagerSeesBranches(t *testing.T) {
	p := newRoleProvider().
		on(agent.RoleLexical, `{"score":7,"trend":"improving"}`).
		on(agent.RoleBehavioral, `{"score":6,"trend":"improving"}`).
		on(agent.RoleManager, `{"score":6.5,"trend":"improving","label":"Neutral"}`)
	run := newTestRun(t, loadDepartment(t, "negotiation-chat"), chatSnapshot(1))

	rep := testEnv(p, time.Second).assessTemperature(context.Background(), run)
	assert.Equal(t, TrendImproving, rep.Trend)
	require.NotNil(t, rep.Score)
	assert.InDelta(t, 6.5, *rep.Score, 1e-9)

	calls := p.calls(agent.RoleManager)
	require.Len(t, calls, 1)
	in := calls[0].Input.(agent.Input)
	assert.Len(t, in.Candidates, 2)
}

func TestAssessTemperature_ManagerSharesStageDeadline(t *testing.T) {
	p := newRoleProvider().
		onFunc(agent.RoleLexical, after(200*time.Millisecond, `{"score":7,"trend":"improving"}`)).
		onFunc(agent.RoleBehavioral, after(200*time.Millisecond, `{"score":6,"trend":"improving"}`)).
		onFunc(agent.RoleManager, blockUntilCut)
	run := newTestRun(t, loadDepartment(t, "negotiation-chat"), chatSnapshot(1))

	start := time.Now()
	rep := testEnv(p, 300*time.Millisecond).assessTemperature(context.Background(), run)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 450*time.Millisecond, "manager ran past the stage deadline")
	assert.Equal(t, TrendImproving, rep.Trend)
	require.Len(t, rep.Omissions, 1)
	assert.Equal(t, Omission{Branch: "manager", Status: "failed", Reason: "stage timeout"}, rep.Omissions[0])
	require.NotNil(t, rep.Score)
	assert.InDelta(t, 6.5, *rep.Score, 1e-9)
}

func TestMergeCompliance(t *testing.T) {
	rep := MergeCompliance(okResult(agent.RoleGuard, `{"compliance_status":"fail","details":["threatened arrest"]}`))
	assert.Equal(t, ComplianceFail, rep.Status)
	assert.Equal(t, []string{"threatened arrest"}, rep.Details)

	rep = MergeCompliance(okResult(agent.RoleGuard, `{"compliance_status":"OK"}`))
	assert.Equal(t, ComplianceOK, rep.Status)
	assert.Empty(t, rep.Omissions)

	rep = MergeCompliance(agent.Failed(agent.RoleGuard, "stage timeout"))
	assert.Equal(t, ComplianceUnknown, rep.Status)
	require.Len(t, rep.Omissions, 1)
	assert.Equal(t, "guard", rep.Omissions[0].Branch)
}

func ptr(f float64) *float64 { return &f }
