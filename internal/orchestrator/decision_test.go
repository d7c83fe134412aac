package orchestrator

import (
	"context"
	"testing"

	"github.com/dusk-indust/vigil/internal/crm"
	"github.com/dusk-indust/vigil/internal/department"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const facts = `{
	"extraction":{"status":"agreement_closed","values":{"total":800},"due_date":"15/03/2026","points":["price","date"],"empty":""},
	"temperature":{"score":6.5,"trend":"improving","label":"Neutral","disagreement":false},
	"context":{"found":true,"person_phone":"11987654321"},
	"provenance":{"conflicts":1,"omissions":0}
}`

func TestEvaluate(t *testing.T) {
	tests := []struct {
		cond department.Condition
		want bool
	}{
		{department.Condition{Fact: "extraction.status", Op: "eq", Value: "Agreement_Closed"}, true},
		{department.Condition{Fact: "extraction.status", Op: "ne", Value: "negotiating"}, true},
		{department.Condition{Fact: "extraction.missing", Op: "ne", Value: "x"}, true},
		{department.Condition{Fact: "temperature.trend", Op: "in", Value: []any{"improving", "stable"}}, true},
		{department.Condition{Fact: "temperature.trend", Op: "in", Value: []any{"worsening"}}, false},
		{department.Condition{Fact: "extraction.due_date", Op: "exists"}, true},
		{department.Condition{Fact: "extraction.nothing", Op: "exists"}, false},
		{department.Condition{Fact: "extraction.nothing", Op: "missing"}, true},
		{department.Condition{Fact: "temperature.score", Op: "gt", Value: 6}, true},
		{department.Condition{Fact: "temperature.score", Op: "gte", Value: 6.5}, true},
		{department.Condition{Fact: "temperature.score", Op: "lt", Value: 6.5}, false},
		{department.Condition{Fact: "temperature.score", Op: "lte", Value: "7"}, true},
		{department.Condition{Fact: "extraction.status", Op: "gt", Value: 1}, false},
		{department.Condition{Fact: "extraction.points", Op: "contains", Value: "date"}, true},
		{department.Condition{Fact: "extraction.status", Op: "contains", Value: "CLOSED"}, true},
		{department.Condition{Fact: "context.found", Op: "eq", Value: true}, true},
		{department.Condition{Fact: "provenance.omissions", Op: "eq", Value: 0}, true},
		{department.Condition{Fact: "extraction.values.total", Op: "eq", Value: 800}, true},
	}
	for _, tt := range tests {
		t.Run(tt.cond.Fact+" "+tt.cond.Op, func(t *testing.T) {
			got, err := Evaluate(tt.cond, []byte(facts))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	_, err := Evaluate(department.Condition{Fact: "extraction.status", Op: "approx", Value: "x"}, []byte(facts))
	assert.ErrorContains(t, err, `unknown operator "approx"`)

	_, err = Evaluate(department.Condition{Fact: "temperature.trend", Op: "in", Value: "improving"}, []byte(facts))
	assert.ErrorContains(t, err, "needs a list")

	_, err = Evaluate(department.Condition{Fact: "temperature.score", Op: "gt", Value: "high"}, []byte(facts))
	assert.ErrorContains(t, err, "needs a number")
}

func TestResolveTool(t *testing.T) {
	spec := &department.ToolSpec{
		Name: "create_crm_activity",
		Args: map[string]string{
			"person_phone": "$context.person_phone",
			"due_date":     "$extraction.due_date",
			"subject":      "Payment due",
			"note":         "$extraction.summary",
		},
		Optional: []string{"note"},
	}
	call, err := ResolveTool(spec, []byte(facts))
	require.NoError(t, err)
	assert.Equal(t, "create_crm_activity", call.Name)
	assert.Equal(t, map[string]any{
		"person_phone": "11987654321",
		"due_date":     "15/03/2026",
		"subject":      "Payment due",
	}, call.Args)

	spec.Args["due_date"] = "$extraction.empty"
	_, err = ResolveTool(spec, []byte(facts))
	assert.ErrorContains(t, err, "required arg due_date")
}

func TestDecide(t *testing.T) {
	set := department.DecisionSet{
		Rules: []department.Rule{
			{
				Name:    "breach",
				When:    []department.Condition{{Fact: "compliance.status", Op: "eq", Value: "FAIL"}},
				Outcome: department.Outcome{Label: "alert-human-supervisor"},
			},
			{
				Name: "closed",
				When: []department.Condition{
					{Fact: "extraction.status", Op: "eq", Value: "agreement_closed"},
					{Fact: "extraction.due_date", Op: "exists"},
				},
				Outcome: department.Outcome{
					Label:     "monitor-payment",
					Tool:      &department.ToolSpec{Name: "create_crm_activity", Args: map[string]string{"due_date": "$extraction.due_date"}},
					Rationale: "Agreement closed.",
				},
			},
			{
				Name:    "anything",
				Outcome: department.Outcome{Label: "monitor"},
			},
		},
	}
	out, err := Decide(set, []byte(facts))
	require.NoError(t, err)
	assert.Equal(t, "monitor-payment", out.Label)
	assert.Equal(t, "closed", out.Rule)
	require.NotNil(t, out.Tool)
	assert.Equal(t, "15/03/2026", out.Tool.Args["due_date"])
	assert.Equal(t, "Agreement closed.", out.Rationale)
}

func TestDecide_Defaults(t *testing.T) {
	never := []department.Rule{{
		Name:    "never",
		When:    []department.Condition{{Fact: "extraction.status", Op: "eq", Value: "stalled"}},
		Outcome: department.Outcome{Label: "monitor"},
	}}

	out, err := Decide(department.DecisionSet{Rules: never, Default: &department.Outcome{Label: "custom-default"}}, []byte(facts))
	require.NoError(t, err)
	assert.Equal(t, "custom-default", out.Label)
	assert.Empty(t, out.Rule)
	assert.Nil(t, out.Tool)

	out, err = Decide(department.DecisionSet{Rules: never}, []byte(facts))
	require.NoError(t, err)
	assert.Equal(t, department.DefaultLabel, out.Label)
	require.NotNil(t, out.Tool)
	assert.Equal(t, "alert_supervisor", out.Tool.Name)
	assert.Equal(t, "no decision rule matched", out.Tool.Args["reason"])
}

func TestDecide_FatalErrors(t *testing.T) {
	_, err := Decide(department.DecisionSet{Rules: []department.Rule{{
		Name:    "bad-op",
		When:    []department.Condition{{Fact: "extraction.status", Op: "approx"}},
		Outcome: department.Outcome{Label: "monitor"},
	}}}, []byte(facts))
	assert.ErrorContains(t, err, "rule bad-op")

	_, err = Decide(department.DecisionSet{Rules: []department.Rule{{
		Name:    "missing-arg",
		Outcome: department.Outcome{Label: "schedule-follow-up", Tool: &department.ToolSpec{Name: "schedule_follow_up", Args: map[string]string{"due_date": "$extraction.follow_up"}}},
	}}}, []byte(facts))
	assert.ErrorContains(t, err, "required arg due_date")
}

func decidedRun(t *testing.T) *Run {
	t.Helper()
	run := newTestRun(t, loadDepartment(t, "negotiation-chat"), chatSnapshot(1))
	score := 2.0
	run.Context = &ContextBundle{
		Found:        true,
		LookupKey:    "11987654321",
		LookupMethod: MethodPhone,
		Degraded:     true,
		Entity: &crm.Entity{
			Person: &crm.Person{ID: "p1", Name: "Ana Lima", Phones: []string{"+55 11 98765-4321"}},
			Deal:   &crm.Deal{ID: "d1", Title: "Ana Lima - acordo"},
		},
	}
	run.Extraction = &ConsolidatedReport{
		Domain:     DomainExtraction,
		Payload:    []byte(`{"summary":"client accepted","status":"agreement_closed","values":{"total":800},"deadlines":{"agreed_date":"15/03/2026"}}`),
		Provenance: map[string]Provenance{"status": ProvenanceConflict, "summary": ProvenanceExplicit},
		Omissions:  []Omission{{Branch: "inferred", Status: "failed", Reason: "stage timeout"}},
		Notes:      []FieldNote{{Field: "status", Note: "client said aceito"}},
	}
	run.Temperature = &TemperatureReport{Score: &score, Trend: TrendStable, Label: "Critical", Disagreement: true}
	run.Compliance = &ComplianceReport{Status: ComplianceOK}
	run.Coherence = CheckCoherence(run)
	return run
}

func TestBuildFacts(t *testing.T) {
	b, err := BuildFacts(decidedRun(t))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"extraction":{"summary":"client accepted","status":"agreement_closed","values":{"total":800},"deadlines":{"agreed_date":"15/03/2026"}},
		"temperature":{"score":2,"trend":"stable","label":"Critical","disagreement":true},
		"compliance":{"status":"OK"},
		"context":{"found":true,"lookup_key":"11987654321","lookup_method":"phone","deal_id":"d1","deal_title":"Ana Lima - acordo","person_id":"p1","person_name":"Ana Lima","person_phone":"11987654321"},
		"provenance":{"conflicts":2,"omissions":1,"conflict_fields":["status","temperature.trend"]}
	}`, string(b))
}

func TestBuildFacts_EmptyRun(t *testing.T) {
	run := newTestRun(t, loadDepartment(t, "negotiation-email"), emailSnapshot(1))
	b, err := BuildFacts(run)
	require.NoError(t, err)
	assert.JSONEq(t, `{"extraction":{},"context":{"found":false},"provenance":{"conflicts":0,"omissions":0}}`, string(b))
}

func TestDecisionStage_ChatDefaults(t *testing.T) {
	run := decidedRun(t)
	require.NoError(t, decisionStage{}.Execute(context.Background(), run))
	require.NotNil(t, run.Outcome)
	assert.Equal(t, "monitor-payment", run.Outcome.Label)
	assert.Equal(t, "agreement-closed", run.Outcome.Rule)
	require.NotNil(t, run.Outcome.Tool)
	assert.Equal(t, map[string]any{
		"person_phone": "11987654321",
		"due_date":     "15/03/2026",
		"subject":      "Payment due",
		"note":         "client accepted",
	}, run.Outcome.Tool.Args)

	r := run.Outcome.Rationale
	assert.Contains(t, r, "Agreement closed with a payment date")
	assert.Contains(t, r, "Unresolved conflicts: status, temperature.trend.")
	assert.Contains(t, r, "Omitted branches: inferred (failed: stage timeout).")
	assert.Contains(t, r, "Consolidator notes: status: client said aceito.")
	assert.Contains(t, r, "Coherence: extraction reports agreement_closed while temperature is Critical")
	assert.Contains(t, r, "Context summary is a template fallback.")
}

func TestDecisionStage_RequiredArgMissing(t *testing.T) {
	run := newTestRun(t, &department.Descriptor{
		Name: "strict",
		Decision: department.DecisionSet{Default: &department.Outcome{
			Label: "schedule-follow-up",
			Tool:  &department.ToolSpec{Name: "schedule_follow_up", Args: map[string]string{"due_date": "$extraction.due_date"}},
		}},
	}, chatSnapshot(1))
	err := decisionStage{}.Execute(context.Background(), run)
	assert.ErrorContains(t, err, "required arg due_date")
	assert.Nil(t, run.Outcome)
}
