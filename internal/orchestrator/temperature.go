package orchestrator

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/department"
)

// Trend values.
const (
	TrendImproving = "improving"
	TrendWorsening = "worsening"
	TrendStable    = "stable"
)

// assessTemperature runs the lexical and behavioral perspectives, then the
// sentiment manager over whichever of them answered. All three share one
// stage deadline.
func (e *env) assessTemperature(ctx context.Context, run *Run) *TemperatureReport {
	tmpl := run.Department.Temperature.Template
	in := run.Input()
	deadline := time.Now().Add(e.timeout)
	res := e.callAll(ctx, run, department.StageAnalyze, []agentCall{
		{spec: agent.PromptSpec{Role: agent.RoleLexical, TemplateID: tmpl}, input: in, schema: agent.TemperatureSchema},
		{spec: agent.PromptSpec{Role: agent.RoleBehavioral, TemplateID: tmpl}, input: in, schema: agent.TemperatureSchema},
	})

	candidates := map[agent.Role]json.RawMessage{}
	for _, r := range res {
		if _, ok := readTrend(r); ok {
			candidates[r.Role] = r.Payload
		}
	}
	if len(candidates) == 0 {
		return MergeTemperature(res[0], res[1], nil)
	}
	mgr := e.callBefore(ctx, run, department.StageAnalyze, deadline, agentCall{
		spec:   agent.PromptSpec{Role: agent.RoleManager, TemplateID: tmpl},
		input:  in.WithCandidates(candidates),
		schema: agent.TemperatureSchema,
	})
	return MergeTemperature(res[0], res[1], &mgr)
}

// MergeTemperature applies the trend rule: matching branch trends win, a
// disagreement yields stable with the disagreement flagged, and a single
// surviving branch decides alone. The score comes from the manager when it
// answered, else the mean of the branch scores; the label follows the
// manager or the score band.
func MergeTemperature(lexical, behavioral agent.CallResult, manager *agent.CallResult) *TemperatureReport {
	rep := &TemperatureReport{Trend: TrendStable, Provenance: map[string]Provenance{}}

	var trends []string
	var scores []float64
	var voters []agent.CallResult
	for _, r := range []agent.CallResult{lexical, behavioral} {
		trend, ok := readTrend(r)
		if !ok {
			rep.Omissions = append(rep.Omissions, branchOmission(r))
			continue
		}
		trends = append(trends, trend)
		voters = append(voters, r)
		if s := agent.Get(r.Payload, "score"); present(s) {
			scores = append(scores, s.Float())
		}
	}

	switch len(trends) {
	case 2:
		if trends[0] == trends[1] {
			rep.Trend = trends[0]
			rep.Provenance["trend"] = provenanceOf(voters[1], provenanceOf(voters[0], ProvenanceExplicit))
		} else {
			rep.Disagreement = true
			rep.Provenance["trend"] = ProvenanceConflict
		}
	case 1:
		rep.Trend = trends[0]
		rep.Provenance["trend"] = provenanceOf(voters[0], ProvenanceInferred)
	}

	if manager != nil {
		if o := omissionFor(*manager); o != nil {
			rep.Omissions = append(rep.Omissions, *o)
		} else {
			if s := agent.Get(manager.Payload, "score"); present(s) {
				v := round1(s.Float())
				rep.Score = &v
			}
			rep.Label = agent.Get(manager.Payload, "label").String()
			rep.Justification = agent.Get(manager.Payload, "justification").String()
		}
	}
	if rep.Score == nil && len(scores) > 0 {
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		v := round1(sum / float64(len(scores)))
		rep.Score = &v
	}
	if rep.Label == "" && rep.Score != nil {
		rep.Label = agent.TemperatureLabel(*rep.Score)
	}
	return rep
}

// readTrend returns a branch's trend when the branch is usable and the
// trend is one of the known values.
func readTrend(r agent.CallResult) (string, bool) {
	if !r.Usable() {
		return "", false
	}
	t := strings.ToLower(strings.TrimSpace(agent.Get(r.Payload, "trend").String()))
	switch t {
	case TrendImproving, TrendWorsening, TrendStable:
		return t, true
	}
	return "", false
}

func branchOmission(r agent.CallResult) Omission {
	if o := omissionFor(r); o != nil {
		return *o
	}
	return Omission{Branch: string(r.Role), Status: string(agent.StatusMalformed), Reason: "no usable trend"}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// checkCompliance asks the guard whether operator messages broke the
// communication policy.
func (e *env) checkCompliance(ctx context.Context, run *Run) *ComplianceReport {
	res := e.callAll(ctx, run, department.StageAnalyze, []agentCall{{
		spec:   agent.PromptSpec{Role: agent.RoleGuard, TemplateID: run.Department.Compliance.Template},
		input:  run.Input(),
		schema: agent.GuardSchema,
	}})[0]
	return MergeCompliance(res)
}

// MergeCompliance passes the guard verdict through. A guard that did not
// answer yields UNKNOWN with an omission.
func MergeCompliance(res agent.CallResult) *ComplianceReport {
	if o := omissionFor(res); o != nil {
		return &ComplianceReport{Status: ComplianceUnknown, Omissions: []Omission{*o}}
	}
	rep := &ComplianceReport{Status: strings.ToUpper(agent.Get(res.Payload, "compliance_status").String())}
	if rep.Status != ComplianceOK && rep.Status != ComplianceFail {
		rep.Status = ComplianceUnknown
	}
	for _, d := range agent.Get(res.Payload, "details").Array() {
		rep.Details = append(rep.Details, d.String())
	}
	return rep
}
