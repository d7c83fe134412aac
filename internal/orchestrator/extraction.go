package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/department"
)

// Extractor runs the extraction domain as one consolidation unit.
// Corrections, when set, carry audit violations into every agent prompt.
type Extractor interface {
	Extract(ctx context.Context, run *Run, corrections []string) *ConsolidatedReport
}

func newExtractor(e *env, variant string) (Extractor, error) {
	switch variant {
	case department.VariantToT:
		return &totExtractor{env: e}, nil
	case department.VariantAdversarial:
		return &adversarialExtractor{env: e}, nil
	default:
		return nil, fmt.Errorf("orchestrator: unknown extraction variant %q", variant)
	}
}

func extractionInput(run *Run) (agent.Input, agent.Schema) {
	schema := run.Department.Extraction.Schema
	in := run.Input()
	in.Schema = &schema
	return in, schema
}

// totExtractor runs the explicit and inferred perspectives side by side
// and asks the consolidator for notes only when they conflict. The
// consolidator gets whatever is left of the same stage deadline.
type totExtractor struct {
	env *env
}

func (x *totExtractor) Extract(ctx context.Context, run *Run, corrections []string) *ConsolidatedReport {
	in, schema := extractionInput(run)
	tmpl := run.Department.Extraction.Template
	deadline := time.Now().Add(x.env.timeout)

	res := x.env.callAll(ctx, run, department.StageAnalyze, []agentCall{
		{spec: agent.PromptSpec{Role: agent.RoleExplicit, TemplateID: tmpl, Corrections: corrections}, input: in, schema: schema},
		{spec: agent.PromptSpec{Role: agent.RoleInferred, TemplateID: tmpl, Corrections: corrections}, input: in, schema: schema},
	})
	rep := MergeToT(schema, res[0], res[1])

	conflicts := rep.Conflicts()
	if len(conflicts) == 0 {
		return rep
	}
	candidates := map[agent.Role]json.RawMessage{}
	for _, r := range res {
		if r.Usable() {
			candidates[r.Role] = r.Payload
		}
	}
	note := x.env.callBefore(ctx, run, department.StageAnalyze, deadline, agentCall{
		spec:   agent.PromptSpec{Role: agent.RoleConsolidator, TemplateID: tmpl},
		input:  in.WithCandidates(candidates),
		schema: agent.ConsolidatorSchema,
	})
	if note.Usable() {
		rep.Notes = parseNotes(note.Payload, conflicts)
	} else {
		run.Logger().Warn("consolidator notes unavailable", "status", string(note.Status), "error", note.Err)
	}
	return rep
}

// adversarialExtractor chains generator, validator and refiner under one
// stage deadline.
type adversarialExtractor struct {
	env *env
}

func (x *adversarialExtractor) Extract(ctx context.Context, run *Run, corrections []string) *ConsolidatedReport {
	in, schema := extractionInput(run)
	tmpl := run.Department.Extraction.Template
	deadline := time.Now().Add(x.env.timeout)
	stage := department.StageAnalyze

	gen := x.env.callBefore(ctx, run, stage, deadline, agentCall{
		spec:   agent.PromptSpec{Role: agent.RoleGenerator, TemplateID: tmpl, Corrections: corrections},
		input:  in,
		schema: schema,
	})
	if !gen.Usable() {
		return MergeAdversarial(schema, gen, nil, nil)
	}

	val := x.env.callBefore(ctx, run, stage, deadline, agentCall{
		spec:   agent.PromptSpec{Role: agent.RoleValidator, TemplateID: tmpl},
		input:  in.WithCandidates(map[agent.Role]json.RawMessage{agent.RoleGenerator: gen.Payload}),
		schema: agent.ValidatorSchema,
	})
	if !val.Usable() || approved(val) {
		return MergeAdversarial(schema, gen, &val, nil)
	}

	ref := x.env.callBefore(ctx, run, stage, deadline, agentCall{
		spec: agent.PromptSpec{Role: agent.RoleRefiner, TemplateID: tmpl, Corrections: corrections},
		input: in.WithCandidates(map[agent.Role]json.RawMessage{
			agent.RoleGenerator: gen.Payload,
			agent.RoleValidator: val.Payload,
		}),
		schema: schema,
	})
	return MergeAdversarial(schema, gen, &val, &ref)
}

// approved reports a critique with is_valid set and no issues.
func approved(val agent.CallResult) bool {
	return agent.Get(val.Payload, "is_valid").Bool() && len(agent.Get(val.Payload, "issues").Array()) == 0
}
