package orchestrator

import (
	"context"
	"fmt"

	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/department"
)

// Audit checks a consolidated extraction report structurally: required
// fields present with the declared types, and every provenance flag
// naming a declared field. It never judges content.
func Audit(rep *ConsolidatedReport, schema agent.Schema) AuditVerdict {
	if rep == nil || len(rep.Payload) == 0 {
		return AuditVerdict{Violations: []agent.Violation{{Path: "$", Message: "no extraction report"}}}
	}
	violations := schema.Validate(rep.Payload)
	for _, path := range sortedKeys(rep.Provenance) {
		if !schema.Has(path) {
			violations = append(violations, agent.Violation{Path: path, Message: "provenance refers to an undeclared field"})
		}
	}
	return AuditVerdict{Pass: len(violations) == 0, Violations: violations}
}

var _ StageExecutor = (*auditStage)(nil)

// auditStage gates the decision stage. A failing report gets one repair
// cycle: the extraction unit runs again with the violations as
// corrections and the result is audited again. A second failure blocks
// the run for human review.
type auditStage struct {
	extractors map[string]Extractor
}

func (s *auditStage) Stage() string { return department.StageAudit }

func (s *auditStage) Execute(ctx context.Context, run *Run) error {
	schema := run.Department.Extraction.Schema
	verdict := Audit(run.Extraction, schema)
	if verdict.Pass {
		run.Verdict = &verdict
		return nil
	}

	extract, ok := s.extractors[run.Department.Extraction.Variant]
	if !ok {
		return fmt.Errorf("orchestrator: audit: no extractor for variant %q", run.Department.Extraction.Variant)
	}
	corrections := make([]string, len(verdict.Violations))
	for i, v := range verdict.Violations {
		corrections[i] = v.String()
	}
	run.Logger().Warn("audit failed, repairing extraction", "violations", corrections)

	if err := run.Transition(StateAuditingRepair, fmt.Sprintf("%d violations", len(corrections))); err != nil {
		return err
	}
	run.Extraction = extract.Extract(ctx, run, corrections)
	run.Coherence = CheckCoherence(run)
	if err := run.Transition(StateAuditing, "re-audit after repair"); err != nil {
		return err
	}

	verdict = Audit(run.Extraction, schema)
	verdict.Repaired = true
	run.Verdict = &verdict
	if verdict.Pass {
		return nil
	}
	return run.Transition(StateBlocked, fmt.Sprintf("repair left %d violations", len(verdict.Violations)))
}
