package orchestrator

import (
	"context"
	"fmt"

	"github.com/dusk-indust/vigil/internal/department"
)

// Analysis domains.
const (
	DomainTemperature = "temperature"
	DomainCompliance  = "compliance"
)

var _ StageExecutor = (*analysisStage)(nil)

// analysisStage runs every analysis domain the descriptor lists
// concurrently and stores the consolidated reports on the run.
type analysisStage struct {
	env        *env
	extractors map[string]Extractor
}

func (s *analysisStage) Stage() string { return department.StageAnalyze }

func (s *analysisStage) Execute(ctx context.Context, run *Run) error {
	d := run.Department
	extract, ok := s.extractors[d.Extraction.Variant]
	if !ok {
		return fmt.Errorf("orchestrator: analyze: no extractor for variant %q", d.Extraction.Variant)
	}

	tasks := []Subtask[any]{{
		Label: DomainExtraction,
		Run: func(ctx context.Context) (any, error) {
			return extract.Extract(ctx, run, nil), nil
		},
	}}
	if d.Temperature != nil {
		tasks = append(tasks, Subtask[any]{
			Label: DomainTemperature,
			Run: func(ctx context.Context) (any, error) {
				return s.env.assessTemperature(ctx, run), nil
			},
		})
	}
	if d.Compliance != nil {
		tasks = append(tasks, Subtask[any]{
			Label: DomainCompliance,
			Run: func(ctx context.Context) (any, error) {
				return s.env.checkCompliance(ctx, run), nil
			},
		})
	}

	// Domains bound their own agent branches by the stage timeout, so the
	// domain barrier waits on ctx alone.
	for _, b := range FanOut(ctx, 0, tasks, nil) {
		if b.Cut {
			return fmt.Errorf("orchestrator: analyze: domain %s: %w", b.Label, b.Err)
		}
		switch rep := b.Value.(type) {
		case *ConsolidatedReport:
			run.Extraction = rep
		case *TemperatureReport:
			run.Temperature = rep
		case *ComplianceReport:
			run.Compliance = rep
		}
	}

	run.Coherence = CheckCoherence(run)
	for _, issue := range run.Coherence {
		run.Logger().Warn("coherence issue", "check", issue.Check, "description", issue.Description)
	}
	return nil
}
