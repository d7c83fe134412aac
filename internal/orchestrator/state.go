package orchestrator

import (
	"fmt"

	"github.com/dusk-indust/vigil/internal/department"
	"github.com/dusk-indust/vigil/internal/errors"
)

// State is a run's lifecycle state.
type State string

const (
	StateQueued         State = "queued"
	StateEnriching      State = "enriching"
	StateAnalyzing      State = "analyzing"
	StateAuditing       State = "auditing"
	StateAuditingRepair State = "auditing-repair"
	StateDeciding       State = "deciding"
	StateCompleted      State = "completed"

	// Side exits.
	StateBlocked          State = "blocked-needs-review"
	StateFailedDecision   State = "failed-decision"
	StateFailedEnrichment State = "failed-enrichment" // reserved; enrichment never hard-fails
	StateCanceled         State = "canceled"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateBlocked, StateFailedDecision, StateFailedEnrichment, StateCanceled:
		return true
	}
	return false
}

// transitions lists the allowed edges. Every non-terminal state may also
// move to failed-decision on an infrastructure failure.
var transitions = map[State][]State{
	StateQueued:         {StateEnriching, StateAnalyzing, StateCanceled},
	StateEnriching:      {StateAnalyzing, StateFailedEnrichment, StateCanceled},
	StateAnalyzing:      {StateAuditing, StateCanceled},
	StateAuditing:       {StateAuditingRepair, StateDeciding, StateBlocked, StateCanceled},
	StateAuditingRepair: {StateAuditing, StateBlocked, StateCanceled},
	StateDeciding:       {StateCompleted},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailedDecision {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("orchestrator: %s -> %s: %w", from, to, errors.ErrInvalidTransition)
	}
	return nil
}

// stageState maps a descriptor stage to the state the run holds while it
// executes.
func stageState(stage string) (State, bool) {
	switch stage {
	case department.StageEnrich:
		return StateEnriching, true
	case department.StageAnalyze:
		return StateAnalyzing, true
	case department.StageAudit:
		return StateAuditing, true
	case department.StageDecide:
		return StateDeciding, true
	}
	return "", false
}
