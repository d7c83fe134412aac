// Package orchestrator runs department pipelines over conversation
// snapshots: context enrichment, parallel analysis with consolidation, the
// audit gate and the decision stage, driven by a Coordinator that owns the
// run state machine and hands outcomes to the store and the actuator.
//
// Everything above the agent invoker is a pure function of recorded
// CallResults, so consolidation, audit and decision logic is tested without
// live agent calls.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/conversation"
	"github.com/dusk-indust/vigil/internal/department"
	"github.com/dusk-indust/vigil/internal/logging"
	"github.com/dusk-indust/vigil/internal/store"
)

// Trigger is the inbound event: which snapshot of which conversation to
// supervise, and the source it came from.
type Trigger struct {
	ConversationID  string `json:"conversation_id"`
	SourceTag       string `json:"source"`
	SnapshotVersion int64  `json:"snapshot_version"`
}

// StageExecutor runs one descriptor stage against a run. Executors read
// and write the run's reports; returning an error is an infrastructure
// failure and ends the run in failed-decision.
type StageExecutor interface {
	Stage() string
	Execute(ctx context.Context, run *Run) error
}

// ProgressEvent is emitted while a run executes.
type ProgressEvent struct {
	RunID   string
	Stage   string
	Section string
	Status  ProgressStatus
	Message string
}

// ProgressStatus tracks the state of a stage or a branch.
type ProgressStatus int

const (
	ProgressPending ProgressStatus = iota
	ProgressWorking
	ProgressComplete
	ProgressFailed
)

// Run is the aggregate root of one pipeline execution. Stages fill in the
// reports; the state and the audit trail are guarded because analysis
// branches record results concurrently.
type Run struct {
	ID         string
	Trigger    Trigger
	Department *department.Descriptor
	Snapshot   *conversation.Snapshot
	StartedAt  time.Time

	Context     *ContextBundle
	Extraction  *ConsolidatedReport
	Temperature *TemperatureReport
	Compliance  *ComplianceReport
	Verdict     *AuditVerdict
	Outcome     *DecisionOutcome
	Coherence   []CoherenceIssue

	mu          sync.Mutex
	state       State
	trail       []agent.CallResult
	transitions []store.Transition
	now         func() time.Time
	log         *logging.Logger
}

func newRun(id string, trig Trigger, d *department.Descriptor, snap *conversation.Snapshot, now func() time.Time, log *logging.Logger) *Run {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &Run{
		ID:         id,
		Trigger:    trig,
		Department: d,
		Snapshot:   snap,
		StartedAt:  now(),
		state:      StateQueued,
		now:        now,
		log:        log.WithRun(id).WithDepartment(d.Name),
	}
}

// State returns the current lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Transition moves the run to a new state, rejecting forbidden edges.
func (r *Run) Transition(to State, note string) error {
	r.mu.Lock()
	from := r.state
	if err := checkTransition(from, to); err != nil {
		r.mu.Unlock()
		return err
	}
	r.state = to
	r.transitions = append(r.transitions, store.Transition{From: string(from), To: string(to), At: r.now(), Note: note})
	r.mu.Unlock()

	args := []any{"from", string(from), "to", string(to)}
	if note != "" {
		args = append(args, "note", note)
	}
	r.log.Info("run state changed", args...)
	return nil
}

// Record appends agent call results to the audit trail.
func (r *Run) Record(results ...agent.CallResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trail = append(r.trail, results...)
}

// Trail returns a copy of the audit trail.
func (r *Run) Trail() []agent.CallResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agent.CallResult(nil), r.trail...)
}

// Transitions returns a copy of the state log.
func (r *Run) Transitions() []store.Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Transition(nil), r.transitions...)
}

// Input builds the common agent input from the snapshot and the context
// summary, if enrichment ran.
func (r *Run) Input() agent.Input {
	summary := ""
	if r.Context != nil {
		summary = r.Context.Summary
	}
	return agent.NewInput(r.Snapshot, summary)
}

// Logger returns the run's logger.
func (r *Run) Logger() *logging.Logger { return r.log }
