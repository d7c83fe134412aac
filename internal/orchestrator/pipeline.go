package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dusk-indust/vigil/internal/actuator"
	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/conversation"
	"github.com/dusk-indust/vigil/internal/crm"
	"github.com/dusk-indust/vigil/internal/department"
	"github.com/dusk-indust/vigil/internal/errors"
	"github.com/dusk-indust/vigil/internal/logging"
	"github.com/dusk-indust/vigil/internal/store"
)

const tracerName = "github.com/dusk-indust/vigil/internal/orchestrator"

// Deps are the collaborators a Coordinator drives.
type Deps struct {
	Catalog   *department.Catalog
	Snapshots conversation.Reader
	Directory crm.Directory
	Provider  agent.Provider
	Store     store.Store
	// Actuator receives tool requests of authoritative outcomes. Nil logs
	// the requests.
	Actuator actuator.Actuator
	// Progress is optional.
	Progress *ProgressReporter
	Logger   *logging.Logger
	// Tracer defaults to the global OpenTelemetry provider.
	Tracer trace.TracerProvider
}

// Coordinator owns the run lifecycle: department routing, the stage loop,
// persistence of the run record and hand-off to the actuator.
type Coordinator struct {
	opts     Options
	router   *Router
	snaps    conversation.Reader
	store    store.Store
	act      actuator.Actuator
	progress *ProgressReporter
	log      *logging.Logger
	tracer   trace.Tracer

	now   func() time.Time
	newID func() string

	// inflight tracks actuation goroutines.
	inflight sync.WaitGroup
}

// NewCoordinator wires the stage executors over deps.
func NewCoordinator(opts Options, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Catalog == nil:
		return nil, fmt.Errorf("orchestrator: coordinator: catalog is required")
	case deps.Snapshots == nil:
		return nil, fmt.Errorf("orchestrator: coordinator: snapshot reader is required")
	case deps.Provider == nil:
		return nil, fmt.Errorf("orchestrator: coordinator: provider is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("orchestrator: coordinator: store is required")
	}
	def := DefaultOptions()
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = def.StageTimeout
	}
	if opts.ActuationTimeout <= 0 {
		opts.ActuationTimeout = def.ActuationTimeout
	}
	log := deps.Logger
	if log == nil {
		log = logging.NopLogger()
	}
	dir := deps.Directory
	if dir == nil {
		dir = crm.NewMemDirectory(nil, nil)
	}
	act := deps.Actuator
	if act == nil {
		act = actuator.NewLogActuator(log)
	}
	tp := deps.Tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	e := &env{
		invoker:  agent.NewInvoker(deps.Provider, opts.Invoker, log),
		timeout:  opts.StageTimeout,
		progress: deps.Progress,
	}
	extractors := map[string]Extractor{}
	for _, v := range []string{department.VariantToT, department.VariantAdversarial} {
		x, err := newExtractor(e, v)
		if err != nil {
			return nil, err
		}
		extractors[v] = x
	}

	router := NewRouter(deps.Catalog)
	router.RegisterExecutor(&enrichStage{env: e, dir: dir})
	router.RegisterExecutor(&analysisStage{env: e, extractors: extractors})
	router.RegisterExecutor(&auditStage{extractors: extractors})
	router.RegisterExecutor(decisionStage{})

	return &Coordinator{
		opts:     opts,
		router:   router,
		snaps:    deps.Snapshots,
		store:    deps.Store,
		act:      act,
		progress: deps.Progress,
		log:      log,
		tracer:   tp.Tracer(tracerName),
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// Trigger runs the department pipeline for one conversation snapshot and
// returns the terminal run record. Blocked, failed and canceled runs are
// returned as data; the error covers infrastructure problems only.
func (c *Coordinator) Trigger(ctx context.Context, trig Trigger) (*store.RunRecord, error) {
	d, execs, err := c.router.Route(trig.SourceTag)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: trigger: %w", err)
	}
	snap, err := c.snaps.Snapshot(ctx, trig.ConversationID, trig.SnapshotVersion)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: trigger: read snapshot %s@%d: %w", trig.ConversationID, trig.SnapshotVersion, err)
	}

	run := newRun(c.newID(), trig, d, snap, c.now, c.log)
	ctx, span := c.tracer.Start(ctx, "vigil.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("department", d.Name),
		attribute.String("conversation.id", trig.ConversationID),
		attribute.Int64("snapshot.version", trig.SnapshotVersion),
	))
	defer span.End()

	// Store writes and actuation outlive the caller's cancellation.
	bg := context.WithoutCancel(ctx)
	if err := c.store.CreateRun(bg, c.record(run, nil)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("orchestrator: trigger: %w", err)
	}

	c.progress.Emit(ProgressEvent{RunID: run.ID, Stage: "run", Status: ProgressWorking, Message: FormatRunHeader(d.Name, run.ID, trig)})
	runErr := c.execute(ctx, run, execs)
	switch {
	case errors.Is(runErr, errors.ErrRunCanceled):
		run.Logger().Info("run canceled", "reason", runErr.Error())
	case runErr != nil:
		run.Logger().Error("run failed", "error", runErr.Error())
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}

	rec, err := c.finish(bg, run, runErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rec, err
	}
	span.SetAttributes(attribute.String("run.state", rec.State), attribute.Bool("run.authoritative", rec.Authoritative))

	status := ProgressComplete
	if rec.State != string(StateCompleted) {
		status = ProgressFailed
	}
	c.progress.Emit(ProgressEvent{RunID: run.ID, Stage: "run", Status: status, Message: rec.State})
	return rec, nil
}

// execute drives the stage loop. Cancellation is honoured between stages;
// a stage already running completes on an uncancelable context and its
// results are discarded by the canceled state.
func (c *Coordinator) execute(ctx context.Context, run *Run, execs []StageExecutor) error {
	for _, exec := range execs {
		if err := ctx.Err(); err != nil {
			cause := fmt.Errorf("%w: %w", errors.ErrRunCanceled, err)
			if terr := run.Transition(StateCanceled, cause.Error()); terr != nil {
				return errors.Join(cause, terr)
			}
			return cause
		}
		st, ok := stageState(exec.Stage())
		if !ok {
			return c.fail(run, errors.NewStageError(exec.Stage(), fmt.Errorf("no state for stage")))
		}
		if run.State() != st {
			if err := run.Transition(st, ""); err != nil {
				return c.fail(run, errors.NewStageError(exec.Stage(), err))
			}
		}
		if err := c.store.UpdateRun(context.WithoutCancel(ctx), c.record(run, nil)); err != nil {
			return c.fail(run, errors.NewStageError(exec.Stage(), err))
		}

		if err := c.runStage(ctx, run, exec); err != nil {
			return c.fail(run, errors.NewStageError(exec.Stage(), err))
		}
		if run.State().IsTerminal() {
			return nil
		}
	}
	if err := run.Transition(StateCompleted, ""); err != nil {
		return c.fail(run, err)
	}
	return nil
}

func (c *Coordinator) runStage(ctx context.Context, run *Run, exec StageExecutor) error {
	stage := exec.Stage()
	sctx, span := c.tracer.Start(ctx, "vigil.stage."+stage, trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("department", run.Department.Name),
		attribute.String("conversation.id", run.Trigger.ConversationID),
		attribute.Int64("snapshot.version", run.Trigger.SnapshotVersion),
	))
	defer span.End()

	log := run.Logger().WithStage(stage)
	log.Debug("stage started")
	c.progress.Emit(ProgressEvent{RunID: run.ID, Stage: stage, Status: ProgressWorking})
	start := time.Now()

	err := exec.Execute(context.WithoutCancel(sctx), run)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.progress.Emit(ProgressEvent{RunID: run.ID, Stage: stage, Status: ProgressFailed, Message: err.Error()})
		return err
	}
	log.Debug("stage finished", "duration", time.Since(start).String(), "state", string(run.State()))
	c.progress.Emit(ProgressEvent{RunID: run.ID, Stage: stage, Status: ProgressComplete})
	return nil
}

func (c *Coordinator) fail(run *Run, cause error) error {
	if err := run.Transition(StateFailedDecision, cause.Error()); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// finish writes the terminal record. Completed runs claim authority for
// their snapshot key and actuate only when they hold it.
func (c *Coordinator) finish(ctx context.Context, run *Run, runErr error) (*store.RunRecord, error) {
	rec := c.record(run, runErr)
	if run.State() != StateCompleted {
		if err := c.store.UpdateRun(ctx, rec); err != nil {
			return rec, fmt.Errorf("orchestrator: finish: %w", err)
		}
		return rec, nil
	}

	err := c.store.PutOutcome(ctx, rec)
	switch {
	case errors.Is(err, errors.ErrStaleOutcome):
		run.Logger().Warn("outcome superseded by a newer run", "superseded_by", rec.SupersededBy)
		return rec, nil
	case err != nil:
		return rec, fmt.Errorf("orchestrator: finish: %w", err)
	}
	c.actuate(ctx, run, rec)
	return rec, nil
}

// actuate hands the tool request to the actuator without waiting for it.
// Dispatch failures are logged and never retried.
func (c *Coordinator) actuate(ctx context.Context, run *Run, rec *store.RunRecord) {
	if rec.Decision == nil || rec.Decision.Tool == nil {
		return
	}
	req := actuator.Request{RunID: run.ID, Tool: rec.Decision.Tool.Name, Args: rec.Decision.Tool.Args}
	log := run.Logger()
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		actx, cancel := context.WithTimeout(ctx, c.opts.ActuationTimeout)
		defer cancel()
		if err := c.act.Dispatch(actx, req); err != nil {
			log.Warn("tool dispatch failed", "tool", req.Tool, "error", err.Error())
			return
		}
		log.Info("tool dispatched", "tool", req.Tool)
	}()
}

// Wait blocks until every pending tool dispatch has returned.
func (c *Coordinator) Wait() { c.inflight.Wait() }

// Catalog returns the department catalog the coordinator routes over.
func (c *Coordinator) Catalog() *department.Catalog { return c.router.Catalog() }

// Store returns the run store.
func (c *Coordinator) Store() store.Store { return c.store }

// record renders the run in its persisted layout.
func (c *Coordinator) record(run *Run, runErr error) *store.RunRecord {
	rec := &store.RunRecord{
		ID:              run.ID,
		ConversationID:  run.Trigger.ConversationID,
		Department:      run.Department.Name,
		SourceTag:       run.Trigger.SourceTag,
		SnapshotVersion: run.Trigger.SnapshotVersion,
		State:           string(run.State()),
		StartedAt:       run.StartedAt,
		Context:         rawJSON(run.Context),
		Extraction:      rawJSON(run.Extraction),
		Temperature:     rawJSON(run.Temperature),
		Compliance:      rawJSON(run.Compliance),
		AuditTrail:      run.Trail(),
		Transitions:     run.Transitions(),
	}
	if run.State().IsTerminal() {
		rec.EndedAt = c.now()
	}
	if run.Outcome != nil && run.State() == StateCompleted {
		rec.Decision = &store.Decision{
			Label:     run.Outcome.Label,
			Rule:      run.Outcome.Rule,
			Tool:      run.Outcome.Tool,
			Rationale: run.Outcome.Rationale,
		}
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return rec
}

// rawJSON marshals v, or returns nil for a nil pointer.
func rawJSON[T any](v *T) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
