package orchestrator

import (
	"context"
	"time"

	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/errors"
)

// Options tunes stage execution.
type Options struct {
	// Invoker configures retries around every agent call.
	Invoker agent.Options
	// StageTimeout bounds the agent branches of a stage.
	StageTimeout time.Duration
	// ActuationTimeout bounds one tool dispatch.
	ActuationTimeout time.Duration
}

// DefaultOptions returns the coordinator defaults.
func DefaultOptions() Options {
	return Options{
		Invoker:          agent.DefaultOptions(),
		StageTimeout:     120 * time.Second,
		ActuationTimeout: 10 * time.Second,
	}
}

// env carries what every stage needs to call agents.
type env struct {
	invoker  *agent.Invoker
	timeout  time.Duration
	progress *ProgressReporter
}

// agentCall is one invocation a stage wants made.
type agentCall struct {
	spec   agent.PromptSpec
	input  agent.Input
	schema agent.Schema
}

// callAll runs calls as labeled branches under the stage timeout and
// records every result, including the ones cut at the barrier, in the
// run's audit trail.
func (e *env) callAll(ctx context.Context, run *Run, stage string, calls []agentCall) []agent.CallResult {
	return e.callWithin(ctx, run, stage, e.timeout, calls)
}

func (e *env) callWithin(ctx context.Context, run *Run, stage string, timeout time.Duration, calls []agentCall) []agent.CallResult {
	tasks := make([]Subtask[agent.CallResult], len(calls))
	for i, c := range calls {
		tasks[i] = Subtask[agent.CallResult]{
			Label: string(c.spec.Role),
			Run: func(ctx context.Context) (agent.CallResult, error) {
				res := e.invoker.Invoke(ctx, c.spec, c.input, c.schema)
				if !res.Usable() {
					return res, errors.New(string(res.Status) + ": " + res.Err)
				}
				return res, nil
			},
		}
	}

	branches := FanOut(ctx, timeout, tasks, e.progressFor(run, stage))
	out := make([]agent.CallResult, len(branches))
	for i, b := range branches {
		if b.Cut {
			out[i] = agent.Failed(calls[i].spec.Role, reasonStageTimeout)
			out[i].TemplateID = calls[i].spec.TemplateID
			continue
		}
		out[i] = b.Value
	}
	run.Record(out...)
	return out
}

// callBefore runs one call bounded by a shared deadline. A deadline already
// passed yields a cut result without calling the agent.
func (e *env) callBefore(ctx context.Context, run *Run, stage string, deadline time.Time, c agentCall) agent.CallResult {
	left := time.Until(deadline)
	if left <= 0 {
		res := agent.Failed(c.spec.Role, reasonStageTimeout)
		res.TemplateID = c.spec.TemplateID
		run.Record(res)
		return res
	}
	return e.callWithin(ctx, run, stage, left, []agentCall{c})[0]
}

func (e *env) progressFor(run *Run, stage string) func(string, ProgressStatus, string) {
	if e.progress == nil {
		return nil
	}
	return func(label string, st ProgressStatus, msg string) {
		e.progress.Emit(ProgressEvent{RunID: run.ID, Stage: stage, Section: label, Status: st, Message: msg})
	}
}
