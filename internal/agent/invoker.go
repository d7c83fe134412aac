package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dusk-indust/vigil/internal/errors"
	"github.com/dusk-indust/vigil/internal/logging"
	"github.com/tidwall/gjson"
)

// PromptSpec names the agent and the prompt template of one call.
// Corrections carry caller-side feedback, such as audit violations, into
// the first attempt.
type PromptSpec struct {
	Role        Role
	TemplateID  string
	Corrections []string
}

// Options configures the invoker's retry loop.
type Options struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	CallTimeout time.Duration
}

// DefaultOptions returns the invoker defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  8 * time.Second,
		CallTimeout: 60 * time.Second,
	}
}

// Invoker is the only place that talks to the reasoning provider. All
// non-determinism stays below it: callers get a CallResult, never an error.
type Invoker struct {
	provider Provider
	opts     Options
	log      *logging.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates an Invoker. Zero option fields take the defaults.
func NewInvoker(p Provider, opts Options, log *logging.Logger) *Invoker {
	def := DefaultOptions()
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = def.BaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = def.MaxBackoff
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &Invoker{provider: p, opts: opts, log: log, sleep: sleepCtx}
}

// Invoke calls the provider for spec with input and validates the response
// against schema. Transport failures and empty responses are retried with
// exponential backoff; a response that does not match the schema gets
// exactly one repair call carrying the previous output and its violations.
func (inv *Invoker) Invoke(ctx context.Context, spec PromptSpec, input any, schema Schema) CallResult {
	start := time.Now()
	res := CallResult{Role: spec.Role, TemplateID: spec.TemplateID}
	log := inv.log.With("role", string(spec.Role), "template", spec.TemplateID)

	prompt := Prompt{
		TemplateID:  spec.TemplateID,
		Role:        spec.Role,
		Input:       input,
		SchemaHint:  schema.Hint(),
		Corrections: spec.Corrections,
	}

	raw, status, err := inv.callWithRetry(ctx, prompt, &res, log)
	if err != nil {
		res.Status = status
		res.Err = err.Error()
		res.Duration = time.Since(start)
		log.Warn("agent call failed", "status", string(status), "attempts", res.Attempts, "error", err)
		return res
	}

	payload, violations := parse(raw, schema)
	if len(violations) == 0 {
		res.Status = StatusOK
		res.Raw = raw
		res.Payload = payload
		res.Duration = time.Since(start)
		return res
	}

	log.Warn("malformed agent output, requesting repair", "violations", len(violations))
	repair := prompt
	repair.Corrections = append(append([]string(nil), spec.Corrections...), corrections(raw, violations)...)

	res.Attempts++
	raw2, err := inv.callOnce(ctx, repair, res.Attempts)
	if err == nil {
		payload2, violations2 := parse(raw2, schema)
		if len(violations2) == 0 {
			res.Status = StatusOK
			res.Raw = raw2
			res.Payload = payload2
			res.Repaired = true
			res.Duration = time.Since(start)
			return res
		}
		if better(payload2, violations2, payload, violations) {
			raw, payload, violations = raw2, payload2, violations2
		}
	} else {
		log.Warn("repair call failed", "error", err)
	}

	res.Status = StatusMalformed
	res.Raw = raw
	res.Payload = payload
	res.Violations = violations
	res.Unresolved = unresolvedPaths(violations)
	res.Err = errors.ErrMalformedOutput.Error()
	res.Duration = time.Since(start)
	return res
}

// callWithRetry runs the attempt loop and returns the first non-empty
// response. On exhaustion the status is timed-out only if every attempt
// ended with a deadline.
func (inv *Invoker) callWithRetry(ctx context.Context, p Prompt, res *CallResult, log *logging.Logger) (string, CallStatus, error) {
	var lastErr error
	allTimeouts := true

	for attempt := 1; attempt <= inv.opts.MaxAttempts; attempt++ {
		res.Attempts++
		log.Debug("agent attempt", "attempt", attempt)

		raw, err := inv.callOnce(ctx, p, attempt)
		if err == nil {
			return raw, StatusOK, nil
		}
		lastErr = err
		if !errors.IsTimeout(err) {
			allTimeouts = false
		}

		if ctx.Err() != nil || !errors.IsRetryable(err) || attempt == inv.opts.MaxAttempts {
			break
		}

		wait := inv.backoff(attempt)
		log.Warn("retrying agent call", "attempt", attempt, "backoff", wait.String(), "error", err)
		if err := inv.sleep(ctx, wait); err != nil {
			break
		}
	}

	if allTimeouts {
		return "", StatusTimedOut, lastErr
	}
	return "", StatusFailed, lastErr
}

// callOnce makes a single bounded provider call.
func (inv *Invoker) callOnce(ctx context.Context, p Prompt, attempt int) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, inv.opts.CallTimeout)
	defer cancel()

	raw, err := inv.provider.Call(cctx, p)
	switch {
	case err != nil && cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		err = fmt.Errorf("%w after %s: %v", errors.ErrTimeout, inv.opts.CallTimeout, err)
	case err == nil && strings.TrimSpace(raw) == "":
		err = errors.ErrEmptyResponse
	}
	if err != nil {
		return "", errors.NewProviderError(string(p.Role), attempt, err)
	}
	return raw, nil
}

// backoff returns base * 2^(attempt-1), capped.
func (inv *Invoker) backoff(attempt int) time.Duration {
	d := inv.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= inv.opts.MaxBackoff {
			return inv.opts.MaxBackoff
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parse cleans raw and validates it. A non-object yields a nil payload.
func parse(raw string, schema Schema) (json.RawMessage, []Violation) {
	cleaned := CleanJSON(raw)
	if !gjson.Valid(cleaned) || !gjson.Parse(cleaned).IsObject() {
		return nil, []Violation{{Path: "$", Message: "response is not a JSON object"}}
	}
	payload := json.RawMessage(cleaned)
	return payload, schema.Validate(payload)
}

// better reports whether candidate a beats b: a parseable object over
// none, then fewer violations; ties go to a.
func better(a json.RawMessage, av []Violation, b json.RawMessage, bv []Violation) bool {
	if (a == nil) != (b == nil) {
		return a != nil
	}
	return len(av) <= len(bv)
}

func corrections(raw string, violations []Violation) []string {
	out := make([]string, 0, len(violations)+1)
	out = append(out, "previous output did not match the schema: "+raw)
	for _, v := range violations {
		out = append(out, v.String())
	}
	return out
}

func unresolvedPaths(violations []Violation) []string {
	var out []string
	for _, v := range violations {
		if v.Path != "$" {
			out = append(out, v.Path)
		}
	}
	return out
}
