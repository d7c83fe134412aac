package agent

import (
	"encoding/json"
	"time"
)

// CallStatus is the outcome class of one invocation.
type CallStatus string

const (
	StatusOK        CallStatus = "ok"
	StatusMalformed CallStatus = "malformed"
	StatusFailed    CallStatus = "failed"
	StatusTimedOut  CallStatus = "timed-out"
)

// CallResult is the reified outcome of one agent invocation. Every error
// inside the invoker ends up here instead of being returned.
type CallResult struct {
	Role       Role            `json:"role"`
	TemplateID string          `json:"templateId"`
	Status     CallStatus      `json:"status"`
	Raw        string          `json:"raw,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempts   int             `json:"attempts"`
	Repaired   bool            `json:"repaired,omitempty"`
	Violations []Violation     `json:"violations,omitempty"`
	// Unresolved lists schema paths that were absent or mistyped in a
	// malformed payload.
	Unresolved []string      `json:"unresolved,omitempty"`
	Err        string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// OK reports whether the call produced a schema-conforming payload.
func (r CallResult) OK() bool { return r.Status == StatusOK }

// Usable reports whether there is a payload worth consolidating: ok, or
// malformed with a best-effort object.
func (r CallResult) Usable() bool {
	return r.Status == StatusOK || (r.Status == StatusMalformed && len(r.Payload) > 0)
}

// IsUnresolved reports whether path was flagged in a malformed payload.
func (r CallResult) IsUnresolved(path string) bool {
	for _, p := range r.Unresolved {
		if p == path {
			return true
		}
	}
	return false
}

// Failed builds a result for a call that never happened, such as a branch
// cut off by the stage timeout.
func Failed(role Role, reason string) CallResult {
	return CallResult{Role: role, Status: StatusFailed, Err: reason}
}
