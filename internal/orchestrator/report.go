package orchestrator

import (
	"encoding/json"
	"sort"

	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/crm"
	"github.com/dusk-indust/vigil/internal/store"
)

// Provenance marks where a consolidated field value came from.
type Provenance string

const (
	ProvenanceExplicit Provenance = "explicit"
	ProvenanceInferred Provenance = "inferred"
	ProvenanceConflict Provenance = "unresolved-conflict"
)

// Omission records a branch excluded from consolidation.
type Omission struct {
	Branch string `json:"branch"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// FieldNote is a consolidator remark about one field.
type FieldNote struct {
	Field string `json:"field"`
	Note  string `json:"note"`
}

// ContextBundle is the enrichment result. It is built once per run.
type ContextBundle struct {
	Found        bool        `json:"found"`
	Summary      string      `json:"summary"`
	Entity       *crm.Entity `json:"entity,omitempty"`
	LookupKey    string      `json:"lookup_key,omitempty"`
	LookupMethod string      `json:"lookup_method,omitempty"`
	Degraded     bool        `json:"degraded,omitempty"`
}

// ConsolidatedReport is the extraction domain's merged result.
type ConsolidatedReport struct {
	Domain     string                `json:"domain"`
	Variant    string                `json:"variant"`
	Payload    json.RawMessage       `json:"payload"`
	Provenance map[string]Provenance `json:"provenance"`
	Omissions  []Omission            `json:"omissions,omitempty"`
	Notes      []FieldNote           `json:"notes,omitempty"`
}

// Conflicts returns the fields flagged unresolved-conflict, sorted.
func (r *ConsolidatedReport) Conflicts() []string {
	if r == nil {
		return nil
	}
	return flagged(r.Provenance)
}

// TemperatureReport is the temperature domain's merged result. Score is
// nil when no branch produced one.
type TemperatureReport struct {
	Score         *float64              `json:"score"`
	Trend         string                `json:"trend"`
	Label         string                `json:"label,omitempty"`
	Justification string                `json:"justification,omitempty"`
	Disagreement  bool                  `json:"disagreement"`
	Provenance    map[string]Provenance `json:"provenance,omitempty"`
	Omissions     []Omission            `json:"omissions,omitempty"`
}

// ComplianceReport is the guard's verdict on operator messages.
type ComplianceReport struct {
	Status    string     `json:"status"`
	Details   []string   `json:"details,omitempty"`
	Omissions []Omission `json:"omissions,omitempty"`
}

// Compliance statuses. Unknown means the guard did not answer.
const (
	ComplianceOK      = "OK"
	ComplianceFail    = "FAIL"
	ComplianceUnknown = "UNKNOWN"
)

// AuditVerdict is the audit gate's result.
type AuditVerdict struct {
	Pass       bool              `json:"pass"`
	Violations []agent.Violation `json:"violations,omitempty"`
	Repaired   bool              `json:"repaired,omitempty"`
}

// DecisionOutcome is the terminal artifact of a successful run.
type DecisionOutcome struct {
	Label     string          `json:"label"`
	Rule      string          `json:"rule,omitempty"`
	Tool      *store.ToolCall `json:"tool,omitempty"`
	Rationale string          `json:"rationale"`
}

func flagged(p map[string]Provenance) []string {
	var out []string
	for k, v := range p {
		if v == ProvenanceConflict {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// omissionFor returns the omission a result implies, or nil if the result
// can be consolidated.
func omissionFor(res agent.CallResult) *Omission {
	if res.Usable() {
		return nil
	}
	return &Omission{Branch: string(res.Role), Status: string(res.Status), Reason: res.Err}
}
