// Package department describes pipeline variants as data. A descriptor
// names the sources it serves, the ordered stage list, the agent roster of
// each analysis domain and the decision rule table. Descriptors are loaded
// once at startup from the embedded defaults and an optional directory.
package department

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/errors"
)

// Stage names accepted in a descriptor's stage list.
const (
	StageEnrich  = "enrich"
	StageAnalyze = "analyze"
	StageAudit   = "audit"
	StageDecide  = "decide"
)

// Extraction consolidation variants.
const (
	VariantToT         = "tot"
	VariantAdversarial = "adversarial"
)

// Lookup key derivations for enrichment.
const (
	LookupPhone   = "phone"
	LookupSubject = "subject"
)

// Condition operators.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpIn       = "in"
	OpExists   = "exists"
	OpMissing  = "missing"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpContains = "contains"
)

// DefaultLabel is the safe decision when no rule matches and the
// descriptor names no default.
const DefaultLabel = "escalate-to-human"

// Descriptor is one department: a stage graph bound to source tags.
type Descriptor struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description,omitempty"`
	Sources     []string    `yaml:"sources" json:"sources"`
	Stages      []string    `yaml:"stages" json:"stages"`
	Enrichment  Enrichment  `yaml:"enrichment" json:"enrichment"`
	Extraction  Extraction  `yaml:"extraction" json:"extraction"`
	Temperature *Domain     `yaml:"temperature" json:"temperature,omitempty"`
	Compliance  *Domain     `yaml:"compliance" json:"compliance,omitempty"`
	Decision    DecisionSet `yaml:"decision" json:"decision"`
}

// GetName implements the directory loader's naming hook.
func (d Descriptor) GetName() string { return d.Name }

// Has reports whether stage is in the stage list.
func (d *Descriptor) Has(stage string) bool {
	for _, s := range d.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// Enrichment configures the context stage.
type Enrichment struct {
	Lookup   string `yaml:"lookup" json:"lookup"`
	Template string `yaml:"template" json:"template"`
}

// Extraction configures the extraction domain.
type Extraction struct {
	Variant  string       `yaml:"variant" json:"variant"`
	Template string       `yaml:"template" json:"template"`
	Schema   agent.Schema `yaml:"schema" json:"schema"`
}

// Domain configures an analysis domain with a fixed role set.
type Domain struct {
	Template string `yaml:"template" json:"template"`
}

// DecisionSet is the ordered rule table. The first matching rule wins.
type DecisionSet struct {
	Rules   []Rule   `yaml:"rules" json:"rules"`
	Default *Outcome `yaml:"default" json:"default,omitempty"`
}

// Rule selects an outcome when every condition holds.
type Rule struct {
	Outcome `yaml:",inline"`

	Name string      `yaml:"name" json:"name"`
	When []Condition `yaml:"when" json:"when"`
}

// Outcome is a decision label with an optional tool request.
type Outcome struct {
	Label     string    `yaml:"label" json:"label"`
	Tool      *ToolSpec `yaml:"tool" json:"tool,omitempty"`
	Rationale string    `yaml:"rationale" json:"rationale,omitempty"`
}

// Condition tests one fact.
type Condition struct {
	Fact  string `yaml:"fact" json:"fact"`
	Op    string `yaml:"op" json:"op"`
	Value any    `yaml:"value" json:"value,omitempty"`
}

// ToolSpec is a tool request template. Arg values starting with "$" are
// fact references; a reference that resolves to nothing is an error unless
// the arg is listed in Optional.
type ToolSpec struct {
	Name     string            `yaml:"name" json:"name"`
	Args     map[string]string `yaml:"args" json:"args"`
	Optional []string          `yaml:"optional" json:"optional,omitempty"`
}

// IsOptional reports whether arg may resolve to nothing.
func (t *ToolSpec) IsOptional(arg string) bool {
	for _, o := range t.Optional {
		if o == arg {
			return true
		}
	}
	return false
}

var knownOps = map[string]bool{
	OpEq: true, OpNe: true, OpIn: true, OpExists: true, OpMissing: true,
	OpGt: true, OpGte: true, OpLt: true, OpLte: true, OpContains: true,
}

// KnownOp reports whether op is a condition operator.
func KnownOp(op string) bool { return knownOps[op] }

var stageOrder = map[string]int{StageEnrich: 0, StageAnalyze: 1, StageAudit: 2, StageDecide: 3}

// Validate checks the descriptor and returns every problem found.
func (d *Descriptor) Validate() errors.ValidationErrors {
	var errs errors.ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, errors.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(d.Name) == "" {
		add("name", "is required")
	}
	if len(d.Sources) == 0 {
		add("sources", "at least one source tag is required")
	}

	last := -1
	seen := map[string]bool{}
	for _, s := range d.Stages {
		pos, ok := stageOrder[s]
		switch {
		case !ok:
			add("stages", "unknown stage %q", s)
			continue
		case seen[s]:
			add("stages", "stage %q listed twice", s)
		case pos < last:
			add("stages", "stage %q out of order", s)
		}
		seen[s] = true
		last = pos
	}
	if !d.Has(StageAnalyze) {
		add("stages", "analyze is required")
	}
	if !d.Has(StageAudit) {
		add("stages", "audit is required")
	}
	if !d.Has(StageDecide) {
		add("stages", "decide is required")
	}

	if d.Has(StageEnrich) {
		switch d.Enrichment.Lookup {
		case LookupPhone, LookupSubject:
		default:
			add("enrichment.lookup", "must be %s or %s", LookupPhone, LookupSubject)
		}
	}

	switch d.Extraction.Variant {
	case VariantToT, VariantAdversarial:
	default:
		add("extraction.variant", "must be %s or %s", VariantToT, VariantAdversarial)
	}
	if len(d.Extraction.Schema.Fields) == 0 {
		add("extraction.schema", "at least one field is required")
	}
	for i, f := range d.Extraction.Schema.Fields {
		if f.Path == "" {
			add(fmt.Sprintf("extraction.schema.fields[%d]", i), "path is required")
		}
		switch f.Type {
		case agent.TypeString, agent.TypeNumber, agent.TypeInteger, agent.TypeBoolean,
			agent.TypeObject, agent.TypeArray, agent.TypeAny:
		default:
			add(fmt.Sprintf("extraction.schema.fields[%d]", i), "unknown type %q", f.Type)
		}
	}

	for i, r := range d.Decision.Rules {
		field := fmt.Sprintf("decision.rules[%d]", i)
		if r.Name == "" {
			add(field, "name is required")
		}
		if r.Label == "" {
			add(field, "label is required")
		}
		for _, c := range r.When {
			if c.Fact == "" {
				add(field, "condition fact is required")
			}
			if !KnownOp(c.Op) {
				add(field, "unknown operator %q", c.Op)
			}
		}
		if r.Tool != nil && r.Tool.Name == "" {
			add(field, "tool name is required")
		}
	}
	if d.Decision.Default != nil && d.Decision.Default.Label == "" {
		add("decision.default", "label is required")
	}
	return errs
}
