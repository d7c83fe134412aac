package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dusk-indust/vigil/internal/crm"
	"github.com/dusk-indust/vigil/internal/department"
	"github.com/dusk-indust/vigil/internal/store"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var _ StageExecutor = (*decisionStage)(nil)

type decisionStage struct{}

func (decisionStage) Stage() string { return department.StageDecide }

// Execute evaluates the descriptor's rule table over the run's facts.
func (decisionStage) Execute(_ context.Context, run *Run) error {
	facts, err := BuildFacts(run)
	if err != nil {
		return err
	}
	out, err := Decide(run.Department.Decision, facts)
	if err != nil {
		return err
	}
	out.Rationale = Rationale(out.Rationale, run)
	run.Outcome = out
	return nil
}

// BuildFacts assembles the document decision conditions read:
//
//	extraction.*                         consolidated extraction payload
//	temperature.{score,trend,label,disagreement}
//	compliance.status
//	context.{found,lookup_key,lookup_method,deal_id,deal_title,person_id,person_name,person_phone}
//	provenance.{conflicts,omissions,conflict_fields}
func BuildFacts(run *Run) ([]byte, error) {
	doc := []byte(`{"extraction":{}}`)
	var err error
	set := func(path string, v any) {
		if err != nil {
			return
		}
		doc, err = sjson.SetBytes(doc, path, v)
	}

	if run.Extraction != nil && len(run.Extraction.Payload) > 0 {
		doc, err = sjson.SetRawBytes(doc, "extraction", run.Extraction.Payload)
	}

	conflicts := run.Extraction.Conflicts()
	omissions := 0
	if run.Extraction != nil {
		omissions += len(run.Extraction.Omissions)
	}
	if t := run.Temperature; t != nil {
		if t.Score != nil {
			set("temperature.score", *t.Score)
		} else {
			set("temperature.score", nil)
		}
		set("temperature.trend", t.Trend)
		set("temperature.label", t.Label)
		set("temperature.disagreement", t.Disagreement)
		omissions += len(t.Omissions)
		if t.Disagreement {
			conflicts = append(conflicts, "temperature.trend")
		}
	}
	if c := run.Compliance; c != nil {
		set("compliance.status", c.Status)
		omissions += len(c.Omissions)
	}

	found := run.Context != nil && run.Context.Found
	set("context.found", found)
	if found {
		set("context.lookup_key", run.Context.LookupKey)
		set("context.lookup_method", run.Context.LookupMethod)
		if e := run.Context.Entity; e != nil {
			if e.Deal != nil {
				set("context.deal_id", e.Deal.ID)
				set("context.deal_title", e.Deal.Title)
			}
			if e.Person != nil {
				set("context.person_id", e.Person.ID)
				set("context.person_name", e.Person.Name)
				if len(e.Person.Phones) > 0 {
					set("context.person_phone", crm.NormalizePhone(e.Person.Phones[0]))
				}
			}
		}
	}

	set("provenance.conflicts", len(conflicts))
	set("provenance.omissions", omissions)
	if len(conflicts) > 0 {
		set("provenance.conflict_fields", conflicts)
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decide: build facts: %w", err)
	}
	return doc, nil
}

// Decide returns the outcome of the first rule whose conditions all hold,
// else the descriptor default, else the built-in escalation. An unknown
// operator or a required tool argument with no value is an error.
func Decide(set department.DecisionSet, facts []byte) (*DecisionOutcome, error) {
	for i := range set.Rules {
		rule := &set.Rules[i]
		ok, err := matches(rule.When, facts)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decide: rule %s: %w", rule.Name, err)
		}
		if !ok {
			continue
		}
		return outcome(rule.Outcome, rule.Name, facts)
	}

	def := builtinDefault
	if set.Default != nil {
		def = *set.Default
	}
	return outcome(def, "", facts)
}

var builtinDefault = department.Outcome{
	Label: department.DefaultLabel,
	Tool: &department.ToolSpec{
		Name: "alert_supervisor",
		Args: map[string]string{"reason": "no decision rule matched"},
	},
	Rationale: "No decision rule matched; a supervisor should review.",
}

func outcome(o department.Outcome, rule string, facts []byte) (*DecisionOutcome, error) {
	out := &DecisionOutcome{Label: o.Label, Rule: rule, Rationale: o.Rationale}
	if o.Tool != nil {
		tool, err := ResolveTool(o.Tool, facts)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decide: %w", err)
		}
		out.Tool = tool
	}
	return out, nil
}

func matches(conds []department.Condition, facts []byte) (bool, error) {
	for _, c := range conds {
		ok, err := Evaluate(c, facts)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Evaluate tests one condition against the facts document.
func Evaluate(c department.Condition, facts []byte) (bool, error) {
	fact := gjson.GetBytes(facts, c.Fact)
	switch c.Op {
	case department.OpExists:
		return present(fact), nil
	case department.OpMissing:
		return !present(fact), nil
	case department.OpEq:
		return present(fact) && equalValue(fact, c.Value), nil
	case department.OpNe:
		return !(present(fact) && equalValue(fact, c.Value)), nil
	case department.OpIn:
		list, ok := c.Value.([]any)
		if !ok {
			return false, fmt.Errorf("operator in on %s needs a list", c.Fact)
		}
		if !present(fact) {
			return false, nil
		}
		for _, v := range list {
			if equalValue(fact, v) {
				return true, nil
			}
		}
		return false, nil
	case department.OpGt, department.OpGte, department.OpLt, department.OpLte:
		want, ok := toFloat(c.Value)
		if !ok {
			return false, fmt.Errorf("operator %s on %s needs a number", c.Op, c.Fact)
		}
		if fact.Type != gjson.Number {
			return false, nil
		}
		switch c.Op {
		case department.OpGt:
			return fact.Num > want, nil
		case department.OpGte:
			return fact.Num >= want, nil
		case department.OpLt:
			return fact.Num < want, nil
		default:
			return fact.Num <= want, nil
		}
	case department.OpContains:
		if !present(fact) {
			return false, nil
		}
		if fact.IsArray() {
			for _, el := range fact.Array() {
				if equalValue(el, c.Value) {
					return true, nil
				}
			}
			return false, nil
		}
		return strings.Contains(strings.ToLower(fact.String()), strings.ToLower(fmt.Sprint(c.Value))), nil
	default:
		return false, fmt.Errorf("unknown operator %q", c.Op)
	}
}

// ResolveTool fills a tool request from its template. Args starting with
// "$" are fact references.
func ResolveTool(spec *department.ToolSpec, facts []byte) (*store.ToolCall, error) {
	call := &store.ToolCall{Name: spec.Name, Args: map[string]any{}}
	for _, name := range sortedKeys(spec.Args) {
		v := spec.Args[name]
		ref, isRef := strings.CutPrefix(v, "$")
		if !isRef || ref == "" {
			call.Args[name] = v
			continue
		}
		fact := gjson.GetBytes(facts, ref)
		if present(fact) && !(fact.Type == gjson.String && strings.TrimSpace(fact.Str) == "") {
			call.Args[name] = fact.Value()
			continue
		}
		if spec.IsOptional(name) {
			continue
		}
		return nil, fmt.Errorf("tool %s: required arg %s: %s has no value", spec.Name, name, ref)
	}
	return call, nil
}

// Rationale extends a rule rationale with everything a reviewer must see:
// unresolved conflicts, omitted branches, consolidator notes and
// coherence findings.
func Rationale(base string, run *Run) string {
	var lines []string
	if b := strings.TrimSpace(base); b != "" {
		lines = append(lines, b)
	}

	conflicts := run.Extraction.Conflicts()
	if run.Temperature != nil && run.Temperature.Disagreement {
		conflicts = append(conflicts, "temperature.trend")
	}
	if len(conflicts) > 0 {
		lines = append(lines, "Unresolved conflicts: "+strings.Join(conflicts, ", ")+".")
	}

	var omitted []string
	for _, o := range allOmissions(run) {
		s := o.Branch + " (" + o.Status
		if o.Reason != "" {
			s += ": " + o.Reason
		}
		omitted = append(omitted, s+")")
	}
	if len(omitted) > 0 {
		lines = append(lines, "Omitted branches: "+strings.Join(omitted, ", ")+".")
	}

	if run.Extraction != nil && len(run.Extraction.Notes) > 0 {
		notes := make([]string, len(run.Extraction.Notes))
		for i, n := range run.Extraction.Notes {
			notes[i] = n.Field + ": " + n.Note
		}
		lines = append(lines, "Consolidator notes: "+strings.Join(notes, "; ")+".")
	}
	if len(run.Coherence) > 0 {
		found := make([]string, len(run.Coherence))
		for i, c := range run.Coherence {
			found[i] = c.Description
		}
		lines = append(lines, "Coherence: "+strings.Join(found, "; ")+".")
	}
	if run.Context != nil && run.Context.Degraded {
		lines = append(lines, "Context summary is a template fallback.")
	}
	return strings.Join(lines, "\n")
}

func allOmissions(run *Run) []Omission {
	var out []Omission
	if run.Extraction != nil {
		out = append(out, run.Extraction.Omissions...)
	}
	if run.Temperature != nil {
		out = append(out, run.Temperature.Omissions...)
	}
	if run.Compliance != nil {
		out = append(out, run.Compliance.Omissions...)
	}
	return out
}

// equalValue compares a fact with a descriptor literal. Strings compare
// case-insensitively.
func equalValue(fact gjson.Result, want any) bool {
	switch w := want.(type) {
	case nil:
		return fact.Type == gjson.Null
	case bool:
		return fact.IsBool() && fact.Bool() == w
	case string:
		if fact.Type == gjson.String {
			return strings.EqualFold(strings.TrimSpace(fact.Str), w)
		}
		return fact.Raw == w
	default:
		if f, ok := toFloat(w); ok {
			return fact.Type == gjson.Number && fact.Num == f
		}
		return fact.String() == fmt.Sprint(w)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
