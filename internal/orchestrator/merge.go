package orchestrator

import (
	"reflect"
	"sort"
	"strings"

	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/department"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DomainExtraction names the extraction analysis domain.
const DomainExtraction = "extraction"

// MergeToT consolidates the explicit and inferred candidates field by
// field:
//
//	explicit only, or both equal   -> explicit value, explicit
//	inferred only                  -> inferred value, inferred
//	both present and different     -> explicit value, unresolved-conflict
//	neither                        -> null, no flag
//
// A value kept from a malformed candidate is flagged unresolved-conflict.
// Every schema leaf appears in the payload; intermediate objects exist only
// as the parents of leaves.
func MergeToT(schema agent.Schema, explicit, inferred agent.CallResult) *ConsolidatedReport {
	rep := newReport(department.VariantToT)
	addOmission(rep, explicit)
	addOmission(rep, inferred)

	ePayload := usablePayload(explicit)
	iPayload := usablePayload(inferred)

	out := []byte("{}")
	for _, path := range schema.Leaves() {
		e := lookup(ePayload, path)
		i := lookup(iPayload, path)
		switch {
		case present(e) && (!present(i) || sameValue(e, i)):
			out = setRaw(out, path, e.Raw)
			rep.Provenance[path] = provenanceOf(explicit, ProvenanceExplicit)
		case present(i) && !present(e):
			out = setRaw(out, path, i.Raw)
			rep.Provenance[path] = provenanceOf(inferred, ProvenanceInferred)
		case present(e) && present(i):
			out = setRaw(out, path, e.Raw)
			rep.Provenance[path] = ProvenanceConflict
		default:
			out = setRaw(out, path, "null")
		}
	}
	rep.Payload = out
	return rep
}

// MergeAdversarial consolidates the generator -> validator -> refiner
// chain. val and ref are nil when the step did not run.
//
//	refiner kept the generator value       -> explicit
//	refiner changed or added a value       -> inferred
//	validator flagged it, refiner kept it  -> unresolved-conflict
//
// Without a usable generator every field is null. Without a usable
// validator or refiner the generator output stands; refiner failure flags
// the fields the validator criticised.
func MergeAdversarial(schema agent.Schema, gen agent.CallResult, val, ref *agent.CallResult) *ConsolidatedReport {
	rep := newReport(department.VariantAdversarial)
	addOmission(rep, gen)
	if val != nil {
		addOmission(rep, *val)
	}
	if ref != nil {
		addOmission(rep, *ref)
	}

	leaves := schema.Leaves()
	if !gen.Usable() {
		out := []byte("{}")
		for _, path := range leaves {
			out = setRaw(out, path, "null")
		}
		rep.Payload = out
		return rep
	}

	issues := map[string]string{}
	if val != nil && val.Usable() {
		issues = criticised(val.Payload)
	}

	if ref == nil || !ref.Usable() {
		refinerFailed := ref != nil
		out := []byte("{}")
		for _, path := range leaves {
			g := lookup(gen.Payload, path)
			if !present(g) {
				out = setRaw(out, path, "null")
				continue
			}
			out = setRaw(out, path, g.Raw)
			_, flaggedField := issues[path]
			if refinerFailed && flaggedField {
				rep.Provenance[path] = ProvenanceConflict
			} else {
				rep.Provenance[path] = provenanceOf(gen, ProvenanceExplicit)
			}
		}
		rep.Payload = out
		rep.Notes = issueNotes(schema, issues)
		return rep
	}

	out := []byte("{}")
	for _, path := range leaves {
		r := lookup(ref.Payload, path)
		g := lookup(gen.Payload, path)
		_, flaggedField := issues[path]
		switch {
		case present(r) && present(g) && sameValue(r, g):
			out = setRaw(out, path, r.Raw)
			if flaggedField {
				rep.Provenance[path] = ProvenanceConflict
			} else {
				rep.Provenance[path] = provenanceOf(*ref, ProvenanceExplicit)
			}
		case present(r):
			out = setRaw(out, path, r.Raw)
			rep.Provenance[path] = provenanceOf(*ref, ProvenanceInferred)
		default:
			out = setRaw(out, path, "null")
		}
	}
	rep.Payload = out
	rep.Notes = issueNotes(schema, issues)
	return rep
}

// criticised maps each field the validator flagged to its critique.
func criticised(payload []byte) map[string]string {
	out := map[string]string{}
	for _, issue := range gjson.GetBytes(payload, "issues").Array() {
		field := strings.TrimSpace(issue.Get("field").String())
		if field == "" {
			continue
		}
		out[field] = issue.Get("critique").String()
	}
	return out
}

// issueNotes turns validator critiques of schema fields into notes.
func issueNotes(schema agent.Schema, issues map[string]string) []FieldNote {
	var out []FieldNote
	for _, path := range sortedKeys(issues) {
		if issues[path] != "" && schema.Has(path) {
			out = append(out, FieldNote{Field: path, Note: issues[path]})
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// parseNotes reads consolidator notes for the given fields.
func parseNotes(payload []byte, fields []string) []FieldNote {
	want := map[string]bool{}
	for _, f := range fields {
		want[f] = true
	}
	var out []FieldNote
	for _, n := range gjson.GetBytes(payload, "notes").Array() {
		field := n.Get("field").String()
		note := strings.TrimSpace(n.Get("note").String())
		if note == "" || !want[field] {
			continue
		}
		out = append(out, FieldNote{Field: field, Note: note})
	}
	return out
}

func newReport(variant string) *ConsolidatedReport {
	return &ConsolidatedReport{
		Domain:     DomainExtraction,
		Variant:    variant,
		Provenance: map[string]Provenance{},
	}
}

func addOmission(rep *ConsolidatedReport, res agent.CallResult) {
	if o := omissionFor(res); o != nil {
		rep.Omissions = append(rep.Omissions, *o)
	}
}

func usablePayload(res agent.CallResult) []byte {
	if !res.Usable() {
		return nil
	}
	return res.Payload
}

func provenanceOf(res agent.CallResult, p Provenance) Provenance {
	if res.Status == agent.StatusMalformed {
		return ProvenanceConflict
	}
	return p
}

func lookup(payload []byte, path string) gjson.Result {
	if len(payload) == 0 {
		return gjson.Result{}
	}
	return agent.Get(payload, path)
}

// present reports a non-null value.
func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

// sameValue compares two values; strings ignore case and outer spaces.
func sameValue(a, b gjson.Result) bool {
	if a.Type == gjson.String && b.Type == gjson.String {
		return strings.EqualFold(strings.TrimSpace(a.Str), strings.TrimSpace(b.Str))
	}
	return reflect.DeepEqual(a.Value(), b.Value())
}

func setRaw(doc []byte, path, raw string) []byte {
	out, err := sjson.SetRawBytes(doc, path, []byte(raw))
	if err != nil {
		return doc
	}
	return out
}
