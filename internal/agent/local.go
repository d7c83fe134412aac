package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Compile-time interface check.
var _ Provider = (*LocalProvider)(nil)

// LocalProvider answers every role in-process with deterministic
// heuristics. It stands in for a model provider in local runs and backs
// the agents started by "vigil agents serve".
type LocalProvider struct {
	heuristics map[Role]heuristic
}

type heuristic func(in gjson.Result) ([]byte, error)

// NewLocalProvider creates a provider with a heuristic for every role.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{heuristics: map[Role]heuristic{
		RoleSynthesizer:  synthesize,
		RoleExplicit:     func(in gjson.Result) ([]byte, error) { return extract(in, false) },
		RoleInferred:     func(in gjson.Result) ([]byte, error) { return extract(in, true) },
		RoleGenerator:    func(in gjson.Result) ([]byte, error) { return extract(in, true) },
		RoleConsolidator: consolidateNotes,
		RoleValidator:    critique,
		RoleRefiner:      refine,
		RoleLexical:      lexical,
		RoleBehavioral:   behavioral,
		RoleManager:      manage,
		RoleGuard:        guard,
	}}
}

// Call implements Provider.
func (p *LocalProvider) Call(ctx context.Context, pr Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h, ok := p.heuristics[pr.Role]
	if !ok {
		return "", fmt.Errorf("agent: local provider has no role %q", pr.Role)
	}
	data, err := json.Marshal(pr.Input)
	if err != nil {
		return "", fmt.Errorf("agent: encode input: %w", err)
	}
	out, err := h(gjson.ParseBytes(data))
	if err != nil {
		return "", fmt.Errorf("agent: %s heuristic: %w", pr.Role, err)
	}
	return string(out), nil
}

var (
	moneyRe = regexp.MustCompile(`R\$\s?(\d{1,3}(?:\.\d{3})+(?:,\d{2})?|\d+(?:,\d{2})?)`)
	dateRe  = regexp.MustCompile(`\b(\d{2})/(\d{2})/(\d{4})\b`)

	agreeWords    = []string{"aceito", "concordo", "fechado", "de acordo", "agreed", "accept", "deal"}
	refuseWords   = []string{"recuso", "não aceito", "nao aceito", "refuse", "reject", "no deal"}
	positiveWords = []string{"obrigado", "ótimo", "otimo", "perfeito", "aceito", "concordo", "bom", "thanks", "great", "perfect", "ok"}
	negativeWords = []string{"absurdo", "nunca", "processo", "advogado", "reclamação", "reclamacao", "péssimo", "pessimo", "caro", "não", "nao", "angry", "never", "lawyer", "complaint", "terrible"}
	riskyPhrases  = []string{"garantimos", "100% garantido", "prisão", "prisao", "nome sujo para sempre", "guaranteed", "you will be arrested"}
)

// parseMoney converts "1.234,56" to 1234.56.
func parseMoney(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func amounts(text string) []float64 {
	var out []float64
	for _, m := range moneyRe.FindAllStringSubmatch(text, -1) {
		if v, ok := parseMoney(m[1]); ok {
			out = append(out, v)
		}
	}
	return out
}

func dates(text string) []string {
	var out []string
	for _, m := range dateRe.FindAllStringSubmatch(text, -1) {
		out = append(out, m[3]+"-"+m[2]+"-"+m[1])
	}
	return out
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func countAny(text string, words []string) int {
	n := 0
	for _, w := range words {
		n += strings.Count(text, w)
	}
	return n
}

func isDateField(path string) bool {
	p := strings.ToLower(path)
	return strings.Contains(p, "date") || strings.Contains(p, "data") || strings.Contains(p, "prazo")
}

// extract fills schema fields from the transcript. The explicit reading
// takes the first stated amount or date and never guesses; the inferred
// reading takes the latest one and derives booleans from agreement words.
func extract(in gjson.Result, infer bool) ([]byte, error) {
	text := in.Get("transcript").String()
	lower := strings.ToLower(text)
	money := amounts(text)
	ds := dates(text)

	out := []byte("{}")
	var err error
	for _, f := range in.Get("schema.fields").Array() {
		path := f.Get("path").String()
		typ := FieldType(f.Get("type").String())
		if typ == TypeObject {
			continue
		}

		var v any
		switch {
		case (typ == TypeNumber || typ == TypeInteger) && len(money) > 0:
			amount := pick(money, infer)
			if typ == TypeInteger {
				v = math.Round(amount)
			} else {
				v = amount
			}
		case typ == TypeString && isDateField(path) && len(ds) > 0:
			v = pick(ds, infer)
		case typ == TypeString && f.Get("enum").IsArray():
			v = matchEnum(lower, f.Get("enum").Array(), infer)
		case typ == TypeBoolean && infer:
			switch {
			case containsAny(lower, refuseWords):
				v = false
			case containsAny(lower, agreeWords):
				v = true
			}
		}
		if out, err = sjson.SetBytes(out, path, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// matchEnum returns the first option literally present in text. When
// inferring, agreement or refusal wording selects a closing or rejecting
// option instead.
func matchEnum(text string, options []gjson.Result, infer bool) any {
	for _, opt := range options {
		if strings.Contains(text, strings.ToLower(strings.ReplaceAll(opt.String(), "_", " "))) {
			return opt.String()
		}
	}
	if !infer {
		return nil
	}
	var hints []string
	switch {
	case containsAny(text, refuseWords):
		hints = []string{"reject", "stalled"}
	case containsAny(text, agreeWords):
		hints = []string{"closed", "accept"}
	default:
		return nil
	}
	for _, opt := range options {
		if containsAny(strings.ToLower(opt.String()), hints) {
			return opt.String()
		}
	}
	return nil
}

func pick[T any](xs []T, last bool) T {
	if last {
		return xs[len(xs)-1]
	}
	return xs[0]
}

// consolidateNotes explains each field where the explicit and inferred
// candidates disagree.
func consolidateNotes(in gjson.Result) ([]byte, error) {
	explicit := in.Get("candidates.explicit")
	inferred := in.Get("candidates.inferred")
	notes := []map[string]string{}
	for _, f := range in.Get("schema.fields").Array() {
		path := f.Get("path").String()
		e, i := explicit.Get(path), inferred.Get(path)
		if !present(e) || !present(i) || e.Raw == i.Raw {
			continue
		}
		notes = append(notes, map[string]string{
			"field": path,
			"note":  fmt.Sprintf("transcript states %s; inference suggests %s", e.Raw, i.Raw),
		})
	}
	return json.Marshal(map[string]any{"notes": notes})
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

// critique flags required fields the generator left empty and values that
// differ from what the transcript states explicitly.
func critique(in gjson.Result) ([]byte, error) {
	gen := in.Get("candidates.generator")
	stated, err := extract(in, false)
	if err != nil {
		return nil, err
	}
	issues := []map[string]any{}
	for _, f := range in.Get("schema.fields").Array() {
		path := f.Get("path").String()
		if FieldType(f.Get("type").String()) == TypeObject {
			continue
		}
		g, s := gen.Get(path), gjson.GetBytes(stated, path)
		switch {
		case !present(g) && f.Get("required").Bool() && present(s):
			issues = append(issues, map[string]any{
				"field": path, "critique": "stated in the conversation but missing", "suggested_correction": s.Value(),
			})
		case present(g) && present(s) && g.Raw != s.Raw:
			issues = append(issues, map[string]any{
				"field": path, "critique": "differs from the explicitly stated value", "suggested_correction": s.Value(),
			})
		}
	}
	return json.Marshal(map[string]any{"is_valid": len(issues) == 0, "issues": issues})
}

// refine applies the validator's suggested corrections to the generator
// output.
func refine(in gjson.Result) ([]byte, error) {
	out := []byte(in.Get("candidates.generator").Raw)
	if !gjson.ValidBytes(out) || len(out) == 0 {
		out = []byte("{}")
	}
	var err error
	for _, issue := range in.Get("candidates.validator.issues").Array() {
		fix := issue.Get("suggested_correction")
		if !present(fix) {
			continue
		}
		if out, err = sjson.SetRawBytes(out, issue.Get("field").String(), []byte(fix.Raw)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func trendOf(delta float64) string {
	switch {
	case delta > 0:
		return "improving"
	case delta < 0:
		return "worsening"
	default:
		return "stable"
	}
}

// lexical scores client wording: positive minus negative keyword hits,
// with the trend taken from the second half against the first.
func lexical(in gjson.Result) ([]byte, error) {
	var client []string
	for _, m := range in.Get("messages").Array() {
		if m.Get("fromClient").Bool() {
			client = append(client, strings.ToLower(m.Get("text").String()))
		}
	}
	polarity := func(msgs []string) float64 {
		var p float64
		for _, t := range msgs {
			p += float64(countAny(t, positiveWords) - countAny(t, negativeWords))
		}
		return p
	}

	half := len(client) / 2
	score := clamp(5+polarity(client), 0, 10)
	trend := trendOf(polarity(client[half:]) - polarity(client[:half]))
	return json.Marshal(map[string]any{
		"score":         score,
		"trend":         trend,
		"label":         TemperatureLabel(score),
		"justification": fmt.Sprintf("%d client messages, polarity %.0f", len(client), polarity(client)),
	})
}

// behavioral scores engagement from timing: replies speeding up improve
// the trend, slowing down worsens it.
func behavioral(in gjson.Result) ([]byte, error) {
	var stamps []time.Time
	for _, m := range in.Get("messages").Array() {
		stamps = append(stamps, m.Get("timestamp").Time())
	}
	var gaps []float64
	for i := 1; i < len(stamps); i++ {
		gaps = append(gaps, stamps[i].Sub(stamps[i-1]).Seconds())
	}

	score := 5.0
	trend := "stable"
	if len(gaps) >= 2 {
		half := len(gaps) / 2
		early, late := mean(gaps[:half]), mean(gaps[half:])
		switch {
		case late < early*0.8:
			trend = "improving"
			score += 2
		case late > early*1.2:
			trend = "worsening"
			score -= 2
		}
	}
	if in.Get("metadata.hasAttachments").Bool() {
		score++
	}
	if in.Get("metadata.importance").String() == "high" {
		score--
	}
	total := in.Get("metadata.totalMessages").Int()
	if total > 0 && in.Get("metadata.clientMessages").Int() == 0 {
		score -= 2
	}
	score = clamp(score, 0, 10)
	return json.Marshal(map[string]any{
		"score":         score,
		"trend":         trend,
		"label":         TemperatureLabel(score),
		"justification": fmt.Sprintf("%d messages, %d reply gaps", total, len(gaps)),
	})
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// manage merges the lexical and behavioral readings.
func manage(in gjson.Result) ([]byte, error) {
	var scores []float64
	var trends []string
	for _, role := range []string{"lexical", "behavioral"} {
		c := in.Get("candidates." + role)
		if !c.Exists() {
			continue
		}
		scores = append(scores, c.Get("score").Float())
		trends = append(trends, c.Get("trend").String())
	}
	trend := "stable"
	if len(trends) > 0 {
		trend = trends[0]
		for _, t := range trends[1:] {
			if t != trend {
				trend = "stable"
			}
		}
	}
	score := math.Round(mean(scores)*10) / 10
	return json.Marshal(map[string]any{
		"score":         score,
		"trend":         trend,
		"label":         TemperatureLabel(score),
		"justification": fmt.Sprintf("merged %d readings", len(scores)),
	})
}

// guard flags operator messages that promise or threaten beyond policy.
func guard(in gjson.Result) ([]byte, error) {
	details := []string{}
	for _, m := range in.Get("messages").Array() {
		if m.Get("fromClient").Bool() {
			continue
		}
		text := strings.ToLower(m.Get("text").String())
		for _, phrase := range riskyPhrases {
			if strings.Contains(text, phrase) {
				details = append(details, fmt.Sprintf("%s: %q", m.Get("sender").String(), phrase))
			}
		}
	}
	status := "OK"
	if len(details) > 0 {
		status = "FAIL"
	}
	return json.Marshal(map[string]any{"compliance_status": status, "details": details})
}

// synthesize writes a one-paragraph brief from a CRM entity.
func synthesize(in gjson.Result) ([]byte, error) {
	person := in.Get("entity.person")
	deal := in.Get("entity.deal")
	var parts []string
	if person.Exists() {
		s := "Client " + person.Get("name").String()
		if owner := person.Get("owner").String(); owner != "" {
			s += " is handled by " + owner
		}
		parts = append(parts, s+".")
	}
	if deal.Exists() {
		parts = append(parts, fmt.Sprintf("Deal %q is %s, valued at %s %.2f.",
			deal.Get("title").String(), deal.Get("status").String(),
			deal.Get("currency").String(), deal.Get("value").Float()))
		if next := deal.Get("nextActivity").String(); next != "" {
			parts = append(parts, "Next activity: "+next+".")
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "No CRM context found for this conversation.")
	}
	return json.Marshal(map[string]string{"summary": strings.Join(parts, " ")})
}
