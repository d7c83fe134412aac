package department

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	names := []string{}
	for _, d := range c.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"negotiation-chat", "negotiation-email"}, names)

	chat, err := c.Lookup("WhatsApp")
	require.NoError(t, err)
	assert.Equal(t, "negotiation-chat", chat.Name)
	assert.Equal(t, VariantToT, chat.Extraction.Variant)
	assert.NotNil(t, chat.Compliance)
	assert.True(t, chat.Extraction.Schema.Has("deadlines.agreed_date"))
	assert.Equal(t, "embedded:negotiation-chat", c.Origin("negotiation-chat"))

	email, err := c.Lookup("email")
	require.NoError(t, err)
	assert.Equal(t, VariantAdversarial, email.Extraction.Variant)
	assert.Equal(t, LookupSubject, email.Enrichment.Lookup)
	assert.Nil(t, email.Compliance)
	require.NotNil(t, email.Decision.Default)
	assert.Equal(t, DefaultLabel, email.Decision.Default.Label)

	_, err = c.Lookup("sms")
	assert.ErrorIs(t, err, errors.ErrUnknownDepartment)
	_, err = c.Get("nope")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestLoad_DefaultRuleShape(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	chat, err := c.Get("negotiation-chat")
	require.NoError(t, err)

	var closed *Rule
	for i := range chat.Decision.Rules {
		if chat.Decision.Rules[i].Name == "agreement-closed" {
			closed = &chat.Decision.Rules[i]
		}
	}
	require.NotNil(t, closed)
	assert.Equal(t, "monitor-payment", closed.Label)
	require.NotNil(t, closed.Tool)
	assert.Equal(t, "$extraction.deadlines.agreed_date", closed.Tool.Args["due_date"])
	assert.True(t, closed.Tool.IsOptional("note"))
	assert.False(t, closed.Tool.IsOptional("due_date"))
}

const overrideYAML = `
name: negotiation-email
sources: [email]
stages: [analyze, audit, decide]
extraction:
  variant: adversarial
  schema:
    name: tiny
    fields:
      - {path: status, type: string, required: true}
decision:
  rules: []
`

func TestLoad_DirOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "email.yaml")
	require.NoError(t, os.WriteFile(path, []byte(overrideYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_draft.yaml"), []byte("not: [valid"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	c, err := Load(dir)
	require.NoError(t, err)
	email, err := c.Lookup("email")
	require.NoError(t, err)
	assert.Equal(t, []string{StageAnalyze, StageAudit, StageDecide}, email.Stages)
	assert.False(t, email.Has(StageEnrich))
	assert.Equal(t, path, c.Origin("negotiation-email"))
}

func TestLoad_MissingDir(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Len(t, c.List(), 2)
}

func TestNewCatalog_SourceClash(t *testing.T) {
	a := validDescriptor("a")
	b := validDescriptor("b")
	_, err := NewCatalog([]Descriptor{a, b}, nil)
	assert.ErrorIs(t, err, errors.ErrInvalidDescriptor)
}

func validDescriptor(name string) Descriptor {
	return Descriptor{
		Name:    name,
		Sources: []string{"chat"},
		Stages:  []string{StageAnalyze, StageAudit, StageDecide},
		Extraction: Extraction{
			Variant: VariantToT,
			Schema:  agent.Schema{Name: "x", Fields: []agent.Field{{Path: "status", Type: agent.TypeString}}},
		},
	}
}

func TestValidate(t *testing.T) {
	d := validDescriptor("ok")
	assert.Empty(t, d.Validate())

	bad := Descriptor{
		Stages: []string{StageDecide, StageAnalyze, "dream", StageEnrich},
		Extraction: Extraction{
			Variant: "vote",
			Schema:  agent.Schema{Fields: []agent.Field{{Path: "", Type: "date"}}},
		},
		Decision: DecisionSet{
			Rules:   []Rule{{When: []Condition{{Fact: "x", Op: "approx"}}}},
			Default: &Outcome{},
		},
	}
	errs := bad.Validate()
	fields := map[string]int{}
	for _, e := range errs {
		fields[e.Field]++
	}
	assert.Equal(t, 1, fields["name"])
	assert.Equal(t, 1, fields["sources"])
	assert.GreaterOrEqual(t, fields["stages"], 3)
	assert.Equal(t, 1, fields["enrichment.lookup"])
	assert.Equal(t, 1, fields["extraction.variant"])
	assert.Equal(t, 2, fields["extraction.schema.fields[0]"])
	assert.Equal(t, 3, fields["decision.rules[0]"])
	assert.Equal(t, 1, fields["decision.default"])
	assert.Contains(t, errs.Error(), `unknown operator "approx"`)
}
