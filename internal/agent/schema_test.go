package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var extractionSchema = Schema{
	Name: "extraction",
	Fields: []Field{
		{Path: "deal", Type: TypeObject},
		{Path: "deal.value", Type: TypeNumber, Required: true, Nullable: true},
		{Path: "deal.installments", Type: TypeInteger},
		{Path: "status", Type: TypeString, Required: true, Enum: []string{"open", "closed"}},
		{Path: "tags", Type: TypeArray},
	},
}

func TestSchema_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{"valid", `{"deal":{"value":10.5,"installments":3},"status":"Open","tags":[]}`, nil},
		{"null allowed", `{"deal":{"value":null},"status":"closed"}`, nil},
		{"missing required", `{"status":"open"}`, []string{"deal.value"}},
		{"wrong type", `{"deal":{"value":"10"},"status":"open"}`, []string{"deal.value"}},
		{"fractional integer", `{"deal":{"value":1,"installments":2.5},"status":"open"}`, []string{"deal.installments"}},
		{"enum", `{"deal":{"value":1},"status":"pending"}`, []string{"status"}},
		{"null not allowed", `{"deal":{"value":1},"status":null}`, []string{"status"}},
		{"not an object", `[1,2]`, []string{"$"}},
		{"empty", ``, []string{"$"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, v := range extractionSchema.Validate([]byte(tt.payload)) {
				got = append(got, v.Path)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchema_LeavesAndHas(t *testing.T) {
	assert.Equal(t, []string{"deal.value", "deal.installments", "status", "tags"}, extractionSchema.Leaves())
	assert.True(t, extractionSchema.Has("deal"))
	assert.False(t, extractionSchema.Has("deal.currency"))
}

func TestSchema_Hint(t *testing.T) {
	hint := extractionSchema.Hint()
	assert.Contains(t, hint, "(extraction)")
	assert.Contains(t, hint, "- deal.value (number, required, null if not stated)")
	assert.Contains(t, hint, "- status (string, required) one of open|closed")
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Here you go: {\"a\":1} hope it helps", `{"a":1}`},
		{"trailing commas", `{"a":[1,2,],"b":{"c":3,},}`, `{"a":[1,2],"b":{"c":3}}`},
		{"newline in string", "{\"a\":\"line1\nline2\"}", `{"a":"line1\nline2"}`},
		{"escaped quote", `{"a":"say \"hi\"\n"}`, `{"a":"say \"hi\"\n"}`},
		{"no braces", "  nothing here ", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSON(tt.in))
		})
	}
}

func TestGet_NestedPath(t *testing.T) {
	r := Get([]byte(`{"deal":{"value":42}}`), "deal.value")
	require.True(t, r.Exists())
	assert.Equal(t, int64(42), r.Int())
}
