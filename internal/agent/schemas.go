package agent

// Built-in output schemas for roles whose shape is fixed. Extraction
// schemas come from department descriptors.
var (
	SynthesizerSchema = Schema{
		Name: "context_summary",
		Fields: []Field{
			{Path: "summary", Type: TypeString, Required: true},
		},
	}

	ConsolidatorSchema = Schema{
		Name: "consolidation_notes",
		Fields: []Field{
			{Path: "notes", Type: TypeArray, Required: true},
		},
	}

	ValidatorSchema = Schema{
		Name: "critique",
		Fields: []Field{
			{Path: "is_valid", Type: TypeBoolean, Required: true},
			{Path: "issues", Type: TypeArray, Required: true},
		},
	}

	TemperatureSchema = Schema{
		Name: "temperature",
		Fields: []Field{
			{Path: "score", Type: TypeNumber, Required: true},
			{Path: "trend", Type: TypeString, Required: true, Enum: []string{"improving", "worsening", "stable"}},
			{Path: "label", Type: TypeString},
			{Path: "justification", Type: TypeString},
		},
	}

	GuardSchema = Schema{
		Name: "compliance",
		Fields: []Field{
			{Path: "compliance_status", Type: TypeString, Required: true, Enum: []string{"OK", "FAIL"}},
			{Path: "details", Type: TypeArray},
		},
	}
)

// TemperatureLabel maps a 0-10 score to its label.
func TemperatureLabel(score float64) string {
	switch {
	case score <= 3:
		return "Critical"
	case score <= 5:
		return "Tense"
	case score <= 7:
		return "Neutral"
	default:
		return "Positive"
	}
}
