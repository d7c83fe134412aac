package export

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/vigil/internal/store"
)

// GenerateMermaid produces a Mermaid stateDiagram of a run's transitions.
// Terminal states get an edge to [*]; notes become edge labels.
func GenerateMermaid(rec *store.RunRecord) string {
	var sb strings.Builder
	sb.WriteString("stateDiagram-v2\n")

	if len(rec.Transitions) == 0 {
		sb.WriteString(fmt.Sprintf("  [*] --> %s\n", stateID(rec.State)))
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("  [*] --> %s\n", stateID(rec.Transitions[0].From)))
	for _, tr := range rec.Transitions {
		line := fmt.Sprintf("  %s --> %s", stateID(tr.From), stateID(tr.To))
		if tr.Note != "" {
			line += " : " + shortNote(tr.Note)
		}
		sb.WriteString(line + "\n")
	}
	if !rec.EndedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("  %s --> [*]\n", stateID(rec.State)))
	}
	return sb.String()
}

// stateID maps a state name to a Mermaid identifier (no hyphens).
func stateID(state string) string {
	return strings.ReplaceAll(state, "-", "_")
}

// shortNote keeps edge labels to one readable line.
func shortNote(note string) string {
	note = strings.Join(strings.Fields(strings.ReplaceAll(note, ":", " ")), " ")
	if r := []rune(note); len(r) > 40 {
		return string(r[:40]) + "..."
	}
	return note
}
