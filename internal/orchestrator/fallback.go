package orchestrator

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/vigil/internal/crm"
)

// FallbackSummary renders the entity as a fixed markdown template. It
// stands in for the synthesizer when that agent does not answer.
func FallbackSummary(e *crm.Entity) string {
	if e.Empty() {
		return NoContextSummary
	}
	var sb strings.Builder
	sb.WriteString("## CRM context\n\n")
	if p := e.Person; p != nil {
		fmt.Fprintf(&sb, "- Person: %s\n", p.Name)
		if p.Owner != "" {
			fmt.Fprintf(&sb, "- Owner: %s\n", p.Owner)
		}
		if len(p.Emails) > 0 {
			fmt.Fprintf(&sb, "- Emails: %s\n", strings.Join(p.Emails, ", "))
		}
		if len(p.Phones) > 0 {
			fmt.Fprintf(&sb, "- Phones: %s\n", strings.Join(p.Phones, ", "))
		}
	}
	if d := e.Deal; d != nil {
		fmt.Fprintf(&sb, "- Deal: %s (%s)\n", d.Title, d.Status)
		if d.Value != 0 {
			currency := d.Currency
			if currency == "" {
				currency = "BRL"
			}
			fmt.Fprintf(&sb, "- Value: %.2f %s\n", d.Value, currency)
		}
		if d.ProcessNumber != "" {
			fmt.Fprintf(&sb, "- Process: %s\n", d.ProcessNumber)
		}
		if d.NextActivity != "" {
			fmt.Fprintf(&sb, "- Next activity: %s\n", d.NextActivity)
		}
		if d.Notes != "" {
			fmt.Fprintf(&sb, "\n%s\n", strings.TrimSpace(d.Notes))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
