// Package export renders stored runs for humans and downstream tools.
package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/store"
)

// RunExport is the top-level JSON export structure.
type RunExport struct {
	ExportedAt string           `json:"exportedAt"`
	Run        *store.RunRecord `json:"run"`
	Agents     []AgentExport    `json:"agents"`
	Omissions  []string         `json:"omissions,omitempty"`
}

// AgentExport summarizes one agent call of the audit trail.
type AgentExport struct {
	Role     string   `json:"role"`
	Status   string   `json:"status"`
	Attempts int      `json:"attempts"`
	Repaired bool     `json:"repaired,omitempty"`
	Duration string   `json:"duration"`
	Issues   []string `json:"issues,omitempty"`
}

// ExportRun builds a RunExport from a stored record.
func ExportRun(rec *store.RunRecord, now time.Time) *RunExport {
	out := &RunExport{
		ExportedAt: now.UTC().Format(time.RFC3339),
		Run:        rec,
		Agents:     make([]AgentExport, 0, len(rec.AuditTrail)),
	}
	for _, call := range rec.AuditTrail {
		out.Agents = append(out.Agents, agentExport(call))
		if !call.Usable() {
			out.Omissions = append(out.Omissions, fmt.Sprintf("%s: %s", call.Role, call.Status))
		}
	}
	return out
}

func agentExport(call agent.CallResult) AgentExport {
	a := AgentExport{
		Role:     string(call.Role),
		Status:   string(call.Status),
		Attempts: call.Attempts,
		Repaired: call.Repaired,
		Duration: call.Duration.Round(time.Millisecond).String(),
	}
	for _, v := range call.Violations {
		a.Issues = append(a.Issues, v.String())
	}
	if call.Err != "" {
		a.Issues = append(a.Issues, call.Err)
	}
	return a
}

// Marshal renders the export indented, ready to write to a file.
func Marshal(exp *RunExport) ([]byte, error) {
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: marshal run %s: %w", exp.Run.ID, err)
	}
	return append(data, '\n'), nil
}
