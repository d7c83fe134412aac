package orchestrator

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// CoherenceIssue is a cross-report inconsistency. Issues are advisory:
// they reach the log and the decision rationale and never block a run.
type CoherenceIssue struct {
	Check       string `json:"check"`
	Description string `json:"description"`
}

// CheckCoherence compares the analysis reports of a run with each other
// and with the context bundle.
func CheckCoherence(run *Run) []CoherenceIssue {
	var issues []CoherenceIssue
	status := closedStatus(run.Extraction)

	if status != "" && run.Temperature != nil && strings.EqualFold(run.Temperature.Label, "Critical") {
		issues = append(issues, CoherenceIssue{
			Check:       "closed-but-critical",
			Description: fmt.Sprintf("extraction reports %s while temperature is Critical", status),
		})
	}
	if status != "" && run.Temperature != nil && run.Temperature.Trend == TrendWorsening {
		issues = append(issues, CoherenceIssue{
			Check:       "closed-but-worsening",
			Description: fmt.Sprintf("extraction reports %s while the temperature trend is worsening", status),
		})
	}
	if status != "" && run.Compliance != nil && run.Compliance.Status == ComplianceFail {
		issues = append(issues, CoherenceIssue{
			Check:       "closed-under-breach",
			Description: fmt.Sprintf("extraction reports %s but an operator message breached the policy", status),
		})
	}
	if run.Context != nil && !run.Context.Found && status != "" {
		issues = append(issues, CoherenceIssue{
			Check:       "closed-without-crm",
			Description: "agreement reported for a conversation with no CRM record",
		})
	}
	return issues
}

// closedStatus returns the value of the first top-level status field that
// reads as a closed agreement, or "".
func closedStatus(rep *ConsolidatedReport) string {
	if rep == nil || len(rep.Payload) == 0 {
		return ""
	}
	var found string
	gjson.ParseBytes(rep.Payload).ForEach(func(k, v gjson.Result) bool {
		if strings.Contains(k.Str, "status") && v.Type == gjson.String && strings.Contains(strings.ToLower(v.Str), "closed") {
			found = v.Str
			return false
		}
		return true
	})
	return found
}
