package mcptools

// --- MCP tool types ---
// Timestamps are RFC 3339 strings so the inferred output schemas stay flat.

// TriggerRunInput is the input for the trigger_run tool.
type TriggerRunInput struct {
	ConversationID  string `json:"conversation_id" jsonschema:"conversation identifier (chat JID or email thread id)"`
	Source          string `json:"source" jsonschema:"source tag: chat, whatsapp or email"`
	SnapshotVersion int64  `json:"snapshot_version" jsonschema:"snapshot version to analyze"`
}

// GetRunInput is the input for the get_run tool.
type GetRunInput struct {
	RunID string `json:"run_id" jsonschema:"run identifier returned by trigger_run or list_runs"`
}

// GetRunOutput carries the full persisted run record.
type GetRunOutput struct {
	Run map[string]any `json:"run"`
}

// ListRunsInput is the input for the list_runs tool.
type ListRunsInput struct {
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"only runs for this conversation"`
	Department     string `json:"department,omitempty" jsonschema:"only runs of this department"`
	State          string `json:"state,omitempty" jsonschema:"only runs in this state"`
	Limit          int    `json:"limit,omitempty" jsonschema:"maximum number of runs (default 50)"`
}

// ListRunsOutput is the result of the list_runs tool.
type ListRunsOutput struct {
	Runs []RunSummary `json:"runs"`
}

// RunSummary is a brief overview of one run.
type RunSummary struct {
	RunID           string `json:"run_id"`
	ConversationID  string `json:"conversation_id"`
	Department      string `json:"department"`
	SnapshotVersion int64  `json:"snapshot_version"`
	State           string `json:"state"`
	Authoritative   bool   `json:"authoritative"`
	SupersededBy    string `json:"superseded_by,omitempty"`
	Label           string `json:"label,omitempty"`
	Tool            string `json:"tool,omitempty"`
	Error           string `json:"error,omitempty"`
	StartedAt       string `json:"started_at"`
	EndedAt         string `json:"ended_at,omitempty"`
}

// ListDepartmentsInput is the input for the list_departments tool.
type ListDepartmentsInput struct{}

// ListDepartmentsOutput is the result of the list_departments tool.
type ListDepartmentsOutput struct {
	Departments []DepartmentSummary `json:"departments"`
}

// DepartmentSummary describes one loaded department descriptor.
type DepartmentSummary struct {
	Name       string   `json:"name"`
	Sources    []string `json:"sources"`
	Stages     []string `json:"stages"`
	Variant    string   `json:"variant"`
	Compliance bool     `json:"compliance"`
	Origin     string   `json:"origin"`
}
