package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dusk-indust/vigil/internal/department"
	"github.com/dusk-indust/vigil/internal/orchestrator"
	"github.com/dusk-indust/vigil/internal/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultListLimit = 50

// Runner is the part of the pipeline coordinator the tools drive.
type Runner interface {
	Trigger(ctx context.Context, trig orchestrator.Trigger) (*store.RunRecord, error)
	Store() store.Store
	Catalog() *department.Catalog
}

var _ Runner = (*orchestrator.Coordinator)(nil)

// RunService handles MCP tool calls against a pipeline coordinator.
type RunService struct {
	runner Runner
}

// NewRunService creates a RunService backed by runner.
func NewRunService(runner Runner) *RunService {
	return &RunService{runner: runner}
}

// TriggerRun executes the pipeline for one snapshot and returns the
// terminal run summary.
func (s *RunService) TriggerRun(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input TriggerRunInput,
) (*mcp.CallToolResult, RunSummary, error) {
	if strings.TrimSpace(input.ConversationID) == "" {
		return nil, RunSummary{}, fmt.Errorf("conversation_id is required")
	}
	if strings.TrimSpace(input.Source) == "" {
		return nil, RunSummary{}, fmt.Errorf("source is required")
	}

	rec, err := s.runner.Trigger(ctx, orchestrator.Trigger{
		ConversationID:  input.ConversationID,
		SourceTag:       input.Source,
		SnapshotVersion: input.SnapshotVersion,
	})
	if err != nil {
		return nil, RunSummary{}, fmt.Errorf("trigger run: %w", err)
	}
	return nil, summarize(rec), nil
}

// GetRun returns the full record of one run.
func (s *RunService) GetRun(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetRunInput,
) (*mcp.CallToolResult, GetRunOutput, error) {
	if input.RunID == "" {
		return nil, GetRunOutput{}, fmt.Errorf("run_id is required")
	}
	rec, err := s.runner.Store().GetRun(ctx, input.RunID)
	if err != nil {
		return nil, GetRunOutput{}, fmt.Errorf("get run: %w", err)
	}

	// Round-trip through JSON so embedded payloads surface as objects.
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, GetRunOutput{}, fmt.Errorf("encode run: %w", err)
	}
	var run map[string]any
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, GetRunOutput{}, fmt.Errorf("decode run: %w", err)
	}
	return nil, GetRunOutput{Run: run}, nil
}

// ListRuns returns run summaries, newest first.
func (s *RunService) ListRuns(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListRunsInput,
) (*mcp.CallToolResult, ListRunsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	recs, err := s.runner.Store().ListRuns(ctx, store.RunFilter{
		ConversationID: input.ConversationID,
		Department:     input.Department,
		State:          input.State,
		Limit:          limit,
	})
	if err != nil {
		return nil, ListRunsOutput{}, fmt.Errorf("list runs: %w", err)
	}

	out := ListRunsOutput{Runs: make([]RunSummary, 0, len(recs))}
	for i := range recs {
		out.Runs = append(out.Runs, summarize(&recs[i]))
	}
	return nil, out, nil
}

// ListDepartments reports the loaded department descriptors.
func (s *RunService) ListDepartments(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ ListDepartmentsInput,
) (*mcp.CallToolResult, ListDepartmentsOutput, error) {
	catalog := s.runner.Catalog()
	var out ListDepartmentsOutput
	for _, d := range catalog.List() {
		out.Departments = append(out.Departments, DepartmentSummary{
			Name:       d.Name,
			Sources:    d.Sources,
			Stages:     d.Stages,
			Variant:    d.Extraction.Variant,
			Compliance: d.Compliance != nil,
			Origin:     catalog.Origin(d.Name),
		})
	}
	return nil, out, nil
}

func summarize(rec *store.RunRecord) RunSummary {
	sum := RunSummary{
		RunID:           rec.ID,
		ConversationID:  rec.ConversationID,
		Department:      rec.Department,
		SnapshotVersion: rec.SnapshotVersion,
		State:           rec.State,
		Authoritative:   rec.Authoritative,
		SupersededBy:    rec.SupersededBy,
		Error:           rec.Error,
		StartedAt:       rec.StartedAt.Format(time.RFC3339),
	}
	if !rec.EndedAt.IsZero() {
		sum.EndedAt = rec.EndedAt.Format(time.RFC3339)
	}
	if rec.Decision != nil {
		sum.Label = rec.Decision.Label
		if rec.Decision.Tool != nil {
			sum.Tool = rec.Decision.Tool.Name
		}
	}
	return sum
}
