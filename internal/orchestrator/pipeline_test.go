package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dusk-indust/vigil/internal/actuator"
	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/conversation"
	"github.com/dusk-indust/vigil/internal/department"
	"github.com/dusk-indust/vigil/internal/errors"
	"github.com/dusk-indust/vigil/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type recorder struct {
	mu   sync.Mutex
	reqs []actuator.Request
}

func (r *recorder) Dispatch(_ context.Context, req actuator.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *recorder) requests() []actuator.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]actuator.Request(nil), r.reqs...)
}

type fixture struct {
	coord    *Coordinator
	store    *store.MemStore
	act      *recorder
	progress *ProgressReporter
}

func newFixture(t *testing.T, p agent.Provider, opts Options) *fixture {
	t.Helper()
	catalog, err := department.Load("")
	require.NoError(t, err)

	snaps := conversation.StaticReader{}
	snaps.Add(chatSnapshot(1))
	snaps.Add(emailSnapshot(1))

	f := &fixture{store: store.NewMemStore(), act: &recorder{}, progress: NewProgressReporter(256)}
	f.coord, err = NewCoordinator(opts, Deps{
		Catalog:   catalog,
		Snapshots: snaps,
		Directory: testDirectory(),
		Provider:  p,
		Store:     f.store,
		Actuator:  f.act,
		Progress:  f.progress,
	})
	require.NoError(t, err)

	var (
		mu sync.Mutex
		n  int
	)
	f.coord.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("run-%d", n)
	}
	return f
}

// closedDealProvider answers every chat role for a negotiation that closed
// with an agreed payment date.
func closedDealProvider() *roleProvider {
	extraction := `{"summary":"client accepted R$ 800","status":"agreement_closed","values":{"total":800},"deadlines":{"agreed_date":"15/03/2026"}}`
	return newRoleProvider().
		on(agent.RoleSynthesizer, `{"summary":"Ana Lima has an open renegotiation deal."}`).
		on(agent.RoleExplicit, extraction).
		on(agent.RoleInferred, extraction).
		on(agent.RoleLexical, `{"score":7,"trend":"improving"}`).
		on(agent.RoleBehavioral, `{"score":8,"trend":"improving"}`).
		on(agent.RoleManager, `{"score":7.5,"trend":"improving","label":"Positive","justification":"client accepted"}`).
		on(agent.RoleGuard, `{"compliance_status":"OK","details":[]}`)
}

var chatTrigger = Trigger{ConversationID: "5511987654321@s.whatsapp.net", SourceTag: "whatsapp", SnapshotVersion: 1}

func states(rec *store.RunRecord) []string {
	out := []string{}
	for _, tr := range rec.Transitions {
		out = append(out, tr.To)
	}
	return out
}

func assertSingleTerminal(t *testing.T, rec *store.RunRecord) {
	t.Helper()
	terminal := 0
	for _, tr := range rec.Transitions {
		if State(tr.To).IsTerminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal, "exactly one terminal state")
	require.NotEmpty(t, rec.Transitions)
	assert.Equal(t, rec.State, rec.Transitions[len(rec.Transitions)-1].To)
	assert.False(t, rec.EndedAt.IsZero())
}

func TestCoordinator_CompletesAndActuates(t *testing.T) {
	f := newFixture(t, closedDealProvider(), fastOptions())

	rec, err := f.coord.Trigger(context.Background(), chatTrigger)
	require.NoError(t, err)
	f.coord.Wait()

	assert.Equal(t, string(StateCompleted), rec.State)
	assert.Equal(t, "negotiation-chat", rec.Department)
	assert.True(t, rec.Authoritative)
	assertSingleTerminal(t, rec)
	assert.Equal(t, []string{"enriching", "analyzing", "auditing", "deciding", "completed"}, states(rec))

	require.NotNil(t, rec.Decision)
	assert.Equal(t, "monitor-payment", rec.Decision.Label)
	assert.Equal(t, "agreement-closed", rec.Decision.Rule)
	require.NotNil(t, rec.Decision.Tool)
	assert.Equal(t, "create_crm_activity", rec.Decision.Tool.Name)
	assert.Equal(t, "11987654321", rec.Decision.Tool.Args["person_phone"])
	assert.Equal(t, "15/03/2026", rec.Decision.Tool.Args["due_date"])

	var roles []agent.Role
	for _, r := range rec.AuditTrail {
		roles = append(roles, r.Role)
		assert.Equal(t, agent.StatusOK, r.Status, r.Role)
	}
	assert.ElementsMatch(t, []agent.Role{
		agent.RoleSynthesizer, agent.RoleExplicit, agent.RoleInferred,
		agent.RoleLexical, agent.RoleBehavioral, agent.RoleManager, agent.RoleGuard,
	}, roles)

	var extraction ConsolidatedReport
	require.NoError(t, json.Unmarshal(rec.Extraction, &extraction))
	assert.Empty(t, extraction.Conflicts())
	var temperature TemperatureReport
	require.NoError(t, json.Unmarshal(rec.Temperature, &temperature))
	assert.Equal(t, TrendImproving, temperature.Trend)

	stored, err := f.store.GetRun(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.State, stored.State)
	assert.True(t, stored.Authoritative)

	reqs := f.act.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, rec.ID, reqs[0].RunID)
	assert.Equal(t, "create_crm_activity", reqs[0].Tool)

	f.progress.Close()
	var runEvents []ProgressStatus
	for ev := range f.progress.Subscribe() {
		if ev.Stage == "run" {
			runEvents = append(runEvents, ev.Status)
		}
	}
	assert.Equal(t, []ProgressStatus{ProgressWorking, ProgressComplete}, runEvents)
}

func TestCoordinator_ReplaySupersedesOlderRun(t *testing.T) {
	f := newFixture(t, closedDealProvider(), fastOptions())
	t0 := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	f.coord.now = func() time.Time { return t0 }
	first, err := f.coord.Trigger(context.Background(), chatTrigger)
	require.NoError(t, err)
	f.coord.now = func() time.Time { return t0.Add(time.Minute) }
	second, err := f.coord.Trigger(context.Background(), chatTrigger)
	require.NoError(t, err)
	f.coord.Wait()

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Decision, second.Decision, "replay yields an equivalent outcome")
	assert.True(t, second.Authoritative)

	// The first run held authority when it finished; a later read reports
	// it displaced without its record having been rewritten.
	assert.True(t, first.Authoritative)
	old, err := f.store.GetRun(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, old.Authoritative)
	assert.Equal(t, second.ID, old.SupersededBy)
	assert.Equal(t, string(StateCompleted), old.State, "superseded run keeps its own outcome")
	assert.Equal(t, first.Decision, old.Decision)

	auth, err := f.store.Authoritative(context.Background(), chatTrigger.ConversationID, "negotiation-chat", 1)
	require.NoError(t, err)
	assert.Equal(t, second.ID, auth.ID)
}

func TestCoordinator_StaleRunDoesNotActuate(t *testing.T) {
	f := newFixture(t, closedDealProvider(), fastOptions())
	t0 := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	f.coord.now = func() time.Time { return t0.Add(time.Minute) }
	newer, err := f.coord.Trigger(context.Background(), chatTrigger)
	require.NoError(t, err)
	f.coord.now = func() time.Time { return t0 }
	stale, err := f.coord.Trigger(context.Background(), chatTrigger)
	require.NoError(t, err)
	f.coord.Wait()

	assert.True(t, newer.Authoritative)
	assert.False(t, stale.Authoritative)
	assert.Equal(t, newer.ID, stale.SupersededBy)
	require.NotNil(t, stale.Decision)

	reqs := f.act.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, newer.ID, reqs[0].RunID)
}

func TestCoordinator_CancellationBetweenStages(t *testing.T) {
	f := newFixture(t, closedDealProvider(), fastOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.coord.router.RegisterExecutor(&stubStage{name: department.StageAnalyze, run: func(ctx context.Context, _ *Run) error {
		cancel()
		assert.NoError(t, ctx.Err(), "a running stage finishes on an uncancelable context")
		return nil
	}})

	rec, err := f.coord.Trigger(ctx, chatTrigger)
	require.NoError(t, err)
	f.coord.Wait()

	assert.Equal(t, string(StateCanceled), rec.State)
	assertSingleTerminal(t, rec)
	assert.Nil(t, rec.Decision)
	assert.Empty(t, f.act.requests())

	stored, err := f.store.GetRun(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StateCanceled), stored.State)
	assert.False(t, stored.Authoritative)
	assert.Equal(t, "run canceled: context canceled", stored.Error)
	require.NotEmpty(t, stored.Transitions)
	last := stored.Transitions[len(stored.Transitions)-1]
	assert.Equal(t, string(StateCanceled), last.To)
	assert.Equal(t, "run canceled: context canceled", last.Note)
}

func TestCoordinator_BranchTimeoutIsOmitted(t *testing.T) {
	p := closedDealProvider().onFunc(agent.RoleExplicit, func(ctx context.Context, _ agent.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	opts := fastOptions()
	opts.StageTimeout = 100 * time.Millisecond
	f := newFixture(t, p, opts)

	rec, err := f.coord.Trigger(context.Background(), chatTrigger)
	require.NoError(t, err)
	assert.Equal(t, string(StateCompleted), rec.State)

	var extraction ConsolidatedReport
	require.NoError(t, json.Unmarshal(rec.Extraction, &extraction))
	require.Len(t, extraction.Omissions, 1)
	assert.Equal(t, Omission{Branch: "explicit", Status: "failed", Reason: "stage timeout"}, extraction.Omissions[0])
	assert.Equal(t, ProvenanceInferred, extraction.Provenance["status"])

	var temperature TemperatureReport
	require.NoError(t, json.Unmarshal(rec.Temperature, &temperature))
	assert.Empty(t, temperature.Omissions)

	timedOut := 0
	for _, r := range rec.AuditTrail {
		if r.Role == agent.RoleExplicit {
			timedOut++
			assert.Equal(t, agent.StatusFailed, r.Status)
			assert.Equal(t, "stage timeout", r.Err)
		}
	}
	assert.Equal(t, 1, timedOut)
	assert.Contains(t, rec.Decision.Rationale, "Omitted branches: explicit (failed: stage timeout).")
}

func TestCoordinator_UnmentionedFieldsAuditAsNull(t *testing.T) {
	incomplete := `{"summary":"no figures yet","status":"negotiating"}`
	p := closedDealProvider().
		on(agent.RoleExplicit, incomplete).
		on(agent.RoleInferred, incomplete)
	f := newFixture(t, p, fastOptions())

	rec, err := f.coord.Trigger(context.Background(), chatTrigger)
	require.NoError(t, err)
	f.coord.Wait()

	assert.Equal(t, string(StateCompleted), rec.State)
	assert.NotContains(t, states(rec), string(StateAuditingRepair))
	require.NotNil(t, rec.Decision)

	var extraction ConsolidatedReport
	require.NoError(t, json.Unmarshal(rec.Extraction, &extraction))
	total := gjson.GetBytes(extraction.Payload, "values.total")
	assert.True(t, total.Exists())
	assert.Equal(t, gjson.Null, total.Type)
}

func TestCoordinator_AuditFailureBlocksRun(t *testing.T) {
	mistyped := `{"summary":"no figures yet","status":"negotiating","values":{"total":"eight hundred"},"deadlines":{"agreed_date":null}}`
	p := closedDealProvider().
		on(agent.RoleExplicit, mistyped).
		on(agent.RoleInferred, mistyped)
	f := newFixture(t, p, fastOptions())

	rec, err := f.coord.Trigger(context.Background(), chatTrigger)
	require.NoError(t, err)
	f.coord.Wait()

	assert.Equal(t, string(StateBlocked), rec.State)
	assertSingleTerminal(t, rec)
	assert.Equal(t, []string{"enriching", "analyzing", "auditing", "auditing-repair", "auditing", "blocked-needs-review"}, states(rec))
	assert.Nil(t, rec.Decision)
	assert.Empty(t, f.act.requests())

	// Two invocations, analysis and repair, each with one malformed-output
	// repair call.
	assert.Len(t, p.calls(agent.RoleExplicit), 4)
}

func TestCoordinator_DecisionErrorFailsRun(t *testing.T) {
	f := newFixture(t, closedDealProvider(), fastOptions())
	chat, err := f.coord.Catalog().Get("negotiation-chat")
	require.NoError(t, err)
	chat.Decision = department.DecisionSet{Default: &department.Outcome{
		Label: "schedule-follow-up",
		Tool:  &department.ToolSpec{Name: "create_crm_activity", Args: map[string]string{"due_date": "$extraction.deadlines.follow_up_date"}},
	}}

	rec, err := f.coord.Trigger(context.Background(), chatTrigger)
	require.NoError(t, err)
	f.coord.Wait()

	assert.Equal(t, string(StateFailedDecision), rec.State)
	assertSingleTerminal(t, rec)
	assert.Contains(t, rec.Error, "required arg due_date")
	assert.Nil(t, rec.Decision)
	assert.Empty(t, f.act.requests())
	assert.NotEmpty(t, rec.AuditTrail, "a failed run keeps its audit trail")
}

func TestCoordinator_InfrastructureErrors(t *testing.T) {
	f := newFixture(t, closedDealProvider(), fastOptions())

	_, err := f.coord.Trigger(context.Background(), Trigger{ConversationID: "x", SourceTag: "sms", SnapshotVersion: 1})
	assert.ErrorIs(t, err, errors.ErrUnknownDepartment)

	_, err = f.coord.Trigger(context.Background(), Trigger{ConversationID: chatTrigger.ConversationID, SourceTag: "chat", SnapshotVersion: 9})
	assert.ErrorIs(t, err, errors.ErrNotFound)

	runs, err := f.store.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestNewCoordinator_RequiresCollaborators(t *testing.T) {
	_, err := NewCoordinator(DefaultOptions(), Deps{})
	assert.ErrorContains(t, err, "catalog is required")
}

func TestCoordinator_LocalProviderEndToEnd(t *testing.T) {
	f := newFixture(t, agent.NewLocalProvider(), fastOptions())

	for _, trig := range []Trigger{
		chatTrigger,
		{ConversationID: "thread-42", SourceTag: "email", SnapshotVersion: 1},
	} {
		rec, err := f.coord.Trigger(context.Background(), trig)
		require.NoError(t, err, trig.SourceTag)
		assert.Equal(t, string(StateCompleted), rec.State, trig.SourceTag)
		assertSingleTerminal(t, rec)
		require.NotNil(t, rec.Decision, trig.SourceTag)
		assert.NotEmpty(t, rec.Decision.Label)
		assert.NotEmpty(t, rec.AuditTrail)
	}
	f.coord.Wait()

	runs, err := f.store.ListRuns(context.Background(), store.RunFilter{State: string(StateCompleted)})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
