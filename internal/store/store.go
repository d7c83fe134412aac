// Package store persists pipeline runs and their outcomes. Records are
// append-only and keyed by run id; a run only ever rewrites its own record.
// At most one outcome per (conversation, department, snapshot version) is
// authoritative, enforced by compare-and-set on run start time inside
// PutOutcome. Authority lives beside the records, never inside them:
// Authoritative and SupersededBy are filled in on read.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dusk-indust/vigil/internal/agent"
)

// Store is the run/outcome backend.
// Implementations: KuzuStore (production, cgo), MemStore (tests, default).
type Store interface {
	io.Closer

	// InitSchema prepares the backend. Safe to call more than once.
	InitSchema(ctx context.Context) error

	// CreateRun appends a new record. A reused id is ErrDuplicateRun.
	CreateRun(ctx context.Context, rec *RunRecord) error
	// UpdateRun replaces the record with rec.ID. Unknown ids are ErrNotFound.
	UpdateRun(ctx context.Context, rec *RunRecord) error
	// PutOutcome writes a terminal record carrying a decision and claims
	// authority for its snapshot key. It sets rec.Authoritative and
	// rec.SupersededBy on the caller's copy only; the displaced run's
	// record is left as written. Losing to a run that started later
	// returns ErrStaleOutcome; the record is still written.
	PutOutcome(ctx context.Context, rec *RunRecord) error

	// GetRun and ListRuns derive Authoritative and SupersededBy from the
	// authority data at read time.
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error)
	// Authoritative returns the run holding authority for a snapshot key.
	Authoritative(ctx context.Context, conversationID, department string, version int64) (*RunRecord, error)
}

// RunRecord is the persisted layout of one pipeline run.
type RunRecord struct {
	ID              string             `json:"run_id"`
	ConversationID  string             `json:"conversation_id"`
	Department      string             `json:"department"`
	SourceTag       string             `json:"source_tag"`
	SnapshotVersion int64              `json:"snapshot_version"`
	State           string             `json:"state"`
	StartedAt       time.Time          `json:"started_at"`
	EndedAt         time.Time          `json:"ended_at,omitzero"`
	Context         json.RawMessage    `json:"context,omitempty"`
	Extraction      json.RawMessage    `json:"extraction,omitempty"`
	Temperature     json.RawMessage    `json:"temperature,omitempty"`
	Compliance      json.RawMessage    `json:"compliance,omitempty"`
	Decision        *Decision          `json:"decision,omitempty"`
	AuditTrail      []agent.CallResult `json:"audit_trail"`
	Transitions     []Transition       `json:"transitions"`
	Authoritative   bool               `json:"authoritative"`
	SupersededBy    string             `json:"superseded_by,omitempty"`
	Error           string             `json:"error,omitempty"`
}

// Decision is the persisted decision outcome.
type Decision struct {
	Label     string    `json:"label"`
	Rule      string    `json:"rule,omitempty"`
	Tool      *ToolCall `json:"tool,omitempty"`
	Rationale string    `json:"rationale"`
}

// ToolCall is a resolved tool request.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Transition is one entry of the run's state log.
type Transition struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	ConversationID string
	Department     string
	State          string
	Limit          int
}

func (f RunFilter) match(r *RunRecord) bool {
	if f.ConversationID != "" && r.ConversationID != f.ConversationID {
		return false
	}
	if f.Department != "" && r.Department != f.Department {
		return false
	}
	if f.State != "" && r.State != f.State {
		return false
	}
	return true
}

// AuthorityKey identifies the snapshot a run decides for.
func AuthorityKey(conversationID, department string, version int64) string {
	return fmt.Sprintf("%s|%s|%d", conversationID, department, version)
}

// Key returns the record's authority key.
func (r *RunRecord) Key() string {
	return AuthorityKey(r.ConversationID, r.Department, r.SnapshotVersion)
}

// newer reports whether a run started at (at, id) outranks the holder
// (holderAt, holderID). Start time decides; equal starts fall back to the
// id so the outcome does not depend on completion order.
func newer(at time.Time, id string, holderAt time.Time, holderID string) bool {
	if !at.Equal(holderAt) {
		return at.After(holderAt)
	}
	return id > holderID
}

// clone deep-copies a record through JSON so callers cannot mutate stored
// state.
// stripAuthority returns a shallow copy of r without the read-time
// authority fields, which are never persisted.
func stripAuthority(r *RunRecord) *RunRecord {
	c := *r
	c.Authoritative = false
	c.SupersededBy = ""
	return &c
}

func clone(r *RunRecord) (*RunRecord, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("store: encode run %s: %w", r.ID, err)
	}
	var out RunRecord
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("store: decode run %s: %w", r.ID, err)
	}
	return &out, nil
}

// Open returns the backend named by kind ("memory" or "kuzu") with its
// schema initialised. An empty path gives an in-memory Kuzu database.
func Open(ctx context.Context, kind, path string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch kind {
	case "", "memory":
		s = NewMemStore()
	case "kuzu":
		s, err = openKuzuBackend(path)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", kind)
	}
	if err != nil {
		return nil, err
	}
	if err := s.InitSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
