//go:build cgo

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dusk-indust/vigil/internal/errors"
	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuStore implements Store on an embedded KuzuDB graph. Runs are nodes
// keyed by run id; each snapshot key has one Authority node pointing at the
// winning run, and a SUPERSEDES edge runs from every winner to the run it
// displaced. Run bodies never carry authority; reads derive it from the
// Authority node and SUPERSEDES edges. It requires CGO because the go-kuzu driver wraps KuzuDB's C
// library.
type KuzuStore struct {
	// mu serialises access to the single connection and makes the
	// authority compare-and-set atomic.
	mu   sync.Mutex
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuStore satisfies Store.
var _ Store = (*KuzuStore)(nil)

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore creates a KuzuStore backed by a file-based KuzuDB at the
// given directory path. KuzuDB creates the leaf directory itself.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuStore, error) {
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	return nil
}

// ---------- Schema setup ----------

// ddlStatements defines the Cypher DDL executed by InitSchema.
// Node tables must precede relationship tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Run(
		id STRING,
		conversation_id STRING,
		department STRING,
		state STRING,
		started_at INT64,
		body STRING,
		PRIMARY KEY(id)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Authority(
		key STRING,
		run_id STRING,
		started_at INT64,
		PRIMARY KEY(key)
	)`,
	`CREATE REL TABLE IF NOT EXISTS SUPERSEDES(FROM Run TO Run)`,
}

// InitSchema creates the node and relationship tables if they do not exist.
func (s *KuzuStore) InitSchema(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

// ---------- Writes ----------

// CreateRun inserts a Run node. The primary key rejects reused ids.
func (s *KuzuStore) CreateRun(_ context.Context, rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getRun(rec.ID); err == nil {
		return fmt.Errorf("store: create run %s: %w", rec.ID, errors.ErrDuplicateRun)
	}
	body, err := encodeRun(rec)
	if err != nil {
		return err
	}
	return s.exec(
		`CREATE (r:Run {
			id: $id,
			conversation_id: $conv,
			department: $dept,
			state: $state,
			started_at: $started,
			body: $body
		})`,
		map[string]any{
			"id":      rec.ID,
			"conv":    rec.ConversationID,
			"dept":    rec.Department,
			"state":   rec.State,
			"started": rec.StartedAt.UnixNano(),
			"body":    body,
		},
	)
}

// UpdateRun rewrites the Run node with rec.ID.
func (s *KuzuStore) UpdateRun(_ context.Context, rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getRun(rec.ID); err != nil {
		return fmt.Errorf("store: update run: %w", err)
	}
	return s.writeRun(rec)
}

// PutOutcome claims the Authority node for rec's snapshot key when rec
// started later than the current holder.
func (s *KuzuStore) PutOutcome(_ context.Context, rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getRun(rec.ID); err != nil {
		return fmt.Errorf("store: put outcome: %w", err)
	}

	key := rec.Key()
	rows, err := s.query(
		"MATCH (a:Authority {key: $key}) RETURN a.run_id, a.started_at",
		map[string]any{"key": key},
	)
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		rec.Authoritative = true
		rec.SupersededBy = ""
		if err := s.exec(
			"CREATE (a:Authority {key: $key, run_id: $id, started_at: $started})",
			map[string]any{"key": key, "id": rec.ID, "started": rec.StartedAt.UnixNano()},
		); err != nil {
			return err
		}
		return s.writeRun(rec)
	}

	holderID := toString(rows[0][0])
	holderAt := time.Unix(0, toInt64(rows[0][1]))
	if holderID != rec.ID && !newer(rec.StartedAt, rec.ID, holderAt, holderID) {
		rec.Authoritative = false
		rec.SupersededBy = holderID
		if err := s.writeRun(rec); err != nil {
			return err
		}
		if err := s.link(holderID, rec.ID); err != nil {
			return err
		}
		return fmt.Errorf("store: run %s superseded by %s: %w", rec.ID, holderID, errors.ErrStaleOutcome)
	}

	rec.Authoritative = true
	rec.SupersededBy = ""
	if err := s.exec(
		"MATCH (a:Authority {key: $key}) SET a.run_id = $id, a.started_at = $started",
		map[string]any{"key": key, "id": rec.ID, "started": rec.StartedAt.UnixNano()},
	); err != nil {
		return err
	}
	if err := s.writeRun(rec); err != nil {
		return err
	}
	if holderID == rec.ID {
		return nil
	}
	return s.link(rec.ID, holderID)
}

// link records that winner superseded loser.
func (s *KuzuStore) link(winner, loser string) error {
	return s.exec(
		`MATCH (a:Run {id: $winner}), (b:Run {id: $loser})
		 CREATE (a)-[:SUPERSEDES]->(b)`,
		map[string]any{"winner": winner, "loser": loser},
	)
}

func (s *KuzuStore) writeRun(rec *RunRecord) error {
	body, err := encodeRun(rec)
	if err != nil {
		return err
	}
	return s.exec(
		"MATCH (r:Run {id: $id}) SET r.state = $state, r.body = $body",
		map[string]any{"id": rec.ID, "state": rec.State, "body": body},
	)
}

func encodeRun(rec *RunRecord) (string, error) {
	body, err := json.Marshal(stripAuthority(rec))
	if err != nil {
		return "", fmt.Errorf("store: encode run %s: %w", rec.ID, err)
	}
	return string(body), nil
}

// ---------- Reads ----------

// GetRun returns the record with the given id.
func (s *KuzuStore) GetRun(_ context.Context, id string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.getRun(id)
	if err != nil {
		return nil, err
	}
	if err := s.annotate(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// annotate fills the read-time authority fields from the Authority node
// for rec's key and the SUPERSEDES edge pointing at rec.
func (s *KuzuStore) annotate(rec *RunRecord) error {
	rows, err := s.query(
		"MATCH (a:Authority {key: $key}) RETURN a.run_id",
		map[string]any{"key": rec.Key()},
	)
	if err != nil {
		return err
	}
	rec.Authoritative = len(rows) > 0 && toString(rows[0][0]) == rec.ID

	rows, err = s.query(
		"MATCH (w:Run)-[:SUPERSEDES]->(r:Run {id: $id}) RETURN w.id ORDER BY w.started_at DESC",
		map[string]any{"id": rec.ID},
	)
	if err != nil {
		return err
	}
	rec.SupersededBy = ""
	if len(rows) > 0 {
		rec.SupersededBy = toString(rows[0][0])
	}
	return nil
}

func (s *KuzuStore) getRun(id string) (*RunRecord, error) {
	rows, err := s.query("MATCH (r:Run {id: $id}) RETURN r.body", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("store: run %s: %w", id, errors.ErrNotFound)
	}
	return decodeRun(rows[0][0])
}

// ListRuns returns matching records, most recently started first.
func (s *KuzuStore) ListRuns(_ context.Context, filter RunFilter) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.query(
		`MATCH (r:Run)
		 WHERE ($conv = '' OR r.conversation_id = $conv)
		   AND ($dept = '' OR r.department = $dept)
		   AND ($state = '' OR r.state = $state)
		 RETURN r.body
		 ORDER BY r.started_at DESC, r.id DESC`,
		map[string]any{
			"conv":  filter.ConversationID,
			"dept":  filter.Department,
			"state": filter.State,
		},
	)
	if err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := decodeRun(r[0])
		if err != nil {
			return nil, err
		}
		if err := s.annotate(rec); err != nil {
			return nil, err
		}
		out = append(out, *rec)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Authoritative follows the Authority node for a snapshot key.
func (s *KuzuStore) Authoritative(_ context.Context, conversationID, department string, version int64) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := AuthorityKey(conversationID, department, version)
	rows, err := s.query("MATCH (a:Authority {key: $key}) RETURN a.run_id", map[string]any{"key": key})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("store: authority %s: %w", key, errors.ErrNotFound)
	}
	rec, err := s.getRun(toString(rows[0][0]))
	if err != nil {
		return nil, err
	}
	if err := s.annotate(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Superseded returns the ids of runs the given run displaced.
func (s *KuzuStore) Superseded(_ context.Context, runID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.query(
		"MATCH (a:Run {id: $id})-[:SUPERSEDES]->(b:Run) RETURN b.id ORDER BY b.started_at DESC",
		map[string]any{"id": runID},
	)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, toString(r[0]))
	}
	return out, nil
}

// ---------- Internal helpers ----------

// exec runs a parameterized Cypher statement that produces no result rows.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
// Each row is a []any slice with values in column order.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return nil, fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()
	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

func decodeRun(v any) (*RunRecord, error) {
	var rec RunRecord
	if err := json.Unmarshal([]byte(toString(v)), &rec); err != nil {
		return nil, fmt.Errorf("store: decode run: %w", err)
	}
	return &rec, nil
}

// ---------- Type coercion helpers ----------
// KuzuDB returns typed Go values (int64, float64, bool, string).

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func openKuzuBackend(path string) (Store, error) {
	if path == "" {
		return NewKuzuStore()
	}
	return NewKuzuFileStore(path)
}
