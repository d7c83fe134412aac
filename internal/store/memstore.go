package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dusk-indust/vigil/internal/errors"
)

// Compile-time assertion: *MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// MemStore implements Store using Go maps. Thread-safe via sync.RWMutex.
type MemStore struct {
	mu        sync.RWMutex
	runs      map[string]*RunRecord
	authority map[string]holder // key: AuthorityKey
	displaced map[string]string // loser run id -> winner run id
}

type holder struct {
	runID     string
	startedAt time.Time
}

// NewMemStore returns an initialized MemStore ready for use.
func NewMemStore() *MemStore {
	return &MemStore{
		runs:      make(map[string]*RunRecord),
		authority: make(map[string]holder),
		displaced: make(map[string]string),
	}
}

// InitSchema is a no-op for the in-memory store.
func (m *MemStore) InitSchema(_ context.Context) error {
	return nil
}

// CreateRun stores a copy of rec.
func (m *MemStore) CreateRun(_ context.Context, rec *RunRecord) error {
	c, err := clone(stripAuthority(rec))
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[rec.ID]; ok {
		return fmt.Errorf("store: create run %s: %w", rec.ID, errors.ErrDuplicateRun)
	}
	m.runs[rec.ID] = c
	return nil
}

// UpdateRun replaces the stored copy of rec.
func (m *MemStore) UpdateRun(_ context.Context, rec *RunRecord) error {
	c, err := clone(stripAuthority(rec))
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[rec.ID]; !ok {
		return fmt.Errorf("store: update run %s: %w", rec.ID, errors.ErrNotFound)
	}
	m.runs[rec.ID] = c
	return nil
}

// PutOutcome performs the authority compare-and-set under the write lock.
// Only rec's own record and the authority maps change.
func (m *MemStore) PutOutcome(_ context.Context, rec *RunRecord) error {
	c, err := clone(stripAuthority(rec))
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[rec.ID]; !ok {
		return fmt.Errorf("store: put outcome %s: %w", rec.ID, errors.ErrNotFound)
	}

	key := rec.Key()
	cur, held := m.authority[key]
	stale := held && cur.runID != rec.ID && !newer(rec.StartedAt, rec.ID, cur.startedAt, cur.runID)
	if stale {
		m.displaced[rec.ID] = cur.runID
	} else {
		if held && cur.runID != rec.ID {
			m.displaced[cur.runID] = rec.ID
		}
		m.authority[key] = holder{runID: rec.ID, startedAt: rec.StartedAt}
	}
	m.runs[rec.ID] = c
	m.annotate(rec)
	if stale {
		return fmt.Errorf("store: run %s superseded by %s: %w", rec.ID, cur.runID, errors.ErrStaleOutcome)
	}
	return nil
}

// annotate fills the read-time authority fields. Callers hold m.mu.
func (m *MemStore) annotate(r *RunRecord) {
	h, ok := m.authority[r.Key()]
	r.Authoritative = ok && h.runID == r.ID
	r.SupersededBy = m.displaced[r.ID]
}

// GetRun returns a copy of the record with the given id.
func (m *MemStore) GetRun(_ context.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("store: run %s: %w", id, errors.ErrNotFound)
	}
	c, err := clone(r)
	if err != nil {
		return nil, err
	}
	m.annotate(c)
	return c, nil
}

// ListRuns returns matching records, most recently started first.
func (m *MemStore) ListRuns(_ context.Context, filter RunFilter) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RunRecord
	for _, r := range m.runs {
		if !filter.match(r) {
			continue
		}
		c, err := clone(r)
		if err != nil {
			return nil, err
		}
		m.annotate(c)
		out = append(out, *c)
	}
	sortRuns(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Authoritative returns the authoritative run for a snapshot key.
func (m *MemStore) Authoritative(ctx context.Context, conversationID, department string, version int64) (*RunRecord, error) {
	m.mu.RLock()
	h, ok := m.authority[AuthorityKey(conversationID, department, version)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: authority %s: %w", AuthorityKey(conversationID, department, version), errors.ErrNotFound)
	}
	return m.GetRun(ctx, h.runID)
}

// Close is a no-op.
func (m *MemStore) Close() error { return nil }

func sortRuns(runs []RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID > runs[j].ID
	})
}
