package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/dusk-indust/vigil/internal/errors"
)

// Compile-time interface check.
var _ Reader = (*FileReader)(nil)

// FileReader serves snapshots stored as JSON files laid out as
// <dir>/<conversation id>/<version>.json. It stands in for the
// relational message store during local runs and tests.
type FileReader struct {
	dir string
}

// NewFileReader creates a FileReader rooted at dir.
func NewFileReader(dir string) *FileReader {
	return &FileReader{dir: dir}
}

// unsafeChars matches characters that are not allowed in a directory name
// derived from a conversation id.
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9@._+-]`)

// PathFor returns the file that holds a snapshot version.
func (r *FileReader) PathFor(conversationID string, version int64) string {
	name := unsafeChars.ReplaceAllString(conversationID, "_")
	if name == "." || name == ".." || name == "" {
		name = "_"
	}
	return filepath.Join(r.dir, name, strconv.FormatInt(version, 10)+".json")
}

// Snapshot reads and decodes one snapshot file. A missing file reports
// errors.ErrNotFound.
func (r *FileReader) Snapshot(_ context.Context, conversationID string, version int64) (*Snapshot, error) {
	path := r.PathFor(conversationID, version)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("conversation: snapshot %s@%d: %w", conversationID, version, errors.ErrNotFound)
		}
		return nil, fmt.Errorf("conversation: read %s: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("conversation: decode %s: %w", path, err)
	}
	if snap.ConversationID == "" {
		snap.ConversationID = conversationID
	}
	if snap.ConversationID != conversationID {
		return nil, fmt.Errorf("conversation: %s holds conversation %q, want %q", path, snap.ConversationID, conversationID)
	}
	snap.Version = version
	return &snap, nil
}

// Write stores a snapshot at its canonical path, creating directories as
// needed. Used by fixtures and tests.
func (r *FileReader) Write(snap *Snapshot) error {
	path := r.PathFor(snap.ConversationID, snap.Version)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("conversation: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("conversation: encode: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// StaticReader serves snapshots from memory, keyed by id and version.
type StaticReader map[string]map[int64]*Snapshot

// Compile-time interface check.
var _ Reader = StaticReader(nil)

// Snapshot returns the stored snapshot or errors.ErrNotFound.
func (s StaticReader) Snapshot(_ context.Context, conversationID string, version int64) (*Snapshot, error) {
	if snap, ok := s[conversationID][version]; ok {
		return snap, nil
	}
	return nil, fmt.Errorf("conversation: snapshot %s@%d: %w", conversationID, version, errors.ErrNotFound)
}

// Add stores snap in the reader.
func (s StaticReader) Add(snap *Snapshot) {
	if s[snap.ConversationID] == nil {
		s[snap.ConversationID] = make(map[int64]*Snapshot)
	}
	s[snap.ConversationID][snap.Version] = snap
}
