package a2a

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// NewID returns a random identifier for tasks, messages and artifacts.
func NewID() string {
	return uuid.NewString()
}

// TaskStore is a concurrency-safe in-memory store for agent-side task
// tracking. It keeps at most limit tasks and evicts the oldest first, so a
// long-running agent host does not grow without bound.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
	limit int
}

// NewTaskStore returns a TaskStore that retains up to limit tasks.
// A non-positive limit means 1024.
func NewTaskStore(limit int) *TaskStore {
	if limit <= 0 {
		limit = 1024
	}
	return &TaskStore{
		tasks: make(map[string]*Task),
		limit: limit,
	}
}

// Create stores a new task. It returns an error if the ID is taken.
func (s *TaskStore) Create(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %q already exists", task.ID)
	}
	s.tasks[task.ID] = deepCopyTask(&task)
	s.order = append(s.order, task.ID)

	for len(s.order) > s.limit {
		delete(s.tasks, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// Get returns a deep copy of the task with the given ID.
func (s *TaskStore) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %q not found", id)
	}
	return deepCopyTask(t), nil
}

// Update applies fn to the stored task under the write lock.
func (s *TaskStore) Update(id string, fn func(*Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	fn(t)
	return nil
}

// Len returns the number of retained tasks.
func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func deepCopyTask(src *Task) *Task {
	dst := *src
	if src.Artifacts != nil {
		dst.Artifacts = make([]Artifact, len(src.Artifacts))
		for i, a := range src.Artifacts {
			dst.Artifacts[i] = Artifact{
				ArtifactID: a.ArtifactID,
				Name:       a.Name,
				Parts:      copyParts(a.Parts),
			}
		}
	}
	dst.Metadata = copyRaw(src.Metadata)
	if src.Status.Message != nil {
		msg := *src.Status.Message
		msg.Parts = copyParts(msg.Parts)
		msg.Metadata = copyRaw(msg.Metadata)
		dst.Status.Message = &msg
	}
	return &dst
}

func copyParts(src []Part) []Part {
	if src == nil {
		return nil
	}
	dst := make([]Part, len(src))
	for i, p := range src {
		dst[i] = Part{Text: p.Text, Data: copyRaw(p.Data), MediaType: p.MediaType}
	}
	return dst
}

func copyRaw(src json.RawMessage) json.RawMessage {
	if src == nil {
		return nil
	}
	dst := make(json.RawMessage, len(src))
	copy(dst, src)
	return dst
}
