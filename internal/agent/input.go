package agent

import (
	"encoding/json"

	"github.com/dusk-indust/vigil/internal/conversation"
)

// Input is the structured payload the stages hand to perspective agents.
// Each role reads the parts it needs.
type Input struct {
	ConversationID string                       `json:"conversation_id"`
	Source         string                       `json:"source"`
	Subject        string                       `json:"subject,omitempty"`
	Transcript     string                       `json:"transcript"`
	Messages       []conversation.Message       `json:"messages,omitempty"`
	Metadata       *conversation.ThreadMetadata `json:"metadata,omitempty"`
	Context        string                       `json:"context,omitempty"`
	Schema         *Schema                      `json:"schema,omitempty"`
	// Candidates holds upstream payloads keyed by role, e.g. the explicit
	// and inferred extractions for the consolidator.
	Candidates map[Role]json.RawMessage `json:"candidates,omitempty"`
	Entity     any                      `json:"entity,omitempty"`
}

// WithCandidates returns a copy of in carrying the given upstream payloads.
func (in Input) WithCandidates(c map[Role]json.RawMessage) Input {
	in.Candidates = c
	return in
}

// NewInput builds the common input for a snapshot and its context summary.
func NewInput(snap *conversation.Snapshot, contextSummary string) Input {
	md := snap.Metadata()
	return Input{
		ConversationID: snap.ConversationID,
		Source:         snap.Source,
		Subject:        snap.ThreadSubject(),
		Transcript:     snap.Transcript(),
		Messages:       snap.Sorted(),
		Metadata:       &md,
		Context:        contextSummary,
	}
}
