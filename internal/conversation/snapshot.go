// Package conversation models the immutable view of a conversation that a
// pipeline run reads: the ordered message history as of one snapshot
// version, plus the source tag that selects the department.
package conversation

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Source tags understood by the router.
const (
	SourceChat     = "chat"
	SourceWhatsApp = "whatsapp"
	SourceEmail    = "email"
)

// MessageType classifies a message body.
type MessageType string

const (
	TypeText       MessageType = "text"
	TypeAudio      MessageType = "audio"
	TypeImage      MessageType = "image"
	TypeDocument   MessageType = "document"
	TypeAttachment MessageType = "attachment"
)

// Message is one entry in a conversation history.
type Message struct {
	Sender    string      `json:"sender"`
	Timestamp time.Time   `json:"timestamp"`
	Text      string      `json:"text"`
	Type      MessageType `json:"type,omitempty"`
	// FromClient is true when the counterpart (not our operator) sent it.
	FromClient bool `json:"fromClient,omitempty"`
	// Subject is set for email messages.
	Subject string   `json:"subject,omitempty"`
	To      []string `json:"to,omitempty"`
	// Importance is an email header value (low, normal, high).
	Importance string `json:"importance,omitempty"`
}

// Snapshot is the full ordered history of a conversation at one version.
// Readers guarantee it is immutable once returned.
type Snapshot struct {
	ConversationID string    `json:"conversationId"`
	Version        int64     `json:"version"`
	Source         string    `json:"source"`
	Subject        string    `json:"subject,omitempty"`
	Messages       []Message `json:"messages"`
}

// Reader fetches a snapshot for a conversation as of a version.
type Reader interface {
	Snapshot(ctx context.Context, conversationID string, version int64) (*Snapshot, error)
}

// Sorted returns the messages ordered by timestamp, keeping the original
// order for ties.
func (s *Snapshot) Sorted() []Message {
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// ThreadSubject returns the snapshot subject, falling back to the first
// message that carries one.
func (s *Snapshot) ThreadSubject() string {
	if s.Subject != "" {
		return s.Subject
	}
	for _, m := range s.Sorted() {
		if m.Subject != "" {
			return m.Subject
		}
	}
	return ""
}

// Transcript renders the history as "[timestamp] sender: text" lines.
func (s *Snapshot) Transcript() string {
	var b strings.Builder
	for _, m := range s.Sorted() {
		b.WriteString("[")
		b.WriteString(m.Timestamp.UTC().Format(time.RFC3339))
		b.WriteString("] ")
		b.WriteString(m.Sender)
		b.WriteString(": ")
		if m.Type != "" && m.Type != TypeText && m.Text == "" {
			b.WriteString("<" + string(m.Type) + ">")
		} else {
			b.WriteString(m.Text)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ThreadMetadata summarizes a conversation for behavioral scoring.
type ThreadMetadata struct {
	Participants   []string  `json:"participants"`
	Subject        string    `json:"subject,omitempty"`
	FirstMessageAt time.Time `json:"firstMessageAt"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
	TotalMessages  int       `json:"totalMessages"`
	ClientMessages int       `json:"clientMessages"`
	HasAttachments bool      `json:"hasAttachments"`
	Importance     string    `json:"importance,omitempty"`
	// ReplyGaps are the durations between consecutive messages, in order.
	ReplyGaps []time.Duration `json:"-"`
}

// Metadata computes the thread metadata of the snapshot.
func (s *Snapshot) Metadata() ThreadMetadata {
	msgs := s.Sorted()
	md := ThreadMetadata{
		Subject:       s.ThreadSubject(),
		TotalMessages: len(msgs),
		Importance:    "normal",
	}
	if len(msgs) == 0 {
		return md
	}

	seen := make(map[string]bool)
	addParticipant := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" || seen[strings.ToLower(p)] {
			return
		}
		seen[strings.ToLower(p)] = true
		md.Participants = append(md.Participants, p)
	}

	md.FirstMessageAt = msgs[0].Timestamp
	md.LastMessageAt = msgs[len(msgs)-1].Timestamp
	for i, m := range msgs {
		addParticipant(m.Sender)
		for _, to := range m.To {
			addParticipant(to)
		}
		if m.FromClient {
			md.ClientMessages++
		}
		switch m.Type {
		case TypeAttachment, TypeDocument, TypeImage:
			md.HasAttachments = true
		}
		if strings.EqualFold(m.Importance, "high") {
			md.Importance = "high"
		}
		if i > 0 {
			md.ReplyGaps = append(md.ReplyGaps, m.Timestamp.Sub(msgs[i-1].Timestamp))
		}
	}
	return md
}
