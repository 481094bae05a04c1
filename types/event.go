package types

import "time"

// EventType classifies inbound message events
type EventType string

const (
	EventCreated EventType = "created"
	EventEdited  EventType = "edited"
	EventDeleted EventType = "deleted"
)

// Event is the canonical, platform-independent form of a message event.
// Immutable once constructed by the normalizer.
type Event struct {
	// ID is unique per delivery and is the dedup key. MessageID is the
	// platform message the event concerns; edits and deletions of one
	// message share a MessageID but carry distinct IDs.
	ID          string    `json:"id"`
	MessageID   string    `json:"message_id"`
	Type        EventType `json:"type"`
	ChannelID   string    `json:"channel_id"`
	AuthorID    string    `json:"author_id"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NeedsEvaluation reports whether the rule evaluator should see this event.
// Deletions skip evaluation and go straight to executor cleanup.
func (e *Event) NeedsEvaluation() bool {
	return e.Type == EventCreated || e.Type == EventEdited
}

// HasAttachments reports whether the post carries at least one attachment URL
func (e *Event) HasAttachments() bool {
	return len(e.Attachments) > 0
}
