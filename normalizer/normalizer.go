// Package normalizer converts raw gateway payloads into canonical events.
// It is a pure mapping with no side effects: events outside the watched
// channels, from the bot itself, or older than the ignore horizon come
// back nil and are dropped by the caller.
package normalizer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mkarls/showcased/platform"
	"github.com/mkarls/showcased/types"
)

// MalformedEventError reports an inbound payload missing required fields.
// The dispatcher logs and drops these; they never abort the event loop.
type MalformedEventError struct {
	EventType string
	Err       error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event: %v", e.EventType, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// Normalizer maps platform frames to canonical events
type Normalizer struct {
	watched       map[string]struct{}
	botUserID     string
	ignoreHorizon time.Duration
	now           func() time.Time
}

// New creates a normalizer watching the given channels
func New(watchedChannelIDs []string, botUserID string, ignoreHorizon time.Duration) *Normalizer {
	watched := make(map[string]struct{}, len(watchedChannelIDs))
	for _, id := range watchedChannelIDs {
		watched[id] = struct{}{}
	}
	return &Normalizer{
		watched:       watched,
		botUserID:     botUserID,
		ignoreHorizon: ignoreHorizon,
		now:           time.Now,
	}
}

// Normalize converts a raw frame into a canonical event. A nil result
// with nil error means the event is out of scope and should be dropped.
func (n *Normalizer) Normalize(raw *platform.RawEvent) (*types.Event, error) {
	eventType, ok := mapEventType(raw.Type)
	if !ok {
		return nil, nil
	}

	var msg platform.RawMessage
	if err := json.Unmarshal(raw.Data, &msg); err != nil {
		return nil, &MalformedEventError{EventType: raw.Type, Err: err}
	}

	if err := validate(&msg, eventType); err != nil {
		return nil, &MalformedEventError{EventType: raw.Type, Err: err}
	}

	if _, watched := n.watched[msg.ChannelID]; !watched {
		return nil, nil
	}
	if msg.Author.Bot || msg.Author.ID == n.botUserID {
		return nil, nil
	}

	ts := msg.Timestamp
	if eventType == types.EventEdited && msg.EditedTimestamp != nil {
		ts = *msg.EditedTimestamp
	}

	// stale events from a backfilled stream are not enforceable
	if n.ignoreHorizon > 0 && !ts.IsZero() && n.now().Sub(ts) > n.ignoreHorizon {
		return nil, nil
	}

	return &types.Event{
		ID:          eventID(msg.ID, eventType, ts),
		MessageID:   msg.ID,
		Type:        eventType,
		ChannelID:   msg.ChannelID,
		AuthorID:    msg.Author.ID,
		Content:     msg.Content,
		Attachments: attachmentURLs(msg.Attachments),
		Timestamp:   ts,
	}, nil
}

func mapEventType(wireType string) (types.EventType, bool) {
	switch wireType {
	case platform.EventMessageCreate:
		return types.EventCreated, true
	case platform.EventMessageUpdate:
		return types.EventEdited, true
	case platform.EventMessageDelete:
		return types.EventDeleted, true
	default:
		return "", false
	}
}

func validate(msg *platform.RawMessage, eventType types.EventType) error {
	if msg.ID == "" {
		return fmt.Errorf("missing message id")
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("missing channel id")
	}
	// delete payloads carry no author; everything else must
	if eventType != types.EventDeleted && msg.Author.ID == "" {
		return fmt.Errorf("missing author id")
	}
	return nil
}

// eventID derives a delivery-unique ID. Creations use the message ID
// itself; edits are distinct deliveries of the same message, so the edit
// timestamp is folded in to give each revision its own dedup key.
func eventID(messageID string, eventType types.EventType, ts time.Time) string {
	switch eventType {
	case types.EventEdited:
		return fmt.Sprintf("%s:edit:%d", messageID, ts.UnixMilli())
	case types.EventDeleted:
		return messageID + ":delete"
	default:
		return messageID
	}
}

func attachmentURLs(attachments []platform.RawAttachment) []string {
	if len(attachments) == 0 {
		return nil
	}
	urls := make([]string, 0, len(attachments))
	for _, a := range attachments {
		if a.URL != "" {
			urls = append(urls, a.URL)
		}
	}
	return urls
}
