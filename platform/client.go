// Package platform is the boundary to the chat platform: an outbound
// command client and an inbound gateway event subscription.
package platform

import (
	"context"
	"encoding/json"
	"time"
)

// Client is the outbound command surface the executor needs. Both calls
// must be safe to repeat: deleting an already-deleted message reports
// ErrNotFound, which callers treat as satisfied.
type Client interface {
	// DeleteMessage removes a message from a channel.
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// SendMessage posts content to a channel and returns the new message ID.
	SendMessage(ctx context.Context, channelID, content string) (string, error)
}

// Gateway event type names as delivered on the wire
const (
	EventMessageCreate = "MESSAGE_CREATE"
	EventMessageUpdate = "MESSAGE_UPDATE"
	EventMessageDelete = "MESSAGE_DELETE"
)

// RawEvent is one frame off the gateway stream. Data stays opaque here;
// the normalizer owns decoding it.
type RawEvent struct {
	Seq  int64           `json:"seq"`
	Type string          `json:"t"`
	Data json.RawMessage `json:"d"`
}

// RawMessage is the platform's message payload shape
type RawMessage struct {
	ID              string          `json:"id"`
	ChannelID       string          `json:"channel_id"`
	Author          RawAuthor       `json:"author"`
	Content         string          `json:"content"`
	Attachments     []RawAttachment `json:"attachments,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	EditedTimestamp *time.Time      `json:"edited_timestamp,omitempty"`
}

// RawAuthor identifies the message author
type RawAuthor struct {
	ID  string `json:"id"`
	Bot bool   `json:"bot,omitempty"`
}

// RawAttachment carries one attachment URL
type RawAttachment struct {
	URL string `json:"url"`
}
