package models

import "time"

// Type classifies a message payload.
type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
	TypeVideo Type = "video"
	TypeAudio Type = "audio"
	TypeFile  Type = "file"
)

// Status tracks delivery state of a message record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Message is one record in a conversation. For media types Content holds
// the object-storage path; SignedURL is the lazily resolved, time-limited
// access reference and is never persisted.
type Message struct {
	ID                 ID        `json:"id"`
	ConversationID     int64     `json:"conversation_id"`
	SenderID           int64     `json:"sender_id"`
	SenderName         string    `json:"sender_name,omitempty"`
	Type               Type      `json:"message_type"`
	Content            string    `json:"content"`
	Caption            string    `json:"caption,omitempty"`
	DurationMS         int64     `json:"duration_ms,omitempty"`
	SignedURL          string    `json:"signed_url,omitempty"`
	SignedURLExpiresAt time.Time `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	Status             Status    `json:"status"`
	Placeholder        bool      `json:"placeholder"`
}

// HasMedia reports whether Content refers to a stored object.
func (m Message) HasMedia() bool {
	switch m.Type {
	case TypeImage, TypeVideo, TypeAudio, TypeFile:
		return true
	}
	return false
}

// SignedURLValid reports whether the resolved media reference is still
// usable at the given instant.
func (m Message) SignedURLValid(now time.Time) bool {
	return m.SignedURL != "" && now.Before(m.SignedURLExpiresAt)
}

// EventType distinguishes realtime feed events.
type EventType string

const (
	EventInsert EventType = "insert"
	EventDelete EventType = "delete"
)

// Event is one change pushed by the realtime feed for a conversation.
// Insert events carry the full record, delete events only the server id.
type Event struct {
	Type      EventType `json:"event_type"`
	Message   *Message  `json:"record,omitempty"`
	MessageID ID        `json:"message_id,omitempty"`
}

// CacheEntry is the persisted snapshot of one conversation's messages.
type CacheEntry struct {
	ConversationID int64     `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	CachedAt       time.Time `json:"cached_at"`
}
