package backend

import (
	"context"
	"errors"

	"chat-client/internal/models"
)

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrPermissionDenied = errors.New("write rejected by backend")
)

// NewMessage is the writer's durable-write request.
type NewMessage struct {
	ConversationID int64
	SenderID       int64
	Type           models.Type
	Content        string
	Caption        string
	DurationMS     int64
}

// WriteService is the boundary to the hosted backend's relational
// storage. Inserts are assumed durable once acknowledged, and the backend
// echoes each acknowledged change to the realtime feed at least once.
type WriteService interface {
	// InsertMessage performs the durable write and returns the
	// authoritative server record.
	InsertMessage(ctx context.Context, msg NewMessage) (models.Message, error)
	// DeleteMessage removes a message; only the sender may delete.
	DeleteMessage(ctx context.Context, serverID int64, senderID int64) error
	// ListMessages is the authoritative fetch for a conversation,
	// ordered by creation time ascending.
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
	// TouchConversation refreshes conversation last-activity state after
	// a successful write (unhides it for both sides).
	TouchConversation(ctx context.Context, conversationID int64, userID int64) error
	// SenderName resolves the display name for a sender id.
	SenderName(ctx context.Context, userID int64) (string, error)
}
