package backend

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-client/internal/models"
)

// insufficient_privilege; row-level security rejections surface as this.
const pgPermissionDenied = "42501"

// PostgresService is the sqlx-backed WriteService talking to the hosted
// backend's relational storage.
type PostgresService struct {
	db *sqlx.DB
}

// NewPostgresService constructs a PostgresService.
func NewPostgresService(db *sqlx.DB) *PostgresService {
	return &PostgresService{db: db}
}

type messageRow struct {
	ID             int64          `db:"id"`
	ConversationID int64          `db:"conversation_id"`
	SenderID       int64          `db:"sender_id"`
	SenderName     sql.NullString `db:"sender_name"`
	MessageType    string         `db:"message_type"`
	Content        string         `db:"content"`
	Caption        sql.NullString `db:"caption"`
	DurationMS     sql.NullInt64  `db:"duration_ms"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r messageRow) toModel() models.Message {
	return models.Message{
		ID:             models.ServerID(r.ID),
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		SenderName:     r.SenderName.String,
		Type:           models.Type(r.MessageType),
		Content:        r.Content,
		Caption:        r.Caption.String,
		DurationMS:     r.DurationMS.Int64,
		CreatedAt:      r.CreatedAt,
		Status:         models.StatusSent,
	}
}

// InsertMessage stores a message and returns the server record.
func (s *PostgresService) InsertMessage(ctx context.Context, msg NewMessage) (models.Message, error) {
	var row messageRow
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, message_type, content, caption, duration_ms)
         VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, 0))
         RETURNING id, conversation_id, sender_id, message_type, content, caption, duration_ms, created_at`,
		msg.ConversationID, msg.SenderID, string(msg.Type), msg.Content, msg.Caption, msg.DurationMS).
		StructScan(&row)
	if err != nil {
		return models.Message{}, mapError(err)
	}
	return row.toModel(), nil
}

// DeleteMessage removes a message owned by the sender.
func (s *PostgresService) DeleteMessage(ctx context.Context, serverID int64, senderID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id=$1 AND sender_id=$2`, serverID, senderID)
	if err != nil {
		return mapError(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListMessages returns the authoritative ordered message list.
func (s *PostgresService) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT m.id, m.conversation_id, m.sender_id, u.username AS sender_name,
                m.message_type, m.content, m.caption, m.duration_ms, m.created_at
         FROM messages m
         LEFT JOIN users u ON u.id = m.sender_id
         WHERE m.conversation_id=$1
         ORDER BY m.created_at ASC, m.id ASC`, conversationID)
	if err != nil {
		return nil, mapError(err)
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.toModel())
	}
	return msgs, nil
}

// TouchConversation unhides the conversation for the user and refreshes
// its last-activity timestamp. Called after a successful write only.
func (s *PostgresService) TouchConversation(ctx context.Context, conversationID int64, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_conversation_settings (user_id, conversation_id, is_hidden, hidden_at, last_activity_at)
         VALUES ($1, $2, FALSE, NULL, NOW())
         ON CONFLICT (user_id, conversation_id)
         DO UPDATE SET is_hidden = FALSE, hidden_at = NULL, last_activity_at = NOW()`,
		userID, conversationID)
	return mapError(err)
}

// SenderName resolves a sender's display name.
func (s *PostgresService) SenderName(ctx context.Context, userID int64) (string, error) {
	var name string
	err := s.db.GetContext(ctx, &name, `SELECT username FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, err
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgPermissionDenied {
		return ErrPermissionDenied
	}
	return err
}
