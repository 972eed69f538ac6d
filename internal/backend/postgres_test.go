package backend

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"chat-client/internal/models"
)

func TestMessageRowToModel(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	row := messageRow{
		ID:             9,
		ConversationID: 1,
		SenderID:       20,
		SenderName:     sql.NullString{String: "bob", Valid: true},
		MessageType:    "audio",
		Content:        "public/20_123.ogg",
		Caption:        sql.NullString{String: "listen", Valid: true},
		DurationMS:     sql.NullInt64{Int64: 2500, Valid: true},
		CreatedAt:      at,
	}

	got := row.toModel()
	assert.Equal(t, models.ServerID(9), got.ID)
	assert.Equal(t, models.TypeAudio, got.Type)
	assert.Equal(t, "bob", got.SenderName)
	assert.Equal(t, "listen", got.Caption)
	assert.Equal(t, int64(2500), got.DurationMS)
	assert.Equal(t, models.StatusSent, got.Status)
}

func TestMessageRowToModelNulls(t *testing.T) {
	got := messageRow{ID: 1, MessageType: "text", Content: "hi"}.toModel()
	assert.Empty(t, got.SenderName)
	assert.Empty(t, got.Caption)
	assert.Zero(t, got.DurationMS)
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))

	denied := &pq.Error{Code: pq.ErrorCode(pgPermissionDenied)}
	assert.ErrorIs(t, mapError(denied), ErrPermissionDenied)

	plain := errors.New("connection refused")
	assert.Equal(t, plain, mapError(plain))
}
