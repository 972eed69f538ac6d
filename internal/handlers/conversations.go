package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-client/internal/backend"
	"chat-client/internal/models"
	"chat-client/internal/session"
	"chat-client/internal/upload"
	"chat-client/internal/writer"
)

// maxAttachmentBytes caps what the gateway will buffer for one upload.
const maxAttachmentBytes = 512 << 20

// ConversationHandler exposes the sync engine to the local UI.
type ConversationHandler struct {
	sessions *session.Manager
	uploads  upload.Service
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(sessions *session.Manager, uploads upload.Service) *ConversationHandler {
	return &ConversationHandler{sessions: sessions, uploads: uploads}
}

// Open starts (or returns) the conversation session and hands back the
// current snapshot for first render.
func (h *ConversationHandler) Open(c *gin.Context) {
	conversationID, ok := conversationID(c)
	if !ok {
		return
	}

	if _, err := h.sessions.Open(c.Request.Context(), conversationID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not open conversation"})
		return
	}

	msgs, err := h.sessions.Messages(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "messages": msgs})
}

// Close ends the conversation session and persists its snapshot.
func (h *ConversationHandler) Close(c *gin.Context) {
	conversationID, ok := conversationID(c)
	if !ok {
		return
	}

	if err := h.sessions.Close(conversationID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not open"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMessages returns the ordered snapshot, media records carrying a
// fresh signed URL.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	conversationID, ok := conversationID(c)
	if !ok {
		return
	}

	msgs, err := h.sessions.Messages(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation not open"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage performs an optimistic text send. The response carries the
// pending placeholder; convergence is pushed over the UI websocket.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	conversationID, ok := conversationID(c)
	if !ok {
		return
	}

	s, ok := h.sessions.Get(conversationID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation not open"})
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := s.Writer.SendText(conversationID, req.Content)
	c.JSON(http.StatusAccepted, msg)
}

// PostAttachment performs an optimistic media send: the payload uploads
// in the background while the placeholder is already visible.
func (h *ConversationHandler) PostAttachment(c *gin.Context) {
	conversationID, ok := conversationID(c)
	if !ok {
		return
	}

	s, ok := h.sessions.Get(conversationID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation not open"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	if fileHeader.Size > maxAttachmentBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read file"})
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	durationMS, _ := strconv.ParseInt(c.PostForm("duration_ms"), 10, 64)

	msg := s.Writer.SendAttachment(conversationID, writer.Attachment{
		Type:        attachmentType(contentType),
		FileName:    fileHeader.Filename,
		ContentType: contentType,
		Caption:     c.PostForm("caption"),
		DurationMS:  durationMS,
		Data:        bytes.NewReader(data),
		Size:        int64(len(data)),
	})
	c.JSON(http.StatusAccepted, msg)
}

// Retry re-runs a failed send under its original placeholder id.
func (h *ConversationHandler) Retry(c *gin.Context) {
	conversationID, ok := conversationID(c)
	if !ok {
		return
	}
	id, ok := messageID(c)
	if !ok {
		return
	}

	s, ok := h.sessions.Get(conversationID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation not open"})
		return
	}

	msg, err := s.Writer.Retry(id)
	if err != nil {
		switch {
		case errors.Is(err, writer.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		case errors.Is(err, writer.ErrNotRetryable):
			c.JSON(http.StatusConflict, gin.H{"error": "message is not retryable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
		}
		return
	}
	c.JSON(http.StatusAccepted, msg)
}

// DeleteMessage removes a message: a local placeholder immediately, a
// server record through the backend (sender only).
func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	conversationID, ok := conversationID(c)
	if !ok {
		return
	}
	id, ok := messageID(c)
	if !ok {
		return
	}

	s, ok := h.sessions.Get(conversationID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation not open"})
		return
	}

	if err := s.Writer.Delete(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, writer.ErrNotFound), errors.Is(err, backend.ErrMessageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		case errors.Is(err, backend.ErrPermissionDenied):
			c.JSON(http.StatusForbidden, gin.H{"error": "only sender can delete"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete message"})
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadProgress reports bytes sent for an in-flight attachment upload.
func (h *ConversationHandler) UploadProgress(c *gin.Context) {
	if _, ok := conversationID(c); !ok {
		return
	}
	id, ok := messageID(c)
	if !ok {
		return
	}

	progress, ok := h.uploads.Progress(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no upload in flight"})
		return
	}
	c.JSON(http.StatusOK, progress)
}

func conversationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return id, true
}

func messageID(c *gin.Context) (models.ID, bool) {
	id, err := models.ParseID(c.Param("message_id"))
	if err != nil || id.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return models.ID{}, false
	}
	return id, true
}

func attachmentType(contentType string) models.Type {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return models.TypeImage
	case strings.HasPrefix(contentType, "video/"):
		return models.TypeVideo
	case strings.HasPrefix(contentType, "audio/"):
		return models.TypeAudio
	default:
		return models.TypeFile
	}
}
