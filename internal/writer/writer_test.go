package writer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-client/internal/backend"
	"chat-client/internal/mocks"
	"chat-client/internal/models"
	"chat-client/internal/store"
	"chat-client/internal/upload"
)

type writerFixture struct {
	store    *store.Store
	registry *store.Registry
	svc      *mocks.WriteServiceMock
	uploads  *mocks.UploadServiceMock
	writer   *Writer
}

func newFixture(t *testing.T) *writerFixture {
	t.Helper()
	f := &writerFixture{
		store:    store.New(),
		registry: store.NewRegistry(30 * time.Second),
		svc:      new(mocks.WriteServiceMock),
		uploads:  new(mocks.UploadServiceMock),
	}
	f.writer = New(Options{
		Store:        f.store,
		Registry:     f.registry,
		Service:      f.svc,
		Uploads:      f.uploads,
		UserID:       10,
		UserName:     "alice",
		WriteTimeout: time.Second,
	})
	return f
}

func TestSendTextConverges(t *testing.T) {
	f := newFixture(t)
	saved := models.Message{
		ID:             models.ServerID(100),
		ConversationID: 1,
		SenderID:       10,
		Type:           models.TypeText,
		Content:        "hello",
		CreatedAt:      time.Now().UTC(),
	}
	gate := make(chan struct{})
	f.svc.On("InsertMessage", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-gate }).
		Return(saved, nil)
	f.svc.On("TouchConversation", mock.Anything, int64(1), int64(10)).Return(nil)

	placeholder := f.writer.SendText(1, "hello")

	// The placeholder is visible while the durable write is in flight.
	assert.True(t, placeholder.ID.IsTemp())
	assert.Equal(t, models.StatusPending, placeholder.Status)
	assert.True(t, placeholder.Placeholder)
	assert.Equal(t, "alice", placeholder.SenderName)
	assert.True(t, f.store.Contains(placeholder.ID))

	close(gate)
	f.writer.Wait()

	assert.False(t, f.store.Contains(placeholder.ID))
	got, ok := f.store.Get(models.ServerID(100))
	require.True(t, ok)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.False(t, got.Placeholder)
	assert.Equal(t, "alice", got.SenderName)
	assert.Equal(t, 1, f.store.Len())

	// The ack registered the id for self-echo suppression.
	assert.True(t, f.registry.Seen(100))
	f.svc.AssertCalled(t, "TouchConversation", mock.Anything, int64(1), int64(10))
}

func TestSendTextFailureKeepsPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.svc.On("InsertMessage", mock.Anything, mock.Anything).Return(models.Message{}, errors.New("backend down"))

	placeholder := f.writer.SendText(1, "hello")
	f.writer.Wait()

	got, ok := f.store.Get(placeholder.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "hello", got.Content)
}

func TestRetryReusesTempID(t *testing.T) {
	f := newFixture(t)
	f.svc.On("InsertMessage", mock.Anything, mock.Anything).Return(models.Message{}, errors.New("backend down")).Once()

	placeholder := f.writer.SendText(1, "hello")
	f.writer.Wait()

	saved := models.Message{ID: models.ServerID(101), ConversationID: 1, SenderID: 10, Type: models.TypeText, Content: "hello", CreatedAt: time.Now().UTC()}
	f.svc.On("InsertMessage", mock.Anything, mock.Anything).Return(saved, nil)
	f.svc.On("TouchConversation", mock.Anything, int64(1), int64(10)).Return(nil)

	retried, err := f.writer.Retry(placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, placeholder.ID, retried.ID)

	f.writer.Wait()
	assert.False(t, f.store.Contains(placeholder.ID))
	assert.True(t, f.store.Contains(models.ServerID(101)))
	assert.Equal(t, 1, f.store.Len())
}

func TestRetryRejectsNonFailed(t *testing.T) {
	f := newFixture(t)
	saved := models.Message{ID: models.ServerID(102), ConversationID: 1, SenderID: 10, Type: models.TypeText, CreatedAt: time.Now().UTC()}
	f.svc.On("InsertMessage", mock.Anything, mock.Anything).Return(saved, nil)
	f.svc.On("TouchConversation", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	f.writer.SendText(1, "hello")
	f.writer.Wait()

	_, err := f.writer.Retry(models.ServerID(102))
	assert.ErrorIs(t, err, ErrNotRetryable)

	_, err = f.writer.Retry(models.TempID(10, 99999))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendAttachmentUploadsBeforeInsert(t *testing.T) {
	f := newFixture(t)
	var uploadedPath string
	f.uploads.On("Upload", mock.Anything, mock.Anything, int64(1), mock.Anything, "image/jpeg", mock.Anything, int64(4), mock.Anything).
		Run(func(args mock.Arguments) { uploadedPath = args.String(3) }).
		Return(nil)
	saved := models.Message{ID: models.ServerID(103), ConversationID: 1, SenderID: 10, Type: models.TypeImage, CreatedAt: time.Now().UTC()}
	f.svc.On("InsertMessage", mock.Anything, mock.Anything).Return(saved, nil)
	f.svc.On("TouchConversation", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	placeholder := f.writer.SendAttachment(1, Attachment{
		Type:        models.TypeImage,
		FileName:    "photo.jpg",
		ContentType: "image/jpeg",
		Caption:     "look",
		Data:        strings.NewReader("data"),
		Size:        4,
	})

	assert.True(t, strings.HasPrefix(placeholder.Content, "public/10_"))
	assert.True(t, strings.HasSuffix(placeholder.Content, ".jpg"))
	assert.Equal(t, "look", placeholder.Caption)

	f.writer.Wait()
	assert.Equal(t, placeholder.Content, uploadedPath)
	assert.True(t, f.store.Contains(models.ServerID(103)))

	insert := f.svc.Calls[0].Arguments.Get(1).(backend.NewMessage)
	assert.Equal(t, placeholder.Content, insert.Content)
	assert.Equal(t, "look", insert.Caption)
}

func TestSendAttachmentUploadFailure(t *testing.T) {
	f := newFixture(t)
	f.uploads.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(upload.ErrRetriesExhausted)

	placeholder := f.writer.SendAttachment(1, Attachment{
		Type:        models.TypeAudio,
		FileName:    "voice.ogg",
		ContentType: "audio/ogg",
		DurationMS:  1200,
		Data:        strings.NewReader("data"),
		Size:        4,
	})
	f.writer.Wait()

	got, ok := f.store.Get(placeholder.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, int64(1200), got.DurationMS)
	f.svc.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
}

func TestDeletePlaceholderLocally(t *testing.T) {
	f := newFixture(t)
	f.svc.On("InsertMessage", mock.Anything, mock.Anything).Return(models.Message{}, errors.New("backend down"))
	f.uploads.On("Cancel", mock.Anything).Return()

	placeholder := f.writer.SendText(1, "hello")
	f.writer.Wait()

	require.NoError(t, f.writer.Delete(context.Background(), placeholder.ID))
	assert.False(t, f.store.Contains(placeholder.ID))
	f.svc.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteServerRecord(t *testing.T) {
	f := newFixture(t)
	f.store.Upsert(models.Message{ID: models.ServerID(50), ConversationID: 1, SenderID: 10, CreatedAt: time.Now()})
	f.svc.On("DeleteMessage", mock.Anything, int64(50), int64(10)).Return(nil)

	require.NoError(t, f.writer.Delete(context.Background(), models.ServerID(50)))
	assert.False(t, f.store.Contains(models.ServerID(50)))
}

func TestDeleteServerRecordDenied(t *testing.T) {
	f := newFixture(t)
	f.store.Upsert(models.Message{ID: models.ServerID(51), ConversationID: 1, SenderID: 20, CreatedAt: time.Now()})
	f.svc.On("DeleteMessage", mock.Anything, int64(51), int64(10)).Return(backend.ErrPermissionDenied)

	err := f.writer.Delete(context.Background(), models.ServerID(51))
	assert.ErrorIs(t, err, backend.ErrPermissionDenied)
	assert.True(t, f.store.Contains(models.ServerID(51)))
}
