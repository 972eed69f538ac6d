package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"chat-client/internal/backend"
	"chat-client/internal/feed"
	"chat-client/internal/models"
	"chat-client/internal/upload"
)

type WriteServiceMock struct {
	mock.Mock
}

func (m *WriteServiceMock) InsertMessage(ctx context.Context, msg backend.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var saved models.Message
	if val := args.Get(0); val != nil {
		saved = val.(models.Message)
	}
	return saved, args.Error(1)
}

func (m *WriteServiceMock) DeleteMessage(ctx context.Context, serverID int64, senderID int64) error {
	args := m.Called(ctx, serverID, senderID)
	return args.Error(0)
}

func (m *WriteServiceMock) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *WriteServiceMock) TouchConversation(ctx context.Context, conversationID int64, userID int64) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *WriteServiceMock) SenderName(ctx context.Context, userID int64) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

type UploadServiceMock struct {
	mock.Mock
}

func (m *UploadServiceMock) Upload(ctx context.Context, msgID models.ID, conversationID int64, objectPath, contentType string, data io.ReaderAt, size int64, onProgress func(upload.Progress)) error {
	args := m.Called(ctx, msgID, conversationID, objectPath, contentType, data, size, onProgress)
	return args.Error(0)
}

func (m *UploadServiceMock) Sign(ctx context.Context, objectPath string) (upload.SignedURL, error) {
	args := m.Called(ctx, objectPath)
	var signed upload.SignedURL
	if val := args.Get(0); val != nil {
		signed = val.(upload.SignedURL)
	}
	return signed, args.Error(1)
}

func (m *UploadServiceMock) Cancel(msgID models.ID) {
	m.Called(msgID)
}

func (m *UploadServiceMock) CancelConversation(conversationID int64) {
	m.Called(conversationID)
}

func (m *UploadServiceMock) Progress(msgID models.ID) (upload.Progress, bool) {
	args := m.Called(msgID)
	var progress upload.Progress
	if val := args.Get(0); val != nil {
		progress = val.(upload.Progress)
	}
	return progress, args.Bool(1)
}

type FeedMock struct {
	mock.Mock
}

func (m *FeedMock) Subscribe(ctx context.Context, conversationID int64) (*feed.Subscription, error) {
	args := m.Called(ctx, conversationID)
	var sub *feed.Subscription
	if val := args.Get(0); val != nil {
		sub = val.(*feed.Subscription)
	}
	return sub, args.Error(1)
}

var _ backend.WriteService = (*WriteServiceMock)(nil)
var _ upload.Service = (*UploadServiceMock)(nil)
var _ feed.Feed = (*FeedMock)(nil)
