package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"chat-client/internal/backend"
	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/store"
	"chat-client/internal/telemetry"
	"chat-client/internal/upload"
)

var (
	// ErrNotRetryable reports a retry request for a message that is not a
	// failed local placeholder.
	ErrNotRetryable = errors.New("message is not retryable")
	// ErrNotFound reports an operation on an unknown message id.
	ErrNotFound = errors.New("message not found")
)

// tempCounter feeds sender-scoped temporary ids. Process-wide so a
// conversation reopened within one run never reissues an id.
var tempCounter atomic.Uint64

const defaultWriteTimeout = 15 * time.Second

// Attachment is the media payload of an optimistic send. Data stays
// readable until the send reaches a terminal state so a failed upload can
// be retried from the same bytes.
type Attachment struct {
	Type        models.Type
	FileName    string
	ContentType string
	Caption     string
	DurationMS  int64
	Data        io.ReaderAt
	Size        int64
}

// Writer performs optimistic sends for one open conversation: the
// placeholder record is visible in the store before the durable write
// starts, and converges in place to the authoritative record or to a
// retryable failed state. The caller never waits on the network.
type Writer struct {
	store        *store.Store
	registry     *store.Registry
	svc          backend.WriteService
	uploads      upload.Service
	emitter      *telemetry.Emitter
	userID       int64
	userName     string
	writeTimeout time.Duration

	mu      sync.Mutex
	pending map[models.ID]*Attachment

	wg sync.WaitGroup
}

// Options configures a Writer.
type Options struct {
	Store        *store.Store
	Registry     *store.Registry
	Service      backend.WriteService
	Uploads      upload.Service
	Emitter      *telemetry.Emitter
	UserID       int64
	UserName     string
	WriteTimeout time.Duration
}

// New builds a writer over one conversation's store. The registry is
// shared with the reconciler so acknowledged sends are recognized when
// the feed echoes them.
func New(opts Options) *Writer {
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Writer{
		store:        opts.Store,
		registry:     opts.Registry,
		svc:          opts.Service,
		uploads:      opts.Uploads,
		emitter:      opts.Emitter,
		userID:       opts.UserID,
		userName:     opts.UserName,
		writeTimeout: opts.WriteTimeout,
	}
}

// SendText inserts a pending text placeholder and starts the durable
// write in the background. The returned record carries the temporary id.
func (w *Writer) SendText(conversationID int64, content string) models.Message {
	msg := w.placeholder(conversationID, models.TypeText, content)
	w.store.Upsert(msg)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.deliver(msg)
	}()
	return msg
}

// SendAttachment inserts a pending media placeholder, uploads the payload
// and then performs the durable write, all in the background. Content on
// the placeholder is the object-storage path the payload will live at.
func (w *Writer) SendAttachment(conversationID int64, att Attachment) models.Message {
	objectPath := fmt.Sprintf("public/%d_%d%s", w.userID, time.Now().UnixNano(), path.Ext(att.FileName))
	msg := w.placeholder(conversationID, att.Type, objectPath)
	msg.Caption = att.Caption
	msg.DurationMS = att.DurationMS
	w.store.Upsert(msg)

	w.mu.Lock()
	if w.pending == nil {
		w.pending = make(map[models.ID]*Attachment)
	}
	w.pending[msg.ID] = &att
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.deliverAttachment(msg, &att)
	}()
	return msg
}

// Retry re-runs a failed send under its original temporary id, so the
// placeholder never jumps position or duplicates.
func (w *Writer) Retry(id models.ID) (models.Message, error) {
	msg, ok := w.store.Get(id)
	if !ok {
		return models.Message{}, ErrNotFound
	}
	if !msg.ID.IsTemp() || msg.Status != models.StatusFailed {
		return models.Message{}, ErrNotRetryable
	}

	msg.Status = models.StatusPending
	w.store.SetStatus(id, models.StatusPending)

	w.mu.Lock()
	att := w.pending[id]
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if att != nil {
			w.deliverAttachment(msg, att)
		} else {
			w.deliver(msg)
		}
	}()
	return msg, nil
}

// Delete removes a message. A local placeholder is discarded outright,
// cancelling its upload if one is in flight; a server record is deleted
// through the backend first and only removed locally on success.
func (w *Writer) Delete(ctx context.Context, id models.ID) error {
	if id.IsTemp() {
		w.uploads.Cancel(id)
		w.forget(id)
		if !w.store.RemoveByID(id) {
			return ErrNotFound
		}
		return nil
	}

	serverID, ok := id.Server()
	if !ok {
		return ErrNotFound
	}
	if err := w.svc.DeleteMessage(ctx, serverID, w.userID); err != nil {
		return err
	}
	w.store.RemoveByID(id)
	return nil
}

// Wait blocks until all background deliveries have reached a terminal
// state. Used on conversation close and in tests.
func (w *Writer) Wait() {
	w.wg.Wait()
}

func (w *Writer) placeholder(conversationID int64, msgType models.Type, content string) models.Message {
	return models.Message{
		ID:             models.TempID(w.userID, tempCounter.Add(1)),
		ConversationID: conversationID,
		SenderID:       w.userID,
		SenderName:     w.userName,
		Type:           msgType,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
		Status:         models.StatusPending,
		Placeholder:    true,
	}
}

// deliver performs the durable write for a placeholder and reconciles
// the store in place.
func (w *Writer) deliver(msg models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), w.writeTimeout)
	defer cancel()

	saved, err := w.svc.InsertMessage(ctx, backend.NewMessage{
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Type:           msg.Type,
		Content:        msg.Content,
		Caption:        msg.Caption,
		DurationMS:     msg.DurationMS,
	})
	if err != nil {
		w.fail(ctx, msg, telemetry.KindSendFailed, err)
		return
	}

	serverID, ok := saved.ID.Server()
	if !ok {
		w.fail(ctx, msg, telemetry.KindSendFailed, fmt.Errorf("backend returned no server id"))
		return
	}

	// Register before swapping ids so a feed echo arriving mid-swap is
	// recognized as already reconciled.
	w.registry.Add(serverID)

	saved.SenderName = msg.SenderName
	saved.Status = models.StatusSent
	saved.Placeholder = false
	if err := w.store.ReplaceID(msg.ID, saved); err != nil {
		log.Printf("writer: placeholder %s vanished before reconcile: %v", msg.ID, err)
	}
	w.forget(msg.ID)
	observability.IncSend(string(msg.Type), "succeeded")

	if err := w.svc.TouchConversation(ctx, msg.ConversationID, w.userID); err != nil {
		log.Printf("writer: touch conversation %d failed: %v", msg.ConversationID, err)
	}
}

// deliverAttachment uploads the payload first; the durable write only
// happens once the object is fully stored.
func (w *Writer) deliverAttachment(msg models.Message, att *Attachment) {
	err := w.uploads.Upload(context.Background(), msg.ID, msg.ConversationID, msg.Content, att.ContentType, att.Data, att.Size, nil)
	if err != nil {
		if errors.Is(err, upload.ErrCancelled) {
			log.Printf("writer: upload cancelled for %s", msg.ID)
			w.store.SetStatus(msg.ID, models.StatusFailed)
			return
		}
		w.fail(context.Background(), msg, telemetry.KindUploadFailed, err)
		return
	}
	w.deliver(msg)
}

func (w *Writer) fail(ctx context.Context, msg models.Message, kind string, err error) {
	log.Printf("writer: send failed for %s in conversation %d: %v", msg.ID, msg.ConversationID, err)
	w.store.SetStatus(msg.ID, models.StatusFailed)
	observability.IncSend(string(msg.Type), "failed")
	w.emitter.Emit(ctx, telemetry.SyncEvent{
		Kind:           kind,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID.String(),
		Reason:         err.Error(),
	})
}

func (w *Writer) forget(id models.ID) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}
