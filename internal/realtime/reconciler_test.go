package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-client/internal/feed"
	"chat-client/internal/mocks"
	"chat-client/internal/models"
	"chat-client/internal/store"
)

func serverMsg(id int64, at time.Time) *models.Message {
	return &models.Message{
		ID:             models.ServerID(id),
		ConversationID: 1,
		SenderID:       20,
		Type:           models.TypeText,
		Content:        "from feed",
		CreatedAt:      at,
	}
}

func TestApplyInsert(t *testing.T) {
	st := store.New()
	reg := store.NewRegistry(30 * time.Second)
	svc := new(mocks.WriteServiceMock)
	svc.On("SenderName", mock.Anything, int64(20)).Return("bob", nil)

	r := New(st, reg, svc, nil)
	r.Apply(context.Background(), models.Event{Type: models.EventInsert, Message: serverMsg(1, time.Now())})

	got, ok := st.Get(models.ServerID(1))
	require.True(t, ok)
	assert.Equal(t, "bob", got.SenderName)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.False(t, got.Placeholder)
}

func TestApplyInsertDuplicateDropped(t *testing.T) {
	st := store.New()
	r := New(st, store.NewRegistry(30*time.Second), nil, nil)

	at := time.Now()
	first := serverMsg(1, at)
	first.SenderName = "bob"
	r.Apply(context.Background(), models.Event{Type: models.EventInsert, Message: first})

	redelivered := serverMsg(1, at)
	redelivered.Content = "mutated redelivery"
	redelivered.SenderName = "bob"
	r.Apply(context.Background(), models.Event{Type: models.EventInsert, Message: redelivered})

	require.Equal(t, 1, st.Len())
	got, _ := st.Get(models.ServerID(1))
	assert.Equal(t, "from feed", got.Content)
}

func TestApplyInsertSelfEchoDropped(t *testing.T) {
	st := store.New()
	reg := store.NewRegistry(30 * time.Second)
	r := New(st, reg, nil, nil)

	// The writer already reconciled this id and the record was then
	// removed locally; the echo must not resurrect it.
	reg.Add(5)
	r.Apply(context.Background(), models.Event{Type: models.EventInsert, Message: serverMsg(5, time.Now())})

	assert.Equal(t, 0, st.Len())
}

func TestApplyDelete(t *testing.T) {
	st := store.New()
	r := New(st, store.NewRegistry(30*time.Second), nil, nil)

	msg := serverMsg(3, time.Now())
	msg.SenderName = "bob"
	r.Apply(context.Background(), models.Event{Type: models.EventInsert, Message: msg})
	require.Equal(t, 1, st.Len())

	r.Apply(context.Background(), models.Event{Type: models.EventDelete, MessageID: models.ServerID(3)})
	assert.Equal(t, 0, st.Len())

	// Redelivered delete for an absent id is a no-op.
	r.Apply(context.Background(), models.Event{Type: models.EventDelete, MessageID: models.ServerID(3)})
	assert.Equal(t, 0, st.Len())
}

func TestApplyKeepsOrdering(t *testing.T) {
	st := store.New()
	svc := new(mocks.WriteServiceMock)
	svc.On("SenderName", mock.Anything, mock.Anything).Return("bob", nil)
	r := New(st, store.NewRegistry(30*time.Second), svc, nil)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Out-of-order arrival: the store positions by timestamp.
	r.Apply(context.Background(), models.Event{Type: models.EventInsert, Message: serverMsg(2, base.Add(time.Second))})
	r.Apply(context.Background(), models.Event{Type: models.EventInsert, Message: serverMsg(1, base)})

	snapshot := st.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, models.ServerID(1), snapshot[0].ID)
	assert.Equal(t, models.ServerID(2), snapshot[1].ID)
}

func TestApplyMalformedEvents(t *testing.T) {
	st := store.New()
	r := New(st, store.NewRegistry(30*time.Second), nil, nil)

	r.Apply(context.Background(), models.Event{Type: models.EventInsert})
	r.Apply(context.Background(), models.Event{Type: models.EventInsert, Message: &models.Message{ID: models.TempID(9, 1)}})
	r.Apply(context.Background(), models.Event{Type: models.EventDelete})
	r.Apply(context.Background(), models.Event{Type: "unknown"})

	assert.Equal(t, 0, st.Len())
}

func TestRunDrainsSubscription(t *testing.T) {
	st := store.New()
	svc := new(mocks.WriteServiceMock)
	svc.On("SenderName", mock.Anything, mock.Anything).Return("bob", nil)
	r := New(st, store.NewRegistry(30*time.Second), svc, nil)

	f := feed.NewChannelFeed()
	sub, err := f.Subscribe(context.Background(), 1)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), 1, sub)
		close(done)
	}()

	f.Emit(1, models.Event{Type: models.EventInsert, Message: serverMsg(1, time.Now())})
	require.Eventually(t, func() bool { return st.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	sub.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reconciler did not stop after subscription closed")
	}
}
