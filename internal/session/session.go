package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"chat-client/internal/backend"
	"chat-client/internal/cache"
	"chat-client/internal/feed"
	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/realtime"
	"chat-client/internal/store"
	"chat-client/internal/telemetry"
	"chat-client/internal/upload"
	"chat-client/internal/writer"
)

// ErrNotOpen reports an operation on a conversation with no open session.
var ErrNotOpen = errors.New("conversation not open")

// Session is one open conversation: its in-memory store, its optimistic
// writer and the running reconciler behind them.
type Session struct {
	ConversationID int64
	Store          *store.Store
	Writer         *writer.Writer

	sub    *feed.Subscription
	cancel context.CancelFunc
}

// Manager owns conversation lifecycle: Open assembles the store from
// cache and the authoritative fetch and starts reconciliation, Close
// tears the session down and persists the snapshot. The reconciled-ids
// registry is shared across all sessions.
type Manager struct {
	svc      backend.WriteService
	feed     feed.Feed
	cache    *cache.Cache
	uploads  upload.Service
	registry *store.Registry
	emitter  *telemetry.Emitter

	userID       int64
	writeTimeout time.Duration

	onChange func(conversationID int64, c store.Change)

	mu       sync.Mutex
	userName string
	sessions map[int64]*Session
}

// Options configures a Manager.
type Options struct {
	Service      backend.WriteService
	Feed         feed.Feed
	Cache        *cache.Cache
	Uploads      upload.Service
	Registry     *store.Registry
	Emitter      *telemetry.Emitter
	UserID       int64
	WriteTimeout time.Duration
}

// NewManager builds a session manager.
func NewManager(opts Options) *Manager {
	return &Manager{
		svc:          opts.Service,
		feed:         opts.Feed,
		cache:        opts.Cache,
		uploads:      opts.Uploads,
		registry:     opts.Registry,
		emitter:      opts.Emitter,
		userID:       opts.UserID,
		writeTimeout: opts.WriteTimeout,
		sessions:     make(map[int64]*Session),
	}
}

// SetOnChange installs the store change fanout, called once at wiring
// time before any session opens.
func (m *Manager) SetOnChange(fn func(conversationID int64, c store.Change)) {
	m.onChange = fn
}

// Get returns the open session for a conversation.
func (m *Manager) Get(conversationID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[conversationID]
	return s, ok
}

// IsOpen reports whether the conversation has an open session.
func (m *Manager) IsOpen(conversationID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[conversationID]
	return ok
}

// Open starts a session for the conversation, or returns the existing
// one. The store fills in stages: cached snapshot first for immediate
// rendering, then the authoritative fetch supersedes it. The feed is
// subscribed before the fetch so no event falls in the gap; events
// buffer until the reconciler starts and are deduplicated by id.
func (m *Manager) Open(ctx context.Context, conversationID int64) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[conversationID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	st := store.New()
	if m.onChange != nil {
		st.SetNotify(func(c store.Change) {
			m.onChange(conversationID, c)
		})
	}

	if m.cache != nil {
		cached, err := m.cache.Load(conversationID)
		if err == nil {
			observability.IncCacheLookup("hit")
			st.ReplaceAuthoritative(cached)
		} else if errors.Is(err, cache.ErrMiss) {
			observability.IncCacheLookup("miss")
		} else {
			observability.IncCacheLookup("error")
			log.Printf("session: cache load failed for conversation %d: %v", conversationID, err)
		}
	}

	sctx, cancel := context.WithCancel(context.Background())

	sub, subErr := m.feed.Subscribe(sctx, conversationID)
	if subErr != nil {
		log.Printf("session: feed subscribe failed for conversation %d: %v", conversationID, subErr)
		m.emitter.Emit(ctx, telemetry.SyncEvent{
			Kind:           telemetry.KindFeedError,
			ConversationID: conversationID,
			Reason:         subErr.Error(),
		})
	}

	msgs, fetchErr := m.svc.ListMessages(ctx, conversationID)
	if fetchErr != nil {
		// Offline open: the cached snapshot stays the rendered state.
		log.Printf("session: authoritative fetch failed for conversation %d: %v", conversationID, fetchErr)
	} else {
		st.ReplaceAuthoritative(msgs)
	}

	if subErr != nil && fetchErr != nil && st.Len() == 0 {
		cancel()
		return nil, fmt.Errorf("open conversation %d: %w", conversationID, fetchErr)
	}

	s := &Session{
		ConversationID: conversationID,
		Store:          st,
		Writer: writer.New(writer.Options{
			Store:        st,
			Registry:     m.registry,
			Service:      m.svc,
			Uploads:      m.uploads,
			Emitter:      m.emitter,
			UserID:       m.userID,
			UserName:     m.senderName(ctx),
			WriteTimeout: m.writeTimeout,
		}),
		sub:    sub,
		cancel: cancel,
	}

	if sub != nil {
		rec := realtime.New(st, m.registry, m.svc, m.emitter)
		go rec.Run(sctx, conversationID, sub)
	}

	m.mu.Lock()
	if existing, ok := m.sessions[conversationID]; ok {
		// Lost the race to a concurrent Open.
		m.mu.Unlock()
		cancel()
		if sub != nil {
			_ = sub.Close()
		}
		return existing, nil
	}
	m.sessions[conversationID] = s
	m.mu.Unlock()

	log.Printf("session: opened conversation %d with %d messages", conversationID, st.Len())
	return s, nil
}

// Close ends the conversation's session: the reconciler stops, in-flight
// uploads are cancelled and the snapshot is persisted for the next open.
func (m *Manager) Close(conversationID int64) error {
	m.mu.Lock()
	s, ok := m.sessions[conversationID]
	if ok {
		delete(m.sessions, conversationID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotOpen
	}

	m.uploads.CancelConversation(conversationID)
	// Deliveries settle before the snapshot persists; a cancelled upload
	// must reach the cache as failed, never as pending.
	s.Writer.Wait()
	if s.sub != nil {
		_ = s.sub.Close()
	}
	s.cancel()

	if m.cache != nil {
		if err := m.cache.Save(conversationID, s.Store.Snapshot()); err != nil {
			log.Printf("session: cache save failed for conversation %d: %v", conversationID, err)
		}
	}
	log.Printf("session: closed conversation %d", conversationID)
	return nil
}

// CloseAll closes every open session, used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Close(id)
	}
}

// senderName resolves the local user's display name once and reuses it
// for every placeholder.
func (m *Manager) senderName(ctx context.Context) string {
	m.mu.Lock()
	name := m.userName
	m.mu.Unlock()
	if name != "" {
		return name
	}

	name, err := m.svc.SenderName(ctx, m.userID)
	if err != nil {
		log.Printf("session: own display name lookup failed: %v", err)
		return ""
	}

	m.mu.Lock()
	m.userName = name
	m.mu.Unlock()
	return name
}

// Messages returns the ordered snapshot for an open conversation, lazily
// refreshing expired signed URLs for media records.
func (m *Manager) Messages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	s, ok := m.Get(conversationID)
	if !ok {
		return nil, ErrNotOpen
	}

	msgs := s.Store.Snapshot()
	now := time.Now()
	for i, msg := range msgs {
		if !msg.HasMedia() || msg.ID.IsTemp() || msg.SignedURLValid(now) {
			continue
		}
		signed, err := m.uploads.Sign(ctx, msg.Content)
		if err != nil {
			log.Printf("session: sign failed for %s: %v", msg.ID, err)
			continue
		}
		s.Store.UpdateSignedURL(msg.ID, signed.URL, signed.ExpiresAt)
		msgs[i].SignedURL = signed.URL
		msgs[i].SignedURLExpiresAt = signed.ExpiresAt
	}
	return msgs, nil
}
