package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cockroachdb/pebble"

	"chat-client/internal/models"
)

// ErrMiss is returned when no usable entry exists for a conversation.
// Expired and corrupt entries are both reported as misses.
var ErrMiss = errors.New("cache miss")

// Cache persists per-conversation message snapshots in a local Pebble
// database. Entries only pre-populate the Message Store on open and are
// always superseded by the authoritative fetch.
type Cache struct {
	db  *pebble.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens (or creates) the cache database at path. Entries older than
// ttl are treated as misses.
func Open(path string, ttl time.Duration) (*Cache, error) {
	database, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	return &Cache{db: database, ttl: ttl, now: time.Now}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func key(conversationID int64) []byte {
	return []byte(fmt.Sprintf("conv:%d:messages", conversationID))
}

// Save persists the snapshot for a conversation. Signed media references
// are stripped: they expire and must be re-resolved after a reload.
func (c *Cache) Save(conversationID int64, msgs []models.Message) error {
	entry := models.CacheEntry{
		ConversationID: conversationID,
		Messages:       make([]models.Message, len(msgs)),
		CachedAt:       c.now(),
	}
	for i, m := range msgs {
		m.SignedURL = ""
		m.SignedURLExpiresAt = time.Time{}
		entry.Messages[i] = m
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return c.db.Set(key(conversationID), data, pebble.Sync)
}

// Load returns the cached snapshot for a conversation, or ErrMiss when
// the entry is absent, expired, or unreadable.
func (c *Cache) Load(conversationID int64) ([]models.Message, error) {
	data, closer, err := c.db.Get(key(conversationID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	buf := append([]byte(nil), data...)
	if err := closer.Close(); err != nil {
		return nil, err
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(buf, &entry); err != nil {
		log.Printf("cache: dropping corrupt entry for conversation %d: %v", conversationID, err)
		_ = c.Evict(conversationID)
		return nil, ErrMiss
	}
	if c.now().Sub(entry.CachedAt) > c.ttl {
		_ = c.Evict(conversationID)
		return nil, ErrMiss
	}
	return entry.Messages, nil
}

// Evict removes the entry for a conversation.
func (c *Cache) Evict(conversationID int64) error {
	return c.db.Delete(key(conversationID), pebble.Sync)
}
