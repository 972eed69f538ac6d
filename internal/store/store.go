package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"chat-client/internal/models"
)

var ErrNotFound = errors.New("message not found in store")

// ChangeKind classifies store mutations reported to the notify hook.
type ChangeKind string

const (
	ChangeUpsert    ChangeKind = "upsert"
	ChangeRemove    ChangeKind = "remove"
	ChangeReplaceID ChangeKind = "replace_id"
	ChangeReset     ChangeKind = "reset"
)

// Change describes one store mutation.
type Change struct {
	Kind    ChangeKind     `json:"kind"`
	Message *models.Message `json:"message,omitempty"`
	OldID   models.ID      `json:"old_id,omitempty"`
	ID      models.ID      `json:"id,omitempty"`
}

type entry struct {
	msg models.Message
	seq uint64
}

// Store is the in-memory ordered collection of message records for one
// conversation: the single source of truth rendered by the UI. Records are
// kept sorted by CreatedAt with ties broken by insertion order. All
// mutation entry points funnel through this type; a single mutex
// serializes them.
type Store struct {
	mu      sync.RWMutex
	entries []entry
	seqs    map[models.ID]uint64
	nextSeq uint64
	notify  func(Change)
}

// New creates an empty store.
func New() *Store {
	return &Store{seqs: make(map[models.ID]uint64)}
}

// SetNotify installs a hook invoked after every mutation. Must be set
// before the store is shared. The hook runs outside the store lock, so
// changes from racing mutations may arrive out of application order;
// consumers must treat them as hints and resync from Snapshot, not
// replay them as a log.
func (s *Store) SetNotify(fn func(Change)) {
	s.notify = fn
}

func (s *Store) emit(c Change) {
	if s.notify != nil {
		s.notify(c)
	}
}

// indexOf returns the position of id, or -1. Caller holds the lock.
func (s *Store) indexOf(id models.ID) int {
	seq, ok := s.seqs[id]
	if !ok {
		return -1
	}
	for i := range s.entries {
		if s.entries[i].seq == seq && s.entries[i].msg.ID == id {
			return i
		}
	}
	return -1
}

// insertLocked places e at its ordered position. Caller holds the lock.
func (s *Store) insertLocked(e entry) {
	pos := sort.Search(len(s.entries), func(i int) bool {
		if s.entries[i].msg.CreatedAt.Equal(e.msg.CreatedAt) {
			return s.entries[i].seq > e.seq
		}
		return s.entries[i].msg.CreatedAt.After(e.msg.CreatedAt)
	})
	s.entries = append(s.entries, entry{})
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = e
}

// Upsert inserts the record at its timestamp position, or updates the
// existing record with the same id in place.
func (s *Store) Upsert(msg models.Message) {
	s.mu.Lock()
	if idx := s.indexOf(msg.ID); idx >= 0 {
		seq := s.entries[idx].seq
		s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
		s.insertLocked(entry{msg: msg, seq: seq})
	} else {
		s.nextSeq++
		s.seqs[msg.ID] = s.nextSeq
		s.insertLocked(entry{msg: msg, seq: s.nextSeq})
	}
	s.mu.Unlock()

	m := msg
	s.emit(Change{Kind: ChangeUpsert, Message: &m, ID: msg.ID})
}

// Get returns the record with the given id.
func (s *Store) Get(id models.ID) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return models.Message{}, false
	}
	return s.entries[idx].msg, true
}

// Contains reports whether a record with the given id is present.
func (s *Store) Contains(id models.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seqs[id]
	return ok
}

// RemoveByID deletes the record with the given id; absence is not an error.
func (s *Store) RemoveByID(id models.ID) bool {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	delete(s.seqs, id)
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeRemove, ID: id})
	return true
}

// ReplaceID swaps a placeholder's temporary id for the reconciled record
// under one lock: consumers never observe both ids present, nor neither.
func (s *Store) ReplaceID(oldID models.ID, newMsg models.Message) error {
	s.mu.Lock()
	idx := s.indexOf(oldID)
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	seq := s.entries[idx].seq
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	delete(s.seqs, oldID)
	// The feed echo may have inserted the reconciled id already; the
	// placeholder's record wins and the duplicate goes.
	if dup := s.indexOf(newMsg.ID); dup >= 0 {
		s.entries = append(s.entries[:dup], s.entries[dup+1:]...)
	}
	s.seqs[newMsg.ID] = seq
	s.insertLocked(entry{msg: newMsg, seq: seq})
	s.mu.Unlock()

	m := newMsg
	s.emit(Change{Kind: ChangeReplaceID, Message: &m, OldID: oldID, ID: newMsg.ID})
	return nil
}

// SetStatus updates the status of the record with the given id in place.
func (s *Store) SetStatus(id models.ID, status models.Status) bool {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.entries[idx].msg.Status = status
	m := s.entries[idx].msg
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeUpsert, Message: &m, ID: id})
	return true
}

// UpdateSignedURL stores a freshly resolved media reference on the record.
// Signed URLs expire; they are never persisted and re-resolved on demand.
func (s *Store) UpdateSignedURL(id models.ID, url string, expiresAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}
	s.entries[idx].msg.SignedURL = url
	s.entries[idx].msg.SignedURLExpiresAt = expiresAt
	return true
}

// Snapshot returns an ordered copy of all records for rendering.
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.entries))
	for i := range s.entries {
		out[i] = s.entries[i].msg
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ReplaceAuthoritative makes the store content equal to the authoritative
// fetch result, dropping any previously cached records absent from it.
// Local temp-id placeholders (pending or failed sends) survive.
func (s *Store) ReplaceAuthoritative(msgs []models.Message) {
	s.mu.Lock()
	var kept []entry
	for _, e := range s.entries {
		if e.msg.ID.IsTemp() {
			kept = append(kept, e)
		} else {
			delete(s.seqs, e.msg.ID)
		}
	}
	s.entries = s.entries[:0]
	for _, e := range kept {
		s.insertLocked(e)
	}
	for _, m := range msgs {
		if _, ok := s.seqs[m.ID]; ok {
			continue
		}
		s.nextSeq++
		s.seqs[m.ID] = s.nextSeq
		s.insertLocked(entry{msg: m, seq: s.nextSeq})
	}
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeReset})
}
