// Package history holds the conversation model and the Store that mirrors the
// conversation list to a durable key-value backend after every change.
package history

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/comigor/lana-go/internal/logger"
)

// StorageKey is the backend key holding the JSON array of conversations.
const StorageKey = "conversations"

// Store is the in-memory conversation collection, kept in creation order.
type Store struct {
	mu            sync.Mutex
	backend       Backend
	conversations []Conversation
	newID         func() string
}

// Open builds a Store over backend and loads whatever it already holds.
func Open(backend Backend) *Store {
	s := &Store{backend: backend, newID: uuid.NewString}
	s.conversations = s.LoadAll()
	return s
}

// LoadAll reads the persisted collection. Absent or malformed data yields an
// empty slice; the error is only logged.
func (s *Store) LoadAll() []Conversation {
	raw, ok, err := s.backend.Get(StorageKey)
	if err != nil {
		logger.L.Warn().Err(err).Msg("failed to read stored conversations; starting empty")
		return []Conversation{}
	}
	if !ok || len(raw) == 0 {
		return []Conversation{}
	}
	out, err := decode(raw)
	if err != nil {
		logger.L.Warn().Err(err).Msg("stored conversations are malformed; starting empty")
		return []Conversation{}
	}
	return out
}

func decode(raw []byte) ([]Conversation, error) {
	var out []Conversation
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "decode conversations")
	}
	for _, c := range out {
		if err := Validate(c.Messages); err != nil {
			return nil, errors.Wrapf(err, "conversation %s", c.ID)
		}
	}
	if out == nil {
		out = []Conversation{}
	}
	return out, nil
}

// Persist overwrites the backend with the current collection.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	raw, err := json.Marshal(s.conversations)
	if err != nil {
		return errors.Wrap(err, "encode conversations")
	}
	if err := s.backend.Set(StorageKey, raw); err != nil {
		return errors.Wrap(err, "persist conversations")
	}
	logger.L.Debug().Int("conversations", len(s.conversations)).Msg("conversations persisted")
	return nil
}

// Create appends a new conversation with a fresh id and persists.
func (s *Store) Create(messages []Message, title string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Conversation{ID: s.newID(), Title: title, Messages: cloneMessages(messages)}
	s.conversations = append(s.conversations, c)
	return c.clone(), s.persistLocked()
}

// Update replaces the messages of the conversation with the given id. An
// unknown id changes nothing; the collection is persisted either way.
func (s *Store) Update(id string, messages []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			s.conversations[i].Messages = cloneMessages(messages)
			break
		}
	}
	return s.persistLocked()
}

// Remove deletes the conversation at indexFromNewest in newest-first display
// order, which is position len-1-indexFromNewest in creation order.
func (s *Store) Remove(indexFromNewest int) (Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := len(s.conversations) - 1 - indexFromNewest
	if indexFromNewest < 0 || pos < 0 {
		return Conversation{}, false, nil
	}
	removed := s.conversations[pos]
	s.conversations = append(s.conversations[:pos], s.conversations[pos+1:]...)
	return removed, true, s.persistLocked()
}

// Get looks a conversation up by id.
func (s *Store) Get(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.ID == id {
			return c.clone(), true
		}
	}
	return Conversation{}, false
}

// List returns the conversations in creation order.
func (s *Store) List() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = c.clone()
	}
	return out
}

// Newest returns the conversations in display order, most recent first.
func (s *Store) Newest() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.conversations)
	out := make([]Conversation, n)
	for i, c := range s.conversations {
		out[n-1-i] = c.clone()
	}
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
