// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the in-memory chat collection and its durable copy.
//
// The collection keeps every chat, incognito ones included, plus a pointer
// to the currently open chat. Every mutation synchronously persists the
// non-incognito subset before returning, so a reload after any operation
// observes that operation. Incognito chats live only in memory and are
// invisible to persistence, export, and sync.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/driftchat/internal/model"
)

// =============================================================================
// KEYS
// =============================================================================

const (
	// CollectionKey is the kv key holding the persisted chat list.
	CollectionKey = "chat/collection"

	// CurrentKey is the kv key holding the current chat pointer.
	CurrentKey = "chat/current"

	// SettingsKey is the kv key holding opaque client settings.
	SettingsKey = "settings"
)

// KV is the durable key-value store the collection persists into.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// =============================================================================
// STORE
// =============================================================================

// Store is the chat collection. Chats are ordered newest first.
type Store struct {
	mu      sync.RWMutex
	kv      KV
	log     zerolog.Logger
	chats   []*model.Chat
	current string
}

// New creates a store and loads any persisted collection from kv.
func New(kv KV, log zerolog.Logger) (*Store, error) {
	s := &Store{kv: kv, log: log}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	raw, ok, err := s.kv.Get(CollectionKey)
	if err != nil {
		return fmt.Errorf("loading chat collection: %w", err)
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &s.chats); err != nil {
			return fmt.Errorf("decoding chat collection: %w", err)
		}
	}

	cur, ok, err := s.kv.Get(CurrentKey)
	if err != nil {
		return fmt.Errorf("loading current chat: %w", err)
	}
	if ok && s.findLocked(cur) != nil {
		s.current = cur
	}

	s.log.Debug().Int("chats", len(s.chats)).Msg("chat collection loaded")
	return nil
}

// =============================================================================
// READS
// =============================================================================

// List returns a snapshot of the collection, newest first. The chats
// themselves are shared; callers must not mutate them directly.
func (s *Store) List() []*model.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Chat, len(s.chats))
	copy(out, s.chats)
	return out
}

// Get returns the chat with the given ID, or nil.
func (s *Store) Get(id string) *model.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(id)
}

// Current returns the currently open chat, or nil when none is set.
func (s *Store) Current() *model.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == "" {
		return nil
	}
	return s.findLocked(s.current)
}

func (s *Store) findLocked(id string) *model.Chat {
	for _, c := range s.chats {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Add prepends a chat to the collection and persists.
func (s *Store) Add(chat *model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append([]*model.Chat{chat}, s.chats...)
	return s.persistLocked()
}

// Update applies mutate to the chat with the given ID, bumps its
// UpdatedAt, then persists. An unknown ID is a no-op; the return reports
// whether the chat was found.
func (s *Store) Update(id string, mutate func(*model.Chat)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.findLocked(id)
	if chat == nil {
		return false, nil
	}
	mutate(chat)
	chat.UpdatedAt = time.Now()
	return true, s.persistLocked()
}

// Remove deletes the chat with the given ID and persists. Removing an
// absent ID is not an error. A removed current chat clears the pointer.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.chats {
		if c.ID == id {
			s.chats = append(s.chats[:i], s.chats[i+1:]...)
			break
		}
	}
	if s.current == id {
		s.current = ""
	}
	return s.persistLocked()
}

// SetCurrent points the collection at the given chat ID. An empty ID
// clears the pointer; an unknown ID is rejected.
func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && s.findLocked(id) == nil {
		return fmt.Errorf("unknown chat %q", id)
	}
	s.current = id
	return s.persistLocked()
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// persistLocked writes the non-incognito subset to kv. Caller holds the
// write lock.
func (s *Store) persistLocked() error {
	durable := make([]*model.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		if !c.Incognito {
			durable = append(durable, c)
		}
	}

	raw, err := json.Marshal(durable)
	if err != nil {
		return fmt.Errorf("encoding chat collection: %w", err)
	}
	if err := s.kv.Set(CollectionKey, string(raw)); err != nil {
		return fmt.Errorf("persisting chat collection: %w", err)
	}

	// The pointer follows the same visibility rule: a current incognito
	// chat persists as no current chat at all.
	cur := s.current
	if c := s.findLocked(cur); c == nil || c.Incognito {
		cur = ""
	}
	if err := s.kv.Set(CurrentKey, cur); err != nil {
		return fmt.Errorf("persisting current chat: %w", err)
	}
	return nil
}
