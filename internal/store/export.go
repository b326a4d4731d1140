// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jeranaias/driftchat/internal/model"
	"github.com/jeranaias/driftchat/internal/trigger"
)

// =============================================================================
// EXPORT FORMAT
// =============================================================================

// ExportVersion is the current export document format version.
const ExportVersion = 1

// Document is the whole-state export format: the durable chat collection,
// the current pointer, trigger overrides, and opaque settings.
type Document struct {
	Version          int             `json:"version"`
	Chats            []*model.Chat   `json:"chats"`
	Current          string          `json:"current,omitempty"`
	TriggerOverrides json.RawMessage `json:"trigger_overrides,omitempty"`
	Settings         json.RawMessage `json:"settings,omitempty"`
}

// ErrBadPassphrase is returned when decryption fails, normally because of
// a wrong passphrase.
var ErrBadPassphrase = errors.New("cannot decrypt export: wrong passphrase or corrupt data")

// =============================================================================
// PLAINTEXT EXPORT / IMPORT
// =============================================================================

// Export serializes the durable state to JSON. Incognito chats are
// excluded. Importing the result into an empty store reproduces the
// exported state exactly.
func (s *Store) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := Document{Version: ExportVersion, Chats: make([]*model.Chat, 0, len(s.chats))}
	for _, c := range s.chats {
		if !c.Incognito {
			doc.Chats = append(doc.Chats, c)
		}
	}
	if c := s.findLocked(s.current); c != nil && !c.Incognito {
		doc.Current = s.current
	}

	if raw, ok, err := s.kv.Get(trigger.OverridesKey); err != nil {
		return nil, fmt.Errorf("reading trigger overrides: %w", err)
	} else if ok {
		doc.TriggerOverrides = json.RawMessage(raw)
	}
	if raw, ok, err := s.kv.Get(SettingsKey); err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	} else if ok {
		doc.Settings = json.RawMessage(raw)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding export: %w", err)
	}
	return out, nil
}

// Import replaces the store contents with the given export document.
// Incognito chats currently in memory are kept; durable chats are
// replaced wholesale.
func (s *Store) Import(data []byte) error {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding export: %w", err)
	}
	if doc.Version > ExportVersion {
		return fmt.Errorf("unsupported export version %d", doc.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	incognito := make([]*model.Chat, 0)
	for _, c := range s.chats {
		if c.Incognito {
			incognito = append(incognito, c)
		}
	}
	s.chats = append(incognito, doc.Chats...)

	s.current = ""
	if doc.Current != "" && s.findLocked(doc.Current) != nil {
		s.current = doc.Current
	}

	if len(doc.TriggerOverrides) > 0 {
		if err := s.kv.Set(trigger.OverridesKey, string(doc.TriggerOverrides)); err != nil {
			return fmt.Errorf("restoring trigger overrides: %w", err)
		}
	}
	if len(doc.Settings) > 0 {
		if err := s.kv.Set(SettingsKey, string(doc.Settings)); err != nil {
			return fmt.Errorf("restoring settings: %w", err)
		}
	}

	return s.persistLocked()
}

// =============================================================================
// ENCRYPTED EXPORT / IMPORT
// =============================================================================

// PBKDF2-SHA-256 parameters (NIST SP 800-132).
const (
	keySize          = 32
	saltSize         = 32
	pbkdf2Iterations = 600000
)

// envelope wraps an encrypted export payload.
type envelope struct {
	Format string `json:"format"`
	Salt   []byte `json:"salt"`
	Nonce  []byte `json:"nonce"`
	Data   []byte `json:"data"`
}

const envelopeFormat = "driftchat-export-aes256gcm"

// ExportEncrypted serializes the durable state and encrypts it with a key
// derived from the passphrase.
func (s *Store) ExportEncrypted(passphrase string) ([]byte, error) {
	plain, err := s.Export()
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	env := envelope{
		Format: envelopeFormat,
		Salt:   salt,
		Nonce:  nonce,
		Data:   gcm.Seal(nil, nonce, plain, nil),
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding encrypted export: %w", err)
	}
	return out, nil
}

// ImportEncrypted decrypts an encrypted export and imports it.
func (s *Store) ImportEncrypted(data []byte, passphrase string) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decoding encrypted export: %w", err)
	}
	if env.Format != envelopeFormat {
		return fmt.Errorf("unrecognized export format %q", env.Format)
	}

	gcm, err := newGCM(passphrase, env.Salt)
	if err != nil {
		return err
	}
	if len(env.Nonce) != gcm.NonceSize() {
		return ErrBadPassphrase
	}
	plain, err := gcm.Open(nil, env.Nonce, env.Data, nil)
	if err != nil {
		return ErrBadPassphrase
	}
	return s.Import(plain)
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM cipher: %w", err)
	}
	return gcm, nil
}
