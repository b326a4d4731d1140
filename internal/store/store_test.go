// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/driftchat/internal/model"
)

// fakeKV is an in-memory KV for tests.
type fakeKV struct {
	data map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) Get(key string) (string, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKV) Set(key, value string) error {
	f.data[key] = value
	return nil
}

func (f *fakeKV) Delete(key string) error {
	delete(f.data, key)
	return nil
}

func newTestStore(t *testing.T, kv KV) *Store {
	t.Helper()
	s, err := New(kv, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func chatWithMessage(text string) *model.Chat {
	c := model.NewChat("test/model")
	c.AddMessage(model.NewUserMessage(text))
	return c
}

// =============================================================================
// CRUD
// =============================================================================

func TestAddPrependsNewestFirst(t *testing.T) {
	s := newTestStore(t, newFakeKV())

	first := chatWithMessage("first")
	second := chatWithMessage("second")
	if err := s.Add(first); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Add(second); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("List() len = %d, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Error("List() should be newest first")
	}
}

func TestUpdatePersistsAcrossReload(t *testing.T) {
	kv := newFakeKV()
	s := newTestStore(t, kv)

	chat := chatWithMessage("hello")
	if err := s.Add(chat); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	found, err := s.Update(chat.ID, func(c *model.Chat) {
		c.SetTitle("renamed")
	})
	if err != nil || !found {
		t.Fatalf("Update() = %v, %v", found, err)
	}

	reloaded := newTestStore(t, kv)
	got := reloaded.Get(chat.ID)
	if got == nil {
		t.Fatal("chat missing after reload")
	}
	if got.Title != "renamed" {
		t.Errorf("Title = %q, want %q", got.Title, "renamed")
	}
}

func TestUpdateBumpsUpdatedAt(t *testing.T) {
	s := newTestStore(t, newFakeKV())

	chat := chatWithMessage("hello")
	if err := s.Add(chat); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	before := s.Get(chat.ID).UpdatedAt

	// The mutation itself leaves timestamps alone; Update must still bump.
	time.Sleep(time.Millisecond)
	found, err := s.Update(chat.ID, func(c *model.Chat) {
		c.Model = "other/model"
	})
	if err != nil || !found {
		t.Fatalf("Update() = %v, %v", found, err)
	}

	if got := s.Get(chat.ID).UpdatedAt; !got.After(before) {
		t.Errorf("UpdatedAt = %v, want after %v", got, before)
	}
}

func TestUpdateUnknownIDIsNoOp(t *testing.T) {
	s := newTestStore(t, newFakeKV())
	if err := s.Add(chatWithMessage("hello")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	found, err := s.Update("no-such-chat", func(c *model.Chat) {
		t.Error("mutate must not run for unknown id")
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if found {
		t.Error("Update() found = true for unknown id")
	}
	if len(s.List()) != 1 {
		t.Error("collection changed by no-op update")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := newTestStore(t, newFakeKV())
	chat := chatWithMessage("hello")
	if err := s.Add(chat); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := s.Remove(chat.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove(chat.ID); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
	if len(s.List()) != 0 {
		t.Error("chat still present after remove")
	}
}

func TestRemoveCurrentClearsPointer(t *testing.T) {
	s := newTestStore(t, newFakeKV())
	chat := chatWithMessage("hello")
	if err := s.Add(chat); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.SetCurrent(chat.ID); err != nil {
		t.Fatalf("SetCurrent() error = %v", err)
	}

	if err := s.Remove(chat.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if s.Current() != nil {
		t.Error("Current() should be nil after removing current chat")
	}
}

func TestSetCurrentUnknownIDRejected(t *testing.T) {
	s := newTestStore(t, newFakeKV())
	if err := s.SetCurrent("no-such-chat"); err == nil {
		t.Error("SetCurrent() should reject unknown id")
	}
	if err := s.SetCurrent(""); err != nil {
		t.Errorf("SetCurrent(\"\") error = %v", err)
	}
}

func TestCurrentPersistsAcrossReload(t *testing.T) {
	kv := newFakeKV()
	s := newTestStore(t, kv)
	chat := chatWithMessage("hello")
	if err := s.Add(chat); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.SetCurrent(chat.ID); err != nil {
		t.Fatalf("SetCurrent() error = %v", err)
	}

	reloaded := newTestStore(t, kv)
	cur := reloaded.Current()
	if cur == nil || cur.ID != chat.ID {
		t.Error("current pointer lost across reload")
	}
}

// =============================================================================
// INCOGNITO
// =============================================================================

func TestIncognitoChatNotPersisted(t *testing.T) {
	kv := newFakeKV()
	s := newTestStore(t, kv)

	secret := chatWithMessage("secret")
	secret.Incognito = true
	if err := s.Add(secret); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Add(chatWithMessage("visible")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// In memory both are listed.
	if len(s.List()) != 2 {
		t.Fatalf("List() len = %d, want 2", len(s.List()))
	}

	// On disk only the durable one survives.
	reloaded := newTestStore(t, kv)
	list := reloaded.List()
	if len(list) != 1 {
		t.Fatalf("reloaded List() len = %d, want 1", len(list))
	}
	if list[0].Incognito {
		t.Error("incognito chat leaked into persistence")
	}
}

func TestCurrentIncognitoPersistsAsNone(t *testing.T) {
	kv := newFakeKV()
	s := newTestStore(t, kv)

	secret := chatWithMessage("secret")
	secret.Incognito = true
	if err := s.Add(secret); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.SetCurrent(secret.ID); err != nil {
		t.Fatalf("SetCurrent() error = %v", err)
	}

	reloaded := newTestStore(t, kv)
	if reloaded.Current() != nil {
		t.Error("incognito current pointer leaked into persistence")
	}
}

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

func TestExportImportRoundTrip(t *testing.T) {
	kv := newFakeKV()
	s := newTestStore(t, kv)
	chat := chatWithMessage("hello world")
	if err := s.Add(chat); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.SetCurrent(chat.ID); err != nil {
		t.Fatalf("SetCurrent() error = %v", err)
	}
	if err := kv.Set(SettingsKey, `{"theme":"dark"}`); err != nil {
		t.Fatal(err)
	}

	exported, err := s.Export()
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	empty := newTestStore(t, newFakeKV())
	if err := empty.Import(exported); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	again, err := empty.Export()
	if err != nil {
		t.Fatalf("re-Export() error = %v", err)
	}
	if !bytes.Equal(exported, again) {
		t.Errorf("round-trip mismatch:\n  first  = %s\n  second = %s", exported, again)
	}
}

func TestExportExcludesIncognito(t *testing.T) {
	s := newTestStore(t, newFakeKV())
	secret := chatWithMessage("secret")
	secret.Incognito = true
	if err := s.Add(secret); err != nil {
		t.Fatal(err)
	}

	exported, err := s.Export()
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if bytes.Contains(exported, []byte("secret")) {
		t.Error("incognito content leaked into export")
	}
}

func TestImportKeepsIncognitoChats(t *testing.T) {
	s := newTestStore(t, newFakeKV())
	secret := chatWithMessage("secret")
	secret.Incognito = true
	if err := s.Add(secret); err != nil {
		t.Fatal(err)
	}

	other := newTestStore(t, newFakeKV())
	if err := other.Add(chatWithMessage("imported")); err != nil {
		t.Fatal(err)
	}
	exported, err := other.Export()
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Import(exported); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(s.List()) != 2 {
		t.Errorf("List() len = %d, want incognito chat plus imported chat", len(s.List()))
	}
	if s.Get(secret.ID) == nil {
		t.Error("incognito chat dropped by import")
	}
}

func TestEncryptedExportRoundTrip(t *testing.T) {
	s := newTestStore(t, newFakeKV())
	chat := chatWithMessage("classified")
	if err := s.Add(chat); err != nil {
		t.Fatal(err)
	}

	enc, err := s.ExportEncrypted("correct horse battery staple")
	if err != nil {
		t.Fatalf("ExportEncrypted() error = %v", err)
	}
	if bytes.Contains(enc, []byte("classified")) {
		t.Error("plaintext visible in encrypted export")
	}

	dst := newTestStore(t, newFakeKV())
	if err := dst.ImportEncrypted(enc, "correct horse battery staple"); err != nil {
		t.Fatalf("ImportEncrypted() error = %v", err)
	}
	if dst.Get(chat.ID) == nil {
		t.Error("chat missing after encrypted round-trip")
	}
}

func TestEncryptedImportWrongPassphrase(t *testing.T) {
	s := newTestStore(t, newFakeKV())
	if err := s.Add(chatWithMessage("classified")); err != nil {
		t.Fatal(err)
	}
	enc, err := s.ExportEncrypted("right")
	if err != nil {
		t.Fatal(err)
	}

	dst := newTestStore(t, newFakeKV())
	if err := dst.ImportEncrypted(enc, "wrong"); !errors.Is(err, ErrBadPassphrase) {
		t.Errorf("ImportEncrypted() error = %v, want ErrBadPassphrase", err)
	}
}
