// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvstore

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T, capacity int64) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"), capacity)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetDelete(t *testing.T) {
	s := openTestStore(t, 0)

	if err := s.Set("chat/collection", `[{"id":"1"}]`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Read-after-write must observe the write.
	v, ok, err := s.Get("chat/collection")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || v != `[{"id":"1"}]` {
		t.Errorf("Get = (%q, %v), want stored value", v, ok)
	}

	if err := s.Delete("chat/collection"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, ok, err = s.Get("chat/collection")
	if err != nil {
		t.Fatalf("Get after delete failed: %v", err)
	}
	if ok {
		t.Error("key still present after Delete")
	}

	// Deleting again is not an error.
	if err := s.Delete("chat/collection"); err != nil {
		t.Errorf("repeated Delete failed: %v", err)
	}
}

func TestSetOverwrite(t *testing.T) {
	s := openTestStore(t, 0)

	if err := s.Set("k", "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("k", "second"); err != nil {
		t.Fatal(err)
	}
	v, _, _ := s.Get("k")
	if v != "second" {
		t.Errorf("Get = %q, want %q", v, "second")
	}
}

func TestKeysPrefix(t *testing.T) {
	s := openTestStore(t, 0)

	for _, k := range []string{"log/a", "log/b", "chat/collection"} {
		if err := s.Set(k, "x"); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.Keys("log/")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Keys(log/) = %v, want 2 entries", keys)
	}
}

func TestCapacityTruncatesLogsFirst(t *testing.T) {
	s := openTestStore(t, 300)

	// Fill most of the budget with log entries.
	if err := s.Set("log/old", strings.Repeat("a", 120)); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("log/new", strings.Repeat("b", 120)); err != nil {
		t.Fatal(err)
	}

	// A chat write that doesn't fit must evict the oldest log entry,
	// never fail outright.
	if err := s.Set("chat/collection", strings.Repeat("c", 100)); err != nil {
		t.Fatalf("chat write failed instead of truncating logs: %v", err)
	}

	if _, ok, _ := s.Get("log/old"); ok {
		t.Error("oldest log entry survived capacity pressure")
	}
	if _, ok, _ := s.Get("chat/collection"); !ok {
		t.Error("chat collection missing after write")
	}
}

func TestCapacityExceededWhenNothingTruncatable(t *testing.T) {
	s := openTestStore(t, 100)

	if err := s.Set("chat/collection", strings.Repeat("a", 80)); err != nil {
		t.Fatal(err)
	}

	// Chat entries are not truncatable, so this cannot fit.
	err := s.Set("settings", strings.Repeat("b", 80))
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("err = %v, want ErrCapacityExceeded", err)
	}

	// The original entry must be intact.
	if _, ok, _ := s.Get("chat/collection"); !ok {
		t.Error("existing chat entry lost on failed write")
	}
}

func TestOverwriteDoesNotDoubleCount(t *testing.T) {
	s := openTestStore(t, 200)

	big := strings.Repeat("a", 150)
	if err := s.Set("k", big); err != nil {
		t.Fatal(err)
	}
	// Replacing the same key with same-sized data must fit.
	if err := s.Set("k", strings.Repeat("b", 150)); err != nil {
		t.Errorf("overwrite of existing key failed: %v", err)
	}
}
