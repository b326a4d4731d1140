// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package trigger

import (
	"strings"
	"testing"
)

// fakeKV is an in-memory KV for repository tests.
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

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := NewRepository(newFakeKV())
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	return r
}

// =============================================================================
// DETECTION TESTS
// =============================================================================

func TestDetectSingleTrigger(t *testing.T) {
	r := newTestRepo(t)

	m := r.Detect("please deep research the causes of inflation")

	found := false
	for _, name := range m.Triggers {
		if name == "deep research" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Triggers = %v, want to contain %q", m.Triggers, "deep research")
	}
	if !strings.Contains(m.SystemPrompt, `"deep research" means`) {
		t.Errorf("SystemPrompt missing deep research clause: %q", m.SystemPrompt)
	}
}

func TestDetectOverlappingTriggersBothFire(t *testing.T) {
	r := newTestRepo(t)

	// "deep research" contains "research"; both match independently.
	m := r.Detect("please deep research the causes of inflation")
	want := map[string]bool{"deep research": false, "research": false}
	for _, name := range m.Triggers {
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, matched := range want {
		if !matched {
			t.Errorf("trigger %q did not fire: %v", name, m.Triggers)
		}
	}
}

func TestDetectIndependentTriggers(t *testing.T) {
	r := newTestRepo(t)

	m := r.Detect("reason about this and also deep research it")
	got := map[string]bool{}
	for _, name := range m.Triggers {
		got[name] = true
	}
	if !got["reason"] || !got["deep research"] {
		t.Errorf("Triggers = %v, want both %q and %q", m.Triggers, "reason", "deep research")
	}
}

func TestDetectCaseInsensitive(t *testing.T) {
	r := newTestRepo(t)

	m := r.Detect("DEEP RESEARCH this topic")
	if len(m.Triggers) == 0 {
		t.Error("uppercase utterance did not match")
	}
}

func TestDetectWordBoundary(t *testing.T) {
	r := newTestRepo(t)

	// "researcher" must not fire the "research" trigger.
	m := r.Detect("my friend is a researcher")
	for _, name := range m.Triggers {
		if name == "research" {
			t.Errorf("substring inside a larger word fired trigger %q", name)
		}
	}
}

func TestDetectNoMatchUsesDefault(t *testing.T) {
	r := newTestRepo(t)

	m := r.Detect("hello there")
	if len(m.Triggers) != 0 {
		t.Errorf("Triggers = %v, want none", m.Triggers)
	}
	if !strings.Contains(m.SystemPrompt, DefaultInstruction) {
		t.Errorf("SystemPrompt = %q, want default instruction", m.SystemPrompt)
	}
}

func TestDetectTableOrderDeterministic(t *testing.T) {
	r := newTestRepo(t)

	first := r.Detect("deep research and reason and summarize")
	for i := 0; i < 5; i++ {
		again := r.Detect("deep research and reason and summarize")
		if strings.Join(again.Triggers, ",") != strings.Join(first.Triggers, ",") {
			t.Fatalf("detection order varies: %v vs %v", again.Triggers, first.Triggers)
		}
	}
}

func TestDetectDisabledTriggerIgnored(t *testing.T) {
	r := newTestRepo(t)

	def, err := r.Get("brainstorm")
	if err != nil {
		t.Fatal(err)
	}
	def.Enabled = false
	if err := r.Upsert(def); err != nil {
		t.Fatal(err)
	}

	m := r.Detect("brainstorm some ideas")
	for _, name := range m.Triggers {
		if name == "brainstorm" {
			t.Error("disabled trigger fired")
		}
	}
}
