// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assemble

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jeranaias/driftchat/internal/backend"
)

// fakeStream replays scripted chunks, then ends with err (io.EOF when nil).
type fakeStream struct {
	chunks []string
	err    error
	i      int
	closed bool
}

func (f *fakeStream) Recv() (backend.Chunk, error) {
	if f.i < len(f.chunks) {
		c := backend.Chunk{Text: f.chunks[f.i]}
		f.i++
		return c, nil
	}
	if f.err != nil {
		return backend.Chunk{}, f.err
	}
	return backend.Chunk{}, io.EOF
}

func (f *fakeStream) Close() { f.closed = true }

func run(t *testing.T, chunks []string) (Snapshot, []Snapshot) {
	t.Helper()
	var seen []Snapshot
	final, err := New(zerolog.Nop()).Run(context.Background(), &fakeStream{chunks: chunks}, func(s Snapshot) {
		seen = append(seen, s)
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return final, seen
}

// =============================================================================
// ASSEMBLY
// =============================================================================

func TestRunAssemblesContentAndSegments(t *testing.T) {
	final, _ := run(t, []string{"Proof below.\n<calc>", "6 * 7 = 42", "</calc>\nDone."})

	if final.State != StateCompleted {
		t.Errorf("State = %v, want completed", final.State)
	}
	if strings.Contains(final.Content, "<calc>") || strings.Contains(final.Content, "</calc>") {
		t.Errorf("Content = %q still contains wrapper", final.Content)
	}
	if len(final.Segments) != 1 || final.Segments[0].Tag != "calc" || final.Segments[0].Content != "6 * 7 = 42" {
		t.Errorf("Segments = %+v", final.Segments)
	}
	if final.RawContent != "Proof below.\n<calc>6 * 7 = 42</calc>\nDone." {
		t.Errorf("RawContent = %q", final.RawContent)
	}
}

func TestRunRawContentIsMonotonic(t *testing.T) {
	_, seen := run(t, []string{"a", "b", "<think>c", "d</think>", "e"})

	prev := ""
	for i, s := range seen {
		if !strings.HasPrefix(s.RawContent, prev) {
			t.Fatalf("snapshot %d raw %q does not extend %q", i, s.RawContent, prev)
		}
		prev = s.RawContent
	}
}

func TestRunSurfacesPartialThinking(t *testing.T) {
	_, seen := run(t, []string{"<think>pondering the", " problem", "</think>", "Answer."})

	var sawPartial bool
	for _, s := range seen {
		if s.State == StateStreaming && s.Thinking != "" && !s.ThinkingDone {
			sawPartial = true
		}
	}
	if !sawPartial {
		t.Error("no snapshot surfaced in-progress thinking")
	}

	final := seen[len(seen)-1]
	if final.Content != "Answer." {
		t.Errorf("Content = %q, want %q", final.Content, "Answer.")
	}
	if final.Thinking != "pondering the problem" {
		t.Errorf("Thinking = %q", final.Thinking)
	}
	if !final.ThinkingDone {
		t.Error("ThinkingDone = false after close tag")
	}
}

func TestRunCompletionForcesThinkingDone(t *testing.T) {
	final, _ := run(t, []string{"<think>never closed"})
	if final.State != StateCompleted {
		t.Fatalf("State = %v", final.State)
	}
	if !final.ThinkingDone {
		t.Error("a completed turn must not report thinking in progress")
	}
}

// =============================================================================
// ABORT
// =============================================================================

func TestAbortFreezesAssembledState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var seen []Snapshot
	stream := &fakeStream{chunks: []string{"partial ", "content ", "never delivered"}}

	final, err := New(zerolog.Nop()).Run(ctx, stream, func(s Snapshot) {
		seen = append(seen, s)
		if s.RawContent == "partial content " {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("abort must not return an error, got %v", err)
	}
	if final.State != StateAborted {
		t.Errorf("State = %v, want aborted", final.State)
	}
	if final.RawContent != "partial content " {
		t.Errorf("RawContent = %q, abort must freeze assembled content", final.RawContent)
	}
	if !stream.closed {
		t.Error("stream not closed after abort")
	}
}

func TestStreamErrorDuringAbortIsAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := &fakeStream{err: errors.New("connection reset")}
	final, err := New(zerolog.Nop()).Run(ctx, stream, nil)
	if err != nil {
		t.Fatalf("Run() error = %v, cancelled context must win", err)
	}
	if final.State != StateAborted {
		t.Errorf("State = %v, want aborted", final.State)
	}
}

// =============================================================================
// FAILURE
// =============================================================================

func TestStreamFailureDiscardsPartialContent(t *testing.T) {
	stream := &fakeStream{chunks: []string{"partial <think>hm</think> answer"}, err: backend.ErrRateLimited}
	final, err := New(zerolog.Nop()).Run(context.Background(), stream, nil)
	if err == nil {
		t.Fatal("Run() should return the stream error")
	}
	if final.State != StateFailed {
		t.Errorf("State = %v, want failed", final.State)
	}
	if strings.Contains(final.Content, "partial") {
		t.Errorf("Content = %q, partial content must be discarded on failure", final.Content)
	}
	if !strings.Contains(final.Content, "too many requests") {
		t.Errorf("Content = %q lacks rate limit notice", final.Content)
	}
	if final.Thinking != "" || len(final.Segments) != 0 {
		t.Error("failed snapshot must carry only the synthesized notice")
	}
}

func TestSynthesizeFailureByKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{backend.ErrNotConfigured, "API key"},
		{backend.ErrAuthFailed, "Authentication failed"},
		{backend.ErrQuotaExceeded, "out of credits"},
		{backend.ErrModelNotFound, "unavailable"},
		{errors.New("dial tcp: timeout"), "connection"},
	}
	for _, tt := range tests {
		got := SynthesizeFailure(tt.err)
		if !strings.Contains(got, tt.want) {
			t.Errorf("SynthesizeFailure(%v) = %q, want substring %q", tt.err, got, tt.want)
		}
	}
}

// =============================================================================
// EXTRACTION
// =============================================================================

func TestExtractUnclosedGenericTagStaysVisible(t *testing.T) {
	ext := Extract("see <pending>half finished")
	if ext.Visible != "see <pending>half finished" {
		t.Errorf("Visible = %q", ext.Visible)
	}
	if len(ext.Segments) != 0 {
		t.Errorf("Segments = %+v, want none", ext.Segments)
	}
}

func TestExtractLiteralAngleBracket(t *testing.T) {
	ext := Extract("3 < 5 and 7 > 2")
	if ext.Visible != "3 < 5 and 7 > 2" {
		t.Errorf("Visible = %q", ext.Visible)
	}
}

func TestExtractMultipleThinkingBlocks(t *testing.T) {
	ext := Extract("<think>first</think>middle<thinking>second</thinking>end")
	if ext.Thinking != "first\n\nsecond" {
		t.Errorf("Thinking = %q", ext.Thinking)
	}
	if ext.Visible != "middleend" {
		t.Errorf("Visible = %q", ext.Visible)
	}
	if !ext.ThinkingDone {
		t.Error("ThinkingDone = false with all blocks closed")
	}
}

func TestExtractMultipleSegmentsInOrder(t *testing.T) {
	ext := Extract("<a>one</a> text <b>two</b>")
	if len(ext.Segments) != 2 {
		t.Fatalf("Segments = %+v", ext.Segments)
	}
	if ext.Segments[0].Tag != "a" || ext.Segments[1].Tag != "b" {
		t.Errorf("segment order = %+v", ext.Segments)
	}
	if ext.Visible != "text" {
		t.Errorf("Visible = %q", ext.Visible)
	}
}
