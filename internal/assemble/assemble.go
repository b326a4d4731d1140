// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assemble

import (
	"context"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jeranaias/driftchat/internal/backend"
	"github.com/jeranaias/driftchat/internal/model"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

// State is the lifecycle of one assembled assistant turn.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateAborted
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is one published view of the turn under assembly. RawContent is
// monotonic while streaming: each snapshot's raw buffer extends the
// previous one. A failed turn replaces the whole snapshot with a single
// synthesized notice.
type Snapshot struct {
	State        State
	Content      string
	RawContent   string
	Thinking     string
	ThinkingDone bool
	Segments     []model.TaggedSegment
}

// Sink receives snapshots as the turn assembles. Called from the Run
// goroutine; implementations must not block for long.
type Sink func(Snapshot)

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assembler drives one streaming turn from chunks to a final snapshot.
type Assembler struct {
	log zerolog.Logger
}

// New creates an assembler.
func New(log zerolog.Logger) *Assembler {
	return &Assembler{log: log}
}

// Run consumes the stream until completion, abort, or failure, publishing
// a snapshot to sink after every chunk. It returns the final snapshot.
//
// Cancelling ctx aborts: assembled state freezes exactly as published and
// the returned error is nil. A stream error while ctx is cancelled is
// also an abort; the race between the two is not observable. Any other
// stream error fails the turn: everything assembled so far is discarded
// and the final snapshot carries only a synthesized user-facing message.
func (a *Assembler) Run(ctx context.Context, stream backend.Stream, sink Sink) (Snapshot, error) {
	defer stream.Close()

	var raw strings.Builder
	snap := Snapshot{State: StateStreaming, ThinkingDone: true}
	publish := func() {
		if sink != nil {
			sink(snap)
		}
	}
	publish()

	for {
		select {
		case <-ctx.Done():
			return a.freeze(&snap, StateAborted, publish), nil
		default:
		}

		chunk, err := stream.Recv()
		if err == io.EOF {
			return a.freeze(&snap, StateCompleted, publish), nil
		}
		if err != nil {
			if ctx.Err() != nil {
				// User abort surfaced through the transport.
				return a.freeze(&snap, StateAborted, publish), nil
			}
			a.log.Warn().Err(err).Msg("stream failed")
			a.fail(&snap, err, publish)
			return snap, err
		}

		if chunk.Text != "" {
			raw.WriteString(chunk.Text)
			ext := Extract(raw.String())
			snap.RawContent = raw.String()
			snap.Content = ext.Visible
			snap.Thinking = ext.Thinking
			snap.ThinkingDone = ext.ThinkingDone
			snap.Segments = ext.Segments
			publish()
		}
		if chunk.FinishReason != "" {
			return a.freeze(&snap, StateCompleted, publish), nil
		}
	}
}

// freeze marks the snapshot terminal without touching assembled content.
func (a *Assembler) freeze(snap *Snapshot, state State, publish func()) Snapshot {
	snap.State = state
	if state == StateCompleted {
		// A finished turn with dangling thinking is still done thinking.
		snap.ThinkingDone = true
	}
	publish()
	return *snap
}

// fail marks the snapshot failed. Partially assembled content is
// discarded and replaced by a single synthesized notice, so a chat never
// keeps a silently truncated assistant turn.
func (a *Assembler) fail(snap *Snapshot, err error, publish func()) {
	notice := SynthesizeFailure(err)
	*snap = Snapshot{
		State:        StateFailed,
		Content:      notice,
		RawContent:   notice,
		ThinkingDone: true,
	}
	publish()
}
