// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine orchestrates a chat turn end to end.
//
// A turn validates input, detects triggers, appends the user message and an
// assistant shell, streams the model response through the assembler, and
// finalizes the shell. One turn may be in flight per chat; concurrent sends
// to the same chat fail fast with ErrBusy while other chats proceed
// independently. Abort cancels the in-flight turn and freezes whatever has
// streamed so far.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/jeranaias/driftchat/internal/assemble"
	"github.com/jeranaias/driftchat/internal/backend"
	"github.com/jeranaias/driftchat/internal/model"
	"github.com/jeranaias/driftchat/internal/notify"
	"github.com/jeranaias/driftchat/internal/store"
	"github.com/jeranaias/driftchat/internal/trigger"
)

// =============================================================================
// ERRORS AND LIMITS
// =============================================================================

// MaxInputRunes bounds a single user message.
const MaxInputRunes = 64 * 1024

var (
	// ErrBusy is returned when the chat already has a turn in flight.
	ErrBusy = errors.New("a response is already in progress for this chat")

	// ErrEmptyInput is returned for blank input.
	ErrEmptyInput = errors.New("message is empty")

	// ErrInputTooLong is returned when input exceeds MaxInputRunes.
	ErrInputTooLong = errors.New("message is too long")

	// ErrUnknownChat is returned for operations on a missing chat.
	ErrUnknownChat = errors.New("unknown chat")

	// ErrUnknownMessage is returned for operations on a missing message.
	ErrUnknownMessage = errors.New("unknown message")
)

// =============================================================================
// ENGINE
// =============================================================================

// Detector matches trigger phrases in user input.
type Detector interface {
	Detect(text string) trigger.Match
}

// ChangeListener is told after every chat mutation. The syncer implements
// it; a nil listener disables sync.
type ChangeListener interface {
	OnChange()
}

// Tap observes assembly snapshots for a chat, for progressive display.
type Tap func(chatID string, snap assemble.Snapshot)

// GenParams are the generation parameters carried on every model request.
type GenParams struct {
	Temperature float64
	MaxTokens   int
}

// Engine drives chat turns.
type Engine struct {
	store    *store.Store
	triggers Detector
	backend  backend.Backend
	asm      *assemble.Assembler
	changes  ChangeListener
	notifier notify.Notifier
	log      zerolog.Logger
	tap      Tap

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	params   GenParams
}

// New creates an engine. changes may be nil.
func New(st *store.Store, det Detector, be backend.Backend, changes ChangeListener, n notify.Notifier, log zerolog.Logger) *Engine {
	return &Engine{
		store:    st,
		triggers: det,
		backend:  be,
		asm:      assemble.New(log),
		changes:  changes,
		notifier: n,
		log:      log.With().Str("component", "engine").Logger(),
		inflight: make(map[string]context.CancelFunc),
	}
}

// SetTap installs a snapshot observer. Call before sending.
func (e *Engine) SetTap(tap Tap) { e.tap = tap }

// SetParams installs the generation parameters for subsequent turns.
// Safe to call while turns are in flight; those keep what they started with.
func (e *Engine) SetParams(p GenParams) {
	e.mu.Lock()
	e.params = p
	e.mu.Unlock()
}

// NewChat creates a chat, adds it to the store, and makes it current.
func (e *Engine) NewChat(modelID string, incognito bool) (*model.Chat, error) {
	chat := model.NewChat(modelID)
	chat.Incognito = incognito
	if err := e.store.Add(chat); err != nil {
		return nil, err
	}
	if err := e.store.SetCurrent(chat.ID); err != nil {
		return nil, err
	}
	e.notifyChange()
	return chat, nil
}

// DeleteChat removes a chat. Deleting one with a turn in flight aborts it.
func (e *Engine) DeleteChat(chatID string) error {
	e.Abort(chatID)
	if err := e.store.Remove(chatID); err != nil {
		return err
	}
	e.notifyChange()
	return nil
}

// =============================================================================
// SEND
// =============================================================================

// Send runs one full turn and blocks until it completes, aborts, or
// fails. Snapshots reach the tap as they assemble.
func (e *Engine) Send(ctx context.Context, chatID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}
	if utf8.RuneCountInString(text) > MaxInputRunes {
		return ErrInputTooLong
	}

	chat := e.store.Get(chatID)
	if chat == nil {
		return ErrUnknownChat
	}

	turnCtx, err := e.acquire(ctx, chatID)
	if err != nil {
		return err
	}
	defer e.release(chatID)

	match := e.triggers.Detect(text)
	req := e.buildRequest(chat, match.SystemPrompt, text)

	userMsg := model.NewUserMessage(text)
	shell := model.NewAssistantShell()
	found, err := e.store.Update(chatID, func(c *model.Chat) {
		c.AddMessage(userMsg)
		c.AddMessage(shell)
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownChat
	}
	e.notifyChange()

	stream, err := e.backend.Stream(turnCtx, req)
	if err != nil {
		e.log.Warn().Err(err).Str("chat", chatID).Msg("stream open failed")
		e.finalizeFailure(chatID, shell.ID, err)
		return err
	}

	final, runErr := e.asm.Run(turnCtx, stream, func(snap assemble.Snapshot) {
		e.applySnapshot(chatID, shell.ID, snap)
	})

	e.finalize(chatID, shell.ID, final, match.Triggers)
	return runErr
}

// Abort cancels the chat's in-flight turn. Reports whether one existed.
func (e *Engine) Abort(chatID string) bool {
	e.mu.Lock()
	cancel, ok := e.inflight[chatID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Busy reports whether the chat has a turn in flight.
func (e *Engine) Busy(chatID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[chatID]
	return ok
}

func (e *Engine) acquire(ctx context.Context, chatID string) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inflight[chatID]; ok {
		return nil, ErrBusy
	}
	turnCtx, cancel := context.WithCancel(ctx)
	e.inflight[chatID] = cancel
	return turnCtx, nil
}

func (e *Engine) release(chatID string) {
	e.mu.Lock()
	if cancel, ok := e.inflight[chatID]; ok {
		cancel()
		delete(e.inflight, chatID)
	}
	e.mu.Unlock()
}

// =============================================================================
// REGENERATE AND EDIT
// =============================================================================

// Regenerate re-runs the turn that produced the given assistant message.
// The message and everything after it are discarded, then the preceding
// user message is sent again.
func (e *Engine) Regenerate(ctx context.Context, chatID, messageID string) error {
	chat := e.store.Get(chatID)
	if chat == nil {
		return ErrUnknownChat
	}
	_, idx := chat.FindMessage(messageID)
	if idx < 0 {
		return ErrUnknownMessage
	}

	var prompt *model.Message
	for i := idx; i >= 0; i-- {
		if chat.Messages[i].Role == model.RoleUser {
			prompt = chat.Messages[i]
			break
		}
	}
	if prompt == nil {
		return fmt.Errorf("no user message precedes %s", messageID)
	}

	if err := e.truncate(chatID, prompt.ID); err != nil {
		return err
	}
	return e.Send(ctx, chatID, prompt.Content)
}

// Edit replaces a user message with new text and re-runs the turn. The
// edited message and everything after it are discarded first.
func (e *Engine) Edit(ctx context.Context, chatID, messageID, newText string) error {
	chat := e.store.Get(chatID)
	if chat == nil {
		return ErrUnknownChat
	}
	msg, _ := chat.FindMessage(messageID)
	if msg == nil {
		return ErrUnknownMessage
	}

	if err := e.truncate(chatID, messageID); err != nil {
		return err
	}
	return e.Send(ctx, chatID, newText)
}

func (e *Engine) truncate(chatID, messageID string) error {
	if e.Busy(chatID) {
		return ErrBusy
	}
	found, err := e.store.Update(chatID, func(c *model.Chat) {
		c.TruncateBefore(messageID)
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownChat
	}
	e.notifyChange()
	return nil
}

// =============================================================================
// TURN ASSEMBLY
// =============================================================================

// buildRequest assembles the model request: the trigger-derived system
// prompt, the prior visible history, then the new user text, with the
// configured generation parameters.
func (e *Engine) buildRequest(chat *model.Chat, systemPrompt, text string) *backend.Request {
	msgs := make([]backend.Message, 0, len(chat.Messages)+2)
	msgs = append(msgs, backend.Message{Role: model.RoleSystem.String(), Content: systemPrompt})
	for _, m := range chat.Messages {
		if m.Streaming || m.Content == "" {
			continue
		}
		msgs = append(msgs, backend.Message{Role: m.Role.String(), Content: m.Content})
	}
	msgs = append(msgs, backend.Message{Role: model.RoleUser.String(), Content: text})

	e.mu.Lock()
	p := e.params
	e.mu.Unlock()
	return &backend.Request{
		Model:       chat.Model,
		Messages:    msgs,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}
}

// applySnapshot copies assembly progress into the shell message.
func (e *Engine) applySnapshot(chatID, shellID string, snap assemble.Snapshot) {
	_, err := e.store.Update(chatID, func(c *model.Chat) {
		msg, _ := c.FindMessage(shellID)
		if msg == nil {
			return
		}
		msg.Content = snap.Content
		msg.RawContent = snap.RawContent
		msg.Thinking = snap.Thinking
		msg.Segments = snap.Segments
	})
	if err != nil {
		e.log.Error().Err(err).Str("chat", chatID).Msg("snapshot persist failed")
	}
	if e.tap != nil {
		e.tap(chatID, snap)
	}
	e.notifyChange()
}

// finalize freezes the shell with the terminal snapshot.
func (e *Engine) finalize(chatID, shellID string, final assemble.Snapshot, triggers []string) {
	_, err := e.store.Update(chatID, func(c *model.Chat) {
		msg, _ := c.FindMessage(shellID)
		if msg == nil {
			return
		}
		msg.Content = final.Content
		msg.RawContent = final.RawContent
		msg.Thinking = final.Thinking
		msg.Segments = final.Segments
		msg.Streaming = false
		if final.State == assemble.StateCompleted {
			msg.Triggers = triggers
		}
	})
	if err != nil {
		e.log.Error().Err(err).Str("chat", chatID).Msg("finalize persist failed")
	}
	if final.State == assemble.StateFailed {
		e.notifier.Error(final.Content)
	}
	e.log.Debug().Str("chat", chatID).Stringer("state", final.State).Msg("turn finished")
	e.notifyChange()
}

// finalizeFailure freezes the shell with a synthesized notice when the
// stream never opened.
func (e *Engine) finalizeFailure(chatID, shellID string, cause error) {
	notice := assemble.SynthesizeFailure(cause)
	_, err := e.store.Update(chatID, func(c *model.Chat) {
		msg, _ := c.FindMessage(shellID)
		if msg == nil {
			return
		}
		msg.Content = notice
		msg.Streaming = false
	})
	if err != nil {
		e.log.Error().Err(err).Str("chat", chatID).Msg("failure persist failed")
	}
	e.notifier.Error(notice)
	e.notifyChange()
}

func (e *Engine) notifyChange() {
	if e.changes != nil {
		e.changes.OnChange()
	}
}
