// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package syncer mirrors the durable chat collection to the sync service.
//
// Uploads are debounced: local churn restarts a timer and only the settled
// state goes out, subject to a minimum spacing between flushes. Deletions
// skip the debounce entirely and go out the moment they are observed, so a
// chat deleted here cannot be resurrected by a slower upsert of stale
// state. Incognito chats never reach this package's wire calls at all.
//
// The engine is dormant while signed out. On sign-in it performs an
// initial merge: remote chats unknown locally are adopted; on an ID
// collision the local version wins.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/driftchat/internal/auth"
	"github.com/jeranaias/driftchat/internal/model"
	"github.com/jeranaias/driftchat/internal/notify"
	"github.com/jeranaias/driftchat/internal/remote"
)

// =============================================================================
// INTERFACES
// =============================================================================

// RemoteStore is the wire side of sync.
type RemoteStore interface {
	Upsert(ctx context.Context, rec *remote.Record) error
	Delete(ctx context.Context, accountID, chatID string) error
	List(ctx context.Context, accountID string, updatedAfter time.Time) ([]*remote.Record, error)
}

// LocalStore is the subset of the chat store the syncer needs.
type LocalStore interface {
	List() []*model.Chat
	Add(*model.Chat) error
}

// =============================================================================
// OPTIONS
// =============================================================================

const (
	// DefaultDebounce is the settle time after the last local change.
	DefaultDebounce = 2 * time.Second

	// DefaultMinInterval is the minimum spacing between upload flushes.
	DefaultMinInterval = 10 * time.Second

	flushTimeout = 30 * time.Second
)

// Options tune the engine's scheduling.
type Options struct {
	Debounce    time.Duration
	MinInterval time.Duration
}

func (o *Options) fill() {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.MinInterval <= 0 {
		o.MinInterval = DefaultMinInterval
	}
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine schedules uploads, deletes, and the initial merge.
type Engine struct {
	remote   RemoteStore
	local    LocalStore
	auth     auth.Provider
	notifier notify.Notifier
	log      zerolog.Logger

	debounce time.Duration
	limiter  *rate.Limiter

	mu      sync.Mutex
	timer   *time.Timer
	prevIDs map[string]bool
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a sync engine. Call Start to begin watching auth changes.
func New(rs RemoteStore, ls LocalStore, ap auth.Provider, n notify.Notifier, log zerolog.Logger, opts Options) *Engine {
	opts.fill()
	return &Engine{
		remote:   rs,
		local:    ls,
		auth:     ap,
		notifier: n,
		log:      log.With().Str("component", "syncer").Logger(),
		debounce: opts.Debounce,
		limiter:  rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		prevIDs:  make(map[string]bool),
		done:     make(chan struct{}),
	}
}

// Start launches the auth watcher. When already signed in, it merges and
// uploads immediately.
func (e *Engine) Start() {
	if e.auth.AccountID() != "" {
		e.onSignIn()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.done:
				return
			case ev, ok := <-e.auth.Events():
				if !ok {
					return
				}
				if ev.SignedIn {
					e.onSignIn()
				} else {
					e.onSignOut()
				}
			}
		}
	}()
}

// Close stops all timers and waits for in-flight work.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()

	close(e.done)
	e.wg.Wait()
}

// =============================================================================
// CHANGE TRACKING
// =============================================================================

// OnChange is called after every chat store mutation. It schedules a
// debounced upload and issues immediate deletes for chats that vanished
// since the previous call. Signed out, it only refreshes the ID baseline.
func (e *Engine) OnChange() {
	account := e.auth.AccountID()
	ids := e.durableIDs()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	var removed []string
	for id := range e.prevIDs {
		if !ids[id] {
			removed = append(removed, id)
		}
	}
	e.prevIDs = ids

	if account == "" {
		e.mu.Unlock()
		return
	}

	// Deletions outrank the debounce: they go out now, before any
	// pending upsert could re-publish the deleted chat.
	for _, id := range removed {
		e.deleteAsync(account, id)
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, e.fire)
	e.mu.Unlock()
}

// fire runs when the debounce settles. The upload still has to respect
// the minimum flush spacing; when too soon, it reschedules itself for
// exactly when the limiter allows.
func (e *Engine) fire() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	res := e.limiter.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		e.timer = time.AfterFunc(delay, e.fire)
		e.mu.Unlock()
		return
	}
	e.timer = nil
	e.mu.Unlock()

	e.flush()
}

func (e *Engine) durableIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, c := range e.local.List() {
		if !c.Incognito {
			ids[c.ID] = true
		}
	}
	return ids
}

// =============================================================================
// WIRE OPERATIONS
// =============================================================================

func (e *Engine) deleteAsync(account, chatID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := e.remote.Delete(ctx, account, chatID); err != nil {
			e.log.Warn().Err(err).Str("chat", chatID).Msg("remote delete failed")
			e.notifier.Warn("Could not delete the chat from sync. It may reappear on other devices.")
			return
		}
		e.log.Debug().Str("chat", chatID).Msg("remote delete ok")
	}()
}

// flush uploads every durable chat.
func (e *Engine) flush() {
	account := e.auth.AccountID()
	if account == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	var failed int
	for _, chat := range e.local.List() {
		if chat.Incognito {
			continue
		}
		rec, err := remote.RecordFromChat(account, chat)
		if err != nil {
			e.log.Error().Err(err).Str("chat", chat.ID).Msg("cannot encode chat")
			failed++
			continue
		}
		if err := e.remote.Upsert(ctx, rec); err != nil {
			e.log.Warn().Err(err).Str("chat", chat.ID).Msg("upsert failed")
			failed++
		}
	}
	if failed > 0 {
		e.notifier.Warn("Some chats could not be uploaded. They will retry on the next change.")
	}
	e.log.Debug().Int("failed", failed).Msg("flush done")
}

// =============================================================================
// INITIAL MERGE
// =============================================================================

// InitialMerge pulls the account's remote chats and adopts the ones not
// present locally. A chat that exists on both sides keeps the local
// version; the following upload overwrites the remote copy.
func (e *Engine) InitialMerge(ctx context.Context, account string) error {
	recs, err := e.remote.List(ctx, account, time.Time{})
	if err != nil {
		return err
	}

	known := make(map[string]bool)
	for _, c := range e.local.List() {
		known[c.ID] = true
	}

	var adopted int
	for _, rec := range recs {
		if known[rec.ChatID] {
			continue
		}
		chat, err := remote.ChatFromRecord(rec)
		if err != nil {
			e.log.Warn().Err(err).Str("chat", rec.ChatID).Msg("skipping undecodable remote chat")
			continue
		}
		if err := e.local.Add(chat); err != nil {
			return err
		}
		adopted++
	}

	e.log.Info().Int("remote", len(recs)).Int("adopted", adopted).Msg("initial merge done")
	return nil
}

func (e *Engine) onSignIn() {
	account := e.auth.AccountID()
	if account == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := e.InitialMerge(ctx, account); err != nil {
		e.log.Warn().Err(err).Msg("initial merge failed")
		e.notifier.Warn("Could not fetch your synced chats. Local chats are unaffected.")
	}

	e.mu.Lock()
	e.prevIDs = e.durableIDs()
	e.mu.Unlock()

	e.flush()
}

func (e *Engine) onSignOut() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.prevIDs = make(map[string]bool)
	e.mu.Unlock()
	e.log.Info().Msg("sync paused: signed out")
}
