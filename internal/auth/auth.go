// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth tracks the signed-in account for sync.
//
// Sync is account-scoped: while signed out there is no account ID and the
// syncer stays dormant. Sign-in and sign-out are announced on an event
// channel so the syncer can react without polling.
package auth

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
)

// =============================================================================
// PROVIDER
// =============================================================================

// Event announces a change of signed-in account.
type Event struct {
	AccountID string
	SignedIn  bool
}

// Provider exposes the current account and a feed of auth changes.
type Provider interface {
	// AccountID returns the signed-in account ID, or "" when signed out.
	AccountID() string

	// Events returns the auth change feed. The channel is buffered;
	// events are dropped rather than blocking sign-in.
	Events() <-chan Event
}

var (
	// ErrAlreadySignedIn is returned when signing in over an active session.
	ErrAlreadySignedIn = errors.New("already signed in")

	// ErrInvalidCode is returned when the TOTP code does not verify.
	ErrInvalidCode = errors.New("invalid verification code")
)

// =============================================================================
// TOKEN PROVIDER
// =============================================================================

// TokenProvider is a Provider driven by explicit SignIn/SignOut calls.
// When constructed with a TOTP secret, SignIn requires a valid code.
type TokenProvider struct {
	mu         sync.RWMutex
	accountID  string
	sessionID  string
	totpSecret string
	events     chan Event
	log        zerolog.Logger
}

// NewTokenProvider creates a signed-out provider. totpSecret may be empty
// to disable second-factor verification.
func NewTokenProvider(totpSecret string, log zerolog.Logger) *TokenProvider {
	return &TokenProvider{
		totpSecret: totpSecret,
		events:     make(chan Event, 8),
		log:        log,
	}
}

// AccountID implements Provider.
func (p *TokenProvider) AccountID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.accountID
}

// SessionID returns the current session identifier, or "" when signed out.
func (p *TokenProvider) SessionID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessionID
}

// Events implements Provider.
func (p *TokenProvider) Events() <-chan Event {
	return p.events
}

// SignIn starts a session for the given account. code is the TOTP code,
// required only when the provider was built with a secret.
func (p *TokenProvider) SignIn(accountID, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accountID != "" {
		return ErrAlreadySignedIn
	}
	if accountID == "" {
		return errors.New("account ID required")
	}
	if p.totpSecret != "" && !totp.Validate(code, p.totpSecret) {
		p.log.Warn().Str("account", accountID).Msg("sign-in rejected: bad code")
		return ErrInvalidCode
	}

	p.accountID = accountID
	p.sessionID = uuid.NewString()
	p.log.Info().Str("account", accountID).Msg("signed in")
	p.emit(Event{AccountID: accountID, SignedIn: true})
	return nil
}

// SignOut ends the session. Signing out while signed out is a no-op.
func (p *TokenProvider) SignOut() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accountID == "" {
		return
	}
	account := p.accountID
	p.accountID = ""
	p.sessionID = ""
	p.log.Info().Str("account", account).Msg("signed out")
	p.emit(Event{AccountID: account, SignedIn: false})
}

// emit delivers an event without blocking. Caller holds the mutex.
func (p *TokenProvider) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.log.Warn().Msg("auth event dropped: channel full")
	}
}
