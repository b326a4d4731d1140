// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify delivers passive, toast-style user notifications.
//
// Every failure path in the chat engine ends in exactly one of: a transient
// notification through this package, a synthesized assistant message, or
// silent best-effort degradation. Notifications never block and never
// escalate into errors of their own.
package notify

import (
	"github.com/rs/zerolog"
)

// Notifier receives transient user-facing notices.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// =============================================================================
// LOG NOTIFIER
// =============================================================================

// LogNotifier writes notices to the structured logger.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a notifier backed by the given logger.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Info(msg string)  { n.log.Info().Msg(msg) }
func (n *LogNotifier) Warn(msg string)  { n.log.Warn().Msg(msg) }
func (n *LogNotifier) Error(msg string) { n.log.Error().Msg(msg) }

// =============================================================================
// NOP NOTIFIER
// =============================================================================

// Nop is a notifier that discards everything. Useful in tests.
type Nop struct{}

func (Nop) Info(string)  {}
func (Nop) Warn(string)  {}
func (Nop) Error(string) {}
