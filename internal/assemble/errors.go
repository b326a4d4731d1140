// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assemble

import (
	"errors"

	"github.com/jeranaias/driftchat/internal/backend"
)

// =============================================================================
// FAILURE CLASSIFICATION
// =============================================================================

// FailureKind is a coarse classification of stream failures, used to pick
// a user-facing message.
type FailureKind int

const (
	FailureGeneric FailureKind = iota
	FailureNotConfigured
	FailureAuth
	FailureRateLimit
	FailureQuota
	FailureModel
	FailureNetwork
)

// Classify maps a stream error to a failure kind.
func Classify(err error) FailureKind {
	switch {
	case errors.Is(err, backend.ErrNotConfigured):
		return FailureNotConfigured
	case errors.Is(err, backend.ErrAuthFailed):
		return FailureAuth
	case errors.Is(err, backend.ErrRateLimited):
		return FailureRateLimit
	case errors.Is(err, backend.ErrQuotaExceeded):
		return FailureQuota
	case errors.Is(err, backend.ErrModelNotFound):
		return FailureModel
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return FailureGeneric
	}
	return FailureNetwork
}

// SynthesizeFailure returns the user-facing notice shown in place of (or
// after) an assistant turn that failed.
func SynthesizeFailure(err error) string {
	switch Classify(err) {
	case FailureNotConfigured:
		return "No API key is configured. Add one in settings to start chatting."
	case FailureAuth:
		return "Authentication failed. Check that your API key is still valid."
	case FailureRateLimit:
		return "The model is receiving too many requests right now. Wait a moment and try again."
	case FailureQuota:
		return "Your account is out of credits. Top up to continue."
	case FailureModel:
		return "The selected model is unavailable. Pick a different model and retry."
	case FailureNetwork:
		return "The connection to the model was interrupted. Check your network and try again."
	default:
		return "The model returned an error. Try again, or switch models if it keeps happening."
	}
}
