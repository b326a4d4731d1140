// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend defines the model-backend interface and its HTTP
// implementation.
//
// A Backend accepts an ordered list of role/content turns plus generation
// parameters and returns either a single string or an abortable incremental
// stream of text chunks. Cancelling a stream mid-flight is a user-intended
// outcome and never surfaces an error on the cancelling side.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// INTERFACE
// =============================================================================

// Message is one role/content turn sent to the model.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", or "system"
	Content string `json:"content"`
}

// Request describes one generation call.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Chunk is one increment of a streaming response.
type Chunk struct {
	Text         string
	FinishReason string
}

// Stream is an abortable incremental source of text chunks.
// Recv returns io.EOF when the stream ends normally.
type Stream interface {
	Recv() (Chunk, error)
	Close()
}

// Backend is a model endpoint.
type Backend interface {
	// Complete performs a non-streaming generation.
	Complete(ctx context.Context, req *Request) (string, error)

	// Stream opens an incremental generation. The returned stream is
	// cancelled through ctx; callers must Close it when done.
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("backend API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrQuotaExceeded indicates the account has insufficient credits.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")
)

// APIError is a structured error response from the backend.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
}
