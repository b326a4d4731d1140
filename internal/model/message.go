// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// TAGGED SEGMENT
// =============================================================================

// TaggedSegment is a <tag>...</tag>-delimited portion of an assistant's raw
// output, produced when a matched trigger yields a structured response block.
type TaggedSegment struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single turn in a chat.
//
// For assistant messages, Content is always derived from RawContent by tag
// extraction: completed trigger wrappers and thinking markers are stripped
// into Segments and Thinking, and Content holds the remaining visible text.
// A finalized Content never contains a complete <tag>...</tag> wrapper.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content is the visible text shown to the user.
	Content string `json:"content"`

	// RawContent is the full pre-extraction model output (assistant only).
	RawContent string `json:"raw_content,omitempty"`

	// Thinking holds the extracted reasoning segment, if any.
	Thinking string `json:"thinking,omitempty"`

	// Triggers lists the trigger names detected in the user turn that
	// produced this assistant message.
	Triggers []string `json:"triggers,omitempty"`

	// Segments are the completed tagged segments extracted from RawContent.
	Segments []TaggedSegment `json:"segments,omitempty"`

	// ImageRef optionally references an attached image.
	ImageRef string `json:"image_ref,omitempty"`

	// Streaming state (not persisted). True while the assembler is still
	// mutating this message; frozen messages never change again.
	Streaming bool `json:"-"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        GenerateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantShell creates an empty assistant message in streaming state.
// The stream assembler mutates it in place until the turn is finalized.
func NewAssistantShell() *Message {
	return &Message{
		ID:        GenerateID(),
		Role:      RoleAssistant,
		Timestamp: time.Now(),
		Streaming: true,
	}
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Triggers != nil {
		c.Triggers = append([]string(nil), m.Triggers...)
	}
	if m.Segments != nil {
		c.Segments = append([]TaggedSegment(nil), m.Segments...)
	}
	return &c
}
