// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// MaxTitleLength is the maximum number of runes kept in a chat title.
const MaxTitleLength = 200

// =============================================================================
// CHAT TYPE
// =============================================================================

// Chat holds a complete conversation with history and metadata.
type Chat struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages, append-mostly. Edits truncate-and-replace a suffix.
	Messages []*Message `json:"messages"`

	// Model is the selected model identifier.
	Model string `json:"model"`

	// Incognito excludes this chat from persistence and sync entirely.
	Incognito bool `json:"incognito,omitempty"`
}

// NewChat creates a new chat with a generated ID and the given model.
func NewChat(modelID string) *Chat {
	now := time.Now()
	return &Chat{
		ID:        GenerateID(),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
		Model:     modelID,
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends a message and bumps the update timestamp.
// The title is derived from the first user message when still empty.
func (c *Chat) AddMessage(msg *Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.updateTitle()
}

// LastMessage returns the most recent message, or nil if empty.
func (c *Chat) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// FindMessage returns the message with the given ID and its index, or
// (nil, -1) when absent.
func (c *Chat) FindMessage(id string) (*Message, int) {
	for i, m := range c.Messages {
		if m.ID == id {
			return m, i
		}
	}
	return nil, -1
}

// TruncateBefore removes the message with the given ID and every message
// after it. Returns false when the ID is not present.
func (c *Chat) TruncateBefore(id string) bool {
	_, i := c.FindMessage(id)
	if i < 0 {
		return false
	}
	c.Messages = c.Messages[:i]
	c.UpdatedAt = time.Now()
	return true
}

// updateTitle sets the title from the first user message when unset.
func (c *Chat) updateTitle() {
	if c.Title != "" {
		return
	}
	for _, m := range c.Messages {
		if m.Role == RoleUser && m.Content != "" {
			title := strings.ReplaceAll(m.Content, "\n", " ")
			runes := []rune(title)
			if len(runes) > MaxTitleLength {
				title = string(runes[:MaxTitleLength])
			}
			c.Title = title
			return
		}
	}
}

// SetTitle sets the title, clamping it to MaxTitleLength runes.
func (c *Chat) SetTitle(title string) {
	runes := []rune(title)
	if len(runes) > MaxTitleLength {
		title = string(runes[:MaxTitleLength])
	}
	c.Title = title
	c.UpdatedAt = time.Now()
}

// Clone returns a deep copy of the chat.
func (c *Chat) Clone() *Chat {
	dup := *c
	dup.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		dup.Messages[i] = m.Clone()
	}
	return &dup
}

// Preview returns the first user message truncated for list display.
func (c *Chat) Preview() string {
	for _, m := range c.Messages {
		if m.Role == RoleUser && m.Content != "" {
			runes := []rune(m.Content)
			if len(runes) > 80 {
				return string(runes[:77]) + "..."
			}
			return m.Content
		}
	}
	return ""
}
