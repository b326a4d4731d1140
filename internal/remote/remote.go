// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package remote talks to the chat sync service.
//
// Chats travel as per-chat rows keyed by (account ID, chat ID). The client
// does no merging or scheduling; that lives in the syncer. Deleting a row
// that is already gone succeeds, so delete retries are harmless.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/driftchat/internal/model"
)

// =============================================================================
// RECORD
// =============================================================================

// Record is the wire form of one synced chat row.
type Record struct {
	ChatID    string          `json:"chat_id"`
	AccountID string          `json:"account_id"`
	Title     string          `json:"title"`
	Messages  json.RawMessage `json:"messages"`
	Model     string          `json:"model"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RecordFromChat converts a chat to its wire row.
func RecordFromChat(accountID string, chat *model.Chat) (*Record, error) {
	msgs, err := json.Marshal(chat.Messages)
	if err != nil {
		return nil, fmt.Errorf("encoding messages for chat %s: %w", chat.ID, err)
	}
	return &Record{
		ChatID:    chat.ID,
		AccountID: accountID,
		Title:     chat.Title,
		Messages:  msgs,
		Model:     chat.Model,
		CreatedAt: chat.CreatedAt,
		UpdatedAt: chat.UpdatedAt,
	}, nil
}

// ChatFromRecord converts a wire row back to a chat.
func ChatFromRecord(rec *Record) (*model.Chat, error) {
	chat := &model.Chat{
		ID:        rec.ChatID,
		Title:     rec.Title,
		Model:     rec.Model,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Messages:  make([]*model.Message, 0),
	}
	if len(rec.Messages) > 0 {
		if err := json.Unmarshal(rec.Messages, &chat.Messages); err != nil {
			return nil, fmt.Errorf("decoding messages for chat %s: %w", rec.ChatID, err)
		}
	}
	return chat, nil
}

// =============================================================================
// CLIENT
// =============================================================================

const requestTimeout = 30 * time.Second

// Client is an HTTP client for the sync service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a sync client for the given service base URL.
func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		log:     log,
	}
}

func (c *Client) chatURL(accountID, chatID string) string {
	return fmt.Sprintf("%s/v1/accounts/%s/chats/%s",
		c.baseURL, url.PathEscape(accountID), url.PathEscape(chatID))
}

// Upsert writes one chat row, replacing any previous version.
func (c *Client) Upsert(ctx context.Context, rec *Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.chatURL(rec.AccountID, rec.ChatID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upserting chat %s: %w", rec.ChatID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusNoContent {
		return statusError("upsert", rec.ChatID, resp)
	}
	return nil
}

// Delete removes one chat row. A missing row counts as success.
func (c *Client) Delete(ctx context.Context, accountID, chatID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.chatURL(accountID, chatID), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("deleting chat %s: %w", chatID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return statusError("delete", chatID, resp)
}

// List fetches the account's chat rows, optionally only those updated
// after the given time (zero means all).
func (c *Client) List(ctx context.Context, accountID string, updatedAfter time.Time) ([]*Record, error) {
	u := fmt.Sprintf("%s/v1/accounts/%s/chats", c.baseURL, url.PathEscape(accountID))
	if !updatedAfter.IsZero() {
		u += "?updated_after=" + strconv.FormatInt(updatedAfter.UnixMilli(), 10)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list", accountID, resp)
	}

	var recs []*Record
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		return nil, fmt.Errorf("decoding chat list: %w", err)
	}
	return recs, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func statusError(op, id string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s %s: HTTP %d: %s", op, id, resp.StatusCode, msg)
}
