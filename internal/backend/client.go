// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultBaseURL is the OpenAI-compatible endpoint used when no base
	// URL is configured.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// requestTimeout bounds non-streaming calls. Streaming calls get no
	// overall deadline; they are cancelled through their context.
	requestTimeout = 120 * time.Second

	maxRetries       = 3
	initialBackoff   = 1 * time.Second
	maxResponseBytes = 10 << 20 // 10MB
)

// =============================================================================
// SHARED HTTP CLIENTS
// =============================================================================

var (
	clientOnce      sync.Once
	completeClient  *http.Client
	streamingClient *http.Client
)

// httpClients returns the shared pooled clients. The streaming client has
// no overall timeout since response bodies are long-lived.
func httpClients() (complete, streaming *http.Client) {
	clientOnce.Do(func() {
		transport := &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		}
		completeClient = &http.Client{Timeout: requestTimeout, Transport: transport}
		streamingClient = &http.Client{Transport: transport}
	})
	return completeClient, streamingClient
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is an OpenAI-compatible chat completions backend. The endpoint
// and credentials can be swapped at runtime through Update.
type Client struct {
	mu      sync.RWMutex
	baseURL string
	apiKey  string
	log     zerolog.Logger
}

// NewClient creates a backend client. An empty baseURL falls back to
// DefaultBaseURL.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	c := &Client{log: log}
	c.Update(baseURL, apiKey)
	return c
}

// Update swaps the endpoint and credentials. In-flight requests keep the
// values they started with; subsequent requests use the new ones.
func (c *Client) Update(baseURL, apiKey string) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c.mu.Lock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.apiKey = apiKey
	c.mu.Unlock()
}

// creds returns the current endpoint and key.
func (c *Client) creds() (baseURL, apiKey string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL, c.apiKey
}

// wire types for the chat completions API.

type wireRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *wireError `json:"error,omitempty"`
}

type wireError struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

// Complete implements Backend. Transient failures (network errors, 429,
// 5xx) are retried with exponential backoff.
func (c *Client) Complete(ctx context.Context, req *Request) (string, error) {
	if _, key := c.creds(); key == "" {
		return "", ErrNotConfigured
	}

	var lastErr error
	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			c.log.Debug().Int("attempt", attempt).Err(lastErr).Msg("retrying completion")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		text, err := c.completeOnce(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) completeOnce(ctx context.Context, req *Request) (string, error) {
	httpReq, err := c.newRequest(ctx, req, false)
	if err != nil {
		return "", err
	}

	complete, _ := httpClients()
	resp, err := complete.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if wire.Error != nil {
		return "", &APIError{Code: string(wire.Error.Code), Message: wire.Error.Message, Status: resp.StatusCode}
	}
	if len(wire.Choices) == 0 {
		return "", errors.New("response contained no choices")
	}
	return wire.Choices[0].Message.Content, nil
}

// Stream implements Backend.
func (c *Client) Stream(ctx context.Context, req *Request) (Stream, error) {
	if _, key := c.creds(); key == "" {
		return nil, ErrNotConfigured
	}

	httpReq, err := c.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	_, streaming := httpClients()
	resp, err := streaming.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	return newSSEStream(resp.Body), nil
}

func (c *Client) newRequest(ctx context.Context, req *Request, stream bool) (*http.Request, error) {
	payload := wireRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	baseURL, apiKey := c.creds()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	return httpReq, nil
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// decodeAPIError maps a non-200 response to a sentinel or APIError.
func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrAuthFailed
	case http.StatusPaymentRequired:
		return ErrQuotaExceeded
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}

	var wire struct {
		Error *wireError `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != nil {
		return &APIError{
			Code:    strings.Trim(string(wire.Error.Code), `"`),
			Message: wire.Error.Message,
			Status:  resp.StatusCode,
		}
	}
	return &APIError{Message: strings.TrimSpace(string(body)), Status: resp.StatusCode}
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "request failed")
}
