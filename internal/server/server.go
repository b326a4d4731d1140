// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the self-hostable driftchat sync service.
//
// Endpoints:
//   - PUT    /v1/accounts/{account}/chats/{id}  Upsert a chat record
//   - DELETE /v1/accounts/{account}/chats/{id}  Delete a chat record
//   - GET    /v1/accounts/{account}/chats       List records (?updated_after=millis)
//   - GET    /health                            Health check
//
// Records are opaque to the server beyond their identity and update
// timestamp; conflict resolution happens client-side during the initial
// merge. Everything is persisted through the same key-value storage layer
// the client uses, under the "sync/" namespace.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/driftchat/internal/remote"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8787"

	// MaxRequestBodySize caps record uploads (4MB).
	MaxRequestBodySize = 4 * 1024 * 1024

	// recordPrefix namespaces sync records in the key-value store. The
	// storage capacity sweep only truncates "log/", so records are never
	// evicted.
	recordPrefix = "sync/"
)

// KV is the storage surface the server needs. *kvstore.Store satisfies it.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

// =============================================================================
// SERVER
// =============================================================================

// Server is the sync service HTTP server.
type Server struct {
	kv  KV
	log zerolog.Logger

	auth *AuthConfig
}

// New creates a sync server over the given storage. An empty token disables
// authentication.
func New(kv KV, token string, log zerolog.Logger) *Server {
	return &Server{
		kv:  kv,
		log: log.With().Str("component", "server").Logger(),
		auth: &AuthConfig{
			Enabled:     token != "",
			BearerToken: token,
		},
	}
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/accounts/", s.handleAccounts)

	var h http.Handler = mux
	h = AuthMiddleware(s.auth, h)
	h = SecurityHeadersMiddleware(h)
	h = LoggingMiddleware(s.log, h)
	h = RecoveryMiddleware(s.log, h)
	return h
}

// ListenAndServe runs the server until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("sync server listening")
	return srv.ListenAndServe()
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAccounts routes /v1/accounts/{account}/chats[/{id}].
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	account, chatID, ok := splitChatPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch {
	case chatID == "" && r.Method == http.MethodGet:
		s.handleList(w, r, account)
	case chatID != "" && r.Method == http.MethodPut:
		s.handleUpsert(w, r, account, chatID)
	case chatID != "" && r.Method == http.MethodDelete:
		s.handleDelete(w, r, account, chatID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// splitChatPath extracts the account and optional chat ID from a request
// path of the form /v1/accounts/{account}/chats[/{id}].
func splitChatPath(path string) (account, chatID string, ok bool) {
	rest := strings.TrimPrefix(path, "/v1/accounts/")
	if rest == path {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	for i, p := range parts {
		if unescaped, err := url.PathUnescape(p); err == nil {
			parts[i] = unescaped
		}
	}

	switch {
	case len(parts) == 2 && parts[1] == "chats":
		return parts[0], "", parts[0] != ""
	case len(parts) == 3 && parts[1] == "chats":
		return parts[0], parts[2], parts[0] != "" && parts[2] != ""
	default:
		return "", "", false
	}
}

// handleUpsert stores one chat record.
func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request, account, chatID string) {
	body := http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	defer body.Close()

	var rec remote.Record
	if err := json.NewDecoder(body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid record: "+err.Error())
		return
	}
	if rec.ChatID == "" {
		rec.ChatID = chatID
	}
	if rec.ChatID != chatID {
		writeError(w, http.StatusBadRequest, "record chat_id does not match path")
		return
	}
	rec.AccountID = account
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	raw, err := json.Marshal(&rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding record")
		return
	}
	if err := s.kv.Set(recordKey(account, chatID), string(raw)); err != nil {
		s.log.Error().Err(err).Str("chat", chatID).Msg("persisting record")
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	s.log.Debug().Str("account", account).Str("chat", chatID).Msg("record upserted")
	w.WriteHeader(http.StatusNoContent)
}

// handleDelete removes one chat record. Deleting an absent record succeeds,
// matching the client's idempotent delete.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, account, chatID string) {
	if err := s.kv.Delete(recordKey(account, chatID)); err != nil {
		s.log.Error().Err(err).Str("chat", chatID).Msg("deleting record")
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleList returns all records for an account, optionally filtered by an
// updated_after timestamp in Unix milliseconds.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request, account string) {
	var after time.Time
	if v := r.URL.Query().Get("updated_after"); v != "" {
		millis, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "updated_after must be Unix milliseconds")
			return
		}
		after = time.UnixMilli(millis)
	}

	keys, err := s.kv.Keys(recordPrefix + account + "/")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	records := make([]*remote.Record, 0, len(keys))
	for _, key := range keys {
		raw, found, err := s.kv.Get(key)
		if err != nil || !found {
			continue
		}
		var rec remote.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.log.Warn().Str("key", key).Msg("skipping corrupt record")
			continue
		}
		if !after.IsZero() && !rec.UpdatedAt.After(after) {
			continue
		}
		records = append(records, &rec)
	}

	writeJSON(w, http.StatusOK, records)
}

// =============================================================================
// HELPERS
// =============================================================================

func recordKey(account, chatID string) string {
	return fmt.Sprintf("%s%s/%s", recordPrefix, account, chatID)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
