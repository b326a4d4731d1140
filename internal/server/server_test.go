// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/driftchat/internal/remote"
)

// fakeKV is an in-memory KV for server tests.
type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKV) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeKV) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeKV) Keys(prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func testServer(t *testing.T, token string) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(newFakeKV(), token, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func putRecord(t *testing.T, ts *httptest.Server, token string, rec *remote.Record) *http.Response {
	t.Helper()
	body, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	req, err := http.NewRequest(http.MethodPut,
		ts.URL+"/v1/accounts/"+rec.AccountID+"/chats/"+rec.ChatID,
		bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put record: %v", err)
	}
	resp.Body.Close()
	return resp
}

func listRecords(t *testing.T, ts *httptest.Server, token, account, query string) []*remote.Record {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet,
		ts.URL+"/v1/accounts/"+account+"/chats"+query, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	var records []*remote.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	return records
}

func TestUpsertThenList(t *testing.T) {
	_, ts := testServer(t, "")

	rec := &remote.Record{
		ChatID:    "chat-1",
		AccountID: "alice",
		Title:     "first chat",
		Model:     "test-model",
		Messages:  json.RawMessage(`[]`),
		UpdatedAt: time.Now(),
	}
	if resp := putRecord(t, ts, "", rec); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("upsert status = %d, want 204", resp.StatusCode)
	}

	records := listRecords(t, ts, "", "alice", "")
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].ChatID != "chat-1" || records[0].Title != "first chat" {
		t.Errorf("record = %+v", records[0])
	}
}

func TestListFiltersUpdatedAfter(t *testing.T) {
	_, ts := testServer(t, "")

	old := time.Now().Add(-time.Hour)
	recent := time.Now()

	putRecord(t, ts, "", &remote.Record{
		ChatID: "old", AccountID: "alice", UpdatedAt: old,
		Messages: json.RawMessage(`[]`),
	})
	putRecord(t, ts, "", &remote.Record{
		ChatID: "new", AccountID: "alice", UpdatedAt: recent,
		Messages: json.RawMessage(`[]`),
	})

	cutoff := time.Now().Add(-30 * time.Minute).UnixMilli()
	records := listRecords(t, ts, "", "alice",
		"?updated_after="+strconv.FormatInt(cutoff, 10))
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].ChatID != "new" {
		t.Errorf("ChatID = %q, want %q", records[0].ChatID, "new")
	}
}

func TestAccountsAreIsolated(t *testing.T) {
	_, ts := testServer(t, "")

	putRecord(t, ts, "", &remote.Record{
		ChatID: "a", AccountID: "alice", Messages: json.RawMessage(`[]`),
	})
	putRecord(t, ts, "", &remote.Record{
		ChatID: "b", AccountID: "bob", Messages: json.RawMessage(`[]`),
	})

	if got := listRecords(t, ts, "", "alice", ""); len(got) != 1 || got[0].ChatID != "a" {
		t.Errorf("alice sees %+v", got)
	}
	if got := listRecords(t, ts, "", "bob", ""); len(got) != 1 || got[0].ChatID != "b" {
		t.Errorf("bob sees %+v", got)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	_, ts := testServer(t, "")

	putRecord(t, ts, "", &remote.Record{
		ChatID: "gone", AccountID: "alice", Messages: json.RawMessage(`[]`),
	})

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodDelete,
			ts.URL+"/v1/accounts/alice/chats/gone", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("delete #%d status = %d, want 204", i+1, resp.StatusCode)
		}
	}

	if got := listRecords(t, ts, "", "alice", ""); len(got) != 0 {
		t.Errorf("records after delete = %+v, want none", got)
	}
}

func TestUpsertRejectsMismatchedChatID(t *testing.T) {
	_, ts := testServer(t, "")

	body, _ := json.Marshal(&remote.Record{ChatID: "other", Messages: json.RawMessage(`[]`)})
	req, _ := http.NewRequest(http.MethodPut,
		ts.URL+"/v1/accounts/alice/chats/chat-1", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAuthRequiredWhenTokenSet(t *testing.T) {
	_, ts := testServer(t, "secret")

	rec := &remote.Record{ChatID: "c", AccountID: "alice", Messages: json.RawMessage(`[]`)}

	if resp := putRecord(t, ts, "", rec); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", resp.StatusCode)
	}
	if resp := putRecord(t, ts, "wrong", rec); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", resp.StatusCode)
	}
	if resp := putRecord(t, ts, "secret", rec); resp.StatusCode != http.StatusNoContent {
		t.Errorf("valid token status = %d, want 204", resp.StatusCode)
	}
}

func TestHealthBypassesAuth(t *testing.T) {
	_, ts := testServer(t, "secret")

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestSyncClientRoundTrip(t *testing.T) {
	// The remote.Client must interoperate with the server end to end.
	_, ts := testServer(t, "secret")
	client := remote.NewClient(ts.URL, "secret", zerolog.Nop())

	rec := &remote.Record{
		ChatID:    "rt-1",
		AccountID: "alice",
		Title:     "round trip",
		Model:     "test-model",
		Messages:  json.RawMessage(`[{"role":"user","content":"hi"}]`),
		UpdatedAt: time.Now(),
	}

	ctx := context.Background()
	if err := client.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	records, err := client.List(ctx, "alice", time.Time{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].ChatID != "rt-1" {
		t.Fatalf("List = %+v", records)
	}

	if err := client.Delete(ctx, "alice", "rt-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	records, err = client.List(ctx, "alice", time.Time{})
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("records after delete = %+v", records)
	}
}
