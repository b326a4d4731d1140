// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func sseHandler(chunks []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", c)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func collect(t *testing.T, s Stream) string {
	t.Helper()
	var b strings.Builder
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			return b.String()
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		b.WriteString(chunk.Text)
	}
}

func TestStreamDeliversChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{"Hello", ", ", "world"}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", zerolog.Nop())
	stream, err := c.Stream(context.Background(), &Request{Model: "test/model"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	got := collect(t, stream)
	if got != "Hello, world" {
		t.Errorf("accumulated = %q, want %q", got, "Hello, world")
	}
}

func TestStreamStopsAtFinishReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"done\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", zerolog.Nop())
	stream, err := c.Stream(context.Background(), &Request{Model: "test/model"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	chunk, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if chunk.Text != "done" || chunk.FinishReason != "stop" {
		t.Errorf("chunk = %+v, want content done with finish_reason stop", chunk)
	}
	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("Recv() after finish = %v, want io.EOF", err)
	}
}

func TestStreamSkipsMalformedChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {not valid json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", zerolog.Nop())
	stream, err := c.Stream(context.Background(), &Request{Model: "test/model"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	if got := collect(t, stream); got != "ok" {
		t.Errorf("accumulated = %q, want %q", got, "ok")
	}
}

func TestStreamCancelledContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(srv.URL, "test-key", zerolog.Nop())
	stream, err := c.Stream(ctx, &Request{Model: "test/model"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	chunk, err := stream.Recv()
	if err != nil || chunk.Text != "partial" {
		t.Fatalf("Recv() = %+v, %v", chunk, err)
	}

	cancel()
	if _, err := stream.Recv(); err == nil {
		t.Error("Recv() after cancel should return an error")
	}
	if ctx.Err() == nil {
		t.Error("context should be cancelled")
	}
}

func TestStreamErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuthFailed},
		{http.StatusPaymentRequired, ErrQuotaExceeded},
		{http.StatusNotFound, ErrModelNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := NewClient(srv.URL, "test-key", zerolog.Nop())
		_, err := c.Stream(context.Background(), &Request{Model: "test/model"})
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: error = %v, want %v", tt.status, err, tt.want)
		}
		srv.Close()
	}
}

func TestStreamNotConfigured(t *testing.T) {
	c := NewClient("http://localhost:1", "", zerolog.Nop())
	if _, err := c.Stream(context.Background(), &Request{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Stream() error = %v, want ErrNotConfigured", err)
	}
	if _, err := c.Complete(context.Background(), &Request{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Complete() error = %v, want ErrNotConfigured", err)
	}
}

func TestCompleteReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hi there"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", zerolog.Nop())
	got, err := c.Complete(context.Background(), &Request{Model: "test/model"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "hi there" {
		t.Errorf("Complete() = %q, want %q", got, "hi there")
	}
}

func TestUpdateSwapsEndpointAndKey(t *testing.T) {
	var oldCalls, newCalls int
	oldSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		oldCalls++
		fmt.Fprint(w, `{"choices":[{"message":{"content":"old"}}]}`)
	}))
	defer oldSrv.Close()
	newSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		newCalls++
		if got := r.Header.Get("Authorization"); got != "Bearer new-key" {
			t.Errorf("Authorization = %q, want the updated key", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"new"}}]}`)
	}))
	defer newSrv.Close()

	c := NewClient(oldSrv.URL, "old-key", zerolog.Nop())
	c.Update(newSrv.URL, "new-key")

	got, err := c.Complete(context.Background(), &Request{Model: "test/model"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "new" {
		t.Errorf("Complete() = %q, want the updated endpoint's response", got)
	}
	if oldCalls != 0 || newCalls != 1 {
		t.Errorf("calls = (%d old, %d new), want (0, 1)", oldCalls, newCalls)
	}
}

func TestUpdateEmptyKeyDisablesClient(t *testing.T) {
	c := NewClient("http://example.invalid", "key", zerolog.Nop())
	c.Update("", "")
	if _, err := c.Complete(context.Background(), &Request{Model: "m"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Complete() error = %v, want ErrNotConfigured", err)
	}
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"upstream hiccup"}}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"recovered"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", zerolog.Nop())
	got, err := c.Complete(context.Background(), &Request{Model: "test/model"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "recovered" {
		t.Errorf("Complete() = %q, want %q", got, "recovered")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestCompleteDoesNotRetryAuthFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-key", zerolog.Nop())
	if _, err := c.Complete(context.Background(), &Request{Model: "test/model"}); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Complete() error = %v, want ErrAuthFailed", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSSEReaderMultiLineData(t *testing.T) {
	input := "data: line one\ndata: line two\n\n"
	r := NewSSEReader(strings.NewReader(input))
	data, err := r.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent() error = %v", err)
	}
	if string(data) != "line one\nline two" {
		t.Errorf("data = %q", data)
	}
}

func TestSSEReaderIgnoresCommentsAndIDs(t *testing.T) {
	input := ": comment\nid: 7\nretry: 1000\ndata: payload\n\n"
	r := NewSSEReader(strings.NewReader(input))
	data, err := r.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent() error = %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("data = %q, want %q", data, "payload")
	}
}
