// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// =============================================================================
// SSE CONSTANTS
// =============================================================================

// MaxEventSize is the maximum allowed size for a single SSE event (64KB).
const MaxEventSize = 64 * 1024

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event and returns its data payload.
// Multi-line data fields are joined with newlines. Comment, id and retry
// fields are ignored. Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() ([]byte, error) {
	var dataLines [][]byte
	total := 0

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// Flush any buffered data before EOF
				if len(dataLines) > 0 {
					return bytes.Join(dataLines, []byte("\n")), nil
				}
				return nil, io.EOF
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			data := bytes.TrimSpace(line[5:])
			total += len(data)
			if total > MaxEventSize {
				return nil, fmt.Errorf("sse event too large: %d bytes", total)
			}
			dataLines = append(dataLines, data)
		}
		// Ignore other fields (event:, id:, retry:, comments starting with :)
	}
}

// =============================================================================
// SSE STREAM
// =============================================================================

// streamChunk is the wire format of a streaming delta.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *wireError `json:"error,omitempty"`
}

// sseStream adapts an SSE response body to the Stream interface.
type sseStream struct {
	body   io.ReadCloser
	reader *SSEReader
	done   bool
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{
		body:   body,
		reader: NewSSEReader(body),
	}
}

// Recv returns the next chunk. It returns io.EOF after the [DONE] signal
// or when the underlying body ends.
func (s *sseStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	for {
		data, err := s.reader.ReadEvent()
		if err != nil {
			s.done = true
			return Chunk{}, err
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			s.done = true
			return Chunk{}, io.EOF
		}

		var wire streamChunk
		if err := json.Unmarshal(data, &wire); err != nil {
			// Skip malformed chunks
			continue
		}
		if wire.Error != nil {
			s.done = true
			return Chunk{}, &APIError{
				Code:    string(wire.Error.Code),
				Message: wire.Error.Message,
			}
		}
		if len(wire.Choices) == 0 {
			continue
		}

		chunk := Chunk{
			Text:         wire.Choices[0].Delta.Content,
			FinishReason: wire.Choices[0].FinishReason,
		}
		if chunk.FinishReason != "" {
			s.done = true
		}
		return chunk, nil
	}
}

// Close releases the underlying response body.
func (s *sseStream) Close() {
	s.body.Close()
}
