// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assemble turns a raw model stream into presentable message state.
//
// The assembler accumulates raw chunks, re-extracts tagged regions from the
// full buffer after every chunk, and publishes monotonic snapshots: the raw
// buffer only ever grows by appending, so every published raw content is a
// prefix of the next. Aborting freezes whatever has been assembled so far.
package assemble

import (
	"strings"

	"github.com/jeranaias/driftchat/internal/model"
)

// =============================================================================
// TAG EXTRACTION
// =============================================================================

// thinkingTags are the tag names treated as reasoning markers.
var thinkingTags = map[string]bool{
	"think":    true,
	"thinking": true,
}

// Extraction is the result of scanning a raw buffer for tagged regions.
type Extraction struct {
	// Visible is the text left after removing completed wrappers and any
	// thinking region.
	Visible string

	// Thinking is the accumulated reasoning text, complete or partial.
	Thinking string

	// ThinkingDone reports whether every thinking region seen so far has
	// been closed.
	ThinkingDone bool

	// Segments are the completed non-thinking tagged regions, in order of
	// appearance.
	Segments []model.TaggedSegment
}

// Extract scans raw for <tag>...</tag> regions.
//
// Thinking tags are special: an unclosed thinking tag swallows the rest of
// the buffer as in-progress reasoning, so partial thinking is surfaced
// while streaming. Completed non-thinking pairs become Segments and their
// wrappers disappear from the visible text. An unclosed non-thinking tag
// stays visible untouched; the model may simply be emitting a literal '<'.
func Extract(raw string) Extraction {
	var (
		visible  strings.Builder
		thinking strings.Builder
		ext      Extraction
	)
	ext.ThinkingDone = true

	i := 0
	for i < len(raw) {
		open := strings.IndexByte(raw[i:], '<')
		if open < 0 {
			visible.WriteString(raw[i:])
			break
		}
		open += i
		visible.WriteString(raw[i:open])

		name, contentStart, ok := parseOpenTag(raw, open)
		if !ok {
			// Not a tag open; keep the '<' literal.
			visible.WriteByte('<')
			i = open + 1
			continue
		}

		closing := "</" + name + ">"
		end := strings.Index(raw[contentStart:], closing)

		if thinkingTags[name] {
			if thinking.Len() > 0 {
				thinking.WriteString("\n\n")
			}
			if end < 0 {
				// Unclosed reasoning: everything that follows is
				// in-progress thinking.
				thinking.WriteString(raw[contentStart:])
				ext.ThinkingDone = false
				break
			}
			end += contentStart
			thinking.WriteString(raw[contentStart:end])
			i = end + len(closing)
			continue
		}

		if end < 0 {
			// Unclosed generic tag stays visible as-is.
			visible.WriteString(raw[open:])
			break
		}
		end += contentStart
		ext.Segments = append(ext.Segments, model.TaggedSegment{
			Tag:     name,
			Content: strings.TrimSpace(raw[contentStart:end]),
		})
		i = end + len(closing)
	}

	ext.Visible = strings.TrimSpace(visible.String())
	ext.Thinking = strings.TrimSpace(thinking.String())
	return ext
}

// parseOpenTag parses an opening tag at raw[pos] ('<'). It returns the tag
// name and the index just past the '>'. ok is false when this is not a
// well-formed opening tag.
func parseOpenTag(raw string, pos int) (name string, contentStart int, ok bool) {
	j := pos + 1
	for j < len(raw) && isTagNameByte(raw[j]) {
		j++
	}
	if j == pos+1 || j >= len(raw) || raw[j] != '>' {
		return "", 0, false
	}
	return raw[pos+1 : j], j + 1, true
}

func isTagNameByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' ||
		b >= '0' && b <= '9' || b == '_' || b == '-'
}
