// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package trigger

import (
	"fmt"
	"strings"
)

// DefaultInstruction is used when no trigger matches.
const DefaultInstruction = "Respond helpfully and accurately."

// promptSuffix closes every composed system prompt.
const promptSuffix = "Apply every matched behavior to your answer. When a behavior " +
	"produces structured output, wrap that portion in <tag>...</tag> using the " +
	"behavior's tag."

// Match is the result of trigger detection over one user utterance.
type Match struct {
	// SystemPrompt is the composed system-prompt fragment.
	SystemPrompt string

	// Triggers are the matched trigger names, in table order.
	Triggers []string
}

// Detect scans user text for enabled triggers and composes the system-prompt
// fragment.
//
// Every enabled definition is tested independently with a word-boundary,
// case-insensitive match, so overlapping phrases ("research" inside "deep
// research") both fire. Matches are collected in table order; no precedence
// or suppression is applied.
func (r *Repository) Detect(text string) Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var clauses []string
	var names []string
	for _, d := range r.defs {
		if !d.Enabled {
			continue
		}
		p, ok := r.patterns[d.Key()]
		if !ok || !p.MatchString(text) {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%q means %s (tag: %s).", d.Trigger, d.Instruction, d.Tag()))
		names = append(names, d.Trigger)
	}

	if len(clauses) == 0 {
		return Match{SystemPrompt: DefaultInstruction + " " + promptSuffix}
	}
	return Match{
		SystemPrompt: strings.Join(clauses, " ") + " " + promptSuffix,
		Triggers:     names,
	}
}
