// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package trigger implements keyword-trigger detection and the trigger table.
//
// A trigger is a keyword or phrase that, when detected in user input, injects
// a behavior instruction into the model's system prompt. The table of
// definitions is an explicit repository passed to callers by injection; there
// is no ambient module state.
package trigger

import (
	"strings"

	"golang.org/x/text/cases"
)

// =============================================================================
// CATEGORY
// =============================================================================

// Category groups related triggers. The set is closed.
type Category string

const (
	CategoryResearch     Category = "research"
	CategoryReasoning    Category = "reasoning"
	CategoryCreative     Category = "creative"
	CategoryProductivity Category = "productivity"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryResearch,
	CategoryReasoning,
	CategoryCreative,
	CategoryProductivity,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// =============================================================================
// DEFINITION
// =============================================================================

// Definition describes one trigger.
type Definition struct {
	// Trigger is the keyword or phrase, matched case-insensitively on word
	// boundaries. Unique within the table by folded form.
	Trigger string `json:"trigger"`

	// Category the trigger belongs to.
	Category Category `json:"category"`

	// Instruction is injected into the system prompt when the trigger fires.
	Instruction string `json:"instruction"`

	// Example shows a sample utterance that fires the trigger.
	Example string `json:"example,omitempty"`

	// Enabled triggers participate in detection.
	Enabled bool `json:"enabled"`

	// Custom distinguishes user-defined triggers from built-ins.
	Custom bool `json:"custom,omitempty"`
}

// folder performs Unicode-correct case folding for table keys.
var folder = cases.Fold()

// Key returns the folded form used to identify the definition in the table.
func (d *Definition) Key() string {
	return folder.String(strings.TrimSpace(d.Trigger))
}

// Tag returns the segment tag the model uses to wrap structured output for
// this trigger: the folded trigger with spaces replaced by underscores.
func (d *Definition) Tag() string {
	return strings.ReplaceAll(d.Key(), " ", "_")
}

// Clone returns a copy of the definition.
func (d *Definition) Clone() *Definition {
	dup := *d
	return &dup
}

// =============================================================================
// BUILT-IN TABLE
// =============================================================================

// builtins is the fixed built-in trigger table, in table order. Built-ins are
// immutable at the data level: they can be shadowed by an override with the
// same key, or removed by category, never edited or deleted individually.
var builtins = []*Definition{
	{
		Trigger:     "deep research",
		Category:    CategoryResearch,
		Instruction: "conduct an exhaustive multi-angle investigation of the topic, separating established facts from open questions",
		Example:     "please deep research the causes of inflation",
		Enabled:     true,
	},
	{
		Trigger:     "research",
		Category:    CategoryResearch,
		Instruction: "gather and synthesize the relevant background before answering",
		Example:     "research the history of container shipping",
		Enabled:     true,
	},
	{
		Trigger:     "reason",
		Category:    CategoryReasoning,
		Instruction: "work through the problem step by step and show the intermediate conclusions",
		Example:     "reason about whether this algorithm terminates",
		Enabled:     true,
	},
	{
		Trigger:     "think it through",
		Category:    CategoryReasoning,
		Instruction: "consider alternative interpretations before committing to an answer",
		Example:     "think it through before you answer",
		Enabled:     true,
	},
	{
		Trigger:     "brainstorm",
		Category:    CategoryCreative,
		Instruction: "produce a broad list of distinct ideas before evaluating any of them",
		Example:     "brainstorm names for a coffee shop",
		Enabled:     true,
	},
	{
		Trigger:     "rewrite",
		Category:    CategoryCreative,
		Instruction: "rework the supplied text while preserving its meaning, and explain the notable changes",
		Example:     "rewrite this paragraph in plainer language",
		Enabled:     true,
	},
	{
		Trigger:     "summarize",
		Category:    CategoryProductivity,
		Instruction: "condense the material into its essential points, shortest first",
		Example:     "summarize the attached meeting notes",
		Enabled:     true,
	},
	{
		Trigger:     "checklist",
		Category:    CategoryProductivity,
		Instruction: "turn the answer into an ordered, actionable checklist",
		Example:     "give me a checklist for deploying the service",
		Enabled:     true,
	},
}

// Builtins returns a copy of the built-in table.
func Builtins() []*Definition {
	out := make([]*Definition, len(builtins))
	for i, d := range builtins {
		out[i] = d.Clone()
	}
	return out
}
