// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Centralized styling for all driftchat CLI commands.
//
// All commands use these shared styles instead of defining their own, so the
// palette stays consistent across the whole surface.

package cli

import (
	"github.com/charmbracelet/lipgloss"
)

// init configures lipgloss color profile based on terminal capabilities.
// This respects NO_COLOR, FORCE_COLOR, and TTY detection.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// titleStyle is used for command titles and headers.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"})

	// promptStyle is used for the interactive chat prompt.
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"})

	// infoStyle is used for secondary text and labels.
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	// commandStyle is used for values, command names, and OK tags.
	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"})

	// warningStyle is used for warnings and caution states.
	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"})

	// errorStyle is used for error messages and failures.
	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"})

	// thinkingStyle marks streamed reasoning text.
	thinkingStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("243"))

	// tagStyle marks extracted structured segments.
	tagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}).
			Bold(true)

	// userStyle marks the user's own turns in transcripts.
	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"})

	// assistantStyle marks assistant turns in transcripts.
	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"})
)
