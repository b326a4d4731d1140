// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// list.go - Chat listing, transcript display, and deletion commands.
//
// Commands: list, show, delete
//
// Examples:
//   driftchat list                List saved chats, newest first
//   driftchat list --json         Machine-readable listing
//   driftchat show 01J8...        Print a chat transcript
//   driftchat delete 01J8...      Delete a chat (requires --confirm)

package cli

import (
	"fmt"
	"strings"

	"github.com/jeranaias/driftchat/internal/model"
	"github.com/jeranaias/driftchat/internal/util"
)

// =============================================================================
// LIST
// =============================================================================

// HandleList prints all chats, newest first.
func (a *App) HandleList(args *ArgParser) error {
	chats := a.Store.List()

	if args.BoolFlag("json") {
		type row struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Model     string `json:"model"`
			Messages  int    `json:"messages"`
			Incognito bool   `json:"incognito,omitempty"`
			UpdatedAt string `json:"updated_at"`
		}
		rows := make([]row, 0, len(chats))
		for _, c := range chats {
			rows = append(rows, row{
				ID:        c.ID,
				Title:     c.Title,
				Model:     c.Model,
				Messages:  len(c.Messages),
				Incognito: c.Incognito,
				UpdatedAt: c.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
			})
		}
		return outputJSON(rows)
	}

	if len(chats) == 0 {
		fmt.Println(infoStyle.Render("No chats yet. Run 'driftchat' to start one."))
		return nil
	}

	current := a.Store.Current()
	width := GetTerminalWidth()
	titleWidth := width - 34
	if titleWidth < 16 {
		titleWidth = 16
	}

	fmt.Println()
	for _, c := range chats {
		marker := "  "
		if current != nil && c.ID == current.ID {
			marker = commandStyle.Render("* ")
		}

		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		line := fmt.Sprintf("%s%s  %s",
			marker,
			commandStyle.Render(c.ID),
			util.PadRight(util.TruncateWidth(title, titleWidth), titleWidth))

		if c.Incognito {
			line += " " + warningStyle.Render("[incognito]")
		}
		fmt.Printf("%s  %s\n", line, infoStyle.Render(formatAge(c.UpdatedAt)))
	}
	fmt.Println()
	fmt.Println(infoStyle.Render(fmt.Sprintf("%d chat(s)", len(chats))))
	return nil
}

// =============================================================================
// SHOW
// =============================================================================

// HandleShow prints a full chat transcript.
func (a *App) HandleShow(args *ArgParser) error {
	id := args.Positional(0)
	if id == "" {
		return fmt.Errorf("usage: driftchat show <id>")
	}

	chat := a.Store.Get(id)
	if chat == nil {
		return fmt.Errorf("no chat with id %s", id)
	}

	if args.BoolFlag("json") {
		return outputJSON(chat)
	}

	title := chat.Title
	if title == "" {
		title = "(untitled)"
	}

	fmt.Println()
	fmt.Println(titleStyle.Render(title))
	fmt.Println(infoStyle.Render(strings.Repeat("\u2500", 30)))
	fmt.Printf("%s %s   %s %s\n",
		infoStyle.Render("Model:"), chat.Model,
		infoStyle.Render("Updated:"), formatAge(chat.UpdatedAt))
	fmt.Println()

	for _, msg := range chat.Messages {
		printTranscriptMessage(msg, args.BoolFlag("raw"))
	}
	return nil
}

// printTranscriptMessage renders one message of a transcript.
func printTranscriptMessage(msg *model.Message, raw bool) {
	var label string
	switch msg.Role {
	case model.RoleUser:
		label = userStyle.Render(msg.Role.DisplayName())
	case model.RoleAssistant:
		label = assistantStyle.Render(msg.Role.DisplayName())
	default:
		label = warningStyle.Render(msg.Role.DisplayName())
	}

	fmt.Printf("%s:\n", label)

	if raw && msg.RawContent != "" {
		fmt.Println(msg.RawContent)
		fmt.Println()
		return
	}

	if msg.Content != "" {
		fmt.Println(msg.Content)
	}
	if msg.Thinking != "" {
		fmt.Println(thinkingStyle.Render("[thinking] " + util.FirstLine(msg.Thinking)))
	}
	for _, seg := range msg.Segments {
		fmt.Println(tagStyle.Render("<" + seg.Tag + ">"))
		fmt.Println(seg.Content)
	}
	if len(msg.Triggers) > 0 {
		fmt.Println(infoStyle.Render("triggers: " + strings.Join(msg.Triggers, ", ")))
	}
	fmt.Println()
}

// =============================================================================
// DELETE
// =============================================================================

// HandleDelete removes a chat. Destructive, so --confirm (or an interactive
// yes) is required.
func (a *App) HandleDelete(args *ArgParser) error {
	id := args.Positional(0)
	if id == "" {
		return fmt.Errorf("usage: driftchat delete <id> --confirm")
	}

	chat := a.Store.Get(id)
	if chat == nil {
		return fmt.Errorf("no chat with id %s", id)
	}

	if !args.BoolFlag("confirm") {
		if !IsTTY() {
			return fmt.Errorf("refusing to delete without --confirm")
		}
		answer := promptInput(fmt.Sprintf("Delete chat %s (%s)? [y/N] ",
			chat.ID, util.TruncateRunes(chat.Title, 40)))
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			fmt.Println(infoStyle.Render("Aborted."))
			return nil
		}
	}

	if err := a.Engine.DeleteChat(id); err != nil {
		return err
	}
	fmt.Printf("%s deleted %s\n", commandStyle.Render("[ok]"), id)
	return nil
}
