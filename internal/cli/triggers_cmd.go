// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// triggers_cmd.go - Trigger table management commands for driftchat.
//
// Commands: triggers list, triggers add, triggers remove, triggers reset
//
// Examples:
//   driftchat triggers list
//   driftchat triggers add "table of pros and cons" \
//     --instruction "present the answer as a two-column table"
//   driftchat triggers remove "deep research"
//   driftchat triggers reset --confirm

package cli

import (
	"fmt"
	"strings"

	"github.com/jeranaias/driftchat/internal/trigger"
	"github.com/jeranaias/driftchat/internal/util"
)

// HandleTriggers dispatches trigger subcommands.
func (a *App) HandleTriggers(args *ArgParser) error {
	switch args.Subcommand() {
	case "", "list", "ls":
		return a.triggersList(args)
	case "add":
		return a.triggersAdd(args)
	case "remove", "rm":
		return a.triggersRemove(args)
	case "reset":
		return a.triggersReset(args)
	default:
		return fmt.Errorf("unknown triggers subcommand: %s", args.Subcommand())
	}
}

// triggersList prints the active trigger table in table order.
func (a *App) triggersList(args *ArgParser) error {
	defs := a.Triggers.List()

	if args.BoolFlag("json") {
		return outputJSON(defs)
	}

	if len(defs) == 0 {
		fmt.Println(infoStyle.Render("Trigger table is empty."))
		return nil
	}

	fmt.Println()
	fmt.Println(titleStyle.Render("Trigger Table"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 30)))
	fmt.Println()

	for _, d := range defs {
		state := commandStyle.Render("enabled")
		if !d.Enabled {
			state = infoStyle.Render("disabled")
		}
		kind := ""
		if d.Custom {
			kind = warningStyle.Render(" [custom]")
		}
		fmt.Printf("  %s  %s  %s%s\n",
			commandStyle.Render(util.PadRight(d.Trigger, 28)),
			infoStyle.Render(util.PadRight(string(d.Category), 12)),
			state, kind)
		fmt.Printf("    %s\n", infoStyle.Render(util.TruncateWidth(d.Instruction, 70)))
	}
	fmt.Println()
	fmt.Println(infoStyle.Render(fmt.Sprintf("%d trigger(s)", len(defs))))
	return nil
}

// triggersAdd adds a custom trigger or shadows a built-in with new behavior.
func (a *App) triggersAdd(args *ArgParser) error {
	phrase := args.Positional(1)
	if phrase == "" {
		return fmt.Errorf("usage: driftchat triggers add PHRASE --instruction TEXT")
	}
	instruction := args.Flag("instruction")
	if instruction == "" {
		return fmt.Errorf("--instruction is required")
	}

	category := trigger.Category(args.FlagOrDefault("category", string(trigger.CategoryProductivity)))
	if !category.Valid() {
		names := make([]string, len(trigger.Categories))
		for i, c := range trigger.Categories {
			names[i] = string(c)
		}
		return fmt.Errorf("unknown category %q (valid: %s)", category, strings.Join(names, ", "))
	}

	def := &trigger.Definition{
		Trigger:     phrase,
		Category:    category,
		Instruction: instruction,
		Example:     args.Flag("example"),
		Enabled:     !args.BoolFlag("disabled"),
		Custom:      true,
	}
	if err := a.Triggers.Upsert(def); err != nil {
		return err
	}

	fmt.Printf("%s trigger %q added (tag <%s>)\n",
		commandStyle.Render("[ok]"), phrase, def.Tag())
	return nil
}

// triggersRemove removes a custom trigger or shadows out a built-in.
func (a *App) triggersRemove(args *ArgParser) error {
	phrase := args.Positional(1)
	if phrase == "" {
		return fmt.Errorf("usage: driftchat triggers remove PHRASE")
	}
	if err := a.Triggers.Remove(phrase); err != nil {
		return err
	}
	fmt.Printf("%s trigger %q removed\n", commandStyle.Render("[ok]"), phrase)
	return nil
}

// triggersReset drops every override, restoring the built-in table.
func (a *App) triggersReset(args *ArgParser) error {
	if !args.BoolFlag("confirm") {
		if !IsTTY() {
			return fmt.Errorf("refusing to reset without --confirm")
		}
		answer := promptInput("Drop all trigger overrides? [y/N] ")
		if answer != "y" && answer != "yes" {
			fmt.Println(infoStyle.Render("Aborted."))
			return nil
		}
	}

	if err := a.Triggers.Reset(); err != nil {
		return err
	}
	fmt.Println(commandStyle.Render("[ok]") + " trigger table reset to built-ins")
	return nil
}
