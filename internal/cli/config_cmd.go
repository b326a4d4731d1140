// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Configuration commands for driftchat.
//
// Commands: config show, config path, config set
//
// Examples:
//   driftchat config show
//   driftchat config path
//   driftchat config set backend.model anthropic/claude-3.5-sonnet
//   driftchat config set backend.api_key sk-or-...

package cli

import (
	"fmt"
	"strconv"

	"github.com/jeranaias/driftchat/internal/config"
)

// HandleConfig dispatches config subcommands.
func (a *App) HandleConfig(args *ArgParser) error {
	switch args.Subcommand() {
	case "", "show":
		return a.configShow(args)
	case "path":
		path, err := config.Path()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	case "set":
		return a.configSet(args)
	default:
		return fmt.Errorf("unknown config subcommand: %s", args.Subcommand())
	}
}

// configShow prints the effective configuration with the API key redacted.
func (a *App) configShow(args *ArgParser) error {
	c := a.Config

	key := "(not set)"
	if c.Backend.APIKey != "" {
		key = "(set, redacted)"
	}

	if args.BoolFlag("json") {
		return outputJSON(map[string]interface{}{
			"backend": map[string]interface{}{
				"base_url":    c.Backend.BaseURL,
				"api_key":     key,
				"model":       c.Backend.Model,
				"temperature": c.Backend.Temperature,
			},
			"sync": map[string]interface{}{
				"enabled":  c.Sync.Enabled,
				"base_url": c.Sync.BaseURL,
				"account":  c.Sync.AccountID,
			},
			"log": map[string]interface{}{
				"level": c.Log.Level,
			},
		})
	}

	fmt.Println()
	fmt.Println(titleStyle.Render("Configuration"))
	fmt.Println()
	fmt.Printf("  %s %s\n", infoStyle.Render("backend.base_url:"), c.Backend.BaseURL)
	fmt.Printf("  %s %s\n", infoStyle.Render("backend.api_key:"), key)
	fmt.Printf("  %s %s\n", infoStyle.Render("backend.model:"), c.Backend.Model)
	fmt.Printf("  %s %g\n", infoStyle.Render("backend.temperature:"), c.Backend.Temperature)
	fmt.Printf("  %s %t\n", infoStyle.Render("sync.enabled:"), c.Sync.Enabled)
	if c.Sync.BaseURL != "" {
		fmt.Printf("  %s %s\n", infoStyle.Render("sync.base_url:"), c.Sync.BaseURL)
	}
	fmt.Printf("  %s %s\n", infoStyle.Render("log.level:"), c.Log.Level)
	fmt.Println()
	return nil
}

// configSet updates one key in the config file.
func (a *App) configSet(args *ArgParser) error {
	key := args.Positional(1)
	val := args.Positional(2)
	if key == "" || val == "" {
		return fmt.Errorf("usage: driftchat config set <key> <value>")
	}

	c := a.Config
	switch key {
	case "backend.base_url":
		c.Backend.BaseURL = val
	case "backend.api_key":
		c.Backend.APIKey = val
	case "backend.model":
		c.Backend.Model = val
	case "backend.temperature":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("temperature must be a number: %w", err)
		}
		c.Backend.Temperature = f
	case "sync.enabled":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("sync.enabled must be true or false")
		}
		c.Sync.Enabled = b
	case "sync.base_url":
		c.Sync.BaseURL = val
	case "sync.token":
		c.Sync.Token = val
	case "sync.account_id":
		c.Sync.AccountID = val
	case "log.level":
		c.Log.Level = val
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}

	if err := c.Validate(); err != nil {
		return err
	}

	path, err := config.Path()
	if err != nil {
		return err
	}
	if err := c.Save(path); err != nil {
		return err
	}

	fmt.Printf("%s %s = %s\n", commandStyle.Render("[ok]"), key, val)
	return nil
}
