// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command dispatch for driftchat.

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jeranaias/driftchat/internal/auth"
	"github.com/jeranaias/driftchat/internal/config"
	"github.com/jeranaias/driftchat/internal/engine"
	"github.com/jeranaias/driftchat/internal/server"
	"github.com/jeranaias/driftchat/internal/store"
	"github.com/jeranaias/driftchat/internal/syncer"
	"github.com/jeranaias/driftchat/internal/trigger"
)

// Version information (can be overridden at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdList
	CmdShow
	CmdDelete
	CmdExport
	CmdImport
	CmdSync
	CmdServe
	CmdTriggers
	CmdConfig
	CmdVersion
	CmdHelp
)

// App bundles the wired subsystems the command handlers operate on.
// Sync is nil when the sync service is disabled in configuration.
type App struct {
	Config   *config.Config
	Store    *store.Store
	Engine   *engine.Engine
	Triggers *trigger.Repository
	Auth     *auth.TokenProvider
	Sync     *syncer.Engine
	KV       server.KV
	Log      zerolog.Logger
}

const usageText = `driftchat - local-first AI chat for the terminal

Driftchat keeps every conversation on your machine, streams model output as
it arrives, and optionally mirrors durable chats to a sync service.

It provides:
  - Streaming chat against any OpenAI-compatible endpoint
  - Trigger phrases that shape the system prompt per message
  - Thinking and <tag> segment extraction from model output
  - Incognito chats that never touch disk
  - Debounced background sync with offline-first merge

Usage:
  driftchat                        Start interactive chat (default)
  driftchat chat                   Interactive chat
  driftchat list, ls               List saved chats
  driftchat show <id>              Print a chat transcript
  driftchat delete <id>            Delete a chat
  driftchat export [FILE]          Export chats to a file or stdout
  driftchat import FILE            Import a previous export
  driftchat sync [subcommand]      Sync service management
  driftchat serve                  Run a self-hosted sync service
  driftchat triggers [subcommand]  Trigger table management
  driftchat config [show|path]     Configuration
  driftchat version                Show version
  driftchat help                   Show this help

Chat Flags:
  -m, --model NAME    Use specific model (overrides config)
  --incognito         Keep this chat in memory only
  -c, --chat ID       Resume an existing chat

Interactive Commands (during chat):
  /help, /h           Show available commands
  /new                Start a new chat
  /chats              List chats
  /switch <id>        Switch to another chat
  /incognito          Start a new incognito chat
  /model [name]       Show or switch model
  /regen              Regenerate the last answer
  /quit, /q           Exit chat
  Ctrl+C              Cancel current generation
  Ctrl+D              Exit chat

Export / Import:
  driftchat export chats.json               Plain JSON export
  driftchat export chats.enc --encrypt      AES-256-GCM encrypted export
  driftchat import chats.json               Replace durable chats
  driftchat import chats.enc --encrypt      Prompts for the passphrase

Sync Commands:
  driftchat sync status            Show sync state and account
  driftchat sync signin ACCOUNT    Sign in (prompts for TOTP when configured)
    --code CODE                    Supply the TOTP code directly
  driftchat sync signout           Sign out and stop syncing
  driftchat sync now               Schedule an immediate upload pass

Serve Flags:
  --addr HOST:PORT                 Listen address (default :8787)
  --token SECRET                   Require this bearer token

Trigger Commands:
  driftchat triggers list          List the active trigger table
  driftchat triggers add PHRASE --instruction TEXT
    --category NAME                Category (default: productivity)
    --example TEXT                 Sample utterance
  driftchat triggers remove PHRASE Remove or shadow a trigger
  driftchat triggers reset         Drop all overrides

Global Flags:
  -q, --quiet     Minimal output
  -v, --verbose   Debug output
  --json          Machine-readable output where supported

Examples:
  driftchat                                Start chatting
  driftchat chat --model qwen/qwen-2.5-72b-instruct
  driftchat chat --incognito               Nothing written to disk
  driftchat list                           Saved chats, newest first
  driftchat export backup.json             Back up everything durable
  driftchat sync signin alice              Start mirroring chats
  driftchat triggers add "table of pros and cons" --instruction "present the answer as a two-column table"

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("driftchat version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// Parse parses command-line arguments and returns the command and the parsed
// remainder. The first non-flag argument selects the command; everything
// after it belongs to that command.
func Parse() (Command, *ArgParser) {
	args := os.Args[1:]

	if len(args) == 0 {
		return CmdChat, NewArgParser(nil)
	}

	cmd := strings.ToLower(args[0])
	if strings.HasPrefix(cmd, "-") {
		switch cmd {
		case "-h", "--help":
			return CmdHelp, NewArgParser(args[1:])
		case "-v", "--version":
			return CmdVersion, NewArgParser(args[1:])
		}
		// Other bare flags default to chat: "driftchat --model x".
		return CmdChat, NewArgParser(args)
	}

	rest := NewArgParser(args[1:])

	switch cmd {
	case "chat":
		return CmdChat, rest
	case "list", "ls", "l":
		return CmdList, rest
	case "show":
		return CmdShow, rest
	case "delete", "rm":
		return CmdDelete, rest
	case "export":
		return CmdExport, rest
	case "import":
		return CmdImport, rest
	case "sync":
		return CmdSync, rest
	case "serve", "server":
		return CmdServe, rest
	case "triggers", "trigger":
		return CmdTriggers, rest
	case "config":
		return CmdConfig, rest
	case "version", "-V", "--version":
		return CmdVersion, rest
	case "help", "-h", "--help":
		return CmdHelp, rest
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (run 'driftchat help')\n", cmd)
		return CmdHelp, rest
	}
}

// Run dispatches a parsed command to its handler.
func (a *App) Run(cmd Command, args *ArgParser) error {
	switch cmd {
	case CmdChat:
		return a.HandleChat(args)
	case CmdList:
		return a.HandleList(args)
	case CmdShow:
		return a.HandleShow(args)
	case CmdDelete:
		return a.HandleDelete(args)
	case CmdExport:
		return a.HandleExport(args)
	case CmdImport:
		return a.HandleImport(args)
	case CmdSync:
		return a.HandleSync(args)
	case CmdServe:
		return a.HandleServe(args)
	case CmdTriggers:
		return a.HandleTriggers(args)
	case CmdConfig:
		return a.HandleConfig(args)
	case CmdVersion:
		PrintVersion()
		return nil
	case CmdHelp:
		PrintUsage()
		return nil
	default:
		PrintUsage()
		return nil
	}
}
