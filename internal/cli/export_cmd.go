// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// export_cmd.go - Export and import commands for driftchat.
//
// Commands: export, import
//
// Examples:
//   driftchat export                     Write the export JSON to stdout
//   driftchat export chats.json          Write to a file
//   driftchat export chats.enc --encrypt Encrypted export (prompts twice)
//   driftchat import chats.json          Replace durable chats
//   driftchat import chats.enc           Encrypted imports are detected
//
// Plain exports are a single JSON document holding every durable chat, the
// current-chat pointer, trigger overrides, and settings. Encrypted exports
// wrap that document in AES-256-GCM with a PBKDF2-derived key.

package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/driftchat/internal/store"
	"github.com/jeranaias/driftchat/internal/util"
)

// encryptedMarker identifies the encrypted export envelope without a full
// JSON parse.
var encryptedMarker = []byte(`"driftchat-export-aes256gcm"`)

// =============================================================================
// EXPORT
// =============================================================================

// HandleExport writes an export of all durable chats to a file or stdout.
func (a *App) HandleExport(args *ArgParser) error {
	target := args.Positional(0)
	if target == "" {
		target = args.Flag("output")
	}

	var data []byte
	var err error

	if args.BoolFlag("encrypt") {
		pass, perr := promptNewPassphrase()
		if perr != nil {
			return perr
		}
		data, err = a.Store.ExportEncrypted(pass)
	} else {
		data, err = a.Store.Export()
	}
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	if target == "" {
		_, err = os.Stdout.Write(data)
		return err
	}

	if err := util.AtomicWriteFile(target, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}

	n := len(a.Store.List())
	fmt.Printf("%s exported to %s\n", commandStyle.Render("[ok]"), target)
	fmt.Println(infoStyle.Render(fmt.Sprintf("%d chat(s), %d bytes", n, len(data))))
	return nil
}

// promptNewPassphrase reads a passphrase twice and verifies both match.
func promptNewPassphrase() (string, error) {
	pass, err := promptPassphrase("Passphrase: ")
	if err != nil {
		return "", err
	}
	if pass == "" {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	again, err := promptPassphrase("Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if pass != again {
		return "", fmt.Errorf("passphrases do not match")
	}
	return pass, nil
}

// =============================================================================
// IMPORT
// =============================================================================

// HandleImport replaces all durable chats with the contents of an export
// file. Incognito chats currently in memory are kept.
func (a *App) HandleImport(args *ArgParser) error {
	path := args.Positional(0)
	if path == "" {
		return fmt.Errorf("usage: driftchat import <file>")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if !args.BoolFlag("confirm") && IsTTY() {
		answer := promptInput("Importing replaces all saved chats. Continue? [y/N] ")
		if answer != "y" && answer != "yes" {
			fmt.Println(infoStyle.Render("Aborted."))
			return nil
		}
	}

	if bytes.Contains(data, encryptedMarker) || args.BoolFlag("encrypt") {
		pass, perr := promptPassphrase("Passphrase: ")
		if perr != nil {
			return perr
		}
		err = a.Store.ImportEncrypted(data, pass)
		if errors.Is(err, store.ErrBadPassphrase) {
			return fmt.Errorf("wrong passphrase or corrupted export")
		}
	} else {
		err = a.Store.Import(data)
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	if a.Sync != nil {
		a.Sync.OnChange()
	}

	fmt.Printf("%s imported %d chat(s) from %s\n",
		commandStyle.Render("[ok]"), len(a.Store.List()), path)
	return nil
}
