// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sync_cmd.go - Sync service management commands for driftchat.
//
// Commands: sync status, sync signin, sync signout, sync now
//
// Examples:
//   driftchat sync status            Show sync state and account
//   driftchat sync signin alice      Sign in (prompts for TOTP when set)
//   driftchat sync signin alice --code 123456
//   driftchat sync signout           Sign out and stop syncing
//   driftchat sync now               Schedule an immediate upload pass

package cli

import (
	"errors"
	"fmt"

	"github.com/jeranaias/driftchat/internal/auth"
)

// HandleSync dispatches sync subcommands.
func (a *App) HandleSync(args *ArgParser) error {
	if a.Sync == nil {
		return fmt.Errorf("sync is not enabled; set [sync] enabled = true in the config")
	}

	switch args.Subcommand() {
	case "", "status":
		return a.syncStatus(args)
	case "signin", "sign-in", "login":
		return a.syncSignIn(args)
	case "signout", "sign-out", "logout":
		return a.syncSignOut()
	case "now":
		a.Sync.OnChange()
		fmt.Println(commandStyle.Render("[ok]") + " upload pass scheduled")
		return nil
	default:
		return fmt.Errorf("unknown sync subcommand: %s", args.Subcommand())
	}
}

// syncStatus prints the current sync state.
func (a *App) syncStatus(args *ArgParser) error {
	account := a.Auth.AccountID()

	if args.BoolFlag("json") {
		return outputJSON(map[string]interface{}{
			"enabled":   true,
			"signed_in": account != "",
			"account":   account,
			"base_url":  a.Config.Sync.BaseURL,
		})
	}

	fmt.Println()
	fmt.Println(titleStyle.Render("Sync Status"))
	fmt.Printf("  %s %s\n", infoStyle.Render("Service:"), a.Config.Sync.BaseURL)
	if account == "" {
		fmt.Printf("  %s %s\n", infoStyle.Render("Account:"), warningStyle.Render("signed out"))
	} else {
		fmt.Printf("  %s %s\n", infoStyle.Render("Account:"), commandStyle.Render(account))
	}
	fmt.Printf("  %s %s\n", infoStyle.Render("Debounce:"), a.Config.Sync.Debounce().String())
	fmt.Printf("  %s %s\n", infoStyle.Render("Min interval:"), a.Config.Sync.MinInterval().String())
	fmt.Println()
	return nil
}

// syncSignIn signs in to the sync service and kicks off the initial merge.
func (a *App) syncSignIn(args *ArgParser) error {
	account := args.Positional(1)
	if account == "" {
		account = a.Config.Sync.AccountID
	}
	if account == "" {
		return fmt.Errorf("usage: driftchat sync signin <account>")
	}

	code := args.Flag("code")
	if code == "" && a.Config.Sync.TOTPSecret != "" {
		code = promptInput("TOTP code: ")
	}

	err := a.Auth.SignIn(account, code)
	switch {
	case errors.Is(err, auth.ErrAlreadySignedIn):
		return fmt.Errorf("already signed in as %s (sign out first)", a.Auth.AccountID())
	case errors.Is(err, auth.ErrInvalidCode):
		return fmt.Errorf("invalid TOTP code")
	case err != nil:
		return err
	}

	fmt.Printf("%s signed in as %s\n", commandStyle.Render("[ok]"), account)
	fmt.Println(infoStyle.Render("Remote chats will be merged in the background."))
	return nil
}

// syncSignOut signs out. Local chats stay untouched.
func (a *App) syncSignOut() error {
	if a.Auth.AccountID() == "" {
		fmt.Println(infoStyle.Render("Already signed out."))
		return nil
	}
	a.Auth.SignOut()
	fmt.Println(commandStyle.Render("[ok]") + " signed out")
	return nil
}
