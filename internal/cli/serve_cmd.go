// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve_cmd.go - Self-hosted sync service command for driftchat.
//
// Command: serve
//
// Examples:
//   driftchat serve                     Listen on :8787, no authentication
//   driftchat serve --addr :9000 --token SECRET
//
// The server shares the client's storage layer: records land in the same
// database under the "sync/" namespace, so a single machine can act as the
// sync hub for its own satellites.

package cli

import (
	"fmt"

	"github.com/jeranaias/driftchat/internal/server"
)

// HandleServe runs the sync service until interrupted.
func (a *App) HandleServe(args *ArgParser) error {
	if a.KV == nil {
		return fmt.Errorf("storage is not available")
	}

	addr := args.FlagOrDefault("addr", server.DefaultAddr)
	token := args.Flag("token")
	if token == "" {
		token = a.Config.Sync.Token
	}

	if token == "" {
		fmt.Println(warningStyle.Render("[warning]") + " no token set; the service accepts unauthenticated requests")
	}
	fmt.Printf("%s sync service on %s\n", commandStyle.Render("[serving]"), addr)

	srv := server.New(a.KV, token, a.Log)
	return srv.ListenAndServe(addr)
}
