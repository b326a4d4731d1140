// driftchat - local-first AI chat for the terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/jeranaias/driftchat/internal/auth"
	"github.com/jeranaias/driftchat/internal/backend"
	"github.com/jeranaias/driftchat/internal/cli"
	"github.com/jeranaias/driftchat/internal/config"
	"github.com/jeranaias/driftchat/internal/engine"
	"github.com/jeranaias/driftchat/internal/kvstore"
	"github.com/jeranaias/driftchat/internal/logging"
	"github.com/jeranaias/driftchat/internal/notify"
	"github.com/jeranaias/driftchat/internal/remote"
	"github.com/jeranaias/driftchat/internal/store"
	"github.com/jeranaias/driftchat/internal/syncer"
	"github.com/jeranaias/driftchat/internal/trigger"
)

func main() {
	cmd, args := cli.Parse()

	app, cleanup, err := buildApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "driftchat: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := app.Run(cmd, args); err != nil {
		fmt.Fprintf(os.Stderr, "driftchat: %v\n", err)
		os.Exit(1)
	}
}

// buildApp wires every subsystem from configuration. The returned cleanup
// closes the sync engine and database in reverse order.
func buildApp() (*cli.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	log := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})

	dbPath, err := cfg.StoragePath()
	if err != nil {
		return nil, nil, err
	}
	if err := config.EnsureDir(); err != nil {
		return nil, nil, err
	}

	kv, err := kvstore.Open(dbPath, cfg.Storage.CapacityBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}

	st, err := store.New(kv, log)
	if err != nil {
		kv.Close()
		return nil, nil, fmt.Errorf("loading chats: %w", err)
	}

	triggers, err := trigger.NewRepository(kv)
	if err != nil {
		kv.Close()
		return nil, nil, fmt.Errorf("loading triggers: %w", err)
	}

	be := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, log)
	notifier := notify.NewLogNotifier(log)
	authp := auth.NewTokenProvider(cfg.Sync.TOTPSecret, log)

	var sync *syncer.Engine
	if cfg.Sync.Enabled {
		rc := remote.NewClient(cfg.Sync.BaseURL, cfg.Sync.Token, log)
		sync = syncer.New(rc, st, authp, notifier, log, syncer.Options{
			Debounce:    cfg.Sync.Debounce(),
			MinInterval: cfg.Sync.MinInterval(),
		})
		sync.Start()
	}

	var changes engine.ChangeListener
	if sync != nil {
		changes = sync
	}
	eng := engine.New(st, triggers, be, changes, notifier, log)
	eng.SetParams(engine.GenParams{
		Temperature: cfg.Backend.Temperature,
		MaxTokens:   cfg.Backend.MaxTokens,
	})

	app := &cli.App{
		Config:   cfg,
		Store:    st,
		Engine:   eng,
		Triggers: triggers,
		Auth:     authp,
		Sync:     sync,
		KV:       kv,
		Log:      log,
	}

	cleanup := func() {
		if sync != nil {
			sync.Close()
		}
		if err := kv.Close(); err != nil {
			log.Error().Err(err).Msg("closing storage")
		}
	}

	// Live config reload keeps long chat sessions in step with file edits.
	if path, perr := config.Path(); perr == nil {
		if w, werr := config.Watch(path, log); werr == nil {
			go func() {
				for updated := range w.Updates() {
					applyReload(be, eng, updated, log)
				}
			}()
			prev := cleanup
			cleanup = func() {
				w.Close()
				prev()
			}
		}
	}

	return app, cleanup, nil
}

// applyReload pushes the reloadable subset of a config change into the
// running components: the backend endpoint, credentials, and generation
// parameters take effect on the next turn. Everything else needs a restart.
func applyReload(be *backend.Client, eng *engine.Engine, updated *config.Config, log zerolog.Logger) {
	be.Update(updated.Backend.BaseURL, updated.Backend.APIKey)
	eng.SetParams(engine.GenParams{
		Temperature: updated.Backend.Temperature,
		MaxTokens:   updated.Backend.MaxTokens,
	})
	log.Info().Msg("configuration reloaded")
}
