// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
//
// A Chat is an ordered sequence of Messages plus metadata (title, model,
// timestamps). Message IDs and Chat IDs are time-ordered so that insertion
// order can be recovered by sorting on ID alone.
//
// Chats flagged Incognito are excluded from durable persistence and cloud
// synchronization by their owners; the flag itself lives here so that every
// component filters on the same bit.
package model
