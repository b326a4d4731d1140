// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateID creates a time-ordered unique identifier.
//
// The ID is a zero-padded hex microsecond timestamp followed by a random
// suffix, so lexicographic order matches creation order while the suffix
// keeps IDs unique within the same microsecond.
func GenerateID() string {
	buf := make([]byte, 4)
	rand.Read(buf)
	return fmt.Sprintf("%014x-%s", time.Now().UnixMicro(), hex.EncodeToString(buf))
}
