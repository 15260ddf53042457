// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rig

import (
	"log/slog"
	"time"
)

// NoticeDuration is how long an operator notice stays on screen
const NoticeDuration = 2 * time.Second

// Notice is a transient status message for the operator
type Notice struct {
	Level   slog.Level
	Message string
	Time    time.Time
}

// Expired reports whether the notice has outlived NoticeDuration
func (n Notice) Expired(now time.Time) bool {
	return now.Sub(n.Time) > NoticeDuration
}
