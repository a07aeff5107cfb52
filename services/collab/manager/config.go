// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manager

import (
	"time"

	"github.com/AleutianAI/AleutianCollab/services/collab/history"
)

// Config tunes session lifecycle and persistence cadence.
//
// # Fields
//
//   - SnapshotInterval: A snapshot is scheduled whenever the version is a
//     multiple of this. Default: 100.
//   - SessionTimeout: How long an empty session may stay idle before the
//     sweep evicts it. Zero evicts on the first sweep after it empties.
//   - CleanupInterval: How often the sweep runs. Default: 60s.
//   - MaxHistorySize: History entries retained per session. Default: 100.
//   - SaveTimeout: Upper bound for one background snapshot write.
type Config struct {
	SnapshotInterval int           `yaml:"snapshot_interval" validate:"min=1"`
	SessionTimeout   time.Duration `yaml:"session_timeout" validate:"min=0"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval" validate:"gt=0"`
	MaxHistorySize   int           `yaml:"max_history_size" validate:"min=1"`
	SaveTimeout      time.Duration `yaml:"save_timeout" validate:"gt=0"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotInterval: 100,
		SessionTimeout:   0,
		CleanupInterval:  60 * time.Second,
		MaxHistorySize:   history.DefaultCapacity,
		SaveTimeout:      10 * time.Second,
	}
}

// withDefaults fills zero fields so a partially populated Config is usable.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = d.SnapshotInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.MaxHistorySize <= 0 {
		c.MaxHistorySize = d.MaxHistorySize
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = d.SaveTimeout
	}
	if c.SessionTimeout < 0 {
		c.SessionTimeout = 0
	}
	return c
}
