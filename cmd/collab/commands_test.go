// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCollab/services/collab/delta"
)

// execute runs the root command with args and returns what it printed.
// Flag variables are reset first since cobra commands are package state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	configInitForce = false
	transformPriority = "right"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

const helloBang = `{"ops":[{"type":"retain","count":5},{"type":"insert","text":"!"}]}`

func TestDeltaApply(t *testing.T) {
	out, err := execute(t, "delta", "apply", "Hello", helloBang)
	require.NoError(t, err)
	assert.Equal(t, "Hello!\n", out)

	_, err = execute(t, "delta", "apply", "Hi", helloBang)
	assert.ErrorIs(t, err, delta.ErrRetainOutOfRange)

	_, err = execute(t, "delta", "apply", "Hi", `{"ops":[{"type":"jump"}]}`)
	assert.Error(t, err)

	_, err = execute(t, "delta", "apply", "Hi", `not json`)
	assert.ErrorContains(t, err, "invalid delta JSON")
}

func TestDeltaCompose(t *testing.T) {
	out, err := execute(t, "delta", "compose",
		`{"ops":[{"type":"insert","text":"a"}]}`,
		`{"ops":[{"type":"retain","count":1},{"type":"insert","text":"b"}]}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ops":[{"type":"insert","text":"ab"}]}`, out)
}

func TestDeltaTransform(t *testing.T) {
	a := `{"ops":[{"type":"retain","count":1},{"type":"insert","text":"Y"}]}`
	b := `{"ops":[{"type":"retain","count":1},{"type":"insert","text":"X"}]}`

	out, err := execute(t, "delta", "transform", a, b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ops":[{"type":"retain","count":2},{"type":"insert","text":"Y"}]}`, out)

	out, err = execute(t, "delta", "transform", a, b, "--priority", "left")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ops":[{"type":"retain","count":1},{"type":"insert","text":"Y"}]}`, out)

	_, err = execute(t, "delta", "transform", a, b, "--priority", "middle")
	assert.ErrorContains(t, err, "--priority")
}

func TestDeltaInvert(t *testing.T) {
	out, err := execute(t, "delta", "invert", helloBang, "Hello")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ops":[{"type":"retain","count":5},{"type":"delete","count":1}]}`, out)
}

func TestDeltaDiff(t *testing.T) {
	out, err := execute(t, "delta", "diff", "Hello world", "Help world!")
	require.NoError(t, err)

	d, err := parseDelta(strings.TrimSpace(out))
	require.NoError(t, err)
	got, err := delta.Apply("Hello world", d)
	require.NoError(t, err)
	assert.Equal(t, "Help world!", got)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collab.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	_, err = execute(t, "config", "init", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "config", "init", path, "--force")
	require.NoError(t, err)

	t.Setenv("COLLAB_PORT", "9123")
	out, err = execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "port: 9123")
	assert.Contains(t, out, "snapshot_interval: 100")
}

func TestConfigShow_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))

	_, err := execute(t, "config", "show", "--config", path)
	assert.ErrorContains(t, err, "invalid config")
}

func TestNewLogger(t *testing.T) {
	var level slog.LevelVar
	level.Set(slog.LevelWarn)

	var buf bytes.Buffer
	logger := newLogger(&buf, "auto", &level)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`, "non-terminal writers get JSON")

	buf.Reset()
	level.Set(slog.LevelInfo)
	newLogger(&buf, "text", &level).Info("plain", "k", "v")
	assert.Contains(t, buf.String(), "msg=plain")
	assert.Contains(t, buf.String(), "k=v")
}
