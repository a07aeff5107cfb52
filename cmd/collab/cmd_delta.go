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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCollab/services/collab/delta"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	transformPriority string // "right" or "left"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// deltaCmd groups offline tools for the delta algebra. Deltas are given as
// JSON in the wire format, {"ops":[...]}, and results are printed the same
// way.
var deltaCmd = &cobra.Command{
	Use:   "delta",
	Short: "Apply, compose, transform, invert and diff deltas",
	Long: `Offline tools for the delta algebra used by the server.

Deltas use the wire format:
  {"ops":[{"type":"retain","count":5},{"type":"insert","text":"!"},{"type":"delete","count":1}]}

Examples:
  collab delta apply "Hello" '{"ops":[{"type":"retain","count":5},{"type":"insert","text":"!"}]}'
  collab delta diff "Hello" "Help"
  collab delta transform "$A" "$B" --priority left`,
}

var deltaApplyCmd = &cobra.Command{
	Use:   "apply TEXT DELTA",
	Short: "Print the result of applying DELTA to TEXT",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := parseDelta(args[1])
		if err != nil {
			return err
		}
		out, err := delta.Apply(args[0], d)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
		return err
	},
}

var deltaComposeCmd = &cobra.Command{
	Use:   "compose A B",
	Short: "Print the single delta equivalent to A followed by B",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, b, err := parsePair(args)
		if err != nil {
			return err
		}
		return printDelta(cmd, delta.Compose(a, b))
	},
}

var deltaTransformCmd = &cobra.Command{
	Use:   "transform A B",
	Short: "Print A rebased over a concurrent B",
	Long: `Prints A' such that applying B then A' has A's intent.

--priority decides concurrent inserts at the same position: "right" (the
server default) places A's insert after B's, "left" places it before.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, b, err := parsePair(args)
		if err != nil {
			return err
		}
		var priority delta.Priority
		switch transformPriority {
		case "right":
			priority = delta.PriorityRight
		case "left":
			priority = delta.PriorityLeft
		default:
			return fmt.Errorf("--priority must be left or right, got %q", transformPriority)
		}
		return printDelta(cmd, delta.Transform(a, b, priority))
	},
}

var deltaInvertCmd = &cobra.Command{
	Use:   "invert DELTA BASE",
	Short: "Print the delta that undoes DELTA applied to BASE",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := parseDelta(args[0])
		if err != nil {
			return err
		}
		inv, err := delta.Invert(d, args[1])
		if err != nil {
			return err
		}
		return printDelta(cmd, inv)
	},
}

var deltaDiffCmd = &cobra.Command{
	Use:   "diff OLD NEW",
	Short: "Print a delta turning OLD into NEW",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printDelta(cmd, delta.Diff(args[0], args[1]))
	},
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	deltaTransformCmd.Flags().StringVarP(&transformPriority, "priority", "p", "right",
		"Insert tie-break: right or left")

	deltaCmd.AddCommand(deltaApplyCmd, deltaComposeCmd, deltaTransformCmd, deltaInvertCmd, deltaDiffCmd)
}

// =============================================================================
// HELPERS
// =============================================================================

// parseDelta decodes and validates a JSON delta.
func parseDelta(raw string) (delta.Delta, error) {
	var d delta.Delta
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return delta.Delta{}, fmt.Errorf("invalid delta JSON: %w", err)
	}
	return delta.Parse(d.Ops)
}

func parsePair(args []string) (delta.Delta, delta.Delta, error) {
	a, err := parseDelta(args[0])
	if err != nil {
		return delta.Delta{}, delta.Delta{}, fmt.Errorf("A: %w", err)
	}
	b, err := parseDelta(args[1])
	if err != nil {
		return delta.Delta{}, delta.Delta{}, fmt.Errorf("B: %w", err)
	}
	return a, b, nil
}

func printDelta(cmd *cobra.Command, d delta.Delta) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
