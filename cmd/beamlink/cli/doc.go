// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the beamlink
// CLI.
//
// The central type is [Command]: a named subcommand with optional
// nested subcommands, a pflag.FlagSet factory, and a Run function.
// Commands are assembled into a tree in cmd/beamlink/commands and
// dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and structured help output with examples.
//
// When a user types an unknown subcommand or flag, the framework
// computes Levenshtein edit distance against all known names and
// suggests the closest match (threshold: distance <= 3).
package cli
