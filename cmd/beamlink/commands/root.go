// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the beamlink command tree: peer
// discovery, sending, and receiving over a signaling relay and direct
// peer-to-peer transport.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/beamlink/beamlink/cmd/beamlink/cli"
	"github.com/beamlink/beamlink/lib/config"
)

// commonFlags are the flags shared by every subcommand that talks to
// the relay.
type commonFlags struct {
	configPath string
	relayURL   string
	alias      string
	verbose    bool
}

func (flags *commonFlags) register(set *pflag.FlagSet) {
	set.StringVar(&flags.configPath, "config", "", "path to beamlink.yaml (defaults to $BEAMLINK_CONFIG)")
	set.StringVar(&flags.relayURL, "relay", "", "signaling relay URL (ws:// or wss://)")
	set.StringVar(&flags.alias, "alias", "", "name shown to other peers (defaults to hostname)")
	set.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
}

// load resolves the effective configuration: file (or defaults), then
// command-line overrides.
func (flags *commonFlags) load() (*config.Config, *slog.Logger, error) {
	var cfg *config.Config
	var err error
	if flags.configPath != "" {
		cfg, err = config.LoadFile(flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}
	if flags.relayURL != "" {
		cfg.Relay.URL = flags.relayURL
	}
	if flags.alias != "" {
		cfg.Relay.Alias = flags.alias
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("configuration: %w", err)
	}
	return cfg, cli.NewCommandLogger(flags.verbose), nil
}

// Root builds the beamlink command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "beamlink",
		Summary: "peer-to-peer file transfer over a signaling relay",
		Description: "Beamlink transfers files directly between peers. A relay server\n" +
			"is used only for discovery and session setup; file bytes flow\n" +
			"peer-to-peer over an encrypted data channel.",
		Subcommands: []*cli.Command{
			peersCommand(),
			sendCommand(),
			receiveCommand(),
		},
	}
}
