// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/beamlink/beamlink/cmd/beamlink/cli"
	"github.com/beamlink/beamlink/identity"
	"github.com/beamlink/beamlink/lib/clock"
	"github.com/beamlink/beamlink/lib/config"
	"github.com/beamlink/beamlink/session"
	"github.com/beamlink/beamlink/signaling"
	"github.com/beamlink/beamlink/wire"
)

func sendCommand() *cli.Command {
	flags := &commonFlags{}
	var to string
	var noChecksum bool
	return &cli.Command{
		Name:    "send",
		Summary: "send files to a peer",
		Description: `Send connects to the relay, offers a session to the named peer, and
streams the given files once the peer has authenticated and chosen
which files to accept. The target may be a peer ID or a unique alias
from "beamlink peers".`,
		Usage: "beamlink send --to <peer> <file> [<file>...]",
		Examples: []cli.Example{
			{Description: "Send two files to a peer by alias", Command: "beamlink send --to laptop report.pdf photo.jpg"},
		},
		Flags: func() *pflag.FlagSet {
			set := pflag.NewFlagSet("send", pflag.ContinueOnError)
			flags.register(set)
			set.StringVar(&to, "to", "", "target peer ID or alias (required)")
			set.BoolVar(&noChecksum, "no-checksum", false, "skip SHA-256 hashing of files before sending")
			return set
		},
		Run: func(args []string) error {
			if to == "" {
				return fmt.Errorf("--to is required")
			}
			if len(args) == 0 {
				return fmt.Errorf("at least one file to send is required")
			}
			return runSend(flags, to, args, !noChecksum)
		},
	}
}

func runSend(flags *commonFlags, to string, paths []string, withChecksums bool) error {
	cfg, logger, err := flags.load()
	if err != nil {
		return err
	}

	files, source, err := buildManifest(paths, withChecksums)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := signaling.NewClient(signaling.Config{
		URL:    cfg.Relay.URL,
		Info:   cfg.ClientInfo(),
		Clock:  clock.Real(),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()
	go client.Run(ctx)

	select {
	case <-client.Ready():
	case <-time.After(15 * time.Second):
		return fmt.Errorf("no relay connection within 15s")
	case <-ctx.Done():
		return ctx.Err()
	}

	target, err := resolveTarget(client.Roster(), to)
	if err != nil {
		return err
	}

	id, err := identity.New()
	if err != nil {
		return err
	}
	orchestrator, err := session.NewOrchestrator(session.OrchestratorConfig{
		Signaling:  client,
		Identity:   id,
		ICEServers: iceServers(cfg),
		PinPrompt: func(ctx context.Context) (string, bool) {
			return cli.PromptHiddenPIN(fmt.Sprintf("%s requires a PIN: ", target.Info.Alias))
		},
		Source:   source,
		Observer: newConsoleObserver(os.Stdout),
		Clock:    clock.Real(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	go orchestrator.Run(ctx)

	fmt.Printf("sending %d file(s) to %s (%s)\n", len(files), target.Info.Alias, target.ID)
	if err := orchestrator.SendFiles(ctx, target.ID, files); err != nil {
		return fmt.Errorf("transfer to %s: %w", target.Info.Alias, err)
	}
	return nil
}

// resolveTarget matches a peer by exact ID first, then by alias. An
// alias shared by several peers is ambiguous and must be replaced by
// an ID.
func resolveTarget(roster []wire.Peer, to string) (wire.Peer, error) {
	var matches []wire.Peer
	for _, peer := range roster {
		if peer.ID == to {
			return peer, nil
		}
		if strings.EqualFold(peer.Info.Alias, to) {
			matches = append(matches, peer)
		}
	}
	switch len(matches) {
	case 0:
		return wire.Peer{}, fmt.Errorf("no peer %q on the relay; try \"beamlink peers\"", to)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, peer := range matches {
			ids[i] = peer.ID
		}
		return wire.Peer{}, fmt.Errorf("alias %q matches %d peers (%s); use an ID", to, len(matches), strings.Join(ids, ", "))
	}
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICE))
	for _, server := range cfg.ICE {
		entry := webrtc.ICEServer{URLs: server.URLs}
		if server.Username != "" {
			entry.Username = server.Username
			entry.Credential = server.Credential
		}
		servers = append(servers, entry)
	}
	return servers
}
