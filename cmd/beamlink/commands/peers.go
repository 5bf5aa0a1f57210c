// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/beamlink/beamlink/cmd/beamlink/cli"
	"github.com/beamlink/beamlink/lib/clock"
	"github.com/beamlink/beamlink/signaling"
)

func peersCommand() *cli.Command {
	flags := &commonFlags{}
	var timeout time.Duration
	return &cli.Command{
		Name:    "peers",
		Summary: "list peers currently registered on the relay",
		Usage:   "beamlink peers [flags]",
		Examples: []cli.Example{
			{Description: "List peers on a relay", Command: "beamlink peers --relay wss://relay.example.com"},
		},
		Flags: func() *pflag.FlagSet {
			set := pflag.NewFlagSet("peers", pflag.ContinueOnError)
			flags.register(set)
			set.DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the relay connection")
			return set
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("peers takes no arguments")
			}
			return runPeers(flags, timeout)
		},
	}
}

func runPeers(flags *commonFlags, timeout time.Duration) error {
	cfg, logger, err := flags.load()
	if err != nil {
		return err
	}

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

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	go client.Run(ctx)

	select {
	case <-client.Ready():
	case <-ctx.Done():
		return fmt.Errorf("no relay connection within %s", timeout)
	}

	self, _ := client.Self()
	fmt.Printf("connected as %s (%s)\n\n", self.Info.Alias, self.ID)

	roster := client.Roster()
	if len(roster) == 0 {
		fmt.Println("no other peers registered")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "ID\tALIAS\tDEVICE")
	for _, peer := range roster {
		device := string(peer.Info.DeviceType)
		if peer.Info.DeviceModel != "" {
			device += " (" + peer.Info.DeviceModel + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", peer.ID, peer.Info.Alias, device)
	}
	return tw.Flush()
}
