// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/beamlink/beamlink/cmd/beamlink/cli"
	"github.com/beamlink/beamlink/identity"
	"github.com/beamlink/beamlink/lib/clock"
	"github.com/beamlink/beamlink/session"
	"github.com/beamlink/beamlink/signaling"
	"github.com/beamlink/beamlink/transfer"
	"github.com/beamlink/beamlink/wire"
)

func receiveCommand() *cli.Command {
	flags := &commonFlags{}
	var downloadDir string
	var acceptAll bool
	var pin string
	var maxSize int64
	return &cli.Command{
		Name:    "receive",
		Summary: "wait for peers to send files",
		Description: `Receive registers with the relay and accepts inbound transfer
sessions until interrupted. Each incoming manifest is shown and must
be confirmed unless --yes is set. Files land in the download
directory; existing names are never overwritten.`,
		Usage: "beamlink receive [flags]",
		Examples: []cli.Example{
			{Description: "Receive into a specific directory, protected by a PIN", Command: "beamlink receive --dir ~/incoming --pin 482913"},
		},
		Flags: func() *pflag.FlagSet {
			set := pflag.NewFlagSet("receive", pflag.ContinueOnError)
			flags.register(set)
			set.StringVar(&downloadDir, "dir", "", "download directory (default from config)")
			set.BoolVar(&acceptAll, "yes", false, "accept every offered file without asking")
			set.StringVar(&pin, "pin", "", "require senders to present this PIN")
			set.Int64Var(&maxSize, "max-size", 0, "decline files larger than this many bytes (0 = no limit)")
			return set
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("receive takes no arguments")
			}
			return runReceive(flags, downloadDir, acceptAll, pin, maxSize)
		},
	}
}

func runReceive(flags *commonFlags, downloadDir string, acceptAll bool, pin string, maxSize int64) error {
	cfg, logger, err := flags.load()
	if err != nil {
		return err
	}
	if downloadDir != "" {
		cfg.Transfer.DownloadDir = downloadDir
	}
	if acceptAll {
		cfg.Transfer.AcceptAll = true
	}
	if pin != "" {
		cfg.Security.PIN = pin
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

	id, err := identity.New()
	if err != nil {
		return err
	}
	var selector transfer.Selector = promptSelector{out: os.Stdout}
	if cfg.Transfer.AcceptAll {
		selector = transfer.AcceptAll
	}
	if maxSize > 0 {
		selector = sizeCapped(selector, maxSize)
	}
	orchestrator, err := session.NewOrchestrator(session.OrchestratorConfig{
		Signaling:      client,
		Identity:       id,
		ICEServers:     iceServers(cfg),
		PIN:            cfg.Security.PIN,
		MaxPinAttempts: cfg.Security.MaxPinAttempts,
		Sink:           &diskSink{dir: cfg.Transfer.DownloadDir},
		Selector:       selector,
		Observer:       newConsoleObserver(os.Stdout),
		Clock:          clock.Real(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	select {
	case <-client.Ready():
	case <-time.After(15 * time.Second):
		return fmt.Errorf("no relay connection within 15s")
	case <-ctx.Done():
		return nil
	}

	self, _ := client.Self()
	fmt.Printf("registered as %s (%s); saving to %s\n", self.Info.Alias, self.ID, cfg.Transfer.DownloadDir)
	fmt.Println("waiting for transfers, interrupt to quit")

	err = orchestrator.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	<-done
	return err
}

// sizeCapped wraps a selector so oversized files are declined before
// the inner selector ever sees them.
func sizeCapped(inner transfer.Selector, maxSize int64) transfer.Selector {
	return transfer.SelectorFunc(func(files []wire.FileDescriptor) []int {
		within := make([]wire.FileDescriptor, 0, len(files))
		for _, file := range files {
			if file.Size <= maxSize {
				within = append(within, file)
			}
		}
		if len(within) == 0 {
			return nil
		}
		return inner.SelectFiles(within)
	})
}

// promptSelector shows the offered manifest on the terminal and asks
// for a single yes/no covering all files. Anything but an explicit
// "n" accepts.
type promptSelector struct {
	out *os.File
}

func (selector promptSelector) SelectFiles(files []wire.FileDescriptor) []int {
	fmt.Fprintf(selector.out, "\nincoming transfer, %d file(s):\n", len(files))
	for _, file := range files {
		fmt.Fprintf(selector.out, "  %s (%d bytes)\n", file.FileName, file.Size)
	}
	fmt.Fprint(selector.out, "accept? [Y/n] ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(line), "n") {
		return nil
	}
	ids := make([]int, len(files))
	for i, file := range files {
		ids[i] = file.ID
	}
	return ids
}
