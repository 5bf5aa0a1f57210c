// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"sync"

	"github.com/beamlink/beamlink/transfer"
)

// consoleObserver renders transfer state to a writer, one line per
// event worth reporting. Progress is throttled to 10% steps so large
// files do not flood the terminal.
type consoleObserver struct {
	mu   sync.Mutex
	out  io.Writer
	last map[int]int // file ID -> last reported percent
}

func newConsoleObserver(out io.Writer) *consoleObserver {
	return &consoleObserver{out: out, last: make(map[int]int)}
}

func (observer *consoleObserver) FileUpdated(state transfer.FileState) {
	observer.mu.Lock()
	defer observer.mu.Unlock()

	name := state.Descriptor.FileName
	switch state.Status {
	case transfer.StatusSkipped:
		fmt.Fprintf(observer.out, "%s: skipped\n", name)
	case transfer.StatusFinished:
		fmt.Fprintf(observer.out, "%s: done (%d bytes)\n", name, state.BytesTransferred)
	case transfer.StatusFailed:
		fmt.Fprintf(observer.out, "%s: failed: %v\n", name, state.Error)
	case transfer.StatusSending, transfer.StatusReceiving:
		percent := 100
		if state.Descriptor.Size > 0 {
			percent = int(state.BytesTransferred * 100 / state.Descriptor.Size)
		}
		// Round down to the previous 10% step; report each step once.
		step := percent / 10 * 10
		if step > observer.last[state.Descriptor.ID] {
			observer.last[state.Descriptor.ID] = step
			fmt.Fprintf(observer.out, "%s: %d%%\n", name, step)
		}
	}
}

func (observer *consoleObserver) SessionFailed(err error) {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	fmt.Fprintf(observer.out, "transfer failed: %v\n", err)
}
