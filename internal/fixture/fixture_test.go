// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package fixture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taskExists(tid int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/self/task/%d", tid))
	return err == nil
}

func TestWorkload(t *testing.T) {
	w := Start(2)
	defer w.Stop()

	tids := append([]int{w.Compute, w.Transient}, w.Workers...)
	seen := map[int]bool{}
	for _, tid := range tids {
		require.NotZero(t, tid)
		assert.False(t, seen[tid], "thread ids are unique")
		seen[tid] = true
		assert.True(t, taskExists(tid))
	}
	require.NotEqual(t, os.Getpid(), w.Transient, "main thread cannot exit on its own")

	w.ExitTransient()
	require.Eventually(t, func() bool {
		return !taskExists(w.Transient)
	}, 5*time.Second, 10*time.Millisecond)

	// Exiting twice is harmless.
	w.ExitTransient()
	for _, tid := range w.Workers {
		assert.True(t, taskExists(tid))
	}
}

func TestServe(t *testing.T) {
	w := Start(1)
	defer w.Stop()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- Serve(context.Background(), w, inR, outW)
		outW.Close()
	}()

	out := bufio.NewScanner(outR)
	var header []string
	for out.Scan() {
		header = append(header, out.Text())
		if out.Text() == ReplyReady {
			break
		}
	}
	require.Equal(t, []string{
		fmt.Sprintf("pid %d", os.Getpid()),
		fmt.Sprintf("worker %d", w.Workers[0]),
		fmt.Sprintf("compute %d", w.Compute),
		fmt.Sprintf("transient %d", w.Transient),
		ReplyReady,
	}, header)

	fmt.Fprintln(inW, CmdPing)
	require.True(t, out.Scan())
	assert.Equal(t, ReplyPong, out.Text())

	fmt.Fprintln(inW, CmdExitThread)
	require.True(t, out.Scan())
	assert.Equal(t, fmt.Sprintf("%s %d", ReplyExited, w.Transient), out.Text())

	fmt.Fprintln(inW, CmdQuit)
	require.NoError(t, <-done)
}
