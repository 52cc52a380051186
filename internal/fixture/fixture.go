// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

// Package fixture implements a process with threads of known stack shapes, to
// be profiled by tests and demonstrations.
//
// Each thread is a goroutine locked to its own OS thread:
//   - workers spin five calls deep (level1 through level5)
//   - compute spins in a single function and sleeps between rounds
//   - transient parks until told to exit, which terminates its OS thread
package fixture // import "go.opentelemetry.io/ptrace-profiler/internal/fixture"

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultWorkers is the number of deep stack workers started by Start.
const DefaultWorkers = 3

// Command and reply lines of the control protocol.
const (
	CmdExitThread = "exit-thread"
	CmdPing       = "ping"
	CmdQuit       = "quit"

	ReplyReady  = "ready"
	ReplyExited = "exited"
	ReplyPong   = "pong"
)

// sink keeps the busy loops from being optimized away.
var sink atomic.Uint64

// Workload is a running set of fixture threads.
type Workload struct {
	stopped atomic.Bool
	wg      sync.WaitGroup

	transientStop chan struct{}
	transientDone chan struct{}

	// Workers holds the thread ids of the deep stack workers.
	Workers []int
	// Compute is the thread id of the shallow compute thread.
	Compute int
	// Transient is the thread id of the thread that exits on request.
	Transient int
}

// Start launches the fixture threads and returns once all of them run.
func Start(workers int) *Workload {
	w := &Workload{
		transientStop: make(chan struct{}),
		transientDone: make(chan struct{}),
		Workers:       make([]int, workers),
	}

	var ready sync.WaitGroup
	ready.Add(workers + 2)
	for i := range workers {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			w.Workers[i] = unix.Gettid()
			ready.Done()
			for !w.stopped.Load() {
				level1()
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		w.Compute = unix.Gettid()
		ready.Done()
		for !w.stopped.Load() {
			compute()
			time.Sleep(10 * time.Millisecond)
		}
	}()

	go w.runTransient(&ready)

	ready.Wait()
	return w
}

// runTransient parks on a thread other than the main thread until told to
// exit. Exiting while locked terminates the OS thread, which the kernel does
// not do for the main thread.
func (w *Workload) runTransient(ready *sync.WaitGroup) {
	runtime.LockOSThread()
	if unix.Gettid() == os.Getpid() {
		go w.runTransient(ready)
		runtime.UnlockOSThread()
		return
	}
	w.Transient = unix.Gettid()
	ready.Done()
	<-w.transientStop
	close(w.transientDone)
}

// ExitTransient ends the transient thread. The kernel removes the thread
// shortly after this returns.
func (w *Workload) ExitTransient() {
	select {
	case <-w.transientStop:
	default:
		close(w.transientStop)
	}
	<-w.transientDone
}

// Stop ends all threads and waits for the long running ones.
func (w *Workload) Stop() {
	w.stopped.Store(true)
	w.ExitTransient()
	w.wg.Wait()
}

//go:noinline
func level1() {
	level2()
}

//go:noinline
func level2() {
	level3()
}

//go:noinline
func level3() {
	level4()
}

//go:noinline
func level4() {
	level5()
}

// level5 spins for up to 100ms so samplers catch it at depth.
//
//go:noinline
func level5() {
	deadline := time.Now().Add(100 * time.Millisecond)
	var acc uint64
	for time.Now().Before(deadline) {
		for i := range uint64(1000) {
			acc += i
		}
	}
	sink.Add(acc)
}

//go:noinline
func compute() {
	var result float64
	for i := range 10000 {
		result += math.Sin(float64(i)) * math.Cos(float64(i))
	}
	sink.Add(uint64(math.Abs(result)))
}

// Serve announces the workload on out and executes commands read line by line
// from in until CmdQuit or cancellation of ctx. After EOF on in it keeps
// running until ctx is canceled.
func Serve(ctx context.Context, w *Workload, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "pid %d\n", os.Getpid())
	for _, tid := range w.Workers {
		fmt.Fprintf(out, "worker %d\n", tid)
	}
	fmt.Fprintf(out, "compute %d\n", w.Compute)
	fmt.Fprintf(out, "transient %d\n", w.Transient)
	fmt.Fprintln(out, ReplyReady)

	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		errs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			if err != nil {
				return err
			}
			errs = nil
		case line := <-lines:
			switch line {
			case CmdExitThread:
				w.ExitTransient()
				fmt.Fprintf(out, "%s %d\n", ReplyExited, w.Transient)
			case CmdPing:
				fmt.Fprintln(out, ReplyPong)
			case CmdQuit:
				return nil
			case "":
			default:
				fmt.Fprintf(out, "unknown command %q\n", line)
			}
		}
	}
}
