// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/ptrace-profiler/internal/controller"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/periodiccaller"
	"go.opentelemetry.io/ptrace-profiler/profiler"
	"go.opentelemetry.io/ptrace-profiler/report"
)

const defaultProgressInterval = time.Second

// Controller runs one CLI command against one or more processes.
type Controller struct {
	config           *Config
	out              io.Writer
	targetOpts       []profiler.Option
	progressInterval time.Duration
}

// New creates a new controller. The configuration must have been validated.
func New(cfg *Config, opts ...Option) *Controller {
	c := &Controller{
		config:           cfg,
		out:              os.Stdout,
		progressInterval: defaultProgressInterval,
	}
	for _, opt := range opts {
		c = opt.applyOption(c)
	}
	return c
}

// Run executes the command. Every process is handled by its own Target on its
// own goroutine. Reports are buffered per process and written in the order
// the processes were given, also when some of them fail. The first error is
// returned, carrying an exit code when its cause is known. A failing process
// does not stop the others.
func (c *Controller) Run(ctx context.Context) error {
	pids := c.config.PIDs
	outputs := make([]bytes.Buffer, len(pids))
	errs := make([]error, len(pids))

	var g errgroup.Group
	for i, pid := range pids {
		g.Go(func() error {
			errs[i] = c.runPID(ctx, pid, &outputs[i])
			return errs[i]
		})
	}
	err := g.Wait()

	for i := range outputs {
		if len(pids) > 1 {
			fmt.Fprintf(c.out, "=== PID %v ===\n", pids[i])
		}
		if _, werr := outputs[i].WriteTo(c.out); werr != nil {
			return werr
		}
		if errs[i] != nil && len(pids) > 1 {
			fmt.Fprintf(c.out, "Error: %v\n\n", errs[i])
		}
	}
	return withExitCode(err)
}

func (c *Controller) runPID(ctx context.Context, pid libpf.PID, w io.Writer) error {
	cfg, err := c.config.ProfilerConfig()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Target PID: %v\n", pid)
	fmt.Fprintf(w, "Command: %s\n\n", c.config.Command)

	target := profiler.NewTarget(c.targetOpts...)
	log.Debugf("Attaching to PID %v", pid)
	if err = target.Attach(pid, &cfg); err != nil {
		return err
	}
	defer target.Detach()

	log.Debugf("Discovering threads of PID %v", pid)
	if err = target.RefreshThreads(); err != nil {
		return err
	}

	if err = c.execute(ctx, target, w); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nStatistics:")
	report.PrintStats(w, target.Stats())
	fmt.Fprintln(w)
	return nil
}

func (c *Controller) execute(ctx context.Context, target *profiler.Target, w io.Writer) error {
	switch c.config.Command {
	case CmdInfo:
		fmt.Fprintln(w, "=== Thread Information ===")
		report.PrintThreads(w, target)
		return nil
	case CmdStacks:
		fmt.Fprintln(w, "=== Capturing All Stacks ===")
		traces, err := target.CaptureAllStacks()
		if err != nil {
			return err
		}
		for i := range traces {
			report.PrintTrace(w, &traces[i])
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, "Summary:")
		fmt.Fprintf(w, "  Threads captured: %d\n", len(traces))
		fmt.Fprintf(w, "  Total frames: %d\n", report.TotalFrames(traces))
		return nil
	case CmdStack:
		fmt.Fprintf(w, "=== Capturing Thread %d ===\n", c.config.Arg)
		trace, err := target.CaptureStack(c.config.Arg)
		if err != nil {
			return err
		}
		report.PrintTrace(w, &trace)
		return nil
	case CmdSample:
		return c.sample(ctx, target, w)
	}
	return fmt.Errorf("unknown command: %s", c.config.Command)
}

// sample captures all threads Arg times, SampleInterval apart. Each iteration
// refreshes the thread snapshot first so that threads started in between are
// sampled as well. A canceled context ends sampling early without an error.
func (c *Controller) sample(ctx context.Context, target *profiler.Target, w io.Writer) error {
	n := c.config.Arg
	interval := target.Config().SampleInterval
	fmt.Fprintf(w, "=== Sampling (x%d) ===\n", n)

	var builder *report.ProfileBuilder
	if c.config.Output != "" {
		builder = report.NewProfileBuilder(interval, target.Mappings())
	}

	var done atomic.Int64
	if c.progressInterval > 0 {
		pid := target.PID()
		stop := periodiccaller.Start(ctx, c.progressInterval, func() {
			log.Infof("PID %v: %d/%d samples", pid, done.Load(), n)
		})
		defer stop()
	}

	err := periodiccaller.Repeat(ctx, n, interval, 0, func(i int) error {
		fmt.Fprintf(w, "Sample %d/%d...\n", i+1, n)
		if err := target.RefreshThreads(); err != nil {
			return err
		}
		traces, err := target.CaptureAllStacks()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  Captured %d threads, %d frames\n",
			len(traces), report.TotalFrames(traces))
		if builder != nil {
			builder.Add(traces)
		}
		done.Add(1)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		log.Infof("PID %v: sampling interrupted after %d of %d samples",
			target.PID(), done.Load(), n)
		err = nil
	}
	if err != nil {
		return err
	}

	if builder != nil {
		return c.writeProfile(builder, target.PID(), w)
	}
	return nil
}

func (c *Controller) writeProfile(builder *report.ProfileBuilder, pid libpf.PID,
	w io.Writer) error {
	path := OutputPath(c.config.Output, pid, len(c.config.PIDs) > 1)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	if err = builder.Write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write profile %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to write profile %s: %w", path, err)
	}
	fmt.Fprintf(w, "Profile written to %s\n", path)
	return nil
}

// OutputPath returns the profile file for pid. With several processes the pid
// is inserted before the extension of base.
func OutputPath(base string, pid libpf.PID, multi bool) string {
	if !multi {
		return base
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s.%v%s", strings.TrimSuffix(base, ext), pid, ext)
}
