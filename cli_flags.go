// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/peterbourgon/ff/v3"

	"go.opentelemetry.io/ptrace-profiler/internal/controller"
	"go.opentelemetry.io/ptrace-profiler/profiler"
	"go.opentelemetry.io/ptrace-profiler/unwinder"
)

const (
	// Default values for CLI flags
	defaultArgStrategy = "frame-pointer"
	defaultArgDepth    = profiler.MaxFrames
	defaultArgInterval = profiler.DefaultSampleInterval
)

// Help strings for command line arguments
var (
	verboseModeHelp = "Enable verbose logging and debugging capabilities."
	versionHelp     = "Show version."
	strategyHelp    = fmt.Sprintf("Stack walk strategy: %s, %s or %s.",
		unwinder.FramePointer, unwinder.UnwindTable, unwinder.Hybrid)
	depthHelp = fmt.Sprintf("Maximum frames per stack trace (at most %d).",
		profiler.MaxFrames)
	intervalHelp       = "Pause between two samples of the sample command."
	outputHelp         = "Write the samples of the sample command as pprof profile to this file."
	noValidateHelp     = "Do not cross-check pointers against the memory mappings of the target."
	mainThreadOnlyHelp = "Only sample the main thread."
	trackAsyncHelp     = "Discover asynchronous execution contexts (not supported on Linux)."
)

const usage = `Usage: ptrace-profiler [flags] <pid>[,<pid>...] [command]

Commands:
  info              Show thread info (default)
  stacks            Capture and show all stack traces
  stack <N>         Capture stack for thread N
  sample [N]        Capture N samples (default: %d)

Examples:
  sudo ptrace-profiler 1234
  sudo ptrace-profiler 1234 stacks
  sudo ptrace-profiler -strategy hybrid 1234 stack 0
  sudo ptrace-profiler -output cpu.pb.gz 1234,1235 sample 100

Note: Requires root, CAP_SYS_PTRACE or a permissive kernel.yama.ptrace_scope.

Flags:
`

type arguments struct {
	controller.Config

	version bool
}

func parseArgs() (*arguments, error) {
	var args arguments

	fs := flag.NewFlagSet("ptrace-profiler", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.UintVar(&args.MaxStackDepth, "depth", defaultArgDepth, depthHelp)

	fs.DurationVar(&args.SampleInterval, "interval", defaultArgInterval, intervalHelp)

	fs.BoolVar(&args.MainThreadOnly, "main-thread-only", false, mainThreadOnlyHelp)

	fs.BoolVar(&args.NoValidate, "no-validate", false, noValidateHelp)

	fs.StringVar(&args.Output, "o", "", "Shorthand for -output.")
	fs.StringVar(&args.Output, "output", "", outputHelp)

	fs.StringVar(&args.Strategy, "strategy", defaultArgStrategy, strategyHelp)

	fs.BoolVar(&args.TrackAsync, "track-async", false, trackAsyncHelp)

	fs.BoolVar(&args.VerboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&args.VerboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&args.version, "version", false, versionHelp)

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), usage, controller.DefaultSamples)
		fs.PrintDefaults()
	}

	args.Fs = fs

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("PTRACE_PROFILER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithAllowMissingConfigFile(true),
	); err != nil {
		return nil, err
	}
	if args.version {
		return &args, nil
	}
	return &args, args.ParseArgs(fs.Args())
}
