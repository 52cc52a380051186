// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// ptrace-profiler samples the call stacks of running processes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/ptrace-profiler/internal/controller"
	"go.opentelemetry.io/ptrace-profiler/profiler"
	"go.opentelemetry.io/ptrace-profiler/vc"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	args, err := parseArgs()
	if errors.Is(err, flag.ErrHelp) {
		return exitSuccess
	}
	if err != nil {
		return parseError(args, "Failure to parse arguments: %v", err)
	}

	if args.version {
		fmt.Printf("%s\n", vc.Version())
		return exitSuccess
	}

	if args.VerboseMode {
		log.SetLevel(log.DebugLevel)
		// Dump the arguments in debug mode.
		args.Dump()
	}

	if err = args.Validate(); err != nil {
		return parseError(args, "Invalid arguments: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	log.Debugf("Starting ptrace-profiler %s (revision %s, build timestamp %s)",
		vc.Version(), vc.Revision(), vc.BuildTimestamp())

	if err = controller.New(&args.Config).Run(ctx); err != nil {
		return failure(os.Stderr, err)
	}
	fmt.Println("Success!")
	return exitSuccess
}

func parseError(args *arguments, msg string, params ...any) exitCode {
	fmt.Fprintf(os.Stderr, msg+"\n\n", params...)
	if args != nil {
		args.Fs.Usage()
	}
	return exitParseError
}

// failure reports err together with its hint, if it has one. Errors carrying
// an exit code determine the process exit status.
func failure(w io.Writer, err error) exitCode {
	fmt.Fprintf(w, "\nError: %v\n", err)

	var attachErr *profiler.AttachError
	if errors.As(err, &attachErr) {
		if hint := attachErr.Hint(); hint != "" {
			fmt.Fprintf(w, "Hint: %s\n", hint)
		}
	}

	var coded controller.ErrorWithExitCode
	if errors.As(err, &coded) {
		return exitCode(coded.Code())
	}
	return exitFailure
}
