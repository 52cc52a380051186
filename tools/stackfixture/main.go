// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

// stackfixture runs threads with known call stacks for ptrace-profiler to
// sample. It prints its pid and thread ids, then accepts commands on stdin.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v3"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/ptrace-profiler/internal/fixture"
)

func main() {
	fs := flag.NewFlagSet("stackfixture", flag.ExitOnError)
	workers := fs.Int("workers", fixture.DefaultWorkers, "Number of deep stack worker threads.")
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("STACKFIXTURE")); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}
	if *workers < 1 {
		log.Fatalf("At least one worker is required, got %d", *workers)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := fixture.Start(*workers)
	defer w.Stop()

	log.Infof("Profile with: ptrace-profiler %d stacks", os.Getpid())
	if err := fixture.Serve(ctx, w, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		log.Errorf("Fixture stopped: %v", err)
	}
}
