// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/ptrace-profiler/internal/controller"

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/profiler"
	"go.opentelemetry.io/ptrace-profiler/unwinder"
)

// Command selects what the controller does with each attached process.
type Command string

const (
	CmdInfo   Command = "info"
	CmdStacks Command = "stacks"
	CmdStack  Command = "stack"
	CmdSample Command = "sample"

	// DefaultSamples is the sample count when the sample command has no count.
	DefaultSamples = 5
)

type Config struct {
	PIDs    []libpf.PID
	Command Command
	// Arg is the thread index for CmdStack and the sample count for CmdSample.
	Arg int

	Strategy       string
	MaxStackDepth  uint
	SampleInterval time.Duration
	Output         string
	NoValidate     bool
	MainThreadOnly bool
	TrackAsync     bool
	VerboseMode    bool

	Fs *flag.FlagSet
}

// Dump visits all flag sets, and dumps them all to debug
// Used for verbose mode logging.
func (cfg *Config) Dump() {
	log.Debug("Config:")
	if cfg.Fs != nil {
		cfg.Fs.VisitAll(func(f *flag.Flag) {
			log.Debugf("%s: %v", f.Name, f.Value)
		})
	}
	log.Debugf("pids: %v", cfg.PIDs)
	log.Debugf("command: %s %d", cfg.Command, cfg.Arg)
}

// ParseArgs fills in the positional arguments:
// <pid>[,<pid>...] [info|stacks|stack N|sample [N]].
func (cfg *Config) ParseArgs(args []string) error {
	if len(args) == 0 {
		return errors.New("missing process id")
	}

	cfg.PIDs = cfg.PIDs[:0]
	for field := range strings.SplitSeq(args[0], ",") {
		pid, err := strconv.ParseUint(strings.TrimSpace(field), 10, 31)
		if err != nil || pid == 0 {
			return fmt.Errorf("invalid process id %q", field)
		}
		cfg.PIDs = append(cfg.PIDs, libpf.PID(pid))
	}

	cfg.Command = CmdInfo
	if len(args) > 1 {
		cfg.Command = Command(args[1])
	}

	switch cfg.Command {
	case CmdInfo, CmdStacks:
		if len(args) > 2 {
			return fmt.Errorf("command %s takes no arguments", cfg.Command)
		}
	case CmdStack:
		if len(args) != 3 {
			return errors.New("please specify thread index: stack <N>")
		}
		idx, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid thread index %q", args[2])
		}
		cfg.Arg = idx
	case CmdSample:
		cfg.Arg = DefaultSamples
		if len(args) > 3 {
			return errors.New("too many arguments: sample [N]")
		}
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid sample count %q", args[2])
			}
			cfg.Arg = n
		}
	default:
		return fmt.Errorf("unknown command: %s", cfg.Command)
	}
	return nil
}

// Validate runs validations on the provided configuration, and returns errors
// if invalid values were provided.
func (cfg *Config) Validate() error {
	if len(cfg.PIDs) == 0 {
		return errors.New("no process id given")
	}
	if _, err := cfg.ProfilerConfig(); err != nil {
		return err
	}
	switch cfg.Command {
	case CmdStack:
		if cfg.Arg < 0 {
			return fmt.Errorf("invalid thread index %d", cfg.Arg)
		}
	case CmdSample:
		if cfg.Arg <= 0 {
			return fmt.Errorf("sample count must be positive, got %d", cfg.Arg)
		}
	}
	if cfg.Output != "" && cfg.Command != CmdSample {
		return errors.New("-output is only supported by the sample command")
	}
	return nil
}

// ProfilerConfig converts the flags to the sampling session configuration.
func (cfg *Config) ProfilerConfig() (profiler.Config, error) {
	pc := profiler.DefaultConfig()
	if cfg.Strategy != "" {
		strategy, err := unwinder.ParseStrategy(cfg.Strategy)
		if err != nil {
			return pc, err
		}
		pc.Strategy = strategy
	}
	if cfg.MaxStackDepth != 0 {
		pc.MaxStackDepth = uint32(min(cfg.MaxStackDepth, profiler.MaxFrames))
	}
	if cfg.SampleInterval != 0 {
		pc.SampleInterval = cfg.SampleInterval
	}
	pc.ValidateAddresses = !cfg.NoValidate
	pc.TrackThreads = !cfg.MainThreadOnly
	pc.TrackAsync = cfg.TrackAsync
	return pc, pc.Validate()
}
