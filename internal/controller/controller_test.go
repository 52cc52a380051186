// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/ptrace-profiler/internal/processtest"
	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/process"
	"go.opentelemetry.io/ptrace-profiler/profiler"
	"go.opentelemetry.io/ptrace-profiler/unwinder"
)

func TestParseArgs(t *testing.T) {
	tests := map[string]struct {
		args    []string
		pids    []libpf.PID
		command Command
		arg     int
		err     string
	}{
		"pid only": {
			args: []string{"1234"}, pids: []libpf.PID{1234}, command: CmdInfo,
		},
		"several pids": {
			args: []string{"1,2, 3", "stacks"}, pids: []libpf.PID{1, 2, 3}, command: CmdStacks,
		},
		"stack": {
			args: []string{"1234", "stack", "2"}, pids: []libpf.PID{1234}, command: CmdStack, arg: 2,
		},
		"sample default": {
			args: []string{"1234", "sample"}, pids: []libpf.PID{1234}, command: CmdSample,
			arg: DefaultSamples,
		},
		"sample count": {
			args: []string{"1234", "sample", "10"}, pids: []libpf.PID{1234}, command: CmdSample,
			arg: 10,
		},
		"no args":       {err: "missing process id"},
		"bad pid":       {args: []string{"abc"}, err: "invalid process id"},
		"zero pid":      {args: []string{"0"}, err: "invalid process id"},
		"empty pid":     {args: []string{"1,,2"}, err: "invalid process id"},
		"stack missing": {args: []string{"1", "stack"}, err: "thread index"},
		"stack bad":     {args: []string{"1", "stack", "x"}, err: "invalid thread index"},
		"sample bad":    {args: []string{"1", "sample", "many"}, err: "invalid sample count"},
		"sample extra":  {args: []string{"1", "sample", "1", "2"}, err: "too many"},
		"info extra":    {args: []string{"1", "info", "2"}, err: "takes no arguments"},
		"unknown":       {args: []string{"1", "trace"}, err: "unknown command"},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var cfg Config
			err := cfg.ParseArgs(test.args)
			if test.err != "" {
				require.ErrorContains(t, err, test.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.pids, cfg.PIDs)
			assert.Equal(t, test.command, cfg.Command)
			assert.Equal(t, test.arg, cfg.Arg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		cfg   Config
		valid bool
	}{
		"info":          {cfg: Config{PIDs: []libpf.PID{1}, Command: CmdInfo}, valid: true},
		"no pids":       {cfg: Config{Command: CmdInfo}},
		"bad strategy":  {cfg: Config{PIDs: []libpf.PID{1}, Command: CmdInfo, Strategy: "magic"}},
		"negative":      {cfg: Config{PIDs: []libpf.PID{1}, Command: CmdStack, Arg: -1}},
		"no samples":    {cfg: Config{PIDs: []libpf.PID{1}, Command: CmdSample}},
		"output sample": {cfg: Config{PIDs: []libpf.PID{1}, Command: CmdSample, Arg: 1, Output: "x"}, valid: true},
		"output stacks": {cfg: Config{PIDs: []libpf.PID{1}, Command: CmdStacks, Output: "x"}},
		"interval": {cfg: Config{PIDs: []libpf.PID{1}, Command: CmdInfo,
			SampleInterval: -time.Second}},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.cfg.Validate()
			if test.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestProfilerConfig(t *testing.T) {
	cfg := Config{
		Strategy:       "Hybrid",
		MaxStackDepth:  500,
		SampleInterval: time.Millisecond,
		NoValidate:     true,
		MainThreadOnly: true,
		TrackAsync:     true,
	}
	pc, err := cfg.ProfilerConfig()
	require.NoError(t, err)
	assert.Equal(t, profiler.Config{
		SampleInterval:    time.Millisecond,
		MaxStackDepth:     profiler.MaxFrames,
		TrackAsync:        true,
		TrackThreads:      false,
		Strategy:          unwinder.Hybrid,
		ValidateAddresses: false,
	}, pc)

	pc, err = (&Config{}).ProfilerConfig()
	require.NoError(t, err)
	assert.Equal(t, profiler.DefaultConfig(), pc)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "out.pb.gz", OutputPath("out.pb.gz", 12, false))
	assert.Equal(t, "out.pb.12.gz", OutputPath("out.pb.gz", 12, true))
	assert.Equal(t, "dir/profile.7", OutputPath("dir/profile", 7, true))
}

func TestErrorWithExitCode(t *testing.T) {
	inner := errors.New("boom")
	var err error = NewErrorWithExitCode(inner, 3)

	var coded ErrorWithExitCode
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, 3, coded.Code())
	require.ErrorIs(t, err, inner)
	assert.Equal(t, "boom", err.Error())
}

// runController runs cfg against fake processes keyed by pid. Unknown pids
// fail to open with ESRCH.
func runController(t *testing.T, ctx context.Context, cfg *Config,
	procs map[libpf.PID]*processtest.Process) (string, error) {
	t.Helper()
	require.NoError(t, cfg.Validate())

	var out bytes.Buffer
	c := New(cfg,
		WithOutput(&out),
		WithProgressInterval(0),
		WithTargetOptions(profiler.WithOpener(func(pid libpf.PID) (process.Process, error) {
			proc, ok := procs[pid]
			if !ok {
				return nil, unix.ESRCH
			}
			return proc, nil
		})))
	err := c.Run(ctx)
	return out.String(), err
}

func TestRunInfo(t *testing.T) {
	proc := processtest.ThreeThreads()
	cfg := &Config{PIDs: []libpf.PID{processtest.PID}, Command: CmdInfo}
	out, err := runController(t, context.Background(), cfg,
		map[libpf.PID]*processtest.Process{processtest.PID: proc})
	require.NoError(t, err)

	assert.Contains(t, out, "Target PID: 4242")
	assert.Contains(t, out, "=== Thread Information ===")
	assert.Contains(t, out, "Threads: 3")
	assert.Contains(t, out, "Thread 2 (tid: 4244, name: worker)")
	assert.Contains(t, out, "Statistics:")
	assert.Contains(t, out, "Total samples: 0")
	assert.NotContains(t, out, "=== PID")
	assert.Equal(t, 1, proc.Closed)
}

func TestRunStacks(t *testing.T) {
	proc := processtest.ThreeThreads()
	cfg := &Config{PIDs: []libpf.PID{processtest.PID}, Command: CmdStacks}
	out, err := runController(t, context.Background(), cfg,
		map[libpf.PID]*processtest.Process{processtest.PID: proc})
	require.NoError(t, err)

	assert.Contains(t, out, "Thread 4242 (5 frames)")
	assert.Contains(t, out, "Thread 4243 (3 frames)")
	assert.Contains(t, out, "Threads captured: 3")
	assert.Contains(t, out, "  Total frames: 10")
	assert.Contains(t, out, "Success rate: 100.0%")
	assert.Equal(t, proc.Suspended, proc.Resumed)
}

func TestRunStack(t *testing.T) {
	proc := processtest.ThreeThreads()
	procs := map[libpf.PID]*processtest.Process{processtest.PID: proc}

	cfg := &Config{PIDs: []libpf.PID{processtest.PID}, Command: CmdStack, Arg: 1}
	out, err := runController(t, context.Background(), cfg, procs)
	require.NoError(t, err)
	assert.Contains(t, out, "=== Capturing Thread 1 ===")
	assert.Contains(t, out, "Thread 4243 (3 frames)")

	cfg.Arg = 7
	_, err = runController(t, context.Background(), cfg, procs)
	var indexErr *profiler.InvalidThreadIndexError
	require.ErrorAs(t, err, &indexErr)
	assert.Equal(t, 2, proc.Closed)
}

func TestRunSample(t *testing.T) {
	proc := processtest.ThreeThreads()
	output := filepath.Join(t.TempDir(), "profile.pb.gz")
	cfg := &Config{
		PIDs:           []libpf.PID{processtest.PID},
		Command:        CmdSample,
		Arg:            3,
		SampleInterval: time.Millisecond,
		Output:         output,
	}
	out, err := runController(t, context.Background(), cfg,
		map[libpf.PID]*processtest.Process{processtest.PID: proc})
	require.NoError(t, err)

	assert.Contains(t, out, "=== Sampling (x3) ===")
	assert.Contains(t, out, "Sample 3/3...")
	assert.Equal(t, 3, strings.Count(out, "  Captured 3 threads, 10 frames"))
	assert.Contains(t, out, "Total samples: 9")
	assert.Contains(t, out, "Profile written to "+output)

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	prof, err := profile.Parse(f)
	require.NoError(t, err)
	require.Len(t, prof.Sample, 3)
	for _, s := range prof.Sample {
		assert.Equal(t, int64(3), s.Value[0])
	}
	assert.Equal(t, int64(time.Millisecond), prof.Period)
}

func TestRunSampleCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := &Config{PIDs: []libpf.PID{processtest.PID}, Command: CmdSample, Arg: 1000,
		SampleInterval: time.Hour}
	out, err := runController(t, ctx, cfg,
		map[libpf.PID]*processtest.Process{processtest.PID: processtest.ThreeThreads()})
	require.NoError(t, err)
	assert.Contains(t, out, "Statistics:")
	assert.NotContains(t, out, "Sample 2/1000")
}

func TestRunMultiplePIDs(t *testing.T) {
	first := processtest.ThreeThreads()
	second := processtest.ThreeThreads()
	second.Pid = 4343
	procs := map[libpf.PID]*processtest.Process{4242: first, 4343: second}

	cfg := &Config{PIDs: []libpf.PID{4343, 4242}, Command: CmdStacks}
	out, err := runController(t, context.Background(), cfg, procs)
	require.NoError(t, err)
	firstHeader := strings.Index(out, "=== PID 4343 ===")
	secondHeader := strings.Index(out, "=== PID 4242 ===")
	require.GreaterOrEqual(t, firstHeader, 0)
	assert.Greater(t, secondHeader, firstHeader)
	assert.Equal(t, 2, strings.Count(out, "Threads captured: 3"))

	cfg.PIDs = []libpf.PID{4242, 99}
	out, err = runController(t, context.Background(), cfg, procs)
	require.ErrorIs(t, err, profiler.ErrNoSuchProcess)
	var coded ErrorWithExitCode
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, ExitUnavailable, coded.Code())
	assert.Contains(t, out, "=== PID 99 ===")
	assert.Contains(t, out, "Error: ")
	assert.Equal(t, 2, first.Closed)
}

func TestRunSampleIndependentPIDs(t *testing.T) {
	healthy := processtest.ThreeThreads()
	procs := map[libpf.PID]*processtest.Process{processtest.PID: healthy}

	cfg := &Config{
		PIDs:           []libpf.PID{processtest.PID, 99},
		Command:        CmdSample,
		Arg:            20,
		SampleInterval: time.Millisecond,
	}
	out, err := runController(t, context.Background(), cfg, procs)
	require.ErrorIs(t, err, profiler.ErrNoSuchProcess)

	// The missing pid fails right away, the healthy one still samples fully.
	assert.Contains(t, out, "Sample 20/20...")
	assert.Equal(t, 20, strings.Count(out, "  Captured 3 threads, 10 frames"))
	assert.Contains(t, out, "Total samples: 60")
	assert.Equal(t, healthy.Suspended, healthy.Resumed)
	assert.Equal(t, 1, healthy.Closed)
}
