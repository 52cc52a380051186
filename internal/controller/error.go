// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/ptrace-profiler/internal/controller"

import (
	"errors"

	"go.opentelemetry.io/ptrace-profiler/profiler"
)

// Exit codes of failed runs, following sysexits.h.
const (
	ExitUnavailable  = 69
	ExitNoPermission = 77
)

// ErrorWithExitCode provides an error with an exit code
// Used to be able to return errors with the exit code the CLI is expected to
// return when exiting.
type ErrorWithExitCode struct {
	error
	code int
}

// NewErrorWithExitCode attaches an exit code to err.
func NewErrorWithExitCode(err error, code int) ErrorWithExitCode {
	return ErrorWithExitCode{error: err, code: code}
}

func (e ErrorWithExitCode) Code() int {
	return e.code
}

func (e ErrorWithExitCode) Unwrap() error {
	return e.error
}

// withExitCode classifies err by its cause. Errors without a known cause are
// returned unchanged.
func withExitCode(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, profiler.ErrPermissionDenied):
		return NewErrorWithExitCode(err, ExitNoPermission)
	case errors.Is(err, profiler.ErrNoSuchProcess):
		return NewErrorWithExitCode(err, ExitUnavailable)
	}
	return err
}
