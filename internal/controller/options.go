// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/ptrace-profiler/internal/controller"

import (
	"io"
	"time"

	"go.opentelemetry.io/ptrace-profiler/profiler"
)

type Option interface {
	applyOption(*Controller) *Controller
}
type controllerOptionFunc func(*Controller) *Controller

func (f controllerOptionFunc) applyOption(c *Controller) *Controller {
	return f(c)
}

// WithOutput sets where reports are written. This defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return controllerOptionFunc(func(c *Controller) *Controller {
		c.out = w
		return c
	})
}

// WithTargetOptions passes options to every profiler.Target the controller
// creates.
func WithTargetOptions(opts ...profiler.Option) Option {
	return controllerOptionFunc(func(c *Controller) *Controller {
		c.targetOpts = append(c.targetOpts, opts...)
		return c
	})
}

// WithProgressInterval sets how often sampling progress is logged. Zero
// disables progress logging.
func WithProgressInterval(interval time.Duration) Option {
	return controllerOptionFunc(func(c *Controller) *Controller {
		c.progressInterval = interval
		return c
	})
}
