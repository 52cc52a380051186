// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// successfailurecounter accounts for the outcome of an attempt, such as one
// stack capture, exactly once.
//
// A SuccessFailureCounter is **not** thread safe. The Counters it updates are,
// so they may be read while attempts are in progress.
package successfailurecounter // import "go.opentelemetry.io/ptrace-profiler/successfailurecounter"

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Counters accumulates attempt outcomes. Total always equals Success plus
// Failure once every started attempt has been reported.
type Counters struct {
	Total   atomic.Uint64
	Success atomic.Uint64
	Failure atomic.Uint64
}

// Reset sets all counters back to zero.
func (c *Counters) Reset() {
	c.Total.Store(0)
	c.Success.Store(0)
	c.Failure.Store(0)
}

// SuccessFailureCounter reports the outcome of a single attempt to Counters.
type SuccessFailureCounter struct {
	counters *Counters
	sealed   bool
}

// New returns a SuccessFailureCounter that can be reported exactly once.
func New(counters *Counters) SuccessFailureCounter {
	return SuccessFailureCounter{counters: counters}
}

// Sealed reports whether an outcome was already recorded.
func (sfc *SuccessFailureCounter) Sealed() bool {
	return sfc.sealed
}

func (sfc *SuccessFailureCounter) seal(counter *atomic.Uint64) {
	sfc.counters.Total.Add(1)
	counter.Add(1)
	sfc.sealed = true
}

// ReportSuccess increments the success counter or logs an error otherwise.
func (sfc *SuccessFailureCounter) ReportSuccess() {
	if sfc.sealed {
		log.Errorf("Attempted to report success/failure status more than once.")
		return
	}
	sfc.seal(&sfc.counters.Success)
}

// ReportFailure increments the failure counter or logs an error otherwise.
func (sfc *SuccessFailureCounter) ReportFailure() {
	if sfc.sealed {
		log.Errorf("Attempted to report failure/success status more than once.")
		return
	}
	sfc.seal(&sfc.counters.Failure)
}

// Report records a failure for a non-nil err and a success otherwise. It
// returns err unchanged.
func (sfc *SuccessFailureCounter) Report(err error) error {
	if err != nil {
		sfc.ReportFailure()
	} else {
		sfc.ReportSuccess()
	}
	return err
}

// DefaultToSuccess increments the success counter if no counter was updated before.
func (sfc *SuccessFailureCounter) DefaultToSuccess() {
	if !sfc.sealed {
		sfc.seal(&sfc.counters.Success)
	}
}

// DefaultToFailure increments the failure counter if no counter was updated before.
func (sfc *SuccessFailureCounter) DefaultToFailure() {
	if !sfc.sealed {
		sfc.seal(&sfc.counters.Failure)
	}
}
