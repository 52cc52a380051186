// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package successfailurecounter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultToSuccess(t *testing.T, sfc *SuccessFailureCounter, n int) {
	t.Helper()
	defer sfc.DefaultToSuccess()

	if n%2 == 0 {
		sfc.ReportSuccess()
	} else if n%3 == 0 {
		sfc.ReportFailure()
	}
}

func defaultToFailure(t *testing.T, sfc *SuccessFailureCounter, n int) {
	t.Helper()
	defer sfc.DefaultToFailure()

	if n%2 == 0 {
		sfc.ReportSuccess()
	} else if n%3 == 0 {
		sfc.ReportFailure()
	}
}

func reportTwice(t *testing.T, sfc *SuccessFailureCounter, _ int) {
	t.Helper()
	sfc.ReportSuccess()
	sfc.ReportFailure()
	sfc.DefaultToFailure()
}

func TestSuccessFailureCounter(t *testing.T) {
	tests := map[string]struct {
		call            func(*testing.T, *SuccessFailureCounter, int)
		input           int
		expectedSucess  uint64
		expectedFailure uint64
	}{
		"default success - no report": {
			call:           defaultToSuccess,
			input:          1,
			expectedSucess: 1,
		},
		"default success - report success": {
			call:           defaultToSuccess,
			input:          2,
			expectedSucess: 1,
		},
		"default success - report failure": {
			call:            defaultToSuccess,
			input:           3,
			expectedFailure: 1,
		},
		"default failure - no report": {
			call:            defaultToFailure,
			input:           1,
			expectedFailure: 1,
		},
		"default failure - report success": {
			call:           defaultToFailure,
			input:          2,
			expectedSucess: 1,
		},
		"default failure - report failure": {
			call:            defaultToFailure,
			input:           3,
			expectedFailure: 1,
		},
		"second report is ignored": {
			call:           reportTwice,
			expectedSucess: 1,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var counters Counters
			sfc := New(&counters)
			test.call(t, &sfc, test.input)
			assert.True(t, sfc.Sealed())
			assert.Equal(t, test.expectedSucess, counters.Success.Load())
			assert.Equal(t, test.expectedFailure, counters.Failure.Load())
			assert.Equal(t, uint64(1), counters.Total.Load())
		})
	}
}

func TestReport(t *testing.T) {
	var counters Counters
	errCapture := errors.New("capture failed")

	for _, err := range []error{nil, errCapture, nil} {
		sfc := New(&counters)
		assert.Equal(t, err, sfc.Report(err))
	}
	assert.Equal(t, uint64(3), counters.Total.Load())
	assert.Equal(t, uint64(2), counters.Success.Load())
	assert.Equal(t, uint64(1), counters.Failure.Load())

	counters.Reset()
	assert.Zero(t, counters.Total.Load())
	assert.Zero(t, counters.Success.Load())
	assert.Zero(t, counters.Failure.Load())
}
