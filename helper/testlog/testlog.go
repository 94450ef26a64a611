// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

// Package testlog creates hclog loggers that route through the test
// runner, so log lines attach to the failing test instead of
// interleaving on stderr.
package testlog

import (
	"io"
	"testing"

	"github.com/hashicorp/go-hclog"
)

// writer adapts testing's Logf to io.Writer.
type writer struct {
	t testing.TB
}

func (w *writer) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Logf("%s", p)
	return len(p), nil
}

// NewWriter returns an io.Writer that logs through t.
func NewWriter(t testing.TB) io.Writer {
	return &writer{t: t}
}

// HCLogger returns a trace-level logger that writes through t.
func HCLogger(t testing.TB) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   t.Name(),
		Level:  hclog.Trace,
		Output: NewWriter(t),
	})
}
