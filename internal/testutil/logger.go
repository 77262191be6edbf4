// Package testutil provides shared test helpers for reload packages.
package testutil

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Logger returns a zap logger that writes through t.Log, so output is only
// shown for failing tests.
func Logger(t testing.TB) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.DebugLevel))
}
