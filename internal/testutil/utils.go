package testutil

import (
	"io"
	"log"
	"strings"
	"testing"
)

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// TestLogger returns a logger that writes through t.Log so output is shown
// with the test that produced it. Logging stops once the test finishes,
// since goroutines may outlive it.
func TestLogger(t testing.TB) *log.Logger {
	logger := log.New(testWriter{t: t}, "[test] ", log.Lmicroseconds)
	t.Cleanup(func() {
		logger.SetOutput(io.Discard)
	})
	return logger
}
