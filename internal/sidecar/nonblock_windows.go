//go:build windows

package sidecar

import (
	"os"
	"time"
)

// windowsNonBlockingWriter approximates a non-blocking write over a Windows
// anonymous pipe, which exposes no O_NONBLOCK equivalent: each write runs on
// its own goroutine and the caller polls the result channel without
// blocking, treating a write that hasn't finished within a short bound as
// "not ready" rather than stalling the session loop.
type windowsNonBlockingWriter struct {
	f *os.File
}

const writeProbeWindow = 2 * time.Millisecond

func newNonBlockingWriter(f *os.File) (nonBlockingWriter, error) {
	return &windowsNonBlockingWriter{f: f}, nil
}

func (w *windowsNonBlockingWriter) TryWrite(data []byte) (bool, error) {
	done := make(chan error, 1)
	go func() {
		_, err := w.f.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		return false, err
	case <-time.After(writeProbeWindow):
		// The write may still complete later; the sidecar protocol is a
		// stream of independent state snapshots, so a stale in-flight
		// write losing a race with a newer one is an acceptable drop.
		return true, nil
	}
}

func (w *windowsNonBlockingWriter) Close() error {
	return w.f.Close()
}
