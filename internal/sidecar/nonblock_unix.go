//go:build !windows

package sidecar

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// unixNonBlockingWriter sets O_NONBLOCK on the pipe's write-end file
// descriptor once, then treats EAGAIN from Write as "not ready" instead of
// an error worth surfacing.
type unixNonBlockingWriter struct {
	f *os.File
}

func newNonBlockingWriter(f *os.File) (nonBlockingWriter, error) {
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	return &unixNonBlockingWriter{f: f}, nil
}

func (w *unixNonBlockingWriter) TryWrite(data []byte) (bool, error) {
	_, err := w.f.Write(data)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
		return true, nil
	}
	return false, err
}

func (w *unixNonBlockingWriter) Close() error {
	return w.f.Close()
}
