package sidecar

// nonBlockingWriter probes a sidecar's stdin pipe for EAGAIN without ever
// blocking the session loop, spec.md §4.4 and §5. The unix and windows
// variants below share this contract but differ in how they get there, the
// same platform split the teacher uses for console/window handling in
// internal/util.
type nonBlockingWriter interface {
	// TryWrite attempts to write data without blocking. dropped is true
	// when the pipe was not ready (EAGAIN-equivalent) and the caller
	// should log-and-drop rather than retry.
	TryWrite(data []byte) (dropped bool, err error)
	Close() error
}
