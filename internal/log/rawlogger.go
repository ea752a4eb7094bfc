package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// RawLogger records wire-level traffic: phone<->host UDP datagrams and
// audio-helper lines (the sidecar supervisor does not log through it). It
// is a no-op unless wired to a writer, so the
// session loop can call it unconditionally without a hot-path branch.
type RawLogger interface {
	Log(source string, in bool, payload []byte)
}

type rawLogger struct {
	w  io.Writer
	mu sync.Mutex
}

// NewRaw creates a RawLogger writing to w. A nil w yields a no-op logger.
func NewRaw(w io.Writer) RawLogger {
	return &rawLogger{w: w}
}

// Log emits one line: timestamp, source tag (udp/audio), direction
// (in=true means into the host, false means out of the host), byte count,
// and the payload itself (our wire formats are all printable JSON lines).
func (r *rawLogger) Log(source string, in bool, payload []byte) {
	if r == nil || r.w == nil || len(payload) == 0 {
		return
	}

	dir := "out"
	if in {
		dir = "in"
	}

	line := fmt.Sprintf("%s %-7s %-3s %4d  %s\n",
		time.Now().Format("2006/01/02 15:04:05.000"),
		source,
		dir,
		len(payload),
		strings.TrimRight(string(payload), "\r\n"),
	)

	r.mu.Lock()
	_, _ = r.w.Write([]byte(line))
	r.mu.Unlock()
}
