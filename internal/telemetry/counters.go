// Package telemetry holds the process-wide counters backing the error
// taxonomy in the bridge's error-handling design: transient I/O, protocol
// drift, session loss, and sidecar failures are all counted here rather
// than surfaced as errors.
package telemetry

import "sync/atomic"

// Counters aggregates the never-fatal error conditions the bridge swallows.
// All fields are updated with atomic ops so any component can bump them
// without a shared lock.
type Counters struct {
	PacketsAccepted    atomic.Int64
	PacketsIgnored     atomic.Int64
	SeqRegressions     atomic.Int64
	SignatureMismatch  atomic.Int64
	ParseFailures      atomic.Int64
	PeerRejected       atomic.Int64
	SidecarRestarts    atomic.Int64
	SidecarWriteDrops  atomic.Int64
	AudioParseFailures atomic.Int64
	AudioRestarts      atomic.Int64
	SessionTimeouts    atomic.Int64
	SessionDisconnects atomic.Int64
}

// Snapshot is a point-in-time copy suitable for logging or a debug endpoint.
type Snapshot struct {
	PacketsAccepted    int64
	PacketsIgnored     int64
	SeqRegressions     int64
	SignatureMismatch  int64
	ParseFailures      int64
	PeerRejected       int64
	SidecarRestarts    int64
	SidecarWriteDrops  int64
	AudioParseFailures int64
	AudioRestarts      int64
	SessionTimeouts    int64
	SessionDisconnects int64
}

// Snapshot reads all counters without blocking writers.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		PacketsAccepted:    c.PacketsAccepted.Load(),
		PacketsIgnored:     c.PacketsIgnored.Load(),
		SeqRegressions:     c.SeqRegressions.Load(),
		SignatureMismatch:  c.SignatureMismatch.Load(),
		ParseFailures:      c.ParseFailures.Load(),
		PeerRejected:       c.PeerRejected.Load(),
		SidecarRestarts:    c.SidecarRestarts.Load(),
		SidecarWriteDrops:  c.SidecarWriteDrops.Load(),
		AudioParseFailures: c.AudioParseFailures.Load(),
		AudioRestarts:      c.AudioRestarts.Load(),
		SessionTimeouts:    c.SessionTimeouts.Load(),
		SessionDisconnects: c.SessionDisconnects.Load(),
	}
}
