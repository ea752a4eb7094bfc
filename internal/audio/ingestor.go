package audio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wheelbridge/internal/log"
	"wheelbridge/internal/queue"
	"wheelbridge/internal/telemetry"
)

const queueCapacity = 256

// Ingestor launches the platform audio helper and exposes its latest
// Features. Malformed lines are ignored; a {"status":"started"} line arms
// it, {"status":"stopped"} or EOF disarms it. It does no DSP of its own.
type Ingestor struct {
	helperPath string
	logger     *slog.Logger
	raw        log.RawLogger
	counters   *telemetry.Counters

	armed atomic.Bool

	mu     sync.Mutex
	latest Features

	q *queue.Dropping[Features]

	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// New creates an Ingestor for the helper at helperPath. An empty helperPath
// disables the ingestor entirely; Start becomes a no-op and Latest always
// reports zero features, per spec.md §4.6.
func New(helperPath string, logger *slog.Logger, raw log.RawLogger, counters *telemetry.Counters) *Ingestor {
	return &Ingestor{
		helperPath: helperPath,
		logger:     logger,
		raw:        raw,
		counters:   counters,
		q:          queue.NewDropping[Features](queueCapacity),
	}
}

// Enabled reports whether a helper path was configured.
func (a *Ingestor) Enabled() bool { return a.helperPath != "" }

// Start spawns the helper process and its stdout reader task. It is a
// no-op when no helper path was configured.
func (a *Ingestor) Start(ctx context.Context) error {
	if !a.Enabled() {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	cmd := exec.CommandContext(runCtx, a.helperPath)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return err
	}
	a.cmd = cmd

	go a.readLoop(stdout)
	return nil
}

// Stop terminates the helper process, if running.
func (a *Ingestor) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.armed.Store(false)
}

func (a *Ingestor) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if a.raw != nil {
			a.raw.Log("audio", true, line)
		}

		var w wireLine
		if err := json.Unmarshal(line, &w); err != nil {
			a.incParseFailure()
			continue
		}

		switch strings.ToLower(w.Status) {
		case "started":
			a.armed.Store(true)
			continue
		case "stopped", "error":
			a.armed.Store(false)
			continue
		}

		if !a.armed.Load() {
			// Tolerate helpers that stream features without an explicit
			// "started" line by arming on the first feature frame.
			a.armed.Store(true)
		}

		f := Features{BodyL: w.BodyL, BodyR: w.BodyR, Impact: w.Impact, Engine: w.Engine, Device: w.Device, ReceivedAt: time.Now()}
		if a.q.Push(f) && a.logger != nil {
			a.logger.Debug("audio feature queue overflow, dropped oldest")
		}
	}
	a.armed.Store(false)
	if a.logger != nil {
		a.logger.Info("audio helper stream closed")
	}
}

// Poll drains the reader queue and updates the cached Latest snapshot. It
// must be called once per session-loop tick.
func (a *Ingestor) Poll() {
	drained := a.q.DrainAll()
	if len(drained) == 0 {
		return
	}
	f := drained[len(drained)-1]
	a.mu.Lock()
	a.latest = f
	a.mu.Unlock()
}

// Latest returns the most recent armed Features, or the zero value when
// disarmed or disabled.
func (a *Ingestor) Latest() Features {
	if !a.armed.Load() {
		return Features{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest
}

func (a *Ingestor) incParseFailure() {
	if a.counters != nil {
		a.counters.AudioParseFailures.Add(1)
	}
}
