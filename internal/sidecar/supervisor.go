// Package sidecar implements the BridgeSupervisor: spawning and supervising
// the external platform gamepad bridge process, translating GamepadState
// into the duplex line-JSON protocol described in spec.md §4.4, and
// forwarding native FFB events back to the session loop via a bounded
// channel rather than a callback.
package sidecar

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"wheelbridge/internal/clock"
	"wheelbridge/internal/gamepad"
	"wheelbridge/internal/telemetry"
)

const (
	eventQueueCapacity = 256
	garbageTolerance   = 10
	respawnQueueWindow = 250 * time.Millisecond
	restartGrace       = 500 * time.Millisecond

	backoffInitial = 100 * time.Millisecond
	backoffCap     = 5 * time.Second
)

// Supervisor owns exactly one sidecar child process bound to a Target. It
// is generic over the variant: the external process, not this type, knows
// how to drive x360 vs ds4 vs dkbridge.
type Supervisor struct {
	exePath   string
	target    Target
	keepAlive time.Duration
	logger    *slog.Logger
	counters  *telemetry.Counters
	clk       clock.Clock

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      nonBlockingWriter
	ready      bool
	lastSent   gamepad.State
	haveSent   bool
	lastSendAt time.Time
	garbageRun int
	backoff    time.Duration

	pendingState gamepad.State
	pendingSince time.Time
	havePending  bool

	Events chan Event

	fatal     chan struct{}
	fatalOnce sync.Once

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Supervisor for the sidecar executable at exePath, targeting
// the given controller class.
func New(exePath string, target Target, keepAlive time.Duration, logger *slog.Logger, counters *telemetry.Counters, clk clock.Clock) *Supervisor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Supervisor{
		exePath:   exePath,
		target:    target,
		keepAlive: keepAlive,
		logger:    logger,
		counters:  counters,
		clk:       clk,
		backoff:   backoffInitial,
		Events:    make(chan Event, eventQueueCapacity),
		fatal:     make(chan struct{}),
	}
}

// Fatal closes when the sidecar has failed to come up again after its
// backoff has saturated at backoffCap and it fails yet another spawn — the
// exit-code-4 condition from spec.md §6/§7. The supervise loop exits when
// this happens; it never retries forever.
func (s *Supervisor) Fatal() <-chan struct{} { return s.fatal }

func (s *Supervisor) signalFatal() {
	s.fatalOnce.Do(func() {
		s.logf(slog.LevelError, "sidecar failed to stay up through the backoff ceiling, giving up")
		close(s.fatal)
	})
}

// Start spawns the child and its stdout reader task, then supervises
// restarts until ctx is canceled.
func (s *Supervisor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.superviseLoop(runCtx)
}

func (s *Supervisor) superviseLoop(ctx context.Context) {
	defer close(s.done)
	for {
		if ctx.Err() != nil {
			return
		}
		exitCh, err := s.spawnOnce(ctx)
		if err != nil {
			s.logf(slog.LevelWarn, "sidecar spawn failed", "error", err)
			if !s.sleepBackoff(ctx) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.flushNeutral()
			s.terminate()
			return
		case <-exitCh:
			s.setReady(false)
			s.terminate()
			if s.counters != nil {
				s.counters.SidecarRestarts.Add(1)
			}
			if !s.sleepBackoff(ctx) {
				return
			}
		}
	}
}

// sleepBackoff waits the current backoff duration (doubling it for next
// time, capped), returning false if ctx was canceled meanwhile. If the
// backoff had already saturated at backoffCap going into this failure, the
// ceiling has been reached: sleepBackoff signals Fatal and gives up instead
// of sleeping again, per spec.md §6/§7's exit code 4.
func (s *Supervisor) sleepBackoff(ctx context.Context) bool {
	d := s.backoff
	atCeiling := d >= backoffCap
	s.backoff *= 2
	if s.backoff > backoffCap {
		s.backoff = backoffCap
	}
	if atCeiling {
		s.signalFatal()
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Supervisor) resetBackoff() {
	s.backoff = backoffInitial
}

// spawnOnce starts the child process, wires its stdin and stdout, and
// returns a channel that closes when the child's stdout reader task ends
// (EOF or garbage-tolerance exceeded).
func (s *Supervisor) spawnOnce(ctx context.Context) (<-chan struct{}, error) {
	cmd := exec.Command(s.exePath)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdin = stdinR

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, err
	}
	stdinR.Close() // parent keeps only the write end open

	writer, err := newNonBlockingWriter(stdinW)
	if err != nil {
		stdinW.Close()
		cmd.Process.Kill()
		return nil, err
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = writer
	s.haveSent = false
	s.garbageRun = 0
	s.mu.Unlock()

	s.resetBackoff()

	if err := s.sendTargetControl(); err != nil {
		s.logf(slog.LevelWarn, "sidecar rejected target control", "error", err)
	}
	s.flushPending()

	exitCh := make(chan struct{})
	go s.readStdout(stdout, exitCh)

	return exitCh, nil
}

// readStdout is the dedicated reader task for the sidecar's stdout,
// spec.md §5: it only ever forwards typed Events onto a channel, never
// calls back into the supervisor.
func (s *Supervisor) readStdout(r io.Reader, exitCh chan<- struct{}) {
	defer close(exitCh)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		ev, ok := decodeStdoutLine(scanner.Bytes())
		if !ok {
			s.mu.Lock()
			s.garbageRun++
			exceeded := s.garbageRun >= garbageTolerance
			s.mu.Unlock()
			if exceeded {
				s.logf(slog.LevelWarn, "sidecar emitted garbage beyond tolerance, restarting")
				return
			}
			continue
		}
		s.mu.Lock()
		s.garbageRun = 0
		if ev.Kind == EventReady {
			s.ready = true
		}
		s.mu.Unlock()

		select {
		case s.Events <- ev:
		default:
			// Bounded channel full: drop the oldest by draining one slot,
			// then push, matching the drop-oldest MPSC contract elsewhere.
			select {
			case <-s.Events:
			default:
			}
			select {
			case s.Events <- ev:
			default:
			}
		}
	}
}

func (s *Supervisor) setReady(v bool) {
	s.mu.Lock()
	s.ready = v
	s.mu.Unlock()
}

// Ready reports whether the current child has announced readiness.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Supervisor) sendTargetControl() error {
	payload, err := encodeTargetControl(s.target)
	if err != nil {
		return err
	}
	return s.writeLine(payload)
}

// PushState sends the given GamepadState to the sidecar if it differs from
// the last sent state beyond the tolerances in spec.md §4.4, or if the
// keepalive interval has elapsed.
func (s *Supervisor) PushState(st gamepad.State) {
	s.mu.Lock()
	now := s.clk.Now()
	due := !s.haveSent || !s.lastSent.Equal(st) || now.Sub(s.lastSendAt) >= s.keepAlive
	s.mu.Unlock()
	if !due {
		return
	}

	push := statePush{LX: st.LX, LY: st.LY, RT: st.RT, LT: st.LT, Buttons: st.Buttons}
	payload, err := json.Marshal(push)
	if err != nil {
		return
	}
	if err := s.writeLine(payload); err != nil {
		s.logf(slog.LevelDebug, "sidecar state write dropped", "error", err)
		if s.counters != nil {
			s.counters.SidecarWriteDrops.Add(1)
		}
		// No child to take this state right now: remember it so the next
		// spawn can replay it, as long as it's still fresh enough.
		s.mu.Lock()
		s.pendingState = st
		s.pendingSince = now
		s.havePending = true
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.lastSent = st
	s.haveSent = true
	s.lastSendAt = now
	s.havePending = false
	s.mu.Unlock()
}

// flushPending replays the most recent queued state onto a freshly spawned
// child if it's still within the respawn queue window, spec.md §4.4.
func (s *Supervisor) flushPending() {
	s.mu.Lock()
	pending := s.pendingState
	since := s.pendingSince
	have := s.havePending
	s.havePending = false
	s.mu.Unlock()
	if !have || s.clk.Now().Sub(since) > respawnQueueWindow {
		return
	}
	s.PushState(pending)
}

// flushNeutral pushes the all-zero state once, used both on disconnect and
// during shutdown.
func (s *Supervisor) flushNeutral() {
	s.PushState(gamepad.Neutral)
}

func (s *Supervisor) writeLine(payload []byte) error {
	s.mu.Lock()
	w := s.stdin
	s.mu.Unlock()
	if w == nil {
		return fmt.Errorf("sidecar: no child process")
	}
	line := append(append([]byte{}, payload...), '\n')
	dropped, err := w.TryWrite(line)
	if err != nil {
		return err
	}
	if dropped {
		return fmt.Errorf("sidecar: write not ready (EAGAIN)")
	}
	return nil
}

func (s *Supervisor) terminate() {
	s.mu.Lock()
	cmd := s.cmd
	w := s.stdin
	s.mu.Unlock()
	if w != nil {
		w.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(restartGrace):
		cmd.Process.Kill()
		<-done
	}
}

// Stop cancels the supervisor's context and waits for the supervise loop to
// exit, flushing a neutral state and terminating the child with a grace
// window first.
func (s *Supervisor) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Supervisor) logf(level slog.Level, msg string, args ...any) {
	if s.logger != nil {
		s.logger.Log(context.Background(), level, msg, args...)
	}
}
