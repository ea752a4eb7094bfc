// Package session implements the SessionLoop: the single-threaded
// cooperative core tying UdpEndpoint, ProtocolCodec, InputTranslator,
// BridgeSupervisor, FeedbackMixer, and AudioIngestor together at a fixed
// tick rate, spec.md §4.7 and §5.
package session

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"wheelbridge/internal/audio"
	"wheelbridge/internal/clock"
	"wheelbridge/internal/config"
	"wheelbridge/internal/feedback"
	"wheelbridge/internal/gamepad"
	"wheelbridge/internal/protocol"
	"wheelbridge/internal/sidecar"
	"wheelbridge/internal/telemetry"
	"wheelbridge/internal/translator"
	"wheelbridge/internal/udpnet"
)

// liveSession tracks the single active phone peer, spec.md §3's invariant
// that at most one session is ever live.
type liveSession struct {
	peer       *net.UDPAddr
	lastSeq    int64
	lastAck    uint32
	lastSeen   time.Time
	background bool
	latches    translator.Latches
}

// Loop is the SessionLoop: it owns the cadence and cross-component
// arbitration described in spec.md §4.7.
type Loop struct {
	cfgMu sync.Mutex
	cfg   config.Config

	clk      clock.Clock
	logger   *slog.Logger
	counters *telemetry.Counters

	endpoint   *udpnet.Endpoint
	codec      *protocol.Codec
	supervisor *sidecar.Supervisor
	ingestor   *audio.Ingestor
	mixer      *feedback.Mixer

	nativeFFB feedback.NativeFFB
	sess      *liveSession
	staged    gamepad.State
}

// New wires the components into a Loop. The caller owns starting/stopping
// the endpoint, supervisor, and ingestor's own goroutines; Loop.Run only
// drives the tick cadence and dispatch.
func New(cfg config.Config, clk clock.Clock, logger *slog.Logger, counters *telemetry.Counters,
	endpoint *udpnet.Endpoint, codec *protocol.Codec, supervisor *sidecar.Supervisor,
	ingestor *audio.Ingestor, mixer *feedback.Mixer) *Loop {
	return &Loop{
		cfg:        cfg,
		clk:        clk,
		logger:     logger,
		counters:   counters,
		endpoint:   endpoint,
		codec:      codec,
		supervisor: supervisor,
		ingestor:   ingestor,
		mixer:      mixer,
	}
}

// Reconfigure merges patch into the Loop's live Config. Per spec.md §4.8,
// this is the only way Config may change after startup; the new values take
// effect starting at the next tick, never mid-tick.
func (l *Loop) Reconfigure(patch config.Patch) {
	l.cfgMu.Lock()
	defer l.cfgMu.Unlock()
	l.cfg = l.cfg.Apply(patch)
}

func (l *Loop) snapshotConfig() config.Config {
	l.cfgMu.Lock()
	defer l.cfgMu.Unlock()
	return l.cfg
}

// currentTuning re-derives the translator.Tuning from the live Config. It's
// called fresh at the top of every tick rather than once before the loop, so
// a Reconfigure takes effect at the very next tick.
func currentTuning(cfg config.Config) translator.Tuning {
	tuning := translator.DefaultTuning(cfg.TickHz)
	tuning.Expo = cfg.Expo
	tuning.Deadzone = cfg.Deadzone
	tuning.LatchTicks = cfg.LatchTicks
	return tuning
}

// currentFFBTuning re-derives the feedback.Tuning from the live Config, the
// mixer-side half of the same per-tick reconfiguration.
func currentFFBTuning(cfg config.Config) feedback.Tuning {
	t := feedback.DefaultTuning()
	t.Mode = feedback.ParseMode(cfg.FFB.Mode)
	t.StaleTime = cfg.FFBStale()
	t.GainL = cfg.FFB.GainL
	t.GainR = cfg.FFB.GainR
	return t
}

// Run drives the tick loop until ctx is canceled, per spec.md §4.7's
// seven-step per-tick algorithm. The tick period itself is fixed at
// startup (spec.md §4.8: tick cadence requires a restart), but every other
// reconfigurable knob is re-read each tick via snapshotConfig.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.snapshotConfig().TickPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	now := l.clk.Now()
	cfg := l.snapshotConfig()
	tuning := currentTuning(cfg)
	l.mixer.SetTuning(currentFFBTuning(cfg))

	for _, ev := range l.drainSidecarEvents() {
		l.applySidecarEvent(ev, now)
	}
	l.ingestor.Poll()

	for _, dg := range l.endpoint.DrainAll(now) {
		l.dispatch(dg, now, tuning)
	}

	if l.sess != nil && now.Sub(l.sess.lastSeen) >= cfg.IdleTimeout() {
		l.teardownIdleSession()
	}

	if l.sess != nil {
		l.pushStaged(tuning)
		l.reply(now)
	}
}

// drainSidecarEvents pulls whatever typed events the sidecar's stdout
// reader task has queued, without blocking.
func (l *Loop) drainSidecarEvents() []sidecar.Event {
	var out []sidecar.Event
	for {
		select {
		case ev := <-l.supervisor.Events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (l *Loop) applySidecarEvent(ev sidecar.Event, now time.Time) {
	switch ev.Kind {
	case sidecar.EventFFB:
		l.nativeFFB = feedback.NativeFFB{RumbleL: ev.RumbleL, RumbleR: ev.RumbleR, At: now, Valid: true}
	case sidecar.EventReady, sidecar.EventBye:
		// Readiness/teardown are surfaced via Supervisor.Ready(); no
		// session-loop state change is needed here.
	}
}

func (l *Loop) dispatch(dg udpnet.Datagram, now time.Time, tuning translator.Tuning) {
	lastSeq := int64(-1)
	if l.sess != nil {
		lastSeq = l.sess.lastSeq
	}
	decoded := l.codec.Decode(dg.Payload, lastSeq)

	switch decoded.Kind {
	case protocol.KindIgnore:
		return
	case protocol.KindDisconnect:
		l.teardownDisconnect()
		return
	case protocol.KindBackground:
		l.endpoint.ConfirmPeer(dg.Peer, now)
		if l.sess == nil {
			l.establishSession(dg.Peer, now)
		}
		if decoded.Packet.Seq != 0 {
			l.sess.lastSeq = int64(decoded.Packet.Seq)
			l.sess.lastAck = decoded.Packet.Seq
		}
		l.sess.lastSeen = now
		l.sess.background = true
		return
	case protocol.KindHelloOrInput:
		l.endpoint.ConfirmPeer(dg.Peer, now)
		if l.sess == nil {
			l.establishSession(dg.Peer, now)
		}
		l.sess.lastSeq = int64(decoded.Packet.Seq)
		l.sess.lastAck = decoded.Packet.Seq
		l.sess.lastSeen = now
		l.sess.background = false
		l.stageInput(decoded.Packet, tuning, now)
	}
}

func (l *Loop) establishSession(peer *net.UDPAddr, now time.Time) {
	l.sess = &liveSession{peer: peer, lastSeq: -1, lastSeen: now, latches: translator.NewLatches()}
	l.mixer.OnSessionEstablished()
}

func (l *Loop) stageInput(p protocol.InputPacket, tuning translator.Tuning, now time.Time) {
	st := translator.Translate(p, tuning, l.sess.latches)
	l.mixer.NoteSteering(st.LX, now)
	l.staged = st
}

// pushStaged sends the most recently staged GamepadState (or neutral, while
// in background mode) to the sidecar, subject to the supervisor's own
// rate-limit rules.
func (l *Loop) pushStaged(tuning translator.Tuning) {
	if l.sess.background {
		l.supervisor.PushState(gamepad.Neutral)
		return
	}
	l.supervisor.PushState(l.staged)
}

func (l *Loop) reply(now time.Time) {
	af := l.ingestor.Latest()
	state := l.mixer.Compose(l.sess.lastAck, l.nativeFFB, af, now)
	payload, err := l.codec.EncodeReply(state)
	if err != nil {
		return
	}
	_ = l.endpoint.Send(payload, l.sess.peer)
}

func (l *Loop) teardownDisconnect() {
	if l.sess == nil {
		return
	}
	l.supervisor.PushState(gamepad.Neutral)
	if l.counters != nil {
		l.counters.SessionDisconnects.Add(1)
	}
	l.endpoint.ReleasePeer()
	l.sess = nil
}

func (l *Loop) teardownIdleSession() {
	l.supervisor.PushState(gamepad.Neutral)
	if l.counters != nil {
		l.counters.SessionTimeouts.Add(1)
	}
	l.endpoint.ReleasePeer()
	l.sess = nil
}

// shutdown runs the exact cancellation ordering from spec.md §5: stop
// accepting packets (the caller has already stopped calling tick), flush a
// neutral state, send one final reply, then let the caller close the
// endpoint/supervisor/ingestor.
func (l *Loop) shutdown() {
	if l.sess == nil {
		return
	}
	l.supervisor.PushState(gamepad.Neutral)
	l.reply(l.clk.Now())
}
