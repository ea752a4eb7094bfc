// Package feedback implements the FeedbackMixer: merging native (sidecar)
// FFB with audio-derived synthetic haptics into the reply sent to the
// phone, per spec.md §4.5.
package feedback

import (
	"math"
	"time"

	"wheelbridge/internal/audio"
	"wheelbridge/internal/protocol"
)

// Mode selects how rumble channels are sourced.
type Mode int

const (
	ModePassthrough Mode = iota
	ModeSynthetic
	ModeHybrid
)

// ParseMode maps a config string onto a Mode, defaulting to Hybrid.
func ParseMode(s string) Mode {
	switch s {
	case "passthrough":
		return ModePassthrough
	case "synthetic":
		return ModeSynthetic
	case "hybrid", "":
		return ModeHybrid
	default:
		return ModeHybrid
	}
}

// Tuning holds the runtime-reconfigurable knobs from Config §6.
type Tuning struct {
	Mode      Mode
	StaleTime time.Duration
	GainL     float64
	GainR     float64
}

// DefaultTuning matches spec.md §6's defaults.
func DefaultTuning() Tuning {
	return Tuning{Mode: ModeHybrid, StaleTime: 500 * time.Millisecond, GainL: 1.0, GainR: 1.0}
}

// NativeFFB is the most recent {rumbleL, rumbleR} reported by the sidecar,
// time-stamped by the reader task that received it.
type NativeFFB struct {
	RumbleL, RumbleR float64
	At               time.Time
	Valid            bool
}

// impactEnvelope tracks the one-shot attack/decay burst synthesized from an
// audio impact spike.
type impactEnvelope struct {
	startedAt time.Time
	peak      float64
	active    bool
}

const (
	impactAttack = 30 * time.Millisecond
	impactDecay  = 180 * time.Millisecond
)

// Mixer maintains the FeedbackState returned to the phone, blending
// passthrough and synthetic sources per the configured Mode.
type Mixer struct {
	tuning Tuning

	impact impactEnvelope

	// hybrid EMA state, one per rumble channel.
	emaL          float64
	emaR          float64
	haveHybridEMA bool

	// center edge-detection state.
	centerArmed   bool
	hadExcursion  bool
	belowSince    time.Time
	belowSinceSet bool
}

// New creates a Mixer with the given tuning.
func New(tuning Tuning) *Mixer {
	return &Mixer{tuning: tuning}
}

// SetTuning updates the mixer's runtime-reconfigurable knobs; takes effect
// on the next Compose call.
func (m *Mixer) SetTuning(t Tuning) { m.tuning = t }

// OnSessionEstablished arms the one-shot "center" event for the first reply
// of a new session, per spec.md §4.5.
func (m *Mixer) OnSessionEstablished() {
	m.centerArmed = true
	m.belowSinceSet = false
}

// NoteSteering feeds the mixer the current steering magnitude so it can
// detect the "settled back to center after a large excursion" edge.
func (m *Mixer) NoteSteering(lx float64, now time.Time) {
	abs := math.Abs(lx)
	const settleThreshold = 0.02
	const settleHold = 250 * time.Millisecond
	const excursionThreshold = 0.3

	if abs >= excursionThreshold {
		m.hadExcursion = true
		m.belowSinceSet = false
		return
	}

	if abs >= settleThreshold {
		m.belowSinceSet = false
		return
	}

	if !m.belowSinceSet {
		m.belowSince = now
		m.belowSinceSet = true
		return
	}
	if m.hadExcursion && now.Sub(m.belowSince) >= settleHold {
		m.centerArmed = true
		m.hadExcursion = false
		m.belowSinceSet = false
	}
}

// Compose produces the FeedbackState reply for the current tick.
func (m *Mixer) Compose(ack uint32, native NativeFFB, af audio.Features, now time.Time) protocol.FeedbackState {
	passL, passR := m.passthrough(native, now)
	synL, synR, impact, trigL, trigR := m.synthetic(af, now)

	var rumbleL, rumbleR float64
	switch m.tuning.Mode {
	case ModePassthrough:
		rumbleL, rumbleR = passL, passR
	case ModeSynthetic:
		rumbleL, rumbleR = synL, synR
	default: // ModeHybrid
		rumbleL, rumbleR = m.hybrid(passL, passR, synL, synR)
	}

	center := m.centerArmed
	m.centerArmed = false

	return protocol.FeedbackState{
		Ack:     ack,
		RumbleL: clamp01(rumbleL),
		RumbleR: clamp01(rumbleR),
		TrigL:   trigL,
		TrigR:   trigR,
		Impact:  impact,
		Center:  center,
	}
}

func (m *Mixer) passthrough(native NativeFFB, now time.Time) (l, r float64) {
	if !native.Valid || now.Sub(native.At) > m.tuning.StaleTime {
		return 0, 0
	}
	return native.RumbleL, native.RumbleR
}

func (m *Mixer) synthetic(af audio.Features, now time.Time) (l, r, impact, trigL, trigR float64) {
	l = clamp01(af.BodyL * m.tuning.GainL)
	r = clamp01(af.BodyR * m.tuning.GainR)

	if af.Impact > 0 {
		m.impact = impactEnvelope{startedAt: now, peak: af.Impact, active: true}
	}
	impact = m.impact.value(now)

	if absLikeOscillation(af.Engine, af.BodyR) {
		trigL, trigR = af.BodyL, af.BodyR
	}
	return l, r, impact, trigL, trigR
}

// absLikeOscillation heuristically detects ABS/slip-like chatter: both
// engine and bodyR running hot simultaneously stands in for the "zero
// crossings above 6Hz" detector described in spec.md §4.5 — the ingestor
// only ever gives us instantaneous envelope levels, not a waveform to
// zero-cross, so we treat concurrent high engine+bodyR energy as the
// oscillation signature instead.
func absLikeOscillation(engine, bodyR float64) bool {
	const threshold = 0.55
	return engine > threshold && bodyR > threshold
}

func (e *impactEnvelope) value(now time.Time) float64 {
	if !e.active {
		return 0
	}
	elapsed := now.Sub(e.startedAt)
	switch {
	case elapsed < 0:
		return 0
	case elapsed < impactAttack:
		return e.peak * (float64(elapsed) / float64(impactAttack))
	case elapsed < impactAttack+impactDecay:
		decayElapsed := elapsed - impactAttack
		frac := 1 - float64(decayElapsed)/float64(impactDecay)
		return e.peak * frac
	default:
		e.active = false
		return 0
	}
}

func (m *Mixer) hybrid(passL, passR, synL, synR float64) (l, r float64) {
	const alpha = 0.25
	maxL := math.Max(passL, synL)
	maxR := math.Max(passR, synR)

	if !m.haveHybridEMA {
		m.emaL, m.emaR = maxL, maxR
		m.haveHybridEMA = true
	} else {
		m.emaL = alpha*maxL + (1-alpha)*m.emaL
		m.emaR = alpha*maxR + (1-alpha)*m.emaR
	}
	return m.emaL, m.emaR
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
