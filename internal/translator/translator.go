// Package translator implements the InputTranslator: steering deadzone/expo,
// trigger mapping, D-pad-to-stick fallback, and button latching described in
// spec.md §4.3.
package translator

import (
	"math"
	"time"

	"wheelbridge/internal/gamepad"
	"wheelbridge/internal/protocol"
)

// Tuning holds the session-scoped steering tuning pulled from Config.
type Tuning struct {
	Expo       float64
	Deadzone   float64
	LatchTicks int
	TickPeriod time.Duration
}

// DefaultTuning matches spec.md §6's defaults.
func DefaultTuning(tickHz int) Tuning {
	period := time.Second / time.Duration(maxInt(1, tickHz))
	return Tuning{Expo: 0.22, Deadzone: 0.06, LatchTicks: 3, TickPeriod: period}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// latchEntry tracks one button's minimum-hold-time state.
type latchEntry struct {
	asserted   bool
	falseTicks int
}

// Latches is the per-session button latch table threaded through every
// Translate call; it has no other hidden state.
type Latches map[protocol.ButtonName]*latchEntry

// NewLatches creates an empty latch table.
func NewLatches() Latches {
	return make(Latches)
}

// Translate computes the next GamepadState from the latest InputPacket,
// tuning, and latch table carried from the previous tick. latches is
// mutated in place.
func Translate(p protocol.InputPacket, tuning Tuning, latches Latches) gamepad.State {
	steer := steeringX(p)
	steer = applyDeadzone(steer, tuning.Deadzone)
	steer = applyExpo(steer, tuning.Expo)
	steer = clamp(steer, -1, 1)

	rt := triggerByte(p.Axis.Throttle)
	lt := triggerByte(p.Axis.Brake)

	// Only the D-pad's vertical component feeds the left stick: the
	// horizontal component is superseded by the steering pipeline, which
	// always drives LX (see steeringX below).
	_, dpadY := dpadStick(p)

	var buttons uint16
	for _, name := range protocol.AllButtons {
		if latchButton(latches, name, p.Button(name), tuning.LatchTicks) {
			buttons |= gamepad.BitFor(name)
		}
	}

	return gamepad.State{
		LX:      steer,
		LY:      pickNonZero(p.Axis.LsY, dpadY),
		RT:      rt,
		LT:      lt,
		Buttons: buttons,
	}
}

// steeringX resolves step 1 of the pipeline: use the phone's precomputed
// steering_x when present, otherwise fall back to an on-host tilt
// computation. The packet's ls_x is a distinct D-pad-derived axis and is
// never consulted here.
func steeringX(p protocol.InputPacket) float64 {
	if p.Axis.SteeringX != nil {
		return *p.Axis.SteeringX
	}
	return onHostTilt(p)
}

// onHostTilt is the fallback steering computation used only when the phone
// omits steering_x: theta = atan2(g_y, g_z), normalized by tiltLockDeg and
// mirrored when the phone reports a 270-degree screen rotation.
func onHostTilt(p protocol.InputPacket) float64 {
	gY, gZ := p.Axis.LsY, p.Axis.LatG
	theta := math.Atan2(gY, gZ)
	lock := p.Meta.TiltLockDeg
	if lock <= 0 {
		lock = 45
	}
	norm := theta / (lock * math.Pi / 180)
	if p.Meta.ScreenDeg == 270 {
		norm = -norm
	}
	return clamp(norm, -1, 1)
}

func applyDeadzone(x, dz float64) float64 {
	if math.Abs(x) <= dz {
		return 0
	}
	return x
}

// applyExpo applies the cubic expo blend: x' = sign(x)*((1-e)|x| + e|x|^3).
func applyExpo(x, e float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	ax := math.Abs(x)
	return sign * ((1-e)*ax + e*ax*ax*ax)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func triggerByte(v float64) uint8 {
	v = clamp(v, 0, 1)
	r := math.Round(v * 255)
	if r > 255 {
		r = 255
	}
	if r < 0 {
		r = 0
	}
	return uint8(r)
}

// dpadStick derives a left-stick vector from the D-pad, matching the
// phone's up-is-negative convention.
func dpadStick(p protocol.InputPacket) (x, y float64) {
	right := boolF(p.Button(protocol.ButtonDPadRight))
	left := boolF(p.Button(protocol.ButtonDPadLeft))
	down := boolF(p.Button(protocol.ButtonDPadDown))
	up := boolF(p.Button(protocol.ButtonDPadUp))
	return right - left, down - up
}

func boolF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// pickNonZero prefers the packet-reported axis value; when it is exactly
// zero, the D-pad-derived fallback wins, per spec.md §4.3's "either ... may
// be used; when both are present the non-zero one wins, else packet values".
func pickNonZero(packetVal, derivedVal float64) float64 {
	if packetVal != 0 {
		return packetVal
	}
	if derivedVal != 0 {
		return derivedVal
	}
	return packetVal
}

// latchButton advances one button's latch state for the current tick and
// returns whether the output bit should be asserted. A rising edge on the
// source asserts immediately and resets the release counter; while the
// source stays false, the counter counts ticks until it reaches
// latchTicks, at which point the bit releases — so a button held true for
// one tick and false afterward stays asserted for exactly latchTicks ticks.
func latchButton(latches Latches, name protocol.ButtonName, source bool, latchTicks int) bool {
	e := latches[name]
	if e == nil {
		e = &latchEntry{}
		latches[name] = e
	}

	if source {
		e.asserted = true
		e.falseTicks = 0
	} else if e.asserted {
		e.falseTicks++
		if e.falseTicks >= latchTicks {
			e.asserted = false
		}
	}

	return e.asserted
}
