// Package gamepad defines the normalized controller state pushed to the
// sidecar and its fixed button bit layout.
package gamepad

import "wheelbridge/internal/protocol"

// Button bit positions within State.Buttons. Bit 12 (HB) resolves spec.md
// §9's open question in favor of a dedicated handbrake bit rather than
// stretching LT.
const (
	BitA uint16 = 1 << iota
	BitB
	BitX
	BitY
	BitLB
	BitRB
	BitStart
	BitBack
	BitDPadUp
	BitDPadDown
	BitDPadLeft
	BitDPadRight
	BitHB
)

// buttonBits maps each logical phone button to its output bit.
var buttonBits = map[protocol.ButtonName]uint16{
	protocol.ButtonA:         BitA,
	protocol.ButtonB:         BitB,
	protocol.ButtonX:         BitX,
	protocol.ButtonY:         BitY,
	protocol.ButtonLB:        BitLB,
	protocol.ButtonRB:        BitRB,
	protocol.ButtonStart:     BitStart,
	protocol.ButtonBack:      BitBack,
	protocol.ButtonHB:        BitHB,
	protocol.ButtonDPadUp:    BitDPadUp,
	protocol.ButtonDPadDown:  BitDPadDown,
	protocol.ButtonDPadLeft:  BitDPadLeft,
	protocol.ButtonDPadRight: BitDPadRight,
}

// BitFor returns the output bit for a logical button name, or 0 if unknown.
func BitFor(name protocol.ButtonName) uint16 {
	return buttonBits[name]
}

// State is the normalized GamepadState pushed to the sidecar: lx/ly in
// [-1,1], rt/lt in [0,255], and a 16-bit button mask using the bits above.
type State struct {
	LX, LY  float64
	RT, LT  uint8
	Buttons uint16
}

// Equal reports whether two states would produce the same sidecar push,
// using the dead-band thresholds from the bridge supervisor's change
// detection (axes by >=0.006, triggers by >=1 LSB, any button bit change).
func (s State) Equal(other State) bool {
	const axisEps = 0.006
	if absf(s.LX-other.LX) >= axisEps || absf(s.LY-other.LY) >= axisEps {
		return false
	}
	if s.RT != other.RT || s.LT != other.LT {
		return false
	}
	return s.Buttons == other.Buttons
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Neutral is the all-zero state pushed on disconnect/background/teardown.
var Neutral = State{}
