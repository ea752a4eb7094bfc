// Package protocol implements the phone<->host wire format: parsing and
// validating inbound UDP datagrams from the phone and serializing FFB
// replies sent back to it.
package protocol

// Signature is the only accepted value of InputPacket.Sig.
const Signature = "WHEEL1"

// ButtonName enumerates the 13 logical buttons the phone reports.
type ButtonName string

const (
	ButtonA         ButtonName = "A"
	ButtonB         ButtonName = "B"
	ButtonX         ButtonName = "X"
	ButtonY         ButtonName = "Y"
	ButtonLB        ButtonName = "LB"
	ButtonRB        ButtonName = "RB"
	ButtonStart     ButtonName = "Start"
	ButtonBack      ButtonName = "Back"
	ButtonHB        ButtonName = "HB"
	ButtonDPadUp    ButtonName = "DPadUp"
	ButtonDPadDown  ButtonName = "DPadDown"
	ButtonDPadLeft  ButtonName = "DPadLeft"
	ButtonDPadRight ButtonName = "DPadRight"
)

// AllButtons lists every logical button in a stable order, used to drive
// the InputTranslator's latch table.
var AllButtons = []ButtonName{
	ButtonA, ButtonB, ButtonX, ButtonY,
	ButtonLB, ButtonRB, ButtonStart, ButtonBack, ButtonHB,
	ButtonDPadUp, ButtonDPadDown, ButtonDPadLeft, ButtonDPadRight,
}

// Axes holds the phone-reported steering/pedal/stick telemetry.
type Axes struct {
	SteeringX *float64 `json:"steering_x,omitempty"`
	Throttle  float64  `json:"throttle"`
	Brake     float64  `json:"brake"`
	LatG      float64  `json:"latG"`
	LsX       float64  `json:"ls_x"`
	LsY       float64  `json:"ls_y"`
}

// Meta holds the informational/tuning fields the phone attaches to a
// telemetry frame.
type Meta struct {
	Hello        bool    `json:"hello,omitempty"`
	ScreenDeg    float64 `json:"screen_deg,omitempty"`
	TiltLockDeg  float64 `json:"tiltLockDeg,omitempty"`
	TiltDead     float64 `json:"tiltDead,omitempty"`
	InBackground bool    `json:"inbackground,omitempty"`
	Disconnect   bool    `json:"disconnect,omitempty"`
}

// wireInputPacket mirrors the phone's JSON payload exactly, so json.Unmarshal
// does the heavy lifting; InputPacket is the validated/normalized result.
type wireInputPacket struct {
	Sig     string              `json:"sig"`
	Seq     uint32              `json:"seq"`
	T       uint64              `json:"t"`
	Type    string              `json:"type"`
	Axis    Axes                `json:"axis"`
	Buttons map[ButtonName]bool `json:"buttons"`
	Meta    Meta                `json:"meta"`
}

// InputPacket is the validated, range-clamped telemetry frame consumed by
// the InputTranslator.
type InputPacket struct {
	Seq     uint32
	T       uint64
	Axis    Axes
	Buttons map[ButtonName]bool
	Meta    Meta
}

// Button returns whether the named button was reported true, defaulting to
// false for buttons the phone omitted.
func (p *InputPacket) Button(name ButtonName) bool {
	if p.Buttons == nil {
		return false
	}
	return p.Buttons[name]
}

// FeedbackState is the reply sent back to the phone on the same UDP flow.
type FeedbackState struct {
	Ack     uint32
	RumbleL float64
	RumbleR float64
	TrigL   float64
	TrigR   float64
	Impact  float64
	Center  bool
}

// wireFeedback is the compact JSON shape of a FeedbackState reply.
type wireFeedback struct {
	Ack     uint32  `json:"ack"`
	RumbleL float64 `json:"rumbleL"`
	RumbleR float64 `json:"rumbleR"`
	TrigL   float64 `json:"trigL,omitempty"`
	TrigR   float64 `json:"trigR,omitempty"`
	Impact  float64 `json:"impact,omitempty"`
	Center  bool    `json:"center,omitempty"`
}
