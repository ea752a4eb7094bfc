package protocol

import (
	"encoding/json"
	"math"

	"wheelbridge/internal/telemetry"
)

// Kind discriminates the outcome of decoding one datagram.
type Kind int

const (
	// KindIgnore means the datagram carries no actionable state: malformed
	// JSON, wrong signature, a stale/duplicate seq, or a "finetune" frame.
	KindIgnore Kind = iota
	// KindHelloOrInput is a validated telemetry frame (hello or steady-state).
	KindHelloOrInput
	// KindDisconnect is an explicit phone-initiated teardown.
	KindDisconnect
	// KindBackground means the phone app has gone to the background.
	KindBackground
)

// Decoded is the result of decoding one datagram.
type Decoded struct {
	Kind   Kind
	Packet InputPacket // only valid when Kind == KindHelloOrInput
}

// Codec validates and decodes phone datagrams against a session's last
// accepted sequence number, and serializes FFB replies.
type Codec struct {
	counters *telemetry.Counters
}

// New creates a Codec. counters may be nil to disable accounting.
func New(counters *telemetry.Counters) *Codec {
	return &Codec{counters: counters}
}

// Decode validates a raw datagram against lastSeq, the last accepted
// sequence number for the active session, or -1 if there is no active
// session yet (in which case any seq establishes one).
func (c *Codec) Decode(raw []byte, lastSeq int64) Decoded {
	if len(raw) == 0 || raw[0] != '{' {
		c.incIgnored()
		return Decoded{Kind: KindIgnore}
	}

	var w wireInputPacket
	if err := json.Unmarshal(raw, &w); err != nil {
		c.incParseFailure()
		return Decoded{Kind: KindIgnore}
	}

	switch w.Type {
	case "disconnect":
		return Decoded{Kind: KindDisconnect}
	case "inbackground":
		return Decoded{Kind: KindBackground}
	case "finetune":
		c.incIgnored()
		return Decoded{Kind: KindIgnore}
	}

	if w.Sig != Signature {
		c.incSignatureMismatch()
		return Decoded{Kind: KindIgnore}
	}

	if int64(w.Seq) <= lastSeq {
		c.incSeqRegression()
		return Decoded{Kind: KindIgnore}
	}

	packet := InputPacket{
		Seq:     w.Seq,
		T:       w.T,
		Axis:    clampAxes(w.Axis),
		Buttons: w.Buttons,
		Meta:    w.Meta,
	}
	if packet.Meta.Disconnect {
		return Decoded{Kind: KindDisconnect}
	}
	if packet.Meta.InBackground {
		return Decoded{Kind: KindBackground, Packet: packet}
	}

	c.incAccepted()
	return Decoded{Kind: KindHelloOrInput, Packet: packet}
}

func clampAxes(a Axes) Axes {
	if a.SteeringX != nil {
		v := clamp(*a.SteeringX, -1, 1)
		a.SteeringX = &v
	}
	a.Throttle = clamp(a.Throttle, 0, 1)
	a.Brake = clamp(a.Brake, 0, 1)
	a.LsX = clamp(a.LsX, -1, 1)
	a.LsY = clamp(a.LsY, -1, 1)
	return a
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// round3 rounds to three decimal places, matching the reply's wire precision.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// EncodeReply serializes an FFB reply as one compact JSON line (no trailing
// newline; callers append the framing their transport needs — here, none,
// since UDP already frames one datagram per payload).
func (c *Codec) EncodeReply(fb FeedbackState) ([]byte, error) {
	w := wireFeedback{
		Ack:     fb.Ack,
		RumbleL: round3(fb.RumbleL),
		RumbleR: round3(fb.RumbleR),
		TrigL:   round3(fb.TrigL),
		TrigR:   round3(fb.TrigR),
		Impact:  round3(fb.Impact),
		Center:  fb.Center,
	}
	return json.Marshal(w)
}

func (c *Codec) incIgnored() {
	if c.counters != nil {
		c.counters.PacketsIgnored.Add(1)
	}
}

func (c *Codec) incParseFailure() {
	if c.counters != nil {
		c.counters.ParseFailures.Add(1)
		c.counters.PacketsIgnored.Add(1)
	}
}

func (c *Codec) incSignatureMismatch() {
	if c.counters != nil {
		c.counters.SignatureMismatch.Add(1)
		c.counters.PacketsIgnored.Add(1)
	}
}

func (c *Codec) incSeqRegression() {
	if c.counters != nil {
		c.counters.SeqRegressions.Add(1)
		c.counters.PacketsIgnored.Add(1)
	}
}

func (c *Codec) incAccepted() {
	if c.counters != nil {
		c.counters.PacketsAccepted.Add(1)
	}
}
