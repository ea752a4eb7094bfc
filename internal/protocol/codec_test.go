package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheelbridge/internal/protocol"
	"wheelbridge/internal/telemetry"
)

func TestDecode_GarbageNotJSON(t *testing.T) {
	c := protocol.New(nil)
	d := c.Decode([]byte("not json"), -1)
	assert.Equal(t, protocol.KindIgnore, d.Kind)
}

func TestDecode_MalformedJSON(t *testing.T) {
	var counters telemetry.Counters
	c := protocol.New(&counters)
	d := c.Decode([]byte(`{"sig":"WHEEL1"`), -1)
	assert.Equal(t, protocol.KindIgnore, d.Kind)
	assert.Equal(t, int64(1), counters.ParseFailures.Load())
}

func TestDecode_SignatureMismatchDropped(t *testing.T) {
	c := protocol.New(nil)
	d := c.Decode([]byte(`{"sig":"NOPE","seq":1}`), -1)
	assert.Equal(t, protocol.KindIgnore, d.Kind)
}

func TestDecode_TypeDiscriminators(t *testing.T) {
	c := protocol.New(nil)

	d := c.Decode([]byte(`{"type":"disconnect"}`), 5)
	assert.Equal(t, protocol.KindDisconnect, d.Kind)

	d = c.Decode([]byte(`{"type":"inbackground"}`), 5)
	assert.Equal(t, protocol.KindBackground, d.Kind)

	d = c.Decode([]byte(`{"type":"finetune","sig":"WHEEL1","seq":6}`), 5)
	assert.Equal(t, protocol.KindIgnore, d.Kind)
}

func TestDecode_SeqMustIncrease(t *testing.T) {
	c := protocol.New(nil)

	d := c.Decode([]byte(`{"sig":"WHEEL1","seq":5}`), 5)
	assert.Equal(t, protocol.KindIgnore, d.Kind, "equal seq is a duplicate")

	d = c.Decode([]byte(`{"sig":"WHEEL1","seq":4}`), 5)
	assert.Equal(t, protocol.KindIgnore, d.Kind, "older seq is late")

	d = c.Decode([]byte(`{"sig":"WHEEL1","seq":6}`), 5)
	assert.Equal(t, protocol.KindHelloOrInput, d.Kind)
	assert.Equal(t, uint32(6), d.Packet.Seq)
}

func TestDecode_NoActiveSessionAcceptsAnySeq(t *testing.T) {
	c := protocol.New(nil)
	d := c.Decode([]byte(`{"sig":"WHEEL1","seq":1,"meta":{"hello":true}}`), -1)
	require.Equal(t, protocol.KindHelloOrInput, d.Kind)
	assert.True(t, d.Packet.Meta.Hello)
}

func TestDecode_AxesClamped(t *testing.T) {
	c := protocol.New(nil)
	d := c.Decode([]byte(`{"sig":"WHEEL1","seq":1,"axis":{"throttle":5,"brake":-2,"ls_x":9,"ls_y":-9}}`), -1)
	require.Equal(t, protocol.KindHelloOrInput, d.Kind)
	assert.Equal(t, 1.0, d.Packet.Axis.Throttle)
	assert.Equal(t, 0.0, d.Packet.Axis.Brake)
	assert.Equal(t, 1.0, d.Packet.Axis.LsX)
	assert.Equal(t, -1.0, d.Packet.Axis.LsY)
}

func TestDecode_ButtonDefaultsFalse(t *testing.T) {
	c := protocol.New(nil)
	d := c.Decode([]byte(`{"sig":"WHEEL1","seq":1,"buttons":{"A":true}}`), -1)
	require.Equal(t, protocol.KindHelloOrInput, d.Kind)
	assert.True(t, d.Packet.Button(protocol.ButtonA))
	assert.False(t, d.Packet.Button(protocol.ButtonB))
}

func TestDecode_InBackgroundMetaFlagAlsoRecognized(t *testing.T) {
	c := protocol.New(nil)
	d := c.Decode([]byte(`{"sig":"WHEEL1","seq":2,"meta":{"inbackground":true}}`), 1)
	assert.Equal(t, protocol.KindBackground, d.Kind)
}

func TestEncodeReply_RoundsToThreeDecimals(t *testing.T) {
	c := protocol.New(nil)
	out, err := c.EncodeReply(protocol.FeedbackState{Ack: 7, RumbleL: 0.123456, RumbleR: 0.5, Center: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ack":7,"rumbleL":0.123,"rumbleR":0.5,"center":true}`, string(out))
}
