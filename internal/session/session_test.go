package session

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wheelbridge/internal/audio"
	"wheelbridge/internal/clock"
	"wheelbridge/internal/config"
	"wheelbridge/internal/feedback"
	"wheelbridge/internal/gamepad"
	"wheelbridge/internal/log"
	"wheelbridge/internal/protocol"
	"wheelbridge/internal/sidecar"
	"wheelbridge/internal/telemetry"
	"wheelbridge/internal/translator"
	"wheelbridge/internal/udpnet"
)

type harness struct {
	loop   *Loop
	ep     *udpnet.Endpoint
	client *net.UDPConn
	clk    *clock.Fake
	tuning translator.Tuning
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	counters := &telemetry.Counters{}
	fake := clock.NewFake(time.Unix(1000, 0))

	ep, err := udpnet.Bind(0, 750*time.Millisecond, nil, nil, counters)
	require.NoError(t, err)
	t.Cleanup(func() { ep.Close() })

	client, err := net.DialUDP("udp", nil, ep.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))

	codec := protocol.New(counters)
	sv := sidecar.New("", sidecar.TargetX360, 90*time.Millisecond, nil, counters, fake)
	ing := audio.New("", nil, log.NewRaw(nil), counters)
	mixer := feedback.New(feedback.DefaultTuning())

	cfg := config.Config{UdpPort: 0, PeerGraceMs: 750, IdleTimeoutMs: 3000, TickHz: 60, KeepaliveMs: 90, LatchTicks: 3, Expo: 0.22, Deadzone: 0.06}
	loop := New(cfg, fake, nil, counters, ep, codec, sv, ing, mixer)

	tuning := translator.DefaultTuning(cfg.TickHz)
	return &harness{loop: loop, ep: ep, client: client, clk: fake, tuning: tuning}
}

func (h *harness) send(t *testing.T, payload string) {
	t.Helper()
	_, err := h.client.Write([]byte(payload))
	require.NoError(t, err)
	time.Sleep(15 * time.Millisecond)
}

func (h *harness) recvReply(t *testing.T) map[string]any {
	t.Helper()
	buf := make([]byte, 2048)
	n, err := h.client.Read(buf)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf[:n], &out))
	return out
}

func TestLoop_HelloEstablishesSessionAndCentersOnFirstReply(t *testing.T) {
	h := newHarness(t)
	h.send(t, `{"sig":"WHEEL1","seq":1,"axis":{"steering_x":0.0,"throttle":1.0,"brake":0.0},"buttons":{"A":true},"meta":{"hello":true}}`)

	h.loop.tick()

	reply := h.recvReply(t)
	require.Equal(t, float64(1), reply["ack"])
	require.Equal(t, true, reply["center"])
}

func TestLoop_ButtonLatchHoldsAcrossDroppedFrames(t *testing.T) {
	h := newHarness(t)
	h.send(t, `{"sig":"WHEEL1","seq":1,"axis":{"throttle":0,"brake":0},"buttons":{"A":true}}`)
	h.loop.tick()
	h.recvReply(t)

	require.NotZero(t, h.loop.staged.Buttons&gamepad.BitA)

	// A dropped frame: the next tick receives no datagram at all.
	h.loop.tick()
	h.recvReply(t)
	require.NotZero(t, h.loop.staged.Buttons&gamepad.BitA)
}

func TestLoop_DisconnectTearsDownSessionImmediately(t *testing.T) {
	h := newHarness(t)
	h.send(t, `{"sig":"WHEEL1","seq":1,"axis":{"throttle":0,"brake":0}}`)
	h.loop.tick()
	h.recvReply(t)
	require.NotNil(t, h.loop.sess)

	h.send(t, `{"type":"disconnect"}`)
	h.loop.tick()
	require.Nil(t, h.loop.sess)
}

func TestLoop_IdleTimeoutTearsDownSession(t *testing.T) {
	h := newHarness(t)
	h.send(t, `{"sig":"WHEEL1","seq":1,"axis":{"throttle":0,"brake":0}}`)
	h.loop.tick()
	h.recvReply(t)
	require.NotNil(t, h.loop.sess)

	h.clk.Advance(4 * time.Second)
	h.loop.tick()
	require.Nil(t, h.loop.sess)
}

func TestLoop_ReconfigureTakesEffectAtNextTick(t *testing.T) {
	h := newHarness(t)
	h.send(t, `{"sig":"WHEEL1","seq":1,"axis":{"steering_x":0.5,"throttle":0,"brake":0}}`)
	h.loop.tick()
	h.recvReply(t)
	before := h.loop.staged.LX

	expo := 0.9
	h.loop.Reconfigure(config.Patch{ExpoField: &expo})

	h.send(t, `{"sig":"WHEEL1","seq":2,"axis":{"steering_x":0.5,"throttle":0,"brake":0}}`)
	h.loop.tick()
	h.recvReply(t)

	require.NotEqual(t, before, h.loop.staged.LX, "a steeper expo curve should change the translated steering axis at a fixed input")
}

func TestLoop_BackgroundFreezesStateButKeepsSessionAlive(t *testing.T) {
	h := newHarness(t)
	h.send(t, `{"sig":"WHEEL1","seq":1,"axis":{"throttle":1,"brake":0},"buttons":{"A":true}}`)
	h.loop.tick()
	h.recvReply(t)

	h.send(t, `{"sig":"WHEEL1","seq":2,"axis":{"throttle":1,"brake":0},"meta":{"inbackground":true}}`)
	h.loop.tick()
	reply := h.recvReply(t)

	require.NotNil(t, h.loop.sess)
	require.True(t, h.loop.sess.background)
	require.Equal(t, float64(2), reply["ack"])
}
