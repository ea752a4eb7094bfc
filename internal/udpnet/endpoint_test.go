package udpnet

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wheelbridge/internal/telemetry"
)

func mustClient(t *testing.T, server net.Addr) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, server.(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEndpoint_PinsFirstPeerAndRejectsOthers(t *testing.T) {
	counters := &telemetry.Counters{}
	ep, err := Bind(0, 50*time.Millisecond, nil, nil, counters)
	require.NoError(t, err)
	t.Cleanup(func() { ep.Close() })

	clientA := mustClient(t, ep.LocalAddr())
	clientB := mustClient(t, ep.LocalAddr())

	_, err = clientA.Write([]byte("from-a"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	now := time.Now()
	dgs := ep.DrainAll(now)
	require.Len(t, dgs, 1)
	require.Equal(t, "from-a", string(dgs[0].Payload))
	ep.ConfirmPeer(dgs[0].Peer, now) // simulate the codec validating A's packet

	_, err = clientB.Write([]byte("from-b"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	dgs = ep.DrainAll(now)
	require.Empty(t, dgs, "second peer rejected within grace window")
	require.Equal(t, int64(1), counters.PeerRejected.Load())
}

func TestEndpoint_AdoptsNewPeerAfterGraceExpires(t *testing.T) {
	counters := &telemetry.Counters{}
	ep, err := Bind(0, 10*time.Millisecond, nil, nil, counters)
	require.NoError(t, err)
	t.Cleanup(func() { ep.Close() })

	clientA := mustClient(t, ep.LocalAddr())
	clientB := mustClient(t, ep.LocalAddr())

	_, err = clientA.Write([]byte("from-a"))
	require.NoError(t, err)
	time.Sleep(15 * time.Millisecond)
	dgsA := ep.DrainAll(time.Now())
	require.Len(t, dgsA, 1)
	ep.ConfirmPeer(dgsA[0].Peer, time.Now())

	time.Sleep(20 * time.Millisecond) // exceed the 10ms grace with no further traffic from A

	_, err = clientB.Write([]byte("from-b"))
	require.NoError(t, err)
	time.Sleep(15 * time.Millisecond)

	dgs := ep.DrainAll(time.Now())
	require.Len(t, dgs, 1)
	require.Equal(t, "from-b", string(dgs[0].Payload))
}

func TestEndpoint_ReleasePeerAllowsImmediateReadoption(t *testing.T) {
	ep, err := Bind(0, time.Hour, nil, nil, &telemetry.Counters{})
	require.NoError(t, err)
	t.Cleanup(func() { ep.Close() })

	clientA := mustClient(t, ep.LocalAddr())
	clientB := mustClient(t, ep.LocalAddr())

	_, err = clientA.Write([]byte("from-a"))
	require.NoError(t, err)
	time.Sleep(15 * time.Millisecond)
	dgsA := ep.DrainAll(time.Now())
	require.Len(t, dgsA, 1)
	ep.ConfirmPeer(dgsA[0].Peer, time.Now())

	ep.ReleasePeer()

	_, err = clientB.Write([]byte("from-b"))
	require.NoError(t, err)
	time.Sleep(15 * time.Millisecond)

	dgs := ep.DrainAll(time.Now())
	require.Len(t, dgs, 1)
	require.Equal(t, "from-b", string(dgs[0].Payload))
}

func TestEndpoint_SendRoundTrip(t *testing.T) {
	ep, err := Bind(0, time.Hour, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ep.Close() })

	client := mustClient(t, ep.LocalAddr())
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)
	time.Sleep(15 * time.Millisecond)
	dgs := ep.DrainAll(time.Now())
	require.Len(t, dgs, 1)

	require.NoError(t, ep.Send([]byte("world"), dgs[0].Peer))

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "world", string(buf[:n]))
}
