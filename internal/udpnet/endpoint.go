// Package udpnet implements the UdpEndpoint: a bound, peer-pinning UDP
// socket with non-blocking recv/send, spec.md §4.1.
package udpnet

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"wheelbridge/internal/log"
	"wheelbridge/internal/telemetry"
)

// readBudget bounds a single non-blocking recv attempt so the session loop
// never stalls on the socket beyond its ~2ms I/O budget.
const readBudget = 1 * time.Millisecond

// Endpoint wraps a bound net.UDPConn with peer pinning: the first valid
// peer discovered by ProtocolCodec is pinned, and datagrams from any other
// address are dropped (and counted) for peerGrace before a new peer can be
// adopted. Pinning itself is driven by the caller's ConfirmPeer call once
// the codec has validated a packet — DrainAll only ever admits or rejects
// transport-level senders; it never decides validity.
type Endpoint struct {
	conn      *net.UDPConn
	peerGrace time.Duration
	logger    *slog.Logger
	raw       log.RawLogger
	counters  *telemetry.Counters

	pinned   *net.UDPAddr
	pinnedAt time.Time
}

// Bind opens a UDP socket on 0.0.0.0:port.
func Bind(port int, peerGrace time.Duration, logger *slog.Logger, raw log.RawLogger, counters *telemetry.Counters) (*Endpoint, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("udpnet: bind :%d: %w", port, err)
	}
	return &Endpoint{
		conn:      conn,
		peerGrace: peerGrace,
		logger:    logger,
		raw:       raw,
		counters:  counters,
	}, nil
}

// Close releases the underlying socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// Datagram is one accepted inbound payload plus the sender it came from.
type Datagram struct {
	Payload []byte
	Peer    *net.UDPAddr
}

// DrainAll performs a bounded, non-blocking read loop: it keeps recv'ing
// until the socket would block or the read budget is spent, applying
// transport-level admission as it goes. Payloads from a non-pinned peer
// within the grace window are dropped and counted, never returned; payloads
// that are admitted are handed to the caller unpinned — pinning only
// happens once the caller confirms the codec accepted one, via ConfirmPeer.
func (e *Endpoint) DrainAll(now time.Time) []Datagram {
	var out []Datagram
	deadline := time.Now().Add(readBudget)
	buf := make([]byte, 2048)

	for {
		if time.Now().After(deadline) {
			return out
		}
		if err := e.conn.SetReadDeadline(time.Now().Add(readBudget)); err != nil {
			return out
		}
		n, peer, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return out
			}
			return out
		}

		payload := append([]byte(nil), buf[:n]...)
		if e.raw != nil {
			e.raw.Log("udp", true, payload)
		}

		if !e.admit(peer, now) {
			if e.counters != nil {
				e.counters.PeerRejected.Add(1)
			}
			continue
		}

		out = append(out, Datagram{Payload: payload, Peer: peer})
	}
}

// admit implements transport-level gatekeeping only: while no peer is
// pinned, anyone may pass through so the codec gets a chance to validate
// them; once a peer is pinned, a different address is rejected until
// peerGrace elapses without a confirmed (codec-accepted) datagram from the
// pinned peer, per spec.md §4.1.
func (e *Endpoint) admit(peer *net.UDPAddr, now time.Time) bool {
	if e.pinned == nil {
		return true
	}
	if addrEqual(e.pinned, peer) {
		return true
	}
	return now.Sub(e.pinnedAt) >= e.peerGrace
}

// ConfirmPeer pins peer as the active session peer, or refreshes the grace
// window if it's already pinned. The caller (the session loop) calls this
// only after ProtocolCodec has validated a packet from peer — never for a
// datagram the codec ignored — so a chatty or malformed stray sender can
// never pin the port or keep an adopted session's grace window alive.
func (e *Endpoint) ConfirmPeer(peer *net.UDPAddr, now time.Time) {
	if e.pinned != nil && addrEqual(e.pinned, peer) {
		e.pinnedAt = now
		return
	}
	e.pin(peer, now)
}

func (e *Endpoint) pin(peer *net.UDPAddr, now time.Time) {
	e.pinned = peer
	e.pinnedAt = now
	if e.logger != nil {
		e.logger.Info("udp peer pinned", "peer", peer.String())
	}
}

// ReleasePeer unpins the current peer, allowing any new sender to be
// adopted immediately instead of waiting out the grace window. Called on
// session teardown (idle timeout or explicit disconnect).
func (e *Endpoint) ReleasePeer() {
	e.pinned = nil
}

// Send writes payload to peer. It does not retry on partial writes or
// transient errors; the protocol is loss-tolerant by design.
func (e *Endpoint) Send(payload []byte, peer *net.UDPAddr) error {
	if e.raw != nil {
		e.raw.Log("udp", false, payload)
	}
	_, err := e.conn.WriteToUDP(payload, peer)
	if err != nil && e.logger != nil {
		e.logger.Debug("udp send failed", "error", err)
	}
	return err
}

func addrEqual(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// LocalAddr reports the bound socket address, useful for log lines and exit
// diagnostics.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// IsBindFailure distinguishes a bind error (exit code 3, spec.md §6) from
// any other startup failure.
func IsBindFailure(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "listen"
}
