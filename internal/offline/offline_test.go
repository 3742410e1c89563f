package offline

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"raknet-go/internal/clock"
	"raknet-go/pkg/raknet"
)

// loopback is a Sender that decodes what it's given and, when it looks
// like an offline request, hands a scripted reply back via the
// associated handshake's Deliver — simulating a server on the other end
// without spinning up a real Endpoint.
type loopback struct {
	t        *testing.T
	server   *Responder
	self     *net.UDPAddr
	peer     *net.UDPAddr
	handshake *ClientHandshake
	clk      clock.Clock
}

func (l *loopback) SendTo(addr *net.UDPAddr, payload []byte) error {
	require.NotEmpty(l.t, payload)
	switch {
	case raknet.IsOfflinePacketID(payload[0]) && payload[0] == raknet.IDOpenConnectRequest:
		reply, err := l.server.HandleOpenConnectRequest(payload)
		require.NoError(l.t, err)
		l.handshake.Deliver(reply)
	case payload[0] == raknet.IDSessionInfoRequest:
		outcome, err := l.server.HandleSessionInfoRequest(payload, l.self)
		require.NoError(l.t, err)
		l.handshake.Deliver(outcome.Reply)
	case raknet.IsDatagramFlagByte(payload[0]):
		l.handleOnline(payload)
	}
	return nil
}

func (l *loopback) handleOnline(raw []byte) {
	r := raknet.NewStream(raw)
	_, _ = r.ReadByte()
	d, err := raknet.DecodeDatagram(r)
	require.NoError(l.t, err)
	require.Len(l.t, d.Frames, 1)
	payload := d.Frames[0].Payload
	if len(payload) == 0 {
		return
	}
	switch payload[0] {
	case raknet.IDConnectionRequest:
		accept, _, err := l.server.HandleConnectionRequest(payload, l.self, []*net.UDPAddr{l.peer}, l.clk.Now().UnixMilli())
		require.NoError(l.t, err)
		reply := &raknet.Datagram{
			Sequence: 0,
			Frames: []*raknet.Frame{{
				Reliability:   raknet.ReliableOrdered,
				ReliableIndex: 0,
				OrderIndex:    0,
				OrderChannel:  raknet.ControlChannel,
				Payload:       accept,
			}},
		}
		w := raknet.NewWriteStream()
		reply.Encode(w)
		l.handshake.Deliver(w.Bytes())
	case raknet.IDNewIncomingConnection:
		// terminal — nothing to reply to.
	}
}

func newTestTimers() clock.Timers {
	timers := clock.DefaultTimers()
	timers.HandshakeRetry = 20 * time.Millisecond
	timers.HandshakeMaxRetries = 3
	return timers
}

func TestClientHandshakeHappyPath(t *testing.T) {
	self := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 7000}
	peer := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 19132}
	clk := clock.Real()

	responder := NewResponder(42, raknet.ProtocolVersion)
	lb := &loopback{t: t, server: responder, self: self, peer: peer, clk: clk}

	h := NewClientHandshake(self, peer, raknet.ProtocolVersion, 1400, 7, lb, clk, newTestTimers(), nil)
	lb.handshake = h

	h.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := h.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, Completed, status)
}

func TestClientHandshakeIncompatibleVersion(t *testing.T) {
	self := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 7000}
	peer := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 19132}
	clk := clock.Real()

	responder := NewResponder(42, raknet.ProtocolVersion+1) // server wants a different version
	lb := &loopback{t: t, server: responder, self: self, peer: peer, clk: clk}

	h := NewClientHandshake(self, peer, raknet.ProtocolVersion, 1400, 7, lb, clk, newTestTimers(), nil)
	lb.handshake = h
	h.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := h.Wait(ctx)
	require.Error(t, err)
	require.Equal(t, IncompatibleVersion, status)
}

func TestClientHandshakeTimesOutWithoutServer(t *testing.T) {
	self := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 7000}
	peer := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 19132}
	clk := clock.Real()

	h := NewClientHandshake(self, peer, raknet.ProtocolVersion, 1400, 7, silentSender{}, clk, newTestTimers(), nil)
	h.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := h.Wait(ctx)
	require.Error(t, err)
	require.Equal(t, Failed, status)
}

type silentSender struct{}

func (silentSender) SendTo(*net.UDPAddr, []byte) error { return nil }

func TestStatusTerminal(t *testing.T) {
	require.True(t, Completed.Terminal())
	require.True(t, Failed.Terminal())
	require.True(t, IncompatibleVersion.Terminal())
	require.False(t, Created.Terminal())
	require.False(t, Opening.Terminal())
	require.False(t, SessionOpen.Terminal())
}
