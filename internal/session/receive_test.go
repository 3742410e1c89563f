package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"raknet-go/internal/clock"
	"raknet-go/pkg/raknet"
)

func TestSessionNacksGapThenDeliversAfterResend(t *testing.T) {
	clk := clock.NewFake()
	s := newTestSession(t, clk)

	// Datagrams 0,1,2,4..9 arrive; 3 is "lost" on the wire.
	for _, seq := range []uint32{0, 1, 2, 4, 5, 6, 7, 8, 9} {
		d := &raknet.Datagram{Sequence: seq, Frames: []*raknet.Frame{
			{Reliability: raknet.ReliableOrdered, ReliableIndex: seq, OrderIndex: seq, OrderChannel: 0, Payload: []byte{byte(seq)}},
		}}
		w := raknet.NewWriteStream()
		d.Encode(w)
		_, err := s.HandleDatagram(w.Bytes())
		require.NoError(t, err)
	}

	nackOut := s.flushNacks()
	require.NotNil(t, nackOut)

	r := raknet.NewStream(nackOut)
	flags, err := r.ReadByte()
	require.NoError(t, err)
	require.True(t, flags&raknet.FlagNack != 0)
	ranges, err := raknet.DecodeAckRecord(r)
	require.NoError(t, err)
	require.Equal(t, []raknet.Range{{Start: 3, End: 3}}, ranges)

	// The missing datagram now arrives.
	d3 := &raknet.Datagram{Sequence: 3, Frames: []*raknet.Frame{
		{Reliability: raknet.ReliableOrdered, ReliableIndex: 3, OrderIndex: 3, OrderChannel: 0, Payload: []byte{3}},
	}}
	w3 := raknet.NewWriteStream()
	d3.Encode(w3)
	delivered, err := s.HandleDatagram(w3.Bytes())
	require.NoError(t, err)
	require.Len(t, delivered, 7) // flushes 3,4,5,6,7,8,9

	require.Empty(t, s.flushNacks())
}

func TestSessionIdleTimeout(t *testing.T) {
	clk := clock.NewFake()
	s := newTestSession(t, clk)

	require.False(t, s.IdleTimedOut())
	clk.Advance(clock.DefaultTimers().SessionTimeout + time.Second)
	require.True(t, s.IdleTimedOut())
}

func TestSessionDedupDoesNotReinsertRecovery(t *testing.T) {
	clk := clock.NewFake()
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 1}
	s := New(Config{RemoteAddr: addr, PeerID: 1, MTU: 1400, Clock: clk, Timers: clock.DefaultTimers()})
	defer s.Close(ReasonExplicit)

	s.Submit([]byte("x"), raknet.Reliable, 0, raknet.Normal)
	out := s.Tick()
	require.Len(t, out.Datagrams, 1)
	before := s.recovery.Len()

	d := &raknet.Datagram{Sequence: 0, Frames: []*raknet.Frame{
		{Reliability: raknet.Reliable, ReliableIndex: 100, Payload: []byte("y")},
	}}
	w := raknet.NewWriteStream()
	d.Encode(w)
	s.HandleDatagram(w.Bytes())
	s.HandleDatagram(w.Bytes())

	require.Equal(t, before, s.recovery.Len())
}
