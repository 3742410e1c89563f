package endpoint

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"raknet-go/internal/clock"
	"raknet-go/internal/session"
	"raknet-go/pkg/raknet"
)

// rawClient is a raw UDP socket aimed at an endpoint, used by
// completeHandshake to run the full offline + online handshake by hand
// so a test can then exercise the online path.
type rawClient struct {
	t    *testing.T
	conn *net.UDPConn
	addr *net.UDPAddr
}

func newRawClient(t *testing.T, server *net.UDPAddr) *rawClient {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, server)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &rawClient{t: t, conn: conn, addr: server}
}

func (c *rawClient) send(payload []byte) {
	_, err := c.conn.Write(payload)
	require.NoError(c.t, err)
}

func (c *rawClient) recv() []byte {
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := c.conn.Read(buf)
	require.NoError(c.t, err)
	return buf[:n]
}

// recvDataDatagram reads packets until it finds one carrying frames
// (not a pure ACK/NACK record), skipping any that arrive interleaved.
func (c *rawClient) recvDataDatagram() *raknet.Datagram {
	c.t.Helper()
	for i := 0; i < 10; i++ {
		raw := c.recv()
		if raw[0]&(raknet.FlagAck|raknet.FlagNack) != 0 {
			continue
		}
		r := raknet.NewStream(raw)
		if _, err := r.ReadByte(); err != nil {
			continue
		}
		d, err := raknet.DecodeDatagram(r)
		if err != nil || len(d.Frames) == 0 {
			continue
		}
		return d
	}
	c.t.Fatal("no data datagram received")
	return nil
}

func startTestEndpoint(t *testing.T, cb Callbacks) (*Endpoint, *net.UDPAddr) {
	t.Helper()
	ep := New(Config{
		ListenAddr: "127.0.0.1:0",
		ServerID:   1,
		Clock:      clock.Real(),
		Timers:     clock.DefaultTimers(),
		Callbacks:  cb,
	})

	ready := make(chan struct{})
	go func() {
		addr, err := net.ResolveUDPAddr("udp", ep.cfg.ListenAddr)
		require.NoError(t, err)
		conn, err := net.ListenUDP("udp", addr)
		require.NoError(t, err)
		ep.conn = conn
		ep.running = true
		close(ready)
		go ep.tickLoop()

		buf := make([]byte, 2048)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			go ep.handlePacket(data, from)
		}
	}()
	<-ready
	t.Cleanup(func() { ep.Close() })
	return ep, ep.conn.LocalAddr().(*net.UDPAddr)
}

func completeHandshake(t *testing.T, c *rawClient) {
	t.Helper()

	open := &raknet.OpenConnectRequest{ProtocolVersion: raknet.ProtocolVersion, MTUPadding: 100}
	c.send(open.Encode())
	reply, err := raknet.DecodeOpenConnectReply(c.recv())
	require.NoError(t, err)

	info := &raknet.SessionInfoRequest{ServerAddress: c.addr, MTU: 1400, ClientID: 7}
	c.send(info.Encode())
	infoReply, err := raknet.DecodeSessionInfoReply(c.recv())
	require.NoError(t, err)
	require.Equal(t, reply.ServerID, infoReply.ServerID)

	connReq := &raknet.ConnectionRequest{ClientID: 7, Timestamp: 1}
	d := &raknet.Datagram{Sequence: 0, Frames: []*raknet.Frame{{
		Reliability: raknet.ReliableOrdered, ReliableIndex: 0, OrderIndex: 0, OrderChannel: raknet.ControlChannel,
		Payload: connReq.Encode(),
	}}}
	w := raknet.NewWriteStream()
	d.Encode(w)
	c.send(w.Bytes())

	// The reply carries the ConnectionAccept control frame, possibly
	// interleaved with ACK/NACK-only datagrams for earlier sequences.
	ad := c.recvDataDatagram()
	require.Len(t, ad.Frames, 1)
	_, err = raknet.DecodeConnectionAccept(ad.Frames[0].Payload)
	require.NoError(t, err)

	newConn := &raknet.NewConnection{ServerAddress: c.addr, SystemAddress: c.addr, RequestTime: 1, Timestamp: 2}
	d2 := &raknet.Datagram{Sequence: 1, Frames: []*raknet.Frame{{
		Reliability: raknet.ReliableOrdered, ReliableIndex: 1, OrderIndex: 1, OrderChannel: raknet.ControlChannel,
		Payload: newConn.Encode(),
	}}}
	w2 := raknet.NewWriteStream()
	d2.Encode(w2)
	c.send(w2.Bytes())
}

func TestEndpointCompletesHandshakeAndFiresCallbacks(t *testing.T) {
	created := make(chan int64, 1)
	accepted := make(chan int64, 1)

	ep, addr := startTestEndpoint(t, Callbacks{
		ConnectionCreated:  func(id int64) { created <- id },
		ConnectionAccepted: func(id int64) { accepted <- id },
	})

	client := newRawClient(t, addr)
	completeHandshake(t, client)

	select {
	case <-created:
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectionCreated did not fire")
	}
	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectionAccepted did not fire")
	}
	require.Equal(t, 1, ep.SessionCount())
}

func TestEndpointDeliversGamePacket(t *testing.T) {
	gamePackets := make(chan []byte, 1)
	var peerID int64

	ep, addr := startTestEndpoint(t, Callbacks{
		ConnectionAccepted: func(id int64) { peerID = id },
		GamePacket:         func(_ int64, payload []byte) { gamePackets <- payload },
	})

	client := newRawClient(t, addr)
	completeHandshake(t, client)
	time.Sleep(50 * time.Millisecond) // let MarkConnected land before we address it by peer id

	game := []byte{raknet.GamePacketThreshold, 1, 2, 3}
	d := &raknet.Datagram{Sequence: 2, Frames: []*raknet.Frame{{
		Reliability: raknet.Reliable, ReliableIndex: 2, Payload: game,
	}}}
	w := raknet.NewWriteStream()
	d.Encode(w)
	client.send(w.Bytes())

	select {
	case got := <-gamePackets:
		require.Equal(t, game, got)
	case <-time.After(2 * time.Second):
		t.Fatal("GamePacket callback did not fire")
	}

	require.True(t, ep.Send(peerID, []byte{raknet.GamePacketThreshold, 9}, raknet.Reliable, 1, raknet.Normal))
}

func TestEndpointRateLimitsOfflineTraffic(t *testing.T) {
	ep, addr := startTestEndpoint(t, Callbacks{})
	ep.cfg.OfflineRatePerSecond = 2
	ep.cfg.OfflineRateBurst = 2

	client := newRawClient(t, addr)
	open := &raknet.OpenConnectRequest{ProtocolVersion: raknet.ProtocolVersion, MTUPadding: 100}
	for i := 0; i < 2; i++ {
		client.send(open.Encode())
		_, err := raknet.DecodeOpenConnectReply(client.recv())
		require.NoError(t, err)
	}

	client.send(open.Encode())
	client.conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 64)
	_, err := client.conn.Read(buf)
	require.Error(t, err, "third request within the burst window should be dropped")
}

func TestEndpointIdleSessionIsClosed(t *testing.T) {
	disconnects := make(chan session.CloseReason, 1)
	timers := clock.DefaultTimers()
	timers.SessionTimeout = 100 * time.Millisecond
	timers.Tick = 10 * time.Millisecond

	ep := New(Config{
		ListenAddr: "127.0.0.1:0",
		Clock:      clock.Real(),
		Timers:     timers,
		Callbacks: Callbacks{
			Disconnect: func(_ int64, reason session.CloseReason) { disconnects <- reason },
		},
	})
	addr, err := net.ResolveUDPAddr("udp", ep.cfg.ListenAddr)
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", addr)
	require.NoError(t, err)
	ep.conn = conn
	ep.running = true
	go ep.tickLoop()
	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			go ep.handlePacket(data, from)
		}
	}()
	t.Cleanup(func() { ep.Close() })

	client := newRawClient(t, conn.LocalAddr().(*net.UDPAddr))
	completeHandshake(t, client)

	select {
	case reason := <-disconnects:
		require.Equal(t, session.ReasonIdleTimeout, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("idle session was not closed")
	}
}
