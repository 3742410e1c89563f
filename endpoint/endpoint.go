// Package endpoint owns the UDP socket, demultiplexes inbound
// datagrams to per-peer sessions by source address, and drives the
// periodic tick that services every session's scheduler. It holds no
// reliability state of its own (§4.1) — that all lives in
// internal/session and internal/offline.
package endpoint

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"raknet-go/internal/clock"
	"raknet-go/internal/offline"
	"raknet-go/internal/session"
	"raknet-go/pkg/logger"
	"raknet-go/pkg/metrics"
	"raknet-go/pkg/raknet"
)

// Callbacks are the application-visible events an Endpoint surfaces
// (§6) — not part of the transport's internal contract, but specified
// for completeness. Each runs synchronously on the packet-handling or
// tick goroutine and must not block.
type Callbacks struct {
	ConnectionCreated  func(peerID int64)
	ConnectionAccepted func(peerID int64)
	Disconnect         func(peerID int64, reason session.CloseReason)
	GamePacket         func(peerID int64, payload []byte)
}

// Config bundles an Endpoint's construction-time parameters, following
// the teacher's constructor-with-fields pattern
// (server.NewServer(host, port, maxPlayers)).
type Config struct {
	ListenAddr      string
	ServerID        uint64
	ProtocolVersion byte
	DefaultMTU      uint16

	Clock   clock.Clock
	Timers  clock.Timers
	Metrics *metrics.Registry

	Callbacks Callbacks

	// OfflineRatePerSecond and OfflineRateBurst bound how often a single
	// not-yet-connected remote address may push offline handshake
	// packets through the endpoint.
	OfflineRatePerSecond float64
	OfflineRateBurst     int
}

func (c *Config) setDefaults() {
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = raknet.ProtocolVersion
	}
	if c.DefaultMTU == 0 {
		c.DefaultMTU = raknet.MaxMTU
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if (c.Timers == clock.Timers{}) {
		c.Timers = clock.DefaultTimers()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Default()
	}
	if c.OfflineRatePerSecond == 0 {
		c.OfflineRatePerSecond = 20
	}
	if c.OfflineRateBurst == 0 {
		c.OfflineRateBurst = 10
	}
}

// Endpoint is the UDP socket owner and session demultiplexer.
type Endpoint struct {
	cfg       Config
	conn      *net.UDPConn
	responder *offline.Responder

	mu         sync.Mutex
	sessions   map[string]*session.Session
	limiters   map[string]*rate.Limiter
	nextPeerID int64
	running    bool
	stop       chan struct{}
}

// New builds an Endpoint. It does not bind the socket; call ListenAndServe.
func New(cfg Config) *Endpoint {
	cfg.setDefaults()
	return &Endpoint{
		cfg:       cfg,
		responder: offline.NewResponder(cfg.ServerID, cfg.ProtocolVersion),
		sessions:  make(map[string]*session.Session),
		limiters:  make(map[string]*rate.Limiter),
		stop:      make(chan struct{}),
	}
}

// NewWithBus builds an Endpoint whose callbacks fan out through bus,
// for hosts that want multiple independent subscribers per event
// rather than one callback function each.
func NewWithBus(cfg Config, bus *Bus) *Endpoint {
	cfg.Callbacks = callbacksFromBus(bus)
	return New(cfg)
}

// SendTo is a fire-and-forget UDP write; errors are logged and also
// returned, so it satisfies offline.Sender. The endpoint's own sends
// ignore the returned error.
func (e *Endpoint) SendTo(addr *net.UDPAddr, payload []byte) error {
	if e.conn == nil {
		return fmt.Errorf("endpoint: socket not bound")
	}
	if _, err := e.conn.WriteToUDP(payload, addr); err != nil {
		logger.Warn("endpoint: send to %s failed: %v", addr, err)
		return err
	}
	return nil
}

// ListenAndServe binds the UDP socket and blocks, dispatching inbound
// packets and running the tick loop, until Close is called.
func (e *Endpoint) ListenAndServe() error {
	addr, err := net.ResolveUDPAddr("udp", e.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("endpoint: resolve %q: %w", e.cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("endpoint: bind udp socket: %w", err)
	}
	e.conn = conn
	e.running = true

	go e.tickLoop()

	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.stop:
				return nil
			default:
			}
			logger.Warn("endpoint: read error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		e.cfg.Metrics.DatagramsReceived.Inc()
		e.cfg.Metrics.BytesReceived.Add(float64(n))
		go e.handlePacket(data, from)
	}
}

// Close stops the tick loop and closes the socket.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	close(e.stop)
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func (e *Endpoint) tickLoop() {
	ticker := e.cfg.Clock.NewTicker(e.cfg.Timers.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.Chan():
			e.tick()
		}
	}
}

func (e *Endpoint) tick() {
	e.mu.Lock()
	sessions := make([]*session.Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		if s.IdleTimedOut() {
			e.closeSession(s, session.ReasonIdleTimeout)
			continue
		}
		out := s.Tick()
		for _, datagram := range out.Datagrams {
			_ = e.SendTo(s.RemoteAddr, datagram)
		}
		if out.ClosedReason != nil {
			e.closeSession(s, *out.ClosedReason)
		}
	}
}

func (e *Endpoint) closeSession(s *session.Session, reason session.CloseReason) {
	s.Close(reason)
	e.mu.Lock()
	delete(e.sessions, s.RemoteAddr.String())
	e.mu.Unlock()
	if e.cfg.Callbacks.Disconnect != nil {
		e.cfg.Callbacks.Disconnect(s.PeerID, reason)
	}
}

func (e *Endpoint) handlePacket(data []byte, addr *net.UDPAddr) {
	key := addr.String()

	e.mu.Lock()
	sess, hasSession := e.sessions[key]
	e.mu.Unlock()

	if hasSession && sess.State() != session.StateClosed && raknet.IsDatagramFlagByte(data[0]) {
		e.handleOnlineDatagram(sess, data)
		return
	}

	if !raknet.IsOfflinePacketID(data[0]) {
		return
	}
	if !e.allowOffline(addr) {
		logger.Debug("endpoint: rate-limited offline packet from %s", addr)
		return
	}

	switch data[0] {
	case raknet.IDOpenConnectRequest:
		reply, err := e.responder.HandleOpenConnectRequest(data)
		if err != nil {
			logger.Debug("endpoint: malformed open connect request from %s: %v", addr, err)
			return
		}
		_ = e.SendTo(addr, reply)
	case raknet.IDSessionInfoRequest:
		outcome, err := e.responder.HandleSessionInfoRequest(data, addr)
		if err != nil {
			logger.Debug("endpoint: malformed session info request from %s: %v", addr, err)
			return
		}
		_ = e.SendTo(addr, outcome.Reply)
		e.createSession(addr, outcome.Request)
	case raknet.IDUnconnectedPing:
		// Discovery ping: out of scope for this transport's core (MOTD
		// formatting is an external collaborator); acknowledged as noise.
	}
}

func (e *Endpoint) allowOffline(addr *net.UDPAddr) bool {
	key := addr.IP.String()
	e.mu.Lock()
	limiter, ok := e.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(e.cfg.OfflineRatePerSecond), e.cfg.OfflineRateBurst)
		e.limiters[key] = limiter
	}
	e.mu.Unlock()
	return limiter.Allow()
}

func (e *Endpoint) createSession(addr *net.UDPAddr, req *raknet.SessionInfoRequest) *session.Session {
	e.mu.Lock()
	e.nextPeerID++
	peerID := e.nextPeerID
	s := session.New(session.Config{
		RemoteAddr:      addr,
		PeerID:          peerID,
		MTU:             req.MTU,
		ProtocolVersion: e.cfg.ProtocolVersion,
		Clock:           e.cfg.Clock,
		Timers:          e.cfg.Timers,
		Metrics:         e.cfg.Metrics,
	})
	e.sessions[addr.String()] = s
	e.mu.Unlock()

	if e.cfg.Callbacks.ConnectionCreated != nil {
		e.cfg.Callbacks.ConnectionCreated(peerID)
	}
	return s
}

func (e *Endpoint) handleOnlineDatagram(sess *session.Session, data []byte) {
	deliveries, err := sess.HandleDatagram(data)
	if err != nil {
		logger.Debug("endpoint: malformed datagram from %s: %v", sess.RemoteAddr, err)
		return
	}
	for _, d := range deliveries {
		e.routeDelivery(sess, d)
	}
}

func (e *Endpoint) routeDelivery(sess *session.Session, d session.Delivery) {
	if len(d.Payload) == 0 {
		return
	}
	if d.Channel == raknet.ControlChannel && d.Payload[0] < raknet.GamePacketThreshold {
		e.handleControlPacket(sess, d.Payload)
		return
	}
	if d.Payload[0] >= raknet.GamePacketThreshold && e.cfg.Callbacks.GamePacket != nil {
		e.cfg.Callbacks.GamePacket(sess.PeerID, d.Payload)
	}
}

func (e *Endpoint) handleControlPacket(sess *session.Session, payload []byte) {
	switch payload[0] {
	case raknet.IDConnectionRequest:
		accept, _, err := e.responder.HandleConnectionRequest(payload, sess.RemoteAddr, []*net.UDPAddr{sess.RemoteAddr}, e.cfg.Clock.Now().UnixMilli())
		if err != nil {
			logger.Debug("endpoint: malformed connection request from %s: %v", sess.RemoteAddr, err)
			return
		}
		sess.Submit(accept, raknet.ReliableOrdered, raknet.ControlChannel, raknet.Immediate)
	case raknet.IDNewIncomingConnection:
		sess.MarkConnected()
		if e.cfg.Callbacks.ConnectionAccepted != nil {
			e.cfg.Callbacks.ConnectionAccepted(sess.PeerID)
		}
	case raknet.IDDisconnectionNotification:
		e.closeSession(sess, session.ReasonExplicit)
	}
}

// Send submits payload to peerID's session for the next tick, if a
// session with that peer id is tracked (connecting or connected). It
// returns false if there is no such session.
func (e *Endpoint) Send(peerID int64, payload []byte, rel raknet.Reliability, channel byte, priority raknet.Priority) bool {
	e.mu.Lock()
	var target *session.Session
	for _, s := range e.sessions {
		if s.PeerID == peerID {
			target = s
			break
		}
	}
	e.mu.Unlock()
	if target == nil {
		return false
	}
	target.Submit(payload, rel, channel, priority)
	return true
}

// SessionCount returns the number of sessions currently tracked
// (connecting or connected).
func (e *Endpoint) SessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}
