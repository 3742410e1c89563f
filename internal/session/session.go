// Package session implements per-peer online state: identity and MTU,
// RTT estimation, liveness timers, the reliable/ordering/sequencing
// queues, and the send scheduler that packs user payloads into MTU-
// bounded datagrams and retransmits them under RTO/NACK pressure.
package session

import (
	"net"
	"sync"
	"time"

	"raknet-go/internal/clock"
	"raknet-go/internal/queue"
	"raknet-go/pkg/logger"
	"raknet-go/pkg/metrics"
	"raknet-go/pkg/raknet"
)

// State is a session's online lifecycle, distinct from the offline
// handshake's Status — a Session only exists once the handshake has
// reached SessionOpen or later.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CloseReason identifies why a session was torn down, surfaced to the
// host application's Disconnect callback.
type CloseReason int

const (
	ReasonExplicit CloseReason = iota
	ReasonIdleTimeout
	ReasonReliableExhausted
	ReasonRecoveryMiss
	ReasonProtocolIncompatible
)

func (r CloseReason) String() string {
	switch r {
	case ReasonExplicit:
		return "explicit"
	case ReasonIdleTimeout:
		return "idle_timeout"
	case ReasonReliableExhausted:
		return "reliable_exhausted"
	case ReasonRecoveryMiss:
		return "recovery_miss"
	case ReasonProtocolIncompatible:
		return "protocol_incompatible"
	default:
		return "unknown"
	}
}

// channelState holds the per-channel send/receive indices and windows
// (§4.3: independent ordering and sequencing state per channel).
type channelState struct {
	nextOrderIndex uint32
	nextSeqIndex   uint32
	recvOrdered    *queue.OrderedQueue
	recvSequenced  *queue.SequencedQueue
}

func newChannelState() *channelState {
	return &channelState{
		recvOrdered:   queue.NewOrderedQueue(),
		recvSequenced: queue.NewSequencedQueue(),
	}
}

// outstanding is one reliable datagram awaiting ACK, recorded in the
// RecoveryQueue keyed by its own datagram sequence number.
type outstanding struct {
	frames  []*raknet.Frame
	sentAt  time.Time
	tries   int
}

// Session is the per-peer online record described in spec §3. All
// mutation goes through its own lock — the scheduler, receive path, and
// any keepalive/idle check may be invoked from different goroutines,
// including at the same time, and the lock serializes them.
type Session struct {
	mu sync.Mutex

	RemoteAddr      *net.UDPAddr
	PeerID          int64
	MTU             uint16
	ProtocolVersion byte

	clk     clock.Clock
	timers  clock.Timers
	metrics *metrics.Registry

	state         State
	lastReceived  time.Time
	lastSent      time.Time

	rtt time.Duration
	rto time.Duration

	nextReliableIndex uint32
	nextDatagramSeq   uint32
	nextCompoundID    uint16
	reliableSeen      *queue.DedupWindow
	datagramSeen      *queue.DedupWindow
	reassembler       *queue.Reassembler

	channels [raknet.MaxChannels]*channelState

	recovery *queue.RecoveryQueue[*outstanding]

	pendingAcks    map[uint32]struct{}
	pendingNacks   map[uint32]struct{}
	highestSeq     uint32
	haveHighestSeq bool
	nackedSeqs     []uint32

	sendQueues [3][]pendingSend // indexed by raknet.Priority

	outbox [][]byte // encoded datagrams/control records ready to flush

	closeReason CloseReason
}

type pendingSend struct {
	payload     []byte
	reliability raknet.Reliability
	channel     byte
}

// Config bundles the construction-time parameters a Session needs,
// following the teacher's constructor-with-fields pattern
// (server.NewServer(host, port, maxPlayers)) generalized to this
// domain's tunables.
type Config struct {
	RemoteAddr        *net.UDPAddr
	PeerID            int64
	MTU               uint16
	ProtocolVersion   byte
	Clock             clock.Clock
	Timers            clock.Timers
	Metrics           *metrics.Registry
	RecoveryCapacity  uint32
	DedupWindow       uint32
}

// New builds a Session in StateConnecting.
func New(cfg Config) *Session {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	s := &Session{
		RemoteAddr:      cfg.RemoteAddr,
		PeerID:          cfg.PeerID,
		MTU:             raknet.ClampMTU(int(cfg.MTU)),
		ProtocolVersion: cfg.ProtocolVersion,
		clk:             cfg.Clock,
		timers:          cfg.Timers,
		metrics:         cfg.Metrics,
		state:           StateConnecting,
		rto:             cfg.Timers.RTOMax,
		reliableSeen:    queue.NewDedupWindow(cfg.DedupWindow),
		datagramSeen:    queue.NewDedupWindow(cfg.DedupWindow),
		reassembler:     queue.NewReassembler(),
		recovery:        queue.NewRecoveryQueue[*outstanding](cfg.RecoveryCapacity),
		pendingAcks:     make(map[uint32]struct{}),
		pendingNacks:    make(map[uint32]struct{}),
	}
	for i := range s.channels {
		s.channels[i] = newChannelState()
	}
	now := cfg.Clock.Now()
	s.lastReceived = now
	s.lastSent = now
	return s
}

// MarkConnected transitions the session into StateConnected, called once
// the online ConnectionRequest/ConnectionAccept/NewConnection exchange
// completes.
func (s *Session) MarkConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateConnected
	s.metrics.SessionsActive.Inc()
	s.metrics.SessionsCreated.Inc()
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close transitions the session to StateClosed, idempotently.
func (s *Session) Close(reason CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	wasConnected := s.state == StateConnected
	s.state = StateClosed
	s.closeReason = reason
	s.reassembler.Close()
	if wasConnected {
		s.metrics.SessionsActive.Dec()
	}
	s.metrics.SessionsClosed.WithLabelValues(reason.String()).Inc()
	logger.Debug("session %d (%s): closed, reason=%s", s.PeerID, s.RemoteAddr, reason)
}

// CloseReason returns the reason the session was closed; only
// meaningful once State() reports StateClosed.
func (s *Session) CloseReason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// touchReceived records that a datagram just arrived, for idle timeout
// tracking.
func (s *Session) touchReceived() {
	s.lastReceived = s.clk.Now()
}

// IdleFor reports how long it has been since the last inbound traffic.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clk.Now().Sub(s.lastReceived)
}

// SinceLastSent reports how long it has been since the last outbound
// datagram, for keepalive scheduling.
func (s *Session) SinceLastSent() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clk.Now().Sub(s.lastSent)
}

// RTT returns the current smoothed round-trip estimate.
func (s *Session) RTT() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtt
}

// updateRTT applies the EWMA (alpha = 1/8) from spec §4.5 and
// recomputes the RTO, clamped to [RTOMin, RTOMax].
func (s *Session) updateRTT(sample time.Duration) {
	const alpha = 8 // 1/8
	if s.rtt == 0 {
		s.rtt = sample
	} else {
		s.rtt += (sample - s.rtt) / alpha
	}
	rto := 3 * s.rtt
	if rto < s.timers.RTOMin {
		rto = s.timers.RTOMin
	}
	if rto > s.timers.RTOMax {
		rto = s.timers.RTOMax
	}
	s.rto = rto
	s.metrics.RTT.Observe(sample.Seconds())
}
