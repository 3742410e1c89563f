package offline

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"raknet-go/internal/clock"
	"raknet-go/pkg/logger"
	"raknet-go/pkg/metrics"
	"raknet-go/pkg/raknet"
)

// Sender is the narrow outbound surface ClientHandshake and Responder
// need from whatever owns the UDP socket — satisfied by
// endpoint.Endpoint, but declared here to avoid an import cycle.
type Sender interface {
	SendTo(addr *net.UDPAddr, payload []byte) error
}

// ClientHandshake drives the client side of the offline handshake
// (spec §4.2) as a one-shot, pollable future: callers push inbound
// packets addressed to it via Deliver and block on Wait for the
// terminal Status.
//
// Each step resends its request on a fixed interval, bounded by a
// retry count, via cenkalti/backoff's WithMaxRetries — the backoff
// itself is a zero-interval ConstantBackOff because Deliver/the
// per-step channel wait already paces retries against
// Timers.HandshakeRetry; backoff here only enforces the attempt
// ceiling, not the spacing.
type ClientHandshake struct {
	addr       *net.UDPAddr
	serverAddr *net.UDPAddr
	protocol   byte
	mtu        uint16
	clientID   int64
	sender     Sender
	clk        clock.Clock
	timers     clock.Timers
	metrics    *metrics.Registry

	inbox chan []byte

	mu     sync.Mutex
	status Status
	done   chan struct{}
	result Result
}

// NewClientHandshake builds a ClientHandshake targeting serverAddr.
// localAddr is this client's own perceived address, echoed into the
// online NewConnection packet. A nil reg falls back to metrics.Default().
func NewClientHandshake(localAddr, serverAddr *net.UDPAddr, protocol byte, mtu uint16, clientID int64, sender Sender, clk clock.Clock, timers clock.Timers, reg *metrics.Registry) *ClientHandshake {
	if reg == nil {
		reg = metrics.Default()
	}
	return &ClientHandshake{
		addr:       localAddr,
		serverAddr: serverAddr,
		protocol:   protocol,
		mtu:        mtu,
		clientID:   clientID,
		sender:     sender,
		clk:        clk,
		timers:     timers,
		metrics:    reg,
		inbox:      make(chan []byte, 8),
		done:       make(chan struct{}),
	}
}

// Status returns the handshake's current status.
func (h *ClientHandshake) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Deliver feeds an inbound packet (offline packet or online datagram)
// addressed to this handshake. Safe to call from the endpoint's receive
// path concurrently with Start's goroutine.
func (h *ClientHandshake) Deliver(payload []byte) {
	select {
	case h.inbox <- payload:
	case <-h.done:
	}
}

// Wait blocks until the handshake resolves or ctx is done.
func (h *ClientHandshake) Wait(ctx context.Context) (Status, error) {
	select {
	case <-h.done:
		return h.result.Status, h.result.Err
	case <-ctx.Done():
		return Status(Opening), ctx.Err()
	}
}

// Start launches the handshake sequence in a goroutine. It returns
// immediately; observe completion via Wait.
func (h *ClientHandshake) Start(ctx context.Context) {
	go h.run(ctx)
}

func (h *ClientHandshake) setStatus(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

func (h *ClientHandshake) resolve(res Result) {
	h.setStatus(res.Status)
	h.mu.Lock()
	select {
	case <-h.done:
	default:
		h.result = res
		close(h.done)
		h.metrics.HandshakeAttempts.WithLabelValues(res.Status.String()).Inc()
	}
	h.mu.Unlock()
}

func (h *ClientHandshake) retryPolicy() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(0), h.timers.HandshakeMaxRetries)
}

// awaitReply blocks for up to Timers.HandshakeRetry waiting for a
// packet on the inbox, returning it or a timeout error to trigger the
// next backoff attempt.
func (h *ClientHandshake) awaitReply(ctx context.Context) ([]byte, error) {
	timer := h.clk.NewTimer(h.timers.HandshakeRetry)
	defer timer.Stop()
	select {
	case payload := <-h.inbox:
		return payload, nil
	case <-timer.Chan():
		return nil, fmt.Errorf("offline handshake: timed out waiting for reply")
	case <-ctx.Done():
		return nil, backoff.Permanent(ctx.Err())
	}
}

func (h *ClientHandshake) run(ctx context.Context) {
	h.setStatus(Opening)

	reply, err := h.openConnect(ctx)
	if err != nil {
		h.resolve(Result{Status: Failed, Err: fmt.Errorf("offline handshake: open connect: %w", err)})
		return
	}
	if reply.incompatible != nil {
		h.resolve(Result{Status: IncompatibleVersion, Err: fmt.Errorf("offline handshake: server supports protocol %d, we advertised %d", reply.incompatible.ServerProtocol, h.protocol)})
		return
	}

	h.setStatus(SessionOpen)
	sessionReply, err := h.sessionInfo(ctx)
	if err != nil {
		h.resolve(Result{Status: Failed, Err: fmt.Errorf("offline handshake: session info: %w", err)})
		return
	}
	if sessionReply.MTU != h.mtu {
		h.resolve(Result{Status: Failed, Err: fmt.Errorf("offline handshake: server negotiated mtu %d, requested %d", sessionReply.MTU, h.mtu)})
		return
	}

	if err := h.completeOnline(ctx, sessionReply.ServerID); err != nil {
		h.resolve(Result{Status: Failed, Err: fmt.Errorf("offline handshake: online exchange: %w", err)})
		return
	}

	h.resolve(Result{Status: Completed})
}

type openConnectOutcome struct {
	accepted     *raknet.OpenConnectReply
	incompatible *raknet.IncompatibleProtocolVersion
}

func (h *ClientHandshake) openConnect(ctx context.Context) (*openConnectOutcome, error) {
	var out *openConnectOutcome
	op := func() error {
		req := &raknet.OpenConnectRequest{ProtocolVersion: h.protocol, MTUPadding: h.mtu}
		if err := h.sender.SendTo(h.serverAddr, req.Encode()); err != nil {
			logger.Warn("offline handshake: open connect send failed: %v", err)
		}
		payload, err := h.awaitReply(ctx)
		if err != nil {
			return err
		}
		if len(payload) == 0 {
			return fmt.Errorf("empty reply")
		}
		switch payload[0] {
		case raknet.IDOpenConnectReply:
			reply, err := raknet.DecodeOpenConnectReply(payload)
			if err != nil {
				return err
			}
			out = &openConnectOutcome{accepted: reply}
			return nil
		case raknet.IDIncompatibleProtocolVersion:
			incompat, err := raknet.DecodeIncompatibleProtocolVersion(payload)
			if err != nil {
				return err
			}
			out = &openConnectOutcome{incompatible: incompat}
			return nil
		default:
			return fmt.Errorf("unexpected reply id 0x%02x", payload[0])
		}
	}
	if err := backoff.Retry(op, h.retryPolicy()); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *ClientHandshake) sessionInfo(ctx context.Context) (*raknet.SessionInfoReply, error) {
	var out *raknet.SessionInfoReply
	op := func() error {
		req := &raknet.SessionInfoRequest{ServerAddress: h.serverAddr, MTU: h.mtu, ClientID: h.clientID}
		if err := h.sender.SendTo(h.serverAddr, req.Encode()); err != nil {
			logger.Warn("offline handshake: session info send failed: %v", err)
		}
		payload, err := h.awaitReply(ctx)
		if err != nil {
			return err
		}
		if len(payload) == 0 || payload[0] != raknet.IDSessionInfoReply {
			return fmt.Errorf("expected session info reply")
		}
		reply, err := raknet.DecodeSessionInfoReply(payload)
		if err != nil {
			return err
		}
		out = reply
		return nil
	}
	if err := backoff.Retry(op, h.retryPolicy()); err != nil {
		return nil, err
	}
	return out, nil
}

// completeOnline sends the ConnectionRequest as a single reliable-
// ordered frame (the first online traffic this session emits) and waits
// for ConnectionAccept, then sends NewConnection. Datagram sequence and
// reliable index 0/1 are used directly since the full Scheduler hasn't
// taken over the session yet — that happens once Completed is reached.
func (h *ClientHandshake) completeOnline(ctx context.Context, serverID uint64) error {
	_ = serverID
	requestTime := h.clk.Now().UnixMilli()

	var accept *raknet.ConnectionAccept
	op := func() error {
		req := &raknet.ConnectionRequest{ClientID: h.clientID, Timestamp: requestTime}
		if err := h.sendControlFrame(0, 0, req.Encode()); err != nil {
			logger.Warn("offline handshake: connection request send failed: %v", err)
		}
		payload, err := h.awaitReply(ctx)
		if err != nil {
			return err
		}
		frame, err := h.decodeControlFrame(payload)
		if err != nil {
			return err
		}
		if len(frame) == 0 || frame[0] != raknet.IDConnectionRequestAccepted {
			return fmt.Errorf("expected connection request accepted")
		}
		got, err := raknet.DecodeConnectionAccept(frame)
		if err != nil {
			return err
		}
		accept = got
		return nil
	}
	if err := backoff.Retry(op, h.retryPolicy()); err != nil {
		return err
	}

	nc := &raknet.NewConnection{
		ServerAddress: h.serverAddr,
		SystemAddress: h.addr,
		RequestTime:   accept.RequestTime,
		Timestamp:     h.clk.Now().UnixMilli(),
	}
	if err := h.sendControlFrame(1, 1, nc.Encode()); err != nil {
		logger.Warn("offline handshake: new connection send failed: %v", err)
	}
	return nil
}

func (h *ClientHandshake) sendControlFrame(datagramSeq uint32, reliableIndex uint32, payload []byte) error {
	d := &raknet.Datagram{
		Sequence: datagramSeq,
		Frames: []*raknet.Frame{{
			Reliability:   raknet.ReliableOrdered,
			ReliableIndex: reliableIndex,
			OrderIndex:    datagramSeq,
			OrderChannel:  raknet.ControlChannel,
			Payload:       payload,
		}},
	}
	w := raknet.NewWriteStream()
	d.Encode(w)
	return h.sender.SendTo(h.serverAddr, w.Bytes())
}

// decodeControlFrame unwraps a raw online datagram and returns the
// payload of its first frame — sufficient for the bootstrap exchange,
// which never packs more than one control frame per datagram.
func (h *ClientHandshake) decodeControlFrame(raw []byte) ([]byte, error) {
	r := raknet.NewStream(raw)
	if _, err := r.ReadByte(); err != nil {
		return nil, err
	}
	d, err := raknet.DecodeDatagram(r)
	if err != nil {
		return nil, err
	}
	if len(d.Frames) == 0 {
		return nil, fmt.Errorf("datagram carried no frames")
	}
	return d.Frames[0].Payload, nil
}
