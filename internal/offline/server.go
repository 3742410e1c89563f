package offline

import (
	"fmt"
	"net"

	"raknet-go/pkg/logger"
	"raknet-go/pkg/raknet"
)

// Responder implements the symmetric server side of §4.2: it answers
// OpenConnectRequest from any address, accepting compatible protocol
// versions, and produces a SessionInfoReply once SessionInfoRequest
// arrives — at which point the caller (the Endpoint) owns the session's
// transition to online framing.
type Responder struct {
	serverID        uint64
	acceptedVersion byte
	security        bool
}

// NewResponder builds a Responder for one Endpoint, advertising
// serverID and accepting exactly acceptedVersion as the client protocol.
func NewResponder(serverID uint64, acceptedVersion byte) *Responder {
	return &Responder{serverID: serverID, acceptedVersion: acceptedVersion}
}

// HandleOpenConnectRequest decodes req and returns the wire bytes of
// either an OpenConnectReply or an IncompatibleProtocolVersion.
func (r *Responder) HandleOpenConnectRequest(payload []byte) ([]byte, error) {
	req, err := raknet.DecodeOpenConnectRequest(payload)
	if err != nil {
		return nil, fmt.Errorf("offline responder: decode open connect request: %w", err)
	}
	if req.ProtocolVersion != r.acceptedVersion {
		reply := &raknet.IncompatibleProtocolVersion{ServerProtocol: r.acceptedVersion, ServerID: r.serverID}
		logger.Debug("offline responder: rejecting protocol %d, we accept %d", req.ProtocolVersion, r.acceptedVersion)
		return reply.Encode(), nil
	}
	reply := &raknet.OpenConnectReply{ServerID: r.serverID, Security: r.security, MTU: req.MTUPadding}
	return reply.Encode(), nil
}

// SessionInfoOutcome is the decoded request plus the reply the caller
// should send back; the caller is responsible for creating the session
// record (the Endpoint keys it by remote address) once this succeeds.
type SessionInfoOutcome struct {
	Request *raknet.SessionInfoRequest
	Reply   []byte
}

// HandleSessionInfoRequest decodes req and builds the matching reply.
func (r *Responder) HandleSessionInfoRequest(payload []byte, clientAddr *net.UDPAddr) (*SessionInfoOutcome, error) {
	req, err := raknet.DecodeSessionInfoRequest(payload)
	if err != nil {
		return nil, fmt.Errorf("offline responder: decode session info request: %w", err)
	}
	reply := &raknet.SessionInfoReply{
		ServerID:      r.serverID,
		ClientAddress: clientAddr,
		MTU:           req.MTU,
		Security:      r.security,
	}
	return &SessionInfoOutcome{Request: req, Reply: reply.Encode()}, nil
}

// HandleConnectionRequest decodes the online ConnectionRequest control
// frame payload and builds the ConnectionAccept reply payload (still
// unframed — the caller wraps it in a reliable-ordered Frame/Datagram,
// since framing belongs to the session scheduler once online).
func (r *Responder) HandleConnectionRequest(payload []byte, clientAddr *net.UDPAddr, systemAddresses []*net.UDPAddr, now int64) ([]byte, *raknet.ConnectionRequest, error) {
	req, err := raknet.DecodeConnectionRequest(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("offline responder: decode connection request: %w", err)
	}
	accept := &raknet.ConnectionAccept{
		ClientAddress:   clientAddr,
		SystemAddresses: systemAddresses,
		RequestTime:     req.Timestamp,
		Timestamp:       now,
	}
	return accept.Encode(), req, nil
}
