package raknet

import "net"

// ProtocolVersion is the RakNet wire protocol version this module
// advertises and accepts by default.
const ProtocolVersion = 11

// MTU bounds a negotiated datagram size must fall within (§3).
const (
	MinMTU = 576
	MaxMTU = 1500
)

// ClampMTU clamps mtu to [MinMTU, MaxMTU].
func ClampMTU(mtu int) uint16 {
	if mtu < MinMTU {
		return MinMTU
	}
	if mtu > MaxMTU {
		return MaxMTU
	}
	return uint16(mtu)
}

// OpenConnectRequest is the first packet a client sends to open a
// session (§4.2 step 1). The datagram carrying it is padded with zero
// bytes to MTUPadding total size so routers that would drop an
// oversized datagram reveal themselves by silence.
type OpenConnectRequest struct {
	ProtocolVersion byte
	MTUPadding      uint16
}

func (p *OpenConnectRequest) Encode() []byte {
	s := NewWriteStream()
	s.WriteByte(IDOpenConnectRequest)
	s.WriteMagic()
	s.WriteByte(p.ProtocolVersion)
	// Pad to MTUPadding total bytes so a router that can't forward a
	// datagram this large drops it silently instead of fragmenting it.
	if want := int(p.MTUPadding) - len(s.Bytes()); want > 0 {
		s.WriteBytes(make([]byte, want))
	}
	return s.Bytes()
}

func DecodeOpenConnectRequest(b []byte) (*OpenConnectRequest, error) {
	s := NewStream(b)
	if _, err := s.ReadByte(); err != nil {
		return nil, err
	}
	if err := s.ReadMagic(); err != nil {
		return nil, err
	}
	ver, err := s.ReadByte()
	if err != nil {
		return nil, err
	}
	return &OpenConnectRequest{ProtocolVersion: ver, MTUPadding: uint16(len(b))}, nil
}

// OpenConnectReply is sent in response to a compatible OpenConnectRequest.
type OpenConnectReply struct {
	ServerID uint64
	Security bool
	MTU      uint16
}

func (p *OpenConnectReply) Encode() []byte {
	s := NewWriteStream()
	s.WriteByte(IDOpenConnectReply)
	s.WriteMagic()
	s.WriteUint64(p.ServerID)
	s.WriteBool(p.Security)
	s.WriteUint16(p.MTU)
	return s.Bytes()
}

func DecodeOpenConnectReply(b []byte) (*OpenConnectReply, error) {
	s := NewStream(b)
	if _, err := s.ReadByte(); err != nil {
		return nil, err
	}
	if err := s.ReadMagic(); err != nil {
		return nil, err
	}
	p := &OpenConnectReply{}
	var err error
	if p.ServerID, err = s.ReadUint64(); err != nil {
		return nil, err
	}
	if p.Security, err = s.ReadBool(); err != nil {
		return nil, err
	}
	if p.MTU, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	return p, nil
}

// IncompatibleProtocolVersion is sent instead of OpenConnectReply when
// the server does not support the client's advertised protocol version.
type IncompatibleProtocolVersion struct {
	ServerProtocol byte
	ServerID       uint64
}

func (p *IncompatibleProtocolVersion) Encode() []byte {
	s := NewWriteStream()
	s.WriteByte(IDIncompatibleProtocolVersion)
	s.WriteByte(p.ServerProtocol)
	s.WriteMagic()
	s.WriteUint64(p.ServerID)
	return s.Bytes()
}

func DecodeIncompatibleProtocolVersion(b []byte) (*IncompatibleProtocolVersion, error) {
	s := NewStream(b)
	if _, err := s.ReadByte(); err != nil {
		return nil, err
	}
	p := &IncompatibleProtocolVersion{}
	var err error
	if p.ServerProtocol, err = s.ReadByte(); err != nil {
		return nil, err
	}
	if err := s.ReadMagic(); err != nil {
		return nil, err
	}
	if p.ServerID, err = s.ReadUint64(); err != nil {
		return nil, err
	}
	return p, nil
}

// SessionInfoRequest is sent once OpenConnectReply has been accepted
// (§4.2 step 3).
type SessionInfoRequest struct {
	ServerAddress *net.UDPAddr
	MTU           uint16
	ClientID      int64
}

func (p *SessionInfoRequest) Encode() []byte {
	s := NewWriteStream()
	s.WriteByte(IDSessionInfoRequest)
	s.WriteMagic()
	s.WriteAddress(p.ServerAddress)
	s.WriteUint16(p.MTU)
	s.WriteInt64(p.ClientID)
	return s.Bytes()
}

func DecodeSessionInfoRequest(b []byte) (*SessionInfoRequest, error) {
	s := NewStream(b)
	if _, err := s.ReadByte(); err != nil {
		return nil, err
	}
	if err := s.ReadMagic(); err != nil {
		return nil, err
	}
	p := &SessionInfoRequest{}
	var err error
	if p.ServerAddress, err = s.ReadAddress(); err != nil {
		return nil, err
	}
	if p.MTU, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if p.ClientID, err = s.ReadInt64(); err != nil {
		return nil, err
	}
	return p, nil
}

// SessionInfoReply completes the offline handshake (§4.2 step 3/4).
type SessionInfoReply struct {
	ServerID      uint64
	ClientAddress *net.UDPAddr
	MTU           uint16
	Security      bool
}

func (p *SessionInfoReply) Encode() []byte {
	s := NewWriteStream()
	s.WriteByte(IDSessionInfoReply)
	s.WriteMagic()
	s.WriteUint64(p.ServerID)
	s.WriteAddress(p.ClientAddress)
	s.WriteUint16(p.MTU)
	s.WriteBool(p.Security)
	return s.Bytes()
}

func DecodeSessionInfoReply(b []byte) (*SessionInfoReply, error) {
	s := NewStream(b)
	if _, err := s.ReadByte(); err != nil {
		return nil, err
	}
	if err := s.ReadMagic(); err != nil {
		return nil, err
	}
	p := &SessionInfoReply{}
	var err error
	if p.ServerID, err = s.ReadUint64(); err != nil {
		return nil, err
	}
	if p.ClientAddress, err = s.ReadAddress(); err != nil {
		return nil, err
	}
	if p.MTU, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if p.Security, err = s.ReadBool(); err != nil {
		return nil, err
	}
	return p, nil
}

// UnconnectedPing/Pong support server discovery independent of any
// session.
type UnconnectedPing struct {
	Timestamp int64
	ClientID  int64
}

func (p *UnconnectedPing) Encode() []byte {
	s := NewWriteStream()
	s.WriteByte(IDUnconnectedPing)
	s.WriteInt64(p.Timestamp)
	s.WriteMagic()
	s.WriteInt64(p.ClientID)
	return s.Bytes()
}

func DecodeUnconnectedPing(b []byte) (*UnconnectedPing, error) {
	s := NewStream(b)
	if _, err := s.ReadByte(); err != nil {
		return nil, err
	}
	p := &UnconnectedPing{}
	var err error
	if p.Timestamp, err = s.ReadInt64(); err != nil {
		return nil, err
	}
	if err := s.ReadMagic(); err != nil {
		return nil, err
	}
	if p.ClientID, err = s.ReadInt64(); err != nil {
		return nil, err
	}
	return p, nil
}

type UnconnectedPong struct {
	Timestamp int64
	ServerID  uint64
	MOTD      string
}

func (p *UnconnectedPong) Encode() []byte {
	s := NewWriteStream()
	s.WriteByte(IDUnconnectedPong)
	s.WriteInt64(p.Timestamp)
	s.WriteUint64(p.ServerID)
	s.WriteMagic()
	s.WriteString(p.MOTD)
	return s.Bytes()
}

func DecodeUnconnectedPong(b []byte) (*UnconnectedPong, error) {
	s := NewStream(b)
	if _, err := s.ReadByte(); err != nil {
		return nil, err
	}
	p := &UnconnectedPong{}
	var err error
	if p.Timestamp, err = s.ReadInt64(); err != nil {
		return nil, err
	}
	if p.ServerID, err = s.ReadUint64(); err != nil {
		return nil, err
	}
	if err := s.ReadMagic(); err != nil {
		return nil, err
	}
	if p.MOTD, err = s.ReadString(); err != nil {
		return nil, err
	}
	return p, nil
}

// Online control payloads (§4.2 step 4). These travel as a
// ReliableOrdered frame payload on ControlChannel, so their Encode
// includes the packet id byte but no magic (the session is already
// authenticated by virtue of being online).

type ConnectionRequest struct {
	ClientID  int64
	Timestamp int64
}

func (p *ConnectionRequest) Encode() []byte {
	s := NewWriteStream()
	s.WriteByte(IDConnectionRequest)
	s.WriteInt64(p.ClientID)
	s.WriteInt64(p.Timestamp)
	return s.Bytes()
}

func DecodeConnectionRequest(b []byte) (*ConnectionRequest, error) {
	s := NewStream(b)
	if _, err := s.ReadByte(); err != nil {
		return nil, err
	}
	p := &ConnectionRequest{}
	var err error
	if p.ClientID, err = s.ReadInt64(); err != nil {
		return nil, err
	}
	if p.Timestamp, err = s.ReadInt64(); err != nil {
		return nil, err
	}
	return p, nil
}

type ConnectionAccept struct {
	ClientAddress  *net.UDPAddr
	SystemAddresses []*net.UDPAddr
	RequestTime    int64
	Timestamp      int64
}

func (p *ConnectionAccept) Encode() []byte {
	s := NewWriteStream()
	s.WriteByte(IDConnectionRequestAccepted)
	s.WriteAddress(p.ClientAddress)
	s.WriteUint16(uint16(len(p.SystemAddresses)))
	for _, a := range p.SystemAddresses {
		s.WriteAddress(a)
	}
	s.WriteInt64(p.RequestTime)
	s.WriteInt64(p.Timestamp)
	return s.Bytes()
}

func DecodeConnectionAccept(b []byte) (*ConnectionAccept, error) {
	s := NewStream(b)
	if _, err := s.ReadByte(); err != nil {
		return nil, err
	}
	p := &ConnectionAccept{}
	var err error
	if p.ClientAddress, err = s.ReadAddress(); err != nil {
		return nil, err
	}
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	for i := uint16(0); i < n; i++ {
		a, err := s.ReadAddress()
		if err != nil {
			return nil, err
		}
		p.SystemAddresses = append(p.SystemAddresses, a)
	}
	if p.RequestTime, err = s.ReadInt64(); err != nil {
		return nil, err
	}
	if p.Timestamp, err = s.ReadInt64(); err != nil {
		return nil, err
	}
	return p, nil
}

type NewConnection struct {
	ServerAddress *net.UDPAddr
	SystemAddress *net.UDPAddr
	RequestTime   int64
	Timestamp     int64
}

func (p *NewConnection) Encode() []byte {
	s := NewWriteStream()
	s.WriteByte(IDNewIncomingConnection)
	s.WriteAddress(p.ServerAddress)
	s.WriteAddress(p.SystemAddress)
	s.WriteInt64(p.RequestTime)
	s.WriteInt64(p.Timestamp)
	return s.Bytes()
}

func DecodeNewConnection(b []byte) (*NewConnection, error) {
	s := NewStream(b)
	if _, err := s.ReadByte(); err != nil {
		return nil, err
	}
	p := &NewConnection{}
	var err error
	if p.ServerAddress, err = s.ReadAddress(); err != nil {
		return nil, err
	}
	if p.SystemAddress, err = s.ReadAddress(); err != nil {
		return nil, err
	}
	if p.RequestTime, err = s.ReadInt64(); err != nil {
		return nil, err
	}
	if p.Timestamp, err = s.ReadInt64(); err != nil {
		return nil, err
	}
	return p, nil
}
