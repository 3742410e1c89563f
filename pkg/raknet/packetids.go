package raknet

// Offline packet ids (§6). These are the first byte of a datagram while
// the peer has not yet completed the handshake.
const (
	IDUnconnectedPing             byte = 0x01
	IDOpenConnectRequest          byte = 0x05
	IDOpenConnectReply            byte = 0x06
	IDSessionInfoRequest          byte = 0x07
	IDSessionInfoReply            byte = 0x08
	IDIncompatibleProtocolVersion byte = 0x19
	IDUnconnectedPong             byte = 0x1c
)

// Online control packet ids. These travel as the payload of a
// ReliableOrdered frame on ControlChannel once the session is online;
// they are below GamePacketThreshold and never reach the application's
// GamePacket callback.
const (
	IDConnectedPing             byte = 0x00
	IDConnectedPong             byte = 0x03
	IDConnectionRequest         byte = 0x09
	IDConnectionRequestAccepted byte = 0x10
	IDNewIncomingConnection     byte = 0x13
	IDDisconnectionNotification byte = 0x15
)

// IsOfflinePacketID reports whether id is one of the stateless,
// pre-session packet ids the offline FSM understands.
func IsOfflinePacketID(id byte) bool {
	switch id {
	case IDUnconnectedPing, IDOpenConnectRequest, IDOpenConnectReply,
		IDSessionInfoRequest, IDSessionInfoReply,
		IDIncompatibleProtocolVersion, IDUnconnectedPong:
		return true
	default:
		return false
	}
}

// IsDatagramFlagByte reports whether the first byte of an inbound UDP
// packet looks like an online datagram (valid bit set) rather than an
// offline packet id.
func IsDatagramFlagByte(first byte) bool {
	return first&FlagValid != 0
}
