package raknet

import (
	"errors"
	"net"
)

// ErrUnsupportedAddressFamily is returned when decoding an address whose
// version tag is neither 4 nor 6.
var ErrUnsupportedAddressFamily = errors.New("raknet: unsupported address family")

// WriteAddress serializes a peer address on the wire. IPv4 addresses are
// 7 bytes (version tag, 4 address bytes bit-inverted, 2-byte port, big
// endian); IPv6 addresses are 29 bytes (version tag, address family,
// port, flow info, 16 address bytes, scope id).
func (s *Stream) WriteAddress(addr *net.UDPAddr) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		s.WriteByte(4)
		for _, b := range ip4 {
			s.WriteByte(^b)
		}
		s.WriteUint16(uint16(addr.Port))
		return
	}

	ip16 := addr.IP.To16()
	s.WriteByte(6)
	s.WriteUint16(uint16(23)) // sa_family, AF_INET6 on most BSD-derived stacks
	s.WriteUint16(uint16(addr.Port))
	s.WriteUint32(0) // flow info
	s.WriteBytes(ip16)
	s.WriteUint32(zoneToScopeID(addr.Zone))
}

// ReadAddress decodes a peer address in either wire form.
func (s *Stream) ReadAddress() (*net.UDPAddr, error) {
	version, err := s.ReadByte()
	if err != nil {
		return nil, err
	}

	switch version {
	case 4:
		raw, err := s.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		ip := make([]byte, 4)
		for i, b := range raw {
			ip[i] = ^b
		}
		port, err := s.ReadUint16()
		if err != nil {
			return nil, err
		}
		return &net.UDPAddr{IP: net.IPv4(ip[0], ip[1], ip[2], ip[3]), Port: int(port)}, nil
	case 6:
		if _, err := s.ReadUint16(); err != nil { // family
			return nil, err
		}
		port, err := s.ReadUint16()
		if err != nil {
			return nil, err
		}
		if _, err := s.ReadUint32(); err != nil { // flow info
			return nil, err
		}
		ip, err := s.ReadBytes(16)
		if err != nil {
			return nil, err
		}
		scope, err := s.ReadUint32()
		if err != nil {
			return nil, err
		}
		ipCopy := make(net.IP, 16)
		copy(ipCopy, ip)
		addr := &net.UDPAddr{IP: ipCopy, Port: int(port)}
		if scope != 0 {
			addr.Zone = scopeIDToZone(scope)
		}
		return addr, nil
	default:
		return nil, ErrUnsupportedAddressFamily
	}
}

// zoneToScopeID resolves a net.UDPAddr zone name to a numeric interface
// index, or 0 when there is none (the common case for non-link-local
// addresses, and for zones that don't name a live local interface).
func zoneToScopeID(zone string) uint32 {
	if zone == "" {
		return 0
	}
	if iface, err := net.InterfaceByName(zone); err == nil {
		return uint32(iface.Index)
	}
	return 0
}

func scopeIDToZone(id uint32) string {
	if iface, err := net.InterfaceByIndex(int(id)); err == nil {
		return iface.Name
	}
	return ""
}
