package raknet

import "fmt"

// Frame is the unit of reliability/ordering carried inside a Datagram.
//
// Invariant: a Frame either fits entirely in one datagram, or is split
// into two or more fragments that share a CompoundID (Split == true on
// every fragment, SplitCount identical, SplitIndex 0..SplitCount-1 each
// appearing exactly once).
type Frame struct {
	Reliability Reliability

	// ReliableIndex is valid when Reliability.IsReliable().
	ReliableIndex uint32
	// OrderIndex is valid when Reliability.IsOrdered() or IsSequenced().
	OrderIndex uint32
	// OrderChannel selects one of MaxChannels independent per-peer
	// ordering/sequencing windows. Valid under the same conditions as
	// OrderIndex.
	OrderChannel uint8

	Split      bool
	CompoundID uint16
	SplitCount uint32
	SplitIndex uint32

	Payload []byte
}

const (
	flagFragmented = 0x10
	reliabilityMask = 0x07
)

// HeaderSize returns the number of bytes the frame's header occupies on
// the wire, not counting the payload itself.
func (f *Frame) HeaderSize() int {
	size := 3 // flags byte + 2-byte bit length
	if f.Reliability.IsReliable() {
		size += 3
	}
	if f.Reliability.IsOrdered() || f.Reliability.IsSequenced() {
		size += 4 // 3-byte index + 1-byte channel
	}
	if f.Split {
		size += 10 // 4-byte count + 2-byte compound id + 4-byte index
	}
	return size
}

// EncodedSize returns HeaderSize() plus the payload length.
func (f *Frame) EncodedSize() int {
	return f.HeaderSize() + len(f.Payload)
}

// Encode appends the wire encoding of f to s.
func (f *Frame) Encode(s *Stream) {
	flags := byte(f.Reliability) << 5
	if f.Split {
		flags |= flagFragmented
	}
	s.WriteByte(flags)
	s.WriteUint16(uint16(len(f.Payload) * 8))

	if f.Reliability.IsReliable() {
		s.WriteUint24(f.ReliableIndex)
	}
	if f.Reliability.IsOrdered() || f.Reliability.IsSequenced() {
		s.WriteUint24(f.OrderIndex)
		s.WriteByte(f.OrderChannel)
	}
	if f.Split {
		s.WriteUint32(f.SplitCount)
		s.WriteUint16(f.CompoundID)
		s.WriteUint32(f.SplitIndex)
	}
	s.WriteBytes(f.Payload)
}

// DecodeFrame reads one Frame from s.
func DecodeFrame(s *Stream) (*Frame, error) {
	flags, err := s.ReadByte()
	if err != nil {
		return nil, err
	}

	f := &Frame{
		Reliability: Reliability((flags >> 5) & reliabilityMask),
		Split:       flags&flagFragmented != 0,
	}

	bitLen, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	byteLen := int(bitLen+7) / 8

	if f.Reliability.IsReliable() {
		if f.ReliableIndex, err = s.ReadUint24(); err != nil {
			return nil, err
		}
	}
	if f.Reliability.IsOrdered() || f.Reliability.IsSequenced() {
		if f.OrderIndex, err = s.ReadUint24(); err != nil {
			return nil, err
		}
		if f.OrderChannel, err = s.ReadByte(); err != nil {
			return nil, err
		}
	}
	if f.Split {
		if f.SplitCount, err = s.ReadUint32(); err != nil {
			return nil, err
		}
		if f.CompoundID, err = s.ReadUint16(); err != nil {
			return nil, err
		}
		if f.SplitIndex, err = s.ReadUint32(); err != nil {
			return nil, err
		}
	}

	payload, err := s.ReadBytes(byteLen)
	if err != nil {
		return nil, fmt.Errorf("raknet: frame payload: %w", err)
	}
	f.Payload = append([]byte(nil), payload...)

	return f, nil
}

// SplitPayload divides payload into consecutive chunks of at most
// maxFragment bytes (the whole payload as one chunk if maxFragment is
// not positive). It returns raw chunks, not frames: compoundID is not
// used here, and the caller builds the fragment frames and their
// reliability/order metadata.
func SplitPayload(payload []byte, maxFragment int, compoundID uint16) [][]byte {
	if maxFragment <= 0 {
		return [][]byte{payload}
	}
	var out [][]byte
	for len(payload) > 0 {
		n := maxFragment
		if n > len(payload) {
			n = len(payload)
		}
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	return out
}
