package raknet

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortBuffer is returned by every Stream read once the buffer is
// exhausted before the requested field could be decoded.
var ErrShortBuffer = errors.New("raknet: buffer too short")

// Stream is a cursor over a byte buffer that reads and writes the
// big-endian integers, length-prefixed strings and RakNet addresses the
// wire format uses. 24-bit sequence/index fields are the one exception:
// RakNet encodes those little-endian, so ReadUint24/WriteUint24 are
// little-endian while every other fixed-width helper is big-endian.
type Stream struct {
	data   []byte
	offset int
}

// NewStream wraps an existing buffer for reading.
func NewStream(data []byte) *Stream {
	return &Stream{data: data}
}

// NewWriteStream returns an empty Stream ready for writing.
func NewWriteStream() *Stream {
	return &Stream{data: make([]byte, 0, 64)}
}

func (s *Stream) ReadByte() (byte, error) {
	if s.offset >= len(s.data) {
		return 0, ErrShortBuffer
	}
	b := s.data[s.offset]
	s.offset++
	return b, nil
}

func (s *Stream) ReadBytes(n int) ([]byte, error) {
	if n < 0 || s.offset+n > len(s.data) {
		return nil, ErrShortBuffer
	}
	out := s.data[s.offset : s.offset+n]
	s.offset += n
	return out, nil
}

func (s *Stream) ReadBool() (bool, error) {
	b, err := s.ReadByte()
	return b != 0, err
}

func (s *Stream) ReadUint16() (uint16, error) {
	b, err := s.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadUint24 decodes a 24-bit little-endian integer (datagram sequence
// numbers and reliable/ordering/sequencing indices).
func (s *Stream) ReadUint24() (uint32, error) {
	b, err := s.ReadBytes(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

func (s *Stream) ReadUint32() (uint32, error) {
	b, err := s.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (s *Stream) ReadInt64() (int64, error) {
	b, err := s.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (s *Stream) ReadUint64() (uint64, error) {
	b, err := s.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (s *Stream) ReadFloat32() (float32, error) {
	v, err := s.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (s *Stream) ReadString() (string, error) {
	n, err := s.ReadUint16()
	if err != nil {
		return "", err
	}
	b, err := s.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Stream) WriteByte(b byte) {
	s.data = append(s.data, b)
}

func (s *Stream) WriteBytes(b []byte) {
	s.data = append(s.data, b...)
}

func (s *Stream) WriteBool(v bool) {
	if v {
		s.WriteByte(1)
	} else {
		s.WriteByte(0)
	}
}

func (s *Stream) WriteUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	s.data = append(s.data, b[:]...)
}

// WriteUint24 encodes a 24-bit little-endian integer.
func (s *Stream) WriteUint24(v uint32) {
	s.data = append(s.data, byte(v), byte(v>>8), byte(v>>16))
}

func (s *Stream) WriteUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.data = append(s.data, b[:]...)
}

func (s *Stream) WriteInt64(v int64) {
	s.WriteUint64(uint64(v))
}

func (s *Stream) WriteUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	s.data = append(s.data, b[:]...)
}

func (s *Stream) WriteFloat32(f float32) {
	s.WriteUint32(math.Float32bits(f))
}

func (s *Stream) WriteString(str string) {
	s.WriteUint16(uint16(len(str)))
	s.data = append(s.data, str...)
}

func (s *Stream) WriteMagic() {
	s.WriteBytes(MagicBytes())
}

// ReadMagic consumes and verifies the 16-byte sentinel.
func (s *Stream) ReadMagic() error {
	b, err := s.ReadBytes(len(Magic))
	if err != nil {
		return err
	}
	if !VerifyMagic(b) {
		return errors.New("raknet: bad magic")
	}
	return nil
}

// Bytes returns the whole underlying buffer: everything written so far,
// or for a read stream the full buffer regardless of how much has been
// read (see Remaining).
func (s *Stream) Bytes() []byte {
	return s.data
}

func (s *Stream) Remaining() int {
	return len(s.data) - s.offset
}

func (s *Stream) Reset() {
	s.data = s.data[:0]
	s.offset = 0
}
