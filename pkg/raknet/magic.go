package raknet

import "bytes"

// Magic is the fixed 16-byte sentinel embedded in every offline packet,
// used to tell RakNet traffic apart from arbitrary UDP noise.
var Magic = [16]byte{
	0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe,
	0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78,
}

// MagicBytes returns Magic as a slice, for callers building up a buffer.
func MagicBytes() []byte {
	return Magic[:]
}

// VerifyMagic reports whether b starts with the RakNet magic sentinel.
func VerifyMagic(b []byte) bool {
	return len(b) >= len(Magic) && bytes.Equal(b[:len(Magic)], Magic[:])
}
