package raknet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamWriteRead(t *testing.T) {
	w := NewWriteStream()
	w.WriteByte(0x42)
	w.WriteUint16(1234)
	w.WriteUint24(0x0a0b0c)
	w.WriteUint32(567890)
	w.WriteInt64(-9001)
	w.WriteString("Hello World")
	w.WriteBool(true)
	w.WriteFloat32(3.5)

	r := NewStream(w.Bytes())

	b, err := r.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(0x42), b)

	u16, err := r.ReadUint16()
	require.NoError(t, err)
	require.EqualValues(t, 1234, u16)

	u24, err := r.ReadUint24()
	require.NoError(t, err)
	require.EqualValues(t, 0x0a0b0c, u24)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	require.EqualValues(t, 567890, u32)

	i64, err := r.ReadInt64()
	require.NoError(t, err)
	require.EqualValues(t, -9001, i64)

	str, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "Hello World", str)

	flag, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, flag)

	f, err := r.ReadFloat32()
	require.NoError(t, err)
	require.InDelta(t, 3.5, f, 0.0001)
}

func TestStreamShortBuffer(t *testing.T) {
	r := NewStream([]byte{0x01})
	_, err := r.ReadUint32()
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestMagicRoundTrip(t *testing.T) {
	w := NewWriteStream()
	w.WriteMagic()
	require.True(t, VerifyMagic(w.Bytes()))

	r := NewStream(w.Bytes())
	require.NoError(t, r.ReadMagic())
}

func TestMagicRejectsGarbage(t *testing.T) {
	require.False(t, VerifyMagic([]byte("not the raknet magic at all...")))
	r := NewStream([]byte("short"))
	require.Error(t, r.ReadMagic())
}

func TestAddressRoundTripIPv4(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 100), Port: 7777}

	w := NewWriteStream()
	w.WriteAddress(addr)
	require.Len(t, w.Bytes(), 7)

	r := NewStream(w.Bytes())
	got, err := r.ReadAddress()
	require.NoError(t, err)
	require.True(t, got.IP.Equal(addr.IP))
	require.Equal(t, addr.Port, got.Port)
}

func TestAddressRoundTripIPv6(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 19132}

	w := NewWriteStream()
	w.WriteAddress(addr)
	require.Len(t, w.Bytes(), 29)

	r := NewStream(w.Bytes())
	got, err := r.ReadAddress()
	require.NoError(t, err)
	require.True(t, got.IP.Equal(addr.IP))
	require.Equal(t, addr.Port, got.Port)
}
