package tempest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteBool(true)
	w.WriteUint8(0xAB)
	w.WriteInt16(-1234)
	w.WriteUint32(0xDEADBEEF)
	w.WriteInt64(-9876543210)
	w.WriteFloat64(3.14159)
	w.WriteString("hello tempest")
	w.WriteBytes([]byte{1, 2, 3, 4})
	w.WriteDecimal([4]uint32{1, 2, 3, 4})

	r := NewReader(w.Bytes())

	b, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)

	u8, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xAB), u8)

	i16, err := r.ReadInt16()
	require.NoError(t, err)
	assert.Equal(t, int16(-1234), i16)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)

	i64, err := r.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-9876543210), i64)

	f64, err := r.ReadFloat64()
	require.NoError(t, err)
	assert.InDelta(t, 3.14159, f64, 1e-9)

	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "hello tempest", s)

	bs, err := r.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, bs)

	dec, err := r.ReadDecimal()
	require.NoError(t, err)
	assert.Equal(t, [4]uint32{1, 2, 3, 4}, dec)

	assert.Equal(t, 0, r.Remaining())
}

func TestReaderUnderflow(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.ReadUint32()
	assert.ErrorIs(t, err, ErrBufferUnderflow)
}

func TestWriterPatchAt(t *testing.T) {
	w := NewWriter()
	offset := w.Len()
	w.WriteInt32(0)
	w.WriteString("payload")

	w.PatchAt(offset, []byte{9, 9, 9, 9})

	r := NewReader(w.Bytes())
	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x09090909), u32)
}

func TestWriterInsertBytesShiftsTail(t *testing.T) {
	w := NewWriter()
	w.WriteString("AAAA")
	w.WriteString("BBBB")

	w.InsertBytes(0, []byte{0xFF, 0xFF})

	got := w.Bytes()
	require.Len(t, got, 2+4+4+4+4)
	assert.Equal(t, []byte{0xFF, 0xFF}, got[:2])
}

func TestWriterWriteRawAppendsAtEnd(t *testing.T) {
	w := NewWriter()
	w.WriteString("prefix")
	before := w.Len()
	w.WriteRaw([]byte{1, 2, 3})
	assert.Equal(t, before+3, w.Len())
	assert.Equal(t, []byte{1, 2, 3}, w.Bytes()[before:])
}

func TestWriterGeometricGrowth(t *testing.T) {
	w := NewWriterSize(0)
	for i := 0; i < 1000; i++ {
		w.WriteUint8(byte(i))
	}
	assert.Equal(t, 1000, w.Len())
}
