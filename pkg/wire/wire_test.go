package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarint(t *testing.T) {
	assert := assert.New(t)

	cases := []uint64{0, 1, 127, 128, 300, 1<<32 - 1, 1<<64 - 1}
	for _, v := range cases {
		w := NewWriter()
		w.WriteUvarint(v)
		assert.LessOrEqual(len(w.Bytes()), 10)

		got, err := NewReader(w.Bytes()).ReadUvarint()
		assert.NoError(err)
		assert.Equal(v, got)
	}

	t.Run("MaxWidth", func(t *testing.T) {
		w := NewWriter()
		w.WriteUvarint(1<<64 - 1)
		assert.Equal(10, len(w.Bytes()))
	})

	t.Run("Overlong", func(t *testing.T) {
		// Eleven continuation bytes.
		buf := make([]byte, 11)
		for i := range buf {
			buf[i] = 0x80
		}
		_, err := NewReader(buf).ReadUvarint()
		assert.ErrorIs(err, ErrVarintOverflow)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := NewReader([]byte{0x80}).ReadUvarint()
		assert.ErrorIs(err, ErrUnexpectedEOF)
	})
}

func TestFixedWidth(t *testing.T) {
	assert := assert.New(t)

	w := NewWriter()
	w.WriteU8(0xAB)
	w.WriteU32LE(0xDEADBEEF)
	w.WriteU64LE(0x0102030405060708)
	w.WriteU64BE(0x0102030405060708)

	r := NewReader(w.Bytes())

	b, err := r.ReadU8()
	assert.NoError(err)
	assert.Equal(byte(0xAB), b)

	u32, err := r.ReadU32LE()
	assert.NoError(err)
	assert.Equal(uint32(0xDEADBEEF), u32)

	le, err := r.ReadU64LE()
	assert.NoError(err)
	assert.Equal(uint64(0x0102030405060708), le)

	be, err := r.ReadU64BE()
	assert.NoError(err)
	assert.Equal(uint64(0x0102030405060708), be)

	assert.Equal(0, r.Len())
	_, err = r.ReadU8()
	assert.ErrorIs(err, ErrUnexpectedEOF)
}

func TestReadFull(t *testing.T) {
	assert := assert.New(t)

	r := NewReader([]byte{1, 2, 3})
	b, err := r.ReadFull(2)
	assert.NoError(err)
	assert.Equal([]byte{1, 2}, b)

	_, err = r.ReadFull(2)
	assert.ErrorIs(err, ErrUnexpectedEOF)

	assert.Equal([]byte{3}, r.ReadRemaining())
	assert.Equal(0, r.Len())
}

func TestRecordRoundTrip(t *testing.T) {
	assert := assert.New(t)

	w := NewWriter()
	w.WriteVarintField(1, 42)
	w.WriteBytesField(2, []byte("payload"))
	w.WriteFixed64Field(3, 7)
	w.WriteFixed32Field(4, 9)
	w.WritePackedUint32Field(5, []uint32{100, 200, 300})

	r := NewReader(w.Bytes())

	rec, ok, err := r.ReadRecord()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(uint32(1), rec.Field)
	assert.NoError(rec.Expect(TypeVarint))
	assert.Equal(uint64(42), rec.Varint)

	rec, _, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(uint32(2), rec.Field)
	assert.Equal([]byte("payload"), rec.Bytes)

	rec, _, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(uint64(7), rec.Fixed64)

	rec, _, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(uint32(9), rec.Fixed32)

	rec, _, err = r.ReadRecord()
	require.NoError(t, err)
	vs, err := rec.PackedUint32()
	assert.NoError(err)
	assert.Equal([]uint32{100, 200, 300}, vs)

	_, ok, err = r.ReadRecord()
	assert.NoError(err)
	assert.False(ok)
}

func TestRecordDefaultsOmitted(t *testing.T) {
	assert := assert.New(t)

	w := NewWriter()
	w.WriteVarintField(1, 0)
	w.WriteBoolField(2, false)
	w.WriteBytesField(3, nil)
	w.WriteFixed64Field(4, 0)
	w.WritePackedUint32Field(5, nil)
	assert.Empty(w.Bytes())
}

func TestRecordBadWireType(t *testing.T) {
	// Field 1, wire type 7.
	_, _, err := NewReader([]byte{0x0F}).ReadRecord()
	assert.ErrorIs(t, err, ErrBadWireType)
}

func TestRecordGroupsAccepted(t *testing.T) {
	assert := assert.New(t)

	// SGROUP and EGROUP for field 1 carry no payload.
	r := NewReader([]byte{0x0B, 0x0C})
	rec, ok, err := r.ReadRecord()
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(TypeSGroup, rec.Type)

	rec, ok, err = r.ReadRecord()
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(TypeEGroup, rec.Type)
}

func TestRecordTruncatedLen(t *testing.T) {
	// Field 1 LEN claiming 5 bytes with only 2 present.
	_, _, err := NewReader([]byte{0x0A, 0x05, 0x01, 0x02}).ReadRecord()
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}
