package tuple

import (
	"bytes"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPack(t *testing.T, tu Tuple) []byte {
	b, err := Pack(tu)
	require.NoError(t, err)
	return b
}

func TestRoundTrip(t *testing.T) {
	assert := assert.New(t)

	big300 := new(big.Int).Lsh(big.NewInt(1), 300)

	cases := []Tuple{
		{},
		{[]byte("raw")},
		{[]byte{}},
		{[]byte{0x00}},
		{[]byte{0x00, 0xFF, 0x00}},
		{"hello"},
		{"with\x00null"},
		{int64(0)},
		{int64(1)},
		{int64(-1)},
		{int64(255)},
		{int64(256)},
		{int64(math.MaxInt64)},
		{int64(math.MinInt64)},
		{big300},
		{new(big.Int).Neg(big300)},
		{3.14},
		{-3.14},
		{0.0},
		{true},
		{false},
		{[]byte("a"), "b", int64(42), 1.5, true},
	}
	for _, tc := range cases {
		enc := mustPack(t, tc)
		dec, err := Unpack(enc)
		require.NoError(t, err)
		require.Len(t, dec, len(tc))
		for i := range tc {
			switch want := tc[i].(type) {
			case *big.Int:
				got, ok := dec[i].(*big.Int)
				require.True(t, ok)
				assert.Zero(want.Cmp(got))
			default:
				assert.Equal(tc[i], dec[i])
			}
		}

		// Re-encoding the decoded tuple is the identity on the bytes.
		re, err := Pack(dec)
		require.NoError(t, err)
		assert.Equal(enc, re)
	}
}

func TestOrder(t *testing.T) {
	// Tuples listed in increasing type-aware order; the encodings must
	// compare the same way bytewise.
	ordered := []Tuple{
		{[]byte{}},
		{[]byte{0x00}},
		{[]byte{0x00, 0x00}},
		{[]byte{0x00, 0x01}},
		{[]byte{0x01}},
		{[]byte{0xFF}},
		{""},
		{"a"},
		{"a\x00b"},
		{"ab"},
		{"b"},
		{new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 100))},
		{int64(math.MinInt64)},
		{int64(-257)},
		{int64(-256)},
		{int64(-2)},
		{int64(-1)},
		{int64(0)},
		{int64(1)},
		{int64(2)},
		{int64(255)},
		{int64(256)},
		{int64(math.MaxInt64)},
		{new(big.Int).Lsh(big.NewInt(1), 100)},
		{math.Inf(-1)},
		{-math.MaxFloat64},
		{-1.5},
		{math.Copysign(0, -1)},
		{0.0},
		{1.5},
		{math.MaxFloat64},
		{math.Inf(1)},
		{math.NaN()},
		{false},
		{true},
	}

	encs := make([][]byte, len(ordered))
	for i, tu := range ordered {
		encs[i] = mustPack(t, tu)
	}
	for i := 1; i < len(encs); i++ {
		assert.Equal(t, -1, bytes.Compare(encs[i-1], encs[i]),
			"expected %v < %v", ordered[i-1], ordered[i])
	}
}

func TestFloatCanonicalNaN(t *testing.T) {
	assert := assert.New(t)

	// Any NaN payload collapses to the canonical pattern on encode.
	weird := math.Float64frombits(0x7FF0000000000001)
	a := mustPack(t, Tuple{weird})
	b := mustPack(t, Tuple{math.NaN()})
	assert.Equal(a, b)

	dec, err := Unpack(a)
	assert.NoError(err)
	f, ok := dec[0].(float64)
	assert.True(ok)
	assert.True(math.IsNaN(f))
}

func TestNegativeZero(t *testing.T) {
	neg := mustPack(t, Tuple{math.Copysign(0, -1)})
	pos := mustPack(t, Tuple{0.0})
	assert.Equal(t, -1, bytes.Compare(neg, pos))
}

func TestBigIntCap(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 256*8)
	_, err := Pack(Tuple{huge})
	assert.ErrorIs(t, err, ErrIntTooLarge)

	_, err = Pack(Tuple{new(big.Int).Neg(huge)})
	assert.ErrorIs(t, err, ErrIntTooLarge)
}

func TestUnsupportedPart(t *testing.T) {
	_, err := Pack(Tuple{struct{}{}})
	assert.ErrorIs(t, err, ErrBadPart)
}

func TestRangeMarkers(t *testing.T) {
	assert := assert.New(t)

	base := mustPack(t, Tuple{"a"})

	t.Run("After", func(t *testing.T) {
		tu, mode, err := UnpackRange(append(append([]byte{}, base...), 0x00))
		assert.NoError(err)
		assert.Equal(ModeAfter, mode)
		assert.Equal(Tuple{"a"}, tu)
	})

	t.Run("Before", func(t *testing.T) {
		tu, mode, err := UnpackRange(append(append([]byte{}, base...), 0xFF))
		assert.NoError(err)
		assert.Equal(ModeBefore, mode)
		assert.Equal(Tuple{"a"}, tu)
	})

	t.Run("TrailingGarbageIgnored", func(t *testing.T) {
		buf := append(append([]byte{}, base...), 0xFF, 0xAB, 0xCD)
		_, mode, err := UnpackRange(buf)
		assert.NoError(err)
		assert.Equal(ModeBefore, mode)
	})

	t.Run("Exact", func(t *testing.T) {
		tu, mode, err := UnpackRange(base)
		assert.NoError(err)
		assert.Equal(ModeExact, mode)
		assert.Equal(Tuple{"a"}, tu)
	})

	t.Run("RejectedWithoutAllowRange", func(t *testing.T) {
		_, err := Unpack(append(append([]byte{}, base...), 0x00))
		assert.ErrorIs(err, ErrTrailing)

		_, err = Unpack(append(append([]byte{}, base...), 0xFF))
		assert.ErrorIs(err, ErrBadTag)
	})

	t.Run("PackRange", func(t *testing.T) {
		b, err := PackRange(Tuple{"a"}, ModeAfter)
		assert.NoError(err)
		assert.Equal(byte(0x00), b[len(b)-1])

		b, err = PackRange(Tuple{"a"}, ModeBefore)
		assert.NoError(err)
		assert.Equal(byte(0xFF), b[len(b)-1])
	})
}

func TestMalformed(t *testing.T) {
	assert := assert.New(t)

	t.Run("UnterminatedRun", func(t *testing.T) {
		_, err := Unpack([]byte{tagBytes, 'a', 'b'})
		assert.ErrorIs(err, ErrUnterminated)

		// 0x00 0xFF is an escaped null, not a terminator.
		_, err = Unpack([]byte{tagBytes, 0x00, 0xFF})
		assert.ErrorIs(err, ErrUnterminated)
	})

	t.Run("TruncatedInt", func(t *testing.T) {
		_, err := Unpack([]byte{tagIntZero + 4, 0x01})
		assert.ErrorIs(err, ErrTruncated)
	})

	t.Run("TruncatedFloat", func(t *testing.T) {
		_, err := Unpack([]byte{tagFloat, 0x01, 0x02})
		assert.ErrorIs(err, ErrTruncated)
	})

	t.Run("BadTag", func(t *testing.T) {
		_, err := Unpack([]byte{0x99})
		assert.ErrorIs(err, ErrBadTag)
	})
}

// Promoting an "after" endpoint appends an empty byte part; the result is
// the smallest key strictly greater than every key with the prefix.
func TestAfterPromotion(t *testing.T) {
	assert := assert.New(t)

	prefix := mustPack(t, Tuple{"a"})
	promoted := mustPack(t, Tuple{"a", []byte{}})

	assert.Equal(1, bytes.Compare(promoted, prefix))

	child := mustPack(t, Tuple{"a", int64(1)})
	grandchild := mustPack(t, Tuple{"a", int64(1), int64(2)})
	assert.Equal(-1, bytes.Compare(promoted, child))
	assert.Equal(-1, bytes.Compare(promoted, grandchild))
}
