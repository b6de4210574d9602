package asmwasm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLowEncoderDecoder(tb *testing.T) {
	var (
		b []byte
		e LowEncoder
		d LowDecoder
	)

	tb.Run("Reference", func(tb *testing.T) {
		b = e.Uint64(b[:0], 624485)
		assert.Equal(tb, []byte{0xe5, 0x8e, 0x26}, b)

		b = e.Int64(b[:0], -123456)
		assert.Equal(tb, []byte{0xc0, 0xbb, 0x78}, b)

		b = e.U32(b[:0], 0x12345678)
		assert.Equal(tb, []byte{0x78, 0x56, 0x34, 0x12}, b)

		b = e.U16(b[:0], 0x0102)
		assert.Equal(tb, []byte{0x02, 0x01}, b)
	})

	tb.Run("Unsigned", func(tb *testing.T) {
		for _, x := range []uint64{0, 1, 5, 100, 127, 128, 512, 624485, 123_456_789, math.MaxUint32, math.MaxUint64} {
			b = e.Uint64(b[:0], x)

			y, i, err := d.Uint64(b, 0)
			assert.NoError(tb, err)
			assert.Equal(tb, len(b), i)
			assert.Equal(tb, x, y)

			if tb.Failed() {
				tb.Logf("x: %v\nb: %x\ny: %v", x, b, y)
				break
			}
		}
	})

	tb.Run("Signed_pos", func(tb *testing.T) {
		for _, x := range []int64{0, 1, 5, 100, 127, 128, 512, 123456, 123_456_789, math.MaxInt64} {
			b = e.Int64(b[:0], x)

			y, i, err := d.Int64(b, 0)
			assert.NoError(tb, err)
			assert.Equal(tb, len(b), i)
			assert.Equal(tb, x, y)

			if tb.Failed() {
				tb.Logf("x: %v\nb: %x\ny: %v", x, b, y)
				break
			}
		}
	})

	tb.Run("Signed_neg", func(tb *testing.T) {
		for _, x := range []int64{-1, -5, -100, -127, -128, -512, -123456, -123_456_789, math.MinInt64} {
			b = e.Int64(b[:0], x)

			y, i, err := d.Int64(b, 0)
			assert.NoError(tb, err)
			assert.Equal(tb, len(b), i)
			assert.Equal(tb, x, y)

			if tb.Failed() {
				tb.Logf("x: %v\nb: %x\ny: %v", x, b, y)
				break
			}
		}
	})

	tb.Run("Fixed", func(tb *testing.T) {
		for _, x := range []uint64{0, 1, 0xff, 0x1234, 0xdeadbeef, 0x0102030405060708, math.MaxUint64} {
			b = e.U64(b[:0], x)
			require.Len(tb, b, 8)

			y, i, err := d.U64(b, 0)
			assert.NoError(tb, err)
			assert.Equal(tb, 8, i)
			assert.Equal(tb, x, y)

			b = e.U32(b[:0], uint32(x))

			y32, i, err := d.U32(b, 0)
			assert.NoError(tb, err)
			assert.Equal(tb, 4, i)
			assert.Equal(tb, uint32(x), y32)

			b = e.U16(b[:0], uint16(x))

			y16, i, err := d.U16(b, 0)
			assert.NoError(tb, err)
			assert.Equal(tb, 2, i)
			assert.Equal(tb, uint16(x), y16)

			if tb.Failed() {
				tb.Logf("x: %x\nb: %x", x, b)
				break
			}
		}
	})

	tb.Run("Float", func(tb *testing.T) {
		for _, x := range []float64{0, 1, -1, 100.123456, -100.123456, math.Inf(1)} {
			b = e.Float64(b[:0], x)

			y, i, err := d.U64(b, 0)
			assert.NoError(tb, err)
			assert.Equal(tb, len(b), i)
			assert.Equal(tb, x, math.Float64frombits(y))

			b = e.Float32(b[:0], float32(x))

			y32, i, err := d.U32(b, 0)
			assert.NoError(tb, err)
			assert.Equal(tb, len(b), i)
			assert.Equal(tb, float32(x), math.Float32frombits(y32))

			if tb.Failed() {
				tb.Logf("x: %v\nb: %x", x, b)
				break
			}
		}
	})

	tb.Run("CString", func(tb *testing.T) {
		b = e.CString(b[:0], "Hello, 世界")
		assert.Equal(tb, append([]byte("Hello, 世界"), 0), b)

		m := &Module{Image: append([]byte{0}, b...)}
		assert.Equal(tb, "Hello, 世界", m.Name(1))
		assert.Equal(tb, "", m.Name(0))
	})

	tb.Run("Signature", func(tb *testing.T) {
		var dd Decoder

		for _, x := range []*Signature{
			NewSignature(Void),
			NewSignature(I32, I32, I32),
			NewSignature(F64, I64, F32, F64),
		} {
			b = e.Signature(b[:0], x)
			assert.Len(tb, b, 2+len(x.Params))

			y := dd.Signature(b)
			assert.True(tb, x.Equal(y), "%v != %v", x, y)
		}

		assert.Nil(tb, dd.Signature([]byte{2, byte(I32), byte(I32)}))
		assert.Nil(tb, dd.Signature([]byte{1, byte(I32), byte(Void)}))
		assert.Nil(tb, dd.Signature([]byte{0, 17}))
	})

	tb.Run("Truncated", func(tb *testing.T) {
		_, _, err := d.U32([]byte{1, 2, 3}, 0)
		assert.ErrorIs(tb, err, ErrUnexpectedEOF)

		_, _, err = d.U64([]byte{1, 2, 3, 4, 5, 6, 7}, 0)
		assert.ErrorIs(tb, err, ErrUnexpectedEOF)

		_, i, err := d.Uint64([]byte{0x80, 0x80}, 0)
		assert.ErrorIs(tb, err, ErrUnexpectedEOF)
		assert.Equal(tb, 0, i)

		_, _, err = d.Uint64([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}, 0)
		assert.ErrorIs(tb, err, ErrOverflow)
	})
}
