package asmwasm

import "math"

type (
	LowEncoder struct{}
)

func (e *LowEncoder) Int(b []byte, v int) []byte {
	return e.Uint64(b, uint64(v))
}

// Uint64 appends v in unsigned LEB128.
func (e *LowEncoder) Uint64(b []byte, v uint64) []byte {
	for {
		x := byte(v) & 0x7f
		v >>= 7

		if v != 0 {
			x |= 0x80
		}

		b = append(b, x)

		if x&0x80 == 0 {
			break
		}
	}

	return b
}

// Int64 appends v in signed LEB128.
func (e *LowEncoder) Int64(b []byte, v int64) []byte {
	for {
		x := byte(v) & 0x7f
		s := byte(v) & 0x40
		v >>= 7

		if s == 0 && v != 0 || s != 0 && v != -1 {
			x |= 0x80
		}

		b = append(b, x)

		if x&0x80 == 0 {
			break
		}
	}

	return b
}

func (e *LowEncoder) Bool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}

	return append(b, 0)
}

func (e *LowEncoder) U16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

func (e *LowEncoder) U32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (e *LowEncoder) U64(b []byte, v uint64) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func (e *LowEncoder) Float32(b []byte, v float32) []byte {
	return e.U32(b, math.Float32bits(v))
}

func (e *LowEncoder) Float64(b []byte, v float64) []byte {
	return e.U64(b, math.Float64bits(v))
}

// CString appends v followed by a NUL byte.
func (e *LowEncoder) CString(b []byte, v string) []byte {
	b = append(b, v...)
	return append(b, 0)
}

func (e *LowEncoder) Signature(b []byte, s *Signature) []byte {
	b = append(b, byte(len(s.Params)), byte(s.Return))

	for _, p := range s.Params {
		b = append(b, byte(p))
	}

	return b
}
