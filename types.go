package asmwasm

import (
	"fmt"
	"strings"

	"tlog.app/go/tlog/tlwire"
)

type (
	// ValueType is the type of a local, a parameter or an expression result.
	ValueType byte

	// MemType is the storage width and signedness of a value in memory or in the globals area.
	MemType byte

	Signature struct {
		Params []ValueType
		Return ValueType
	}

	LocalCounts struct {
		I32, I64, F32, F64 uint16
	}
)

// Value types.
const (
	Void ValueType = iota
	I32
	I64
	F32
	F64

	valueTypeNext
)

// Memory types.
const (
	Int8 MemType = iota
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64

	memTypeNext
)

func (t ValueType) Valid() bool { return t < valueTypeNext }

// Size is the width of the type in bytes. Void is 0.
func (t ValueType) Size() int {
	switch t {
	case I32, F32:
		return 4
	case I64, F64:
		return 8
	default:
		return 0
	}
}

func (t ValueType) String() string {
	switch t {
	case Void:
		return "void"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	}

	return fmt.Sprintf("valuetype(%d)", int(t))
}

func (t MemType) Valid() bool { return t < memTypeNext }

// Size is the natural width of the type, which is also its alignment.
func (t MemType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// ValueType is the type a loaded value is widened to.
func (t MemType) ValueType() ValueType {
	switch t {
	case Int8, Uint8, Int16, Uint16, Int32, Uint32:
		return I32
	case Int64, Uint64:
		return I64
	case Float32:
		return F32
	case Float64:
		return F64
	default:
		return Void
	}
}

func (t MemType) String() string {
	if t.Valid() {
		return memTypeNames[t]
	}

	return fmt.Sprintf("memtype(%d)", int(t))
}

var memTypeNames = [...]string{
	Int8:    "int8",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Int64:   "int64",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
}

func NewSignature(ret ValueType, params ...ValueType) *Signature {
	return &Signature{
		Params: append([]ValueType{}, params...),
		Return: ret,
	}
}

func (s *Signature) Equal(x *Signature) bool {
	if s == nil || x == nil {
		return s == x
	}

	if s.Return != x.Return || len(s.Params) != len(x.Params) {
		return false
	}

	for i, p := range s.Params {
		if x.Params[i] != p {
			return false
		}
	}

	return true
}

func (s *Signature) String() string {
	if s == nil {
		return "<nil>"
	}

	var b strings.Builder

	b.WriteByte('(')

	for i, p := range s.Params {
		if i != 0 {
			b.WriteString(", ")
		}

		b.WriteString(p.String())
	}

	b.WriteString(") -> ")
	b.WriteString(s.Return.String())

	return b.String()
}

func (s *Signature) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, s.String())
}

func (c LocalCounts) Total() int {
	return int(c.I32) + int(c.I64) + int(c.F32) + int(c.F64)
}

// Add increases the count of the given type by n.
func (c *LocalCounts) Add(t ValueType, n int) {
	switch t {
	case I32:
		c.I32 += uint16(n)
	case I64:
		c.I64 += uint16(n)
	case F32:
		c.F32 += uint16(n)
	case F64:
		c.F64 += uint16(n)
	}
}

// Count returns the number of locals of the given type.
func (c LocalCounts) Count(t ValueType) int {
	switch t {
	case I32:
		return int(c.I32)
	case I64:
		return int(c.I64)
	case F32:
		return int(c.F32)
	case F64:
		return int(c.F64)
	default:
		return 0
	}
}
