package lower

import (
	"nikand.dev/go/asmwasm"
)

type (
	// Encoder appends WebAssembly binary structures.
	Encoder struct {
		asmwasm.LowEncoder
	}
)

const (
	Magic   = "\x00asm"
	Version = "\x01\x00\x00\x00"
)

// Section ids.
const (
	SectionCustom = iota
	SectionType
	SectionImport
	SectionFunction
	SectionTable
	SectionMemory
	SectionGlobal
	SectionExport
	SectionStart
	SectionElement
	SectionCode
	SectionData
)

// Value types.
const (
	TypeI32 = 0x7f
	TypeI64 = 0x7e
	TypeF32 = 0x7d
	TypeF64 = 0x7c

	// BlockEmpty is the block type of a block without a result.
	BlockEmpty = 0x40
)

const (
	FuncTypeHeader = 0x60

	LimitLo   = 0x00
	LimitLoHi = 0x01

	GlobalConst = 0x00
	GlobalVar   = 0x01
)

// Import and export kinds.
const (
	KindFunc = iota
	KindTable
	KindMemory
	KindGlobal
)

const PageSize = 64 << 10

// ImportModule is the module name of imported functions.
const ImportModule = "env"

func ValueType(t asmwasm.ValueType) byte {
	switch t {
	case asmwasm.I32:
		return TypeI32
	case asmwasm.I64:
		return TypeI64
	case asmwasm.F32:
		return TypeF32
	case asmwasm.F64:
		return TypeF64
	}

	panic(t)
}

func (e *Encoder) Name(b []byte, v string) []byte {
	b = e.Int(b, len(v))
	b = append(b, v...)

	return b
}

func (e *Encoder) FuncType(b []byte, s *asmwasm.Signature) []byte {
	b = append(b, FuncTypeHeader)
	b = e.Int(b, len(s.Params))

	for _, p := range s.Params {
		b = append(b, ValueType(p))
	}

	if s.Return == asmwasm.Void {
		return e.Int(b, 0)
	}

	b = e.Int(b, 1)

	return append(b, ValueType(s.Return))
}

func (e *Encoder) Limits(b []byte, lo, hi int) []byte {
	if hi < 0 {
		b = append(b, LimitLo)
		return e.Int(b, lo)
	}

	b = append(b, LimitLoHi)
	b = e.Int(b, lo)
	b = e.Int(b, hi)

	return b
}

// ZeroConst appends a constant expression of type t with value zero.
func (e *Encoder) ZeroConst(b []byte, t asmwasm.ValueType) []byte {
	switch t {
	case asmwasm.I32:
		b = append(b, I32Const, 0)
	case asmwasm.I64:
		b = append(b, I64Const, 0)
	case asmwasm.F32:
		b = append(b, F32Const)
		b = e.U32(b, 0)
	case asmwasm.F64:
		b = append(b, F64Const)
		b = e.U64(b, 0)
	}

	return append(b, End)
}

func (e *Encoder) Section(b []byte, id byte, data []byte) []byte {
	b = append(b, id)
	b = e.Int(b, len(data))
	b = append(b, data...)

	return b
}

// Vec appends a vector of n already encoded elements.
func (e *Encoder) Vec(b []byte, n int, data []byte) []byte {
	b = e.Int(b, n)
	return append(b, data...)
}
