package asmwasm

import "fmt"

type Opcode byte

// Statements and control.
const (
	Nop    Opcode = 0x00
	If     Opcode = 0x01
	IfThen Opcode = 0x02
	Block  Opcode = 0x03
	Loop   Opcode = 0x06
	Br     Opcode = 0x08
	Return Opcode = 0x09
)

// Expressions with immediates.
const (
	I32Const     Opcode = 0x11
	I64Const     Opcode = 0x12
	F64Const     Opcode = 0x13
	F32Const     Opcode = 0x14
	GetLocal     Opcode = 0x15
	SetLocal     Opcode = 0x16
	LoadGlobal   Opcode = 0x17
	StoreGlobal  Opcode = 0x18
	CallFunction Opcode = 0x19
	Ternary      Opcode = 0x1b
	Comma        Opcode = 0x1c

	LoadMem  Opcode = 0x20
	StoreMem Opcode = 0x21
)

// Simple operators. Operands follow the opcode, no immediates.
const (
	I32Add Opcode = 0x40 + iota
	I32Sub
	I32Mul
	I32DivS
	I32DivU
	I32RemS
	I32RemU
	I32And
	I32Ior
	I32Xor
	I32Shl
	I32ShrU
	I32ShrS
	I32Eq
	I32Ne
	I32LtS
	I32LeS
	I32LtU
	I32LeU
	I32GtS
	I32GeS
	I32GtU
	I32GeU
	BoolNot
)

const (
	I64Add Opcode = 0x5b + iota
	I64Sub
	I64Mul
	I64DivS
	I64DivU
	I64RemS
	I64RemU
	I64And
	I64Ior
	I64Xor
	I64Shl
	I64ShrU
	I64ShrS
	I64Eq
	I64Ne
	I64LtS
	I64LeS
	I64LtU
	I64LeU
	I64GtS
	I64GeS
	I64GtU
	I64GeU
)

const (
	F32Add Opcode = 0x75 + iota
	F32Sub
	F32Mul
	F32Div
	F32Min
	F32Max
	F32Abs
	F32Neg
	F32CopySign
	F32Ceil
	F32Floor
	F32Trunc
	F32NearestInt
	F32Sqrt
	F32Eq
	F32Ne
	F32Lt
	F32Le
	F32Gt
	F32Ge
)

const (
	F64Add Opcode = 0x89 + iota
	F64Sub
	F64Mul
	F64Div
	F64Min
	F64Max
	F64Abs
	F64Neg
	F64CopySign
	F64Ceil
	F64Floor
	F64Trunc
	F64NearestInt
	F64Sqrt
	F64Eq
	F64Ne
	F64Lt
	F64Le
	F64Gt
	F64Ge
)

// Conversions.
const (
	I32SConvertF32 Opcode = 0x9d + iota
	I32SConvertF64
	I32UConvertF32
	I32UConvertF64
	I32ConvertI64
	I64SConvertF32
	I64SConvertF64
	I64UConvertF32
	I64UConvertF64
	I64SConvertI32
	I64UConvertI32
	F32SConvertI32
	F32UConvertI32
	F32SConvertI64
	F32UConvertI64
	F32ConvertF64
	F32ReinterpretI32
	F64SConvertI32
	F64UConvertI32
	F64SConvertI64
	F64UConvertI64
	F64ConvertF32
	F64ReinterpretI64
	I32ReinterpretF32
	I64ReinterpretF64

	opcodeNext
)

var (
	simpleSigs [256]*Signature
	opNames    [256]string
)

func init() {
	if opcodeNext != 0xb6 {
		panic(opcodeNext)
	}

	var (
		i_ii = NewSignature(I32, I32, I32)
		i_i  = NewSignature(I32, I32)
		l_ll = NewSignature(I64, I64, I64)
		i_ll = NewSignature(I32, I64, I64)
		f_ff = NewSignature(F32, F32, F32)
		f_f  = NewSignature(F32, F32)
		i_ff = NewSignature(I32, F32, F32)
		d_dd = NewSignature(F64, F64, F64)
		d_d  = NewSignature(F64, F64)
		i_dd = NewSignature(I32, F64, F64)
	)

	set := func(sig *Signature, ops ...Opcode) {
		for _, op := range ops {
			simpleSigs[op] = sig
		}
	}

	set(i_ii, I32Add, I32Sub, I32Mul, I32DivS, I32DivU, I32RemS, I32RemU, I32And, I32Ior, I32Xor, I32Shl, I32ShrU, I32ShrS,
		I32Eq, I32Ne, I32LtS, I32LeS, I32LtU, I32LeU, I32GtS, I32GeS, I32GtU, I32GeU)
	set(i_i, BoolNot)

	set(l_ll, I64Add, I64Sub, I64Mul, I64DivS, I64DivU, I64RemS, I64RemU, I64And, I64Ior, I64Xor, I64Shl, I64ShrU, I64ShrS)
	set(i_ll, I64Eq, I64Ne, I64LtS, I64LeS, I64LtU, I64LeU, I64GtS, I64GeS, I64GtU, I64GeU)

	set(f_ff, F32Add, F32Sub, F32Mul, F32Div, F32Min, F32Max, F32CopySign)
	set(f_f, F32Abs, F32Neg, F32Ceil, F32Floor, F32Trunc, F32NearestInt, F32Sqrt)
	set(i_ff, F32Eq, F32Ne, F32Lt, F32Le, F32Gt, F32Ge)

	set(d_dd, F64Add, F64Sub, F64Mul, F64Div, F64Min, F64Max, F64CopySign)
	set(d_d, F64Abs, F64Neg, F64Ceil, F64Floor, F64Trunc, F64NearestInt, F64Sqrt)
	set(i_dd, F64Eq, F64Ne, F64Lt, F64Le, F64Gt, F64Ge)

	set(NewSignature(I32, F32), I32SConvertF32, I32UConvertF32, I32ReinterpretF32)
	set(NewSignature(I32, F64), I32SConvertF64, I32UConvertF64)
	set(NewSignature(I32, I64), I32ConvertI64)
	set(NewSignature(I64, F32), I64SConvertF32, I64UConvertF32)
	set(NewSignature(I64, F64), I64SConvertF64, I64UConvertF64, I64ReinterpretF64)
	set(NewSignature(I64, I32), I64SConvertI32, I64UConvertI32)
	set(NewSignature(F32, I32), F32SConvertI32, F32UConvertI32, F32ReinterpretI32)
	set(NewSignature(F32, I64), F32SConvertI64, F32UConvertI64)
	set(NewSignature(F32, F64), F32ConvertF64)
	set(NewSignature(F64, I32), F64SConvertI32, F64UConvertI32)
	set(NewSignature(F64, I64), F64SConvertI64, F64UConvertI64, F64ReinterpretI64)
	set(NewSignature(F64, F32), F64ConvertF32)

	names := map[Opcode]string{
		Nop: "Nop", If: "If", IfThen: "IfThen", Block: "Block", Loop: "Loop", Br: "Br", Return: "Return",

		I32Const: "I32Const", I64Const: "I64Const", F64Const: "F64Const", F32Const: "F32Const",
		GetLocal: "GetLocal", SetLocal: "SetLocal", LoadGlobal: "LoadGlobal", StoreGlobal: "StoreGlobal",
		CallFunction: "CallFunction", Ternary: "Ternary", Comma: "Comma",
		LoadMem: "LoadMem", StoreMem: "StoreMem",

		I32Add: "I32Add", I32Sub: "I32Sub", I32Mul: "I32Mul", I32DivS: "I32DivS", I32DivU: "I32DivU",
		I32RemS: "I32RemS", I32RemU: "I32RemU", I32And: "I32And", I32Ior: "I32Ior", I32Xor: "I32Xor",
		I32Shl: "I32Shl", I32ShrU: "I32ShrU", I32ShrS: "I32ShrS", I32Eq: "I32Eq", I32Ne: "I32Ne",
		I32LtS: "I32LtS", I32LeS: "I32LeS", I32LtU: "I32LtU", I32LeU: "I32LeU",
		I32GtS: "I32GtS", I32GeS: "I32GeS", I32GtU: "I32GtU", I32GeU: "I32GeU", BoolNot: "BoolNot",

		I64Add: "I64Add", I64Sub: "I64Sub", I64Mul: "I64Mul", I64DivS: "I64DivS", I64DivU: "I64DivU",
		I64RemS: "I64RemS", I64RemU: "I64RemU", I64And: "I64And", I64Ior: "I64Ior", I64Xor: "I64Xor",
		I64Shl: "I64Shl", I64ShrU: "I64ShrU", I64ShrS: "I64ShrS", I64Eq: "I64Eq", I64Ne: "I64Ne",
		I64LtS: "I64LtS", I64LeS: "I64LeS", I64LtU: "I64LtU", I64LeU: "I64LeU",
		I64GtS: "I64GtS", I64GeS: "I64GeS", I64GtU: "I64GtU", I64GeU: "I64GeU",

		F32Add: "F32Add", F32Sub: "F32Sub", F32Mul: "F32Mul", F32Div: "F32Div", F32Min: "F32Min", F32Max: "F32Max",
		F32Abs: "F32Abs", F32Neg: "F32Neg", F32CopySign: "F32CopySign", F32Ceil: "F32Ceil", F32Floor: "F32Floor",
		F32Trunc: "F32Trunc", F32NearestInt: "F32NearestInt", F32Sqrt: "F32Sqrt",
		F32Eq: "F32Eq", F32Ne: "F32Ne", F32Lt: "F32Lt", F32Le: "F32Le", F32Gt: "F32Gt", F32Ge: "F32Ge",

		F64Add: "F64Add", F64Sub: "F64Sub", F64Mul: "F64Mul", F64Div: "F64Div", F64Min: "F64Min", F64Max: "F64Max",
		F64Abs: "F64Abs", F64Neg: "F64Neg", F64CopySign: "F64CopySign", F64Ceil: "F64Ceil", F64Floor: "F64Floor",
		F64Trunc: "F64Trunc", F64NearestInt: "F64NearestInt", F64Sqrt: "F64Sqrt",
		F64Eq: "F64Eq", F64Ne: "F64Ne", F64Lt: "F64Lt", F64Le: "F64Le", F64Gt: "F64Gt", F64Ge: "F64Ge",

		I32SConvertF32: "I32SConvertF32", I32SConvertF64: "I32SConvertF64",
		I32UConvertF32: "I32UConvertF32", I32UConvertF64: "I32UConvertF64", I32ConvertI64: "I32ConvertI64",
		I64SConvertF32: "I64SConvertF32", I64SConvertF64: "I64SConvertF64",
		I64UConvertF32: "I64UConvertF32", I64UConvertF64: "I64UConvertF64",
		I64SConvertI32: "I64SConvertI32", I64UConvertI32: "I64UConvertI32",
		F32SConvertI32: "F32SConvertI32", F32UConvertI32: "F32UConvertI32",
		F32SConvertI64: "F32SConvertI64", F32UConvertI64: "F32UConvertI64",
		F32ConvertF64: "F32ConvertF64", F32ReinterpretI32: "F32ReinterpretI32",
		F64SConvertI32: "F64SConvertI32", F64UConvertI32: "F64UConvertI32",
		F64SConvertI64: "F64SConvertI64", F64UConvertI64: "F64UConvertI64",
		F64ConvertF32: "F64ConvertF32", F64ReinterpretI64: "F64ReinterpretI64",
		I32ReinterpretF32: "I32ReinterpretF32", I64ReinterpretF64: "I64ReinterpretF64",
	}

	for op, n := range names {
		opNames[op] = n
	}
}

// SimpleSignature returns the operand and result types of a simple operator,
// or nil if op takes immediates or is unknown.
func SimpleSignature(op Opcode) *Signature {
	return simpleSigs[op]
}

func (op Opcode) Known() bool {
	return opNames[op] != ""
}

func (op Opcode) String() string {
	if op.Known() {
		return opNames[op]
	}

	return fmt.Sprintf("%02x", int(op))
}
