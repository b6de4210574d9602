package ast

import (
	"fmt"

	"nikand.dev/go/asmwasm"
)

// Type is the static type the type checker assigned to an expression or variable.
type Type byte

const (
	None Type = iota

	Int
	Signed
	Unsigned
	Float
	Double

	Function
	Object
)

type VarKind byte

const (
	Local VarKind = iota
	Parameter
	Global
	FunctionVar
)

var typeNames = [...]string{
	None:     "none",
	Int:      "int",
	Signed:   "signed",
	Unsigned: "unsigned",
	Float:    "float",
	Double:   "double",
	Function: "function",
	Object:   "object",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}

	return fmt.Sprintf("type(%d)", int(t))
}

func (t Type) IsInt() bool { return t == Int || t == Signed || t == Unsigned }

func (t Type) IsNumber() bool { return t.IsInt() || t == Float || t == Double }

// ValueType is the register type values of t are kept in.
func (t Type) ValueType() asmwasm.ValueType {
	switch t {
	case Int, Signed, Unsigned:
		return asmwasm.I32
	case Float:
		return asmwasm.F32
	case Double:
		return asmwasm.F64
	}

	return asmwasm.Void
}

// MemType is the storage type of module level variables of type t.
func (t Type) MemType() (asmwasm.MemType, bool) {
	switch t {
	case Int, Signed:
		return asmwasm.Int32, true
	case Unsigned:
		return asmwasm.Uint32, true
	case Float:
		return asmwasm.Float32, true
	case Double:
		return asmwasm.Float64, true
	}

	return 0, false
}

func (k VarKind) String() string {
	switch k {
	case Local:
		return "local"
	case Parameter:
		return "parameter"
	case Global:
		return "global"
	case FunctionVar:
		return "function"
	}

	return fmt.Sprintf("kind(%d)", int(k))
}
