package ast

import "fmt"

type Token byte

const (
	Illegal Token = iota

	Comma

	Assign
	AssignAdd
	AssignSub
	AssignMul
	AssignDiv
	AssignMod
	AssignBitOr
	AssignBitAnd
	AssignBitXor
	AssignShl
	AssignSar
	AssignShr

	Add
	Sub
	Mul
	Div
	Mod
	BitOr
	BitAnd
	BitXor
	Shl
	Sar
	Shr

	Eq
	Ne
	EqStrict
	NeStrict
	Lt
	Le
	Gt
	Ge

	Not
	BitNot
	Neg
	Plus
	Typeof
	Void
	Delete

	Inc
	Dec
)

var tokenNames = [...]string{
	Illegal: "ILLEGAL",
	Comma:   ",",

	Assign: "=", AssignAdd: "+=", AssignSub: "-=", AssignMul: "*=", AssignDiv: "/=", AssignMod: "%=",
	AssignBitOr: "|=", AssignBitAnd: "&=", AssignBitXor: "^=", AssignShl: "<<=", AssignSar: ">>=", AssignShr: ">>>=",

	Add: "+", Sub: "-", Mul: "*", Div: "/", Mod: "%",
	BitOr: "|", BitAnd: "&", BitXor: "^", Shl: "<<", Sar: ">>", Shr: ">>>",

	Eq: "==", Ne: "!=", EqStrict: "===", NeStrict: "!==", Lt: "<", Le: "<=", Gt: ">", Ge: ">=",

	Not: "!", BitNot: "~", Neg: "-", Plus: "+", Typeof: "typeof", Void: "void", Delete: "delete",

	Inc: "++", Dec: "--",
}

func (t Token) String() string {
	if int(t) < len(tokenNames) && tokenNames[t] != "" {
		return tokenNames[t]
	}

	return fmt.Sprintf("token(%d)", int(t))
}

// IsCompoundAssign reports whether t is an assignment combined with a binary operator.
func (t Token) IsCompoundAssign() bool { return t > Assign && t <= AssignShr }

// BinaryOp is the operator of the compound assignment t.
func (t Token) BinaryOp() Token {
	if !t.IsCompoundAssign() {
		return Illegal
	}

	return Add + (t - AssignAdd)
}
