package asmwasm

import (
	"fmt"
	"math"
	"strconv"

	"tlog.app/go/tlog"
)

type (
	// FunctionEnv is what a function body is checked against.
	// Module may be nil, then globals and calls are rejected.
	FunctionEnv struct {
		Module *Module
		Sig    *Signature
		Locals LocalCounts

		MaxNesting int // 0 means DefaultLimits.MaxNesting
	}

	// Node is a parsed bytecode instruction with its operands.
	// Imm holds the immediate: constant bits, an index, a branch depth,
	// a child count or a MemType.
	Node struct {
		Op   Opcode
		Pos  int
		Type ValueType
		Imm  uint64
		Args []*Node
	}

	ErrorCode int

	VerifyError struct {
		Code    ErrorCode
		Pos     int
		Related int
		Msg     string
	}

	verifier struct {
		LowDecoder

		env  *FunctionEnv
		code []byte
		i    int

		depth    int
		maxDepth int

		// positions of the enclosing Block and Loop nodes
		labels []int
	}
)

const (
	EndOfCode ErrorCode = iota + 1
	InvalidOpcode
	InvalidImmediate
	InvalidLocal
	InvalidGlobal
	InvalidFunction
	InvalidMemType
	InvalidBreakDepth
	TypeMismatch
	NestingTooDeep
)

// Verify checks the function body code is well formed and well typed.
func Verify(env *FunctionEnv, code []byte) error {
	_, err := parseBody(env, code, env.maxNesting())
	return err
}

// ParseBody parses and checks the function body code.
// It returns the top level nodes. The last of them is the function result
// if its type is the return type.
func ParseBody(env *FunctionEnv, code []byte) ([]*Node, error) {
	return parseBody(env, code, env.maxNesting())
}

func (env *FunctionEnv) maxNesting() int {
	if env.MaxNesting != 0 {
		return env.MaxNesting
	}

	return DefaultLimits.MaxNesting
}

func parseBody(env *FunctionEnv, code []byte, maxDepth int) (body []*Node, err error) {
	v := verifier{
		env:      env,
		code:     code,
		maxDepth: maxDepth,
	}

	for v.i < len(code) {
		n, err := v.node()
		if err != nil {
			tlog.V("verify").Printw("verify failed", "pos", tlog.NextAsHex, v.i, "err", err)

			return nil, err
		}

		body = append(body, n)
	}

	tlog.V("verify").Printw("function verified", "sig", env.Sig, "locals", env.Locals.Total(), "nodes", len(body), "size", len(code))

	return body, nil
}

func (v *verifier) node() (n *Node, err error) {
	pos := v.i

	v.depth++
	defer func() { v.depth-- }()

	if v.depth > v.maxDepth {
		return nil, v.errorf(NestingTooDeep, pos, -1, "nesting deeper than %d", v.maxDepth)
	}

	op, i, err := v.Byte(v.code, v.i)
	if err != nil {
		return nil, v.errorf(EndOfCode, pos, -1, "unexpected end of code")
	}

	v.i = i
	n = &Node{Op: Opcode(op), Pos: pos}

	switch n.Op {
	case Nop:
	case Block, Loop:
		n.Imm, err = v.u8()
		if err != nil {
			return nil, err
		}

		v.labels = append(v.labels, pos)

		err = v.args(n, int(n.Imm), Void)

		v.labels = v.labels[:len(v.labels)-1]
	case Br:
		n.Imm, err = v.u8()
		if err == nil && n.Imm >= uint64(len(v.labels)) {
			rel := -1
			if len(v.labels) != 0 {
				rel = v.labels[0]
			}

			err = v.errorf(InvalidBreakDepth, pos, rel, "break depth %d with %d enclosing blocks", n.Imm, len(v.labels))
		}
	case If, IfThen:
		err = v.args(n, 1, I32)
		if err == nil && n.Op == If {
			err = v.args(n, 1, Void)
		} else if err == nil {
			err = v.args(n, 2, Void)
		}
	case Return:
		if ret := v.env.Sig.Return; ret != Void {
			err = v.args(n, 1, ret)
		}
	case I32Const:
		n.Type = I32
		n.Imm, err = v.u32()
	case F32Const:
		n.Type = F32
		n.Imm, err = v.u32()
	case I64Const:
		n.Type = I64
		n.Imm, err = v.u64()
	case F64Const:
		n.Type = F64
		n.Imm, err = v.u64()
	case GetLocal, SetLocal:
		n.Imm, err = v.leb()
		if err != nil {
			return nil, err
		}

		n.Type = v.local(n.Imm)
		if n.Type == Void {
			return nil, v.errorf(InvalidLocal, pos, -1, "invalid local %d", n.Imm)
		}

		if n.Op == SetLocal {
			err = v.args(n, 1, n.Type)
		}
	case LoadGlobal, StoreGlobal:
		n.Imm, err = v.leb()
		if err != nil {
			return nil, err
		}

		m := v.env.Module
		if m == nil || n.Imm >= uint64(len(m.Globals)) {
			return nil, v.errorf(InvalidGlobal, pos, -1, "invalid global %d", n.Imm)
		}

		n.Type = m.Globals[n.Imm].Type.ValueType()

		if n.Op == StoreGlobal {
			err = v.args(n, 1, n.Type)
		}
	case CallFunction:
		n.Imm, err = v.leb()
		if err != nil {
			return nil, err
		}

		m := v.env.Module
		if m == nil || n.Imm >= uint64(len(m.Functions)) {
			return nil, v.errorf(InvalidFunction, pos, -1, "invalid function %d", n.Imm)
		}

		sig := m.Functions[n.Imm].Sig
		n.Type = sig.Return

		for _, p := range sig.Params {
			if err = v.args(n, 1, p); err != nil {
				return nil, err
			}
		}
	case Ternary:
		err = v.args(n, 3, Void)
		if err == nil {
			err = v.expect(n, n.Args[0], I32)
		}
		if err == nil {
			err = v.expect(n, n.Args[2], n.Args[1].Type)
		}
		if err == nil {
			n.Type = n.Args[1].Type
		}
	case Comma:
		err = v.args(n, 2, Void)
		if err == nil {
			n.Type = n.Args[1].Type
		}
	case LoadMem, StoreMem:
		n.Imm, err = v.u8()
		if err != nil {
			return nil, err
		}

		mt := MemType(n.Imm)
		if !mt.Valid() {
			return nil, v.errorf(InvalidMemType, pos+1, -1, "invalid memory type %d", n.Imm)
		}

		n.Type = mt.ValueType()

		err = v.args(n, 1, I32)
		if err == nil && n.Op == StoreMem {
			err = v.args(n, 1, n.Type)
		}
	default:
		sig := SimpleSignature(n.Op)
		if sig == nil {
			return nil, v.errorf(InvalidOpcode, pos, -1, "invalid opcode 0x%02x", op)
		}

		n.Type = sig.Return

		for _, p := range sig.Params {
			if err = v.args(n, 1, p); err != nil {
				return nil, err
			}
		}
	}

	if err != nil {
		return nil, err
	}

	tlog.V("opcode").Printw("node", "pos", tlog.NextAsHex, pos, "op", n.Op, "type", n.Type, "code", tlog.NextAsHex, v.code[pos:v.i])

	return n, nil
}

// args parses k operands of n. Each one must be of type t unless t is Void.
func (v *verifier) args(n *Node, k int, t ValueType) error {
	for j := 0; j < k; j++ {
		a, err := v.node()
		if err != nil {
			return err
		}

		n.Args = append(n.Args, a)

		if t == Void {
			continue
		}

		if err = v.expect(n, a, t); err != nil {
			return err
		}
	}

	return nil
}

func (v *verifier) expect(n, a *Node, t ValueType) error {
	if a.Type == t {
		return nil
	}

	return v.errorf(TypeMismatch, n.Pos, a.Pos, "%v: expected %v operand, got %v", n.Op, t, a.Type)
}

func (v *verifier) local(idx uint64) ValueType {
	params := v.env.Sig.Params

	if idx < uint64(len(params)) {
		return params[idx]
	}

	idx -= uint64(len(params))

	for _, t := range []ValueType{I32, I64, F32, F64} {
		c := uint64(v.env.Locals.Count(t))

		if idx < c {
			return t
		}

		idx -= c
	}

	return Void
}

func (v *verifier) u8() (uint64, error) {
	x, i, err := v.Byte(v.code, v.i)
	if err != nil {
		return 0, v.errorf(EndOfCode, v.i, -1, "immediate: unexpected end of code")
	}

	v.i = i

	return uint64(x), nil
}

func (v *verifier) u32() (uint64, error) {
	x, i, err := v.U32(v.code, v.i)
	if err != nil {
		return 0, v.errorf(EndOfCode, v.i, -1, "immediate: unexpected end of code")
	}

	v.i = i

	return uint64(x), nil
}

func (v *verifier) u64() (uint64, error) {
	x, i, err := v.U64(v.code, v.i)
	if err != nil {
		return 0, v.errorf(EndOfCode, v.i, -1, "immediate: unexpected end of code")
	}

	v.i = i

	return x, nil
}

func (v *verifier) leb() (uint64, error) {
	x, i, err := v.Uint64(v.code, v.i)
	switch {
	case err == ErrUnexpectedEOF:
		return 0, v.errorf(EndOfCode, v.i, -1, "index: unexpected end of code")
	case err != nil || x > math.MaxUint32:
		return 0, v.errorf(InvalidImmediate, v.i, -1, "index: invalid leb128")
	}

	v.i = i

	return x, nil
}

func (v *verifier) errorf(code ErrorCode, pos, rel int, format string, args ...interface{}) *VerifyError {
	return &VerifyError{
		Code:    code,
		Pos:     pos,
		Related: rel,
		Msg:     fmt.Sprintf(format, args...),
	}
}

func (e *VerifyError) Error() string {
	if e.Related >= 0 {
		return fmt.Sprintf("%s at pc 0x%x (related 0x%x)", e.Msg, e.Pos, e.Related)
	}

	return fmt.Sprintf("%s at pc 0x%x", e.Msg, e.Pos)
}

func (c ErrorCode) String() string {
	switch c {
	case EndOfCode:
		return "end of code"
	case InvalidOpcode:
		return "invalid opcode"
	case InvalidImmediate:
		return "invalid immediate"
	case InvalidLocal:
		return "invalid local"
	case InvalidGlobal:
		return "invalid global"
	case InvalidFunction:
		return "invalid function"
	case InvalidMemType:
		return "invalid memory type"
	case InvalidBreakDepth:
		return "invalid break depth"
	case TypeMismatch:
		return "type mismatch"
	case NestingTooDeep:
		return "nesting too deep"
	}

	return fmt.Sprintf("errorcode(%d)", int(c))
}

// String formats the node as an s-expression.
func (n *Node) String() string {
	return string(n.appendTo(nil))
}

func (n *Node) appendTo(b []byte) []byte {
	b = append(b, '(')
	b = append(b, n.Op.String()...)

	switch n.Op {
	case I32Const:
		b = append(b, ' ')
		b = strconv.AppendInt(b, int64(int32(n.Imm)), 10)
	case I64Const:
		b = append(b, ' ')
		b = strconv.AppendInt(b, int64(n.Imm), 10)
	case F32Const:
		b = append(b, ' ')
		b = strconv.AppendFloat(b, float64(math.Float32frombits(uint32(n.Imm))), 'g', -1, 32)
	case F64Const:
		b = append(b, ' ')
		b = strconv.AppendFloat(b, math.Float64frombits(n.Imm), 'g', -1, 64)
	case LoadMem, StoreMem:
		b = append(b, ' ')
		b = append(b, MemType(n.Imm).String()...)
	case Block, Loop, Br, GetLocal, SetLocal, LoadGlobal, StoreGlobal, CallFunction:
		b = append(b, ' ')
		b = strconv.AppendUint(b, n.Imm, 10)
	}

	for _, a := range n.Args {
		b = append(b, ' ')
		b = a.appendTo(b)
	}

	return append(b, ')')
}
