package asmjs

import (
	"tlog.app/go/errors"

	"nikand.dev/go/asmwasm"
	"nikand.dev/go/asmwasm/ast"
)

// family is an operator opcode by operand type class: signed, unsigned, float, double.
type family [4]asmwasm.Opcode

const invalidOp asmwasm.Opcode = 0xff

var binaryOps = map[ast.Token]struct {
	ops        family
	ignoreSign bool
}{
	ast.Add: {family{asmwasm.I32Add, asmwasm.I32Add, asmwasm.F32Add, asmwasm.F64Add}, true},
	ast.Sub: {family{asmwasm.I32Sub, asmwasm.I32Sub, asmwasm.F32Sub, asmwasm.F64Sub}, true},
	ast.Mul: {family{asmwasm.I32Mul, asmwasm.I32Mul, asmwasm.F32Mul, asmwasm.F64Mul}, true},
	ast.Div: {family{asmwasm.I32DivS, asmwasm.I32DivU, asmwasm.F32Div, asmwasm.F64Div}, false},
	ast.Mod: {family{asmwasm.I32RemS, asmwasm.I32RemU, invalidOp, invalidOp}, false},

	ast.BitOr:  {family{asmwasm.I32Ior, asmwasm.I32Ior, invalidOp, invalidOp}, true},
	ast.BitAnd: {family{asmwasm.I32And, asmwasm.I32And, invalidOp, invalidOp}, true},
	ast.BitXor: {family{asmwasm.I32Xor, asmwasm.I32Xor, invalidOp, invalidOp}, true},
	ast.Shl:    {family{asmwasm.I32Shl, asmwasm.I32Shl, invalidOp, invalidOp}, true},
	ast.Sar:    {family{asmwasm.I32ShrS, asmwasm.I32ShrS, invalidOp, invalidOp}, true},
	ast.Shr:    {family{asmwasm.I32ShrU, asmwasm.I32ShrU, invalidOp, invalidOp}, true},

	ast.Eq:       {family{asmwasm.I32Eq, asmwasm.I32Eq, asmwasm.F32Eq, asmwasm.F64Eq}, false},
	ast.EqStrict: {family{asmwasm.I32Eq, asmwasm.I32Eq, asmwasm.F32Eq, asmwasm.F64Eq}, false},
	ast.Ne:       {family{asmwasm.I32Ne, asmwasm.I32Ne, asmwasm.F32Ne, asmwasm.F64Ne}, false},
	ast.NeStrict: {family{asmwasm.I32Ne, asmwasm.I32Ne, asmwasm.F32Ne, asmwasm.F64Ne}, false},
	ast.Lt:       {family{asmwasm.I32LtS, asmwasm.I32LtU, asmwasm.F32Lt, asmwasm.F64Lt}, false},
	ast.Le:       {family{asmwasm.I32LeS, asmwasm.I32LeU, asmwasm.F32Le, asmwasm.F64Le}, false},
	ast.Gt:       {family{asmwasm.I32GtS, asmwasm.I32GtU, asmwasm.F32Gt, asmwasm.F64Gt}, false},
	ast.Ge:       {family{asmwasm.I32GeS, asmwasm.I32GeU, asmwasm.F32Ge, asmwasm.F64Ge}, false},
}

func (e *emitter) expression(x ast.Expression) {
	defer e.ascend()
	if !e.descend() {
		return
	}

	switch x := x.(type) {
	case *ast.Literal:
		e.literal(x)
	case *ast.VariableProxy:
		e.variable(x)
	case *ast.Assignment:
		e.assignment(x)
	case *ast.BinaryOperation:
		if x.Op == ast.Comma {
			e.f.Emit(asmwasm.Comma)
			e.expression(x.Left)
			e.expression(x.Right)

			return
		}

		e.binary(x.Op, x.Left, x.Right)
	case *ast.CompareOperation:
		e.binary(x.Op, x.Left, x.Right)
	case *ast.UnaryOperation:
		e.unary(x)
	case *ast.CountOperation:
		e.count(x)
	case *ast.Call:
		e.call(x)
	case *ast.Conditional:
		e.f.Emit(asmwasm.Ternary)
		e.expression(x.Cond)
		e.expression(x.Then)
		e.expression(x.Else)
	case *ast.RegExpLiteral, *ast.ClassLiteral, *ast.ThisFunction, *ast.Spread, *ast.FunctionLiteral:
		e.f.Emit(asmwasm.Nop)
	default:
		panic(errors.New("unsupported expression: %T", x))
	}
}

func (e *emitter) literal(x *ast.Literal) {
	if x.Kind != ast.Number {
		e.f.Emit(asmwasm.Nop)
		return
	}

	switch x.Type.ValueType() {
	case asmwasm.I32:
		e.f.EmitI32(int32(int64(x.Number)))
	case asmwasm.F32:
		e.f.EmitF32(float32(x.Number))
	case asmwasm.F64:
		e.f.EmitF64(x.Number)
	default:
		panic(errors.New("numeric literal of type %v", x.Type))
	}
}

func (e *emitter) variable(x *ast.VariableProxy) {
	v := x.Var

	switch v.Kind {
	case ast.FunctionVar:
		panic(errors.New("function reference outside of a call: %v", v))
	case ast.Global:
		e.f.Emit(asmwasm.LoadGlobal)
		e.f.EmitLEB(uint64(e.global(v)))
	default:
		e.f.EmitLocal(asmwasm.GetLocal, e.local(v))
	}
}

// store emits the opcode and index part of an assignment to target, the value follows.
func (e *emitter) store(target ast.Expression) {
	p, ok := target.(*ast.VariableProxy)
	if !ok {
		panic(errors.New("unsupported assignment target: %T", target))
	}

	v := p.Var

	switch v.Kind {
	case ast.Global:
		e.f.Emit(asmwasm.StoreGlobal)
		e.f.EmitLEB(uint64(e.global(v)))
	case ast.Local, ast.Parameter:
		e.f.EmitLocal(asmwasm.SetLocal, e.local(v))
	default:
		panic(errors.New("unsupported assignment target: %v %v", v.Kind, v))
	}
}

func (e *emitter) assignment(x *ast.Assignment) {
	e.store(x.Target)

	if x.Op == ast.Assign {
		e.expression(x.Value)
		return
	}

	op := x.Op.BinaryOp()
	if op == ast.Illegal {
		panic(errors.New("unsupported assignment operator: %v", x.Op))
	}

	e.binary(op, x.Target, x.Value)
}

func (e *emitter) binary(op ast.Token, l, r ast.Expression) {
	f, ok := binaryOps[op]
	if !ok {
		panic(errors.New("unsupported operator: %v", op))
	}

	code := f.ops[binaryTypeIndex(l, r, f.ignoreSign)]
	if code == invalidOp {
		panic(errors.New("operator %v is not defined for %v", op, l.ExprType()))
	}

	e.f.Emit(code)
	e.expression(l)
	e.expression(r)
}

func (e *emitter) unary(x *ast.UnaryOperation) {
	t := x.Expr.ExprType()

	switch x.Op {
	case ast.Not:
		if typeIndex(x.Expr) > 1 {
			panic(errors.New("operator ! on %v", t))
		}

		e.f.Emit(asmwasm.BoolNot)
		e.expression(x.Expr)
	case ast.Neg:
		switch t.ValueType() {
		case asmwasm.F32:
			e.f.Emit(asmwasm.F32Neg)
		case asmwasm.F64:
			e.f.Emit(asmwasm.F64Neg)
		default:
			e.f.Emit(asmwasm.I32Sub)
			e.f.EmitI32(0)
		}

		e.expression(x.Expr)
	case ast.Plus:
		switch t {
		case ast.Double:
		case ast.Float:
			e.f.Emit(asmwasm.F64ConvertF32)
		case ast.Unsigned:
			e.f.Emit(asmwasm.F64UConvertI32)
		default:
			e.f.Emit(asmwasm.F64SConvertI32)
		}

		e.expression(x.Expr)
	case ast.BitNot:
		e.f.Emit(asmwasm.I32Xor)

		switch t.ValueType() {
		case asmwasm.F32:
			e.f.Emit(asmwasm.I32SConvertF32)
		case asmwasm.F64:
			e.f.Emit(asmwasm.I32SConvertF64)
		}

		e.expression(x.Expr)
		e.f.EmitI32(-1)
	default:
		panic(errors.New("unsupported unary operator: %v", x.Op))
	}
}

// count emits x = x + 1 for prefix forms and (x = x + 1) - 1 for postfix ones.
func (e *emitter) count(x *ast.CountOperation) {
	add, sub := ast.Add, ast.Sub
	if x.Op == ast.Dec {
		add, sub = sub, add
	} else if x.Op != ast.Inc {
		panic(errors.New("unsupported count operator: %v", x.Op))
	}

	t := x.Expr.ExprType()
	one := ast.Num(1, t)

	if !x.Prefix {
		e.f.Emit(binaryOps[sub].ops[typeIndex(x.Expr)])
	}

	e.store(x.Expr)
	e.binary(add, x.Expr, one)

	if !x.Prefix {
		e.literal(one)
	}
}

func (e *emitter) call(x *ast.Call) {
	p, ok := x.Callee.(*ast.VariableProxy)
	if !ok || !p.Var.IsFunction() {
		panic(errors.New("unsupported callee: %T", x.Callee))
	}

	e.f.Emit(asmwasm.CallFunction)
	e.f.EmitLEB(uint64(e.function(p.Var)))

	for _, a := range x.Args {
		e.expression(a)

		if e.overflow {
			return
		}
	}
}

func binaryTypeIndex(l, r ast.Expression, ignoreSign bool) int {
	li := typeIndex(l)
	ri := typeIndex(r)

	if li != ri && !(ignoreSign && li <= 1 && ri <= 1) {
		panic(errors.New("operand types mismatch: %v and %v", l.ExprType(), r.ExprType()))
	}

	return li
}

func typeIndex(x ast.Expression) int {
	switch t := x.ExprType(); t {
	case ast.Int, ast.Signed:
		return 0
	case ast.Unsigned:
		return 1
	case ast.Float:
		return 2
	case ast.Double:
		return 3
	default:
		panic(errors.New("non numeric operand: %v", t))
	}
}
