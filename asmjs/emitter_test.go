package asmjs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"nikand.dev/go/asmwasm"
	"nikand.dev/go/asmwasm/ast"
	"nikand.dev/go/asmwasm/engine"
)

func fvar(name string) *ast.Variable { return ast.NewVariable(name, ast.FunctionVar, ast.Function) }

func param(name string, t ast.Type) *ast.Variable { return ast.NewVariable(name, ast.Parameter, t) }

func local(name string, t ast.Type) *ast.Variable { return ast.NewVariable(name, ast.Local, t) }

func fdecl(v *ast.Variable, result ast.Type, params []*ast.Variable, body ...ast.Statement) *ast.FunctionDeclaration {
	return &ast.FunctionDeclaration{
		Var: v,
		Fun: &ast.FunctionLiteral{Name: v.Name, Params: params, Result: result, Body: body},
	}
}

func exports(vs ...*ast.Variable) *ast.ReturnStatement {
	var o ast.ObjectLiteral

	for _, v := range vs {
		o.Properties = append(o.Properties, ast.ObjectProperty{Key: v.Name, Value: ast.Ref(v)})
	}

	return ast.Return(&o)
}

func asmModule(decls []ast.Declaration, body ...ast.Statement) *ast.FunctionLiteral {
	return &ast.FunctionLiteral{Name: "Module", Declarations: decls, Body: body}
}

func call(f *ast.Variable, t ast.Type, args ...ast.Expression) *ast.Call {
	return &ast.Call{Callee: ast.Ref(f), Args: args, Type: t}
}

func i32(v float64) *ast.Literal { return ast.Num(v, ast.Int) }

func code(ops ...interface{}) []byte {
	var b []byte

	for _, op := range ops {
		switch op := op.(type) {
		case asmwasm.Opcode:
			b = append(b, byte(op))
		case int:
			b = append(b, byte(op))
		case []byte:
			b = append(b, op...)
		default:
			panic(op)
		}
	}

	return b
}

func run(tb testing.TB, fn *ast.FunctionLiteral, opts ...engine.Option) *engine.Instance {
	tb.Helper()

	img, err := Compile(fn)
	require.NoError(tb, err)

	var d asmwasm.Decoder

	m, err := d.Module(img, true)
	require.NoError(tb, err)

	ctx := context.Background()

	e := engine.New(ctx)
	tb.Cleanup(func() { _ = e.Close(ctx) })

	inst, err := e.Instantiate(ctx, m, opts...)
	require.NoError(tb, err)

	tb.Cleanup(func() { _ = inst.Close(ctx) })

	return inst
}

func invoke(tb testing.TB, inst *engine.Instance, name string, args ...uint64) uint64 {
	tb.Helper()

	res, err := inst.Call(context.Background(), name, args...)
	require.NoError(tb, err)
	require.Len(tb, res, 1)

	return res[0]
}

func TestConstFunction(tb *testing.T) {
	main := fvar("main")

	fn := asmModule([]ast.Declaration{
		fdecl(main, ast.Int, nil, ast.Return(i32(121))),
	}, exports(main))

	b, err := Build(fn)
	require.NoError(tb, err)
	require.Equal(tb, 1, b.NumFunctions())

	f := b.FunctionAt(0)
	assert.Equal(tb, "main", f.Name())
	assert.True(tb, f.IsExported())
	assert.True(tb, asmwasm.NewSignature(asmwasm.I32).Equal(f.Signature()))
	assert.Equal(tb, code(asmwasm.Block, 1, asmwasm.Return, asmwasm.I32Const, 121, 0, 0, 0), f.Code())

	inst := run(tb, fn)

	assert.Equal(tb, int32(121), api.DecodeI32(invoke(tb, inst, "main")))
}

func TestAddWithLocals(tb *testing.T) {
	add := fvar("add")
	a := param("a", ast.Int)
	b := param("b", ast.Int)
	c := local("c", ast.Int)

	fn := asmModule([]ast.Declaration{
		&ast.FunctionDeclaration{Var: add, Fun: &ast.FunctionLiteral{
			Params:       []*ast.Variable{a, b},
			Result:       ast.Signed,
			Declarations: []ast.Declaration{&ast.VariableDeclaration{Var: c}},
			Body: []ast.Statement{
				ast.Expr(ast.Set(c, ast.Bin(ast.BitOr, ast.Bin(ast.Add, ast.Ref(a), ast.Ref(b), ast.Int), i32(0), ast.Signed))),
				ast.Return(ast.Ref(c)),
			},
		}},
	}, exports(add))

	mb, err := Build(fn)
	require.NoError(tb, err)

	f := mb.FunctionAt(0)
	assert.Equal(tb, asmwasm.LocalCounts{I32: 1}, f.LocalCounts())
	assert.Equal(tb, code(
		asmwasm.Block, 2,
		asmwasm.SetLocal, 2, asmwasm.I32Ior, asmwasm.I32Add, asmwasm.GetLocal, 0, asmwasm.GetLocal, 1, asmwasm.I32Const, 0, 0, 0, 0,
		asmwasm.Return, asmwasm.GetLocal, 2,
	), f.Code())

	inst := run(tb, fn)

	assert.Equal(tb, int32(5), api.DecodeI32(invoke(tb, inst, "add", api.EncodeI32(2), api.EncodeI32(3))))
	assert.Equal(tb, int32(-2147483648), api.DecodeI32(invoke(tb, inst, "add", api.EncodeI32(0x7fffffff), api.EncodeI32(1))))
}

func TestIndexStability(tb *testing.T) {
	f := fvar("f")
	g := fvar("g")
	h := fvar("h")

	x := local("x", ast.Double)
	y := local("y", ast.Int)

	fn := asmModule([]ast.Declaration{
		fdecl(g, ast.Int, nil, ast.Return(ast.Bin(ast.Add, call(f, ast.Int), call(f, ast.Int), ast.Int))),
		fdecl(f, ast.Int, nil,
			ast.Expr(ast.Set(x, ast.Num(1, ast.Double))),
			ast.Expr(ast.Set(y, i32(2))),
			ast.Expr(ast.Set(x, ast.Bin(ast.Add, ast.Ref(x), ast.Ref(x), ast.Double))),
			ast.Return(ast.Ref(y)),
		),
		fdecl(h, ast.Int, nil, ast.Return(call(g, ast.Int))),
	}, exports(h, g))

	b, err := Build(fn)
	require.NoError(tb, err)
	require.Equal(tb, 3, b.NumFunctions())

	assert.Equal(tb, []string{"g", "f", "h"}, []string{b.FunctionAt(0).Name(), b.FunctionAt(1).Name(), b.FunctionAt(2).Name()})
	assert.Equal(tb, []bool{true, false, true}, []bool{b.FunctionAt(0).IsExported(), b.FunctionAt(1).IsExported(), b.FunctionAt(2).IsExported()})

	assert.Equal(tb, code(asmwasm.Block, 1, asmwasm.Return, asmwasm.I32Add, asmwasm.CallFunction, 1, asmwasm.CallFunction, 1), b.FunctionAt(0).Code())
	assert.Equal(tb, code(asmwasm.Block, 1, asmwasm.Return, asmwasm.CallFunction, 0), b.FunctionAt(2).Code())

	fb := b.FunctionAt(1)
	assert.Equal(tb, asmwasm.LocalCounts{I32: 1, F64: 1}, fb.LocalCounts())
	assert.Equal(tb, 1, fb.LocalIndex(0), "x")
	assert.Equal(tb, 0, fb.LocalIndex(1), "y")
	assert.Equal(tb, code(
		asmwasm.Block, 4,
		asmwasm.SetLocal, 1, asmwasm.F64Const, []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f},
		asmwasm.SetLocal, 0, asmwasm.I32Const, 2, 0, 0, 0,
		asmwasm.SetLocal, 1, asmwasm.F64Add, asmwasm.GetLocal, 1, asmwasm.GetLocal, 1,
		asmwasm.Return, asmwasm.GetLocal, 0,
	), fb.Code())

	inst := run(tb, fn)

	assert.Equal(tb, int32(4), api.DecodeI32(invoke(tb, inst, "h")))
}

func TestBranchDistances(tb *testing.T) {
	n := param("n", ast.Int)

	dec := ast.Expr(ast.Set(n, ast.Bin(ast.Sub, ast.Ref(n), i32(1), ast.Int)))
	decCode := code(asmwasm.SetLocal, 0, asmwasm.I32Sub, asmwasm.GetLocal, 0, asmwasm.I32Const, 1, 0, 0, 0)

	exit := code(asmwasm.If, asmwasm.BoolNot, asmwasm.GetLocal, 0, asmwasm.Br, 1)

	for _, tc := range []struct {
		name string
		stmt func() ast.Statement
		code []byte
	}{
		{"WhileBreak", func() ast.Statement {
			w := &ast.WhileStatement{Cond: ast.Ref(n)}
			w.Body = &ast.Block{Statements: []ast.Statement{&ast.BreakStatement{Target: w}}}
			return w
		}, code(asmwasm.Block, 1, asmwasm.Loop, 2, exit, asmwasm.Block, 1, asmwasm.Br, 2)},

		{"WhileContinue", func() ast.Statement {
			w := &ast.WhileStatement{Cond: ast.Ref(n)}
			w.Body = &ast.Block{Statements: []ast.Statement{dec, &ast.ContinueStatement{Target: w}}}
			return w
		}, code(asmwasm.Block, 1, asmwasm.Loop, 2, exit, asmwasm.Block, 2, decCode, asmwasm.Br, 1)},

		{"BreakOuterBlock", func() ast.Statement {
			o := &ast.Block{}
			w := &ast.WhileStatement{Cond: ast.Ref(n)}
			w.Body = &ast.Block{Statements: []ast.Statement{&ast.BreakStatement{Target: o}}}
			o.Statements = []ast.Statement{w}
			return o
		}, code(asmwasm.Block, 1, asmwasm.Block, 1, asmwasm.Loop, 2, exit, asmwasm.Block, 1, asmwasm.Br, 3)},

		{"DoWhileBreak", func() ast.Statement {
			d := &ast.DoWhileStatement{Cond: ast.Ref(n)}
			d.Body = &ast.Block{Statements: []ast.Statement{&ast.BreakStatement{Target: d}}}
			return d
		}, code(asmwasm.Block, 1, asmwasm.Loop, 2, asmwasm.Block, 1, asmwasm.Block, 1, asmwasm.Br, 3, exit)},

		{"DoWhileContinue", func() ast.Statement {
			d := &ast.DoWhileStatement{Cond: ast.Ref(n)}
			d.Body = &ast.Block{Statements: []ast.Statement{dec, &ast.ContinueStatement{Target: d}}}
			return d
		}, code(asmwasm.Block, 1, asmwasm.Loop, 2, asmwasm.Block, 1, asmwasm.Block, 2, decCode, asmwasm.Br, 1, exit)},

		{"ForNextContinue", func() ast.Statement {
			f := &ast.ForStatement{Cond: ast.Ref(n), Next: dec}
			f.Body = &ast.Block{Statements: []ast.Statement{&ast.ContinueStatement{Target: f}}}
			return f
		}, code(asmwasm.Block, 1, asmwasm.Loop, 3, exit, asmwasm.Block, 1, asmwasm.Block, 1, asmwasm.Br, 1, decCode)},

		{"ForInitBreak", func() ast.Statement {
			f := &ast.ForStatement{Init: ast.Expr(ast.Set(n, i32(10)))}
			f.Body = &ast.Block{Statements: []ast.Statement{&ast.BreakStatement{Target: f}}}
			return f
		}, code(asmwasm.Block, 2, asmwasm.SetLocal, 0, asmwasm.I32Const, 10, 0, 0, 0,
			asmwasm.Block, 1, asmwasm.Loop, 1, asmwasm.Block, 1, asmwasm.Br, 2)},

		{"ForInitNextBreakThrough", func() ast.Statement {
			o := &ast.Block{}
			f := &ast.ForStatement{Init: ast.Expr(ast.Set(n, i32(10))), Cond: ast.Ref(n), Next: dec}
			f.Body = &ast.BreakStatement{Target: o}
			o.Statements = []ast.Statement{f}
			return o
		}, code(asmwasm.Block, 1, asmwasm.Block, 2, asmwasm.SetLocal, 0, asmwasm.I32Const, 10, 0, 0, 0,
			asmwasm.Block, 1, asmwasm.Loop, 3, exit, asmwasm.Block, 1, asmwasm.Br, 4, decCode)},
	} {
		tc := tc

		tb.Run(tc.name, func(tb *testing.T) {
			f := fvar("f")

			b, err := Build(asmModule([]ast.Declaration{
				fdecl(f, ast.None, []*ast.Variable{n}, tc.stmt()),
			}, exports(f)))
			require.NoError(tb, err)

			fb := b.FunctionAt(0)

			exp := code(asmwasm.Block, 1, tc.code)
			assert.Equal(tb, exp, fb.Code(), "exp %x\ngot %x", exp, fb.Code())

			env := &asmwasm.FunctionEnv{Sig: fb.Signature(), Locals: fb.LocalCounts()}
			assert.NoError(tb, asmwasm.Verify(env, fb.Code()))
		})
	}
}

func TestLoopsRun(tb *testing.T) {
	n := param("n", ast.Int)
	i := local("i", ast.Int)
	s := local("s", ast.Int)

	add := func(v, x *ast.Variable) ast.Statement {
		return ast.Expr(ast.Set(v, ast.Bin(ast.BitOr, ast.Bin(ast.Add, ast.Ref(v), ast.Ref(x), ast.Int), i32(0), ast.Signed)))
	}

	// evens(n) sums even numbers below n skipping odd ones with continue
	evens := fvar("evens")
	loop := &ast.ForStatement{
		Init: ast.Expr(ast.Set(i, i32(0))),
		Cond: ast.Cmp(ast.Lt, ast.Ref(i), ast.Ref(n)),
		Next: ast.Expr(ast.Set(i, ast.Bin(ast.Add, ast.Ref(i), i32(1), ast.Int))),
	}
	loop.Body = &ast.Block{Statements: []ast.Statement{
		&ast.IfStatement{Cond: ast.Bin(ast.BitAnd, ast.Ref(i), i32(1), ast.Int), Then: &ast.ContinueStatement{Target: loop}},
		add(s, i),
	}}

	// down(n) sums n, n-1, ... 1 with a do-while loop
	down := fvar("down")
	dw := &ast.DoWhileStatement{
		Body: &ast.Block{Statements: []ast.Statement{
			add(s, n),
			ast.Expr(ast.Set(n, ast.Bin(ast.Sub, ast.Ref(n), i32(1), ast.Int))),
		}},
		Cond: ast.Cmp(ast.Gt, ast.Ref(n), i32(0)),
	}

	// first(n) is the first i with i*i >= n found by a while loop with break
	first := fvar("first")
	w := &ast.WhileStatement{Cond: i32(1)}
	w.Body = &ast.Block{Statements: []ast.Statement{
		&ast.IfStatement{
			Cond: ast.Cmp(ast.Ge, ast.Bin(ast.Mul, ast.Ref(i), ast.Ref(i), ast.Int), ast.Ref(n)),
			Then: &ast.BreakStatement{Target: w},
		},
		ast.Expr(&ast.CountOperation{Op: ast.Inc, Prefix: true, Expr: ast.Ref(i), Type: ast.Int}),
	}}

	fn := asmModule([]ast.Declaration{
		fdecl(evens, ast.Signed, []*ast.Variable{n}, loop, ast.Return(ast.Ref(s))),
		fdecl(down, ast.Signed, []*ast.Variable{n}, dw, ast.Return(ast.Ref(s))),
		fdecl(first, ast.Signed, []*ast.Variable{n}, w, ast.Return(ast.Ref(i))),
	}, exports(evens, down, first))

	inst := run(tb, fn)

	for _, tc := range []struct {
		name     string
		arg, res int32
	}{
		{"evens", 10, 20},
		{"evens", 0, 0},
		{"down", 4, 10},
		{"down", 0, 0},
		{"first", 50, 8},
		{"first", 0, 0},
	} {
		assert.Equal(tb, tc.res, api.DecodeI32(invoke(tb, inst, tc.name, api.EncodeI32(tc.arg))), "%v(%d)", tc.name, tc.arg)
	}
}

func TestStatementsCutAfterJump(tb *testing.T) {
	f := fvar("f")
	x := local("x", ast.Int)

	b, err := Build(asmModule([]ast.Declaration{
		fdecl(f, ast.Int, nil,
			ast.Expr(ast.Set(x, i32(1))),
			ast.Return(ast.Ref(x)),
			ast.Expr(ast.Set(x, i32(2))),
			ast.Return(i32(3)),
		),
	}))
	require.NoError(tb, err)

	assert.Equal(tb, code(
		asmwasm.Block, 2,
		asmwasm.SetLocal, 0, asmwasm.I32Const, 1, 0, 0, 0,
		asmwasm.Return, asmwasm.GetLocal, 0,
	), b.FunctionAt(0).Code())
	assert.False(tb, b.FunctionAt(0).IsExported())
}

func TestNonNumericIsNop(tb *testing.T) {
	f := fvar("f")

	b, err := Build(asmModule([]ast.Declaration{
		fdecl(f, ast.None, nil,
			ast.Expr(&ast.Literal{Kind: ast.String, String: "use asm"}),
			&ast.EmptyStatement{},
			ast.Expr(&ast.RegExpLiteral{Pattern: "a+"}),
			&ast.DebuggerStatement{},
			&ast.IfStatement{Cond: i32(1)},
		),
	}))
	require.NoError(tb, err)

	assert.Equal(tb, code(
		asmwasm.Block, 5,
		asmwasm.Nop, asmwasm.Nop, asmwasm.Nop, asmwasm.Nop,
		asmwasm.If, asmwasm.I32Const, 1, 0, 0, 0, asmwasm.Nop,
	), b.FunctionAt(0).Code())
}

func TestGlobalsAndImports(tb *testing.T) {
	g := ast.NewVariable("total", ast.Global, ast.Double)
	heap := ast.NewVariable("heap", ast.Global, ast.Object)
	log := fvar("log")
	step := fvar("step")
	p := param("p", ast.Double)

	fn := asmModule([]ast.Declaration{
		&ast.VariableDeclaration{Var: g},
		&ast.VariableDeclaration{Var: heap},
		&ast.ImportDeclaration{Var: log, Result: ast.None, Params: []ast.Type{ast.Double}},
		fdecl(step, ast.Double, []*ast.Variable{p},
			ast.Expr(ast.Set(g, ast.Bin(ast.Add, ast.Ref(g), ast.Ref(p), ast.Double))),
			ast.Expr(call(log, ast.None, ast.Ref(g))),
			ast.Return(ast.Ref(g)),
		),
	}, ast.Expr(i32(0)), exports(step))

	b, err := Build(fn)
	require.NoError(tb, err)

	assert.Equal(tb, 1, b.NumGlobals())
	require.Equal(tb, 2, b.NumFunctions())
	assert.Equal(tb, "log", b.FunctionAt(0).Name())
	assert.True(tb, asmwasm.NewSignature(asmwasm.Void, asmwasm.F64).Equal(b.FunctionAt(0).Signature()))

	var logged []float64

	inst := run(tb, fn, engine.WithImport("log", api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		logged = append(logged, api.DecodeF64(stack[0]))
	})))

	assert.Equal(tb, 1.5, api.DecodeF64(invoke(tb, inst, "step", api.EncodeF64(1.5))))
	assert.Equal(tb, 3.5, api.DecodeF64(invoke(tb, inst, "step", api.EncodeF64(2))))
	assert.Equal(tb, []float64{1.5, 3.5}, logged)
}

func TestOperators(tb *testing.T) {
	a := param("a", ast.Int)
	b := param("b", ast.Int)
	d := param("d", ast.Double)
	r := local("r", ast.Int)

	u := func(v *ast.Variable) ast.Expression { return ast.Bin(ast.Shr, ast.Ref(v), i32(0), ast.Unsigned) }
	ab := []*ast.Variable{a, b}

	sdiv, udiv, mod := fvar("sdiv"), fvar("udiv"), fvar("mod")
	lts, ltu := fvar("lts"), fvar("ltu")
	neg, fneg, not, bitnot, plus := fvar("neg"), fvar("fneg"), fvar("not"), fvar("bitnot"), fvar("plus")
	count, compound, shifts := fvar("count"), fvar("compound"), fvar("shifts")

	ternary := func(c ast.Expression) ast.Expression {
		return &ast.Conditional{Cond: c, Then: i32(1), Else: i32(2), Type: ast.Int}
	}

	fn := asmModule([]ast.Declaration{
		fdecl(sdiv, ast.Signed, ab, ast.Return(ast.Bin(ast.Div, ast.Ref(a), ast.Ref(b), ast.Signed))),
		fdecl(udiv, ast.Signed, ab, ast.Return(ast.Bin(ast.BitOr, ast.Bin(ast.Div, u(a), u(b), ast.Unsigned), i32(0), ast.Signed))),
		fdecl(mod, ast.Signed, ab, ast.Return(ast.Bin(ast.Mod, ast.Ref(a), ast.Ref(b), ast.Signed))),
		fdecl(lts, ast.Signed, ab, ast.Return(ternary(ast.Cmp(ast.Lt, ast.Ref(a), ast.Ref(b))))),
		fdecl(ltu, ast.Signed, ab, ast.Return(ternary(ast.Cmp(ast.Lt, u(a), u(b))))),
		fdecl(neg, ast.Signed, []*ast.Variable{a}, ast.Return(&ast.UnaryOperation{Op: ast.Neg, Expr: ast.Ref(a), Type: ast.Int})),
		fdecl(fneg, ast.Double, []*ast.Variable{d}, ast.Return(&ast.UnaryOperation{Op: ast.Neg, Expr: ast.Ref(d), Type: ast.Double})),
		fdecl(not, ast.Signed, []*ast.Variable{a}, ast.Return(&ast.UnaryOperation{Op: ast.Not, Expr: ast.Ref(a), Type: ast.Int})),
		fdecl(bitnot, ast.Signed, []*ast.Variable{d}, ast.Return(&ast.UnaryOperation{Op: ast.BitNot, Expr: ast.Ref(d), Type: ast.Signed})),
		fdecl(plus, ast.Double, []*ast.Variable{a}, ast.Return(&ast.UnaryOperation{Op: ast.Plus, Expr: ast.Ref(a), Type: ast.Double})),
		fdecl(count, ast.Signed, []*ast.Variable{a},
			ast.Expr(ast.Set(r, &ast.CountOperation{Op: ast.Inc, Expr: ast.Ref(a), Type: ast.Int})),
			ast.Expr(&ast.CountOperation{Op: ast.Dec, Prefix: true, Expr: ast.Ref(a), Type: ast.Int}),
			ast.Expr(&ast.CountOperation{Op: ast.Inc, Prefix: true, Expr: ast.Ref(a), Type: ast.Int}),
			ast.Return(ast.Bin(ast.Add, ast.Bin(ast.Mul, ast.Ref(r), i32(100), ast.Int), ast.Ref(a), ast.Int)),
		),
		fdecl(compound, ast.Signed, []*ast.Variable{a},
			ast.Expr(&ast.Assignment{Op: ast.AssignAdd, Target: ast.Ref(a), Value: i32(10), Type: ast.Int}),
			ast.Expr(&ast.Assignment{Op: ast.AssignShl, Target: ast.Ref(a), Value: i32(1), Type: ast.Int}),
			ast.Return(ast.Ref(a)),
		),
		fdecl(shifts, ast.Signed, []*ast.Variable{a},
			ast.Return(ast.Bin(ast.BitXor, ast.Bin(ast.Sar, ast.Ref(a), i32(4), ast.Signed), u(a), ast.Signed)),
		),
	}, exports(sdiv, udiv, mod, lts, ltu, neg, fneg, not, bitnot, plus, count, compound, shifts))

	inst := run(tb, fn)

	i := api.EncodeI32
	for _, tc := range []struct {
		name string
		args []uint64
		res  int32
	}{
		{"sdiv", []uint64{i(-6), i(2)}, -3},
		{"udiv", []uint64{i(-2), i(2)}, 0x7fffffff},
		{"mod", []uint64{i(-7), i(3)}, -1},
		{"lts", []uint64{i(-1), i(1)}, 1},
		{"ltu", []uint64{i(-1), i(1)}, 2},
		{"neg", []uint64{i(5)}, -5},
		{"not", []uint64{i(0)}, 1},
		{"not", []uint64{i(7)}, 0},
		{"bitnot", []uint64{api.EncodeF64(3.7)}, -4},
		{"count", []uint64{i(5)}, 506},
		{"compound", []uint64{i(1)}, 22},
		{"shifts", []uint64{i(-16)}, -1 ^ -16},
	} {
		assert.Equal(tb, tc.res, api.DecodeI32(invoke(tb, inst, tc.name, tc.args...)), "%v%v", tc.name, tc.args)
	}

	assert.Equal(tb, -2.5, api.DecodeF64(invoke(tb, inst, "fneg", api.EncodeF64(2.5))))
	assert.Equal(tb, -3.0, api.DecodeF64(invoke(tb, inst, "plus", i(-3))))
}

func TestStackOverflow(tb *testing.T) {
	f := fvar("f")
	x := param("x", ast.Int)

	var e ast.Expression = ast.Ref(x)
	for i := 0; i < 50; i++ {
		e = ast.Bin(ast.Add, e, i32(1), ast.Int)
	}

	fn := asmModule([]ast.Declaration{
		fdecl(f, ast.Int, []*ast.Variable{x}, ast.Return(e)),
	}, exports(f))

	_, err := Build(fn, WithMaxDepth(20))
	assert.ErrorIs(tb, err, ErrStackOverflow)

	_, err = Compile(fn, WithMaxDepth(20))
	assert.ErrorIs(tb, err, ErrStackOverflow)

	_, err = Build(fn)
	assert.NoError(tb, err)
}

func TestMemoryOption(tb *testing.T) {
	b, err := Compile(asmModule(nil), WithMemory(20, true))
	require.NoError(tb, err)

	var d asmwasm.Decoder

	m, err := d.Module(b, true)
	require.NoError(tb, err)

	assert.Equal(tb, uint8(20), m.MemSizeLog2)
	assert.True(tb, m.MemExport)
}

func TestContractViolations(tb *testing.T) {
	x := local("x", ast.Int)
	dbl := local("dbl", ast.Double)
	other := fvar("other")

	for _, tc := range []struct {
		name string
		stmt func() ast.Statement
	}{
		{"With", func() ast.Statement { return &ast.WithStatement{Expr: i32(0), Body: &ast.EmptyStatement{}} }},
		{"Switch", func() ast.Statement { return &ast.SwitchStatement{Tag: ast.Ref(x)} }},
		{"TryCatch", func() ast.Statement { return &ast.TryCatchStatement{Try: &ast.Block{}, Catch: &ast.Block{}} }},
		{"ForIn", func() ast.Statement { return &ast.ForInStatement{Each: ast.Ref(x), Subject: ast.Ref(x), Body: &ast.EmptyStatement{}} }},
		{"PropertyTarget", func() ast.Statement {
			return ast.Expr(&ast.Assignment{Op: ast.Assign, Target: &ast.Property{Obj: ast.Ref(x), Key: i32(0)}, Value: i32(1), Type: ast.Int})
		}},
		{"ContinueToBlock", func() ast.Statement {
			b := &ast.Block{}
			b.Statements = []ast.Statement{&ast.ContinueStatement{Target: b}}
			return b
		}},
		{"UnknownTarget", func() ast.Statement { return &ast.BreakStatement{Target: &ast.Block{}} }},
		{"FunctionReference", func() ast.Statement { return ast.Expr(ast.Ref(other)) }},
		{"CallNew", func() ast.Statement { return ast.Expr(&ast.CallNew{Callee: ast.Ref(other)}) }},
		{"Throw", func() ast.Statement { return ast.Expr(&ast.Throw{Expr: i32(1)}) }},
		{"ObjectLiteral", func() ast.Statement { return ast.Expr(&ast.ObjectLiteral{}) }},
		{"DoubleMod", func() ast.Statement { return ast.Expr(ast.Bin(ast.Mod, ast.Ref(dbl), ast.Ref(dbl), ast.Double)) }},
		{"TypesMismatch", func() ast.Statement { return ast.Expr(ast.Bin(ast.Add, ast.Ref(x), ast.Ref(dbl), ast.Int)) }},
		{"NotOnDouble", func() ast.Statement { return ast.Expr(&ast.UnaryOperation{Op: ast.Not, Expr: ast.Ref(dbl), Type: ast.Int}) }},
		{"ReturnValueFromVoid", func() ast.Statement { return ast.Return(i32(1)) }},
		{"Typeof", func() ast.Statement { return ast.Expr(&ast.UnaryOperation{Op: ast.Typeof, Expr: ast.Ref(x)}) }},
	} {
		tc := tc

		tb.Run(tc.name, func(tb *testing.T) {
			f := fvar("f")

			fn := asmModule([]ast.Declaration{
				fdecl(f, ast.None, nil, tc.stmt()),
			})

			assert.Panics(tb, func() { _, _ = Build(fn) })
		})
	}
}

func TestUndeclaredFunction(tb *testing.T) {
	f := fvar("f")
	missing := fvar("missing")

	_, err := Compile(asmModule([]ast.Declaration{
		fdecl(f, ast.None, nil, ast.Expr(call(missing, ast.None))),
	}))
	assert.Error(tb, err)
}
