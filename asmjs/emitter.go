// Package asmjs translates the typed tree of an asm.js module function into prototype bytecode.
package asmjs

import (
	stderrors "errors"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"nikand.dev/go/asmwasm"
	"nikand.dev/go/asmwasm/ast"
)

type (
	Option func(*emitter)

	emitter struct {
		maxDepth  int
		memLog2   uint8
		memExport bool

		b *asmwasm.ModuleBuilder
		f *asmwasm.FunctionBuilder // nil outside of function bodies

		functions map[*ast.Variable]int
		globals   map[*ast.Variable]int
		locals    map[*ast.Variable]int // slots of the current function

		breakables []breakable

		depth    int
		overflow bool
	}

	// breakable is a break target on the emission stack.
	breakable struct {
		target ast.Breakable
		loop   bool

		// levels is the number of Block and Loop nodes the statement nests its body in.
		levels int
		// brk is the distance from the body to the node that exits the statement.
		brk int
	}
)

var ErrStackOverflow = stderrors.New("stack overflow")

const DefaultMaxDepth = 10000

// WithMaxDepth limits recursion depth of the tree walk.
func WithMaxDepth(n int) Option {
	return func(e *emitter) { e.maxDepth = n }
}

// WithMemory sets the module memory size to 2^log2 bytes.
func WithMemory(log2 uint8, export bool) Option {
	return func(e *emitter) {
		e.memLog2 = log2
		e.memExport = export
	}
}

// Build walks the module function and returns the module builder filled in.
// Malformed trees the translation has no answer for panic.
func Build(fn *ast.FunctionLiteral, opts ...Option) (*asmwasm.ModuleBuilder, error) {
	e := &emitter{
		maxDepth:  DefaultMaxDepth,
		memLog2:   16,
		b:         asmwasm.NewModuleBuilder(),
		functions: map[*ast.Variable]int{},
		globals:   map[*ast.Variable]int{},
	}

	for _, o := range opts {
		o(e)
	}

	e.b.SetMemory(e.memLog2, e.memExport)

	e.module(fn)

	if e.overflow {
		return nil, ErrStackOverflow
	}

	tlog.V("asmjs").Printw("module built", "name", fn.Name, "functions", e.b.NumFunctions(), "globals", e.b.NumGlobals())

	return e.b, nil
}

// Compile is Build followed by serialization.
func Compile(fn *ast.FunctionLiteral, opts ...Option) ([]byte, error) {
	b, err := Build(fn, opts...)
	if err != nil {
		return nil, err
	}

	return b.Bytes()
}

func (e *emitter) module(fn *ast.FunctionLiteral) {
	for _, d := range fn.Declarations {
		e.declaration(d)

		if e.overflow {
			return
		}
	}

	for _, s := range fn.Body {
		e.moduleStatement(s)

		if e.overflow {
			return
		}
	}
}

func (e *emitter) declaration(d ast.Declaration) {
	switch d := d.(type) {
	case *ast.VariableDeclaration:
		if e.f == nil && d.Var.Type.IsNumber() {
			e.global(d.Var)
		}
	case *ast.FunctionDeclaration:
		if e.f != nil {
			panic(errors.New("nested function declaration: %v", d.Var))
		}

		e.functionDeclaration(d)
	case *ast.ImportDeclaration:
		if e.f != nil {
			panic(errors.New("import declaration in a function: %v", d.Var))
		}

		f := e.b.FunctionAt(e.function(d.Var))
		f.SetName(d.Var.Name)
		f.ReturnType(d.Result.ValueType())

		for _, p := range d.Params {
			f.AddParam(p.ValueType())
		}

		f.External(true)
	default:
		panic(errors.New("unsupported declaration: %T", d))
	}
}

func (e *emitter) functionDeclaration(d *ast.FunctionDeclaration) {
	idx := e.function(d.Var)

	e.f = e.b.FunctionAt(idx)
	e.f.SetName(d.Var.Name)
	e.locals = map[*ast.Variable]int{}

	defer func() {
		e.f = nil
		e.locals = nil
		e.breakables = e.breakables[:0]
	}()

	fn := d.Fun

	e.f.ReturnType(fn.Result.ValueType())

	for _, p := range fn.Params {
		e.local(p)
	}

	for _, d := range fn.Declarations {
		e.declaration(d)
	}

	e.statements(fn.Body)

	tlog.V("asmjs").Printw("function", "index", idx, "name", d.Var.Name, "sig", e.f.Signature(), "code_size", e.f.Len())
}

// moduleStatement handles statements of the module function outside of any function body.
func (e *emitter) moduleStatement(s ast.Statement) {
	r, ok := s.(*ast.ReturnStatement)
	if !ok {
		tlog.V("asmjs").Printw("module statement skipped", "type", fmt.Sprintf("%T", s))
		return
	}

	switch x := r.Expr.(type) {
	case *ast.VariableProxy:
		e.export(x, "")
	case *ast.ObjectLiteral:
		for _, p := range x.Properties {
			if v, ok := p.Value.(*ast.VariableProxy); ok {
				e.export(v, p.Key)
			}
		}
	}
}

func (e *emitter) export(x *ast.VariableProxy, name string) {
	if !x.Var.IsFunction() {
		return
	}

	f := e.b.FunctionAt(e.function(x.Var))
	f.Exported(true)

	if name != "" {
		f.SetName(name)
	}
}

// function returns the function index of v allocating it on first use.
func (e *emitter) function(v *ast.Variable) int {
	if i, ok := e.functions[v]; ok {
		return i
	}

	i := e.b.AddFunction()
	e.functions[v] = i

	return i
}

func (e *emitter) global(v *ast.Variable) int {
	if i, ok := e.globals[v]; ok {
		return i
	}

	t, ok := v.Type.MemType()
	if !ok {
		panic(errors.New("global of non numeric type: %v %v", v, v.Type))
	}

	i := e.b.AddGlobal(v.Name, t, false)
	e.globals[v] = i

	return i
}

// local returns the slot of v in the current function allocating it on first use.
func (e *emitter) local(v *ast.Variable) int {
	if i, ok := e.locals[v]; ok {
		return i
	}

	t := v.Type.ValueType()
	if t == asmwasm.Void {
		panic(errors.New("local of non numeric type: %v %v", v, v.Type))
	}

	var i int
	if v.IsParameter() {
		i = e.f.AddParam(t)
	} else {
		i = e.f.AddLocal(t)
	}

	e.locals[v] = i

	return i
}

// descend accounts for one level of recursion and reports whether emission may go on.
// It must be paired with a deferred ascend.
func (e *emitter) descend() bool {
	e.depth++

	if e.depth > e.maxDepth {
		e.overflow = true
	}

	return !e.overflow
}

func (e *emitter) ascend() { e.depth-- }

func (e *emitter) push(target ast.Breakable, loop bool, levels, brk int) {
	e.breakables = append(e.breakables, breakable{target: target, loop: loop, levels: levels, brk: brk})
}

func (e *emitter) pop() {
	e.breakables = e.breakables[:len(e.breakables)-1]
}

// distance is the Br depth to leave or restart target from the current position.
func (e *emitter) distance(target ast.Breakable, cont bool) byte {
	d := 0

	for i := len(e.breakables) - 1; i >= 0; i-- {
		b := e.breakables[i]

		if b.target != target {
			d += b.levels
			continue
		}

		if cont {
			if !b.loop {
				panic(errors.New("continue to a non loop statement: %T", target))
			}
		} else {
			d += b.brk
		}

		if d > 0xff {
			panic(errors.New("break distance too large: %d", d))
		}

		return byte(d)
	}

	panic(errors.New("break target not found: %T", target))
}
