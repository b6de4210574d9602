package lower

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"nikand.dev/go/asmwasm"
)

type (
	lowerer struct {
		Encoder

		m *asmwasm.Module

		// wasm function index by module function index
		funcs []uint32
	}

	function struct {
		*lowerer

		sig *asmwasm.Signature

		// scratch local index by value type
		scratch [5]uint32

		// label stack, true for labels of Block and Loop nodes
		labels []bool
	}
)

var simpleOps [256]byte

// Module translates the module into a WebAssembly 1.0 binary.
// Function bodies are parsed and checked on the way, so m may be decoded unverified.
func Module(ctx context.Context, m *asmwasm.Module) (_ []byte, err error) {
	l := &lowerer{
		m:     m,
		funcs: make([]uint32, len(m.Functions)),
	}

	var imports uint32

	for i, f := range m.Functions {
		if f.External {
			l.funcs[i] = imports
			imports++
		}
	}

	next := imports

	for i, f := range m.Functions {
		if !f.External {
			l.funcs[i] = next
			next++
		}
	}

	bodies := make([][]byte, len(m.Functions))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range m.Functions {
		if m.Functions[i].External {
			continue
		}

		i := i

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			body, err := l.function(i)
			if err != nil {
				return errors.Wrap(err, "function %d", i)
			}

			bodies[i] = body

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err
	}

	b := l.assemble(bodies)

	tlog.V("lower").Printw("module lowered", "functions", len(m.Functions), "imports", imports, "size", len(b))

	return b, nil
}

func (l *lowerer) assemble(bodies [][]byte) []byte {
	m := l.m

	var types []*asmwasm.Signature
	typeidx := make([]int, len(m.Functions))

	for i, f := range m.Functions {
		typeidx[i] = -1

		for j, t := range types {
			if t.Equal(f.Sig) {
				typeidx[i] = j
				break
			}
		}

		if typeidx[i] < 0 {
			typeidx[i] = len(types)
			types = append(types, f.Sig)
		}
	}

	b := append([]byte(Magic), Version...)

	var sec []byte
	var n int

	for _, t := range types {
		sec = l.FuncType(sec, t)
	}

	b = l.Section(b, SectionType, l.Vec(nil, len(types), sec))

	sec, n = nil, 0
	for i, f := range m.Functions {
		if !f.External {
			continue
		}

		sec = l.Name(sec, ImportModule)
		sec = l.Name(sec, FuncName(m, i))
		sec = append(sec, KindFunc)
		sec = l.Int(sec, typeidx[i])
		n++
	}

	if n != 0 {
		b = l.Section(b, SectionImport, l.Vec(nil, n, sec))
	}

	sec, n = nil, 0
	for i, f := range m.Functions {
		if f.External {
			continue
		}

		sec = l.Int(sec, typeidx[i])
		n++
	}

	b = l.Section(b, SectionFunction, l.Vec(nil, n, sec))

	pages := int((m.MemSize() + PageSize - 1) / PageSize)
	if pages == 0 {
		pages = 1
	}

	b = l.Section(b, SectionMemory, l.Vec(nil, 1, l.Limits(nil, pages, pages)))

	if len(m.Globals) != 0 {
		sec = nil
		for _, g := range m.Globals {
			t := g.Type.ValueType()

			sec = append(sec, ValueType(t), GlobalVar)
			sec = l.ZeroConst(sec, t)
		}

		b = l.Section(b, SectionGlobal, l.Vec(nil, len(m.Globals), sec))
	}

	sec, n = nil, 0
	for i, f := range m.Functions {
		if !f.Exported {
			continue
		}

		sec = l.Name(sec, FuncName(m, i))
		sec = append(sec, KindFunc)
		sec = l.Uint64(sec, uint64(l.funcs[i]))
		n++
	}

	if m.MemExport {
		sec = l.Name(sec, "memory")
		sec = append(sec, KindMemory, 0)
		n++
	}

	for i, g := range m.Globals {
		name := m.Name(g.NameOffset)
		if !g.Exported || name == "" {
			continue
		}

		sec = l.Name(sec, name)
		sec = append(sec, KindGlobal)
		sec = l.Int(sec, i)
		n++
	}

	if n != 0 {
		b = l.Section(b, SectionExport, l.Vec(nil, n, sec))
	}

	sec, n = nil, 0
	for i, f := range m.Functions {
		if f.External {
			continue
		}

		sec = l.Int(sec, len(bodies[i]))
		sec = append(sec, bodies[i]...)
		n++
	}

	b = l.Section(b, SectionCode, l.Vec(nil, n, sec))

	sec, n = nil, 0
	for _, d := range m.DataSegments {
		if !d.Init {
			continue
		}

		sec = append(sec, 0, I32Const)
		sec = l.Int64(sec, int64(int32(d.Dest)))
		sec = append(sec, End)
		sec = l.Int(sec, int(d.SourceSize))
		sec = append(sec, m.Image[d.SourceOffset:d.SourceOffset+d.SourceSize]...)
		n++
	}

	if n != 0 {
		b = l.Section(b, SectionData, l.Vec(nil, n, sec))
	}

	return b
}

// FuncName is the import or export name of function i.
func FuncName(m *asmwasm.Module, i int) string {
	if n := m.FunctionName(i); n != "" {
		return n
	}

	return fmt.Sprintf("f%d", i)
}

func (l *lowerer) function(i int) ([]byte, error) {
	f := &l.m.Functions[i]

	nodes, err := asmwasm.ParseBody(l.m.Env(i), l.m.Code(i))
	if err != nil {
		return nil, errors.Wrap(err, "parse body")
	}

	fn := &function{
		lowerer: l,
		sig:     f.Sig,
	}

	b := fn.locals(nil, f.Locals)

	ret := f.Sig.Return
	result := false

	for j, n := range nodes {
		keep := j == len(nodes)-1 && ret != asmwasm.Void && n.Type == ret

		b = fn.node(b, n, keep)
		result = keep
	}

	if ret != asmwasm.Void && !result {
		b = append(b, Unreachable)
	}

	b = append(b, End)

	tlog.V("lower").Printw("function lowered", "index", i, "wasm_index", l.funcs[i], "sig", f.Sig, "nodes", len(nodes), "size", len(b))

	return b, nil
}

// locals appends local declarations: the declared locals grouped by type
// followed by one scratch local of each type.
func (f *function) locals(b []byte, c asmwasm.LocalCounts) []byte {
	types := []asmwasm.ValueType{asmwasm.I32, asmwasm.I64, asmwasm.F32, asmwasm.F64}

	var groups int
	var decl []byte

	for _, t := range types {
		if k := c.Count(t); k != 0 {
			decl = f.Int(decl, k)
			decl = append(decl, ValueType(t))
			groups++
		}
	}

	next := uint32(len(f.sig.Params) + c.Total())

	for _, t := range types {
		decl = f.Int(decl, 1)
		decl = append(decl, ValueType(t))
		groups++

		f.scratch[t] = next
		next++
	}

	return f.Vec(b, groups, decl)
}

func (f *function) node(b []byte, n *asmwasm.Node, keep bool) []byte {
	switch n.Op {
	case asmwasm.Nop:
		return b
	case asmwasm.Block, asmwasm.Loop:
		if n.Op == asmwasm.Block {
			b = append(b, Block, BlockEmpty)
		} else {
			b = append(b, Loop, BlockEmpty)
		}

		f.labels = append(f.labels, true)

		for _, a := range n.Args {
			b = f.node(b, a, false)
		}

		if n.Op == asmwasm.Loop {
			b = append(b, Br, 0)
		}

		f.labels = f.labels[:len(f.labels)-1]

		return append(b, End)
	case asmwasm.Br:
		b = append(b, Br)
		return f.Int(b, f.depth(n.Imm))
	case asmwasm.If, asmwasm.IfThen:
		b = f.node(b, n.Args[0], true)
		b = append(b, If, BlockEmpty)

		f.labels = append(f.labels, false)

		b = f.node(b, n.Args[1], false)

		if n.Op == asmwasm.IfThen {
			b = append(b, Else)
			b = f.node(b, n.Args[2], false)
		}

		f.labels = f.labels[:len(f.labels)-1]

		return append(b, End)
	case asmwasm.Return:
		for _, a := range n.Args {
			b = f.node(b, a, true)
		}

		return append(b, Ret)
	case asmwasm.I32Const:
		b = append(b, I32Const)
		b = f.Int64(b, int64(int32(n.Imm)))
	case asmwasm.I64Const:
		b = append(b, I64Const)
		b = f.Int64(b, int64(n.Imm))
	case asmwasm.F32Const:
		b = append(b, F32Const)
		b = f.U32(b, uint32(n.Imm))
	case asmwasm.F64Const:
		b = append(b, F64Const)
		b = f.U64(b, n.Imm)
	case asmwasm.GetLocal:
		b = append(b, LocalGet)
		b = f.Uint64(b, n.Imm)
	case asmwasm.SetLocal:
		b = f.node(b, n.Args[0], true)

		if keep {
			b = append(b, LocalTee)
		} else {
			b = append(b, LocalSet)
		}

		return f.Uint64(b, n.Imm)
	case asmwasm.LoadGlobal:
		b = append(b, GlobalGet)
		b = f.Uint64(b, n.Imm)
	case asmwasm.StoreGlobal:
		b = f.node(b, n.Args[0], true)
		b = f.narrow(b, f.m.Globals[n.Imm].Type)

		b = append(b, GlobalSet)
		b = f.Uint64(b, n.Imm)

		if keep {
			b = append(b, GlobalGet)
			b = f.Uint64(b, n.Imm)
		}

		return b
	case asmwasm.CallFunction:
		for _, a := range n.Args {
			b = f.node(b, a, true)
		}

		b = append(b, Call)
		b = f.Uint64(b, uint64(f.funcs[n.Imm]))
	case asmwasm.Ternary:
		b = f.node(b, n.Args[0], true)

		bt := byte(BlockEmpty)
		if n.Type != asmwasm.Void {
			bt = ValueType(n.Type)
		}

		b = append(b, If, bt)

		f.labels = append(f.labels, false)

		b = f.node(b, n.Args[1], n.Type != asmwasm.Void)
		b = append(b, Else)
		b = f.node(b, n.Args[2], n.Type != asmwasm.Void)

		f.labels = f.labels[:len(f.labels)-1]

		b = append(b, End)
	case asmwasm.Comma:
		b = f.node(b, n.Args[0], false)

		return f.node(b, n.Args[1], keep)
	case asmwasm.LoadMem:
		b = f.node(b, n.Args[0], true)
		b = append(b, loadOp(asmwasm.MemType(n.Imm)), 0, 0)
	case asmwasm.StoreMem:
		b = f.node(b, n.Args[0], true)
		b = f.node(b, n.Args[1], true)

		if keep {
			b = append(b, LocalTee)
			b = f.Uint64(b, uint64(f.scratch[n.Type]))
		}

		b = append(b, storeOp(asmwasm.MemType(n.Imm)), 0, 0)

		if keep {
			b = append(b, LocalGet)
			b = f.Uint64(b, uint64(f.scratch[n.Type]))
		}

		return b
	default:
		for _, a := range n.Args {
			b = f.node(b, a, true)
		}

		op := simpleOps[n.Op]
		if op == 0 {
			panic(errors.New("no wasm opcode for %v", n.Op))
		}

		b = append(b, op)
	}

	if !keep && n.Type != asmwasm.Void {
		b = append(b, Drop)
	}

	return b
}

// depth translates the branch depth in Block and Loop nodes into a wasm label index.
func (f *function) depth(d uint64) int {
	for i := len(f.labels) - 1; i >= 0; i-- {
		if !f.labels[i] {
			continue
		}

		if d == 0 {
			return len(f.labels) - 1 - i
		}

		d--
	}

	panic(errors.New("branch depth out of range"))
}

// narrow truncates the value on top of the stack to the width of the global type.
func (f *function) narrow(b []byte, t asmwasm.MemType) []byte {
	switch t {
	case asmwasm.Int8, asmwasm.Int16:
		s := int64(32 - 8*t.Size())

		b = append(b, I32Const)
		b = f.Int64(b, s)
		b = append(b, I32Shl, I32Const)
		b = f.Int64(b, s)
		b = append(b, I32ShrS)
	case asmwasm.Uint8, asmwasm.Uint16:
		mask := int64(1)<<(8*t.Size()) - 1

		b = append(b, I32Const)
		b = f.Int64(b, mask)
		b = append(b, I32And)
	}

	return b
}

func loadOp(t asmwasm.MemType) byte {
	switch t {
	case asmwasm.Int8:
		return I32Load8S
	case asmwasm.Uint8:
		return I32Load8U
	case asmwasm.Int16:
		return I32Load16S
	case asmwasm.Uint16:
		return I32Load16U
	case asmwasm.Int32, asmwasm.Uint32:
		return I32Load
	case asmwasm.Int64, asmwasm.Uint64:
		return I64Load
	case asmwasm.Float32:
		return F32Load
	default:
		return F64Load
	}
}

func storeOp(t asmwasm.MemType) byte {
	switch t {
	case asmwasm.Int8, asmwasm.Uint8:
		return I32Store8
	case asmwasm.Int16, asmwasm.Uint16:
		return I32Store16
	case asmwasm.Int32, asmwasm.Uint32:
		return I32Store
	case asmwasm.Int64, asmwasm.Uint64:
		return I64Store
	case asmwasm.Float32:
		return F32Store
	default:
		return F64Store
	}
}

func init() {
	for op, w := range map[asmwasm.Opcode]byte{
		asmwasm.I32Add: I32Add, asmwasm.I32Sub: I32Sub, asmwasm.I32Mul: I32Mul,
		asmwasm.I32DivS: I32DivS, asmwasm.I32DivU: I32DivU, asmwasm.I32RemS: I32RemS, asmwasm.I32RemU: I32RemU,
		asmwasm.I32And: I32And, asmwasm.I32Ior: I32Or, asmwasm.I32Xor: I32Xor,
		asmwasm.I32Shl: I32Shl, asmwasm.I32ShrU: I32ShrU, asmwasm.I32ShrS: I32ShrS,
		asmwasm.I32Eq: I32Eq, asmwasm.I32Ne: I32Ne,
		asmwasm.I32LtS: I32LtS, asmwasm.I32LeS: I32LeS, asmwasm.I32LtU: I32LtU, asmwasm.I32LeU: I32LeU,
		asmwasm.I32GtS: I32GtS, asmwasm.I32GeS: I32GeS, asmwasm.I32GtU: I32GtU, asmwasm.I32GeU: I32GeU,
		asmwasm.BoolNot: I32EqZ,

		asmwasm.I64Add: I64Add, asmwasm.I64Sub: I64Sub, asmwasm.I64Mul: I64Mul,
		asmwasm.I64DivS: I64DivS, asmwasm.I64DivU: I64DivU, asmwasm.I64RemS: I64RemS, asmwasm.I64RemU: I64RemU,
		asmwasm.I64And: I64And, asmwasm.I64Ior: I64Or, asmwasm.I64Xor: I64Xor,
		asmwasm.I64Shl: I64Shl, asmwasm.I64ShrU: I64ShrU, asmwasm.I64ShrS: I64ShrS,
		asmwasm.I64Eq: I64Eq, asmwasm.I64Ne: I64Ne,
		asmwasm.I64LtS: I64LtS, asmwasm.I64LeS: I64LeS, asmwasm.I64LtU: I64LtU, asmwasm.I64LeU: I64LeU,
		asmwasm.I64GtS: I64GtS, asmwasm.I64GeS: I64GeS, asmwasm.I64GtU: I64GtU, asmwasm.I64GeU: I64GeU,

		asmwasm.F32Add: F32Add, asmwasm.F32Sub: F32Sub, asmwasm.F32Mul: F32Mul, asmwasm.F32Div: F32Div,
		asmwasm.F32Min: F32Min, asmwasm.F32Max: F32Max, asmwasm.F32Abs: F32Abs, asmwasm.F32Neg: F32Neg,
		asmwasm.F32CopySign: F32CopySign, asmwasm.F32Ceil: F32Ceil, asmwasm.F32Floor: F32Floor,
		asmwasm.F32Trunc: F32Trunc, asmwasm.F32NearestInt: F32Near, asmwasm.F32Sqrt: F32Sqrt,
		asmwasm.F32Eq: F32Eq, asmwasm.F32Ne: F32Ne, asmwasm.F32Lt: F32Lt, asmwasm.F32Le: F32Le,
		asmwasm.F32Gt: F32Gt, asmwasm.F32Ge: F32Ge,

		asmwasm.F64Add: F64Add, asmwasm.F64Sub: F64Sub, asmwasm.F64Mul: F64Mul, asmwasm.F64Div: F64Div,
		asmwasm.F64Min: F64Min, asmwasm.F64Max: F64Max, asmwasm.F64Abs: F64Abs, asmwasm.F64Neg: F64Neg,
		asmwasm.F64CopySign: F64CopySign, asmwasm.F64Ceil: F64Ceil, asmwasm.F64Floor: F64Floor,
		asmwasm.F64Trunc: F64Trunc, asmwasm.F64NearestInt: F64Near, asmwasm.F64Sqrt: F64Sqrt,
		asmwasm.F64Eq: F64Eq, asmwasm.F64Ne: F64Ne, asmwasm.F64Lt: F64Lt, asmwasm.F64Le: F64Le,
		asmwasm.F64Gt: F64Gt, asmwasm.F64Ge: F64Ge,

		asmwasm.I32SConvertF32: I32TruncF32S, asmwasm.I32SConvertF64: I32TruncF64S,
		asmwasm.I32UConvertF32: I32TruncF32U, asmwasm.I32UConvertF64: I32TruncF64U,
		asmwasm.I32ConvertI64:  I32WrapI64,
		asmwasm.I64SConvertF32: I64TruncF32S, asmwasm.I64SConvertF64: I64TruncF64S,
		asmwasm.I64UConvertF32: I64TruncF32U, asmwasm.I64UConvertF64: I64TruncF64U,
		asmwasm.I64SConvertI32: I64ExtendI32S, asmwasm.I64UConvertI32: I64ExtendI32U,
		asmwasm.F32SConvertI32: F32ConvertI32S, asmwasm.F32UConvertI32: F32ConvertI32U,
		asmwasm.F32SConvertI64: F32ConvertI64S, asmwasm.F32UConvertI64: F32ConvertI64U,
		asmwasm.F32ConvertF64: F32DemoteF64, asmwasm.F32ReinterpretI32: F32ReinterpretI32,
		asmwasm.F64SConvertI32: F64ConvertI32S, asmwasm.F64UConvertI32: F64ConvertI32U,
		asmwasm.F64SConvertI64: F64ConvertI64S, asmwasm.F64UConvertI64: F64ConvertI64U,
		asmwasm.F64ConvertF32: F64PromoteF32, asmwasm.F64ReinterpretI64: F64ReinterpretI64,
		asmwasm.I32ReinterpretF32: I32ReinterpretF32, asmwasm.I64ReinterpretF64: I64ReinterpretF64,
	} {
		simpleOps[op] = w
	}
}
