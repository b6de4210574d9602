package engine

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"nikand.dev/go/asmwasm"
	"nikand.dev/go/asmwasm/lower"
)

type (
	// Engine instantiates prototype modules.
	// Compiled code is shared between instances through a compilation cache.
	Engine struct {
		cache wazero.CompilationCache
	}

	Instance struct {
		m *asmwasm.Module

		r   wazero.Runtime
		mod api.Module
	}

	Option func(*config)

	config struct {
		name    string
		imports map[string]api.GoModuleFunction
	}
)

var (
	ErrDataOutOfBounds = stderrors.New("data segment out of memory bounds")
	ErrMissingImport   = stderrors.New("missing import")
	ErrNoExport        = stderrors.New("no such export")
)

func New(ctx context.Context) *Engine {
	return &Engine{
		cache: wazero.NewCompilationCache(),
	}
}

// WithName sets the instance module name.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithImport supplies the implementation of the External function called name.
// Unnamed functions are called f<index>.
func WithImport(name string, fn api.GoModuleFunction) Option {
	return func(c *config) {
		if c.imports == nil {
			c.imports = map[string]api.GoModuleFunction{}
		}

		c.imports[name] = fn
	}
}

// Instantiate lowers m, compiles it and creates an instance with its own memory and globals.
func (e *Engine) Instantiate(ctx context.Context, m *asmwasm.Module, opts ...Option) (_ *Instance, err error) {
	var c config

	for _, o := range opts {
		o(&c)
	}

	err = checkData(m)
	if err != nil {
		return nil, err
	}

	bin, err := lower.Module(ctx, m)
	if err != nil {
		return nil, errors.Wrap(err, "lower")
	}

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCompilationCache(e.cache))
	defer func() {
		if err != nil {
			_ = r.Close(ctx)
		}
	}()

	err = imports(ctx, r, m, c.imports)
	if err != nil {
		return nil, err
	}

	cm, err := r.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Wrap(err, "compile")
	}

	mod, err := r.InstantiateModule(ctx, cm, wazero.NewModuleConfig().WithName(c.name))
	if err != nil {
		return nil, errors.Wrap(err, "instantiate")
	}

	tlog.V("engine").Printw("instantiated", "name", c.name, "functions", len(m.Functions), "wasm_size", len(bin))

	return &Instance{
		m:   m,
		r:   r,
		mod: mod,
	}, nil
}

func (e *Engine) Close(ctx context.Context) error {
	return e.cache.Close(ctx)
}

func checkData(m *asmwasm.Module) error {
	size := m.MemSize()

	for i, d := range m.DataSegments {
		if !d.Init {
			continue
		}

		if uint64(d.Dest)+uint64(d.SourceSize) > size {
			return errors.Wrap(ErrDataOutOfBounds, "segment %d: [%#x+%#x] > %#x", i, d.Dest, d.SourceSize, size)
		}
	}

	return nil
}

func imports(ctx context.Context, r wazero.Runtime, m *asmwasm.Module, fns map[string]api.GoModuleFunction) error {
	var b wazero.HostModuleBuilder
	used := 0

	for i, f := range m.Functions {
		if !f.External {
			continue
		}

		name := lower.FuncName(m, i)

		fn, ok := fns[name]
		if !ok {
			return errors.Wrap(ErrMissingImport, "%v", name)
		}

		if b == nil {
			b = r.NewHostModuleBuilder(lower.ImportModule)
		}

		params, results := valueTypes(f.Sig)

		b.NewFunctionBuilder().
			WithGoModuleFunction(fn, params, results).
			WithName(name).
			Export(name)

		used++
	}

	if used < len(fns) {
		tlog.V("engine").Printw("unused imports", "provided", len(fns), "used", used)
	}

	if b == nil {
		return nil
	}

	_, err := b.Instantiate(ctx)
	if err != nil {
		return errors.Wrap(err, "instantiate imports")
	}

	return nil
}

func valueTypes(s *asmwasm.Signature) (params, results []api.ValueType) {
	params = make([]api.ValueType, len(s.Params))

	for i, p := range s.Params {
		params[i] = valueType(p)
	}

	if s.Return != asmwasm.Void {
		results = []api.ValueType{valueType(s.Return)}
	}

	return params, results
}

func valueType(t asmwasm.ValueType) api.ValueType {
	switch t {
	case asmwasm.I32:
		return api.ValueTypeI32
	case asmwasm.I64:
		return api.ValueTypeI64
	case asmwasm.F32:
		return api.ValueTypeF32
	case asmwasm.F64:
		return api.ValueTypeF64
	}

	panic(fmt.Sprintf("unsupported value type: %v", t))
}

// Call calls the exported function name.
// Arguments and results are encoded with api.EncodeI32, api.EncodeF64 and similar.
func (i *Instance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.Wrap(ErrNoExport, "%v", name)
	}

	res, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, errors.Wrap(err, "call %v", name)
	}

	return res, nil
}

// Memory is the instance linear memory.
func (i *Instance) Memory() api.Memory {
	return i.mod.Memory()
}

// Module is the prototype module the instance was created from.
func (i *Instance) Module() *asmwasm.Module { return i.m }

func (i *Instance) Close(ctx context.Context) error {
	return i.r.Close(ctx)
}
