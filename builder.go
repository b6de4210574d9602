package asmwasm

import (
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

type (
	ModuleBuilder struct {
		memSizeLog2 uint8
		memExport   bool

		functions []*FunctionBuilder
		globals   []WriterGlobal
		data      []WriterData
	}

	// FunctionBuilder accumulates one function.
	//
	// Slots are numbered densely from 0 in creation order, parameters first.
	// The final local index space groups locals by type,
	// so local references are patched when the function is built.
	FunctionBuilder struct {
		index int

		name   string
		ret    ValueType
		sigSet bool

		slots   []ValueType
		nparams int

		code   []byte
		fixups []fixup

		exported bool
		external bool
	}

	fixup struct {
		pos  int
		slot int
	}
)

// Wire format field widths.
const (
	maxParams  = 0xff
	maxEntries = 0xffff
)

func NewModuleBuilder() *ModuleBuilder {
	return &ModuleBuilder{}
}

// AddFunction allocates a new function and returns its index.
// Indexes are never reused.
func (b *ModuleBuilder) AddFunction() int {
	i := len(b.functions)

	b.functions = append(b.functions, &FunctionBuilder{index: i})

	return i
}

func (b *ModuleBuilder) FunctionAt(i int) *FunctionBuilder {
	return b.functions[i]
}

func (b *ModuleBuilder) NumFunctions() int { return len(b.functions) }

func (b *ModuleBuilder) AddGlobal(name string, t MemType, exported bool) int {
	if !t.Valid() {
		panic(errors.New("invalid global type: %v", t))
	}

	b.globals = append(b.globals, WriterGlobal{Name: name, Type: t, Exported: exported})

	return len(b.globals) - 1
}

// GlobalOffset is the offset of global i in the globals area.
func (b *ModuleBuilder) GlobalOffset(i int) uint32 {
	types := make([]MemType, i+1)

	for j := range types {
		types[j] = b.globals[j].Type
	}

	offs, _ := LayoutGlobals(types)

	return offs[i]
}

func (b *ModuleBuilder) NumGlobals() int { return len(b.globals) }

func (b *ModuleBuilder) AddDataSegment(dest uint32, data []byte, init bool) int {
	b.data = append(b.data, WriterData{Dest: dest, Data: data, Init: init})

	return len(b.data) - 1
}

func (b *ModuleBuilder) SetMemory(log2 uint8, export bool) {
	b.memSizeLog2 = log2
	b.memExport = export
}

// Build finalizes all the functions.
func (b *ModuleBuilder) Build() (*Writer, error) {
	w := &Writer{
		MemSizeLog2:  b.memSizeLog2,
		MemExport:    b.memExport,
		Globals:      append([]WriterGlobal{}, b.globals...),
		DataSegments: append([]WriterData{}, b.data...),
		Functions:    make([]WriterFunction, len(b.functions)),
	}

	for _, c := range []struct {
		what string
		n    int
	}{
		{"globals", len(b.globals)},
		{"functions", len(b.functions)},
		{"data segments", len(b.data)},
	} {
		if c.n > maxEntries {
			return nil, errors.New("too many %s: %d, max %d", c.what, c.n, maxEntries)
		}
	}

	for i, f := range b.functions {
		if !f.sigSet {
			return nil, errors.New("function %d (%q): signature is not set", i, f.name)
		}

		if err := f.checkLimits(); err != nil {
			return nil, err
		}

		w.Functions[i] = WriterFunction{
			Name:     f.name,
			Sig:      f.Signature(),
			Locals:   f.LocalCounts(),
			Code:     f.Code(),
			Exported: f.exported,
			External: f.external,
		}

		tlog.V("build").Printw("function", "index", i, "name", f.name, "sig", w.Functions[i].Sig,
			"locals", w.Functions[i].Locals.Total(), "code", Code(w.Functions[i].Code))
	}

	return w, nil
}

// Bytes builds and writes the module image.
func (b *ModuleBuilder) Bytes() ([]byte, error) {
	w, err := b.Build()
	if err != nil {
		return nil, err
	}

	return w.Write(make([]byte, 0, w.Size())), nil
}

func (f *FunctionBuilder) Index() int { return f.index }

func (f *FunctionBuilder) SetName(n string) { f.name = n }

func (f *FunctionBuilder) Name() string { return f.name }

func (f *FunctionBuilder) ReturnType(t ValueType) {
	if !t.Valid() {
		panic(errors.New("invalid return type: %v", t))
	}

	f.ret = t
	f.sigSet = true
}

// AddParam adds a parameter slot. All the parameters must be added before locals.
func (f *FunctionBuilder) AddParam(t ValueType) int {
	if f.nparams != len(f.slots) {
		panic(errors.New("function %d: parameter added after locals", f.index))
	}

	f.nparams++

	return f.addSlot(t)
}

func (f *FunctionBuilder) AddLocal(t ValueType) int {
	return f.addSlot(t)
}

func (f *FunctionBuilder) addSlot(t ValueType) int {
	if t == Void || !t.Valid() {
		panic(errors.New("function %d: invalid local type: %v", f.index, t))
	}

	f.slots = append(f.slots, t)

	return len(f.slots) - 1
}

// checkLimits reports counts the function record can't hold.
func (f *FunctionBuilder) checkLimits() error {
	if f.nparams > maxParams {
		return errors.New("function %d (%q): too many params: %d, max %d", f.index, f.name, f.nparams, maxParams)
	}

	var n [valueTypeNext]int

	for _, t := range f.slots[f.nparams:] {
		n[t]++
	}

	for t, c := range n {
		if c > maxEntries {
			return errors.New("function %d (%q): too many %v locals: %d, max %d", f.index, f.name, ValueType(t), c, maxEntries)
		}
	}

	return nil
}

// SlotType returns the type of the slot.
func (f *FunctionBuilder) SlotType(slot int) ValueType { return f.slots[slot] }

func (f *FunctionBuilder) Exported(v bool) { f.exported = v }

func (f *FunctionBuilder) External(v bool) { f.external = v }

func (f *FunctionBuilder) IsExported() bool { return f.exported }

func (f *FunctionBuilder) Signature() *Signature {
	return NewSignature(f.ret, f.slots[:f.nparams]...)
}

// LocalCounts returns the number of non-parameter locals per type.
func (f *FunctionBuilder) LocalCounts() (c LocalCounts) {
	for _, t := range f.slots[f.nparams:] {
		c.Add(t, 1)
	}

	return c
}

func (f *FunctionBuilder) Emit(op Opcode, imm ...byte) {
	f.code = append(f.code, byte(op))
	f.code = append(f.code, imm...)
}

func (f *FunctionBuilder) EmitByte(v byte) {
	f.code = append(f.code, v)
}

func (f *FunctionBuilder) EmitLEB(v uint64) {
	var e LowEncoder

	f.code = e.Uint64(f.code, v)
}

func (f *FunctionBuilder) EmitI32(v int32) {
	var e LowEncoder

	f.code = append(f.code, byte(I32Const))
	f.code = e.U32(f.code, uint32(v))
}

func (f *FunctionBuilder) EmitI64(v int64) {
	var e LowEncoder

	f.code = append(f.code, byte(I64Const))
	f.code = e.U64(f.code, uint64(v))
}

func (f *FunctionBuilder) EmitF32(v float32) {
	var e LowEncoder

	f.code = append(f.code, byte(F32Const))
	f.code = e.Float32(f.code, v)
}

func (f *FunctionBuilder) EmitF64(v float64) {
	var e LowEncoder

	f.code = append(f.code, byte(F64Const))
	f.code = e.Float64(f.code, v)
}

// EmitLocal emits op referencing the local slot.
// The final local index is written when the function is built.
func (f *FunctionBuilder) EmitLocal(op Opcode, slot int) {
	if slot < 0 || slot >= len(f.slots) {
		panic(errors.New("function %d: no such local slot: %d", f.index, slot))
	}

	f.code = append(f.code, byte(op))
	f.fixups = append(f.fixups, fixup{pos: len(f.code), slot: slot})
}

// Len is the number of bytes emitted so far, not counting local indexes.
func (f *FunctionBuilder) Len() int { return len(f.code) }

// Code returns the function code with the final local indexes.
func (f *FunctionBuilder) Code() []byte {
	var e LowEncoder

	remap := f.remap()

	b := make([]byte, 0, len(f.code)+len(f.fixups))
	last := 0

	for _, x := range f.fixups {
		b = append(b, f.code[last:x.pos]...)
		b = e.Uint64(b, uint64(remap[x.slot]))
		last = x.pos
	}

	return append(b, f.code[last:]...)
}

// LocalIndex returns the final index of the slot.
func (f *FunctionBuilder) LocalIndex(slot int) int {
	return f.remap()[slot]
}

// remap maps slots to the final local index space:
// parameters, then i32, i64, f32 and f64 locals in creation order.
func (f *FunctionBuilder) remap() []int {
	r := make([]int, len(f.slots))

	next := f.nparams

	for i := 0; i < f.nparams; i++ {
		r[i] = i
	}

	for _, t := range []ValueType{I32, I64, F32, F64} {
		for i := f.nparams; i < len(f.slots); i++ {
			if f.slots[i] == t {
				r[i] = next
				next++
			}
		}
	}

	return r
}
