package asmwasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"tlog.app/go/tlog"
)

type (
	Decoder struct {
		Limits Limits
	}

	LowDecoder struct{}

	Limits struct {
		MinModuleSize   int `toml:"min_module_size"`
		MaxModuleSize   int `toml:"max_module_size"`
		MaxFunctionSize int `toml:"max_function_size"`
		MaxMemSizeLog2  int `toml:"max_mem_size_log2"`
		MaxNesting      int `toml:"max_nesting"`
	}

	// DecodeError is the first error found in a module image.
	// Pos is relative to the start of the image.
	DecodeError struct {
		Pos int
		Msg string
		Err error
	}

	reader struct {
		LowDecoder

		b   []byte
		i   int
		err *DecodeError
	}
)

var DefaultLimits = Limits{
	MinModuleSize:   HeaderSize,
	MaxModuleSize:   1 << 30,
	MaxFunctionSize: 128 << 10,
	MaxMemSizeLog2:  30,
	MaxNesting:      1024,
}

var (
	ErrModuleTooSmall   = errors.New("module too small")
	ErrModuleTooLarge   = errors.New("module too large")
	ErrMemoryTooLarge   = errors.New("memory too large")
	ErrFunctionTooLarge = errors.New("function too large")
	ErrOutOfBounds      = errors.New("offset out of bounds")
	ErrOverflow         = errors.New("integer overflow")
	ErrUnexpectedEOF    = io.ErrUnexpectedEOF
)

// Module decodes a whole module image.
// b is kept as the module Image, it must not be modified while m is used.
//
// Images rejected by size checks return nil module.
// Otherwise the module is returned even on error with all the entries decoded so far,
// but it must not be used for anything except diagnostics.
func (d *Decoder) Module(b []byte, verify bool) (m *Module, err error) {
	l := d.limits()

	switch {
	case len(b) < l.MinModuleSize:
		return nil, &DecodeError{Pos: len(b), Msg: "module too small", Err: ErrModuleTooSmall}
	case len(b) >= l.MaxModuleSize:
		return nil, &DecodeError{Pos: 0, Msg: "module too large", Err: ErrModuleTooLarge}
	case len(b) > 0 && int(b[0]) > l.MaxMemSizeLog2:
		return nil, &DecodeError{Pos: 0, Msg: fmt.Sprintf("memory size 2^%d exceeds 2^%d", b[0], l.MaxMemSizeLog2), Err: ErrMemoryTooLarge}
	}

	r := reader{b: b}
	m = &Module{Image: b, MaxNesting: l.MaxNesting}

	m.MemSizeLog2 = r.u8()
	m.MemExport = r.bool()

	globals := int(r.u16())
	functions := int(r.u16())
	segments := int(r.u16())

	tlog.V("decode").Printw("module header", "mem_size_log2", m.MemSizeLog2, "mem_export", m.MemExport,
		"globals", globals, "functions", functions, "data_segments", segments, "size", len(b))

	for n := 0; n < globals && !r.failed(); n++ {
		m.Globals = append(m.Globals, r.global())
	}

	for n := 0; n < functions && !r.failed(); n++ {
		m.Functions = append(m.Functions, r.function(&l))
	}

	for n := 0; n < segments && !r.failed(); n++ {
		m.DataSegments = append(m.DataSegments, r.dataSegment())
	}

	m.layoutGlobals()

	if verify && !r.failed() {
		r.verifyFunctions(m)
	}

	if r.err != nil {
		tlog.V("decode").Printw("decode failed", "pos", r.err.Pos, "err", r.err)

		return m, r.err
	}

	return m, nil
}

// Function decodes a single function record at the start of b.
// Offsets of the record are relative to b.
// m provides globals and functions for verification, it may be nil.
func (d *Decoder) Function(b []byte, m *Module, verify bool) (*Function, error) {
	l := d.limits()

	r := reader{b: b}

	f := r.function(&l)

	if verify && !r.failed() && !f.External {
		env := &FunctionEnv{Module: m, Sig: f.Sig, Locals: f.Locals, MaxNesting: l.MaxNesting}

		_, err := ParseBody(env, b[f.CodeStart:f.CodeEnd])
		if ve, ok := err.(*VerifyError); ok {
			r.fail(int(f.CodeStart)+ve.Pos, ve, "%s", ve.Msg)
		}
	}

	if r.err != nil {
		return &f, r.err
	}

	return &f, nil
}

// Signature decodes an inline signature at the start of b.
// It returns nil if b is not a valid signature.
func (d *Decoder) Signature(b []byte) *Signature {
	r := reader{b: b}

	s := r.signature()
	if r.failed() {
		return nil
	}

	return s
}

func (d *Decoder) limits() (l Limits) {
	l = d.Limits

	if l.MinModuleSize == 0 {
		l.MinModuleSize = DefaultLimits.MinModuleSize
	}
	if l.MaxModuleSize == 0 {
		l.MaxModuleSize = DefaultLimits.MaxModuleSize
	}
	if l.MaxFunctionSize == 0 {
		l.MaxFunctionSize = DefaultLimits.MaxFunctionSize
	}
	if l.MaxMemSizeLog2 == 0 {
		l.MaxMemSizeLog2 = DefaultLimits.MaxMemSizeLog2
	}
	if l.MaxNesting == 0 {
		l.MaxNesting = DefaultLimits.MaxNesting
	}

	return l
}

func (r *reader) global() (g Global) {
	g.NameOffset = r.name()
	g.Type = r.memType()
	g.Exported = r.bool()

	return g
}

func (r *reader) function(l *Limits) (f Function) {
	f.Sig = r.signature()
	f.NameOffset = r.name()

	pos := r.i

	f.CodeStart = r.offset("code start")
	f.CodeEnd = r.offset("code end")

	f.Locals.I32 = r.u16()
	f.Locals.I64 = r.u16()
	f.Locals.F32 = r.u16()
	f.Locals.F64 = r.u16()

	f.Exported = r.bool()
	f.External = r.bool()

	switch {
	case r.failed():
	case f.CodeStart > f.CodeEnd:
		r.fail(pos, ErrOutOfBounds, "code start 0x%x after code end 0x%x", f.CodeStart, f.CodeEnd)
	case int(f.CodeEnd-f.CodeStart) > l.MaxFunctionSize:
		r.fail(pos, ErrFunctionTooLarge, "function code size %d exceeds %d", f.CodeEnd-f.CodeStart, l.MaxFunctionSize)
	}

	return f
}

func (r *reader) dataSegment() (s DataSegment) {
	s.Dest = r.u32()

	pos := r.i

	s.SourceOffset = r.offset("data source")
	s.SourceSize = r.u32()
	s.Init = r.bool()

	if !r.failed() && uint64(s.SourceOffset)+uint64(s.SourceSize) > uint64(len(r.b)) {
		r.fail(pos, ErrOutOfBounds, "data segment 0x%x+%d out of bounds", s.SourceOffset, s.SourceSize)
	}

	return s
}

func (r *reader) verifyFunctions(m *Module) {
	for i := range m.Functions {
		f := &m.Functions[i]
		if f.External {
			continue
		}

		_, err := ParseBody(m.Env(i), m.Code(i))
		if err == nil {
			continue
		}

		if ve, ok := err.(*VerifyError); ok {
			r.fail(int(f.CodeStart)+ve.Pos, ve, "function #%d: %s", i, ve.Msg)
		} else {
			r.fail(int(f.CodeStart), err, "function #%d: %v", i, err)
		}

		return
	}
}

func (r *reader) signature() *Signature {
	n := int(r.u8())

	s := &Signature{
		Return: r.valueType(),
		Params: make([]ValueType, 0, n),
	}

	for j := 0; j < n && !r.failed(); j++ {
		pos := r.i

		p := r.valueType()
		if p == Void && !r.failed() {
			r.fail(pos, nil, "void parameter type")
			p = I32
		}

		s.Params = append(s.Params, p)
	}

	return s
}

func (r *reader) name() uint32 {
	pos := r.i

	off := r.offset("name")
	if off == 0 || r.failed() {
		return off
	}

	if bytes.IndexByte(r.b[off:], 0) < 0 {
		r.fail(pos, ErrOutOfBounds, "name at 0x%x is not terminated", off)
	}

	return off
}

func (r *reader) offset(what string) uint32 {
	pos := r.i

	v := r.u32()
	if uint64(v) > uint64(len(r.b)) {
		r.fail(pos, ErrOutOfBounds, "%s offset 0x%x out of bounds", what, v)
	}

	return v
}

func (r *reader) valueType() ValueType {
	pos := r.i

	t := ValueType(r.u8())
	if !t.Valid() {
		r.fail(pos, nil, "invalid value type %d", byte(t))
		return Void
	}

	return t
}

func (r *reader) memType() MemType {
	pos := r.i

	t := MemType(r.u8())
	if !t.Valid() {
		r.fail(pos, nil, "invalid memory type %d", byte(t))
		return Int32
	}

	return t
}

func (r *reader) bool() bool {
	pos := r.i

	v := r.u8()
	if v > 1 {
		r.fail(pos, nil, "invalid flag %d", v)
	}

	return v == 1
}

func (r *reader) u8() byte {
	v, i, err := r.Byte(r.b, r.i)
	r.advance(i, err)

	return v
}

func (r *reader) u16() uint16 {
	v, i, err := r.U16(r.b, r.i)
	r.advance(i, err)

	return v
}

func (r *reader) u32() uint32 {
	v, i, err := r.U32(r.b, r.i)
	r.advance(i, err)

	return v
}

// advance moves the cursor or, on error, moves it to the end so that following reads return zero values.
func (r *reader) advance(i int, err error) {
	if err != nil {
		r.fail(r.i, err, "fell off end")
		r.i = len(r.b)

		return
	}

	r.i = i
}

func (r *reader) failed() bool { return r.err != nil }

// fail records the error unless one was already recorded.
func (r *reader) fail(pos int, err error, format string, args ...interface{}) {
	if r.err != nil {
		return
	}

	r.err = &DecodeError{Pos: pos, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *DecodeError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Msg {
		return fmt.Sprintf("%s at pos 0x%x: %v", e.Msg, e.Pos, e.Err)
	}

	return fmt.Sprintf("%s at pos 0x%x", e.Msg, e.Pos)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (d *LowDecoder) Byte(b []byte, st int) (r byte, i int, err error) {
	i = st

	if i >= len(b) {
		return 0, i, ErrUnexpectedEOF
	}

	return b[i], i + 1, nil
}

func (d *LowDecoder) U16(b []byte, st int) (v uint16, i int, err error) {
	if st+2 > len(b) {
		return 0, st, ErrUnexpectedEOF
	}

	return uint16(b[st]) | uint16(b[st+1])<<8, st + 2, nil
}

func (d *LowDecoder) U32(b []byte, st int) (v uint32, i int, err error) {
	if st+4 > len(b) {
		return 0, st, ErrUnexpectedEOF
	}

	return uint32(b[st]) | uint32(b[st+1])<<8 | uint32(b[st+2])<<16 | uint32(b[st+3])<<24, st + 4, nil
}

func (d *LowDecoder) U64(b []byte, st int) (v uint64, i int, err error) {
	if st+8 > len(b) {
		return 0, st, ErrUnexpectedEOF
	}

	lo, _, _ := d.U32(b, st)
	hi, _, _ := d.U32(b, st+4)

	return uint64(lo) | uint64(hi)<<32, st + 8, nil
}

func (d *LowDecoder) Int(b []byte, st int) (l, i int, err error) {
	x, i, err := d.Uint64(b, st)
	return int(x), i, err
}

// Uint64 reads unsigned LEB128.
func (d *LowDecoder) Uint64(b []byte, st int) (v uint64, i int, err error) {
	var s uint
	i = st

	for i < len(b) {
		v |= uint64(b[i]&0x7f) << s
		i++
		s += 7

		if b[i-1]&0x80 == 0 {
			return v, i, nil
		}

		if s >= 64 {
			return v, st, ErrOverflow
		}
	}

	return 0, st, ErrUnexpectedEOF
}

// Int64 reads signed LEB128.
func (d *LowDecoder) Int64(b []byte, st int) (v int64, i int, err error) {
	var s uint
	i = st

	for i < len(b) {
		v |= int64(b[i]&0x7f) << s
		i++
		s += 7

		if b[i-1]&0x80 == 0 {
			if s < 64 {
				v = v << (64 - s) >> (64 - s)
			}

			return v, i, nil
		}

		if s >= 64 {
			return v, st, ErrOverflow
		}
	}

	return 0, st, ErrUnexpectedEOF
}
