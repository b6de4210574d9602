package asmwasm

import (
	"bytes"

	"tlog.app/go/tlog/tlwire"
)

type (
	// Module is a decoded module image.
	// All offsets are relative to the start of Image.
	Module struct {
		Image []byte

		MemSizeLog2 uint8
		MemExport   bool

		Globals      []Global
		Functions    []Function
		DataSegments []DataSegment

		// MaxNesting is the verifier nesting limit the module was decoded with.
		// Not on the wire, 0 means the default.
		MaxNesting int
	}

	Function struct {
		Sig *Signature

		NameOffset uint32
		CodeStart  uint32
		CodeEnd    uint32

		Locals LocalCounts

		Exported bool
		External bool
	}

	Global struct {
		NameOffset uint32
		Type       MemType

		// Offset in the globals area. Not on the wire.
		Offset uint32

		Exported bool
	}

	DataSegment struct {
		Dest         uint32
		SourceOffset uint32
		SourceSize   uint32
		Init         bool
	}

	Code []byte
)

// Wire layout sizes.
const (
	HeaderSize        = 8
	GlobalRecordSize  = 6
	DataSegRecordSize = 13

	// function record size without the inline parameter types
	functionRecordSize = 2 + 4*3 + 2*4 + 2
)

// FunctionRecordSize is the size of a function record with the given number of parameters.
func FunctionRecordSize(params int) int {
	return functionRecordSize + params
}

// Name returns the NUL-terminated string at off. Offset 0 means no name.
func (m *Module) Name(off uint32) string {
	if off == 0 || int(off) >= len(m.Image) {
		return ""
	}

	s := m.Image[off:]

	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}

	return string(s)
}

func (m *Module) FunctionName(i int) string {
	return m.Name(m.Functions[i].NameOffset)
}

// Code returns the code bytes of function i.
func (m *Module) Code(i int) Code {
	f := &m.Functions[i]

	return m.Image[f.CodeStart:f.CodeEnd]
}

// Env returns the verification environment of function i.
func (m *Module) Env(i int) *FunctionEnv {
	f := &m.Functions[i]

	return &FunctionEnv{
		Module: m,
		Sig:    f.Sig,
		Locals: f.Locals,

		MaxNesting: m.MaxNesting,
	}
}

// MemSize is the size of the linear memory in bytes.
func (m *Module) MemSize() uint64 {
	return 1 << m.MemSizeLog2
}

// GlobalsSize is the size of the globals area after alignment.
func (m *Module) GlobalsSize() uint32 {
	if len(m.Globals) == 0 {
		return 0
	}

	g := m.Globals[len(m.Globals)-1]

	return g.Offset + uint32(g.Type.Size())
}

// LayoutGlobals computes the offset of each global in declaration order,
// aligning every global to its natural size.
func LayoutGlobals(types []MemType) (offs []uint32, size uint32) {
	offs = make([]uint32, len(types))

	for i, t := range types {
		s := uint32(t.Size())
		if s == 0 {
			s = 1
		}

		size = (size + s - 1) &^ (s - 1)
		offs[i] = size
		size += s
	}

	return offs, size
}

func (m *Module) layoutGlobals() {
	types := make([]MemType, len(m.Globals))

	for i, g := range m.Globals {
		types[i] = g.Type
	}

	offs, _ := LayoutGlobals(types)

	for i := range m.Globals {
		m.Globals[i].Offset = offs[i]
	}
}

func (c Code) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendSemantic(b, tlwire.Hex)

	return e.AppendBytes(b, c)
}
