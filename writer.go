package asmwasm

type (
	// Writer serializes a module image.
	//
	// Layout: header, global records, function records, data segment records,
	// then names, function code and data segment bytes referenced by offsets.
	Writer struct {
		MemSizeLog2 uint8
		MemExport   bool

		Globals      []WriterGlobal
		Functions    []WriterFunction
		DataSegments []WriterData
	}

	WriterGlobal struct {
		Name     string
		Type     MemType
		Exported bool
	}

	WriterFunction struct {
		Name   string
		Sig    *Signature
		Locals LocalCounts
		Code   []byte

		Exported bool
		External bool
	}

	WriterData struct {
		Dest uint32
		Data []byte
		Init bool
	}

	layout struct {
		gnames []uint32
		fnames []uint32
		code   []uint32
		data   []uint32

		size int
	}
)

// Size is the size of the image Write appends.
func (w *Writer) Size() int {
	return w.layout().size
}

// Write appends the module image to b.
// Offsets in the image are relative to its start, not to the start of b.
func (w *Writer) Write(b []byte) []byte {
	var e LowEncoder

	l := w.layout()

	b = append(b, w.MemSizeLog2)
	b = e.Bool(b, w.MemExport)
	b = e.U16(b, uint16(len(w.Globals)))
	b = e.U16(b, uint16(len(w.Functions)))
	b = e.U16(b, uint16(len(w.DataSegments)))

	for i, g := range w.Globals {
		b = e.U32(b, l.gnames[i])
		b = append(b, byte(g.Type))
		b = e.Bool(b, g.Exported)
	}

	for i, f := range w.Functions {
		b = e.Signature(b, f.Sig)
		b = e.U32(b, l.fnames[i])
		b = e.U32(b, l.code[i])
		b = e.U32(b, l.code[i]+uint32(len(f.Code)))

		b = e.U16(b, f.Locals.I32)
		b = e.U16(b, f.Locals.I64)
		b = e.U16(b, f.Locals.F32)
		b = e.U16(b, f.Locals.F64)

		b = e.Bool(b, f.Exported)
		b = e.Bool(b, f.External)
	}

	for i, d := range w.DataSegments {
		b = e.U32(b, d.Dest)
		b = e.U32(b, l.data[i])
		b = e.U32(b, uint32(len(d.Data)))
		b = e.Bool(b, d.Init)
	}

	for _, g := range w.Globals {
		if g.Name != "" {
			b = e.CString(b, g.Name)
		}
	}

	for _, f := range w.Functions {
		if f.Name != "" {
			b = e.CString(b, f.Name)
		}
	}

	for _, f := range w.Functions {
		b = append(b, f.Code...)
	}

	for _, d := range w.DataSegments {
		b = append(b, d.Data...)
	}

	return b
}

func (w *Writer) layout() (l layout) {
	off := HeaderSize + len(w.Globals)*GlobalRecordSize + len(w.DataSegments)*DataSegRecordSize

	for _, f := range w.Functions {
		off += FunctionRecordSize(len(f.Sig.Params))
	}

	name := func(s string) uint32 {
		if s == "" {
			return 0
		}

		o := off
		off += len(s) + 1

		return uint32(o)
	}

	l.gnames = make([]uint32, len(w.Globals))
	l.fnames = make([]uint32, len(w.Functions))
	l.code = make([]uint32, len(w.Functions))
	l.data = make([]uint32, len(w.DataSegments))

	for i, g := range w.Globals {
		l.gnames[i] = name(g.Name)
	}

	for i, f := range w.Functions {
		l.fnames[i] = name(f.Name)
	}

	for i, f := range w.Functions {
		l.code[i] = uint32(off)
		off += len(f.Code)
	}

	for i, d := range w.DataSegments {
		l.data[i] = uint32(off)
		off += len(d.Data)
	}

	l.size = off

	return l
}
