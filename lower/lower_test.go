package lower

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"

	"nikand.dev/go/asmwasm"
)

func decode(tb testing.TB, w *asmwasm.Writer) *asmwasm.Module {
	tb.Helper()

	var d asmwasm.Decoder

	m, err := d.Module(w.Write(nil), true)
	require.NoError(tb, err)

	return m
}

func sections(tb testing.TB, b []byte) (ids []byte) {
	tb.Helper()

	var d asmwasm.LowDecoder

	require.Equal(tb, Magic+Version, string(b[:8]))

	for i := 8; i < len(b); {
		id := b[i]

		size, j, err := d.Int(b, i+1)
		require.NoError(tb, err)
		require.LessOrEqual(tb, j+size, len(b))

		ids = append(ids, id)
		i = j + size
	}

	return ids
}

func compile(tb testing.TB, b []byte) {
	tb.Helper()

	ctx := context.Background()

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	_, err := r.CompileModule(ctx, b)
	require.NoError(tb, err, "%x", b)
}

func TestLowerSections(tb *testing.T) {
	m := decode(tb, &asmwasm.Writer{
		MemSizeLog2: 17,
		MemExport:   true,
		Globals: []asmwasm.WriterGlobal{
			{Name: "counter", Type: asmwasm.Int32, Exported: true},
			{Name: "ratio", Type: asmwasm.Float64},
		},
		Functions: []asmwasm.WriterFunction{{
			Name:     "add",
			Sig:      asmwasm.NewSignature(asmwasm.I32, asmwasm.I32, asmwasm.I32),
			Code:     []byte{byte(asmwasm.I32Add), byte(asmwasm.GetLocal), 0, byte(asmwasm.GetLocal), 1},
			Exported: true,
		}, {
			Name:     "print",
			Sig:      asmwasm.NewSignature(asmwasm.Void, asmwasm.I32),
			External: true,
		}, {
			Sig:  asmwasm.NewSignature(asmwasm.Void),
			Code: []byte{byte(asmwasm.CallFunction), 1, byte(asmwasm.CallFunction), 0, byte(asmwasm.LoadGlobal), 0, byte(asmwasm.I32Const), 1, 0, 0, 0},
		}},
		DataSegments: []asmwasm.WriterData{
			{Dest: 8, Data: []byte("abc"), Init: true},
			{Dest: 64, Data: []byte("skipped")},
		},
	})

	b, err := Module(context.Background(), m)
	require.NoError(tb, err)

	assert.Equal(tb, []byte{
		SectionType, SectionImport, SectionFunction, SectionMemory,
		SectionGlobal, SectionExport, SectionCode, SectionData,
	}, sections(tb, b))

	assert.Contains(tb, string(b), "\x03env\x05print")
	assert.Contains(tb, string(b), "\x03add")
	assert.Contains(tb, string(b), "\x06memory")
	assert.Contains(tb, string(b), "\x07counter")
	assert.NotContains(tb, string(b), "ratio")
	assert.NotContains(tb, string(b), "skipped")

	compile(tb, b)

	ctx := context.Background()

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	cm, err := r.CompileModule(ctx, b)
	require.NoError(tb, err)

	imports := cm.ImportedFunctions()
	require.Len(tb, imports, 1)

	mod, name, ok := imports[0].Import()
	assert.Equal(tb, []string{"env", "print"}, []string{mod, name})
	assert.True(tb, ok)

	assert.Contains(tb, cm.ExportedFunctions(), "add")
	assert.NotContains(tb, cm.ExportedFunctions(), "f2")

	mems := cm.ExportedMemories()
	require.Contains(tb, mems, "memory")

	min := mems["memory"].Min()
	assert.Equal(tb, uint32(2), min)
}

func TestLowerMinimal(tb *testing.T) {
	m := decode(tb, &asmwasm.Writer{})

	b, err := Module(context.Background(), m)
	require.NoError(tb, err)

	assert.Equal(tb, []byte{SectionType, SectionFunction, SectionMemory, SectionCode}, sections(tb, b))

	compile(tb, b)
}

func TestLowerBodies(tb *testing.T) {
	const (
		nop  = byte(asmwasm.Nop)
		get  = byte(asmwasm.GetLocal)
		set  = byte(asmwasm.SetLocal)
		i32  = byte(asmwasm.I32Const)
		f64c = byte(asmwasm.F64Const)
	)

	globals := []asmwasm.WriterGlobal{
		{Name: "small", Type: asmwasm.Int8},
		{Name: "half", Type: asmwasm.Uint16},
		{Name: "wide", Type: asmwasm.Float64},
	}

	for _, tc := range []struct {
		name   string
		sig    *asmwasm.Signature
		locals asmwasm.LocalCounts
		code   []byte
	}{
		{"Empty", asmwasm.NewSignature(asmwasm.Void), asmwasm.LocalCounts{}, nil},
		{"FallOff", asmwasm.NewSignature(asmwasm.I32), asmwasm.LocalCounts{}, []byte{nop}},
		{"ResultMismatch", asmwasm.NewSignature(asmwasm.I32), asmwasm.LocalCounts{F64: 1}, []byte{get, 0}},
		{"Tee", asmwasm.NewSignature(asmwasm.I32, asmwasm.I32), asmwasm.LocalCounts{},
			[]byte{set, 0, byte(asmwasm.I32Add), set, 0, i32, 1, 0, 0, 0, get, 0}},
		{"Countdown", asmwasm.NewSignature(asmwasm.I32, asmwasm.I32), asmwasm.LocalCounts{},
			[]byte{
				byte(asmwasm.Block), 1, byte(asmwasm.Loop), 2,
				byte(asmwasm.If), byte(asmwasm.BoolNot), get, 0, byte(asmwasm.Br), 1,
				set, 0, byte(asmwasm.I32Sub), get, 0, i32, 1, 0, 0, 0,
				get, 0,
			}},
		{"Continue", asmwasm.NewSignature(asmwasm.Void, asmwasm.I32), asmwasm.LocalCounts{},
			[]byte{
				byte(asmwasm.Block), 1, byte(asmwasm.Loop), 2,
				byte(asmwasm.IfThen), get, 0, byte(asmwasm.Br), 0, byte(asmwasm.Br), 1,
				nop,
			}},
		{"Return", asmwasm.NewSignature(asmwasm.F64, asmwasm.I32), asmwasm.LocalCounts{},
			[]byte{
				byte(asmwasm.If), get, 0, byte(asmwasm.Return), f64c, 0, 0, 0, 0, 0, 0, 0xf0, 0x3f,
				byte(asmwasm.F64SConvertI32), get, 0,
			}},
		{"Ternary", asmwasm.NewSignature(asmwasm.I32, asmwasm.I32), asmwasm.LocalCounts{},
			[]byte{byte(asmwasm.Ternary), get, 0, i32, 1, 0, 0, 0, i32, 2, 0, 0, 0}},
		{"TernaryDropped", asmwasm.NewSignature(asmwasm.Void, asmwasm.I32), asmwasm.LocalCounts{},
			[]byte{byte(asmwasm.Ternary), get, 0, i32, 1, 0, 0, 0, i32, 2, 0, 0, 0}},
		{"Comma", asmwasm.NewSignature(asmwasm.I32, asmwasm.I32), asmwasm.LocalCounts{F64: 1},
			[]byte{byte(asmwasm.Comma), set, 1, f64c, 0, 0, 0, 0, 0, 0, 0, 0, get, 0}},
		{"Globals", asmwasm.NewSignature(asmwasm.I32), asmwasm.LocalCounts{},
			[]byte{
				byte(asmwasm.StoreGlobal), 2, byte(asmwasm.LoadGlobal), 2,
				byte(asmwasm.StoreGlobal), 1, byte(asmwasm.LoadGlobal), 0,
				byte(asmwasm.I32Add), byte(asmwasm.StoreGlobal), 0, i32, 0xff, 0, 0, 0, byte(asmwasm.LoadGlobal), 1,
			}},
		{"Memory", asmwasm.NewSignature(asmwasm.F64, asmwasm.I32), asmwasm.LocalCounts{},
			[]byte{
				byte(asmwasm.StoreMem), byte(asmwasm.Uint8), get, 0, i32, 7, 0, 0, 0,
				byte(asmwasm.F64Add),
				byte(asmwasm.StoreMem), byte(asmwasm.Float64), i32, 8, 0, 0, 0, f64c, 0, 0, 0, 0, 0, 0, 0xf0, 0x3f,
				byte(asmwasm.F64ConvertF32), byte(asmwasm.LoadMem), byte(asmwasm.Float32), get, 0,
			}},
		{"Int64", asmwasm.NewSignature(asmwasm.I64, asmwasm.I32), asmwasm.LocalCounts{I64: 1},
			[]byte{
				set, 1, byte(asmwasm.I64SConvertI32), get, 0,
				byte(asmwasm.I64Mul), get, 1, byte(asmwasm.I64Const), 3, 0, 0, 0, 0, 0, 0, 0,
			}},
		{"Conversions", asmwasm.NewSignature(asmwasm.I32, asmwasm.F32), asmwasm.LocalCounts{},
			[]byte{
				byte(asmwasm.I32Xor), byte(asmwasm.I32SConvertF64), byte(asmwasm.F64ConvertF32), get, 0,
				byte(asmwasm.I32ReinterpretF32), byte(asmwasm.F32Sqrt), get, 0,
			}},
	} {
		tc := tc

		tb.Run(tc.name, func(tb *testing.T) {
			m := decode(tb, &asmwasm.Writer{
				Globals: globals,
				Functions: []asmwasm.WriterFunction{{
					Name:     "f",
					Sig:      tc.sig,
					Locals:   tc.locals,
					Code:     tc.code,
					Exported: true,
				}},
			})

			b, err := Module(context.Background(), m)
			require.NoError(tb, err)

			compile(tb, b)
		})
	}
}

func TestLowerRejectsInvalidBody(tb *testing.T) {
	var d asmwasm.Decoder

	w := &asmwasm.Writer{
		Functions: []asmwasm.WriterFunction{{
			Sig:  asmwasm.NewSignature(asmwasm.I32),
			Code: []byte{byte(asmwasm.I32Add), byte(asmwasm.I32Const), 1, 0, 0, 0},
		}},
	}

	m, err := d.Module(w.Write(nil), false)
	require.NoError(tb, err)

	_, err = Module(context.Background(), m)
	assert.Error(tb, err)
}

func TestLowerHonorsDecoderNesting(tb *testing.T) {
	code := make([]byte, 0, 2005)
	for i := 0; i < 2000; i++ {
		code = append(code, byte(asmwasm.BoolNot))
	}

	code = append(code, byte(asmwasm.I32Const), 1, 0, 0, 0)

	w := &asmwasm.Writer{
		Functions: []asmwasm.WriterFunction{{
			Name:     "deep",
			Sig:      asmwasm.NewSignature(asmwasm.I32),
			Code:     code,
			Exported: true,
		}},
	}

	b := w.Write(nil)

	var d asmwasm.Decoder

	_, err := d.Module(b, true)
	require.Error(tb, err)

	d.Limits.MaxNesting = 5000

	m, err := d.Module(b, true)
	require.NoError(tb, err)
	assert.Equal(tb, 5000, m.Env(0).MaxNesting)

	res, err := Module(context.Background(), m)
	require.NoError(tb, err)
	assert.Equal(tb, []byte{SectionType, SectionFunction, SectionMemory, SectionExport, SectionCode}, sections(tb, res))
}

func TestValueType(tb *testing.T) {
	assert.Equal(tb, byte(TypeI32), ValueType(asmwasm.I32))
	assert.Equal(tb, byte(TypeF64), ValueType(asmwasm.F64))
	assert.Panics(tb, func() { ValueType(asmwasm.Void) })
}
