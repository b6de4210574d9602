package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tetratelabs/wazero/api"
	"nikand.dev/go/cli"
	"nikand.dev/go/cli/flag"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/ext/tlflag"
	"tlog.app/go/tlog/tlio"
	"tlog.app/go/tlog/tlwire"

	"nikand.dev/go/asmwasm"
	"nikand.dev/go/asmwasm/engine"
	"nikand.dev/go/asmwasm/lower"
)

type (
	bytearr []byte
)

func main() {
	dump := &cli.Command{
		Name:        "dump",
		Description: "print module contents and function bodies",
		Args:        cli.Args{},
		Action:      dumpRun,
	}

	verify := &cli.Command{
		Name:        "verify",
		Description: "decode and verify modules",
		Args:        cli.Args{},
		Action:      verifyRun,
	}

	lowerCmd := &cli.Command{
		Name:        "lower",
		Description: "translate a module into a wasm binary",
		Args:        cli.Args{},
		Action:      lowerRun,
		Flags: []*cli.Flag{
			cli.NewFlag("output,o", "", "output file (default is input with .wasm extension)"),
		},
	}

	run := &cli.Command{
		Name:        "run",
		Description: "instantiate a module and call an exported function: run <file> <function> [args...]",
		Args:        cli.Args{},
		Action:      runRun,
	}

	app := &cli.Command{
		Name:        "wasmtool",
		Description: "tool to work with prototype bytecode modules",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("log", "stderr?dm", "log output file (or stderr)"),
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.NewFlag("debug", "", "debug address", flag.Hidden),
			cli.NewFlag("limits", "", "decoder limits toml file"),
			cli.NewFlag("max-nesting", "", "override max expression nesting"),
			cli.NewFlag("max-module-size", "", "override max module size"),
			cli.FlagfileFlag,
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			dump,
			verify,
			lowerCmd,
			run,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	w, err := tlflag.OpenWriter(c.String("log"))
	if err != nil {
		return errors.Wrap(err, "open log file")
	}

	err = tlio.WalkWriter(w, func(w io.Writer) error {
		c, ok := w.(*tlog.ConsoleWriter)
		if !ok {
			return nil
		}

		c.StringOnNewLineMinLen = 16

		return nil
	})
	if err != nil {
		return errors.Wrap(err, "walk writer")
	}

	tlog.DefaultLogger = tlog.New(w)

	tlog.SetVerbosity(c.String("verbosity"))

	if q := c.String("debug"); q != "" {
		l, err := net.Listen("tcp", q)
		if err != nil {
			return errors.Wrap(err, "listen debug")
		}

		tlog.Printw("start debug interface", "addr", l.Addr())

		go func() {
			err := http.Serve(l, nil)
			if err != nil {
				tlog.Printw("debug", "addr", q, "err", err, "", tlog.Fatal)
				panic(err)
			}
		}()
	}

	return nil
}

// decoder loads limits from the toml file, then applies flag overrides.
func decoder(c *cli.Command) (*asmwasm.Decoder, error) {
	d := &asmwasm.Decoder{Limits: asmwasm.DefaultLimits}

	if f := c.String("limits"); f != "" {
		_, err := toml.DecodeFile(f, &d.Limits)
		if err != nil {
			return nil, errors.Wrap(err, "load limits")
		}
	}

	for _, o := range []struct {
		flag string
		dst  *int
	}{
		{"max-nesting", &d.Limits.MaxNesting},
		{"max-module-size", &d.Limits.MaxModuleSize},
	} {
		q := c.String(o.flag)
		if q == "" {
			continue
		}

		v, err := strconv.Atoi(q)
		if err != nil {
			return nil, errors.Wrap(err, "parse %v", o.flag)
		}

		*o.dst = v
	}

	tlog.V("limits").Printw("decoder limits", "limits", d.Limits)

	return d, nil
}

func load(d *asmwasm.Decoder, name string, verify bool) (*asmwasm.Module, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	m, err := d.Module(data, verify)
	if err != nil {
		return m, errors.Wrap(err, "decode")
	}

	return m, nil
}

func dumpRun(c *cli.Command) (err error) {
	d, err := decoder(c)
	if err != nil {
		return err
	}

	for _, a := range c.Args {
		err := func() error {
			m, err := load(d, a, false)
			if m == nil {
				return err
			}
			if err != nil {
				tlog.Printw("module decoded partially", "err", err)
			}

			tlog.Printw("module", "size", len(m.Image), "mem_size", m.MemSize(), "mem_export", m.MemExport,
				"globals", len(m.Globals), "functions", len(m.Functions), "data", len(m.DataSegments))

			for i, g := range m.Globals {
				tlog.Printw("global", "i", i, "name", m.Name(g.NameOffset), "tp", g.Type, "offset", g.Offset, "exported", g.Exported)
			}

			for i, f := range m.Functions {
				tlog.Printw("function", "i", i, "name", m.FunctionName(i), "sig", f.Sig, "locals", f.Locals,
					"exported", f.Exported, "external", f.External)

				if f.External {
					continue
				}

				body, err := asmwasm.ParseBody(m.Env(i), m.Code(i))
				if err != nil {
					tlog.Printw("code", "i", i, "code", m.Code(i), "err", err)
					continue
				}

				for _, n := range body {
					tlog.Printw("node", "i", i, "pos", n.Pos, "type", n.Type, "expr", n.String())
				}
			}

			for i, s := range m.DataSegments {
				data := m.Image[s.SourceOffset : s.SourceOffset+s.SourceSize]

				tlog.Printw("data", "i", i, "dest", s.Dest, "size", s.SourceSize, "init", s.Init, "data", bytearr(data))
			}

			return nil
		}()
		if err != nil {
			return errors.Wrap(err, "%v", a)
		}
	}

	return nil
}

func verifyRun(c *cli.Command) (err error) {
	d, err := decoder(c)
	if err != nil {
		return err
	}

	for _, a := range c.Args {
		m, err := load(d, a, true)
		if err != nil {
			return errors.Wrap(err, "%v", a)
		}

		tlog.Printw("module verified", "file", a, "functions", len(m.Functions))
	}

	return nil
}

func lowerRun(c *cli.Command) (err error) {
	d, err := decoder(c)
	if err != nil {
		return err
	}

	out := c.String("output")
	if out != "" && len(c.Args) != 1 {
		return errors.New("output file with %d inputs", len(c.Args))
	}

	ctx := context.Background()

	for _, a := range c.Args {
		m, err := load(d, a, true)
		if err != nil {
			return errors.Wrap(err, "%v", a)
		}

		b, err := lower.Module(ctx, m)
		if err != nil {
			return errors.Wrap(err, "%v: lower", a)
		}

		dst := out
		if dst == "" {
			dst = strings.TrimSuffix(a, filepath.Ext(a)) + ".wasm"
		}

		err = os.WriteFile(dst, b, 0o644)
		if err != nil {
			return errors.Wrap(err, "write %v", dst)
		}

		tlog.Printw("lowered", "file", a, "output", dst, "size", len(b))
	}

	return nil
}

func runRun(c *cli.Command) (err error) {
	if len(c.Args) < 2 {
		return errors.New("usage: run <file> <function> [args...]")
	}

	d, err := decoder(c)
	if err != nil {
		return err
	}

	m, err := load(d, c.Args[0], true)
	if err != nil {
		return errors.Wrap(err, "%v", c.Args[0])
	}

	name := c.Args[1]

	fi := -1
	for i := range m.Functions {
		if m.Functions[i].Exported && m.FunctionName(i) == name {
			fi = i
			break
		}
	}

	if fi < 0 {
		return errors.Wrap(engine.ErrNoExport, "%v", name)
	}

	sig := m.Functions[fi].Sig

	args, err := parseArgs(sig, c.Args[2:])
	if err != nil {
		return err
	}

	ctx := context.Background()

	e := engine.New(ctx)
	defer func() {
		if cerr := e.Close(ctx); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "close engine")
		}
	}()

	inst, err := e.Instantiate(ctx, m, stubImports(m)...)
	if err != nil {
		return errors.Wrap(err, "instantiate")
	}

	defer func() {
		if cerr := inst.Close(ctx); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "close instance")
		}
	}()

	res, err := inst.Call(ctx, name, args...)
	if err != nil {
		return errors.Wrap(err, "call %v", name)
	}

	if sig.Return == asmwasm.Void || len(res) == 0 {
		tlog.Printw("call", "func", name, "args", c.Args[2:])
		return nil
	}

	tlog.Printw("call", "func", name, "args", c.Args[2:], "result", formatValue(sig.Return, res[0]))

	return nil
}

func parseArgs(sig *asmwasm.Signature, args []string) ([]uint64, error) {
	if len(args) != len(sig.Params) {
		return nil, errors.New("expected %d args, got %d", len(sig.Params), len(args))
	}

	r := make([]uint64, len(args))

	for i, a := range args {
		var err error

		switch sig.Params[i] {
		case asmwasm.I32:
			var v int64
			v, err = strconv.ParseInt(a, 0, 32)
			r[i] = api.EncodeI32(int32(v))
		case asmwasm.I64:
			var v int64
			v, err = strconv.ParseInt(a, 0, 64)
			r[i] = api.EncodeI64(v)
		case asmwasm.F32:
			var v float64
			v, err = strconv.ParseFloat(a, 32)
			r[i] = api.EncodeF32(float32(v))
		case asmwasm.F64:
			var v float64
			v, err = strconv.ParseFloat(a, 64)
			r[i] = api.EncodeF64(v)
		}

		if err != nil {
			return nil, errors.Wrap(err, "arg %d", i)
		}
	}

	return r, nil
}

func formatValue(t asmwasm.ValueType, v uint64) string {
	switch t {
	case asmwasm.I32:
		return strconv.FormatInt(int64(api.DecodeI32(v)), 10)
	case asmwasm.I64:
		return strconv.FormatInt(int64(v), 10)
	case asmwasm.F32:
		return strconv.FormatFloat(float64(api.DecodeF32(v)), 'g', -1, 32)
	case asmwasm.F64:
		return strconv.FormatFloat(api.DecodeF64(v), 'g', -1, 64)
	}

	return ""
}

// stubImports provides every external function with an implementation
// logging its arguments and returning zero.
func stubImports(m *asmwasm.Module) (opts []engine.Option) {
	for i, f := range m.Functions {
		if !f.External {
			continue
		}

		name := lower.FuncName(m, i)
		sig := f.Sig

		opts = append(opts, engine.WithImport(name, api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			args := make([]string, len(sig.Params))
			for j, t := range sig.Params {
				args[j] = formatValue(t, stack[j])
			}

			tlog.Printw("import called", "func", name, "args", args)

			if sig.Return != asmwasm.Void {
				stack[0] = 0
			}
		})))
	}

	return opts
}

func (a bytearr) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendArray(b, len(a))

	for _, v := range a {
		b = e.AppendInt(b, int(v))
	}

	return b
}
