package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/client"
	ffierrors "github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/internal/wasmgen"
	"github.com/wippyai/dynffi/types"
	"github.com/wippyai/dynffi/value"
)

const (
	argvAddr     = 0x100
	retAddr      = 0x200
	greetingAddr = 0x300
	heapBase     = 0x1000
)

// demoModule is a small C-style library: a bump allocator, arithmetic,
// memory access, struct passing and a callback driver.
func demoModule(withAlloc bool) []byte {
	i32, i64, f32, f64 := wasmgen.I32, wasmgen.I64, wasmgen.F32, wasmgen.F64
	L := func(vt ...wasmgen.ValType) []wasmgen.ValType { return vt }

	m := wasmgen.New()
	invoke := m.ImportFunc(HostModule, HostInvoke, L(i32, i32, i32), nil)
	m.Memory(1)
	heap := m.Global("", true, heapBase)
	m.Global("greeting", false, greetingAddr)
	m.Data(greetingAddr, []byte("hello\x00"))

	if withAlloc {
		m.Func("malloc", L(i32), L(i32), nil,
			wasmgen.GlobalGet(heap),
			wasmgen.GlobalGet(heap), wasmgen.LocalGet(0), wasmgen.I32Add,
			wasmgen.I32Const(7), wasmgen.I32Add, wasmgen.I32Const(-8), wasmgen.I32And,
			wasmgen.GlobalSet(heap))
		m.Func("free", L(i32), nil, nil)
	}

	m.Func("add", L(i32, i32), L(i32), nil,
		wasmgen.LocalGet(0), wasmgen.LocalGet(1), wasmgen.I32Add)
	m.Func("add64", L(i64, i64), L(i64), nil,
		wasmgen.LocalGet(0), wasmgen.LocalGet(1), wasmgen.I64Add)
	m.Func("addf", L(f32, f32), L(f32), nil,
		wasmgen.LocalGet(0), wasmgen.LocalGet(1), wasmgen.F32Add)
	m.Func("scale", L(f64, f64), L(f64), nil,
		wasmgen.LocalGet(0), wasmgen.LocalGet(1), wasmgen.F64Mul)
	m.Func("low8", L(i32), L(i32), nil, wasmgen.LocalGet(0))
	m.Func("load", L(i32), L(i32), nil,
		wasmgen.LocalGet(0), wasmgen.I32Load(0))
	m.Func("store", L(i32, i32), nil, nil,
		wasmgen.LocalGet(0), wasmgen.LocalGet(1), wasmgen.I32Store(0))
	m.Func("pairsum", L(i32), L(i32), nil,
		wasmgen.LocalGet(0), wasmgen.I32Load(0),
		wasmgen.LocalGet(0), wasmgen.I32Load(4),
		wasmgen.I32Add)
	m.Func("makepair", L(i32, i32, i32), nil, nil,
		wasmgen.LocalGet(0), wasmgen.LocalGet(1), wasmgen.I32Store(0),
		wasmgen.LocalGet(0), wasmgen.LocalGet(2), wasmgen.I32Store(4))
	m.Func("hello", nil, L(i32), nil, wasmgen.I32Const(greetingAddr))
	m.Func("apply", L(i32, i32), L(i32), nil,
		wasmgen.I32Const(argvAddr), wasmgen.LocalGet(1), wasmgen.I32Store(0),
		wasmgen.LocalGet(0), wasmgen.I32Const(argvAddr), wasmgen.I32Const(retAddr), wasmgen.Call(invoke),
		wasmgen.I32Const(retAddr), wasmgen.I32Load(0))
	return m.Bytes()
}

func writeModule(t *testing.T, name string, wasm []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, wasm, 0o644); err != nil {
		t.Fatalf("write module: %v", err)
	}
	return path
}

func newEngine(t *testing.T) *WazeroEngine {
	t.Helper()
	e, err := NewWazeroEngine(context.Background())
	if err != nil {
		t.Fatalf("NewWazeroEngine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestNewWazeroEngineWithConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewWazeroEngineWithConfig(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("NewWazeroEngineWithConfig failed: %v", err)
			}
			defer e.Close(ctx)

			if e.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
			p := e.Platform()
			if p.Engine != "wazero" || p.PointerSize != 4 || !p.Callbacks {
				t.Errorf("unexpected platform %+v", p)
			}
		})
	}
}

func TestClose_Idempotent(t *testing.T) {
	e := newEngine(t)
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := e.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := e.PrepareTrampoline(&prepared{ret: &types.Type{Code: types.Void}}, nil); err == nil {
		t.Error("PrepareTrampoline after Close succeeded")
	}
}

func TestLayout(t *testing.T) {
	e := newEngine(t)
	r := types.NewRegistry(e.Platform(), nil)

	tests := []struct {
		elems []string
		size  int
		align int
	}{
		{[]string{"sint32", "double", "sint8"}, 24, 8},
		{[]string{"sint8", "sint16"}, 4, 2},
		{[]string{"sint64", "sint8"}, 16, 8},
		{[]string{"float", "pointer"}, 8, 4},
	}

	for _, tc := range tests {
		t.Run(strings.Join(tc.elems, ","), func(t *testing.T) {
			elems := make([]*types.Type, len(tc.elems))
			for i, n := range tc.elems {
				el, ok := r.Lookup(n)
				if !ok {
					t.Fatalf("no builtin %s", n)
				}
				elems[i] = el
			}
			size, align, err := e.Layout(&types.Type{Code: types.Struct, Elements: elems})
			if err != nil {
				t.Fatalf("Layout: %v", err)
			}
			if size != tc.size || align != tc.align {
				t.Errorf("Layout = %d/%d, want %d/%d", size, align, tc.size, tc.align)
			}
		})
	}
}

func TestPrepareSignature(t *testing.T) {
	e := newEngine(t)
	intT := &types.Type{Code: types.SInt32, Size: 4, Align: 4}
	pair := &types.Type{Code: types.Struct, Size: 8, Align: 4}
	void := &types.Type{Code: types.Void}

	p, err := e.PrepareSignature([]*types.Type{intT, intT}, pair, types.ConvDefault)
	if err != nil {
		t.Fatalf("PrepareSignature: %v", err)
	}
	pp := p.(*prepared)
	if !pp.sret || len(pp.params) != 3 || len(pp.results) != 0 {
		t.Errorf("struct return: sret=%v params=%v results=%v", pp.sret, pp.params, pp.results)
	}

	if _, err := e.PrepareSignature(nil, void, types.ConvStdcall); err == nil {
		t.Error("stdcall accepted")
	}
	ld := &types.Type{Code: types.LongDouble, Size: 16, Align: 16}
	if _, err := e.PrepareSignature([]*types.Type{ld}, void, types.ConvDefault); err == nil {
		t.Error("long double accepted")
	}
}

func TestOpen_Errors(t *testing.T) {
	e := newEngine(t)

	if _, err := e.Open("", dynffi.BindDefault, dynffi.VisDefault); err == nil {
		t.Error("opening the main program succeeded")
	}
	if _, err := e.Open(filepath.Join(t.TempDir(), "missing.wasm"), dynffi.BindNow, dynffi.VisLocal); err == nil {
		t.Error("opening a missing file succeeded")
	}
	bad := writeModule(t, "bad.wasm", []byte("not wasm"))
	if _, err := e.Open(bad, dynffi.BindNow, dynffi.VisLocal); err == nil {
		t.Error("opening garbage succeeded")
	}
}

func TestSymbols(t *testing.T) {
	e := newEngine(t)
	path := writeModule(t, "libdemo.wasm", demoModule(true))

	lib, err := e.Open(path, dynffi.BindLazy, dynffi.VisLocal)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	add, err := lib.Symbol("add")
	if err != nil {
		t.Fatalf("Symbol add: %v", err)
	}
	again, _ := lib.Symbol("add")
	if add != again {
		t.Errorf("symbol address changed: %#x then %#x", add, again)
	}
	if add < addressBase {
		t.Errorf("function address %#x below %#x", add, addressBase)
	}

	greeting, err := lib.Symbol("greeting")
	if err != nil {
		t.Fatalf("Symbol greeting: %v", err)
	}
	if greeting != greetingAddr {
		t.Errorf("greeting = %#x, want %#x", greeting, greetingAddr)
	}
	s, err := e.ReadString(greeting)
	if err != nil || s != "hello" {
		t.Errorf("ReadString = %q, %v", s, err)
	}

	if _, err := lib.Symbol("nope"); err == nil || !strings.Contains(err.Error(), "undefined symbol") {
		t.Errorf("missing symbol error = %v", err)
	}

	if err := lib.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	void := &types.Type{Code: types.Void}
	p, _ := e.PrepareSignature(nil, void, types.ConvDefault)
	if err := e.Invoke(context.Background(), p, add, nil, make([]byte, 8)); err == nil {
		t.Error("invoking a closed library's function succeeded")
	}
	if _, err := e.ReadString(greetingAddr); err == nil {
		t.Error("ReadString without memory succeeded")
	}
}

func TestInvoke_Direct(t *testing.T) {
	e := newEngine(t)
	lib, err := e.Open(writeModule(t, "libdemo.wasm", demoModule(true)), dynffi.BindNow, dynffi.VisLocal)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r := types.NewRegistry(e.Platform(), nil)
	typ := func(n string) *types.Type {
		tt, ok := r.Lookup(n)
		if !ok {
			t.Fatalf("no builtin %s", n)
		}
		return tt
	}
	slot := func(n uint64) []byte {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, n)
		return b
	}

	sig, err := e.PrepareSignature([]*types.Type{typ("sint8")}, typ("sint8"), types.ConvDefault)
	if err != nil {
		t.Fatalf("PrepareSignature: %v", err)
	}
	fn, _ := lib.Symbol("low8")
	ret := make([]byte, 8)
	if err := e.Invoke(context.Background(), sig, fn, [][]byte{slot(0xff)}, ret); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := int32(binary.LittleEndian.Uint32(ret)); got != -1 {
		t.Errorf("low8(0xff) = %d, want -1", got)
	}

	wrong, _ := e.PrepareSignature([]*types.Type{typ("double")}, typ("sint32"), types.ConvDefault)
	add, _ := lib.Symbol("add")
	err = e.Invoke(context.Background(), wrong, add, [][]byte{slot(0)}, ret)
	if err == nil || !strings.Contains(err.Error(), "signature mismatch") {
		t.Errorf("mismatched signature error = %v", err)
	}

	if err := e.Invoke(context.Background(), sig, 0x42, [][]byte{slot(0)}, ret); err == nil {
		t.Error("invoking an unknown address succeeded")
	}
}

func TestFrame(t *testing.T) {
	e := newEngine(t)

	f := e.NewFrame()
	if _, err := f.Bytes([]byte("x")); err == nil {
		t.Error("frame without a library allocated")
	}
	f.Release()

	if _, err := e.Open(writeModule(t, "libdemo.wasm", demoModule(true)), dynffi.BindNow, dynffi.VisLocal); err != nil {
		t.Fatalf("Open: %v", err)
	}
	f = e.NewFrame()
	defer f.Release()

	s, err := f.CString("abc")
	if err != nil {
		t.Fatalf("CString: %v", err)
	}
	if got, _ := e.ReadString(s); got != "abc" {
		t.Errorf("ReadString = %q", got)
	}
	b, err := f.Bytes([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if b%8 != 0 || b == s {
		t.Errorf("unexpected allocation %#x after %#x", b, s)
	}

	buf := []byte{0, 0, 0, 0}
	p, err := f.Mutable(buf)
	if err != nil {
		t.Fatalf("Mutable: %v", err)
	}
	e.mu.Lock()
	mem := e.primary.memory
	e.mu.Unlock()
	mem.WriteUint32Le(uint32(p), 0xdeadbeef)
	f.Sync()
	if !bytes.Equal(buf, []byte{0xef, 0xbe, 0xad, 0xde}) {
		t.Errorf("Sync left % x", buf)
	}
}

func TestFrame_NoAllocator(t *testing.T) {
	e := newEngine(t)
	if _, err := e.Open(writeModule(t, "libbare.wasm", demoModule(false)), dynffi.BindNow, dynffi.VisLocal); err != nil {
		t.Fatalf("Open: %v", err)
	}
	f := e.NewFrame()
	defer f.Release()
	if _, err := f.CString("x"); err == nil || !strings.Contains(err.Error(), "no allocator") {
		t.Errorf("CString error = %v", err)
	}
}

type host struct {
	vars     map[string]*value.Value
	procs    map[string]func([]*value.Value) (*value.Value, error)
	reported []error
}

func (h *host) GetVar(name string) (*value.Value, error) {
	v, ok := h.vars[name]
	if !ok {
		return nil, fmt.Errorf("can't read %q: no such variable", name)
	}
	return v, nil
}

func (h *host) SetVar(name string, v *value.Value) error {
	v.IncrRef()
	h.vars[name] = v
	return nil
}

func (h *host) QualifyName(name string) string { return name }

func (h *host) Eval(_ context.Context, words []*value.Value) (*value.Value, error) {
	fn, ok := h.procs[words[0].String()]
	if !ok {
		return nil, fmt.Errorf("invalid command name %q", words[0])
	}
	return fn(words[1:])
}

func (h *host) ReportError(err error) { h.reported = append(h.reported, err) }

// demoClient loads the demo library into a client and binds its exports.
func demoClient(t *testing.T) (*client.Client, *host) {
	t.Helper()
	e := newEngine(t)
	h := &host{
		vars:  map[string]*value.Value{},
		procs: map[string]func([]*value.Value) (*value.Value, error){},
	}
	c, err := client.New(client.Config{Engine: e, Host: h})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	t.Cleanup(func() { _ = c.Destroy() })

	path := writeModule(t, "libdemo.wasm", demoModule(true))
	if _, err := c.Library(path, dynffi.BindDefault, dynffi.VisDefault); err != nil {
		t.Fatalf("Library: %v", err)
	}
	if err := c.Typedef("pair", "int", "int"); err != nil {
		t.Fatalf("Typedef: %v", err)
	}

	callouts := []struct {
		name string
		args []string
		ret  string
	}{
		{"add", []string{"int", "int"}, "int"},
		{"add64", []string{"long long", "long long"}, "long long"},
		{"addf", []string{"float", "float"}, "float"},
		{"scale", []string{"double", "double"}, "double"},
		{"low8", []string{"unsigned char"}, "signed char"},
		{"load", []string{"pointer-byte"}, "int"},
		{"store", []string{"pointer-var", "int"}, "void"},
		{"pairsum", []string{"pair"}, "int"},
		{"makepair", []string{"int", "int"}, "pair"},
		{"hello", nil, "pointer-utf8"},
		{"apply", []string{"pointer-proc", "int"}, "int"},
	}
	for _, co := range callouts {
		addr, err := c.Symbol(path, co.name)
		if err != nil {
			t.Fatalf("Symbol %s: %v", co.name, err)
		}
		if err := c.Callout(co.name, co.args, co.ret, addr, ""); err != nil {
			t.Fatalf("Callout %s: %v", co.name, err)
		}
	}
	return c, h
}

func le32(vals ...uint32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return b
}

func TestCallouts(t *testing.T) {
	c, _ := demoClient(t)

	tests := []struct {
		name string
		args []*value.Value
		want string
	}{
		{"add", []*value.Value{value.NewString("40"), value.NewString("2")}, "42"},
		{"add", []*value.Value{value.NewString("-5"), value.NewString("3")}, "-2"},
		{"add64", []*value.Value{value.NewString("4294967296"), value.NewString("1")}, "4294967297"},
		{"addf", []*value.Value{value.NewString("1.5"), value.NewString("0.25")}, "1.75"},
		{"scale", []*value.Value{value.NewString("2.5"), value.NewString("4")}, "10.0"},
		{"low8", []*value.Value{value.NewString("255")}, "-1"},
		{"load", []*value.Value{value.NewBytes(le32(1234))}, "1234"},
		{"pairsum", []*value.Value{value.NewBytes(le32(7, 35))}, "42"},
		{"hello", nil, "hello"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, err := c.Call(context.Background(), tc.name, tc.args...)
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if v.String() != tc.want {
				t.Errorf("%s = %q, want %q", tc.name, v.String(), tc.want)
			}
		})
	}
}

func TestCallout_StructReturn(t *testing.T) {
	c, _ := demoClient(t)

	v, err := c.Call(context.Background(), "makepair", value.NewString("3"), value.NewString("4"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !v.IsBytes() || !bytes.Equal(v.Bytes(), le32(3, 4)) {
		t.Errorf("makepair = % x", v.Bytes())
	}
}

func TestCallout_PointerVar(t *testing.T) {
	c, h := demoClient(t)
	orig := value.NewBytes(le32(0))
	orig.IncrRef()
	orig.IncrRef() // a second owner forces a copy before the write
	h.vars["cell"] = orig

	if _, err := c.Call(context.Background(), "store", value.NewString("cell"), value.NewString("99")); err != nil {
		t.Fatalf("Call: %v", err)
	}
	got := h.vars["cell"]
	if binary.LittleEndian.Uint32(got.Bytes()) != 99 {
		t.Errorf("cell = % x, want 99", got.Bytes())
	}
	if binary.LittleEndian.Uint32(orig.Bytes()) != 0 {
		t.Errorf("shared value was modified: % x", orig.Bytes())
	}
}

func TestCallback_ThroughGuest(t *testing.T) {
	c, h := demoClient(t)
	h.procs["square"] = func(args []*value.Value) (*value.Value, error) {
		n, err := args[0].Int()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, errors.New("negative input")
		}
		return value.NewInt(n * n), nil
	}

	if _, err := c.Callback("square", []string{"int"}, "int", "", nil); err != nil {
		t.Fatalf("Callback: %v", err)
	}

	v, err := c.Call(context.Background(), "apply", value.NewString("square"), value.NewString("9"))
	if err != nil {
		t.Fatalf("Call apply: %v", err)
	}
	if v.String() != "81" {
		t.Errorf("apply square 9 = %s, want 81", v)
	}

	v, err = c.Call(context.Background(), "apply", value.NewString("square"), value.NewString("-1"))
	if err != nil {
		t.Fatalf("Call apply: %v", err)
	}
	if v.String() != "0" {
		t.Errorf("failed callback returned %s, want 0", v)
	}
	if len(h.reported) != 1 || !errors.Is(h.reported[0], ffierrors.ErrCallbackFailed) {
		t.Errorf("reported = %v", h.reported)
	}
}

func TestCallback_Reentrant(t *testing.T) {
	c, h := demoClient(t)
	h.procs["outer"] = func(args []*value.Value) (*value.Value, error) {
		n, _ := args[0].Int()
		inner, err := c.Call(context.Background(), "add", value.NewInt(n), value.NewInt(100))
		if err != nil {
			return nil, err
		}
		return inner, nil
	}
	if _, err := c.Callback("outer", []string{"int"}, "int", "", nil); err != nil {
		t.Fatalf("Callback: %v", err)
	}

	v, err := c.Call(context.Background(), "apply", value.NewString("outer"), value.NewString("5"))
	if err != nil {
		t.Fatalf("Call apply: %v", err)
	}
	if v.String() != "105" {
		t.Errorf("apply outer 5 = %s, want 105", v)
	}
}

func TestInvoke_UnknownTrampoline(t *testing.T) {
	c, _ := demoClient(t)

	// A raw address reaches dynffi.invoke with nothing registered there.
	if err := c.Callout("rawapply", []string{"pointer", "int"}, "int", mustSymbol(t, c, "apply"), ""); err != nil {
		t.Fatalf("Callout: %v", err)
	}
	_, err := c.Call(context.Background(), "rawapply", value.NewString("4096"), value.NewString("1"))
	if err == nil || !strings.Contains(err.Error(), "no callback") {
		t.Errorf("error = %v", err)
	}
}

func mustSymbol(t *testing.T, c *client.Client, name string) uintptr {
	t.Helper()
	libs, err := c.Info("libraries")
	if err != nil {
		t.Fatalf("Info libraries: %v", err)
	}
	list, _ := libs.List()
	if len(list) == 0 {
		t.Fatal("no library loaded")
	}
	addr, err := c.Symbol(list[0].String(), name)
	if err != nil {
		t.Fatalf("Symbol %s: %v", name, err)
	}
	return addr
}
