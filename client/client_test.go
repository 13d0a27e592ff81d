package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/dynffi"
	ffierrors "github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/internal/enginetest"
	"github.com/wippyai/dynffi/value"
)

var le = binary.LittleEndian

type testHost struct {
	vars     map[string]*value.Value
	procs    map[string]func(args []*value.Value) (*value.Value, error)
	reported []error
}

func newHost() *testHost {
	return &testHost{
		vars:  map[string]*value.Value{},
		procs: map[string]func([]*value.Value) (*value.Value, error){},
	}
}

func (h *testHost) GetVar(name string) (*value.Value, error) {
	v, ok := h.vars[name]
	if !ok {
		return nil, fmt.Errorf("can't read %q: no such variable", name)
	}
	return v, nil
}

func (h *testHost) SetVar(name string, v *value.Value) error {
	v.IncrRef()
	h.vars[name] = v
	return nil
}

func (h *testHost) QualifyName(name string) string { return name }

func (h *testHost) Eval(_ context.Context, words []*value.Value) (*value.Value, error) {
	fn, ok := h.procs[words[0].String()]
	if !ok {
		return nil, fmt.Errorf("invalid command name %q", words[0])
	}
	return fn(words[1:])
}

func (h *testHost) ReportError(err error) { h.reported = append(h.reported, err) }

func newClient(t *testing.T) (*Client, *enginetest.Engine, *testHost) {
	t.Helper()
	eng := enginetest.New(enginetest.LP64())
	host := newHost()
	c, err := New(Config{Engine: eng, Host: host})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, eng, host
}

func words(v *value.Value) []string {
	list, _ := v.List()
	out := make([]string, len(list))
	for i, w := range list {
		out[i] = w.String()
	}
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func TestNew_Builtins(t *testing.T) {
	c, _, _ := newClient(t)
	defer c.Destroy()

	v, err := c.Info("typedefs")
	if err != nil {
		t.Fatalf("Info typedefs: %v", err)
	}
	names := words(v)
	for _, want := range []string{"void", "int", "unsigned long long", "double", "pointer-utf8", "pointer-proc"} {
		if !contains(names, want) {
			t.Errorf("builtin %q missing from %v", want, names)
		}
	}
}

func TestNew_NeedsEngine(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New without engine succeeded")
	}
}

func TestTypedefInfo(t *testing.T) {
	c, _, _ := newClient(t)
	defer c.Destroy()

	if err := c.Typedef("mixed", "sint32", "double", "sint8"); err != nil {
		t.Fatalf("Typedef: %v", err)
	}

	tests := []struct {
		option string
		want   string
	}{
		{"sizeof", "24"},
		{"alignof", "8"},
		{"format", "ixxxxdcxxxxxxx"},
	}
	for _, tc := range tests {
		v, err := c.Info(tc.option, "mixed")
		if err != nil {
			t.Fatalf("info %s: %v", tc.option, err)
		}
		if v.String() != tc.want {
			t.Errorf("info %s mixed: got %s, want %s", tc.option, v, tc.want)
		}
	}

	if err := c.Typedef("mixed", "int"); !errors.Is(err, ffierrors.ErrAlreadyDefined) {
		t.Errorf("redefinition: got %v", err)
	}
	if _, err := c.Info("sizeof", "nope"); !errors.Is(err, ffierrors.ErrUndefinedType) {
		t.Errorf("sizeof nope: got %v", err)
	}
	if v, _ := c.Info("typedefs", "mix*"); len(words(v)) != 1 {
		t.Errorf("typedefs mix*: got %v", v)
	}
}

func addNative(eng *enginetest.Engine) uintptr {
	return eng.Register(func(args [][]byte, ret []byte) {
		a := int32(le.Uint32(args[0]))
		b := int32(le.Uint32(args[1]))
		le.PutUint64(ret, uint64(int64(a+b)))
	})
}

func TestCallout_RoundTrip(t *testing.T) {
	c, eng, _ := newClient(t)
	defer c.Destroy()
	ctx := context.Background()

	if err := c.Callout("add2", []string{"int", "int"}, "int", addNative(eng), ""); err != nil {
		t.Fatalf("Callout: %v", err)
	}
	got, err := c.Call(ctx, "add2", value.NewInt(2), value.NewInt(3))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got.String() != "5" {
		t.Errorf("add2 2 3: got %s, want 5", got)
	}

	_, err = c.Call(ctx, "add2", value.NewInt(2))
	var fe *ffierrors.Error
	if !errors.As(err, &fe) || fe.Message() != `wrong # args: should be "add2 int int"` {
		t.Errorf("arity: got %v", err)
	}

	if _, err := c.Call(ctx, "nope"); err == nil {
		t.Error("call of unknown callout succeeded")
	}
}

func TestCallout_Replace(t *testing.T) {
	c, eng, _ := newClient(t)
	defer c.Destroy()
	addr := addNative(eng)

	if err := c.Callout("f", []string{"int", "int"}, "int", addr, ""); err != nil {
		t.Fatalf("Callout: %v", err)
	}
	if err := c.Callout("f", []string{"int", "int"}, "long", addr, ""); err != nil {
		t.Fatalf("Callout replace: %v", err)
	}

	v, _ := c.Info("signatures")
	if sigs := words(v); len(sigs) != 1 || sigs[0] != "long(int,int)" {
		t.Errorf("signatures after replace: got %v", sigs)
	}
	if v, _ := c.Info("callouts"); len(words(v)) != 1 {
		t.Errorf("callouts: got %v", v)
	}

	if !c.ReleaseCallout("f") {
		t.Fatal("ReleaseCallout found nothing")
	}
	if v, _ := c.Info("signatures"); len(words(v)) != 0 {
		t.Errorf("signatures after release: got %v", v)
	}
}

func TestCallback_ThroughPointerProc(t *testing.T) {
	c, eng, host := newClient(t)
	defer c.Destroy()
	ctx := context.Background()

	host.procs["square"] = func(args []*value.Value) (*value.Value, error) {
		n, err := args[0].Int()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, errors.New("negative")
		}
		return value.NewInt(n * n), nil
	}

	addr, err := c.Callback("cb1", []string{"int"}, "int", "", value.NewString("square"))
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	if addr == 0 {
		t.Fatal("callback has no address")
	}

	apply := eng.Register(func(args [][]byte, ret []byte) {
		fn := uintptr(le.Uint64(args[0]))
		arg := make([]byte, 8)
		copy(arg, args[1][:4])
		out := make([]byte, 8)
		if err := eng.Call(fn, [][]byte{arg}, out); err != nil {
			panic(err)
		}
		copy(ret, out)
	})
	if err := c.Callout("apply", []string{"pointer-proc", "int"}, "int", apply, ""); err != nil {
		t.Fatalf("Callout apply: %v", err)
	}

	got, err := c.Call(ctx, "apply", value.NewString("cb1"), value.NewInt(4))
	if err != nil {
		t.Fatalf("apply cb1 4: %v", err)
	}
	if got.String() != "16" {
		t.Errorf("apply cb1 4: got %s, want 16", got)
	}

	got, err = c.Call(ctx, "apply", value.NewString("cb1"), value.NewInt(-1))
	if err != nil {
		t.Fatalf("apply cb1 -1: %v", err)
	}
	if got.String() != "0" {
		t.Errorf("failed callback: got %s, want 0", got)
	}
	if len(host.reported) != 1 || !errors.Is(host.reported[0], ffierrors.ErrCallbackFailed) {
		t.Errorf("reported: got %v", host.reported)
	}

	_, err = c.Call(ctx, "apply", value.NewString("nope"), value.NewInt(1))
	if !errors.Is(err, ffierrors.ErrUnknownCallback) {
		t.Errorf("unknown callback: got %v", err)
	}
}

func TestCallback_Redefine(t *testing.T) {
	c, eng, host := newClient(t)
	defer c.Destroy()
	host.procs["cb"] = func([]*value.Value) (*value.Value, error) { return value.NewInt(1), nil }

	first, err := c.Callback("cb", nil, "int", "", nil)
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	second, err := c.Callback("cb", []string{"double"}, "int", "", nil)
	if err != nil {
		t.Fatalf("Callback redefine: %v", err)
	}
	if eng.HasFunc(first) {
		t.Error("old trampoline still callable")
	}
	if !eng.HasFunc(second) {
		t.Error("new trampoline not callable")
	}
	if v, _ := c.Info("signatures"); len(words(v)) != 1 {
		t.Errorf("signatures: got %v", v)
	}

	if _, err := c.Callback("bad", []string{"int"}, "pointer-byte", "", nil); !errors.Is(err, ffierrors.ErrContext) {
		t.Errorf("pointer-byte return: got %v", err)
	}

	if err := c.ReleaseCallback("cb"); err != nil {
		t.Fatalf("ReleaseCallback: %v", err)
	}
	if _, ok := c.Address("cb"); ok {
		t.Error("released callback still has an address")
	}
}

func TestCallback_Unsupported(t *testing.T) {
	p := enginetest.LP64()
	p.Callbacks = false
	c, err := New(Config{Engine: enginetest.New(p), Host: newHost()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Destroy()

	if _, err := c.Callback("cb", nil, "int", "", nil); err == nil {
		t.Error("callback defined without callback support")
	}
	if _, err := c.Info("callbacks"); err == nil {
		t.Error("info callbacks succeeded without callback support")
	}
	if v, _ := c.Info("use-callbacks"); v.String() != "0" {
		t.Errorf("use-callbacks: got %s", v)
	}
}

func TestLibrarySymbol(t *testing.T) {
	c, eng, _ := newClient(t)
	defer c.Destroy()
	eng.AddLibrary("libm", map[string]uintptr{"sin": 0x4000})

	if _, err := c.Library("libm", dynffi.BindDefault, dynffi.VisDefault); err != nil {
		t.Fatalf("Library: %v", err)
	}
	if _, err := c.Library("libm", dynffi.BindDefault, dynffi.VisDefault); !errors.Is(err, ffierrors.ErrAlreadyLoaded) {
		t.Errorf("second load: got %v", err)
	}

	a, err := c.Symbol("libm", "sin")
	if err != nil {
		t.Fatalf("Symbol: %v", err)
	}
	b, _ := c.Symbol("libm", "sin")
	if a != b || a != 0x4000 {
		t.Errorf("sin: got %#x and %#x", a, b)
	}
	if v, _ := c.Info("libraries"); words(v)[0] != "libm" {
		t.Errorf("libraries: got %v", v)
	}
}

func TestInfo_Flags(t *testing.T) {
	c, _, _ := newClient(t)
	defer c.Destroy()

	tests := []struct {
		option string
		want   string
	}{
		{"have-int64", "1"},
		{"have-long-long", "1"},
		{"have-long-double", "0"},
		{"use-callbacks", "1"},
		{"use-libffi", "0"},
		{"use-wazero", "0"},
		{"engine", "fake"},
		{"canonical-host", "test-lp64"},
		{"NULL", "0"},
	}
	for _, tc := range tests {
		v, err := c.Info(tc.option)
		if err != nil {
			t.Fatalf("info %s: %v", tc.option, err)
		}
		if v.String() != tc.want {
			t.Errorf("info %s: got %s, want %s", tc.option, v, tc.want)
		}
	}

	_, err := c.Info("bogus")
	var fe *ffierrors.Error
	if !errors.As(err, &fe) || fe.Kind != ffierrors.KindUnknownOption || fe.Message() != `unknown option "bogus"` {
		t.Errorf("bogus: got %v", err)
	}
	if _, err := c.Info("sizeof"); !errors.Is(err, ffierrors.ErrArity) {
		t.Errorf("sizeof without type: got %v", err)
	}

	other, _, _ := newClient(t)
	defer other.Destroy()
	a, _ := c.Info("interp")
	b, _ := other.Info("interp")
	if a.String() == b.String() {
		t.Errorf("two clients share interp id %s", a)
	}
}

func TestDestroy(t *testing.T) {
	c, eng, host := newClient(t)
	eng.AddLibrary("libm", map[string]uintptr{"sin": 0x4000})
	host.procs["cb"] = func([]*value.Value) (*value.Value, error) { return nil, nil }

	if err := c.Typedef("pair", "int", "int"); err != nil {
		t.Fatalf("Typedef: %v", err)
	}
	pair, _ := c.Registry().Lookup("pair")
	if err := c.Callout("add2", []string{"int", "int"}, "int", addNative(eng), ""); err != nil {
		t.Fatalf("Callout: %v", err)
	}
	cbAddr, err := c.Callback("cb", nil, "void", "", nil)
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	if _, err := c.Symbol("libm", "sin"); err != nil {
		t.Fatalf("Symbol: %v", err)
	}

	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if pair.Refs() != 0 {
		t.Errorf("user type refs after destroy: %d", pair.Refs())
	}
	if eng.HasFunc(cbAddr) {
		t.Error("callback trampoline survived destroy")
	}
	if len(eng.Closed) != 1 || eng.Closed[0] != "libm" {
		t.Errorf("closed libraries: got %v", eng.Closed)
	}

	if err := c.Typedef("x", "int"); !errors.Is(err, ffierrors.ErrNotInitialized) {
		t.Errorf("typedef after destroy: got %v", err)
	}
	if _, err := c.Info("typedefs"); !errors.Is(err, ffierrors.ErrNotInitialized) {
		t.Errorf("info after destroy: got %v", err)
	}
	if err := c.Destroy(); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
}

func TestObjects_ReleasedAfterCall(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	c, eng, _ := newClient(t)
	defer c.Destroy()
	ctx := context.Background()

	identity := eng.Register(func(args [][]byte, ret []byte) {
		copy(ret, args[0][:8])
	})
	if err := c.Callout("identity", []string{"pointer-obj"}, "pointer-obj", identity, ""); err != nil {
		t.Fatalf("Callout: %v", err)
	}

	const calls = 100
	for i := range calls {
		v := value.NewString(fmt.Sprintf("value %d", i))
		got, err := c.Call(ctx, "identity", v)
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		if got != v {
			t.Fatalf("call %d: pointer-obj lost identity", i)
		}
	}
	if n := c.Objects().Len(); n != 0 {
		t.Errorf("live handles after %d calls: got %d, want 0", calls, n)
	}

	created := observed.FilterMessage("object created")
	dropped := observed.FilterMessage("object dropped")
	if created.Len() != calls || dropped.Len() != calls {
		t.Fatalf("object events: %d created, %d dropped, want %d each", created.Len(), dropped.Len(), calls)
	}
	fields := created.All()[0].ContextMap()
	if fields["client"] != c.id {
		t.Errorf("event client field: got %v, want %d", fields["client"], c.id)
	}
}
