package callback

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/wippyai/dynffi/cif"
	"github.com/wippyai/dynffi/convert"
	ffierrors "github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/internal/enginetest"
	"github.com/wippyai/dynffi/resource"
	"github.com/wippyai/dynffi/types"
	"github.com/wippyai/dynffi/value"
)

var le = binary.LittleEndian

type procs struct {
	cmds  map[string]func(args []*value.Value) (*value.Value, error)
	calls [][]string
}

func (p *procs) Eval(_ context.Context, words []*value.Value) (*value.Value, error) {
	line := make([]string, len(words))
	for i, w := range words {
		line[i] = w.String()
	}
	p.calls = append(p.calls, line)
	fn, ok := p.cmds[line[0]]
	if !ok {
		return nil, fmt.Errorf("invalid command name %q", line[0])
	}
	return fn(words[1:])
}

type sink struct {
	errs []error
}

func (s *sink) ReportError(err error) { s.errs = append(s.errs, err) }

type fixture struct {
	eng     *enginetest.Engine
	procs   *procs
	sink    *sink
	definer *Definer
}

func newFixture(p types.Platform) *fixture {
	eng := enginetest.New(p)
	reg := types.NewRegistry(eng.Platform(), eng)
	pr := &procs{cmds: map[string]func([]*value.Value) (*value.Value, error){}}
	s := &sink{}
	env := &convert.Env{
		Platform: eng.Platform(),
		Strings:  eng,
		Objects:  resource.NewTable(),
	}
	return &fixture{
		eng:   eng,
		procs: pr,
		sink:  s,
		definer: &Definer{
			Cache:  cif.NewCache(eng, reg),
			Engine: eng,
			Env:    env,
			Eval:   pr,
			Sink:   s,
		},
	}
}

func intSlot(n int64) []byte {
	b := make([]byte, 8)
	le.PutUint64(b, uint64(n))
	return b
}

func (f *fixture) square() {
	f.procs.cmds["square"] = func(args []*value.Value) (*value.Value, error) {
		n, err := args[0].Int()
		if err != nil {
			return nil, err
		}
		return value.NewInt(n * n), nil
	}
}

func TestDispatch_Square(t *testing.T) {
	f := newFixture(enginetest.LP64())
	f.square()

	cb, err := f.definer.Define("cb1", []string{"int"}, "int", "", value.NewString("square"))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	defer cb.Release()
	if cb.Address() == 0 {
		t.Fatal("callback has no address")
	}

	ret := make([]byte, 8)
	if err := f.eng.Call(cb.Address(), [][]byte{intSlot(4)}, ret); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := int64(le.Uint64(ret)); got != 16 {
		t.Errorf("square 4: got %d, want 16", got)
	}
	if len(f.sink.errs) != 0 {
		t.Errorf("unexpected reported errors: %v", f.sink.errs)
	}
	if want := []string{"square", "4"}; fmt.Sprint(f.procs.calls[0]) != fmt.Sprint(want) {
		t.Errorf("command: got %v, want %v", f.procs.calls[0], want)
	}
}

func TestDispatch_ErrorGoesToSink(t *testing.T) {
	f := newFixture(enginetest.LP64())
	f.procs.cmds["square"] = func([]*value.Value) (*value.Value, error) {
		return nil, errors.New("boom")
	}

	cb, err := f.definer.Define("cb1", []string{"int"}, "int", "", value.NewString("square"))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	defer cb.Release()

	ret := intSlot(-1)
	if err := f.eng.Call(cb.Address(), [][]byte{intSlot(4)}, ret); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := le.Uint64(ret); got != 0 {
		t.Errorf("return after failure: got %d, want 0", got)
	}
	if len(f.sink.errs) != 1 {
		t.Fatalf("reported errors: got %d, want 1", len(f.sink.errs))
	}
	if !errors.Is(f.sink.errs[0], ffierrors.ErrCallbackFailed) {
		t.Errorf("reported error: got %v", f.sink.errs[0])
	}
}

func TestDispatch_ReturnConversionFails(t *testing.T) {
	f := newFixture(enginetest.LP64())
	f.procs.cmds["word"] = func([]*value.Value) (*value.Value, error) {
		return value.NewString("abc"), nil
	}

	cb, err := f.definer.Define("cb", []string{}, "int", "", value.NewString("word"))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	defer cb.Release()

	ret := make([]byte, 8)
	if err := f.eng.Call(cb.Address(), nil, ret); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if le.Uint64(ret) != 0 {
		t.Error("return slot not zeroed")
	}
	if len(f.sink.errs) != 1 {
		t.Fatalf("reported errors: got %d, want 1", len(f.sink.errs))
	}
}

func TestDispatch_PrefixAndDoubles(t *testing.T) {
	f := newFixture(enginetest.LP64())
	f.procs.cmds["scale"] = func(args []*value.Value) (*value.Value, error) {
		k, err := args[0].Double()
		if err != nil {
			return nil, err
		}
		x, err := args[1].Double()
		if err != nil {
			return nil, err
		}
		return value.NewDouble(k * x), nil
	}

	cb, err := f.definer.Define("scaler", []string{"double"}, "double", "", value.NewString("scale 2.5"))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	defer cb.Release()

	arg := make([]byte, 8)
	le.PutUint64(arg, math.Float64bits(4))
	ret := make([]byte, 8)
	if err := f.eng.Call(cb.Address(), [][]byte{arg}, ret); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := math.Float64frombits(le.Uint64(ret)); got != 10 {
		t.Errorf("scale 2.5 4.0: got %v, want 10", got)
	}
	if got := f.procs.calls[0]; len(got) != 3 || got[0] != "scale" || got[1] != "2.5" || got[2] != "4.0" {
		t.Errorf("command: got %v", got)
	}
}

func TestDispatch_DefaultPrefixIsName(t *testing.T) {
	f := newFixture(enginetest.LP64())
	f.procs.cmds["tick"] = func([]*value.Value) (*value.Value, error) { return nil, nil }

	cb, err := f.definer.Define("tick", nil, "void", "", nil)
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	defer cb.Release()

	if err := f.eng.Call(cb.Address(), nil, make([]byte, 8)); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(f.procs.calls) != 1 || f.procs.calls[0][0] != "tick" {
		t.Errorf("calls: got %v", f.procs.calls)
	}
	if len(f.sink.errs) != 0 {
		t.Errorf("unexpected reported errors: %v", f.sink.errs)
	}
}

func TestDispatch_Reentrant(t *testing.T) {
	f := newFixture(enginetest.LP64())
	f.square()

	inner, err := f.definer.Define("inner", []string{"int"}, "int", "", value.NewString("square"))
	if err != nil {
		t.Fatalf("Define inner: %v", err)
	}
	defer inner.Release()

	f.procs.cmds["outer"] = func(args []*value.Value) (*value.Value, error) {
		n, _ := args[0].Int()
		ret := make([]byte, 8)
		if err := f.eng.Call(inner.Address(), [][]byte{intSlot(n + 1)}, ret); err != nil {
			return nil, err
		}
		return value.NewInt(int64(le.Uint64(ret)) + n), nil
	}
	outer, err := f.definer.Define("outer", []string{"int"}, "int", "", nil)
	if err != nil {
		t.Fatalf("Define outer: %v", err)
	}
	defer outer.Release()

	ret := make([]byte, 8)
	if err := f.eng.Call(outer.Address(), [][]byte{intSlot(2)}, ret); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := int64(le.Uint64(ret)); got != 11 {
		t.Errorf("outer 2: got %d, want 11", got)
	}
}

func TestDefine_Errors(t *testing.T) {
	f := newFixture(enginetest.LP64())

	tests := []struct {
		name    string
		args    []string
		ret     string
		prefix  *value.Value
		target  error
		message string
	}{
		{"byte buffer return", []string{"int"}, "pointer-byte", nil, ffierrors.ErrContext,
			"type pointer-byte is not permitted in callback return context"},
		{"var argument", []string{"pointer-var"}, "int", nil, ffierrors.ErrContext,
			"type pointer-var is not permitted in callback argument context"},
		{"utf8 return", nil, "pointer-utf8", nil, ffierrors.ErrContext,
			"type pointer-utf8 is not permitted in callback return context"},
		{"unknown type", []string{"nope"}, "int", nil, ffierrors.ErrUndefinedType,
			"no type defined for: nope"},
		{"bad prefix", []string{"int"}, "int", value.NewString("a {b"), nil, ""},
		{"empty prefix", []string{"int"}, "int", value.NewString(""), nil, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.definer.Define("bad", tc.args, tc.ret, "", tc.prefix)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.target != nil && !errors.Is(err, tc.target) {
				t.Errorf("got %v, want %v", err, tc.target)
			}
			var fe *ffierrors.Error
			if tc.message != "" && (!errors.As(err, &fe) || fe.Message() != tc.message) {
				t.Errorf("message: got %v, want %q", err, tc.message)
			}
		})
	}

	if n := f.definer.Cache.Len(); n != 0 {
		t.Errorf("failed definitions left %d signatures", n)
	}
}

func TestDefine_Unsupported(t *testing.T) {
	p := enginetest.LP64()
	p.Callbacks = false
	f := newFixture(p)

	_, err := f.definer.Define("cb", []string{"int"}, "int", "", nil)
	var fe *ffierrors.Error
	if !errors.As(err, &fe) || fe.Kind != ffierrors.KindUnsupported {
		t.Errorf("got %v, want unsupported", err)
	}
}

func TestRelease(t *testing.T) {
	f := newFixture(enginetest.LP64())
	prefix := value.NewString("square extra")

	cb, err := f.definer.Define("cb1", []string{"int"}, "int", "", prefix)
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	addr := cb.Address()
	sig := cb.Cif
	words := cb.Prefix

	if err := cb.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if f.eng.HasFunc(addr) {
		t.Error("trampoline still callable after release")
	}
	if sig.Refs() != 0 || f.definer.Cache.Len() != 0 {
		t.Errorf("signature not freed: refs=%d cached=%d", sig.Refs(), f.definer.Cache.Len())
	}
	for _, w := range words {
		if w.RefCount() != 1 {
			t.Errorf("prefix word %q: refs %d, want 1", w, w.RefCount())
		}
	}
	if cb.Address() != 0 {
		t.Error("released callback still reports an address")
	}
}

func TestErrorSinkFunc(t *testing.T) {
	var got error
	s := ErrorSinkFunc(func(err error) { got = err })
	s.ReportError(errors.New("x"))
	if got == nil || got.Error() != "x" {
		t.Errorf("got %v", got)
	}
}
