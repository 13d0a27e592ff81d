package library

import (
	"errors"
	"testing"

	"github.com/wippyai/dynffi"
	ffierrors "github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/internal/enginetest"
)

func newTable() (*Table, *enginetest.Engine) {
	eng := enginetest.New(enginetest.LP64())
	eng.AddLibrary("libm", map[string]uintptr{"sin": 0x1000, "_cos": 0x2000})
	eng.AddLibrary("libc", map[string]uintptr{"strlen": 0x3000})
	return NewTable(eng), eng
}

func TestLoad_Twice(t *testing.T) {
	libs, _ := newTable()

	lib, err := libs.Load("libm", dynffi.BindDefault, dynffi.VisDefault)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if lib.Handle() == 0 {
		t.Error("library has a zero handle")
	}

	_, err = libs.Load("libm", dynffi.BindNow, dynffi.VisLocal)
	if !errors.Is(err, ffierrors.ErrAlreadyLoaded) {
		t.Fatalf("second load: got %v, want already loaded", err)
	}
	var fe *ffierrors.Error
	if errors.As(err, &fe) && fe.Message() != `library "libm" already loaded` {
		t.Errorf("message: got %q", fe.Message())
	}
}

func TestLoad_Missing(t *testing.T) {
	libs, _ := newTable()

	_, err := libs.Load("libnope", dynffi.BindDefault, dynffi.VisDefault)
	if !errors.Is(err, ffierrors.ErrLoadFailed) {
		t.Fatalf("got %v, want load failure", err)
	}
	if libs.Len() != 0 {
		t.Error("failed load was recorded")
	}
}

func TestSymbol(t *testing.T) {
	libs, _ := newTable()

	a, err := libs.Symbol("libm", "sin")
	if err != nil {
		t.Fatalf("Symbol: %v", err)
	}
	b, err := libs.Symbol("libm", "sin")
	if err != nil {
		t.Fatalf("Symbol again: %v", err)
	}
	if a != b || a != 0x1000 {
		t.Errorf("sin: got %#x and %#x, want 0x1000", a, b)
	}
	if libs.Len() != 1 {
		t.Errorf("implicit load: got %d libraries, want 1", libs.Len())
	}

	c, err := libs.Symbol("libm", "cos")
	if err != nil || c != 0x2000 {
		t.Errorf("underscore fallback: got %#x, %v", c, err)
	}

	_, err = libs.Symbol("libm", "tan")
	if !errors.Is(err, ffierrors.ErrSymbolNotFound) {
		t.Errorf("missing symbol: got %v", err)
	}

	_, err = libs.Symbol("libnope", "x")
	if !errors.Is(err, ffierrors.ErrLoadFailed) {
		t.Errorf("missing library: got %v", err)
	}
}

func TestNamesAndCloseAll(t *testing.T) {
	libs, eng := newTable()
	for _, name := range []string{"libm", "libc"} {
		if _, err := libs.Load(name, dynffi.BindLazy, dynffi.VisLocal); err != nil {
			t.Fatalf("Load %s: %v", name, err)
		}
	}

	if got := libs.Names(""); len(got) != 2 || got[0] != "libc" || got[1] != "libm" {
		t.Errorf("Names: got %v", got)
	}
	if got := libs.Names("*m"); len(got) != 1 || got[0] != "libm" {
		t.Errorf("Names(*m): got %v", got)
	}

	if err := libs.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if len(eng.Closed) != 2 {
		t.Errorf("closed: got %v", eng.Closed)
	}
	if libs.Len() != 0 {
		t.Error("table not empty after CloseAll")
	}
}

type stubLib struct{ closeErr error }

func (l stubLib) Handle() uintptr { return 1 }
func (l stubLib) Symbol(string) (uintptr, error) { return 0, errors.New("undefined") }
func (l stubLib) Close() error { return l.closeErr }

type stubLoader struct {
	binding    dynffi.Binding
	visibility dynffi.Visibility
}

func (s *stubLoader) Open(_ string, b dynffi.Binding, v dynffi.Visibility) (dynffi.Library, error) {
	s.binding, s.visibility = b, v
	return stubLib{closeErr: errors.New("busy")}, nil
}

func TestLoad_DefaultFlags(t *testing.T) {
	l := &stubLoader{}
	libs := NewTable(l)
	if _, err := libs.Load("x", dynffi.BindDefault, dynffi.VisDefault); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.binding != dynffi.BindNow || l.visibility != dynffi.VisGlobal {
		t.Errorf("defaults: got binding %d visibility %d", l.binding, l.visibility)
	}

	err := libs.CloseAll()
	var fe *ffierrors.Error
	if !errors.As(err, &fe) || fe.Kind != ffierrors.KindCloseFailed {
		t.Errorf("close failure: got %v", err)
	}
	if libs.Len() != 0 {
		t.Error("failed close left the library recorded")
	}
}

func TestParseFlags(t *testing.T) {
	bindings := map[string]dynffi.Binding{"": dynffi.BindDefault, "now": dynffi.BindNow, "lazy": dynffi.BindLazy}
	for s, want := range bindings {
		got, err := ParseBinding(s)
		if err != nil || got != want {
			t.Errorf("ParseBinding(%q): got %d, %v", s, got, err)
		}
	}
	if _, err := ParseBinding("eager"); err == nil {
		t.Error("ParseBinding accepted eager")
	}

	vis := map[string]dynffi.Visibility{"": dynffi.VisDefault, "local": dynffi.VisLocal, "global": dynffi.VisGlobal}
	for s, want := range vis {
		got, err := ParseVisibility(s)
		if err != nil || got != want {
			t.Errorf("ParseVisibility(%q): got %d, %v", s, got, err)
		}
	}
	if _, err := ParseVisibility("public"); err == nil {
		t.Error("ParseVisibility accepted public")
	}
}
