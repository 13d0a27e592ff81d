package manifest

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	ffierrors "github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/types"
)

func lp64() types.Platform {
	return types.Platform{
		Host:        "test-lp64",
		IntSize:     4,
		LongSize:    8,
		PointerSize: 8,
		ArgSize:     8,
		Int64Align:  8,
		DoubleAlign: 8,
	}
}

func populated(t *testing.T) *types.Registry {
	t.Helper()
	r := types.NewRegistry(lp64(), nil)
	defs := [][]string{
		{"handle", "pointer"},
		{"point", "sint32", "sint32"},
		{"rect", "point", "point", "uint8"},
	}
	for _, d := range defs {
		if _, err := r.Define(d[0], d[1:]...); err != nil {
			t.Fatalf("Define %s: %v", d[0], err)
		}
	}
	return r
}

func TestEncodeDecodeApply(t *testing.T) {
	src := populated(t)

	var buf bytes.Buffer
	if err := FromRegistry(src).Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	m, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Host != "test-lp64" || len(m.Defs) != 3 {
		t.Fatalf("manifest: got host %q with %d defs", m.Host, len(m.Defs))
	}

	dst := types.NewRegistry(lp64(), nil)
	n, err := m.Apply(dst)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n != 3 {
		t.Errorf("defined: got %d, want 3", n)
	}
	rect, ok := dst.Lookup("rect")
	if !ok {
		t.Fatal("rect not restored")
	}
	want, _ := src.Lookup("rect")
	if rect.Size != want.Size || rect.Align != want.Align {
		t.Errorf("rect: got size %d align %d, want %d/%d", rect.Size, rect.Align, want.Size, want.Align)
	}

	n, err = m.Apply(dst)
	if err != nil || n != 0 {
		t.Errorf("reapply: got %d, %v", n, err)
	}
}

func TestApply_Conflict(t *testing.T) {
	m := &Manifest{Schema: SchemaVersion, Defs: []types.Def{{Name: "point", Elements: []string{"double", "double"}}}}
	r := populated(t)
	_, err := m.Apply(r)
	if !errors.Is(err, ffierrors.ErrAlreadyDefined) {
		t.Errorf("conflicting typedef: got %v", err)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte{0xc1})); err == nil {
		t.Error("garbage decoded")
	}

	b, err := msgpack.Marshal(&Manifest{Schema: SchemaVersion + 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Decode(bytes.NewReader(b)); err == nil {
		t.Error("future schema accepted")
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "types.mp")
	if err := Save(path, populated(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r := types.NewRegistry(lp64(), nil)
	n, err := Load(path, r)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 3 {
		t.Errorf("loaded: got %d, want 3", n)
	}
	if got := r.Names("r*"); len(got) != 1 || got[0] != "rect" {
		t.Errorf("names: got %v", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.mp"), r); err == nil {
		t.Error("missing file loaded")
	}
}
