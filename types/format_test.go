package types

import (
	"strconv"
	"testing"
)

func TestFormat_Scalars(t *testing.T) {
	p := lp64()
	p.LongDouble = LongDoubleX87
	p.LongDoubleSize = 16
	p.LongDoubleAlign = 16
	r := NewRegistry(p, nil)

	tests := []struct {
		name string
		want string
	}{
		{"void", ""},
		{"char", "c"},
		{"short", "s"},
		{"int", "i"},
		{"long", "w"},
		{"float", "f"},
		{"double", "d"},
		{"long double", "c16"},
		{"pointer", "w"},
		{"pointer-utf8", "w"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			typ, ok := r.Lookup(tc.name)
			if !ok {
				t.Fatalf("missing %q", tc.name)
			}
			if got := Format(typ, false); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAlignTo(t *testing.T) {
	tests := []struct {
		off, align, want int
	}{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{5, 4, 8},
		{5, 1, 5},
		{5, 0, 5},
		{13, 12, 24},
	}
	for _, tc := range tests {
		if got := AlignTo(tc.off, tc.align); got != tc.want {
			t.Errorf("AlignTo(%d, %d): got %d, want %d", tc.off, tc.align, got, tc.want)
		}
	}
}

func TestParseConvention(t *testing.T) {
	for _, name := range []string{"", "default", "cdecl", "stdcall", "win64", "unix64"} {
		if _, err := ParseConvention(name); err != nil {
			t.Errorf("ParseConvention(%q): %v", name, err)
		}
	}
	c, _ := ParseConvention("")
	if c != ConvDefault {
		t.Errorf("empty name: got %v", c)
	}
	if _, err := ParseConvention("pascal"); err == nil || err.Error() == "" {
		t.Error("expected unknown protocol error")
	}
}

func TestClassString(t *testing.T) {
	if got := (ClassArg | ClassRet).String(); got != "arg|ret" {
		t.Errorf("got %q", got)
	}
	if got := Class(0).String(); got != "none" {
		t.Errorf("got %q", got)
	}
}

// formatWidth sums the bytes covered by a format string.
func formatWidth(t *testing.T, format string) int {
	t.Helper()
	total := 0
	for i := 0; i < len(format); i++ {
		switch format[i] {
		case 'c', 'x':
			j := i + 1
			for j < len(format) && format[j] >= '0' && format[j] <= '9' {
				j++
			}
			if format[i] == 'c' && j > i+1 {
				n, err := strconv.Atoi(format[i+1 : j])
				if err != nil {
					t.Fatalf("bad count in %q: %v", format, err)
				}
				total += n
				i = j - 1
				continue
			}
			total++
		case 's', 'S':
			total += 2
		case 'i', 'I', 'f':
			total += 4
		case 'w', 'W', 'd':
			total += 8
		default:
			t.Fatalf("unknown format letter %q in %q", format[i], format)
		}
	}
	return total
}

func TestFormat_CoversSize(t *testing.T) {
	p := lp64()
	p.LongDouble = LongDoubleX87
	p.LongDoubleSize = 16
	p.LongDoubleAlign = 16
	r := NewRegistry(p, nil)

	defs := []struct {
		name  string
		elems []string
	}{
		{"mixed", []string{"sint32", "double", "sint8"}},
		{"point", []string{"sint16", "sint16"}},
		{"rect", []string{"point", "point", "uint8"}},
		{"wide", []string{"char", "long double", "float"}},
		{"outer", []string{"char", "mixed", "rect", "pointer"}},
	}
	for _, d := range defs {
		typ, err := r.Define(d.name, d.elems...)
		if err != nil {
			t.Fatalf("Define %s: %v", d.name, err)
		}
		format := Format(typ, false)
		if got := formatWidth(t, format); got != typ.Size {
			t.Errorf("%s: format %q covers %d bytes, size is %d", d.name, format, got, typ.Size)
		}
	}
}
