package types

import (
	"strconv"
	"strings"
)

// Format returns the binary layout string of t: one letter per scalar,
// an x per padding byte, c<n> for scalars with no letter of their size.
func Format(t *Type, bigEndian bool) string {
	var b strings.Builder
	writeFormat(&b, t, bigEndian)
	return b.String()
}

func writeFormat(b *strings.Builder, t *Type, big bool) {
	switch {
	case t.Code == Void:
	case t.Code == Struct:
		off := 0
		for _, e := range t.Elements {
			next := AlignTo(off, e.Align)
			pad(b, next-off)
			writeFormat(b, e, big)
			off = next + e.Size
		}
		pad(b, t.Size-off)
	case t.Code.IsFloat():
		switch t.Size {
		case 4:
			b.WriteByte('f')
		case 8:
			b.WriteByte('d')
		default:
			bytes(b, t.Size)
		}
	default:
		var c byte
		switch t.Size {
		case 1:
			b.WriteByte('c')
			return
		case 2:
			c = 's'
		case 4:
			c = 'i'
		case 8:
			c = 'w'
		default:
			bytes(b, t.Size)
			return
		}
		if big {
			c -= 'a' - 'A'
		}
		b.WriteByte(c)
	}
}

func pad(b *strings.Builder, n int) {
	for ; n > 0; n-- {
		b.WriteByte('x')
	}
}

func bytes(b *strings.Builder, n int) {
	b.WriteByte('c')
	b.WriteString(strconv.Itoa(n))
}
