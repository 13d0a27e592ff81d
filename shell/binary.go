package shell

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"fortio.org/safecast"

	"github.com/wippyai/dynffi/value"
)

// field is one unit of a layout string as printed by ffidl::info format.
type field struct {
	letter byte
	size   int
	big    bool
}

// parseLayout splits a layout string such as "ixxxxdcxxxxxxx" or "c12".
func parseLayout(format string) ([]field, error) {
	var fields []field
	for i := 0; i < len(format); i++ {
		c := format[i]
		switch c {
		case 'x', 'c':
			f := field{letter: c, size: 1}
			if c == 'c' {
				j := i + 1
				for j < len(format) && format[j] >= '0' && format[j] <= '9' {
					j++
				}
				if j > i+1 {
					n, err := strconv.Atoi(format[i+1 : j])
					if err != nil || n == 0 {
						return nil, fmt.Errorf("bad count in format %q", format)
					}
					f.letter, f.size = 'b', n
					i = j - 1
				}
			}
			fields = append(fields, f)
		case 's', 'S':
			fields = append(fields, field{letter: 's', size: 2, big: c == 'S'})
		case 'i', 'I':
			fields = append(fields, field{letter: 'i', size: 4, big: c == 'I'})
		case 'w', 'W':
			fields = append(fields, field{letter: 'w', size: 8, big: c == 'W'})
		case 'f':
			fields = append(fields, field{letter: 'f', size: 4})
		case 'd':
			fields = append(fields, field{letter: 'd', size: 8})
		case ' ':
		default:
			return nil, fmt.Errorf("unknown format letter %q", c)
		}
	}
	return fields, nil
}

func (sh *Shell) order(big bool) binary.ByteOrder {
	if big {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (sh *Shell) floatOrder() binary.ByteOrder {
	return sh.order(sh.client.Platform().BigEndian)
}

// pack encodes values by layout. Padding takes no value.
func (sh *Shell) pack(fields []field, args []*value.Value) ([]byte, error) {
	var out []byte
	next := 0
	take := func() (*value.Value, error) {
		if next >= len(args) {
			return nil, fmt.Errorf("not enough arguments for all format specifiers")
		}
		v := args[next]
		next++
		return v, nil
	}

	for _, f := range fields {
		buf := make([]byte, f.size)
		switch f.letter {
		case 'x':
		case 'b':
			v, err := take()
			if err != nil {
				return nil, err
			}
			copy(buf, v.Bytes())
		case 'f', 'd':
			v, err := take()
			if err != nil {
				return nil, err
			}
			d, err := v.Double()
			if err != nil {
				return nil, err
			}
			if f.letter == 'f' {
				sh.floatOrder().PutUint32(buf, math.Float32bits(float32(d)))
			} else {
				sh.floatOrder().PutUint64(buf, math.Float64bits(d))
			}
		default:
			v, err := take()
			if err != nil {
				return nil, err
			}
			n, err := v.Wide()
			if err != nil {
				return nil, err
			}
			o := sh.order(f.big)
			switch f.size {
			case 1:
				buf[0] = byte(n)
			case 2:
				o.PutUint16(buf, uint16(n))
			case 4:
				o.PutUint32(buf, uint32(n))
			case 8:
				o.PutUint64(buf, uint64(n))
			}
		}
		out = append(out, buf...)
	}
	if next != len(args) {
		return nil, fmt.Errorf("%d extra arguments for format", len(args)-next)
	}
	return out, nil
}

// unpack decodes data by layout into a list, skipping padding.
func (sh *Shell) unpack(fields []field, data []byte) ([]*value.Value, error) {
	var out []*value.Value
	off := 0
	for _, f := range fields {
		if off+f.size > len(data) {
			return nil, fmt.Errorf("not enough data: need %d bytes, have %d", off+f.size, len(data))
		}
		b := data[off : off+f.size]
		off += f.size
		switch f.letter {
		case 'x':
		case 'b':
			out = append(out, value.NewBytes(append([]byte(nil), b...)))
		case 'f':
			out = append(out, value.NewDouble(float64(math.Float32frombits(sh.floatOrder().Uint32(b)))))
		case 'd':
			out = append(out, value.NewDouble(math.Float64frombits(sh.floatOrder().Uint64(b))))
		default:
			o := sh.order(f.big)
			var n int64
			switch f.size {
			case 1:
				n = int64(int8(b[0]))
			case 2:
				n = int64(int16(o.Uint16(b)))
			case 4:
				n = int64(int32(o.Uint32(b)))
			case 8:
				n = int64(o.Uint64(b))
			}
			out = append(out, value.NewWide(n))
		}
	}
	return out, nil
}

func registerBinary(sh *Shell) {
	sh.Register("pack", cmdPack)
	sh.Register("unpack", cmdUnpack)
	sh.Register("buffer", cmdBuffer)
	sh.Register("bytes", cmdBytes)
	sh.Register("bytelength", cmdBytelength)
}

func cmdPack(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) < 2 {
		return nil, wrongArgs(words, "format ?value ...?")
	}
	fields, err := parseLayout(words[1].String())
	if err != nil {
		return nil, err
	}
	b, err := sh.pack(fields, words[2:])
	if err != nil {
		return nil, err
	}
	return value.NewBytes(b), nil
}

func cmdUnpack(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 3 {
		return nil, wrongArgs(words, "format data")
	}
	fields, err := parseLayout(words[1].String())
	if err != nil {
		return nil, err
	}
	vals, err := sh.unpack(fields, words[2].Bytes())
	if err != nil {
		return nil, err
	}
	return value.NewList(vals...), nil
}

// buffer returns a zeroed byte value for pointer-var and struct arguments.
func cmdBuffer(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) < 2 || len(words) > 3 {
		return nil, wrongArgs(words, "size ?fill?")
	}
	n, err := words[1].Wide()
	if err != nil {
		return nil, err
	}
	size, err := safecast.Conv[int](n)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("bad buffer size %d", n)
	}
	b := make([]byte, size)
	if len(words) == 3 {
		fill, err := words[2].Int()
		if err != nil {
			return nil, err
		}
		for i := range b {
			b[i] = byte(fill)
		}
	}
	return value.NewBytes(b), nil
}

func cmdBytes(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 2 {
		return nil, wrongArgs(words, "string")
	}
	return value.NewBytes([]byte(words[1].String())), nil
}

func cmdBytelength(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 2 {
		return nil, wrongArgs(words, "value")
	}
	return value.NewInt(int64(len(words[1].Bytes()))), nil
}
