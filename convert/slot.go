package convert

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/dynffi/types"
)

// putInt stores the low size bytes of n.
func putInt(o binary.ByteOrder, slot []byte, size int, n int64) {
	switch size {
	case 1:
		slot[0] = byte(n)
	case 2:
		o.PutUint16(slot, uint16(n))
	case 4:
		o.PutUint32(slot, uint32(n))
	default:
		o.PutUint64(slot, uint64(n))
	}
}

// getInt reads a size-byte integer and extends it by signedness.
func getInt(o binary.ByteOrder, slot []byte, size int, signed bool) int64 {
	switch size {
	case 1:
		if signed {
			return int64(int8(slot[0]))
		}
		return int64(slot[0])
	case 2:
		u := o.Uint16(slot)
		if signed {
			return int64(int16(u))
		}
		return int64(u)
	case 4:
		u := o.Uint32(slot)
		if signed {
			return int64(int32(u))
		}
		return int64(u)
	}
	return int64(o.Uint64(slot))
}

// narrow truncates n to the width of t, extending by t's signedness.
func narrow(t *types.Type, n int64) int64 {
	switch t.Size {
	case 1:
		if t.Code.IsSigned() {
			return int64(int8(n))
		}
		return int64(uint8(n))
	case 2:
		if t.Code.IsSigned() {
			return int64(int16(n))
		}
		return int64(uint16(n))
	case 4:
		if t.Code.IsSigned() {
			return int64(int32(n))
		}
		return int64(uint32(n))
	}
	return n
}

// widened reports whether a return of t occupies a full ArgSize word.
func (e *Env) widened(t *types.Type) bool {
	return (t.Code.IsIntegral() || t.Code.IsPointer()) && t.Size < e.Platform.ArgSize
}

// readReturnInt reads an integral return value, unwidening it from the
// ArgSize word when the convention widened it.
func (e *Env) readReturnInt(t *types.Type, slot []byte) int64 {
	o := e.order()
	if e.widened(t) {
		return narrow(t, getInt(o, slot, e.Platform.ArgSize, true))
	}
	return getInt(o, slot, t.Size, t.Code.IsSigned())
}

// writeReturnInt stores an integral return value, widening it to the
// ArgSize word exactly as readReturnInt expects.
func (e *Env) writeReturnInt(t *types.Type, slot []byte, n int64) {
	o := e.order()
	if e.widened(t) {
		putInt(o, slot, e.Platform.ArgSize, narrow(t, n))
		return
	}
	putInt(o, slot, t.Size, n)
}

func putFloat(o binary.ByteOrder, slot []byte, size int, d float64) {
	if size == 4 {
		o.PutUint32(slot, math.Float32bits(float32(d)))
		return
	}
	o.PutUint64(slot, math.Float64bits(d))
}

func getFloat(o binary.ByteOrder, slot []byte, size int) float64 {
	if size == 4 {
		return float64(math.Float32frombits(o.Uint32(slot)))
	}
	return math.Float64frombits(o.Uint64(slot))
}
