package convert

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/wippyai/dynffi/types"
)

const (
	extBias = 16383
	extMax  = 0x7fff
)

// putLongDouble encodes d in the platform's long double format.
func (e *Env) putLongDouble(slot []byte, d float64) {
	o := e.order()
	switch e.Platform.LongDouble {
	case types.LongDoubleX87:
		mant, se := toX87(d)
		binary.LittleEndian.PutUint64(slot, mant)
		binary.LittleEndian.PutUint16(slot[8:], se)
		for i := 10; i < e.Platform.LongDoubleSize; i++ {
			slot[i] = 0
		}
	case types.LongDoubleBinary128:
		hi, lo := toBinary128(d)
		if e.Platform.BigEndian {
			o.PutUint64(slot, hi)
			o.PutUint64(slot[8:], lo)
		} else {
			o.PutUint64(slot, lo)
			o.PutUint64(slot[8:], hi)
		}
	default:
		o.PutUint64(slot, math.Float64bits(d))
	}
}

// getLongDouble decodes a long double, rounding to the nearest double.
func (e *Env) getLongDouble(slot []byte) float64 {
	o := e.order()
	switch e.Platform.LongDouble {
	case types.LongDoubleX87:
		return fromX87(binary.LittleEndian.Uint64(slot), binary.LittleEndian.Uint16(slot[8:]))
	case types.LongDoubleBinary128:
		if e.Platform.BigEndian {
			return fromBinary128(o.Uint64(slot), o.Uint64(slot[8:]))
		}
		return fromBinary128(o.Uint64(slot[8:]), o.Uint64(slot))
	}
	return math.Float64frombits(o.Uint64(slot))
}

// toX87 returns the 64-bit significand (explicit integer bit) and the
// sign and exponent word of the 80-bit extended format.
func toX87(d float64) (mant uint64, se uint16) {
	b := math.Float64bits(d)
	if b>>63 != 0 {
		se = 0x8000
	}
	exp := int(b>>52) & 0x7ff
	frac := b & (1<<52 - 1)

	switch {
	case exp == 0x7ff && frac == 0:
		return 1 << 63, se | extMax
	case exp == 0x7ff:
		return 3 << 62, se | extMax
	case exp == 0 && frac == 0:
		return 0, se
	case exp == 0:
		lz := bits.LeadingZeros64(frac)
		return frac << lz, se | uint16(extBias-1074+63-lz)
	}
	return 1<<63 | frac<<11, se | uint16(exp-1023+extBias)
}

func fromX87(mant uint64, se uint16) float64 {
	exp := int(se & extMax)
	neg := se&0x8000 != 0
	var d float64
	switch {
	case exp == extMax && mant<<1 == 0:
		d = math.Inf(1)
	case exp == extMax:
		return math.NaN()
	case mant == 0:
		d = 0
	default:
		d = math.Ldexp(float64(mant), exp-extBias-63)
	}
	if neg {
		d = -d
	}
	return d
}

// toBinary128 returns the high and low words of the IEEE quad encoding.
func toBinary128(d float64) (hi, lo uint64) {
	b := math.Float64bits(d)
	sign := b >> 63 << 63
	exp := int(b>>52) & 0x7ff
	frac := b & (1<<52 - 1)

	switch {
	case exp == 0x7ff && frac == 0:
		return sign | extMax<<48, 0
	case exp == 0x7ff:
		return sign | extMax<<48 | 1<<47, 0
	case exp == 0 && frac == 0:
		return sign, 0
	case exp == 0:
		shift := bits.LeadingZeros64(frac) - 11
		frac = frac << shift & (1<<52 - 1)
		exp = 1 - shift
	}
	qexp := uint64(exp - 1023 + extBias)
	return sign | qexp<<48 | frac>>4, frac << 60
}

func fromBinary128(hi, lo uint64) float64 {
	neg := hi>>63 != 0
	exp := int(hi>>48) & extMax
	fracHi := hi & (1<<48 - 1)

	var d float64
	switch {
	case exp == extMax && fracHi == 0 && lo == 0:
		d = math.Inf(1)
	case exp == extMax:
		return math.NaN()
	case exp == 0 && fracHi == 0 && lo == 0:
		d = 0
	default:
		mant := fracHi<<4 | lo>>60
		if exp != 0 {
			mant |= 1 << 52
		}
		d = math.Ldexp(float64(mant), exp-extBias-52)
	}
	if neg {
		d = -d
	}
	return d
}
