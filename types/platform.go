package types

import "runtime"

// LongDoubleFormat describes the in-memory encoding of the C long double.
type LongDoubleFormat uint8

const (
	LongDoubleNone      LongDoubleFormat = iota // no distinct long double
	LongDoubleFloat64                           // same as double
	LongDoubleX87                               // 80-bit x87 extended precision
	LongDoubleBinary128                         // IEEE quad precision
)

// Platform carries the type sizes and ABI facts the registry and the
// conversion layer depend on. Engines report the platform they target.
type Platform struct {
	Host   string
	Engine string

	IntSize     int
	LongSize    int
	PointerSize int
	// ArgSize is the width integral return values are widened to.
	ArgSize int

	Int64Align  int
	DoubleAlign int

	LongDouble      LongDoubleFormat
	LongDoubleSize  int
	LongDoubleAlign int

	BigEndian    bool
	UnsignedChar bool
	Callbacks    bool
}

// HasLongDouble reports whether long double is registered as a type.
func (p Platform) HasLongDouble() bool {
	return p.LongDouble != LongDoubleNone && p.LongDoubleSize > 0
}

// Native returns the platform of the running process, as a C compiler
// targeting GOOS/GOARCH would see it.
func Native() Platform {
	p := Platform{
		Host:        runtime.GOARCH + "-" + runtime.GOOS,
		IntSize:     4,
		LongSize:    8,
		PointerSize: 8,
		ArgSize:     8,
		Int64Align:  8,
		DoubleAlign: 8,
	}

	switch runtime.GOARCH {
	case "386", "arm", "mips", "mipsle", "wasm":
		p.PointerSize = 4
		p.LongSize = 4
		p.ArgSize = 4
	}
	if runtime.GOOS == "windows" {
		p.LongSize = 4
	}

	switch runtime.GOARCH {
	case "386":
		if runtime.GOOS != "windows" {
			p.Int64Align = 4
			p.DoubleAlign = 4
		}
	case "s390x", "ppc64", "mips", "mips64":
		p.BigEndian = true
	}

	switch runtime.GOARCH {
	case "arm", "arm64", "ppc64", "ppc64le", "s390x", "riscv64":
		p.UnsignedChar = runtime.GOOS != "darwin" && runtime.GOOS != "windows"
	}

	switch {
	case runtime.GOOS == "windows" || runtime.GOOS == "darwin" && runtime.GOARCH == "arm64":
		p.LongDouble = LongDoubleFloat64
		p.LongDoubleSize = 8
		p.LongDoubleAlign = 8
	case runtime.GOARCH == "amd64":
		p.LongDouble = LongDoubleX87
		p.LongDoubleSize = 16
		p.LongDoubleAlign = 16
	case runtime.GOARCH == "386":
		p.LongDouble = LongDoubleX87
		p.LongDoubleSize = 12
		p.LongDoubleAlign = 4
	case runtime.GOARCH == "arm64", runtime.GOARCH == "riscv64", runtime.GOARCH == "s390x":
		p.LongDouble = LongDoubleBinary128
		p.LongDoubleSize = 16
		p.LongDoubleAlign = 16
	default:
		p.LongDouble = LongDoubleFloat64
		p.LongDoubleSize = 8
		p.LongDoubleAlign = 8
	}
	return p
}

// Wasm32 returns the platform of a wasm32 guest compiled by clang.
// Long double is not offered since guests pass it through memory.
func Wasm32() Platform {
	return Platform{
		Host:        "wasm32-unknown",
		IntSize:     4,
		LongSize:    4,
		PointerSize: 4,
		ArgSize:     4,
		Int64Align:  8,
		DoubleAlign: 8,
	}
}
