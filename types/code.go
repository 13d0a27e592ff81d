package types

// Code identifies the marshaling rule a type follows.
type Code uint8

const (
	Void Code = iota
	Float
	Double
	LongDouble
	UInt8
	SInt8
	UInt16
	SInt16
	UInt32
	SInt32
	UInt64
	SInt64
	Struct
	Pointer
	PointerObj
	PointerUTF8
	PointerByte
	PointerVar
	PointerProc

	// NumCodes is the number of defined codes. Tables indexed by Code use it as their length.
	NumCodes
)

var codeNames = [NumCodes]string{
	Void:        "void",
	Float:       "float",
	Double:      "double",
	LongDouble:  "long double",
	UInt8:       "uint8",
	SInt8:       "sint8",
	UInt16:      "uint16",
	SInt16:      "sint16",
	UInt32:      "uint32",
	SInt32:      "sint32",
	UInt64:      "uint64",
	SInt64:      "sint64",
	Struct:      "struct",
	Pointer:     "pointer",
	PointerObj:  "pointer-obj",
	PointerUTF8: "pointer-utf8",
	PointerByte: "pointer-byte",
	PointerVar:  "pointer-var",
	PointerProc: "pointer-proc",
}

func (c Code) String() string {
	if c < NumCodes {
		return codeNames[c]
	}
	return "unknown"
}

// IsIntegral reports whether c is an integer code. Integral return values are widened.
func (c Code) IsIntegral() bool {
	return c >= UInt8 && c <= SInt64
}

// IsSigned reports whether c is a signed integer code.
func (c Code) IsSigned() bool {
	switch c {
	case SInt8, SInt16, SInt32, SInt64:
		return true
	}
	return false
}

// IsPointer reports whether c is one of the pointer variants.
func (c Code) IsPointer() bool {
	return c >= Pointer && c <= PointerProc
}

// IsFloat reports whether c is a floating point code.
func (c Code) IsFloat() bool {
	return c == Float || c == Double || c == LongDouble
}

func intCode(size int, signed bool) Code {
	switch size {
	case 1:
		if signed {
			return SInt8
		}
		return UInt8
	case 2:
		if signed {
			return SInt16
		}
		return UInt16
	case 4:
		if signed {
			return SInt32
		}
		return UInt32
	default:
		if signed {
			return SInt64
		}
		return UInt64
	}
}
