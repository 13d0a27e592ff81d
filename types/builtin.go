package types

// Builtin is one entry of the built-in type catalog.
type Builtin struct {
	Name string
	Type *Type
}

// Builtins returns the built-in catalog sized for p, in registration order.
func Builtins(p Platform) []Builtin {
	getPointer := ClassGetInt
	if p.PointerSize != p.LongSize {
		getPointer = ClassGetWideInt
	}
	getLong := ClassGetInt
	if p.LongSize == 8 {
		getLong = ClassGetWideInt
	}
	int64Align := p.Int64Align
	if int64Align == 0 {
		int64Align = 8
	}
	doubleAlign := p.DoubleAlign
	if doubleAlign == 0 {
		doubleAlign = 8
	}

	scalar := func(code Code, size, align int, class Class) *Type {
		t := &Type{Code: code, Size: size, Align: align, Class: class | ClassStatic}
		t.refs.Store(1)
		return t
	}
	integer := func(size int, signed bool, get Class) *Type {
		align := size
		if size == 8 {
			align = int64Align
		}
		return scalar(intCode(size, signed), size, align, ClassAll|get)
	}
	pointer := func(code Code, class Class) *Type {
		return scalar(code, p.PointerSize, p.PointerSize, class)
	}

	list := []Builtin{
		{"void", scalar(Void, 0, 1, ClassRet|ClassCbRet)},
		{"char", integer(1, !p.UnsignedChar, ClassGetInt)},
		{"signed char", integer(1, true, ClassGetInt)},
		{"unsigned char", integer(1, false, ClassGetInt)},
		{"short", integer(2, true, ClassGetInt)},
		{"unsigned short", integer(2, false, ClassGetInt)},
		{"int", integer(p.IntSize, true, ClassGetInt)},
		{"unsigned", integer(p.IntSize, false, ClassGetInt)},
		{"long", integer(p.LongSize, true, getLong)},
		{"unsigned long", integer(p.LongSize, false, getLong)},
		{"long long", integer(8, true, ClassGetWideInt)},
		{"unsigned long long", integer(8, false, ClassGetWideInt)},
		{"float", scalar(Float, 4, 4, ClassAll|ClassGetDouble)},
		{"double", scalar(Double, 8, doubleAlign, ClassAll|ClassGetDouble)},
	}
	if p.HasLongDouble() {
		list = append(list, Builtin{"long double",
			scalar(LongDouble, p.LongDoubleSize, p.LongDoubleAlign, ClassAll|ClassGetDouble)})
	}
	list = append(list,
		Builtin{"sint8", integer(1, true, ClassGetInt)},
		Builtin{"uint8", integer(1, false, ClassGetInt)},
		Builtin{"sint16", integer(2, true, ClassGetInt)},
		Builtin{"uint16", integer(2, false, ClassGetInt)},
		Builtin{"sint32", integer(4, true, ClassGetInt)},
		Builtin{"uint32", integer(4, false, ClassGetInt)},
		Builtin{"sint64", integer(8, true, ClassGetWideInt)},
		Builtin{"uint64", integer(8, false, ClassGetWideInt)},
		Builtin{"pointer", pointer(Pointer, ClassAll|getPointer)},
		Builtin{"pointer-obj", pointer(PointerObj, ClassArgRet|ClassCbArg|ClassCbRet|getPointer)},
		Builtin{"pointer-utf8", pointer(PointerUTF8, ClassArgRet|ClassCbArg)},
		Builtin{"pointer-byte", pointer(PointerByte, ClassArg|ClassGetBytes)},
		Builtin{"pointer-var", pointer(PointerVar, ClassArg|ClassGetBytes)},
	)
	if p.Callbacks {
		list = append(list, Builtin{"pointer-proc", pointer(PointerProc, ClassArg)})
	}
	return list
}
