package value

// Buffer is write access to the bytes of a value that has exactly one owner.
// Obtain it with Exclusive; shared values must be duplicated first.
type Buffer struct {
	v *Value
}

// Exclusive returns a Buffer over v when v is an unshared byte sequence.
func (v *Value) Exclusive() (Buffer, bool) {
	if v.kind != KindBytes || v.IsShared() {
		return Buffer{}, false
	}
	return Buffer{v: v}, true
}

// Unique returns v itself when it is unshared, otherwise an unshared duplicate.
// The second result reports whether a copy was made, in which case the caller
// must install the copy wherever v was held.
func (v *Value) Unique() (*Value, bool) {
	if !v.IsShared() {
		return v, false
	}
	return v.Duplicate(), true
}

// Bytes returns the mutable backing slice.
func (b Buffer) Bytes() []byte {
	return b.v.b
}

// Value returns the owning value.
func (b Buffer) Value() *Value {
	return b.v
}

// Commit records that the bytes were changed in place, so the string form is stale.
func (b Buffer) Commit() {
	b.v.InvalidateString()
}
