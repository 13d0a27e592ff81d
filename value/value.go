package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
)

// Kind identifies the internal representation a Value currently carries.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindWide
	KindDouble
	KindBytes
	KindList
)

var kindNames = [...]string{
	KindString: "string",
	KindInt:    "int",
	KindWide:   "wideInt",
	KindDouble: "double",
	KindBytes:  "bytearray",
	KindList:   "list",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is a dynamically typed, reference counted host value.
// It always has a string form, computed lazily from the internal representation.
type Value struct {
	refs  atomic.Int32
	kind  Kind
	valid bool
	str   string
	i     int64
	f     float64
	b     []byte
	list  []*Value
}

// NewString returns a value whose only representation is s.
func NewString(s string) *Value {
	return &Value{kind: KindString, str: s, valid: true}
}

// NewInt returns a value holding a native long.
func NewInt(i int64) *Value {
	return &Value{kind: KindInt, i: i}
}

// NewWide returns a value holding a 64-bit integer.
func NewWide(i int64) *Value {
	return &Value{kind: KindWide, i: i}
}

// NewDouble returns a value holding a double.
func NewDouble(f float64) *Value {
	return &Value{kind: KindDouble, f: f}
}

// NewBytes returns a byte-sequence value. The value takes ownership of b.
func NewBytes(b []byte) *Value {
	if b == nil {
		b = []byte{}
	}
	return &Value{kind: KindBytes, b: b}
}

// NewList returns a list value. Elements gain a reference.
func NewList(elems ...*Value) *Value {
	list := make([]*Value, len(elems))
	for i, e := range elems {
		if e == nil {
			e = NewString("")
		}
		e.IncrRef()
		list[i] = e
	}
	return &Value{kind: KindList, list: list}
}

// Kind reports the current internal representation.
func (v *Value) Kind() Kind {
	return v.kind
}

// IsBytes reports whether v is currently backed by a byte sequence.
func (v *Value) IsBytes() bool {
	return v.kind == KindBytes
}

// IncrRef adds an owner.
func (v *Value) IncrRef() {
	v.refs.Add(1)
}

// DecrRef drops an owner and returns the remaining count.
func (v *Value) DecrRef() int32 {
	n := v.refs.Add(-1)
	if n == 0 && v.kind == KindList {
		for _, e := range v.list {
			e.DecrRef()
		}
	}
	return n
}

// RefCount returns the current number of owners.
func (v *Value) RefCount() int32 {
	return v.refs.Load()
}

// IsShared reports whether more than one owner holds v.
func (v *Value) IsShared() bool {
	return v.refs.Load() > 1
}

// Duplicate returns an unshared copy of v with the same representations.
func (v *Value) Duplicate() *Value {
	d := &Value{
		kind:  v.kind,
		valid: v.valid,
		str:   v.str,
		i:     v.i,
		f:     v.f,
	}
	if v.b != nil {
		d.b = append([]byte(nil), v.b...)
	}
	if v.list != nil {
		d.list = make([]*Value, len(v.list))
		for i, e := range v.list {
			e.IncrRef()
			d.list[i] = e
		}
	}
	return d
}

// String returns the string form, generating it from the internal representation if stale.
func (v *Value) String() string {
	if v == nil {
		return ""
	}
	if !v.valid {
		v.str = v.render()
		v.valid = true
	}
	return v.str
}

// InvalidateString marks the string form stale after the internal representation changed.
// Values that only have a string form are left untouched.
func (v *Value) InvalidateString() {
	if v.kind != KindString {
		v.valid = false
		v.str = ""
	}
}

func (v *Value) render() string {
	switch v.kind {
	case KindInt, KindWide:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return FormatDouble(v.f)
	case KindBytes:
		return string(v.b)
	case KindList:
		words := make([]string, len(v.list))
		for i, e := range v.list {
			words[i] = e.String()
		}
		return FormatList(words)
	}
	return v.str
}

// FormatDouble renders f so that integral doubles keep a decimal point.
func FormatDouble(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case math.IsNaN(f):
		return "NaN"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Int returns v as a native long.
func (v *Value) Int() (int64, error) {
	switch v.kind {
	case KindInt, KindWide:
		return v.i, nil
	}
	n, err := parseInt(v.String())
	if err != nil {
		return 0, fmt.Errorf("expected integer but got %q", v.String())
	}
	if v.kind == KindString {
		v.kind = KindInt
		v.i = n
	}
	return n, nil
}

// Wide returns v as a 64-bit integer.
func (v *Value) Wide() (int64, error) {
	switch v.kind {
	case KindInt, KindWide:
		return v.i, nil
	}
	n, err := parseInt(v.String())
	if err != nil {
		return 0, fmt.Errorf("expected integer but got %q", v.String())
	}
	if v.kind == KindString {
		v.kind = KindWide
		v.i = n
	}
	return n, nil
}

// Double returns v as a double.
func (v *Value) Double() (float64, error) {
	switch v.kind {
	case KindDouble:
		return v.f, nil
	case KindInt, KindWide:
		return float64(v.i), nil
	}
	s := strings.TrimSpace(v.String())
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if n, ierr := parseInt(s); ierr == nil {
			return float64(n), nil
		}
		return 0, fmt.Errorf("expected floating-point number but got %q", v.String())
	}
	if v.kind == KindString {
		v.kind = KindDouble
		v.f = f
	}
	return f, nil
}

// Bytes returns the byte-sequence form. For byte values this is the backing
// slice and must be treated as read-only; use Exclusive for writes.
func (v *Value) Bytes() []byte {
	if v.kind == KindBytes {
		return v.b
	}
	return []byte(v.String())
}

// List returns the elements of v, parsing the string form when needed.
func (v *Value) List() ([]*Value, error) {
	if v.kind == KindList {
		return v.list, nil
	}
	words, err := SplitList(v.String())
	if err != nil {
		return nil, err
	}
	list := make([]*Value, len(words))
	for i, w := range words {
		e := NewString(w)
		e.IncrRef()
		list[i] = e
	}
	if v.kind == KindString {
		v.kind = KindList
		v.list = list
	}
	return list, nil
}

func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return n, nil
	}
	u, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, err
	}
	return int64(u), nil
}
