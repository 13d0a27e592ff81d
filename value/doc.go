// Package value implements the dynamic value system foreign calls marshal to and from.
//
// A Value always has a string form and may additionally cache one internal
// representation: a native long, a 64-bit integer, a double, a byte sequence
// or a list. Conversions prefer the representation already present, which is
// what lets numeric marshaling decide between integer and floating paths.
//
// Values are reference counted. Holders call IncrRef and DecrRef; a value with
// more than one owner is shared and must not be mutated in place:
//
//	v, copied := v.Unique()     // duplicate when shared
//	buf, ok := v.Exclusive()    // write access to an unshared byte sequence
//	native(buf.Bytes())
//	buf.Commit()                // string form is now stale
package value
