package types

import "strings"

// Class is the usage-class bitmask: the contexts a type may appear in and
// the kind of value fetched from a host value when marshaling it.
type Class uint16

const (
	ClassArg        Class = 0x001 // callout argument
	ClassRet        Class = 0x002 // callout return
	ClassElt        Class = 0x004 // aggregate element
	ClassCbArg      Class = 0x008 // callback argument
	ClassCbRet      Class = 0x010 // callback return
	ClassGetInt     Class = 0x020
	ClassGetDouble  Class = 0x040
	ClassGetBytes   Class = 0x080
	ClassStatic     Class = 0x100 // built-in, never freed
	ClassGetWideInt Class = 0x200

	ClassAll    = ClassArg | ClassRet | ClassElt | ClassCbArg | ClassCbRet
	ClassArgRet = ClassArg | ClassRet
)

// ContextName returns the wording used in "not permitted in X context" errors.
func ContextName(ctx Class) string {
	switch ctx {
	case ClassArg:
		return "argument"
	case ClassRet:
		return "return"
	case ClassElt:
		return "element"
	case ClassCbArg:
		return "callback argument"
	case ClassCbRet:
		return "callback return"
	}
	return "unknown"
}

var classNames = []struct {
	bit  Class
	name string
}{
	{ClassArg, "arg"},
	{ClassRet, "ret"},
	{ClassElt, "elt"},
	{ClassCbArg, "cbarg"},
	{ClassCbRet, "cbret"},
	{ClassGetInt, "getint"},
	{ClassGetDouble, "getdouble"},
	{ClassGetBytes, "getbytes"},
	{ClassStatic, "static"},
	{ClassGetWideInt, "getwideint"},
}

func (c Class) String() string {
	var parts []string
	for _, cn := range classNames {
		if c&cn.bit != 0 {
			parts = append(parts, cn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
