package convert

import (
	"context"
	"fmt"

	"github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/resource"
	"github.com/wippyai/dynffi/types"
	"github.com/wippyai/dynffi/value"
)

// codec holds the conversions of one type code. A nil entry means the
// code never appears in that direction.
type codec struct {
	// arg stores an outbound callout argument.
	arg func(c *Call, i int, t *types.Type, v *value.Value, slot []byte) error
	// get builds a host value from a callout return or callback argument.
	get func(e *Env, t *types.Type, slot []byte, ret bool) (*value.Value, error)
	// put stores a callback return value.
	put func(e *Env, t *types.Type, v *value.Value, slot []byte) error
}

var codecs [types.NumCodes]codec

func init() {
	integer := codec{arg: intArg, get: intGet, put: intPut}
	for _, c := range []types.Code{
		types.UInt8, types.SInt8, types.UInt16, types.SInt16,
		types.UInt32, types.SInt32, types.UInt64, types.SInt64,
	} {
		codecs[c] = integer
	}
	codecs[types.Void] = codec{
		get: func(*Env, *types.Type, []byte, bool) (*value.Value, error) { return value.NewString(""), nil },
		put: func(*Env, *types.Type, *value.Value, []byte) error { return nil },
	}
	codecs[types.Float] = codec{arg: floatArg, get: floatGet, put: floatPut}
	codecs[types.Double] = codec{arg: floatArg, get: floatGet, put: floatPut}
	codecs[types.LongDouble] = codec{arg: longDoubleArg, get: longDoubleGet, put: longDoublePut}
	codecs[types.Struct] = codec{arg: structArg, get: structGet, put: structPut}
	codecs[types.Pointer] = codec{arg: pointerArg, get: pointerGet, put: pointerPut}
	codecs[types.PointerObj] = codec{arg: objArg, get: objGet, put: objPut}
	codecs[types.PointerUTF8] = codec{arg: utf8Arg, get: utf8Get}
	codecs[types.PointerByte] = codec{arg: byteArg}
	codecs[types.PointerVar] = codec{arg: varArg}
	codecs[types.PointerProc] = codec{arg: procArg}
}

// Arg converts argument i into its native slot. Nothing is sent to native
// code when it fails.
func (c *Call) Arg(i int, t *types.Type, v *value.Value, slot []byte) error {
	cd := codecs[t.Code]
	if cd.arg == nil {
		return errors.Internal("unknown type for argument: %d", t.Code)
	}
	return cd.arg(c, i, t, v, slot)
}

// Return converts a callout's return slot to a host value, unwidening
// small integers.
func (e *Env) Return(t *types.Type, slot []byte) (*value.Value, error) {
	cd := codecs[t.Code]
	if cd.get == nil {
		return nil, errors.Internal("Invalid return type: %d", t.Code)
	}
	return cd.get(e, t, slot, true)
}

// CallbackArg converts one native callback argument to a host value.
func (e *Env) CallbackArg(t *types.Type, slot []byte) (*value.Value, error) {
	cd := codecs[t.Code]
	if cd.get == nil || t.Code == types.Void {
		return nil, errors.Internal("unimplemented type for callback argument: %d", t.Code)
	}
	return cd.get(e, t, slot, false)
}

// CallbackReturn stores a callback's result in the native return slot,
// widening small integers the way Return reads them. A pointer-obj result
// is pinned to the call in ctx (see WithCall). Without one it stays in the
// object table until removed.
func (e *Env) CallbackReturn(ctx context.Context, t *types.Type, v *value.Value, slot []byte) error {
	cd := codecs[t.Code]
	if cd.put == nil {
		return errors.Internal("unimplemented type for callback return: %d", t.Code)
	}
	if t.Code == types.PointerObj {
		if c := callFrom(ctx); c != nil && c.env == e {
			h, err := c.pin(v)
			if err != nil {
				return err
			}
			e.writeReturnInt(t, slot, int64(h))
			return nil
		}
	}
	return cd.put(e, t, v, slot)
}

func conversion(i int, t *types.Type, err error) error {
	return errors.Conversion(i, t.Code.String(), err)
}

func intArg(c *Call, i int, t *types.Type, v *value.Value, slot []byte) error {
	n, _, err := c.env.fetchNumber(t, v)
	if err != nil {
		return conversion(i, t, err)
	}
	putInt(c.env.order(), slot, t.Size, n)
	return nil
}

func intGet(e *Env, t *types.Type, slot []byte, ret bool) (*value.Value, error) {
	var n int64
	if ret {
		n = e.readReturnInt(t, slot)
	} else {
		n = getInt(e.order(), slot, t.Size, t.Code.IsSigned())
	}
	if t.Class&types.ClassGetWideInt != 0 {
		return value.NewWide(n), nil
	}
	return value.NewInt(n), nil
}

func intPut(e *Env, t *types.Type, v *value.Value, slot []byte) error {
	n, _, err := e.fetchNumber(t, v)
	if err != nil {
		return fmt.Errorf("%w, converting callback return value", err)
	}
	e.writeReturnInt(t, slot, n)
	return nil
}

func floatArg(c *Call, i int, t *types.Type, v *value.Value, slot []byte) error {
	d, err := c.env.fetchDouble(v)
	if err != nil {
		return conversion(i, t, err)
	}
	putFloat(c.env.order(), slot, t.Size, d)
	return nil
}

func floatGet(e *Env, t *types.Type, slot []byte, _ bool) (*value.Value, error) {
	return value.NewDouble(getFloat(e.order(), slot, t.Size)), nil
}

func floatPut(e *Env, t *types.Type, v *value.Value, slot []byte) error {
	d, err := e.fetchDouble(v)
	if err != nil {
		return fmt.Errorf("%w, converting callback return value", err)
	}
	putFloat(e.order(), slot, t.Size, d)
	return nil
}

func longDoubleArg(c *Call, i int, t *types.Type, v *value.Value, slot []byte) error {
	d, err := c.env.fetchDouble(v)
	if err != nil {
		return conversion(i, t, err)
	}
	c.env.putLongDouble(slot, d)
	return nil
}

func longDoubleGet(e *Env, _ *types.Type, slot []byte, _ bool) (*value.Value, error) {
	return value.NewDouble(e.getLongDouble(slot)), nil
}

func longDoublePut(e *Env, _ *types.Type, v *value.Value, slot []byte) error {
	d, err := e.fetchDouble(v)
	if err != nil {
		return fmt.Errorf("%w, converting callback return value", err)
	}
	e.putLongDouble(slot, d)
	return nil
}

func structArg(_ *Call, i int, t *types.Type, v *value.Value, slot []byte) error {
	if !v.IsBytes() {
		return errors.NotBinary(i)
	}
	b := v.Bytes()
	if len(b) != t.Size {
		return errors.WrongSize(i, len(b), t.Size)
	}
	copy(slot, b)
	return nil
}

func structGet(_ *Env, t *types.Type, slot []byte, _ bool) (*value.Value, error) {
	return value.NewBytes(append([]byte(nil), slot[:t.Size]...)), nil
}

func structPut(_ *Env, t *types.Type, v *value.Value, slot []byte) error {
	b := v.Bytes()
	if len(b) != t.Size {
		return fmt.Errorf("byte array for callback struct return has %d bytes instead of %d", len(b), t.Size)
	}
	copy(slot, b)
	return nil
}

func pointerArg(c *Call, i int, t *types.Type, v *value.Value, slot []byte) error {
	addr, err := c.env.fetchAddress(t, v)
	if err != nil {
		return conversion(i, t, err)
	}
	c.env.putAddress(slot, addr)
	return nil
}

func pointerGet(e *Env, t *types.Type, slot []byte, ret bool) (*value.Value, error) {
	addr := e.getAddress(t, slot, ret)
	if t.Class&types.ClassGetWideInt != 0 {
		return value.NewWide(int64(addr)), nil
	}
	return value.NewInt(int64(addr)), nil
}

func pointerPut(e *Env, t *types.Type, v *value.Value, slot []byte) error {
	addr, err := e.fetchAddress(t, v)
	if err != nil {
		return fmt.Errorf("%w, converting callback return value", err)
	}
	e.writeReturnInt(t, slot, int64(addr))
	return nil
}

func objArg(c *Call, i int, t *types.Type, v *value.Value, slot []byte) error {
	h, err := c.pin(v)
	if err != nil {
		return conversion(i, t, err)
	}
	c.env.putAddress(slot, uintptr(h))
	return nil
}

func objGet(e *Env, t *types.Type, slot []byte, ret bool) (*value.Value, error) {
	h := resource.Handle(e.getAddress(t, slot, ret))
	if e.Objects == nil {
		return nil, errors.Unsupported(errors.PhaseMarshal, "pointer-obj needs an object table")
	}
	v, ok := e.Objects.Get(h)
	if !ok {
		return nil, errors.New(errors.PhaseMarshal, errors.KindNullAddress).
			Detail("pointer-obj %#x does not refer to a host value", uint64(h)).
			Build()
	}
	return v, nil
}

func objPut(e *Env, t *types.Type, v *value.Value, slot []byte) error {
	h, err := e.objectHandle(v)
	if err != nil {
		return err
	}
	e.writeReturnInt(t, slot, int64(h))
	return nil
}

func utf8Arg(c *Call, i int, t *types.Type, v *value.Value, slot []byte) error {
	addr, err := c.frame.CString(v.String())
	if err != nil {
		return conversion(i, t, err)
	}
	c.env.putAddress(slot, addr)
	return nil
}

func utf8Get(e *Env, t *types.Type, slot []byte, ret bool) (*value.Value, error) {
	addr := e.getAddress(t, slot, ret)
	if addr == 0 {
		return value.NewString(""), nil
	}
	s, err := e.Strings.ReadString(addr)
	if err != nil {
		return nil, err
	}
	return value.NewString(s), nil
}

func byteArg(c *Call, i int, t *types.Type, v *value.Value, slot []byte) error {
	if !v.IsBytes() {
		return errors.NotBinary(i)
	}
	addr, err := c.frame.Bytes(v.Bytes())
	if err != nil {
		return conversion(i, t, err)
	}
	c.env.putAddress(slot, addr)
	return nil
}

// varArg passes the bytes of the variable named by v so native code can
// write them. A shared value is duplicated and stored back into the
// variable before its bytes are exposed.
func varArg(c *Call, i int, t *types.Type, v *value.Value, slot []byte) error {
	if c.env.Host == nil {
		return errors.Unsupported(errors.PhaseMarshal, "pointer-var needs a host")
	}
	name := v.String()
	cur, err := c.env.Host.GetVar(name)
	if err != nil {
		return err
	}
	if !cur.IsBytes() {
		return errors.NotBinary(i)
	}
	if u, copied := cur.Unique(); copied {
		if err := c.env.Host.SetVar(name, u); err != nil {
			return err
		}
		cur = u
	}
	buf, ok := cur.Exclusive()
	if !ok {
		return errors.Internal("parameter %d: variable %q is still shared", i, name)
	}
	addr, err := c.frame.Mutable(buf.Bytes())
	if err != nil {
		return conversion(i, t, err)
	}
	c.env.putAddress(slot, addr)
	c.commits = append(c.commits, buf.Commit)
	return nil
}

func procArg(c *Call, _ int, _ *types.Type, v *value.Value, slot []byte) error {
	name := v.String()
	if c.env.Host != nil {
		name = c.env.Host.QualifyName(name)
	}
	var addr uintptr
	ok := false
	if c.env.Callbacks != nil {
		addr, ok = c.env.Callbacks.Address(name)
	}
	if !ok {
		return errors.UnknownCallback(v.String())
	}
	c.env.putAddress(slot, addr)
	return nil
}

func (e *Env) objectHandle(v *value.Value) (resource.Handle, error) {
	if e.Objects == nil {
		return 0, errors.Unsupported(errors.PhaseMarshal, "pointer-obj needs an object table")
	}
	return e.Objects.Insert(v)
}

func (e *Env) putAddress(slot []byte, addr uintptr) {
	putInt(e.order(), slot, e.Platform.PointerSize, int64(addr))
}

func (e *Env) getAddress(t *types.Type, slot []byte, ret bool) uintptr {
	if ret {
		return uintptr(uint64(e.readReturnInt(t, slot)))
	}
	return uintptr(getInt(e.order(), slot, e.Platform.PointerSize, false))
}
