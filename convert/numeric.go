package convert

import (
	"fmt"

	"fortio.org/safecast"

	"github.com/wippyai/dynffi/types"
	"github.com/wippyai/dynffi/value"
)

// fetchInt reads v as a native long. A double is accepted when it
// truncates exactly; otherwise the value must parse as an integer.
func (e *Env) fetchInt(v *value.Value) (int64, error) {
	n, err := fetchInteger(v, v.Int)
	if err != nil {
		return 0, err
	}
	if e.Platform.LongSize == 4 {
		if _, err := safecast.Conv[int32](n); err != nil {
			if _, uerr := safecast.Conv[uint32](n); uerr != nil {
				return 0, fmt.Errorf("integer value too large to represent: %d", n)
			}
		}
	}
	return n, nil
}

// fetchWide reads v as a 64-bit integer with the same double rule as fetchInt.
func (e *Env) fetchWide(v *value.Value) (int64, error) {
	return fetchInteger(v, v.Wide)
}

func fetchInteger(v *value.Value, get func() (int64, error)) (int64, error) {
	if v.Kind() == value.KindDouble {
		d, err := v.Double()
		if err != nil {
			return 0, err
		}
		if n, err := safecast.Truncate[int64](d); err == nil && float64(n) == d {
			return n, nil
		}
	}
	return get()
}

// fetchDouble reads v as a double. An integer is accepted when the double
// holds it exactly; otherwise the string form must parse as a double.
func (e *Env) fetchDouble(v *value.Value) (float64, error) {
	switch v.Kind() {
	case value.KindInt, value.KindWide:
		n, err := v.Wide()
		if err != nil {
			return 0, err
		}
		if d, err := safecast.Convert[float64](n); err == nil {
			return d, nil
		}
	}
	return v.Double()
}

// fetchAddress reads v as a pointer-width integer.
func (e *Env) fetchAddress(t *types.Type, v *value.Value) (uintptr, error) {
	var n int64
	var err error
	if t.Class&types.ClassGetWideInt != 0 {
		n, err = e.fetchWide(v)
	} else {
		n, err = e.fetchInt(v)
	}
	return uintptr(uint64(n)), err
}

// fetchNumber dispatches on the usage class of t.
func (e *Env) fetchNumber(t *types.Type, v *value.Value) (int64, float64, error) {
	switch {
	case t.Class&types.ClassGetInt != 0:
		n, err := e.fetchInt(v)
		return n, float64(n), err
	case t.Class&types.ClassGetWideInt != 0:
		n, err := e.fetchWide(v)
		return n, float64(n), err
	case t.Class&types.ClassGetDouble != 0:
		d, err := e.fetchDouble(v)
		return int64(d), d, err
	}
	return 0, 0, nil
}
