package engine

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/dynffi/types"
)

const (
	CabiRealloc = "cabi_realloc"

	// Allocator exports tried after cabi_realloc, in order
	legacyRealloc = "canonical_abi_realloc"
	simpleMalloc  = "malloc"
	simpleAlloc   = "alloc"
	simpleFree    = "free"
	legacyDealloc = "dealloc"

	// Guests initialize themselves through this export when they are reactors
	reactorInit = "_initialize"
)

// valueType maps a C type to the wasm value type carrying it under the
// basic C ABI. Aggregates travel by address.
func valueType(t *types.Type) (api.ValueType, error) {
	switch t.Code {
	case types.Float:
		return api.ValueTypeF32, nil
	case types.Double:
		return api.ValueTypeF64, nil
	case types.UInt64, types.SInt64:
		return api.ValueTypeI64, nil
	case types.UInt8, types.SInt8, types.UInt16, types.SInt16, types.UInt32, types.SInt32:
		return api.ValueTypeI32, nil
	case types.Struct:
		return api.ValueTypeI32, nil
	}
	if t.Code.IsPointer() {
		return api.ValueTypeI32, nil
	}
	return 0, fmt.Errorf("type %s has no wasm32 representation", t.Code)
}

// lowerArg reads one argument slot into a stack value. Narrow integers are
// extended to i32 the way a C caller would.
func lowerArg(t *types.Type, slot []byte) uint64 {
	switch t.Code {
	case types.SInt8:
		return uint64(uint32(int32(int8(slot[0]))))
	case types.UInt8:
		return uint64(slot[0])
	case types.SInt16:
		return uint64(uint32(int32(int16(le.Uint16(slot)))))
	case types.UInt16:
		return uint64(le.Uint16(slot))
	case types.UInt64, types.SInt64, types.Double:
		return le.Uint64(slot)
	}
	return uint64(le.Uint32(slot))
}

// liftResult writes a stack value into a return slot. Integral results
// are widened to four bytes; sub-word values are re-extended since the
// callee may leave high bits unspecified.
func liftResult(t *types.Type, v uint64, ret []byte) {
	switch t.Code {
	case types.SInt8:
		le.PutUint32(ret, uint32(int32(int8(v))))
	case types.UInt8:
		le.PutUint32(ret, uint32(uint8(v)))
	case types.SInt16:
		le.PutUint32(ret, uint32(int32(int16(v))))
	case types.UInt16:
		le.PutUint32(ret, uint32(uint16(v)))
	case types.UInt64, types.SInt64, types.Double:
		le.PutUint64(ret, v)
	default:
		le.PutUint32(ret, uint32(v))
	}
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func typeNames(vt []api.ValueType) []string {
	names := make([]string, len(vt))
	for i, t := range vt {
		names[i] = api.ValueTypeName(t)
	}
	return names
}
