// Package wasmgen assembles small core wasm modules for engine tests.
// It covers the sections a C-style library needs: imported functions,
// one memory, globals, exports and active data segments.
package wasmgen

import (
	"bytes"
	"encoding/binary"
	"math"
)

// ValType is a core wasm value type.
type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
	F32 ValType = 0x7D
	F64 ValType = 0x7C
)

const (
	magic   uint32 = 0x6D736100
	version uint32 = 0x01

	secType     byte = 1
	secImport   byte = 2
	secFunction byte = 3
	secMemory   byte = 5
	secGlobal   byte = 6
	secExport   byte = 7
	secCode     byte = 10
	secData     byte = 11

	kindFunc   byte = 0
	kindMemory byte = 2
	kindGlobal byte = 3

	funcTypeByte byte = 0x60
)

type funcType struct {
	params, results []ValType
}

type imported struct {
	module, name string
	typeIdx      uint32
}

type function struct {
	typeIdx uint32
	locals  []ValType
	body    []byte
}

type global struct {
	t       ValType
	mutable bool
	init    []byte
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type segment struct {
	offset uint32
	data   []byte
}

// Module accumulates definitions in index order.
type Module struct {
	types   []funcType
	imports []imported
	funcs   []function
	globals []global
	exports []export
	data    []segment
	memory  *uint32
}

// New returns an empty module.
func New() *Module {
	return &Module{}
}

func (m *Module) typeIndex(params, results []ValType) uint32 {
	for i, t := range m.types {
		if bytes.Equal(valBytes(t.params), valBytes(params)) && bytes.Equal(valBytes(t.results), valBytes(results)) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// ImportFunc adds a function import and returns its function index.
// Imports must be declared before any defined function.
func (m *Module) ImportFunc(module, name string, params, results []ValType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmgen: imports must precede functions")
	}
	m.imports = append(m.imports, imported{module: module, name: name, typeIdx: m.typeIndex(params, results)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function and exports it under name unless name is empty.
// body is the instruction sequence without the final end.
func (m *Module) Func(name string, params, results, locals []ValType, body ...[]byte) uint32 {
	idx := uint32(len(m.imports) + len(m.funcs))
	m.funcs = append(m.funcs, function{
		typeIdx: m.typeIndex(params, results),
		locals:  locals,
		body:    bytes.Join(body, nil),
	})
	if name != "" {
		m.exports = append(m.exports, export{name: name, kind: kindFunc, idx: idx})
	}
	return idx
}

// Memory defines the module's memory with min pages, exported as "memory".
func (m *Module) Memory(min uint32) {
	m.memory = &min
	m.exports = append(m.exports, export{name: "memory", kind: kindMemory})
}

// Global defines an i32 global initialized to init and exports it under
// name unless name is empty.
func (m *Module) Global(name string, mutable bool, init int32) uint32 {
	idx := uint32(len(m.globals))
	m.globals = append(m.globals, global{t: I32, mutable: mutable, init: I32Const(init)})
	if name != "" && !mutable {
		m.exports = append(m.exports, export{name: name, kind: kindGlobal, idx: idx})
	}
	return idx
}

// Data places b at offset in memory when the module is instantiated.
func (m *Module) Data(offset uint32, b []byte) {
	m.data = append(m.data, segment{offset: offset, data: b})
}

// Bytes encodes the module in the binary format.
func (m *Module) Bytes() []byte {
	var w writer
	w.u32LE(magic)
	w.u32LE(version)

	if len(m.types) > 0 {
		var sec writer
		sec.u32(uint32(len(m.types)))
		for _, t := range m.types {
			sec.byte(funcTypeByte)
			sec.vals(t.params)
			sec.vals(t.results)
		}
		w.section(secType, sec.Bytes())
	}

	if len(m.imports) > 0 {
		var sec writer
		sec.u32(uint32(len(m.imports)))
		for _, imp := range m.imports {
			sec.name(imp.module)
			sec.name(imp.name)
			sec.byte(kindFunc)
			sec.u32(imp.typeIdx)
		}
		w.section(secImport, sec.Bytes())
	}

	if len(m.funcs) > 0 {
		var sec writer
		sec.u32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			sec.u32(f.typeIdx)
		}
		w.section(secFunction, sec.Bytes())
	}

	if m.memory != nil {
		var sec writer
		sec.u32(1)
		sec.byte(0x00) // min only
		sec.u32(*m.memory)
		w.section(secMemory, sec.Bytes())
	}

	if len(m.globals) > 0 {
		var sec writer
		sec.u32(uint32(len(m.globals)))
		for _, g := range m.globals {
			sec.byte(byte(g.t))
			if g.mutable {
				sec.byte(1)
			} else {
				sec.byte(0)
			}
			sec.raw(g.init)
			sec.byte(opEnd)
		}
		w.section(secGlobal, sec.Bytes())
	}

	if len(m.exports) > 0 {
		var sec writer
		sec.u32(uint32(len(m.exports)))
		for _, e := range m.exports {
			sec.name(e.name)
			sec.byte(e.kind)
			sec.u32(e.idx)
		}
		w.section(secExport, sec.Bytes())
	}

	if len(m.funcs) > 0 {
		var sec writer
		sec.u32(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			var body writer
			body.u32(uint32(len(f.locals)))
			for _, l := range f.locals {
				body.u32(1)
				body.byte(byte(l))
			}
			body.raw(f.body)
			body.byte(opEnd)
			sec.u32(uint32(body.Len()))
			sec.raw(body.Bytes())
		}
		w.section(secCode, sec.Bytes())
	}

	if len(m.data) > 0 {
		var sec writer
		sec.u32(uint32(len(m.data)))
		for _, d := range m.data {
			sec.u32(0) // active, memory 0
			sec.raw(I32Const(int32(d.offset)))
			sec.byte(opEnd)
			sec.u32(uint32(len(d.data)))
			sec.raw(d.data)
		}
		w.section(secData, sec.Bytes())
	}

	return w.Bytes()
}

func valBytes(v []ValType) []byte {
	b := make([]byte, len(v))
	for i, t := range v {
		b[i] = byte(t)
	}
	return b
}

type writer struct {
	buf bytes.Buffer
}

func (w *writer) Bytes() []byte { return w.buf.Bytes() }
func (w *writer) Len() int      { return w.buf.Len() }
func (w *writer) byte(b byte)   { w.buf.WriteByte(b) }
func (w *writer) raw(b []byte)  { w.buf.Write(b) }

func (w *writer) u32(v uint32) {
	w.buf.Write(appendU32(nil, v))
}

func (w *writer) u32LE(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) name(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) vals(v []ValType) {
	w.u32(uint32(len(v)))
	w.buf.Write(valBytes(v))
}

func (w *writer) section(id byte, data []byte) {
	w.byte(id)
	w.u32(uint32(len(data)))
	w.raw(data)
}

func appendU32(b []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}

func appendS64(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

// Opcodes used by the instruction helpers.
const (
	opEnd       byte = 0x0B
	opCall      byte = 0x10
	opLocalGet  byte = 0x20
	opLocalSet  byte = 0x21
	opGlobalGet byte = 0x23
	opGlobalSet byte = 0x24
	opI32Load   byte = 0x28
	opI32Store  byte = 0x36
	opI32Const  byte = 0x41
	opI64Const  byte = 0x42
	opF64Const  byte = 0x44
)

// Instructions without immediates.
var (
	I32Add      = []byte{0x6A}
	I32Sub      = []byte{0x6B}
	I32Mul      = []byte{0x6C}
	I32And      = []byte{0x71}
	I64Add      = []byte{0x7C}
	F32Add      = []byte{0x92}
	F64Add      = []byte{0xA0}
	F64Mul      = []byte{0xA2}
	I32Extend8S = []byte{0xC0}
	Drop        = []byte{0x1A}
)

func I32Const(v int32) []byte {
	return appendS64([]byte{opI32Const}, int64(v))
}

func I64Const(v int64) []byte {
	return appendS64([]byte{opI64Const}, v)
}

func F64Const(v float64) []byte {
	b := []byte{opF64Const}
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
}

func LocalGet(i uint32) []byte  { return appendU32([]byte{opLocalGet}, i) }
func LocalSet(i uint32) []byte  { return appendU32([]byte{opLocalSet}, i) }
func GlobalGet(i uint32) []byte { return appendU32([]byte{opGlobalGet}, i) }
func GlobalSet(i uint32) []byte { return appendU32([]byte{opGlobalSet}, i) }
func Call(fn uint32) []byte     { return appendU32([]byte{opCall}, fn) }

// I32Load loads from the address on the stack plus offset, 4-byte aligned.
func I32Load(offset uint32) []byte {
	return appendU32([]byte{opI32Load, 2}, offset)
}

// I32Store stores the value on the stack at address plus offset.
func I32Store(offset uint32) []byte {
	return appendU32([]byte{opI32Store, 2}, offset)
}
