package types

// AlignTo rounds offset up to the next multiple of align.
func AlignTo(offset, align int) int {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) / align * align
}

// AggregateLayout computes the C layout of elems: each element is placed at
// its alignment, and the total is padded to the largest alignment.
func AggregateLayout(elems []*Type) (size, align int) {
	align = 1
	for _, e := range elems {
		size = AlignTo(size, e.Align)
		size += e.Size
		if e.Align > align {
			align = e.Align
		}
	}
	return AlignTo(size, align), align
}

// Offsets returns the byte offset of each element of an aggregate.
func Offsets(t *Type) []int {
	offs := make([]int, len(t.Elements))
	off := 0
	for i, e := range t.Elements {
		off = AlignTo(off, e.Align)
		offs[i] = off
		off += e.Size
	}
	return offs
}
