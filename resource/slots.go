package resource

import (
	"errors"

	"github.com/wippyai/dynffi/value"
)

// ErrClosed is returned when inserting into a closed table.
var ErrClosed = errors.New("object table closed")

// slots is the handle-indexed storage with a free list.
type slots struct {
	entries  []*value.Value
	freeList []Handle
	live     int
}

func newSlots() slots {
	return slots{
		entries:  make([]*value.Value, 0, 64),
		freeList: make([]Handle, 0, 16),
	}
}

func (s *slots) create(v *value.Value) Handle {
	s.live++
	if len(s.freeList) > 0 {
		h := s.freeList[len(s.freeList)-1]
		s.freeList = s.freeList[:len(s.freeList)-1]
		s.entries[h-1] = v
		return h
	}
	s.entries = append(s.entries, v)
	return Handle(len(s.entries))
}

func (s *slots) get(h Handle) (*value.Value, bool) {
	if h == 0 || int(h) > len(s.entries) {
		return nil, false
	}
	v := s.entries[h-1]
	return v, v != nil
}

func (s *slots) drop(h Handle) (*value.Value, bool) {
	v, ok := s.get(h)
	if !ok {
		return nil, false
	}
	s.entries[h-1] = nil
	s.freeList = append(s.freeList, h)
	s.live--
	return v, true
}

func (s *slots) each(fn func(Handle, *value.Value) bool) {
	for i, v := range s.entries {
		if v != nil && !fn(Handle(i+1), v) {
			return
		}
	}
}
