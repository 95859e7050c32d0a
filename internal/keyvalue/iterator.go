package keyvalue

import (
	"container/heap"
	"errors"
	"sort"
)

// Iterator walks cells in Compare order.
type Iterator interface {
	// First positions at the smallest cell.
	First() bool
	// Seek positions at the first cell at or after key.
	Seek(key KeyValue) bool
	// Next advances; it returns false once exhausted.
	Next() bool
	Valid() bool
	Item() KeyValue
	// Err reports a failure that ended iteration early.
	Err() error
	Close() error
}

// ReverseSeeker is implemented by iterators that can position on the last
// cell strictly before a key.
type ReverseSeeker interface {
	SeekBefore(key KeyValue) bool
}

// SliceIterator iterates a sorted slice.
type SliceIterator struct {
	items []KeyValue
	pos   int
}

// NewSliceIterator expects items already sorted with Less.
func NewSliceIterator(items []KeyValue) *SliceIterator {
	return &SliceIterator{items: items, pos: len(items)}
}

func (s *SliceIterator) First() bool {
	s.pos = 0
	return s.Valid()
}

func (s *SliceIterator) Seek(key KeyValue) bool {
	s.pos = sort.Search(len(s.items), func(i int) bool {
		return Compare(s.items[i], key) >= 0
	})
	return s.Valid()
}

func (s *SliceIterator) SeekBefore(key KeyValue) bool {
	s.Seek(key)
	s.pos--
	if s.pos < 0 {
		s.pos = len(s.items)
		return false
	}
	return true
}

func (s *SliceIterator) Next() bool {
	if s.pos < len(s.items) {
		s.pos++
	}
	return s.Valid()
}

func (s *SliceIterator) Valid() bool      { return s.pos >= 0 && s.pos < len(s.items) }
func (s *SliceIterator) Item() KeyValue   { return s.items[s.pos] }
func (s *SliceIterator) Err() error       { return nil }
func (s *SliceIterator) Close() error     { return nil }
func (s *SliceIterator) Items() []KeyValue { return s.items }

// MergeIterator performs a K-way merge over sources. Sources are given newest
// first; when two sources hold an identical key only the newer one is
// surfaced.
type MergeIterator struct {
	sources []Iterator
	h       mergeHeap
	last    KeyValue
	err     error
}

func NewMergeIterator(sources ...Iterator) *MergeIterator {
	return &MergeIterator{sources: sources}
}

type mergeHeap struct {
	idx     []int
	sources []Iterator
}

func (h *mergeHeap) Len() int { return len(h.idx) }

func (h *mergeHeap) Less(i, j int) bool {
	a, b := h.idx[i], h.idx[j]
	if c := Compare(h.sources[a].Item(), h.sources[b].Item()); c != 0 {
		return c < 0
	}
	return a < b
}

func (h *mergeHeap) Swap(i, j int) { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }
func (h *mergeHeap) Push(x any)   { h.idx = append(h.idx, x.(int)) }

func (h *mergeHeap) Pop() any {
	n := len(h.idx)
	x := h.idx[n-1]
	h.idx = h.idx[:n-1]
	return x
}

func (m *MergeIterator) rebuild(position func(Iterator) bool) bool {
	m.h = mergeHeap{sources: m.sources, idx: make([]int, 0, len(m.sources))}
	m.last = KeyValue{}
	for i, src := range m.sources {
		if position(src) {
			m.h.idx = append(m.h.idx, i)
		} else if err := src.Err(); err != nil {
			m.err = errors.Join(m.err, err)
		}
	}
	heap.Init(&m.h)
	if m.Valid() {
		m.last = m.Item()
	}
	return m.Valid()
}

func (m *MergeIterator) First() bool {
	return m.rebuild(func(it Iterator) bool { return it.First() })
}

func (m *MergeIterator) Seek(key KeyValue) bool {
	return m.rebuild(func(it Iterator) bool { return it.Seek(key) })
}

func (m *MergeIterator) advanceTop() {
	top := m.h.idx[0]
	src := m.sources[top]
	if src.Next() {
		heap.Fix(&m.h, 0)
		return
	}
	if err := src.Err(); err != nil {
		m.err = errors.Join(m.err, err)
	}
	heap.Pop(&m.h)
}

func (m *MergeIterator) Next() bool {
	if !m.Valid() {
		return false
	}
	m.advanceTop()
	for m.Valid() && CompareKeys(m.Item().Key(), m.last.Key()) == 0 {
		m.advanceTop()
	}
	if m.Valid() {
		m.last = m.Item()
	}
	return m.Valid()
}

func (m *MergeIterator) Valid() bool {
	return m.err == nil && len(m.h.idx) > 0
}

func (m *MergeIterator) Item() KeyValue {
	return m.sources[m.h.idx[0]].Item()
}

func (m *MergeIterator) Err() error { return m.err }

func (m *MergeIterator) Close() error {
	var errs []error
	for _, src := range m.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
