package memstore

import (
	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/tidwall/btree"
)

// treeIterator adapts a btree iterator over a private copy of a map.
type treeIterator struct {
	it    btree.IterG[keyvalue.KeyValue]
	valid bool
}

func newTreeIterator(t *tree) *treeIterator {
	return &treeIterator{it: t.Iter()}
}

func (t *treeIterator) First() bool {
	t.valid = t.it.First()
	return t.valid
}

func (t *treeIterator) Seek(key keyvalue.KeyValue) bool {
	t.valid = t.it.Seek(key)
	return t.valid
}

func (t *treeIterator) SeekBefore(key keyvalue.KeyValue) bool {
	if t.it.Seek(key) {
		t.valid = t.it.Prev()
	} else {
		t.valid = t.it.Last()
	}
	return t.valid
}

func (t *treeIterator) Next() bool {
	if !t.valid {
		return false
	}
	t.valid = t.it.Next()
	return t.valid
}

func (t *treeIterator) Valid() bool              { return t.valid }
func (t *treeIterator) Item() keyvalue.KeyValue { return t.it.Item() }
func (t *treeIterator) Err() error               { return nil }

func (t *treeIterator) Close() error {
	t.valid = false
	t.it.Release()
	return nil
}
