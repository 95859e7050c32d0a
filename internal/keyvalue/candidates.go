package keyvalue

import (
	"bytes"
)

// Candidates tracks the cells that could answer a closest-row-at-or-before
// lookup. Each row/column keeps the newest timestamp seen for it.
//
// The bookkeeping assumes timestamps on a row only ever increase: a tombstone
// removes a candidate only when it is at least as new, so a put written with
// an older explicit timestamp after a delete can be reported wrongly.
type Candidates struct {
	cells map[string]candidate
}

type candidate struct {
	row    []byte
	family []byte
	ts     int64
}

func NewCandidates() *Candidates {
	return &Candidates{cells: make(map[string]candidate)}
}

func (c *Candidates) Empty() bool { return len(c.cells) == 0 }

func (c *Candidates) add(kv KeyValue) {
	k := rowColumnKey(kv)
	if cur, ok := c.cells[k]; ok && cur.ts >= kv.Timestamp() {
		return
	}
	c.cells[k] = candidate{
		row:    append([]byte(nil), kv.Row()...),
		family: append([]byte(nil), kv.Family()...),
		ts:     kv.Timestamp(),
	}
}

func (c *Candidates) remove(tombstone KeyValue) {
	ts := tombstone.Timestamp()
	if tombstone.Type() == DeleteFamily {
		row, fam := tombstone.Row(), tombstone.Family()
		for k, cand := range c.cells {
			if bytes.Equal(cand.row, row) && bytes.Equal(cand.family, fam) && cand.ts <= ts {
				delete(c.cells, k)
			}
		}
		return
	}
	k := rowColumnKey(tombstone)
	if cand, ok := c.cells[k]; ok && cand.ts <= ts {
		delete(c.cells, k)
	}
}

func (c *Candidates) lowestRow() []byte {
	var low []byte
	for _, cand := range c.cells {
		if low == nil || bytes.Compare(cand.row, low) < 0 {
			low = cand.row
		}
	}
	return low
}

// Best returns the greatest candidate row, or nil.
func (c *Candidates) Best() []byte {
	var best []byte
	for _, cand := range c.cells {
		if best == nil || bytes.Compare(cand.row, best) > 0 {
			best = cand.row
		}
	}
	return best
}

// Scan folds the cells of one source that sort before the exclusive bound
// into the candidate set. It starts at the greatest row under bound (or the
// lowest existing candidate, if that is earlier) so tombstones between the two
// are seen. It returns the row it started from, or nil when the source holds
// nothing under bound.
func (c *Candidates) Scan(it Iterator, bound KeyValue, expired ExpiryFunc) []byte {
	seeker, ok := it.(ReverseSeeker)
	if !ok {
		if !it.First() || Compare(it.Item(), bound) >= 0 {
			return nil
		}
		row := append([]byte(nil), it.Item().Row()...)
		c.scanFrom(it, FirstOnRow(row), bound, expired)
		return row
	}
	if !seeker.SeekBefore(bound) {
		return nil
	}
	row := append([]byte(nil), it.Item().Row()...)
	start := row
	if !c.Empty() {
		if low := c.lowestRow(); bytes.Compare(low, start) < 0 {
			start = low
		}
	}
	c.scanFrom(it, FirstOnRow(start), bound, expired)
	return row
}

func (c *Candidates) scanFrom(it Iterator, from, bound KeyValue, expired ExpiryFunc) {
	deletes := NewDeletes()
	for ok := it.Seek(from); ok; ok = it.Next() {
		kv := it.Item()
		if Compare(kv, bound) >= 0 {
			return
		}
		if deletes.Record(kv) {
			c.remove(kv)
			continue
		}
		if deletes.Masks(kv) || expired(kv.Timestamp()) {
			continue
		}
		c.add(kv)
	}
}

// ClosestRowAtOrBefore finds the greatest row at or before target holding a
// live cell in any of sources. Sources are given oldest first so tombstones
// in newer sources remove candidates found in older ones. When a pass leaves
// no candidate the search moves below the greatest row that pass started
// from.
func ClosestRowAtOrBefore(sources []Iterator, target []byte, expired ExpiryFunc) []byte {
	bound := FirstAfterRow(target)
	for {
		c := NewCandidates()
		var highest []byte
		for _, src := range sources {
			start := c.Scan(src, bound, expired)
			if start != nil && (highest == nil || bytes.Compare(start, highest) > 0) {
				highest = start
			}
		}
		if best := c.Best(); best != nil {
			return best
		}
		if highest == nil {
			return nil
		}
		bound = FirstOnRow(highest)
	}
}
