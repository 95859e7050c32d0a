package keyvalue

import (
	"bytes"
)

// ExpiryFunc reports whether a cell written at ts is past its time to live.
type ExpiryFunc func(ts int64) bool

// NeverExpires is an ExpiryFunc for families without a ttl.
func NeverExpires(int64) bool { return false }

// recordFamilyDeletes consumes the empty-qualifier group of row/family, where
// DeleteFamily markers live, and records those at or older than maxTs.
func recordFamilyDeletes(it Iterator, row, family []byte, maxTs int64, deletes *Deletes) {
	for ok := it.Seek(FirstOnColumn(row, family, nil, LatestTimestamp)); ok; ok = it.Next() {
		kv := it.Item()
		if !bytes.Equal(kv.Row(), row) || !bytes.Equal(kv.Family(), family) || len(kv.Qualifier()) != 0 {
			return
		}
		if kv.Type() == DeleteFamily && kv.Timestamp() <= maxTs {
			deletes.Record(kv)
		}
	}
}

// CollectVersions gathers up to max live versions of one column at or older
// than ts, newest first. Tombstones met along the way are recorded in deletes.
func CollectVersions(it Iterator, row, family, qualifier []byte, ts int64, max int,
	deletes *Deletes, expired ExpiryFunc) []KeyValue {
	if max <= 0 {
		return nil
	}
	recordFamilyDeletes(it, row, family, ts, deletes)

	var out []KeyValue
	for ok := it.Seek(FirstOnColumn(row, family, qualifier, ts)); ok; ok = it.Next() {
		kv := it.Item()
		if !bytes.Equal(kv.Row(), row) || !bytes.Equal(kv.Family(), family) ||
			!bytes.Equal(kv.Qualifier(), qualifier) {
			break
		}
		if deletes.Record(kv) {
			continue
		}
		if deletes.Masks(kv) || expired(kv.Timestamp()) {
			continue
		}
		out = append(out, kv)
		if len(out) >= max {
			break
		}
	}
	return out
}

// CollectRow walks every cell of row/family within tr and calls emit for each
// live cell, newest first per qualifier, up to versions per qualifier. emit
// returns false to stop. match filters qualifiers; nil matches all.
func CollectRow(it Iterator, row, family []byte, tr TimeRange, versions int,
	match func(qualifier []byte) bool, deletes *Deletes, expired ExpiryFunc,
	emit func(kv KeyValue) bool) {
	recordFamilyDeletes(it, row, family, tr.Max, deletes)

	var (
		lastQualifier []byte
		seen          int
		started       bool
	)
	for ok := it.Seek(FirstOnColumn(row, family, nil, LatestTimestamp)); ok; ok = it.Next() {
		kv := it.Item()
		if !bytes.Equal(kv.Row(), row) || !bytes.Equal(kv.Family(), family) {
			return
		}
		q := kv.Qualifier()
		if !started || !bytes.Equal(q, lastQualifier) {
			lastQualifier = append(lastQualifier[:0], q...)
			seen = 0
			started = true
		}
		if !tr.Within(kv.Timestamp()) {
			continue
		}
		if deletes.Record(kv) {
			continue
		}
		if seen >= versions || (match != nil && !match(q)) {
			continue
		}
		if deletes.Masks(kv) || expired(kv.Timestamp()) {
			continue
		}
		seen++
		if !emit(kv) {
			return
		}
	}
}

// CollectFull fills results with the newest live cell of each column in
// row/family at or older than ts. Columns already present in results are left
// alone, so callers can layer newer sources first. columns restricts the
// qualifiers considered; nil means all.
func CollectFull(it Iterator, row, family []byte, columns map[string]struct{}, ts int64,
	deletes *Deletes, results map[string]Cell, expired ExpiryFunc) {
	CollectRow(it, row, family, Upto(ts), 1, func(q []byte) bool {
		if columns == nil {
			return true
		}
		_, ok := columns[string(q)]
		return ok
	}, deletes, expired, func(kv KeyValue) bool {
		col := string(MakeColumn(family, kv.Qualifier()))
		if _, ok := results[col]; !ok {
			results[col] = kv.Cell()
		}
		return true
	})
}
