package keyvalue

// Deletes accumulates tombstones seen while reading one or more sources so
// that a tombstone found in one source masks cells found in another. Once
// recorded a tombstone is never forgotten.
type Deletes struct {
	family  map[string]int64
	columns map[string]int64
	exact   map[string]map[int64]struct{}
}

func NewDeletes() *Deletes {
	return &Deletes{
		family:  make(map[string]int64),
		columns: make(map[string]int64),
		exact:   make(map[string]map[int64]struct{}),
	}
}

func rowFamilyKey(kv KeyValue) string {
	row, fam := kv.Row(), kv.Family()
	k := make([]byte, 0, len(row)+1+len(fam))
	k = append(k, row...)
	k = append(k, 0)
	return string(append(k, fam...))
}

func rowColumnKey(kv KeyValue) string {
	row, fam, q := kv.Row(), kv.Family(), kv.Qualifier()
	k := make([]byte, 0, len(row)+len(fam)+len(q)+2)
	k = append(k, row...)
	k = append(k, 0)
	k = append(k, fam...)
	k = append(k, ColumnDelimiter)
	return string(append(k, q...))
}

// Record remembers kv if it is a tombstone and reports whether it was one.
func (d *Deletes) Record(kv KeyValue) bool {
	ts := kv.Timestamp()
	switch kv.Type() {
	case DeleteFamily:
		k := rowFamilyKey(kv)
		if cur, ok := d.family[k]; !ok || ts > cur {
			d.family[k] = ts
		}
	case DeleteColumn:
		k := rowColumnKey(kv)
		if cur, ok := d.columns[k]; !ok || ts > cur {
			d.columns[k] = ts
		}
	case Delete:
		k := rowColumnKey(kv)
		set, ok := d.exact[k]
		if !ok {
			set = make(map[int64]struct{})
			d.exact[k] = set
		}
		set[ts] = struct{}{}
	default:
		return false
	}
	return true
}

// Masks reports whether a recorded tombstone hides kv.
func (d *Deletes) Masks(kv KeyValue) bool {
	ts := kv.Timestamp()
	if fts, ok := d.family[rowFamilyKey(kv)]; ok && ts <= fts {
		return true
	}
	col := rowColumnKey(kv)
	if cts, ok := d.columns[col]; ok && ts <= cts {
		return true
	}
	if set, ok := d.exact[col]; ok {
		if _, hit := set[ts]; hit {
			return true
		}
	}
	return false
}

// Empty reports whether nothing was recorded.
func (d *Deletes) Empty() bool {
	return len(d.family) == 0 && len(d.columns) == 0 && len(d.exact) == 0
}
