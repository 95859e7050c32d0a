package memstore

import (
	"sync"
	"testing"

	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/stretchr/testify/require"
)

func put(row, qualifier string, ts int64, value string) keyvalue.KeyValue {
	return keyvalue.New([]byte(row), []byte("f"), []byte(qualifier), ts, keyvalue.Put, []byte(value))
}

func tomb(row, qualifier string, ts int64, typ keyvalue.Type) keyvalue.KeyValue {
	return keyvalue.New([]byte(row), []byte("f"), []byte(qualifier), ts, typ, nil)
}

func get(m *MemStore, row, qualifier string, versions int) []string {
	var out []string
	for _, kv := range m.Get([]byte(row), []byte("f"), []byte(qualifier), keyvalue.LatestTimestamp,
		versions, keyvalue.NewDeletes(), keyvalue.NeverExpires) {
		out = append(out, string(kv.Value()))
	}
	return out
}

func TestAdd(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	m := New()
	kv := put("r", "q", 1, "v")
	req.Equal(kv.HeapSize(), m.Add(kv))
	req.Equal(kv.HeapSize(), m.Size())

	replacement := put("r", "q", 1, "longer value")
	delta := m.Add(replacement)
	req.Equal(replacement.HeapSize()-kv.HeapSize(), delta)
	req.Equal(replacement.HeapSize(), m.Size())
	req.Equal([]string{"longer value"}, get(m, "r", "q", 3))
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	m := New()
	m.Add(put("r", "q", 1, "one"))
	size := m.Size()

	m.Snapshot()
	snap := m.GetSnapshot()
	req.Equal(1, snap.Len())
	req.Equal(size, snap.Size())
	req.Zero(m.Size())
	req.Equal(size, m.SnapshotSize())

	// reads still see snapshotted cells
	m.Add(put("r", "q", 2, "two"))
	req.Equal([]string{"two", "one"}, get(m, "r", "q", 3))

	// a second snapshot is refused while one is held
	m.Snapshot()
	req.Same(snap, m.GetSnapshot())
	req.NotZero(m.Size())

	req.ErrorIs(m.ClearSnapshot(&Snapshot{}), ErrSnapshotMismatch)
	req.NoError(m.ClearSnapshot(snap))
	req.Zero(m.GetSnapshot().Len())
	req.Equal([]string{"two"}, get(m, "r", "q", 3))
}

func TestSnapshot_Iterator(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	m := New()
	m.Add(put("b", "q", 1, "b"))
	m.Add(put("a", "q", 1, "a"))
	m.Snapshot()

	it := m.GetSnapshot().Iterator()
	defer it.Close()

	var rows []string
	for ok := it.First(); ok; ok = it.Next() {
		rows = append(rows, string(it.Item().Row()))
	}
	req.Equal([]string{"a", "b"}, rows)
}

func TestGet(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cells    []keyvalue.KeyValue
		versions int
		want     []string
	}{
		"newest first": {
			cells:    []keyvalue.KeyValue{put("r", "q", 1, "a"), put("r", "q", 3, "c"), put("r", "q", 2, "b")},
			versions: 2,
			want:     []string{"c", "b"},
		},
		"column tombstone": {
			cells:    []keyvalue.KeyValue{put("r", "q", 1, "a"), tomb("r", "q", 2, keyvalue.DeleteColumn)},
			versions: 3,
		},
		"exact tombstone": {
			cells:    []keyvalue.KeyValue{put("r", "q", 1, "a"), put("r", "q", 2, "b"), tomb("r", "q", 2, keyvalue.Delete)},
			versions: 3,
			want:     []string{"a"},
		},
		"family tombstone": {
			cells:    []keyvalue.KeyValue{put("r", "q", 1, "a"), tomb("r", "", 5, keyvalue.DeleteFamily)},
			versions: 3,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			req := require.New(t)
			m := New()
			for _, kv := range tc.cells {
				m.Add(kv)
			}
			req.Equal(tc.want, get(m, "r", "q", tc.versions))
		})
	}
}

func TestGetFull(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	m := New()
	m.Add(put("r", "a", 1, "a1"))
	m.Add(put("r", "a", 2, "a2"))
	m.Add(put("r", "b", 1, "b1"))
	m.Snapshot()
	m.Add(put("r", "b", 3, "b3"))

	results := make(map[string]keyvalue.Cell)
	m.GetFull([]byte("r"), []byte("f"), nil, keyvalue.LatestTimestamp, keyvalue.NewDeletes(), results, keyvalue.NeverExpires)
	req.Len(results, 2)
	req.Equal([]byte("a2"), results["f:a"].Value)
	req.Equal([]byte("b3"), results["f:b"].Value)
	req.Equal(int64(3), results["f:b"].Timestamp)
}

func TestGetRowKeyAtOrBefore(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	m := New()
	m.Add(put("a", "q", 1, "x"))
	m.Add(put("c", "q", 1, "x"))
	m.Snapshot()
	m.Add(put("e", "q", 1, "x"))
	m.Add(tomb("c", "q", 2, keyvalue.DeleteColumn))

	req.Equal("a", string(m.GetRowKeyAtOrBefore([]byte("d"), keyvalue.NeverExpires)))
	req.Equal("e", string(m.GetRowKeyAtOrBefore([]byte("z"), keyvalue.NeverExpires)))
	req.Equal("a", string(m.GetRowKeyAtOrBefore([]byte("a"), keyvalue.NeverExpires)))
	req.Nil(m.GetRowKeyAtOrBefore([]byte("0"), keyvalue.NeverExpires))
}

func TestAdd_Concurrent(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	m := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.Add(put("r", "q", int64(w*1000+i), "v"))
				if i == 50 && w == 0 {
					m.Snapshot()
				}
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for _, it := range m.Iterators() {
		for ok := it.First(); ok; ok = it.Next() {
			total++
		}
		req.NoError(it.Close())
	}
	req.Equal(800, total)
}
