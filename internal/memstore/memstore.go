package memstore

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"
)

var ErrSnapshotMismatch = errors.New("memstore: snapshot does not match the one held")

type tree = btree.BTreeG[keyvalue.KeyValue]

func newTree() *tree {
	return btree.NewBTreeG[keyvalue.KeyValue](keyvalue.Less)
}

// Snapshot is a frozen copy of the live map handed to a flush.
type Snapshot struct {
	tree *tree
	size int64
}

// Len is the number of cells in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return s.tree.Len()
}

// Size is the heap size the snapshot held while live.
func (s *Snapshot) Size() int64 {
	if s == nil {
		return 0
	}
	return s.size
}

// Iterator walks the snapshot in key order.
func (s *Snapshot) Iterator() keyvalue.Iterator {
	return newTreeIterator(s.tree.Copy())
}

// MemStore buffers the writes of one family until they are flushed. Writers
// share mu; moving the live map into the snapshot slot takes it exclusively.
type MemStore struct {
	mu       sync.RWMutex
	live     *tree
	snapshot *Snapshot
	size     atomic.Int64
}

func New() *MemStore {
	return &MemStore{
		live:     newTree(),
		snapshot: &Snapshot{tree: newTree()},
	}
}

// Add inserts kv into the live map and returns the heap size delta.
func (m *MemStore) Add(kv keyvalue.KeyValue) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prev, replaced := m.live.Set(kv)
	delta := kv.HeapSize()
	if replaced {
		delta -= prev.HeapSize()
	}
	m.size.Add(delta)
	return delta
}

// Snapshot moves the live map into the snapshot slot. It does nothing while
// an earlier snapshot has not been cleared.
func (m *MemStore) Snapshot() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snapshot.Len() > 0 {
		log.Warn().Int("cells", m.snapshot.Len()).
			Msg("snapshot requested while a previous snapshot is still held")
		return
	}
	if m.live.Len() == 0 {
		return
	}
	m.snapshot = &Snapshot{tree: m.live, size: m.size.Load()}
	m.live = newTree()
	m.size.Store(0)
}

// GetSnapshot returns the held snapshot, possibly empty.
func (m *MemStore) GetSnapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// ClearSnapshot drops s once its cells are durable elsewhere.
func (m *MemStore) ClearSnapshot(s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s != m.snapshot {
		return ErrSnapshotMismatch
	}
	m.snapshot = &Snapshot{tree: newTree()}
	return nil
}

// Size is the heap size of the live map.
func (m *MemStore) Size() int64 {
	return m.size.Load()
}

// SnapshotSize is the heap size of the held snapshot.
func (m *MemStore) SnapshotSize() int64 {
	return m.GetSnapshot().Size()
}

// Iterators returns point-in-time views over the live map and the snapshot,
// newest first. Callers close them.
func (m *MemStore) Iterators() []keyvalue.Iterator {
	m.mu.RLock()
	live, snap := m.live.Copy(), m.snapshot.tree.Copy()
	m.mu.RUnlock()
	return []keyvalue.Iterator{newTreeIterator(live), newTreeIterator(snap)}
}

func (m *MemStore) merged() *keyvalue.MergeIterator {
	return keyvalue.NewMergeIterator(m.Iterators()...)
}

// Get returns up to versions live cells of one column at or older than ts,
// newest first. Tombstones found are added to deletes so callers reading
// older sources afterwards honour them.
func (m *MemStore) Get(row, family, qualifier []byte, ts int64, versions int,
	deletes *keyvalue.Deletes, expired keyvalue.ExpiryFunc) []keyvalue.KeyValue {
	it := m.merged()
	defer it.Close()
	return keyvalue.CollectVersions(it, row, family, qualifier, ts, versions, deletes, expired)
}

// GetFull fills results with the newest cell of every column of row in this
// family at or older than ts. columns restricts qualifiers when not nil.
func (m *MemStore) GetFull(row, family []byte, columns map[string]struct{}, ts int64,
	deletes *keyvalue.Deletes, results map[string]keyvalue.Cell, expired keyvalue.ExpiryFunc) {
	it := m.merged()
	defer it.Close()
	keyvalue.CollectFull(it, row, family, columns, ts, deletes, results, expired)
}

// GetRowKeyAtOrBefore returns the greatest row at or before row with a live
// cell in memory.
func (m *MemStore) GetRowKeyAtOrBefore(row []byte, expired keyvalue.ExpiryFunc) []byte {
	its := m.Iterators()
	its[0], its[1] = its[1], its[0]
	defer func() {
		for _, it := range its {
			_ = it.Close()
		}
	}()
	return keyvalue.ClosestRowAtOrBefore(its, row, expired)
}
