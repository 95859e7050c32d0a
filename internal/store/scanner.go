package store

import (
	"sync/atomic"

	"github.com/litetable/litetable-region/internal/keyvalue"
)

// Scanner walks a store row by row. When the file set changes underneath it
// the scanner reopens its sources at the row it is on.
type Scanner struct {
	store    *Store
	it       *keyvalue.MergeIterator
	match    func([]byte) bool
	tr       keyvalue.TimeRange
	versions int
	expired  keyvalue.ExpiryFunc

	row        []byte
	changed    atomic.Bool
	observerID uint64
	err        error
}

// NewScanner positions a scanner on the first row at or after startRow.
// match filters qualifiers; nil matches all.
func (s *Store) NewScanner(startRow []byte, match func([]byte) bool, tr keyvalue.TimeRange, versions int) (*Scanner, error) {
	sc := &Scanner{
		store:    s,
		match:    match,
		tr:       tr,
		versions: versions,
		expired:  s.expiry(),
	}
	sc.observerID = s.AddObserver(func() { sc.changed.Store(true) })

	it, err := s.merged()
	if err != nil {
		s.RemoveObserver(sc.observerID)
		return nil, err
	}
	sc.it = it
	sc.seekRow(keyvalue.FirstOnRow(startRow))
	if sc.err != nil {
		_ = sc.Close()
		return nil, sc.err
	}
	return sc, nil
}

func (sc *Scanner) seekRow(key keyvalue.KeyValue) {
	if sc.it.Seek(key) {
		sc.row = append([]byte(nil), sc.it.Item().Row()...)
		return
	}
	sc.row = nil
	sc.err = sc.it.Err()
}

func (sc *Scanner) reopen() {
	if !sc.changed.Swap(false) {
		return
	}
	it, err := sc.store.merged()
	if err != nil {
		sc.err = err
		return
	}
	_ = sc.it.Close()
	sc.it = it
}

// Peek is the row the next call to Next returns, or nil when exhausted.
func (sc *Scanner) Peek() []byte { return sc.row }

// Next returns the live cells of the current row and moves on. The slice is
// empty for rows whose every cell is deleted or filtered.
func (sc *Scanner) Next() ([]byte, []keyvalue.KeyValue, error) {
	if sc.err != nil || sc.row == nil {
		return nil, nil, sc.err
	}
	sc.reopen()
	if sc.err != nil {
		return nil, nil, sc.err
	}

	row := sc.row
	var cells []keyvalue.KeyValue
	keyvalue.CollectRow(sc.it, row, sc.store.family, sc.tr, sc.versions, sc.match,
		keyvalue.NewDeletes(), sc.expired, func(kv keyvalue.KeyValue) bool {
			cells = append(cells, kv)
			return true
		})
	if err := sc.it.Err(); err != nil {
		sc.err = err
		return nil, nil, err
	}
	sc.seekRow(keyvalue.FirstAfterRow(row))
	return row, cells, nil
}

// Close releases the scanner's hold on the store's files.
func (sc *Scanner) Close() error {
	sc.store.RemoveObserver(sc.observerID)
	return sc.it.Close()
}
