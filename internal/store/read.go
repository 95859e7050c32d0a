package store

import (
	"errors"

	"github.com/litetable/litetable-region/internal/keyvalue"
)

func closeIterators(its []keyvalue.Iterator) {
	for _, it := range its {
		_ = it.Close()
	}
}

// sources opens the memstore views and every file, newest first.
func (s *Store) sources() ([]keyvalue.Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	its := s.memstore.Iterators()
	for i := len(s.files) - 1; i >= 0; i-- {
		it, err := s.files[i].Reader().Iterator()
		if err != nil {
			closeIterators(its)
			return nil, err
		}
		its = append(its, it)
	}
	return its, nil
}

func (s *Store) merged() (*keyvalue.MergeIterator, error) {
	its, err := s.sources()
	if err != nil {
		return nil, err
	}
	return keyvalue.NewMergeIterator(its...), nil
}

// Get returns up to versions live cells of one column at or older than ts,
// newest first.
func (s *Store) Get(row, qualifier []byte, ts int64, versions int) ([]keyvalue.KeyValue, error) {
	it, err := s.merged()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	out := keyvalue.CollectVersions(it, row, s.family, qualifier, ts, versions, keyvalue.NewDeletes(), s.expiry())
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetFull fills results with the newest live cell of each column of row at
// or older than ts. columns restricts qualifiers when not nil.
func (s *Store) GetFull(row []byte, columns map[string]struct{}, ts int64, results map[string]keyvalue.Cell) error {
	it, err := s.merged()
	if err != nil {
		return err
	}
	defer it.Close()

	keyvalue.CollectFull(it, row, s.family, columns, ts, keyvalue.NewDeletes(), results, s.expiry())
	return it.Err()
}

// Row calls emit for every live cell of row within tr, at most versions per
// qualifier, newest first per qualifier. match filters qualifiers; nil
// matches all.
func (s *Store) Row(row []byte, tr keyvalue.TimeRange, versions int, match func([]byte) bool,
	emit func(keyvalue.KeyValue) bool) error {
	it, err := s.merged()
	if err != nil {
		return err
	}
	defer it.Close()

	keyvalue.CollectRow(it, row, s.family, tr, versions, match, keyvalue.NewDeletes(), s.expiry(), emit)
	return it.Err()
}

// GetRowKeyAtOrBefore returns the greatest row at or before row holding a
// live cell in this family, or nil.
//
// The search assumes timestamps written to a row only ever grow; see
// keyvalue.Candidates.
func (s *Store) GetRowKeyAtOrBefore(row []byte) ([]byte, error) {
	its, err := s.sources()
	if err != nil {
		return nil, err
	}
	defer closeIterators(its)

	// oldest first so newer tombstones see the candidates they mask
	for i, j := 0, len(its)-1; i < j; i, j = i+1, j-1 {
		its[i], its[j] = its[j], its[i]
	}
	found := keyvalue.ClosestRowAtOrBefore(its, row, s.expiry())

	var errs []error
	for _, it := range its {
		if err := it.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return found, nil
}
