package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/litetable/litetable-region/internal/storefile"
	"github.com/rs/zerolog/log"
)

// Compact merges every file into one when there are at least the threshold
// many, when a reference is present or when forced. Tombstones, masked
// cells, expired cells and versions beyond the family limit are dropped.
// The output carries the largest sequence id of its inputs.
//
// It returns the row to split at, or nil when the store should not split.
// A failed compaction leaves the original files in place.
func (s *Store) Compact(force bool) ([]byte, error) {
	s.compactLock.Lock()
	defer s.compactLock.Unlock()

	s.mu.RLock()
	files := append([]*storefile.StoreFile(nil), s.files...)
	s.mu.RUnlock()

	if len(files) == 0 {
		return nil, nil
	}
	if !force && !hasReferences(files) && len(files) < s.cfg.CompactionThreshold {
		return s.CheckSplit(), nil
	}

	start := time.Now()
	sf, err := s.compactFiles(files)
	if err != nil {
		log.Error().Err(err).Str("region", s.cfg.Region).Str("family", s.cfg.Family.Name).
			Int("files", len(files)).Msg("compaction failed, keeping original files")
		return nil, err
	}

	compacted := make(map[*storefile.StoreFile]struct{}, len(files))
	for _, f := range files {
		compacted[f] = struct{}{}
	}
	s.mu.Lock()
	kept := []*storefile.StoreFile{sf}
	for _, f := range s.files {
		if _, ok := compacted[f]; !ok {
			kept = append(kept, f)
		}
	}
	storefile.SortOldestFirst(kept)
	s.files = kept
	s.mu.Unlock()
	s.notifyObservers()

	for _, f := range files {
		if err := f.Delete(); err != nil {
			log.Warn().Err(err).Str("file", f.String()).Msg("failed to delete compacted file")
		}
	}

	log.Info().Str("region", s.cfg.Region).Str("family", s.cfg.Family.Name).
		Int("inputs", len(files)).Uint64("cells", sf.Reader().Len()).
		Int64("size", sf.Reader().Size()).Dur("took", time.Since(start)).
		Msg("compaction completed")
	return s.CheckSplit(), nil
}

func (s *Store) compactFiles(files []*storefile.StoreFile) (*storefile.StoreFile, error) {
	staging := filepath.Join(s.cfg.Dir, compactionDir)
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, fmt.Errorf("failed to create compaction directory: %w", err)
	}
	defer os.RemoveAll(staging)

	id := storefile.NewID(s.cfg.Dir)
	staged := filepath.Join(staging, storefile.Name(id, ""))
	w, err := storefile.NewWriter(staged, s.cfg.BlockSize)
	if err != nil {
		return nil, err
	}

	seq := storefile.UnknownSequenceID
	its := make([]keyvalue.Iterator, 0, len(files))
	for i := len(files) - 1; i >= 0; i-- {
		seq = max(seq, files[i].SequenceID())
		it, err := files[i].Reader().Iterator()
		if err != nil {
			closeIterators(its)
			w.Abort()
			return nil, err
		}
		its = append(its, it)
	}
	merged := keyvalue.NewMergeIterator(its...)
	err = compactCells(merged, w, s.cfg.Family.Versions(), s.expiry())
	_ = merged.Close()
	if err != nil {
		w.Abort()
		return nil, err
	}
	if err := w.Close(); err != nil {
		w.Abort()
		return nil, err
	}

	r, err := storefile.OpenReader(staged, nil)
	if err != nil {
		return nil, err
	}
	err = r.Verify()
	_ = r.Close()
	if err != nil {
		return nil, err
	}
	return storefile.Install(s.cfg.Dir, staged, id, seq, s.cfg.Cache)
}

// compactCells copies the surviving cells of it into w.
func compactCells(it keyvalue.Iterator, w *storefile.Writer, versions int, expired keyvalue.ExpiryFunc) error {
	var (
		deletes = keyvalue.NewDeletes()
		row     []byte
		prev    keyvalue.KeyValue
		count   int
	)
	for ok := it.First(); ok; ok = it.Next() {
		kv := it.Item()
		if row == nil || !bytes.Equal(kv.Row(), row) {
			row = append(row[:0], kv.Row()...)
			deletes = keyvalue.NewDeletes()
			count = 0
		} else if !keyvalue.SameColumn(kv, prev) {
			count = 0
		}
		prev = kv

		if deletes.Record(kv) {
			continue
		}
		if deletes.Masks(kv) || expired(kv.Timestamp()) || count >= versions {
			continue
		}
		count++
		if err := w.Append(kv); err != nil {
			return err
		}
	}
	return it.Err()
}

// CheckSplit returns the row to split at when the store has outgrown the
// maximum file size, or nil. Stores with references never split, and
// neither does a largest file whose middle equals both its ends.
func (s *Store) CheckSplit() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.files) == 0 || hasReferences(s.files) {
		return nil
	}
	var (
		total   int64
		largest *storefile.StoreFile
	)
	for _, sf := range s.files {
		size := sf.Reader().Size()
		total += size
		if largest == nil || size > largest.Reader().Size() {
			largest = sf
		}
	}
	if total <= s.cfg.MaxFileSize {
		return nil
	}

	r := largest.Reader()
	mid, ok := r.MidKey()
	if !ok {
		return nil
	}
	first, _ := r.FirstKey()
	last, _ := r.LastKey()
	if bytes.Equal(mid.Row(), first.Row()) && bytes.Equal(mid.Row(), last.Row()) {
		log.Debug().Str("region", s.cfg.Region).Str("family", s.cfg.Family.Name).
			Msg("largest file holds a single row, not splittable")
		return nil
	}
	return append([]byte(nil), mid.Row()...)
}
