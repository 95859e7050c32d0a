package store

import (
	"fmt"
	"time"

	"github.com/litetable/litetable-region/internal/storefile"
	"github.com/rs/zerolog/log"
)

// FlushCache writes the memstore snapshot to a new file tagged with seq and
// swaps it in. It returns the heap size the snapshot held, or zero when
// there was nothing to flush. Expired puts are dropped on the way out.
//
// If the file is written but never recorded the edits are still in the log
// and the orphan is removed on the next open.
func (s *Store) FlushCache(seq int64) (int64, error) {
	snap := s.memstore.GetSnapshot()
	if snap.Len() == 0 {
		return 0, nil
	}
	start := time.Now()
	expired := s.expiry()

	id := storefile.NewID(s.cfg.Dir)
	w, err := storefile.NewWriter(storefile.MapPath(s.cfg.Dir, id), s.cfg.BlockSize)
	if err != nil {
		return 0, err
	}

	it := snap.Iterator()
	for ok := it.First(); ok; ok = it.Next() {
		kv := it.Item()
		if !kv.IsDelete() && expired(kv.Timestamp()) {
			continue
		}
		if err := w.Append(kv); err != nil {
			it.Close()
			w.Abort()
			return 0, err
		}
	}
	it.Close()
	if err := w.Close(); err != nil {
		w.Abort()
		return 0, err
	}

	sf, err := storefile.Create(s.cfg.Dir, id, seq, s.cfg.Cache)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.files = append(s.files, sf)
	s.maxSeq = max(s.maxSeq, seq)
	err = s.memstore.ClearSnapshot(snap)
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to clear flushed snapshot: %w", err)
	}
	s.notifyObservers()

	log.Debug().Str("region", s.cfg.Region).Str("family", s.cfg.Family.Name).
		Int("cells", snap.Len()).Int64("heap_size", snap.Size()).
		Int64("file_size", sf.Reader().Size()).Int64("sequence_id", seq).
		Dur("took", time.Since(start)).Msg("flushed memstore")
	return snap.Size(), nil
}
