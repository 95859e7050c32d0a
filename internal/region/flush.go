package region

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// FlushCache writes every store's memstore to a new file. It reports
// whether a store now has enough files to be worth compacting.
//
// An error wrapping ErrDroppedSnapshot means the snapshot could not be
// persisted after the log was told a flush started; the region must be
// recovered from the log before it is trusted again.
func (r *Region) FlushCache() (bool, error) {
	if r.closing.Load() {
		return false, nil
	}
	r.ws.mu.Lock()
	if r.ws.flushing || !r.ws.writesEnabled {
		r.ws.mu.Unlock()
		log.Debug().Str("region", r.info.Name()).Msg("skipping flush, already flushing or writes disabled")
		return false, nil
	}
	r.ws.flushing = true
	r.ws.mu.Unlock()

	defer func() {
		r.ws.mu.Lock()
		r.ws.flushing = false
		r.ws.flushRequested = false
		r.ws.cond.Broadcast()
		r.ws.mu.Unlock()
	}()

	r.splitsAndClosesLock.RLock()
	defer r.splitsAndClosesLock.RUnlock()
	return r.internalFlushcache()
}

func (r *Region) internalFlushcache() (bool, error) {
	start := time.Now()

	// Snapshot every store under the exclusive update lock so the flush
	// sequence id splits the log cleanly: edits up to it are in the
	// snapshots, later ones in the new memstores.
	r.updatesLock.Lock()
	if r.memstoreSize.Load() == 0 {
		r.updatesLock.Unlock()
		r.lastFlush.Store(time.Now().UnixMilli())
		return false, nil
	}
	seq := r.wal.StartCacheFlush()
	for _, name := range r.families {
		r.stores[name].Snapshot()
	}
	r.updatesLock.Unlock()

	var flushed int64
	for _, name := range r.families {
		n, err := r.stores[name].FlushCache(seq)
		if err != nil {
			r.wal.AbortCacheFlush()
			return false, newError(ErrDroppedSnapshot, "region %s family %s: %v", r.info.Name(), name, err)
		}
		flushed += n
	}

	// The snapshots are in files and cleared whether or not the log records
	// the flush, so the memstore size comes down either way. Edits replayed
	// without the marker are skipped by the stores' sequence ids.
	completeErr := r.wal.CompleteCacheFlush(r.encoded, r.info.Table.Name, seq)
	r.memstoreSize.Add(-flushed)
	r.lastFlush.Store(time.Now().UnixMilli())
	r.wakeBlockedWriters()
	if completeErr != nil {
		return false, fmt.Errorf("region %s: failed to record flush at %d: %w", r.info.Name(), seq, completeErr)
	}

	compact := false
	for _, name := range r.families {
		if r.stores[name].FileCount() >= r.cfg.CompactionThreshold {
			compact = true
		}
	}
	log.Info().Str("region", r.info.Name()).Int64("flushed", flushed).
		Int64("sequence_id", seq).Dur("took", time.Since(start)).
		Bool("compaction_needed", compact).Msg("memstore flushed")
	return compact, nil
}

// CompactStores compacts each store in turn and returns the row the region
// should split at, or nil. Stores below the compaction threshold without
// references are left alone unless force is set.
func (r *Region) CompactStores(force bool) ([]byte, error) {
	if r.closing.Load() {
		return nil, nil
	}
	r.ws.mu.Lock()
	if r.ws.compacting || !r.ws.writesEnabled {
		r.ws.mu.Unlock()
		log.Debug().Str("region", r.info.Name()).Msg("skipping compaction, already compacting or writes disabled")
		return nil, nil
	}
	r.ws.compacting = true
	r.ws.mu.Unlock()

	defer func() {
		r.ws.mu.Lock()
		r.ws.compacting = false
		r.ws.cond.Broadcast()
		r.ws.mu.Unlock()
	}()

	r.splitsAndClosesLock.RLock()
	defer r.splitsAndClosesLock.RUnlock()

	start := time.Now()
	var mid []byte
	for _, name := range r.families {
		row, err := r.stores[name].Compact(force)
		if err != nil {
			return nil, err
		}
		if mid == nil && row != nil {
			mid = row
		}
	}
	log.Debug().Str("region", r.info.Name()).Bool("force", force).
		Dur("took", time.Since(start)).Bool("split", mid != nil).Msg("stores compacted")
	return mid, nil
}
