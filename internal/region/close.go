package region

import (
	"time"

	"github.com/litetable/litetable-region/internal/storefile"
	"github.com/rs/zerolog/log"
)

// Close shuts the region down. Unless abort is set the memstore is flushed
// first. Once close begins every other operation fails with ErrNotServing.
func (r *Region) Close(abort bool) error {
	files, err := r.close(abort)
	if err != nil {
		return err
	}
	for _, fs := range files {
		for _, sf := range fs {
			_ = sf.Close()
		}
	}
	return nil
}

// close drains the region in order: background work, scanners, row locks,
// in-flight operations. It then flushes, unless aborting, and hands back
// the stores' files still open.
func (r *Region) close(abort bool) (map[string][]*storefile.StoreFile, error) {
	if !r.closing.CompareAndSwap(false, true) {
		return nil, newError(ErrNotServing, "%s is already closing", r.info.Name())
	}
	start := time.Now()
	log.Info().Str("region", r.info.Name()).Bool("abort", abort).Msg("closing region")

	r.wakeBlockedWriters()
	r.wakeLockWaiters()

	r.ws.mu.Lock()
	r.ws.writesEnabled = false
	for r.ws.flushing || r.ws.compacting {
		r.ws.cond.Wait()
	}
	r.ws.mu.Unlock()

	r.waitOnScanners()
	r.waitOnRowLocks()

	r.splitsAndClosesLock.Lock()
	defer r.splitsAndClosesLock.Unlock()

	if !abort {
		if _, err := r.internalFlushcache(); err != nil {
			log.Error().Err(err).Str("region", r.info.Name()).Msg("final flush failed")
			return nil, err
		}
	}

	files := make(map[string][]*storefile.StoreFile, len(r.stores))
	for name, s := range r.stores {
		files[name] = s.Close()
	}
	r.closed.Store(true)
	log.Info().Str("region", r.info.Name()).Dur("took", time.Since(start)).Msg("region closed")
	return files, nil
}
