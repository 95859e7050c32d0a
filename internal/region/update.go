package region

import (
	"fmt"

	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/slices"
)

// BatchOperation is one column change of a BatchUpdate.
type BatchOperation struct {
	Column []byte
	Value  []byte
	Delete bool
}

// BatchUpdate is a set of changes to one row applied atomically.
// A Timestamp of keyvalue.LatestTimestamp commits at the current time, and
// its deletes remove the newest existing version of their column.
type BatchUpdate struct {
	Row        []byte
	Timestamp  int64
	Operations []BatchOperation
}

func NewBatchUpdate(row []byte) *BatchUpdate {
	return &BatchUpdate{Row: row, Timestamp: keyvalue.LatestTimestamp}
}

func (b *BatchUpdate) Put(column, value []byte) *BatchUpdate {
	b.Operations = append(b.Operations, BatchOperation{Column: column, Value: value})
	return b
}

func (b *BatchUpdate) Delete(column []byte) *BatchUpdate {
	b.Operations = append(b.Operations, BatchOperation{Column: column, Delete: true})
	return b
}

func (b *BatchUpdate) SetTimestamp(ts int64) *BatchUpdate {
	b.Timestamp = ts
	return b
}

func commitTimestamp(ts int64) int64 {
	if ts == keyvalue.LatestTimestamp {
		return keyvalue.Now()
	}
	return ts
}

// BatchUpdate applies b under the row lock id, or under a lock of its own
// when id is NoLock. Nothing becomes visible unless the log append succeeds.
func (r *Region) BatchUpdate(b *BatchUpdate, id LockID) error {
	for _, op := range b.Operations {
		if _, _, err := r.store(op.Column); err != nil {
			return err
		}
	}
	return r.mutate(b.Row, id, func(ts int64) ([]keyvalue.KeyValue, error) {
		edits := make([]keyvalue.KeyValue, 0, len(b.Operations))
		for _, op := range b.Operations {
			s, qualifier, _ := r.store(op.Column)
			family := []byte(s.Family().Name)
			switch {
			case !op.Delete:
				edits = append(edits, keyvalue.New(b.Row, family, qualifier, ts, keyvalue.Put, op.Value))
			case b.Timestamp != keyvalue.LatestTimestamp:
				edits = append(edits, keyvalue.New(b.Row, family, qualifier, b.Timestamp, keyvalue.Delete, nil))
			default:
				latest, err := s.Get(b.Row, qualifier, keyvalue.LatestTimestamp, 1)
				if err != nil {
					return nil, err
				}
				if len(latest) == 0 {
					continue
				}
				edits = append(edits, keyvalue.New(b.Row, family, qualifier, latest[0].Timestamp(), keyvalue.Delete, nil))
			}
		}
		return edits, nil
	}, b.Timestamp)
}

// DeleteAll removes every version of column at or older than ts.
func (r *Region) DeleteAll(row, column []byte, ts int64, id LockID) error {
	s, qualifier, err := r.store(column)
	if err != nil {
		return err
	}
	family := []byte(s.Family().Name)
	return r.mutate(row, id, func(ts int64) ([]keyvalue.KeyValue, error) {
		return []keyvalue.KeyValue{keyvalue.New(row, family, qualifier, ts, keyvalue.DeleteColumn, nil)}, nil
	}, ts)
}

// DeleteAllRow removes every cell of row at or older than ts.
func (r *Region) DeleteAllRow(row []byte, ts int64, id LockID) error {
	return r.mutate(row, id, func(ts int64) ([]keyvalue.KeyValue, error) {
		edits := make([]keyvalue.KeyValue, 0, len(r.families))
		for _, name := range r.families {
			edits = append(edits, keyvalue.New(row, []byte(name), nil, ts, keyvalue.DeleteFamily, nil))
		}
		return edits, nil
	}, ts)
}

// DeleteFamily removes every cell of one family of row at or older than ts.
// family may carry the trailing column delimiter.
func (r *Region) DeleteFamily(row, family []byte, ts int64, id LockID) error {
	name := keyvalue.FamilyOf(family)
	if _, ok := r.stores[string(name)]; !ok {
		return newError(ErrNoSuchFamily, "%q in %s", name, r.info.Table.Name)
	}
	return r.mutate(row, id, func(ts int64) ([]keyvalue.KeyValue, error) {
		return []keyvalue.KeyValue{keyvalue.New(row, name, nil, ts, keyvalue.DeleteFamily, nil)}, nil
	}, ts)
}

// mutate runs the write path shared by every update: validation,
// backpressure, the row lock, then the logged apply.
func (r *Region) mutate(row []byte, id LockID, build func(ts int64) ([]keyvalue.KeyValue, error), ts int64) error {
	if err := r.checkReadOnly(); err != nil {
		return err
	}
	if err := r.checkRow(row); err != nil {
		return err
	}
	if err := r.checkResources(); err != nil {
		return err
	}

	r.splitsAndClosesLock.RLock()
	defer r.splitsAndClosesLock.RUnlock()
	if err := r.checkServing(); err != nil {
		return err
	}

	lid, owned, err := r.lock(id, row)
	if err != nil {
		return err
	}
	if owned {
		defer func() { _ = r.ReleaseRowLock(lid) }()
	}

	edits, err := build(commitTimestamp(ts))
	if err != nil {
		return err
	}
	return r.apply(edits)
}

// apply logs edits and then adds them to their stores.
func (r *Region) apply(edits []keyvalue.KeyValue) error {
	if len(edits) == 0 {
		return nil
	}
	slices.SortFunc(edits, keyvalue.Compare)

	r.updatesLock.RLock()
	defer r.updatesLock.RUnlock()

	if _, err := r.wal.Append(r.encoded, r.info.Table.Name, edits); err != nil {
		return fmt.Errorf("failed to append to WAL: %w", err)
	}
	var size int64
	for _, kv := range edits {
		size += r.stores[string(kv.Family())].Add(kv)
	}
	if r.memstoreSize.Add(size) > r.cfg.FlushSize {
		r.requestFlush()
	}
	return nil
}

// CancelFlushRequest forgets a pending flush request so the next write
// over the flush size asks again. Flushers drop their queues with it.
func (r *Region) CancelFlushRequest() {
	r.ws.mu.Lock()
	r.ws.flushRequested = false
	r.ws.mu.Unlock()
}

func (r *Region) requestFlush() {
	r.ws.mu.Lock()
	if r.ws.flushRequested {
		r.ws.mu.Unlock()
		return
	}
	r.ws.flushRequested = true
	r.ws.mu.Unlock()
	if r.cfg.OnFlushRequest != nil {
		r.cfg.OnFlushRequest(r)
	}
}

// checkResources blocks the caller while the memstore is over the blocking
// size. There is no timeout; a flush or close releases every waiter.
func (r *Region) checkResources() error {
	limit := r.cfg.FlushSize * int64(r.cfg.BlockingMultiplier)
	if r.memstoreSize.Load() <= limit {
		return nil
	}

	r.resourceMu.Lock()
	defer r.resourceMu.Unlock()
	blocked := false
	for r.memstoreSize.Load() > limit && !r.closing.Load() {
		if !blocked {
			blocked = true
			log.Info().Str("region", r.info.Name()).Int64("memstore_size", r.memstoreSize.Load()).
				Int64("limit", limit).Msg("blocking updates until memstore is flushed")
			r.requestFlush()
		}
		r.resourceCond.Wait()
	}
	if blocked {
		log.Info().Str("region", r.info.Name()).Msg("unblocking updates")
	}
	return r.checkServing()
}

// wakeBlockedWriters re-evaluates every writer parked in checkResources.
func (r *Region) wakeBlockedWriters() {
	r.resourceMu.Lock()
	r.resourceCond.Broadcast()
	r.resourceMu.Unlock()
}
