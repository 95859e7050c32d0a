package region

import "github.com/litetable/litetable-region/internal/keyvalue"

//go:generate mockgen -destination=./wal_mock.go -package=region -source=wal.go

// WAL is the write ahead log a region records its edits in before they
// become visible.
type WAL interface {
	// Append logs one atomic batch and returns its sequence id.
	Append(region, table string, edits []keyvalue.KeyValue) (int64, error)
	// StartCacheFlush returns the sequence id the next flush is tagged with.
	StartCacheFlush() int64
	CompleteCacheFlush(region, table string, seq int64) error
	AbortCacheFlush()
	// Replay calls fn with region's batches newer than after, in log order.
	Replay(region string, after int64, fn func(seq int64, edits []keyvalue.KeyValue) error) error
}
