package flusher

import "github.com/litetable/litetable-region/internal/region"

//go:generate mockgen -destination=./source_mock.go -package=flusher -source=source.go

// RegionSource is the set of regions the flusher looks after.
type RegionSource interface {
	// OnlineRegions lists serving regions, biggest memstore first.
	OnlineRegions() []*region.Region
	// GlobalMemstoreSize sums the memstore size of every online region.
	GlobalMemstoreSize() int64
}

// CompactionRequester is told about regions that may need compacting.
type CompactionRequester interface {
	RequestCompaction(r *region.Region)
}
