package compactor

import (
	"github.com/litetable/litetable-region/internal/litetable"
	"github.com/litetable/litetable-region/internal/region"
)

//go:generate mockgen -destination=./deps_mock.go -package=compactor -source=deps.go

// Registry is the set of online regions.
type Registry interface {
	// OnlineRegions lists serving regions.
	OnlineRegions() []*region.Region
	// ReplaceRegion takes old offline and brings each of with online.
	ReplaceRegion(old *region.Region, with ...*region.Region)
}

// Catalog records region descriptors across restarts.
type Catalog interface {
	CommitSplit(parent, a, b *litetable.RegionInfo) error
	RemoveRegion(info *litetable.RegionInfo) error
	Regions() ([]*litetable.RegionInfo, error)
}
