package regionserver

import (
	"cmp"
	"errors"
	"fmt"
	"sync"

	"github.com/litetable/litetable-region/internal/region"
	"golang.org/x/exp/slices"
)

var ErrRegionNotFound = errors.New("no online region holds row")

// Registry holds the regions this server is serving, keyed by encoded name.
type Registry struct {
	mu      sync.RWMutex
	regions map[string]*region.Region
}

func NewRegistry() *Registry {
	return &Registry{regions: make(map[string]*region.Region)}
}

func (g *Registry) Add(r *region.Region) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.regions[r.EncodedName()] = r
}

func (g *Registry) Remove(r *region.Region) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.regions, r.EncodedName())
}

// ReplaceRegion takes old offline and brings each of with online in one
// step, so no lookup sees the range uncovered twice.
func (g *Registry) ReplaceRegion(old *region.Region, with ...*region.Region) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.regions, old.EncodedName())
	for _, r := range with {
		g.regions[r.EncodedName()] = r
	}
}

func (g *Registry) Get(encoded string) (*region.Region, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.regions[encoded]
	return r, ok
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.regions)
}

// OnlineRegions lists every region, biggest memstore first.
func (g *Registry) OnlineRegions() []*region.Region {
	type sized struct {
		r    *region.Region
		size int64
	}
	g.mu.RLock()
	all := make([]sized, 0, len(g.regions))
	for _, r := range g.regions {
		all = append(all, sized{r: r, size: r.MemstoreSize()})
	}
	g.mu.RUnlock()

	slices.SortFunc(all, func(a, b sized) int {
		if c := cmp.Compare(b.size, a.size); c != 0 {
			return c
		}
		return cmp.Compare(a.r.Name(), b.r.Name())
	})
	out := make([]*region.Region, len(all))
	for i, s := range all {
		out[i] = s.r
	}
	return out
}

// GlobalMemstoreSize sums the memstores of every online region.
func (g *Registry) GlobalMemstoreSize() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var total int64
	for _, r := range g.regions {
		total += r.MemstoreSize()
	}
	return total
}

// FindRegion returns the online region of table whose range holds row.
func (g *Registry) FindRegion(table string, row []byte) (*region.Region, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, r := range g.regions {
		info := r.Info()
		if info.Table.Name == table && info.ContainsRow(row) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: table %s row %q", ErrRegionNotFound, table, row)
}

// TableRegions lists the online regions of table ordered by start key.
func (g *Registry) TableRegions(table string) []*region.Region {
	g.mu.RLock()
	var out []*region.Region
	for _, r := range g.regions {
		if r.Info().Table.Name == table {
			out = append(out, r)
		}
	}
	g.mu.RUnlock()
	slices.SortFunc(out, func(a, b *region.Region) int {
		return cmp.Compare(string(a.StartKey()), string(b.StartKey()))
	})
	return out
}
