// Package compactor runs store compactions in the background and splits
// regions that have grown too big.
package compactor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/alphadose/zenq/v2"
	"github.com/litetable/litetable-region/internal/litetable"
	"github.com/litetable/litetable-region/internal/region"
	"github.com/litetable/litetable-region/internal/storefile"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/slices"
)

const (
	defaultQueueSize = 1 << 10
	statsWindow      = 64
)

type request struct {
	r     *region.Region
	force bool
}

type Config struct {
	// Root is the data directory, used to remove split parents.
	Root     string
	Registry Registry
	Catalog  Catalog

	QueueSize uint32
	// MajorInterval is how often every online region is fully compacted.
	MajorInterval time.Duration
	// CleanupInterval is how often split parents are checked for removal.
	CleanupInterval time.Duration
}

func (c *Config) validate() error {
	var errGrp []error
	if c.Root == "" {
		errGrp = append(errGrp, errors.New("root directory cannot be empty"))
	}
	if c.Registry == nil {
		errGrp = append(errGrp, errors.New("registry cannot be nil"))
	}
	if c.Catalog == nil {
		errGrp = append(errGrp, errors.New("catalog cannot be nil"))
	}
	if c.MajorInterval <= 0 {
		errGrp = append(errGrp, errors.New("major compaction interval must be greater than 0"))
	}
	if c.CleanupInterval <= 0 {
		errGrp = append(errGrp, errors.New("cleanup interval must be greater than 0"))
	}
	return errors.Join(errGrp...)
}

// Stats summarises completed compactions and splits.
type Stats struct {
	Compactions int64
	Splits      int64
	Failures    int64
	AvgDuration time.Duration
}

type Compactor struct {
	cfg   Config
	queue *zenq.ZenQ[request]

	mu     sync.Mutex
	queued map[*region.Region]struct{}

	// active is held while a request is processed.
	active sync.Mutex

	statsMu     sync.Mutex
	durations   *movingaverage.MovingAverage
	compactions int64
	splits      int64
	failures    int64

	stopped atomic.Bool
	procCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Compactor. Nothing runs until Start.
func New(cfg *Config) (*Compactor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	size := cfg.QueueSize
	if size == 0 {
		size = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Compactor{
		cfg:       *cfg,
		queue:     zenq.New[request](size),
		queued:    make(map[*region.Region]struct{}),
		durations: movingaverage.New(statsWindow),
		procCtx:   ctx,
		cancel:    cancel,
	}, nil
}

func (c *Compactor) Start() error {
	go func() {
		for {
			req, open := c.queue.Read()
			if !open || c.stopped.Load() {
				return
			}
			c.mu.Lock()
			delete(c.queued, req.r)
			c.mu.Unlock()

			c.active.Lock()
			c.process(req)
			c.active.Unlock()
		}
	}()

	go func() {
		major := time.NewTicker(c.cfg.MajorInterval)
		defer major.Stop()
		cleanup := time.NewTicker(c.cfg.CleanupInterval)
		defer cleanup.Stop()
		for {
			select {
			case <-c.procCtx.Done():
				return
			case <-major.C:
				c.requestMajor()
			case <-cleanup.C:
				if err := c.CleanSplitParents(); err != nil {
					log.Warn().Err(err).Msg("failed to clean split parents")
				}
			}
		}
	}()
	log.Info().Dur("major", c.cfg.MajorInterval).Msg("compactor started")
	return nil
}

func (c *Compactor) Stop() error {
	if c.stopped.Swap(true) {
		return nil
	}
	c.cancel()
	c.queue.Close()

	// Wait for an in-flight compaction to finish
	c.active.Lock()
	defer c.active.Unlock()
	return nil
}

func (c *Compactor) Name() string {
	return "Compactor"
}

// RequestCompaction queues r for a compaction check. A region already
// waiting is not queued twice.
func (c *Compactor) RequestCompaction(r *region.Region) {
	c.request(r, false)
}

func (c *Compactor) request(r *region.Region, force bool) {
	if c.stopped.Load() {
		return
	}
	c.mu.Lock()
	if _, ok := c.queued[r]; ok {
		c.mu.Unlock()
		return
	}
	c.queued[r] = struct{}{}
	c.mu.Unlock()

	if closed := c.queue.Write(request{r: r, force: force}); closed {
		c.mu.Lock()
		delete(c.queued, r)
		c.mu.Unlock()
	}
}

func (c *Compactor) requestMajor() {
	regions := c.cfg.Registry.OnlineRegions()
	log.Info().Int("regions", len(regions)).Msg("requesting major compactions")
	for _, r := range regions {
		c.request(r, true)
	}
}

// process compacts the region and splits it when compaction says it has
// grown past the maximum file size.
func (c *Compactor) process(req request) {
	r := req.r
	if r.IsClosing() || r.IsClosed() {
		return
	}
	start := time.Now()
	mid, err := r.CompactStores(req.force)
	took := time.Since(start)
	if err != nil {
		c.statsMu.Lock()
		c.failures++
		c.statsMu.Unlock()
		log.Warn().Err(err).Str("region", r.Name()).Msg("compaction failed")
		return
	}
	c.statsMu.Lock()
	c.compactions++
	c.durations.Add(float64(took))
	c.statsMu.Unlock()

	if mid != nil {
		c.split(r, mid)
	}
}

func (c *Compactor) split(parent *region.Region, mid []byte) {
	a, b, err := parent.SplitRegion(mid)
	if err != nil {
		c.statsMu.Lock()
		c.failures++
		c.statsMu.Unlock()
		log.Error().Err(err).Str("region", parent.Name()).Msg("split failed")
		return
	}
	if a == nil {
		return
	}

	if err := c.cfg.Catalog.CommitSplit(parent.Info(), a.Info(), b.Info()); err != nil {
		// The parent's files are untouched, so it comes back from the
		// catalog on the next open. The daughters go away.
		log.Error().Err(err).Str("region", parent.Name()).Msg("failed to record split, region is offline")
		for _, d := range []*region.Region{a, b} {
			_ = d.Close(true)
			_ = os.RemoveAll(d.Dir())
		}
		c.cfg.Registry.ReplaceRegion(parent)
		return
	}
	c.cfg.Registry.ReplaceRegion(parent, a, b)

	c.statsMu.Lock()
	c.splits++
	c.statsMu.Unlock()

	// Daughters compact away their references so they can split again.
	// Queued from another goroutine since this one drains the queue.
	go func() {
		c.RequestCompaction(a)
		c.RequestCompaction(b)
	}()
}

// CleanSplitParents removes split parents that no region of their table
// reads through references anymore, on disk and in the catalog. References
// are read from disk so daughters not yet online still count.
func (c *Compactor) CleanSplitParents() error {
	infos, err := c.cfg.Catalog.Regions()
	if err != nil {
		return err
	}

	var errs []error
	for _, info := range infos {
		if !info.Split {
			continue
		}
		referenced, err := c.referenced(info)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if referenced {
			continue
		}
		if err := os.RemoveAll(litetable.RegionDir(c.cfg.Root, info)); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.cfg.Catalog.RemoveRegion(info); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Info().Str("region", info.Name()).Msg("removed split parent")
	}
	return errors.Join(errs...)
}

// referenced reports whether any other region directory of parent's table
// holds a reference file pointing at parent.
func (c *Compactor) referenced(parent *litetable.RegionInfo) (bool, error) {
	tableDir := litetable.TableDir(c.cfg.Root, parent.Table.Name)
	entries, err := os.ReadDir(tableDir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return true, err
	}
	name := parent.EncodedName()
	for _, e := range entries {
		if !e.IsDir() || e.Name() == name {
			continue
		}
		for family := range parent.Table.Families {
			parents, err := storefile.ReferencedRegions(filepath.Join(tableDir, e.Name(), family))
			if err != nil {
				return true, err
			}
			if slices.Contains(parents, name) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Pending lists the regions waiting for a compaction check.
func (c *Compactor) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.queued))
	for r := range c.queued {
		names = append(names, r.Name())
	}
	slices.Sort(names)
	return names
}

// Stats reports compactions, splits and failures with the rolling mean
// compaction duration.
func (c *Compactor) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s := Stats{Compactions: c.compactions, Splits: c.splits, Failures: c.failures}
	if c.compactions > 0 {
		s.AvgDuration = time.Duration(c.durations.Avg())
	}
	return s
}
