// Package regionserver hosts the regions of a node: it opens what the
// catalog lists, routes updates and reads to the region holding the row,
// and closes everything on shutdown.
package regionserver

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/litetable/litetable-region/internal/litetable"
	"github.com/litetable/litetable-region/internal/region"
	"github.com/litetable/litetable-region/internal/storefile"
	"github.com/rs/zerolog/log"
)

//go:generate mockgen -destination=./server_mock.go -package=regionserver -source=server.go

const serverName = "Region Server"

var (
	ErrTableExists = errors.New("table already exists")
	ErrAborted     = errors.New("region server aborted")
)

type catalogStore interface {
	AddRegion(info *litetable.RegionInfo) error
	Online() ([]*litetable.RegionInfo, error)
	Regions() ([]*litetable.RegionInfo, error)
	CommitMerge(a, b, merged *litetable.RegionInfo) error
}

type memstoreFlusher interface {
	RequestFlush(r *region.Region)
	ReclaimMemory()
}

// RegionSettings are applied to every region the server opens.
type RegionSettings struct {
	FlushSize           int64
	BlockingMultiplier  int
	CompactionThreshold int
	MaxFileSize         int64
	BlockSize           int
}

type Config struct {
	Root     string
	Registry *Registry
	Catalog  catalogStore
	WAL      region.WAL
	Flusher  memstoreFlusher
	Cache    *storefile.BlockCache
	Regions  RegionSettings
}

func (c *Config) validate() error {
	var errGrp []error
	if c.Root == "" {
		errGrp = append(errGrp, errors.New("root directory is required"))
	}
	if c.Registry == nil {
		errGrp = append(errGrp, errors.New("registry is required"))
	}
	if c.Catalog == nil {
		errGrp = append(errGrp, errors.New("catalog is required"))
	}
	if c.WAL == nil {
		errGrp = append(errGrp, errors.New("wal is required"))
	}
	if c.Flusher == nil {
		errGrp = append(errGrp, errors.New("flusher is required"))
	}
	return errors.Join(errGrp...)
}

type Server struct {
	root     string
	registry *Registry
	catalog  catalogStore
	wal      region.WAL
	flusher  memstoreFlusher
	cache    *storefile.BlockCache
	settings RegionSettings

	// tableLock serializes table creation and merges.
	tableLock sync.Mutex
	aborted   atomic.Bool
	abortOnce sync.Once
}

// New returns a region server. Regions are opened by Start.
func New(cfg *Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Server{
		root:     cfg.Root,
		registry: cfg.Registry,
		catalog:  cfg.Catalog,
		wal:      cfg.WAL,
		flusher:  cfg.Flusher,
		cache:    cfg.Cache,
		settings: cfg.Regions,
	}, nil
}

func (s *Server) regionConfig(info *litetable.RegionInfo) region.Config {
	return region.Config{
		Root:                s.root,
		Info:                info,
		WAL:                 s.wal,
		FlushSize:           s.settings.FlushSize,
		BlockingMultiplier:  s.settings.BlockingMultiplier,
		CompactionThreshold: s.settings.CompactionThreshold,
		MaxFileSize:         s.settings.MaxFileSize,
		BlockSize:           s.settings.BlockSize,
		Cache:               s.cache,
		OnFlushRequest:      s.flusher.RequestFlush,
	}
}

// Start opens every online region the catalog knows about.
func (s *Server) Start() error {
	infos, err := s.catalog.Online()
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}
	for _, info := range infos {
		r, err := region.Open(s.regionConfig(info))
		if err != nil {
			return fmt.Errorf("failed to open region %s: %w", info.Name(), err)
		}
		s.registry.Add(r)
	}
	log.Info().Int("regions", len(infos)).Msg("region server started")
	return nil
}

// Stop closes every online region, flushing each unless the server has
// aborted.
func (s *Server) Stop() error {
	abort := s.aborted.Load()
	var errs []error
	for _, r := range s.registry.OnlineRegions() {
		if err := r.Close(abort); err != nil && !errors.Is(err, region.ErrNotServing) {
			errs = append(errs, fmt.Errorf("failed to close region %s: %w", r.Name(), err))
		}
		s.registry.Remove(r)
	}
	return errors.Join(errs...)
}

func (s *Server) Name() string {
	return serverName
}

// Abort stops serving after an unrecoverable flush failure. Regions are
// closed without flushing; their edits are recovered from the log on the
// next start.
func (s *Server) Abort(r *region.Region, cause error) {
	s.abortOnce.Do(func() {
		s.aborted.Store(true)
		log.Error().Err(cause).Str("region", r.Name()).Msg("aborting region server")
		for _, online := range s.registry.OnlineRegions() {
			if err := online.Close(true); err != nil && !errors.Is(err, region.ErrNotServing) {
				log.Warn().Err(err).Str("region", online.Name()).Msg("failed to close region on abort")
			}
			s.registry.Remove(online)
		}
	})
}

// CreateTable creates the first region of table, covering every row.
func (s *Server) CreateTable(table litetable.TableDescriptor) (*region.Region, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	s.tableLock.Lock()
	defer s.tableLock.Unlock()

	infos, err := s.catalog.Regions()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Table.Name == table.Name {
			return nil, fmt.Errorf("%w: %s", ErrTableExists, table.Name)
		}
	}

	info := litetable.NewRegionInfo(table, nil, nil, time.Now().UnixMilli())
	r, err := region.Create(s.regionConfig(info))
	if err != nil {
		return nil, err
	}
	if err := s.catalog.AddRegion(info); err != nil {
		_ = r.Close(true)
		return nil, err
	}
	s.registry.Add(r)
	log.Info().Str("table", table.Name).Str("region", r.Name()).Msg("table created")
	return r, nil
}

func (s *Server) locate(table string, row []byte) (*region.Region, error) {
	if s.aborted.Load() {
		return nil, ErrAborted
	}
	return s.registry.FindRegion(table, row)
}

// BatchUpdate applies b to the region holding its row, first waiting for
// memory to be reclaimed when the server holds too much unflushed data.
func (s *Server) BatchUpdate(table string, b *region.BatchUpdate) error {
	s.flusher.ReclaimMemory()
	r, err := s.locate(table, b.Row)
	if err != nil {
		return err
	}
	return r.BatchUpdate(b, region.NoLock)
}

// Get reads from the region holding g.Row.
func (s *Server) Get(table string, g *region.Get) ([]keyvalue.KeyValue, error) {
	r, err := s.locate(table, g.Row)
	if err != nil {
		return nil, err
	}
	return r.Fetch(g)
}

// Scanner opens a scanner on the region holding startRow. Rows past that
// region's end are not returned.
func (s *Server) Scanner(table string, columns [][]byte, startRow []byte, ts int64, filter region.RowFilter) (*region.Scanner, error) {
	r, err := s.locate(table, startRow)
	if err != nil {
		return nil, err
	}
	return r.GetScanner(columns, startRow, ts, filter)
}

// MergeRegions merges two adjacent online regions, given by encoded name.
// When the merge cannot be recorded in the catalog the merged region still
// serves and is returned together with the error. An aborted merge reopens
// its inputs.
func (s *Server) MergeRegions(a, b string) (*region.Region, error) {
	s.tableLock.Lock()
	defer s.tableLock.Unlock()

	ra, ok := s.registry.Get(a)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRegionNotFound, a)
	}
	rb, ok := s.registry.Get(b)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRegionNotFound, b)
	}
	infoA, infoB := *ra.Info(), *rb.Info()

	merged, err := region.MergeAdjacent(ra, rb)
	if err != nil {
		for _, r := range []*region.Region{ra, rb} {
			if !r.IsClosing() {
				continue
			}
			s.registry.Remove(r)
			if !errors.Is(err, region.ErrMergeAborted) {
				continue
			}
			reopened, openErr := region.Open(s.regionConfig(r.Info()))
			if openErr != nil {
				log.Error().Err(openErr).Str("region", r.Name()).Msg("failed to reopen region after aborted merge")
				continue
			}
			s.registry.Add(reopened)
		}
		return nil, err
	}
	s.registry.Remove(ra)
	s.registry.ReplaceRegion(rb, merged)

	if err := s.catalog.CommitMerge(&infoA, &infoB, merged.Info()); err != nil {
		log.Error().Err(err).Str("merged", merged.Name()).Msg("failed to record merge")
		return merged, err
	}
	return merged, nil
}
