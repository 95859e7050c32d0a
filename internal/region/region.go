// Package region serves one contiguous row range of a table. A region owns
// one store per column family and coordinates row locks, logged updates,
// reads, flushes, compactions, splits and merges across them.
package region

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/litetable/litetable-region/internal/litetable"
	"github.com/litetable/litetable-region/internal/store"
	"github.com/litetable/litetable-region/internal/storefile"
	"github.com/rs/zerolog/log"
)

const mergesDir = "merges"

type Config struct {
	// Root is the data directory. The region lives in litetable.RegionDir.
	Root string
	Info *litetable.RegionInfo
	WAL  WAL

	// FlushSize is the memstore size at which a flush is requested.
	FlushSize int64
	// BlockingMultiplier times FlushSize is the memstore size at which
	// writers block until a flush catches up.
	BlockingMultiplier  int
	CompactionThreshold int
	MaxFileSize         int64
	BlockSize           int
	Cache               *storefile.BlockCache

	// OnFlushRequest is called when the memstore grows past FlushSize.
	OnFlushRequest func(*Region)
	// InitialFiles is a staging directory of family subdirectories whose
	// files are moved into the region when it opens.
	InitialFiles string
}

func (c *Config) validate() error {
	var errGrp []error
	if c.Root == "" {
		errGrp = append(errGrp, errors.New("root directory is required"))
	}
	if c.Info == nil {
		errGrp = append(errGrp, errors.New("region info is required"))
	} else if err := c.Info.Table.Validate(); err != nil {
		errGrp = append(errGrp, err)
	}
	if c.WAL == nil {
		errGrp = append(errGrp, errors.New("wal is required"))
	}
	if c.FlushSize <= 0 {
		errGrp = append(errGrp, errors.New("flush size must be greater than 0"))
	}
	if c.BlockingMultiplier < 1 {
		errGrp = append(errGrp, errors.New("blocking multiplier must be at least 1"))
	}
	if c.CompactionThreshold < 1 {
		errGrp = append(errGrp, errors.New("compaction threshold must be at least 1"))
	}
	if c.MaxFileSize <= 0 {
		errGrp = append(errGrp, errors.New("max file size must be greater than 0"))
	}
	return errors.Join(errGrp...)
}

// writeState tracks the background work running against a region.
type writeState struct {
	mu             sync.Mutex
	cond           *sync.Cond
	flushing       bool
	flushRequested bool
	compacting     bool
	writesEnabled  bool
	readOnly       bool
}

type Region struct {
	cfg      Config
	info     *litetable.RegionInfo
	dir      string
	encoded  string
	wal      WAL
	stores   map[string]*store.Store
	families []string

	memstoreSize atomic.Int64
	lastFlush    atomic.Int64

	// updatesLock is held shared by writers and exclusively while the
	// memstores are snapshotted for a flush.
	updatesLock sync.RWMutex
	// splitsAndClosesLock is held shared by every operation and exclusively
	// by close.
	splitsAndClosesLock sync.RWMutex
	splitLock           sync.Mutex

	closing atomic.Bool
	closed  atomic.Bool

	locks rowLocks
	ws    writeState

	scannerMu      sync.Mutex
	scannerCond    *sync.Cond
	activeScanners int

	resourceMu   sync.Mutex
	resourceCond *sync.Cond
}

// Create opens a region that must not exist on disk yet.
func Create(cfg Config) (*Region, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	dir := litetable.RegionDir(cfg.Root, cfg.Info)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("region directory %s already exists", dir)
	}
	return Open(cfg)
}

// Open loads the region's stores and replays logged edits newer than what
// its files already hold.
func Open(cfg Config) (*Region, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &Region{
		cfg:      cfg,
		info:     cfg.Info,
		dir:      litetable.RegionDir(cfg.Root, cfg.Info),
		encoded:  cfg.Info.EncodedName(),
		wal:      cfg.WAL,
		stores:   make(map[string]*store.Store),
		families: cfg.Info.Table.FamilyNames(),
	}
	r.locks.init()
	r.ws.cond = sync.NewCond(&r.ws.mu)
	r.scannerCond = sync.NewCond(&r.scannerMu)
	r.resourceCond = sync.NewCond(&r.resourceMu)

	if err := os.MkdirAll(r.dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create region directory: %w", err)
	}
	if cfg.InitialFiles != "" {
		if err := r.adoptInitialFiles(cfg.InitialFiles); err != nil {
			return nil, err
		}
	}

	for _, name := range r.families {
		s, err := store.Open(store.Config{
			Dir:                 filepath.Join(r.dir, name),
			Family:              cfg.Info.Table.Families[name],
			Region:              r.encoded,
			CompactionThreshold: cfg.CompactionThreshold,
			MaxFileSize:         cfg.MaxFileSize,
			BlockSize:           cfg.BlockSize,
			Cache:               cfg.Cache,
		})
		if err != nil {
			r.closeStores()
			return nil, fmt.Errorf("failed to open store %s: %w", name, err)
		}
		r.stores[name] = s
	}

	if err := r.replay(); err != nil {
		r.closeStores()
		return nil, err
	}

	r.lastFlush.Store(time.Now().UnixMilli())
	r.ws.writesEnabled = true
	log.Info().Str("region", r.info.Name()).Str("encoded", r.encoded).
		Int64("memstore_size", r.memstoreSize.Load()).Msg("region opened")
	return r, nil
}

// adoptInitialFiles moves files staged by a merge into the family
// directories and removes the staging directory.
func (r *Region) adoptInitialFiles(staging string) error {
	for _, name := range r.families {
		src := filepath.Join(staging, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		files, err := storefile.Load(src, r.cfg.Cache)
		if err != nil {
			return fmt.Errorf("failed to load staged files of %s: %w", name, err)
		}
		for _, sf := range files {
			_ = sf.Close()
			if err := sf.MoveTo(filepath.Join(r.dir, name), sf.SequenceID()); err != nil {
				return fmt.Errorf("failed to adopt %s: %w", sf, err)
			}
		}
	}
	return os.RemoveAll(staging)
}

func (r *Region) replay() error {
	after := int64(-1)
	for i, name := range r.families {
		seq := r.stores[name].MaxSequenceID()
		if i == 0 || seq < after {
			after = seq
		}
	}
	return r.wal.Replay(r.encoded, after, func(seq int64, edits []keyvalue.KeyValue) error {
		for _, kv := range edits {
			s, ok := r.stores[string(kv.Family())]
			if !ok {
				log.Warn().Str("region", r.encoded).Str("family", string(kv.Family())).
					Msg("dropping logged edit for unknown family")
				continue
			}
			if seq <= s.MaxSequenceID() {
				continue
			}
			r.memstoreSize.Add(s.Add(kv))
		}
		return nil
	})
}

func (r *Region) closeStores() {
	for _, s := range r.stores {
		for _, sf := range s.Close() {
			_ = sf.Close()
		}
	}
}

// Info describes the region.
func (r *Region) Info() *litetable.RegionInfo { return r.info }

// Name is the region's full name.
func (r *Region) Name() string { return r.info.Name() }

// EncodedName names the region's directory and its log entries.
func (r *Region) EncodedName() string { return r.encoded }

func (r *Region) Dir() string { return r.dir }

func (r *Region) StartKey() []byte { return r.info.StartKey }

func (r *Region) EndKey() []byte { return r.info.EndKey }

// MemstoreSize is the heap size of edits not yet flushed.
func (r *Region) MemstoreSize() int64 { return r.memstoreSize.Load() }

// LastFlushTime is when the region last flushed, or opened.
func (r *Region) LastFlushTime() time.Time { return time.UnixMilli(r.lastFlush.Load()) }

// LargestStoreSize is the on-disk size of the biggest store.
func (r *Region) LargestStoreSize() int64 {
	var largest int64
	for _, s := range r.stores {
		largest = max(largest, s.Size())
	}
	return largest
}

// IsClosing reports whether close has begun.
func (r *Region) IsClosing() bool { return r.closing.Load() }

// IsClosed reports whether close has finished.
func (r *Region) IsClosed() bool { return r.closed.Load() }

// ReferencedRegions lists the parent regions this region's stores still
// read through.
func (r *Region) ReferencedRegions() []string {
	var parents []string
	seen := make(map[string]struct{})
	for _, name := range r.families {
		for _, p := range r.stores[name].ReferencedRegions() {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				parents = append(parents, p)
			}
		}
	}
	return parents
}

func (r *Region) hasReferences() bool {
	for _, s := range r.stores {
		if s.HasReferences() {
			return true
		}
	}
	return false
}

// SetReadOnly stops or resumes writes, flushes and compactions.
func (r *Region) SetReadOnly(on bool) {
	r.ws.mu.Lock()
	defer r.ws.mu.Unlock()
	r.ws.readOnly = on
	r.ws.writesEnabled = !on
}

func (r *Region) checkReadOnly() error {
	r.ws.mu.Lock()
	defer r.ws.mu.Unlock()
	if r.ws.readOnly {
		return newError(ErrReadOnly, "%s", r.info.Name())
	}
	return nil
}

func (r *Region) checkServing() error {
	if r.closing.Load() {
		return newError(ErrNotServing, "%s", r.info.Name())
	}
	return nil
}

func (r *Region) checkRow(row []byte) error {
	if err := keyvalue.Validate(row, nil); err != nil {
		return err
	}
	if !r.info.ContainsRow(row) {
		return newError(ErrWrongRegion, "row %q not in %s", row, r.info)
	}
	return nil
}

// store resolves the family of a family:qualifier column.
func (r *Region) store(column []byte) (*store.Store, []byte, error) {
	family, qualifier, err := keyvalue.ParseColumn(column)
	if err != nil {
		return nil, nil, newError(ErrInvalidColumn, "%q", column)
	}
	s, ok := r.stores[string(family)]
	if !ok {
		return nil, nil, newError(ErrNoSuchFamily, "%q in %s", family, r.info.Table.Name)
	}
	return s, qualifier, nil
}

func (r *Region) String() string { return r.info.String() }
