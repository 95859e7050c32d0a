// Package store manages one column family of a region: a memstore taking
// writes plus the immutable files it has been flushed into.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/litetable/litetable-region/internal/litetable"
	"github.com/litetable/litetable-region/internal/memstore"
	"github.com/litetable/litetable-region/internal/storefile"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/slices"
)

const compactionDir = "compaction.dir"

type Config struct {
	// Dir is the family directory inside the region directory.
	Dir    string
	Family litetable.FamilyDescriptor
	// Region is the region's encoded name, used in logs.
	Region string

	CompactionThreshold int
	MaxFileSize         int64
	BlockSize           int
	Cache               *storefile.BlockCache
}

func (c *Config) validate() error {
	var errs []error
	if c.Dir == "" {
		errs = append(errs, fmt.Errorf("family directory is required"))
	}
	if c.Family.Name == "" {
		errs = append(errs, fmt.Errorf("family name is required"))
	}
	if c.CompactionThreshold < 1 {
		errs = append(errs, fmt.Errorf("compaction threshold must be at least 1"))
	}
	if c.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("max file size must be positive"))
	}
	return errors.Join(errs...)
}

// Store is the per family unit of a region.
type Store struct {
	cfg      Config
	family   []byte
	memstore *memstore.MemStore

	// mu guards files and the memstore snapshot transition. Readers take it
	// shared while they gather their sources.
	mu     sync.RWMutex
	files  []*storefile.StoreFile // oldest first
	maxSeq int64

	compactLock sync.Mutex

	observerMu   sync.Mutex
	observers    map[uint64]func()
	nextObserver atomic.Uint64
}

// Open loads the family's files, removing leftovers of an interrupted
// compaction.
func Open(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = storefile.DefaultBlockSize
	}

	staging := filepath.Join(cfg.Dir, compactionDir)
	if _, err := os.Stat(staging); err == nil {
		log.Warn().Str("region", cfg.Region).Str("family", cfg.Family.Name).
			Msg("removing leftovers of an interrupted compaction")
		if err := os.RemoveAll(staging); err != nil {
			return nil, fmt.Errorf("failed to clean compaction directory: %w", err)
		}
	}

	files, err := storefile.Load(cfg.Dir, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to load store files: %w", err)
	}

	s := &Store{
		cfg:       cfg,
		family:    []byte(cfg.Family.Name),
		memstore:  memstore.New(),
		files:     files,
		maxSeq:    storefile.UnknownSequenceID,
		observers: make(map[uint64]func()),
	}
	for _, sf := range files {
		s.maxSeq = max(s.maxSeq, sf.SequenceID())
	}

	log.Debug().Str("region", cfg.Region).Str("family", cfg.Family.Name).
		Int("files", len(files)).Int64("max_sequence_id", s.maxSeq).Msg("store opened")
	return s, nil
}

// Family is the descriptor the store was opened with.
func (s *Store) Family() litetable.FamilyDescriptor { return s.cfg.Family }

// Dir is the family directory.
func (s *Store) Dir() string { return s.cfg.Dir }

// MaxSequenceID is the newest log sequence id already reflected in files.
func (s *Store) MaxSequenceID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSeq
}

func (s *Store) expiry() keyvalue.ExpiryFunc {
	ttl := s.cfg.Family.TTL
	if ttl <= 0 {
		return keyvalue.NeverExpires
	}
	now := keyvalue.Now()
	return func(ts int64) bool { return keyvalue.Expired(ts, now, ttl) }
}

// Add writes kv to the memstore and returns the heap size delta.
func (s *Store) Add(kv keyvalue.KeyValue) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memstore.Add(kv)
}

// Snapshot freezes the memstore ahead of a flush. The region holds its
// update lock while calling it.
func (s *Store) Snapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memstore.Snapshot()
}

// MemstoreSize is the heap size of unflushed live cells.
func (s *Store) MemstoreSize() int64 { return s.memstore.Size() }

// SnapshotSize is the heap size of the snapshot awaiting flush.
func (s *Store) SnapshotSize() int64 { return s.memstore.SnapshotSize() }

// Size is the on-disk size of the store's files.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, sf := range s.files {
		total += sf.Reader().Size()
	}
	return total
}

// FileCount is the number of files, references included.
func (s *Store) FileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// HasReferences reports whether any file still reads through a parent.
func (s *Store) HasReferences() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasReferences(s.files)
}

// ReferencedRegions lists the encoded names of the parent regions this store
// still reads through.
func (s *Store) ReferencedRegions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var parents []string
	for _, sf := range s.files {
		if ref := sf.Reference(); ref != nil && !slices.Contains(parents, ref.ParentRegion) {
			parents = append(parents, ref.ParentRegion)
		}
	}
	return parents
}

func hasReferences(files []*storefile.StoreFile) bool {
	for _, sf := range files {
		if sf.IsReference() {
			return true
		}
	}
	return false
}

// AddObserver registers fn to be called whenever the file set changes.
func (s *Store) AddObserver(fn func()) uint64 {
	id := s.nextObserver.Add(1)
	s.observerMu.Lock()
	s.observers[id] = fn
	s.observerMu.Unlock()
	return id
}

func (s *Store) RemoveObserver(id uint64) {
	s.observerMu.Lock()
	delete(s.observers, id)
	s.observerMu.Unlock()
}

func (s *Store) notifyObservers() {
	s.observerMu.Lock()
	fns := make([]func(), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.observerMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Close hands back the store's files with their readers still open; the
// caller closes them. The store must not be used afterwards.
func (s *Store) Close() []*storefile.StoreFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := s.files
	s.files = nil
	return files
}
