package catalog

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/dgraph-io/badger/v2"
	"github.com/litetable/litetable-region/internal/litetable"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/slices"
)

const regionPrefix = "region/"

var ErrClosed = errors.New("catalog is closed")

// Config configures the catalog.
type Config struct {
	// Dir holds the badger files.
	Dir string
	// MaxRetries bounds how often a conflicting transaction is retried.
	MaxRetries uint64
}

func (c *Config) validate() error {
	var errs []error
	if c.Dir == "" {
		errs = append(errs, errors.New("catalog directory is required"))
	}
	if c.MaxRetries == 0 {
		errs = append(errs, errors.New("max retries must be positive"))
	}
	return errors.Join(errs...)
}

// Catalog persists the descriptor of every region this server knows about,
// online or not.
type Catalog struct {
	mu         sync.RWMutex
	db         *badger.DB
	maxRetries uint64
	closed     bool
}

// New opens (or creates) the catalog in cfg.Dir.
func New(cfg *Config) (*Catalog, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions(cfg.Dir)
	opts.SyncWrites = true
	opts.NumMemtables = 2
	opts.NumCompactors = 2
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog at %s: %w", cfg.Dir, err)
	}
	return &Catalog{db: db, maxRetries: cfg.MaxRetries}, nil
}

func key(info *litetable.RegionInfo) []byte {
	return []byte(regionPrefix + info.Table.Name + "/" + info.EncodedName())
}

func put(txn *badger.Txn, info *litetable.RegionInfo) error {
	buf, err := info.Encode()
	if err != nil {
		return err
	}
	return txn.Set(key(info), buf)
}

// update runs fn in a read-write transaction, retrying on conflict.
func (c *Catalog) update(fn func(txn *badger.Txn) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          1.5,
		MaxInterval:         100 * time.Millisecond,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	var txnErr error
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		txnErr = c.db.Update(fn)
		if errors.Is(txnErr, badger.ErrConflict) {
			return txnErr
		}
		return nil
	}, backoff.WithMaxRetries(b, c.maxRetries))
	if err != nil {
		return fmt.Errorf("catalog transaction failed after %d attempts: %w", attempts, err)
	}
	return txnErr
}

// AddRegion records info, replacing any earlier version of it.
func (c *Catalog) AddRegion(info *litetable.RegionInfo) error {
	return c.update(func(txn *badger.Txn) error {
		return put(txn, info)
	})
}

// RemoveRegion forgets info. Removing an unknown region is not an error.
func (c *Catalog) RemoveRegion(info *litetable.RegionInfo) error {
	return c.update(func(txn *badger.Txn) error {
		return txn.Delete(key(info))
	})
}

// CommitSplit marks parent offline and split and adds both daughters in
// one transaction.
func (c *Catalog) CommitSplit(parent, a, b *litetable.RegionInfo) error {
	p := *parent
	p.Offline = true
	p.Split = true
	err := c.update(func(txn *badger.Txn) error {
		for _, info := range []*litetable.RegionInfo{&p, a, b} {
			if err := put(txn, info); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit split of %s: %w", parent.Name(), err)
	}
	log.Debug().Str("parent", parent.Name()).Str("lower", a.Name()).Str("upper", b.Name()).
		Msg("split committed to catalog")
	return nil
}

// CommitMerge replaces a and b with merged in one transaction.
func (c *Catalog) CommitMerge(a, b, merged *litetable.RegionInfo) error {
	err := c.update(func(txn *badger.Txn) error {
		if err := txn.Delete(key(a)); err != nil {
			return err
		}
		if err := txn.Delete(key(b)); err != nil {
			return err
		}
		return put(txn, merged)
	})
	if err != nil {
		return fmt.Errorf("failed to commit merge into %s: %w", merged.Name(), err)
	}
	return nil
}

// Region looks up one descriptor. It returns nil when the region is unknown.
func (c *Catalog) Region(info *litetable.RegionInfo) (*litetable.RegionInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	var found *litetable.RegionInfo
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(info))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			found, err = litetable.Decode(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Regions lists every descriptor ordered by table, start key and id.
func (c *Catalog) Regions() ([]*litetable.RegionInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	var regions []*litetable.RegionInfo
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(regionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			info, err := litetable.Decode(val)
			if err != nil {
				return fmt.Errorf("catalog entry %s: %w", it.Item().Key(), err)
			}
			regions = append(regions, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(regions, litetable.Compare)
	return regions, nil
}

// Online lists the descriptors that are neither offline nor split.
func (c *Catalog) Online() ([]*litetable.RegionInfo, error) {
	regions, err := c.Regions()
	if err != nil {
		return nil, err
	}
	online := regions[:0]
	for _, info := range regions {
		if !info.Offline && !info.Split {
			online = append(online, info)
		}
	}
	return online, nil
}

func (c *Catalog) Start() error {
	return nil
}

// Stop closes the catalog when the application shuts down.
func (c *Catalog) Stop() error {
	err := c.Close()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (c *Catalog) Name() string {
	return "Catalog"
}

// Close closes the underlying database. Later calls return ErrClosed.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	return c.db.Close()
}
