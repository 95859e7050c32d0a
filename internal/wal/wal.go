package wal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/litetable/litetable-region/internal/keyvalue"
)

const (
	defaultWalDirectory = "wal"
	defaultWALFile      = "wal.log"
)

type Kind int

const (
	KindEdit Kind = iota + 1
	KindFlush
)

// Entry is one line of the log: either an atomic batch of cells for a
// region, or a marker that the region's edits up to Sequence are in files.
type Entry struct {
	Kind      Kind      `json:"kind"`
	Sequence  int64     `json:"seq"`
	Region    string    `json:"region"`
	Table     string    `json:"table"`
	Edits     [][]byte  `json:"edits,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Manager struct {
	mu      sync.Mutex
	walFile *os.File
	path    string
	seq     int64
	flushed map[string]int64 // region → last completed flush

	// flushLock is held from StartCacheFlush until the flush completes or
	// aborts; rolling waits for it.
	flushLock sync.Mutex

	rollInterval time.Duration
	procCtx      context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

type Config struct {
	// Path where the WAL directory will be saved
	Path string
	// RollInterval is how often the log is rewritten without flushed edits.
	RollInterval time.Duration
}

func (c *Config) validate() error {
	var errGrp []error
	if c.Path == "" {
		errGrp = append(errGrp, errors.New("wal path cannot be empty"))
	}
	if c.RollInterval <= 0 {
		errGrp = append(errGrp, errors.New("roll interval must be greater than 0"))
	}
	return errors.Join(errGrp...)
}

// New opens the log, restoring the sequence counter and flush markers.
func New(cfg *Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	walPath := filepath.Join(cfg.Path, defaultWalDirectory, defaultWALFile)
	if err := os.MkdirAll(filepath.Dir(walPath), 0750); err != nil {
		return nil, errors.New("failed to create WAL directory: " + err.Error())
	}

	m := &Manager{
		path:         walPath,
		flushed:      make(map[string]int64),
		rollInterval: cfg.RollInterval,
	}
	if err := m.restore(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(walPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return nil, errors.New("failed to open WAL file: " + err.Error())
	}
	m.walFile = file
	m.procCtx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

func (m *Manager) write(e *Entry) error {
	e.Timestamp = time.Now()
	jsonData, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	if _, err = m.walFile.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}
	if err = m.walFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

// Append logs the cells of one atomic update and returns its sequence id.
// The update is durable once Append returns.
func (m *Manager) Append(region, table string, edits []keyvalue.KeyValue) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &Entry{
		Kind:     KindEdit,
		Sequence: m.seq + 1,
		Region:   region,
		Table:    table,
		Edits:    make([][]byte, len(edits)),
	}
	for i, kv := range edits {
		e.Edits[i] = kv.Bytes()
	}
	if err := m.write(e); err != nil {
		return 0, err
	}
	m.seq++
	return m.seq, nil
}

// StartCacheFlush hands out the sequence id a flush will be tagged with.
// Every edit appended afterwards gets a larger id. The caller must follow
// up with CompleteCacheFlush or AbortCacheFlush.
func (m *Manager) StartCacheFlush() int64 {
	m.flushLock.Lock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq
}

// CompleteCacheFlush records that region's edits up to seq are in files.
func (m *Manager) CompleteCacheFlush(region, table string, seq int64) error {
	defer m.flushLock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(&Entry{Kind: KindFlush, Sequence: seq, Region: region, Table: table}); err != nil {
		return err
	}
	m.flushed[region] = max(m.flushed[region], seq)
	return nil
}

// AbortCacheFlush gives up on a flush started with StartCacheFlush.
func (m *Manager) AbortCacheFlush() {
	m.flushLock.Unlock()
}

// Sequence is the last sequence id handed out.
func (m *Manager) Sequence() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}
