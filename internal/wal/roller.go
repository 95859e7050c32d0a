package wal

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// Start runs the log roller until Stop.
func (m *Manager) Start() error {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.rollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.procCtx.Done():
				return
			case <-ticker.C:
				if err := m.Roll(); err != nil {
					log.Error().Err(err).Msg("failed to roll WAL")
				}
			}
		}
	}()
	return nil
}

func (m *Manager) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.walFile.Close()
}

func (m *Manager) Name() string {
	return "WAL"
}

// Roll rewrites the log without the edits already covered by a completed
// flush of their region. The latest flush marker of each region is kept so
// the covered sequence ids survive a restart.
func (m *Manager) Roll() error {
	m.flushLock.Lock()
	defer m.flushLock.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		active    []*Entry
		processed int
	)
	err := m.scan(func(e *Entry) error {
		processed++
		if e.Kind == KindEdit && e.Sequence <= m.flushed[e.Region] {
			return nil
		}
		if e.Kind == KindFlush && e.Sequence < m.flushed[e.Region] {
			return nil
		}
		active = append(active, e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read WAL: %w", err)
	}
	if len(active) == processed {
		return nil
	}

	if err := m.rewrite(active); err != nil {
		return err
	}
	log.Debug().Int("processed", processed).Int("kept", len(active)).Msg("rolled WAL")
	return nil
}

// rewrite replaces the log file with entries and reopens it for appends.
func (m *Manager) rewrite(entries []*Entry) error {
	tmp := m.path + ".roll"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("failed to create rolled WAL: %w", err)
	}

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			file.Close()
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			return fmt.Errorf("failed to write active entry: %w", err)
		}
	}

	// Ensure data is written to disk
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync rolled WAL: %w", err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to replace WAL: %w", err)
	}

	reopened, err := os.OpenFile(m.path, os.O_RDWR|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("failed to reopen WAL: %w", err)
	}
	_ = m.walFile.Close()
	m.walFile = reopened
	return nil
}
