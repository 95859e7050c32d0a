package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/rs/zerolog/log"
)

const maxLineSize = 64 << 20

// scan calls fn for every well formed entry in the log file.
func (m *Manager) scan(fn func(e *Entry) error) error {
	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			// No WAL file exists yet, not an error
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			log.Warn().Err(err).Msg("skipping malformed WAL entry")
			continue
		}
		if err := fn(&entry); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (m *Manager) restore() error {
	return m.scan(func(e *Entry) error {
		m.seq = max(m.seq, e.Sequence)
		if e.Kind == KindFlush {
			m.flushed[e.Region] = max(m.flushed[e.Region], e.Sequence)
		}
		return nil
	})
}

// Replay calls fn, in log order, with every edit batch of region whose
// sequence id is greater than after.
func (m *Manager) Replay(region string, after int64, fn func(seq int64, edits []keyvalue.KeyValue) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	replayed := 0
	err := m.scan(func(e *Entry) error {
		if e.Kind != KindEdit || e.Region != region || e.Sequence <= after {
			return nil
		}
		edits := make([]keyvalue.KeyValue, 0, len(e.Edits))
		for _, buf := range e.Edits {
			kv, err := keyvalue.Decode(buf)
			if err != nil {
				return fmt.Errorf("corrupt edit at sequence %d: %w", e.Sequence, err)
			}
			edits = append(edits, kv)
		}
		replayed++
		return fn(e.Sequence, edits)
	})
	if err != nil {
		return err
	}
	if replayed > 0 {
		log.Info().Str("region", region).Int("batches", replayed).Int64("after", after).Msg("replayed WAL edits")
	}
	return nil
}
