package wal

import (
	"bufio"
	"os"
	"testing"
	"time"

	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, dir string) *Manager {
	t.Helper()
	m, err := New(&Config{Path: dir, RollInterval: time.Hour})
	require.NoError(t, err)
	return m
}

func cell(row string, ts int64) keyvalue.KeyValue {
	return keyvalue.New([]byte(row), []byte("f"), []byte("q"), ts, keyvalue.Put, []byte("v"))
}

func lines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	s := bufio.NewScanner(f)
	for s.Scan() {
		n++
	}
	return n
}

func TestNew(t *testing.T) {
	t.Parallel()
	t.Run("Invalid config", func(t *testing.T) {
		t.Parallel()
		got, err := New(&Config{})
		require.Error(t, err)
		require.Nil(t, got)
	})

	t.Run("Valid config", func(t *testing.T) {
		t.Parallel()
		got := newManager(t, t.TempDir())
		require.NotNil(t, got)
		require.Equal(t, "WAL", got.Name())
		require.NoError(t, got.Stop())
	})
}

func TestManager_AppendAndReplay(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	dir := t.TempDir()
	m := newManager(t, dir)

	s1, err := m.Append("r1", "t", []keyvalue.KeyValue{cell("a", 1), cell("b", 1)})
	req.NoError(err)
	s2, err := m.Append("r2", "t", []keyvalue.KeyValue{cell("c", 1)})
	req.NoError(err)
	s3, err := m.Append("r1", "t", []keyvalue.KeyValue{cell("d", 1)})
	req.NoError(err)
	req.Less(s1, s2)
	req.Less(s2, s3)
	req.NoError(m.Stop())

	// sequence ids continue after reopening
	m = newManager(t, dir)
	defer m.Stop()
	s4, err := m.Append("r2", "t", []keyvalue.KeyValue{cell("e", 1)})
	req.NoError(err)
	req.Greater(s4, s3)

	var rows []string
	req.NoError(m.Replay("r1", s1, func(seq int64, edits []keyvalue.KeyValue) error {
		req.Equal(s3, seq)
		for _, kv := range edits {
			rows = append(rows, string(kv.Row()))
		}
		return nil
	}))
	req.Equal([]string{"d"}, rows)

	batches := 0
	req.NoError(m.Replay("r1", 0, func(int64, []keyvalue.KeyValue) error {
		batches++
		return nil
	}))
	req.Equal(2, batches)
}

func TestManager_CacheFlush(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	m := newManager(t, t.TempDir())
	defer m.Stop()

	before, err := m.Append("r1", "t", []keyvalue.KeyValue{cell("a", 1)})
	req.NoError(err)

	flushSeq := m.StartCacheFlush()
	req.Greater(flushSeq, before)

	appended := make(chan int64)
	go func() {
		seq, _ := m.Append("r1", "t", []keyvalue.KeyValue{cell("b", 1)})
		appended <- seq
	}()
	// appends are not held up by a flush in progress
	after := <-appended
	req.Greater(after, flushSeq)

	req.NoError(m.CompleteCacheFlush("r1", "t", flushSeq))

	// an aborted flush releases the flush lock too
	m.StartCacheFlush()
	m.AbortCacheFlush()
	req.NoError(m.Roll())
}

func TestManager_Roll(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	dir := t.TempDir()
	m := newManager(t, dir)

	_, err := m.Append("r1", "t", []keyvalue.KeyValue{cell("a", 1)})
	req.NoError(err)
	_, err = m.Append("r2", "t", []keyvalue.KeyValue{cell("b", 1)})
	req.NoError(err)

	seq := m.StartCacheFlush()
	req.NoError(m.CompleteCacheFlush("r1", "t", seq))
	kept, err := m.Append("r1", "t", []keyvalue.KeyValue{cell("c", 1)})
	req.NoError(err)

	req.Equal(4, lines(t, m.path))
	req.NoError(m.Roll())
	// r1's flushed edit is gone; r2's edit, the marker and r1's newer edit remain
	req.Equal(3, lines(t, m.path))

	// appends after a roll land in the new file
	_, err = m.Append("r2", "t", []keyvalue.KeyValue{cell("d", 1)})
	req.NoError(err)
	req.Equal(4, lines(t, m.path))
	req.NoError(m.Stop())

	m = newManager(t, dir)
	defer m.Stop()
	req.Equal(int64(5), m.Sequence())

	var seqs []int64
	req.NoError(m.Replay("r1", seq, func(s int64, _ []keyvalue.KeyValue) error {
		seqs = append(seqs, s)
		return nil
	}))
	req.Equal([]int64{kept}, seqs)

	// the restored flush marker keeps the next roll from resurrecting anything
	req.NoError(m.Roll())
	req.Equal(4, lines(t, m.path))
}
