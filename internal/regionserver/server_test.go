package regionserver

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/litetable/litetable-region/internal/catalog"
	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/litetable/litetable-region/internal/litetable"
	"github.com/litetable/litetable-region/internal/region"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(&catalog.Config{Dir: t.TempDir(), MaxRetries: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func quietFlusher(t *testing.T) *MockmemstoreFlusher {
	t.Helper()
	f := NewMockmemstoreFlusher(gomock.NewController(t))
	f.EXPECT().ReclaimMemory().AnyTimes()
	f.EXPECT().RequestFlush(gomock.Any()).AnyTimes()
	return f
}

func testConfig(root string, cat catalogStore, w region.WAL, f memstoreFlusher) *Config {
	return &Config{
		Root:     root,
		Registry: NewRegistry(),
		Catalog:  cat,
		WAL:      w,
		Flusher:  f,
		Regions: RegionSettings{
			FlushSize:           1 << 20,
			BlockingMultiplier:  2,
			CompactionThreshold: 3,
			MaxFileSize:         1 << 30,
		},
	}
}

func newServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(t.TempDir(), newCatalog(t), newWAL(t), quietFlusher(t)))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func put(t *testing.T, s *Server, row, value string) {
	t.Helper()
	b := region.NewBatchUpdate([]byte(row)).Put([]byte("info:q"), []byte(value))
	require.NoError(t, s.BatchUpdate("users", b))
}

func value(t *testing.T, s *Server, row string) string {
	t.Helper()
	kvs, err := s.Get("users", &region.Get{Kind: region.ByRow, Row: []byte(row), Versions: 1})
	require.NoError(t, err)
	if len(kvs) == 0 {
		return ""
	}
	return string(kvs[0].Value())
}

func TestConfig_validate(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		mutate  func(c *Config)
		wantErr bool
	}{
		"valid":       {mutate: func(c *Config) {}},
		"no root":     {mutate: func(c *Config) { c.Root = "" }, wantErr: true},
		"no registry": {mutate: func(c *Config) { c.Registry = nil }, wantErr: true},
		"no catalog":  {mutate: func(c *Config) { c.Catalog = nil }, wantErr: true},
		"no wal":      {mutate: func(c *Config) { c.WAL = nil }, wantErr: true},
		"no flusher":  {mutate: func(c *Config) { c.Flusher = nil }, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			cfg := testConfig("/tmp/data", NewMockcatalogStore(ctrl), region.NewMockWAL(ctrl), NewMockmemstoreFlusher(ctrl))
			tc.mutate(cfg)
			err := cfg.validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestServer_CreateTableAndRoute(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	s := newServer(t)

	r, err := s.CreateTable(users)
	req.NoError(err)
	req.Empty(r.StartKey())
	req.Empty(r.EndKey())
	_, err = s.CreateTable(users)
	req.ErrorIs(err, ErrTableExists)
	_, err = s.CreateTable(litetable.TableDescriptor{Name: "bad"})
	req.ErrorIs(err, litetable.ErrNoFamilies)

	put(t, s, "alice", "a@example.com")
	req.Equal("a@example.com", value(t, s, "alice"))
	req.Equal("", value(t, s, "bob"))

	sc, err := s.Scanner("users", nil, nil, keyvalue.LatestTimestamp, nil)
	req.NoError(err)
	row, cells, err := sc.Next()
	req.NoError(err)
	req.Equal("alice", string(row))
	req.Len(cells, 1)
	req.NoError(sc.Close())

	err = s.BatchUpdate("orders", region.NewBatchUpdate([]byte("a")).Put([]byte("info:q"), nil))
	req.ErrorIs(err, ErrRegionNotFound)
	_, err = s.Get("orders", &region.Get{Kind: region.ByRow, Row: []byte("a")})
	req.ErrorIs(err, ErrRegionNotFound)
}

func TestServer_CreateTable_CatalogFailure(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctrl := gomock.NewController(t)
	cat := NewMockcatalogStore(ctrl)
	cat.EXPECT().Regions().Return(nil, nil)
	cat.EXPECT().AddRegion(gomock.Any()).Return(errors.New("catalog unavailable"))

	cfg := testConfig(t.TempDir(), cat, newWAL(t), quietFlusher(t))
	s, err := New(cfg)
	req.NoError(err)

	_, err = s.CreateTable(users)
	req.Error(err)
	req.Zero(cfg.Registry.Len())
}

func TestServer_Restart(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	root := t.TempDir()
	cat := newCatalog(t)
	w := newWAL(t)

	s, err := New(testConfig(root, cat, w, quietFlusher(t)))
	req.NoError(err)
	req.NoError(s.Start())
	_, err = s.CreateTable(users)
	req.NoError(err)
	put(t, s, "alice", "v1")
	req.NoError(s.Stop())

	cfg := testConfig(root, cat, w, quietFlusher(t))
	s, err = New(cfg)
	req.NoError(err)
	req.NoError(s.Start())
	defer s.Stop()
	req.Equal(1, cfg.Registry.Len())
	req.Equal("v1", value(t, s, "alice"))
}

func TestServer_MergeRegions(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	root := t.TempDir()
	cat := newCatalog(t)
	cfg := testConfig(root, cat, newWAL(t), quietFlusher(t))
	s, err := New(cfg)
	req.NoError(err)
	req.NoError(s.Start())
	defer s.Stop()

	parent, err := s.CreateTable(users)
	req.NoError(err)
	for _, row := range []string{"a", "c", "n", "x"} {
		put(t, s, row, row)
	}
	_, err = parent.FlushCache()
	req.NoError(err)
	lower, upper, err := parent.SplitRegion([]byte("m"))
	req.NoError(err)
	req.NoError(cat.CommitSplit(parent.Info(), lower.Info(), upper.Info()))
	cfg.Registry.ReplaceRegion(parent, lower, upper)
	req.Equal("c", value(t, s, "c"))
	req.Equal("n", value(t, s, "n"))

	_, err = s.MergeRegions(lower.EncodedName(), "missing")
	req.ErrorIs(err, ErrRegionNotFound)

	merged, err := s.MergeRegions(lower.EncodedName(), upper.EncodedName())
	req.NoError(err)
	req.Equal(1, cfg.Registry.Len())
	for _, row := range []string{"a", "c", "n", "x"} {
		req.Equal(row, value(t, s, row))
	}

	online, err := cat.Online()
	req.NoError(err)
	req.Len(online, 1)
	req.Equal(merged.Name(), online[0].Name())
}

// unreadableLog fails the next replay once armed.
type unreadableLog struct {
	region.WAL
	armed atomic.Bool
}

func (l *unreadableLog) Replay(name string, after int64, fn func(int64, []keyvalue.KeyValue) error) error {
	if l.armed.CompareAndSwap(true, false) {
		return errors.New("log unreadable")
	}
	return l.WAL.Replay(name, after, fn)
}

func TestServer_MergeRegions_Aborted(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	root := t.TempDir()
	cat := newCatalog(t)
	w := &unreadableLog{WAL: newWAL(t)}
	cfg := testConfig(root, cat, w, quietFlusher(t))
	s, err := New(cfg)
	req.NoError(err)
	req.NoError(s.Start())
	defer s.Stop()

	parent, err := s.CreateTable(users)
	req.NoError(err)
	for _, row := range []string{"a", "c", "n", "x"} {
		put(t, s, row, row)
	}
	_, err = parent.FlushCache()
	req.NoError(err)
	lower, upper, err := parent.SplitRegion([]byte("m"))
	req.NoError(err)
	req.NoError(cat.CommitSplit(parent.Info(), lower.Info(), upper.Info()))
	cfg.Registry.ReplaceRegion(parent, lower, upper)

	w.armed.Store(true)
	merged, err := s.MergeRegions(lower.EncodedName(), upper.EncodedName())
	req.ErrorIs(err, region.ErrMergeAborted)
	req.Nil(merged)
	req.Equal(2, cfg.Registry.Len())
	for _, row := range []string{"a", "c", "n", "x"} {
		req.Equal(row, value(t, s, row))
	}

	online, err := cat.Online()
	req.NoError(err)
	req.Len(online, 2)
}

func TestServer_Abort(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	s := newServer(t)

	r, err := s.CreateTable(users)
	req.NoError(err)
	put(t, s, "alice", "v1")

	s.Abort(r, region.ErrDroppedSnapshot)
	s.Abort(r, region.ErrDroppedSnapshot)
	req.True(r.IsClosed())
	req.Zero(s.registry.Len())

	err = s.BatchUpdate("users", region.NewBatchUpdate([]byte("a")).Put([]byte("info:q"), nil))
	req.ErrorIs(err, ErrAborted)
	req.NoError(s.Stop())
}
