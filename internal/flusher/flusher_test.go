package flusher

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/litetable/litetable-region/internal/litetable"
	"github.com/litetable/litetable-region/internal/region"
	"github.com/litetable/litetable-region/internal/wal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newRegion(t *testing.T, start, end string, threshold int) *region.Region {
	t.Helper()
	w, err := wal.New(&wal.Config{Path: t.TempDir(), RollInterval: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	table := litetable.NewTableDescriptor("users", litetable.FamilyDescriptor{Name: "info"})
	r, err := region.Open(region.Config{
		Root:                t.TempDir(),
		Info:                litetable.NewRegionInfo(table, []byte(start), []byte(end), 1),
		WAL:                 w,
		FlushSize:           1 << 30,
		BlockingMultiplier:  2,
		CompactionThreshold: threshold,
		MaxFileSize:         1 << 30,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(true) })
	return r
}

func write(t *testing.T, r *region.Region, row string, size int) {
	t.Helper()
	b := region.NewBatchUpdate([]byte(row)).Put([]byte("info:q"), []byte(strings.Repeat("x", size)))
	require.NoError(t, r.BatchUpdate(b, region.NoLock))
}

func testConfig(source RegionSource, compactions CompactionRequester) *Config {
	return &Config{
		Regions:               source,
		Compactions:           compactions,
		Workers:               2,
		WakeFrequency:         time.Hour,
		OptionalFlushInterval: time.Hour,
		GlobalUpperLimit:      1 << 30,
		GlobalLowerLimit:      1 << 29,
		OnAbort:               func(*region.Region, error) {},
	}
}

func TestConfig_validate(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		mutate  func(c *Config)
		wantErr bool
	}{
		"valid":                 {mutate: func(c *Config) {}},
		"no source":             {mutate: func(c *Config) { c.Regions = nil }, wantErr: true},
		"no compactions":        {mutate: func(c *Config) { c.Compactions = nil }, wantErr: true},
		"no workers":            {mutate: func(c *Config) { c.Workers = 0 }, wantErr: true},
		"no wake frequency":     {mutate: func(c *Config) { c.WakeFrequency = 0 }, wantErr: true},
		"no flush interval":     {mutate: func(c *Config) { c.OptionalFlushInterval = 0 }, wantErr: true},
		"lower above upper":     {mutate: func(c *Config) { c.GlobalLowerLimit = c.GlobalUpperLimit + 1 }, wantErr: true},
		"no lower limit":        {mutate: func(c *Config) { c.GlobalLowerLimit = 0 }, wantErr: true},
		"no abort hook":         {mutate: func(c *Config) { c.OnAbort = nil }, wantErr: true},
		"equal limits are fine": {mutate: func(c *Config) { c.GlobalLowerLimit = c.GlobalUpperLimit }},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			cfg := testConfig(NewMockRegionSource(ctrl), NewMockCompactionRequester(ctrl))
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

func TestRequestFlush_Dedup(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctrl := gomock.NewController(t)

	f, err := New(testConfig(NewMockRegionSource(ctrl), NewMockCompactionRequester(ctrl)))
	req.NoError(err)
	a := newRegion(t, "", "m", 3)
	b := newRegion(t, "m", "", 3)

	f.RequestFlush(a)
	f.RequestFlush(b)
	f.RequestFlush(a)
	req.Equal(2, f.QueueLength())

	f.dequeue(b)
	req.Equal(1, f.QueueLength())
	req.Same(a, f.next())
	req.Nil(f.next())

	req.NoError(f.Stop())
	f.RequestFlush(a)
	req.Zero(f.QueueLength())
}

func TestFlusher_FlushesRequestedRegions(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctrl := gomock.NewController(t)
	compactions := NewMockCompactionRequester(ctrl)

	r := newRegion(t, "", "", 1)
	compactions.EXPECT().RequestCompaction(r).Times(1)

	f, err := New(testConfig(NewMockRegionSource(ctrl), compactions))
	req.NoError(err)
	req.NoError(f.Start())

	write(t, r, "row", 10)
	f.RequestFlush(r)
	req.Eventually(func() bool { return f.Stats().Flushes == 1 }, 5*time.Second, 5*time.Millisecond)
	req.NoError(f.Stop())

	req.Zero(r.MemstoreSize())
	stats := f.Stats()
	req.Zero(stats.Failures)
	req.Positive(stats.AvgDuration)
}

func TestFlusher_StopReleasesQueuedRequests(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctrl := gomock.NewController(t)
	compactions := NewMockCompactionRequester(ctrl)
	compactions.EXPECT().RequestCompaction(gomock.Any()).AnyTimes()

	first, err := New(testConfig(NewMockRegionSource(ctrl), compactions))
	req.NoError(err)
	second, err := New(testConfig(NewMockRegionSource(ctrl), compactions))
	req.NoError(err)
	var current atomic.Pointer[Flusher]
	current.Store(first)

	w, err := wal.New(&wal.Config{Path: t.TempDir(), RollInterval: time.Hour})
	req.NoError(err)
	t.Cleanup(func() { _ = w.Stop() })
	table := litetable.NewTableDescriptor("users", litetable.FamilyDescriptor{Name: "info"})
	r, err := region.Open(region.Config{
		Root:                t.TempDir(),
		Info:                litetable.NewRegionInfo(table, nil, nil, 1),
		WAL:                 w,
		FlushSize:           64,
		BlockingMultiplier:  1 << 10,
		CompactionThreshold: 3,
		MaxFileSize:         1 << 30,
		OnFlushRequest:      func(r *region.Region) { current.Load().RequestFlush(r) },
	})
	req.NoError(err)
	t.Cleanup(func() { _ = r.Close(true) })

	// queued but never served
	write(t, r, "a", 128)
	req.Equal(1, first.QueueLength())
	req.NoError(first.Stop())
	req.Zero(first.QueueLength())

	current.Store(second)
	req.NoError(second.Start())
	defer second.Stop()
	write(t, r, "b", 128)
	req.Eventually(func() bool { return second.Stats().Flushes == 1 }, 5*time.Second, 5*time.Millisecond)
	req.Zero(r.MemstoreSize())
}

func TestFlushIdle(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctrl := gomock.NewController(t)
	source := NewMockRegionSource(ctrl)

	idle := newRegion(t, "", "m", 3)
	empty := newRegion(t, "m", "", 3)
	write(t, idle, "a", 10)
	source.EXPECT().OnlineRegions().Return([]*region.Region{idle, empty})

	cfg := testConfig(source, NewMockCompactionRequester(ctrl))
	cfg.OptionalFlushInterval = time.Millisecond
	f, err := New(cfg)
	req.NoError(err)
	defer f.Stop()

	time.Sleep(5 * time.Millisecond)
	f.flushIdle()
	req.Zero(idle.MemstoreSize())
	req.Equal(int64(1), f.Stats().Flushes)
}

func TestFlushIdle_RecentlyFlushed(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctrl := gomock.NewController(t)
	source := NewMockRegionSource(ctrl)

	r := newRegion(t, "", "", 3)
	write(t, r, "a", 10)
	source.EXPECT().OnlineRegions().Return([]*region.Region{r})

	f, err := New(testConfig(source, NewMockCompactionRequester(ctrl)))
	req.NoError(err)
	defer f.Stop()

	f.flushIdle()
	req.Positive(r.MemstoreSize())
	req.Zero(f.Stats().Flushes)
}

func TestReclaimMemory(t *testing.T) {
	t.Parallel()

	t.Run("under the upper limit", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		source := NewMockRegionSource(ctrl)
		source.EXPECT().GlobalMemstoreSize().Return(int64(10))

		f, err := New(testConfig(source, NewMockCompactionRequester(ctrl)))
		require.NoError(t, err)
		defer f.Stop()
		f.ReclaimMemory()
		require.Zero(t, f.Stats().Flushes)
	})

	t.Run("flushes the biggest regions", func(t *testing.T) {
		t.Parallel()
		req := require.New(t)
		ctrl := gomock.NewController(t)
		source := NewMockRegionSource(ctrl)

		big := newRegion(t, "", "m", 3)
		small := newRegion(t, "m", "", 3)
		write(t, big, "a", 4096)
		write(t, small, "n", 10)

		source.EXPECT().GlobalMemstoreSize().DoAndReturn(func() int64 {
			return big.MemstoreSize() + small.MemstoreSize()
		}).AnyTimes()
		source.EXPECT().OnlineRegions().DoAndReturn(func() []*region.Region {
			if small.MemstoreSize() > big.MemstoreSize() {
				return []*region.Region{small, big}
			}
			return []*region.Region{big, small}
		}).AnyTimes()

		cfg := testConfig(source, NewMockCompactionRequester(ctrl))
		cfg.GlobalLowerLimit = small.MemstoreSize()
		cfg.GlobalUpperLimit = small.MemstoreSize() + 1
		f, err := New(cfg)
		req.NoError(err)
		defer f.Stop()

		f.RequestFlush(big)
		f.ReclaimMemory()
		req.Zero(big.MemstoreSize())
		req.Positive(small.MemstoreSize())
		req.Zero(f.QueueLength())
		req.Equal(int64(1), f.Stats().Flushes)
	})
}

func TestFlusher_AbortsOnDroppedSnapshot(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctrl := gomock.NewController(t)

	r := newRegion(t, "", "", 3)
	write(t, r, "a", 10)
	req.NoError(os.RemoveAll(filepath.Join(r.Dir(), "info", "mapfiles")))

	type abort struct {
		r   *region.Region
		err error
	}
	aborted := make(chan abort, 1)
	cfg := testConfig(NewMockRegionSource(ctrl), NewMockCompactionRequester(ctrl))
	cfg.OnAbort = func(got *region.Region, err error) {
		aborted <- abort{r: got, err: err}
	}
	f, err := New(cfg)
	req.NoError(err)
	req.NoError(f.Start())
	defer f.Stop()

	f.RequestFlush(r)
	select {
	case got := <-aborted:
		req.Same(r, got.r)
		req.ErrorIs(got.err, region.ErrDroppedSnapshot)
	case <-time.After(5 * time.Second):
		req.Fail("abort hook was not called")
	}
	req.Equal(int64(1), f.Stats().Failures)

	f.RequestFlush(r)
	req.Zero(f.QueueLength())
}
