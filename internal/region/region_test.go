package region

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/litetable/litetable-region/internal/litetable"
	"github.com/litetable/litetable-region/internal/wal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testTable() litetable.TableDescriptor {
	return litetable.NewTableDescriptor("users",
		litetable.FamilyDescriptor{Name: "info", MaxVersions: 3},
		litetable.FamilyDescriptor{Name: "meta", MaxVersions: 1},
	)
}

func newWAL(t *testing.T) *wal.Manager {
	t.Helper()
	m, err := wal.New(&wal.Config{Path: t.TempDir(), RollInterval: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func testConfig(root string, w WAL, start, end string) Config {
	return Config{
		Root:                root,
		Info:                litetable.NewRegionInfo(testTable(), []byte(start), []byte(end), 1),
		WAL:                 w,
		FlushSize:           1 << 20,
		BlockingMultiplier:  2,
		CompactionThreshold: 3,
		MaxFileSize:         1 << 30,
	}
}

func openRegion(t *testing.T, cfg Config) *Region {
	t.Helper()
	r, err := Open(cfg)
	require.NoError(t, err)
	return r
}

func newRegion(t *testing.T) *Region {
	t.Helper()
	r := openRegion(t, testConfig(t.TempDir(), newWAL(t), "", ""))
	t.Cleanup(func() { _ = r.Close(true) })
	return r
}

func put(t *testing.T, r *Region, row, column, value string, ts int64) {
	t.Helper()
	b := NewBatchUpdate([]byte(row)).SetTimestamp(ts).Put([]byte(column), []byte(value))
	require.NoError(t, r.BatchUpdate(b, NoLock))
}

func cellValues(cells []keyvalue.Cell) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = string(c.Value)
	}
	return out
}

func latest(t *testing.T, r *Region, row, column string) []string {
	t.Helper()
	cells, err := r.Get([]byte(row), []byte(column), keyvalue.LatestTimestamp, 3)
	require.NoError(t, err)
	return cellValues(cells)
}

func TestConfig_validate(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		cfg     func() Config
		wantErr bool
	}{
		"valid": {
			cfg:     func() Config { return testConfig("/tmp/x", NewMockWAL(nil), "", "") },
			wantErr: false,
		},
		"missing everything": {
			cfg:     func() Config { return Config{} },
			wantErr: true,
		},
		"table without families": {
			cfg: func() Config {
				c := testConfig("/tmp/x", NewMockWAL(nil), "", "")
				c.Info = litetable.NewRegionInfo(litetable.NewTableDescriptor("t"), nil, nil, 1)
				return c
			},
			wantErr: true,
		},
		"zero flush size": {
			cfg: func() Config {
				c := testConfig("/tmp/x", NewMockWAL(nil), "", "")
				c.FlushSize = 0
				return c
			},
			wantErr: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := tc.cfg()
			err := cfg.validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCreate_ExistingDirectory(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	cfg := testConfig(t.TempDir(), newWAL(t), "", "")
	r, err := Create(cfg)
	req.NoError(err)
	req.NoError(r.Close(false))

	_, err = Create(cfg)
	req.Error(err)
}

func TestBatchUpdate(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	r := newRegion(t)

	b := NewBatchUpdate([]byte("row")).SetTimestamp(10).
		Put([]byte("info:name"), []byte("ada")).
		Put([]byte("meta:tag"), []byte("x"))
	req.NoError(r.BatchUpdate(b, NoLock))
	req.Greater(r.MemstoreSize(), int64(0))

	req.Equal([]string{"ada"}, latest(t, r, "row", "info:name"))
	req.Equal([]string{"x"}, latest(t, r, "row", "meta:tag"))

	full, err := r.GetFull([]byte("row"), nil, keyvalue.LatestTimestamp, NoLock)
	req.NoError(err)
	req.Equal(map[string]keyvalue.Cell{
		"info:name": {Value: []byte("ada"), Timestamp: 10},
		"meta:tag":  {Value: []byte("x"), Timestamp: 10},
	}, full)

	full, err = r.GetFull([]byte("row"), [][]byte{[]byte("meta:")}, keyvalue.LatestTimestamp, NoLock)
	req.NoError(err)
	req.Len(full, 1)
	req.Contains(full, "meta:tag")

	// without an explicit timestamp the commit time is now
	before := keyvalue.Now()
	req.NoError(r.BatchUpdate(NewBatchUpdate([]byte("row")).Put([]byte("info:name"), []byte("grace")), NoLock))
	cells, err := r.Get([]byte("row"), []byte("info:name"), keyvalue.LatestTimestamp, 1)
	req.NoError(err)
	req.Equal("grace", string(cells[0].Value))
	req.GreaterOrEqual(cells[0].Timestamp, before)
}

func TestBatchUpdate_Validation(t *testing.T) {
	t.Parallel()
	r := openRegion(t, testConfig(t.TempDir(), newWAL(t), "b", "m"))
	t.Cleanup(func() { _ = r.Close(true) })

	tests := map[string]struct {
		row    string
		column string
		want   error
	}{
		"row before start": {row: "a", column: "info:q", want: ErrWrongRegion},
		"row at end":       {row: "m", column: "info:q", want: ErrWrongRegion},
		"empty row":        {row: "", column: "info:q", want: keyvalue.ErrEmptyRow},
		"no delimiter":     {row: "c", column: "info", want: ErrInvalidColumn},
		"unknown family":   {row: "c", column: "nope:q", want: ErrNoSuchFamily},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			b := NewBatchUpdate([]byte(tc.row)).Put([]byte(tc.column), []byte("v"))
			err := r.BatchUpdate(b, NoLock)
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, KindValidation, Classify(err))
		})
	}
	require.Zero(t, r.MemstoreSize())
}

func TestBatchUpdate_ReadOnly(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	r := newRegion(t)

	r.SetReadOnly(true)
	err := r.BatchUpdate(NewBatchUpdate([]byte("a")).Put([]byte("info:q"), []byte("v")), NoLock)
	req.ErrorIs(err, ErrReadOnly)

	r.SetReadOnly(false)
	req.NoError(r.BatchUpdate(NewBatchUpdate([]byte("a")).Put([]byte("info:q"), []byte("v")), NoLock))
}

func TestBatchUpdate_WALFailureLeavesNothingVisible(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctrl := gomock.NewController(t)
	mockWAL := NewMockWAL(ctrl)

	mockWAL.EXPECT().Replay(gomock.Any(), int64(-1), gomock.Any()).Return(nil).Times(1)
	mockWAL.EXPECT().Append(gomock.Any(), "users", gomock.Any()).Return(int64(0), errors.New("disk full")).Times(1)

	r := openRegion(t, testConfig(t.TempDir(), mockWAL, "", ""))
	defer r.Close(true)

	err := r.BatchUpdate(NewBatchUpdate([]byte("a")).Put([]byte("info:q"), []byte("v")), NoLock)
	req.Error(err)
	req.Equal(KindRetryable, Classify(err))
	req.Empty(latest(t, r, "a", "info:q"))
	req.Zero(r.MemstoreSize())
}

func TestDeletes(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		del       func(r *Region) error
		wantName  []string
		wantEmail []string
		wantTag   []string
	}{
		"batch delete at latest removes the newest version": {
			del: func(r *Region) error {
				return r.BatchUpdate(NewBatchUpdate([]byte("row")).Delete([]byte("info:name")), NoLock)
			},
			wantName:  []string{"v1"},
			wantEmail: []string{"e"},
			wantTag:   []string{"t"},
		},
		"batch delete at a timestamp removes that version": {
			del: func(r *Region) error {
				return r.BatchUpdate(NewBatchUpdate([]byte("row")).SetTimestamp(1).Delete([]byte("info:name")), NoLock)
			},
			wantName:  []string{"v2"},
			wantEmail: []string{"e"},
			wantTag:   []string{"t"},
		},
		"delete all of a column": {
			del: func(r *Region) error {
				return r.DeleteAll([]byte("row"), []byte("info:name"), keyvalue.LatestTimestamp, NoLock)
			},
			wantName:  []string{},
			wantEmail: []string{"e"},
			wantTag:   []string{"t"},
		},
		"delete all of a column up to a timestamp": {
			del: func(r *Region) error {
				return r.DeleteAll([]byte("row"), []byte("info:name"), 1, NoLock)
			},
			wantName:  []string{"v2"},
			wantEmail: []string{"e"},
			wantTag:   []string{"t"},
		},
		"delete a family": {
			del: func(r *Region) error {
				return r.DeleteFamily([]byte("row"), []byte("info:"), keyvalue.LatestTimestamp, NoLock)
			},
			wantName:  []string{},
			wantEmail: []string{},
			wantTag:   []string{"t"},
		},
		"delete a row": {
			del: func(r *Region) error {
				return r.DeleteAllRow([]byte("row"), keyvalue.LatestTimestamp, NoLock)
			},
			wantName:  []string{},
			wantEmail: []string{},
			wantTag:   []string{},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			req := require.New(t)
			r := newRegion(t)

			put(t, r, "row", "info:name", "v1", 1)
			put(t, r, "row", "info:name", "v2", 2)
			put(t, r, "row", "info:email", "e", 2)
			put(t, r, "row", "meta:tag", "t", 2)

			req.NoError(tc.del(r))
			req.Equal(tc.wantName, latest(t, r, "row", "info:name"))
			req.Equal(tc.wantEmail, latest(t, r, "row", "info:email"))
			req.Equal(tc.wantTag, latest(t, r, "row", "meta:tag"))

			// the outcome survives a flush
			_, err := r.FlushCache()
			req.NoError(err)
			req.Equal(tc.wantName, latest(t, r, "row", "info:name"))
		})
	}
}

func TestDeleteFamily_Unknown(t *testing.T) {
	t.Parallel()
	r := newRegion(t)
	err := r.DeleteFamily([]byte("row"), []byte("nope"), keyvalue.LatestTimestamp, NoLock)
	require.ErrorIs(t, err, ErrNoSuchFamily)
}

func TestRowLocks(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	r := newRegion(t)

	id, err := r.ObtainRowLock([]byte("a"))
	req.NoError(err)

	acquired := make(chan LockID, 1)
	go func() {
		next, err := r.ObtainRowLock([]byte("a"))
		if err == nil {
			acquired <- next
		}
	}()
	select {
	case <-acquired:
		t.Fatal("second lock on the same row was granted")
	case <-time.After(50 * time.Millisecond):
	}

	// a different row is not held up
	other, err := r.ObtainRowLock([]byte("b"))
	req.NoError(err)
	req.NoError(r.ReleaseRowLock(other))

	req.NoError(r.BatchUpdate(NewBatchUpdate([]byte("a")).SetTimestamp(1).Put([]byte("info:q"), []byte("v")), id))
	err = r.BatchUpdate(NewBatchUpdate([]byte("b")).Put([]byte("info:q"), []byte("v")), id)
	req.ErrorIs(err, ErrInvalidLock)

	req.NoError(r.ReleaseRowLock(id))
	var next LockID
	select {
	case next = <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken")
	}
	req.NotEqual(id, next)
	req.NoError(r.ReleaseRowLock(next))
	req.ErrorIs(r.ReleaseRowLock(next), ErrInvalidLock)
	req.Equal([]string{"v"}, latest(t, r, "a", "info:q"))
}

func TestCheckResources_BlocksUntilFlush(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	requested := make(chan struct{}, 1)
	cfg := testConfig(t.TempDir(), newWAL(t), "", "")
	cfg.FlushSize = 1 << 10
	cfg.BlockingMultiplier = 1
	cfg.OnFlushRequest = func(*Region) {
		select {
		case requested <- struct{}{}:
		default:
		}
	}
	r := openRegion(t, cfg)
	defer r.Close(true)

	put(t, r, "a", "info:q", strings.Repeat("v", 4<<10), 1)
	select {
	case <-requested:
	case <-time.After(5 * time.Second):
		t.Fatal("flush was not requested")
	}

	rows := []string{"b", "c", "d"}
	done := make(chan error, len(rows))
	for _, row := range rows {
		go func() {
			done <- r.BatchUpdate(NewBatchUpdate([]byte(row)).SetTimestamp(1).Put([]byte("info:q"), []byte("v")), NoLock)
		}()
	}
	select {
	case <-done:
		t.Fatal("writer was not blocked")
	case <-time.After(50 * time.Millisecond):
	}

	// One flush releases every blocked writer.
	_, err := r.FlushCache()
	req.NoError(err)
	for range rows {
		select {
		case err := <-done:
			req.NoError(err)
		case <-time.After(5 * time.Second):
			t.Fatal("writer was not released by the flush")
		}
	}
	for _, row := range rows {
		req.Equal([]string{"v"}, latest(t, r, row, "info:q"))
	}
}

func TestFlushCache(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	root := t.TempDir()
	w := newWAL(t)
	cfg := testConfig(root, w, "", "")
	r := openRegion(t, cfg)

	compact, err := r.FlushCache()
	req.NoError(err)
	req.False(compact)

	before := r.LastFlushTime()
	put(t, r, "a", "info:q", "v1", 1)
	_, err = r.FlushCache()
	req.NoError(err)
	req.Zero(r.MemstoreSize())
	req.False(r.LastFlushTime().Before(before))
	req.Greater(r.LargestStoreSize(), int64(0))
	req.Equal([]string{"v1"}, latest(t, r, "a", "info:q"))

	put(t, r, "a", "info:q", "v2", 2)
	put(t, r, "b", "info:q", "v3", 2)
	_, err = r.FlushCache()
	req.NoError(err)
	put(t, r, "c", "info:q", "v4", 2)
	compact, err = r.FlushCache()
	req.NoError(err)
	req.True(compact)

	put(t, r, "d", "meta:tag", "t", 3)
	req.NoError(r.Close(false))
	req.True(r.IsClosed())

	r = openRegion(t, cfg)
	defer r.Close(true)
	req.Zero(r.MemstoreSize())
	req.Equal([]string{"v2", "v1"}, latest(t, r, "a", "info:q"))
	req.Equal([]string{"t"}, latest(t, r, "d", "meta:tag"))
}

func TestOpen_ReplaysLog(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	cfg := testConfig(t.TempDir(), newWAL(t), "", "")
	r := openRegion(t, cfg)
	put(t, r, "a", "info:q", "flushed", 1)
	_, err := r.FlushCache()
	req.NoError(err)
	put(t, r, "b", "info:q", "logged", 2)
	put(t, r, "b", "meta:tag", "logged", 2)
	req.NoError(r.Close(true))

	r = openRegion(t, cfg)
	defer r.Close(true)
	req.Greater(r.MemstoreSize(), int64(0))
	req.Equal([]string{"flushed"}, latest(t, r, "a", "info:q"))
	req.Equal([]string{"logged"}, latest(t, r, "b", "info:q"))
	req.Equal([]string{"logged"}, latest(t, r, "b", "meta:tag"))
}

func TestFlushCache_DroppedSnapshot(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctrl := gomock.NewController(t)
	mockWAL := NewMockWAL(ctrl)

	gomock.InOrder(
		mockWAL.EXPECT().Replay(gomock.Any(), int64(-1), gomock.Any()).Return(nil),
		mockWAL.EXPECT().Append(gomock.Any(), "users", gomock.Any()).Return(int64(1), nil),
		mockWAL.EXPECT().StartCacheFlush().Return(int64(2)),
		mockWAL.EXPECT().AbortCacheFlush(),
	)

	r := openRegion(t, testConfig(t.TempDir(), mockWAL, "", ""))
	defer r.Close(true)
	put(t, r, "a", "info:q", "v", 1)

	req.NoError(os.RemoveAll(filepath.Join(r.Dir(), "info", "mapfiles")))
	_, err := r.FlushCache()
	req.ErrorIs(err, ErrDroppedSnapshot)
	req.Equal(KindFatal, Classify(err))
}

func TestFlushCache_CompleteFailureReleasesMemstore(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctrl := gomock.NewController(t)
	mockWAL := NewMockWAL(ctrl)

	gomock.InOrder(
		mockWAL.EXPECT().Replay(gomock.Any(), int64(-1), gomock.Any()).Return(nil),
		mockWAL.EXPECT().Append(gomock.Any(), "users", gomock.Any()).Return(int64(1), nil),
		mockWAL.EXPECT().StartCacheFlush().Return(int64(2)),
		mockWAL.EXPECT().CompleteCacheFlush(gomock.Any(), "users", int64(2)).Return(errors.New("disk full")),
		mockWAL.EXPECT().Append(gomock.Any(), "users", gomock.Any()).Return(int64(3), nil),
		mockWAL.EXPECT().StartCacheFlush().Return(int64(4)),
		mockWAL.EXPECT().CompleteCacheFlush(gomock.Any(), "users", int64(4)).Return(nil),
	)

	r := openRegion(t, testConfig(t.TempDir(), mockWAL, "", ""))
	defer r.Close(true)

	put(t, r, "a", "info:q", "v1", 1)
	req.Positive(r.MemstoreSize())
	_, err := r.FlushCache()
	req.ErrorContains(err, "disk full")
	req.Equal(KindRetryable, Classify(err))
	req.Zero(r.MemstoreSize())
	req.Equal([]string{"v1"}, latest(t, r, "a", "info:q"))

	put(t, r, "b", "info:q", "v2", 1)
	_, err = r.FlushCache()
	req.NoError(err)
	req.Zero(r.MemstoreSize())
	req.Equal([]string{"v2"}, latest(t, r, "b", "info:q"))
}

func TestClose(t *testing.T) {
	t.Parallel()

	t.Run("rejects operations once closed", func(t *testing.T) {
		t.Parallel()
		req := require.New(t)
		r := openRegion(t, testConfig(t.TempDir(), newWAL(t), "", ""))
		req.NoError(r.Close(false))

		err := r.BatchUpdate(NewBatchUpdate([]byte("a")).Put([]byte("info:q"), []byte("v")), NoLock)
		req.ErrorIs(err, ErrNotServing)
		req.Equal(KindNotServing, Classify(err))
		_, err = r.Get([]byte("a"), []byte("info:q"), keyvalue.LatestTimestamp, 1)
		req.ErrorIs(err, ErrNotServing)
		_, err = r.GetScanner(nil, nil, keyvalue.LatestTimestamp, nil)
		req.ErrorIs(err, ErrNotServing)
		_, err = r.ObtainRowLock([]byte("a"))
		req.ErrorIs(err, ErrNotServing)
		req.ErrorIs(r.Close(false), ErrNotServing)
	})

	t.Run("waits for row locks", func(t *testing.T) {
		t.Parallel()
		req := require.New(t)
		r := openRegion(t, testConfig(t.TempDir(), newWAL(t), "", ""))
		id, err := r.ObtainRowLock([]byte("a"))
		req.NoError(err)

		done := make(chan error, 1)
		go func() { done <- r.Close(false) }()
		select {
		case <-done:
			t.Fatal("close did not wait for the row lock")
		case <-time.After(50 * time.Millisecond):
		}
		req.True(r.IsClosing())
		req.False(r.IsClosed())

		req.NoError(r.ReleaseRowLock(id))
		select {
		case err := <-done:
			req.NoError(err)
		case <-time.After(5 * time.Second):
			t.Fatal("close did not finish")
		}
		req.True(r.IsClosed())
	})

	t.Run("waits for scanners", func(t *testing.T) {
		t.Parallel()
		req := require.New(t)
		r := openRegion(t, testConfig(t.TempDir(), newWAL(t), "", ""))
		put(t, r, "a", "info:q", "v", 1)
		sc, err := r.GetScanner(nil, nil, keyvalue.LatestTimestamp, nil)
		req.NoError(err)

		done := make(chan error, 1)
		go func() { done <- r.Close(false) }()
		select {
		case <-done:
			t.Fatal("close did not wait for the scanner")
		case <-time.After(50 * time.Millisecond):
		}

		row, _, err := sc.Next()
		req.NoError(err)
		req.Equal("a", string(row))
		req.NoError(sc.Close())
		req.NoError(sc.Close())
		select {
		case err := <-done:
			req.NoError(err)
		case <-time.After(5 * time.Second):
			t.Fatal("close did not finish")
		}
	})

	t.Run("scanners racing close", func(t *testing.T) {
		t.Parallel()
		req := require.New(t)
		r := openRegion(t, testConfig(t.TempDir(), newWAL(t), "", ""))
		put(t, r, "a", "info:q", "v", 1)

		errs := make(chan error, 8)
		for range 8 {
			go func() {
				for {
					sc, err := r.GetScanner(nil, nil, keyvalue.LatestTimestamp, nil)
					if err != nil {
						if errors.Is(err, ErrNotServing) {
							err = nil
						}
						errs <- err
						return
					}
					_, _, err = sc.Next()
					_ = sc.Close()
					if err != nil {
						errs <- err
						return
					}
				}
			}()
		}
		time.Sleep(10 * time.Millisecond)
		req.NoError(r.Close(false))
		for range 8 {
			req.NoError(<-errs)
		}
		r.scannerMu.Lock()
		defer r.scannerMu.Unlock()
		req.Zero(r.activeScanners)
	})
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "dropped snapshot", err: newError(ErrDroppedSnapshot, "x"), want: KindFatal},
		{name: "not serving", err: newError(ErrNotServing, "x"), want: KindNotServing},
		{name: "wrong region", err: newError(ErrWrongRegion, "x"), want: KindValidation},
		{name: "bad column", err: keyvalue.ErrMissingDivider, want: KindValidation},
		{name: "io", err: os.ErrPermission, want: KindRetryable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Classify(tc.err))
			require.NotEmpty(t, tc.want.String())
		})
	}
}

func Test_newError(t *testing.T) {
	req := require.New(t)
	err := newError(ErrWrongRegion, "row %q", "z")
	req.ErrorIs(err, ErrWrongRegion)
	req.Equal(`row outside region: row "z"`, err.Error())
}
