package storefile

import (
	"bytes"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Range picks a half of a split parent file.
type Range int

const (
	Bottom Range = iota // rows before the split key
	Top                 // rows at or after the split key
)

func (r Range) String() string {
	if r == Top {
		return "top"
	}
	return "bottom"
}

// Reader serves reads from one data file. A reader opened through a
// reference only exposes the half of the parent file it was given.
//
// Readers are reference counted: the owner holds one reference from Open,
// iterators hold one each, and the file handle is closed when the last one
// is released.
type Reader struct {
	path    string
	file    *os.File
	cache   *BlockCache
	index   []indexEntry
	lastKey []byte
	trailer trailer
	size    int64

	half  bool
	rng   Range
	split []byte

	refs      atomic.Int32
	closeOnce sync.Once
}

// OpenReader opens a whole data file.
func OpenReader(path string, cache *BlockCache) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open store file %s", path)
	}
	r := &Reader{path: path, file: f, cache: cache}
	if err := r.load(); err != nil {
		f.Close()
		return nil, err
	}
	r.refs.Store(1)
	return r, nil
}

// OpenHalf opens the rng half of a parent data file split at row.
func OpenHalf(path string, cache *BlockCache, split []byte, rng Range) (*Reader, error) {
	r, err := OpenReader(path, cache)
	if err != nil {
		return nil, err
	}
	r.half = true
	r.rng = rng
	r.split = append([]byte(nil), split...)
	return r, nil
}

func (r *Reader) load() error {
	st, err := r.file.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", r.path)
	}
	r.size = st.Size()
	if r.size < trailerSize {
		return errors.Wrapf(ErrCorrupt, "%s is %d bytes", r.path, r.size)
	}

	buf := make([]byte, trailerSize)
	if _, err := r.file.ReadAt(buf, r.size-trailerSize); err != nil {
		return errors.Wrapf(err, "read trailer of %s", r.path)
	}
	t, err := decodeTrailer(buf)
	if err != nil {
		return errors.Wrapf(err, "trailer of %s", r.path)
	}
	tail := t.indexLen + uint64(t.metaLen)
	if t.indexOffset+tail+trailerSize != uint64(r.size) {
		return errors.Wrapf(ErrCorrupt, "%s has inconsistent section sizes", r.path)
	}

	buf = make([]byte, tail)
	if _, err := r.file.ReadAt(buf, int64(t.indexOffset)); err != nil {
		return errors.Wrapf(err, "read index of %s", r.path)
	}
	if r.index, err = decodeIndex(buf[:t.indexLen]); err != nil {
		return errors.Wrapf(err, "index of %s", r.path)
	}
	if r.lastKey, err = decodeMeta(buf[t.indexLen:]); err != nil {
		return errors.Wrapf(err, "meta of %s", r.path)
	}
	r.trailer = t
	return nil
}

// Path is the data file being read.
func (r *Reader) Path() string { return r.path }

// Acquire takes a reference, failing once the reader is fully released.
func (r *Reader) Acquire() bool {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference taken with Acquire.
func (r *Reader) Release() {
	if r.refs.Add(-1) == 0 {
		r.cache.evict(r.path, len(r.index))
		if err := r.file.Close(); err != nil {
			log.Warn().Err(err).Str("path", r.path).Msg("failed to close store file")
		}
	}
}

// Close drops the owner's reference. In-flight iterators keep the file open
// until they are closed.
func (r *Reader) Close() error {
	r.closeOnce.Do(r.Release)
	return nil
}

// Len is the number of cells, halved for a reference.
func (r *Reader) Len() uint64 {
	if r.half {
		return r.trailer.entries / 2
	}
	return r.trailer.entries
}

// Size is the file size in bytes, halved for a reference.
func (r *Reader) Size() int64 {
	if r.half {
		return r.size / 2
	}
	return r.size
}

func fromKey(key []byte) (keyvalue.KeyValue, bool) {
	if len(key) == 0 {
		return keyvalue.KeyValue{}, false
	}
	kv, err := keyvalue.FromKey(key)
	if err != nil {
		return keyvalue.KeyValue{}, false
	}
	return kv, true
}

// FirstKey is the smallest key in the file.
func (r *Reader) FirstKey() (keyvalue.KeyValue, bool) {
	if r.half {
		return r.edge(true)
	}
	if len(r.index) == 0 {
		return keyvalue.KeyValue{}, false
	}
	return fromKey(r.index[0].firstKey)
}

// LastKey is the largest key in the file.
func (r *Reader) LastKey() (keyvalue.KeyValue, bool) {
	if r.half {
		return r.edge(false)
	}
	return fromKey(r.lastKey)
}

func (r *Reader) edge(first bool) (keyvalue.KeyValue, bool) {
	it, err := r.Iterator()
	if err != nil {
		return keyvalue.KeyValue{}, false
	}
	defer it.Close()

	ok := it.First()
	if !first {
		ok = it.last()
	}
	if !ok {
		return keyvalue.KeyValue{}, false
	}
	return fromKey(append([]byte(nil), it.Item().Key()...))
}

// MidKey is the first key of the middle block, an approximation of the
// median. References report none: they must be compacted before another
// split.
func (r *Reader) MidKey() (keyvalue.KeyValue, bool) {
	if r.half || len(r.index) == 0 {
		return keyvalue.KeyValue{}, false
	}
	return fromKey(r.index[len(r.index)/2].firstKey)
}

// Verify recomputes the checksum over everything before the trailer.
func (r *Reader) Verify() error {
	d := xxhash.New()
	sec := io.NewSectionReader(r.file, 0, r.size-trailerSize)
	if _, err := io.Copy(d, sec); err != nil {
		return errors.Wrapf(err, "read %s", r.path)
	}
	if d.Sum64() != r.trailer.checksum {
		return errors.Wrapf(ErrCorrupt, "checksum mismatch in %s", r.path)
	}
	return nil
}

// GetClosest returns the cell at or after key. It never returns a cell
// before key; callers looking for "at or before" must seek backwards
// themselves.
func (r *Reader) GetClosest(key keyvalue.KeyValue) (keyvalue.KeyValue, bool, error) {
	it, err := r.Iterator()
	if err != nil {
		return keyvalue.KeyValue{}, false, err
	}
	defer it.Close()
	if !it.Seek(key) {
		return keyvalue.KeyValue{}, false, it.Err()
	}
	return it.Item(), true, nil
}

func (r *Reader) block(i int) ([]keyvalue.KeyValue, error) {
	k := blockKey{path: r.path, block: i}
	if cells, ok := r.cache.get(k); ok {
		return cells, nil
	}
	e := r.index[i]
	buf := make([]byte, e.length)
	if _, err := r.file.ReadAt(buf, int64(e.offset)); err != nil {
		return nil, errors.Wrapf(err, "read block %d of %s", i, r.path)
	}
	cells, err := decodeBlock(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "block %d of %s", i, r.path)
	}
	r.cache.add(k, cells)
	return cells, nil
}

// blockFor is the last block whose first key is at or before key.
func (r *Reader) blockFor(key []byte) int {
	i := sort.Search(len(r.index), func(i int) bool {
		return keyvalue.CompareKeys(r.index[i].firstKey, key) > 0
	})
	return i - 1
}

func (r *Reader) lower() keyvalue.KeyValue {
	if r.half && r.rng == Top {
		return keyvalue.FirstOnRow(r.split)
	}
	return keyvalue.KeyValue{}
}

func (r *Reader) upper() []byte {
	if r.half && r.rng == Bottom {
		return r.split
	}
	return nil
}

// Iterator returns a cursor holding a reference on r until closed.
func (r *Reader) Iterator() (*FileIterator, error) {
	if !r.Acquire() {
		return nil, ErrClosed
	}
	return &FileIterator{r: r, block: -1}, nil
}

// FileIterator walks the cells of one reader, honouring its half bounds.
type FileIterator struct {
	r      *Reader
	block  int
	cells  []keyvalue.KeyValue
	pos    int
	valid  bool
	err    error
	closed bool
}

func (it *FileIterator) load(block int) bool {
	if block < 0 || block >= len(it.r.index) {
		return false
	}
	cells, err := it.r.block(block)
	if err != nil {
		it.err = err
		return false
	}
	it.block = block
	it.cells = cells
	return true
}

// settle checks the current position against the half bounds.
func (it *FileIterator) settle() bool {
	if it.valid {
		if upper := it.r.upper(); upper != nil && bytes.Compare(it.Item().Row(), upper) >= 0 {
			it.valid = false
		}
	}
	return it.valid
}

func (it *FileIterator) First() bool {
	if lower := it.r.lower(); !lower.IsZero() {
		return it.Seek(lower)
	}
	it.valid = false
	if !it.load(0) {
		return false
	}
	it.pos = 0
	it.valid = len(it.cells) > 0
	return it.settle()
}

func (it *FileIterator) Seek(key keyvalue.KeyValue) bool {
	if lower := it.r.lower(); !lower.IsZero() && keyvalue.Compare(key, lower) < 0 {
		key = lower
	}
	it.valid = false
	target := key.Key()
	b := it.r.blockFor(target)
	if b < 0 {
		b = 0
	}
	if !it.load(b) {
		return false
	}
	it.pos = sort.Search(len(it.cells), func(i int) bool {
		return keyvalue.CompareKeys(it.cells[i].Key(), target) >= 0
	})
	if it.pos == len(it.cells) {
		if !it.load(b + 1) {
			return false
		}
		it.pos = 0
	}
	it.valid = it.pos < len(it.cells)
	return it.settle()
}

// SeekBefore positions on the last cell strictly before key.
func (it *FileIterator) SeekBefore(key keyvalue.KeyValue) bool {
	if upper := it.r.upper(); upper != nil {
		if bound := keyvalue.FirstOnRow(upper); keyvalue.Compare(key, bound) > 0 {
			key = bound
		}
	}
	it.valid = false
	target := key.Key()
	b := it.r.blockFor(target)
	for ; b >= 0; b-- {
		if !it.load(b) {
			return false
		}
		it.pos = sort.Search(len(it.cells), func(i int) bool {
			return keyvalue.CompareKeys(it.cells[i].Key(), target) >= 0
		}) - 1
		if it.pos >= 0 {
			it.valid = true
			break
		}
	}
	if !it.valid {
		return false
	}
	if lower := it.r.lower(); !lower.IsZero() && keyvalue.Compare(it.Item(), lower) < 0 {
		it.valid = false
	}
	return it.valid
}

func (it *FileIterator) last() bool {
	if upper := it.r.upper(); upper != nil {
		return it.SeekBefore(keyvalue.FirstOnRow(upper))
	}
	it.valid = false
	for b := len(it.r.index) - 1; b >= 0; b-- {
		if !it.load(b) {
			return false
		}
		if len(it.cells) > 0 {
			it.pos = len(it.cells) - 1
			it.valid = true
			break
		}
	}
	if it.valid {
		if lower := it.r.lower(); !lower.IsZero() && keyvalue.Compare(it.Item(), lower) < 0 {
			it.valid = false
		}
	}
	return it.valid
}

func (it *FileIterator) Next() bool {
	if !it.valid {
		return false
	}
	it.pos++
	if it.pos >= len(it.cells) {
		if !it.load(it.block + 1) {
			it.valid = false
			return false
		}
		it.pos = 0
	}
	it.valid = it.pos < len(it.cells)
	return it.settle()
}

func (it *FileIterator) Valid() bool             { return it.valid }
func (it *FileIterator) Item() keyvalue.KeyValue { return it.cells[it.pos] }
func (it *FileIterator) Err() error              { return it.err }

func (it *FileIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.valid = false
	it.r.Release()
	return nil
}
