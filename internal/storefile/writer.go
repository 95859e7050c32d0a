package storefile

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/pkg/errors"
)

// Writer streams sorted cells into a new data file.
type Writer struct {
	path      string
	file      *os.File
	out       *bufio.Writer
	digest    *xxhash.Digest
	blockSize int

	block    []byte
	blockKey []byte
	offset   uint64
	index    []indexEntry
	entries  uint64
	last     keyvalue.KeyValue
}

// NewWriter creates path, failing if it already exists.
func NewWriter(path string, blockSize int) (*Writer, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "create store file %s", path)
	}
	w := &Writer{
		path:      path,
		file:      f,
		digest:    xxhash.New(),
		blockSize: blockSize,
	}
	w.out = bufio.NewWriter(io.MultiWriter(f, w.digest))
	return w, nil
}

// Path is where the file is being written.
func (w *Writer) Path() string { return w.path }

// Entries is the number of cells appended so far.
func (w *Writer) Entries() uint64 { return w.entries }

// Append adds kv, which must sort strictly after the previous cell.
func (w *Writer) Append(kv keyvalue.KeyValue) error {
	if !w.last.IsZero() && keyvalue.Compare(w.last, kv) >= 0 {
		return errors.Wrapf(ErrOutOfOrder, "%s after %s", kv, w.last)
	}
	if len(w.block) == 0 {
		w.blockKey = append([]byte(nil), kv.Key()...)
	}
	w.block = append(w.block, kv.Bytes()...)
	w.last = kv
	w.entries++
	if len(w.block) >= w.blockSize {
		return w.flushBlock()
	}
	return nil
}

func (w *Writer) flushBlock() error {
	if len(w.block) == 0 {
		return nil
	}
	if _, err := w.out.Write(w.block); err != nil {
		return errors.Wrapf(err, "write block to %s", w.path)
	}
	w.index = append(w.index, indexEntry{
		firstKey: w.blockKey,
		offset:   w.offset,
		length:   uint32(len(w.block)),
	})
	w.offset += uint64(len(w.block))
	w.block = w.block[:0]
	return nil
}

// Close writes the index and trailer and syncs the file.
func (w *Writer) Close() error {
	if err := w.flushBlock(); err != nil {
		w.file.Close()
		return err
	}

	var index []byte
	for _, e := range w.index {
		index = appendIndexEntry(index, e)
	}
	var lastKey []byte
	if !w.last.IsZero() {
		lastKey = w.last.Key()
	}
	meta := binary.BigEndian.AppendUint32(nil, uint32(len(lastKey)))
	meta = append(meta, lastKey...)

	for _, b := range [][]byte{index, meta} {
		if _, err := w.out.Write(b); err != nil {
			w.file.Close()
			return errors.Wrapf(err, "write index to %s", w.path)
		}
	}
	if err := w.out.Flush(); err != nil {
		w.file.Close()
		return errors.Wrapf(err, "flush %s", w.path)
	}

	t := trailer{
		indexOffset: w.offset,
		indexLen:    uint64(len(index)),
		metaLen:     uint32(len(meta)),
		entries:     w.entries,
		checksum:    w.digest.Sum64(),
	}
	if _, err := w.file.Write(t.encode()); err != nil {
		w.file.Close()
		return errors.Wrapf(err, "write trailer to %s", w.path)
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return errors.Wrapf(err, "sync %s", w.path)
	}
	return errors.Wrapf(w.file.Close(), "close %s", w.path)
}

// Abort closes and removes a partially written file.
func (w *Writer) Abort() {
	_ = w.file.Close()
	_ = os.Remove(w.path)
}
