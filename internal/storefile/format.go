package storefile

import (
	"encoding/binary"

	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/pkg/errors"
)

// A data file is laid out as
//
//	[block]...[block][index][meta][trailer]
//
// Blocks are runs of encoded cells. The index holds one entry per block:
// [keyLen:4][first key][offset:8][length:4]. Meta holds the last key as
// [keyLen:4][key]. The trailer has a fixed size.
const (
	magic = uint64(0x4c5452454749304e) // "LTREGI0N"

	trailerSize = 8 + 8 + 4 + 8 + 8 + 8

	DefaultBlockSize = 64 * 1024
)

var (
	ErrOutOfOrder = errors.New("storefile: cells appended out of order")
	ErrCorrupt    = errors.New("storefile: corrupt file")
	ErrClosed     = errors.New("storefile: reader closed")
)

type trailer struct {
	indexOffset uint64
	indexLen    uint64
	metaLen     uint32
	entries     uint64
	checksum    uint64
}

func (t trailer) encode() []byte {
	buf := make([]byte, trailerSize)
	binary.BigEndian.PutUint64(buf[0:], t.indexOffset)
	binary.BigEndian.PutUint64(buf[8:], t.indexLen)
	binary.BigEndian.PutUint32(buf[16:], t.metaLen)
	binary.BigEndian.PutUint64(buf[20:], t.entries)
	binary.BigEndian.PutUint64(buf[28:], t.checksum)
	binary.BigEndian.PutUint64(buf[36:], magic)
	return buf
}

func decodeTrailer(buf []byte) (trailer, error) {
	if len(buf) != trailerSize || binary.BigEndian.Uint64(buf[36:]) != magic {
		return trailer{}, ErrCorrupt
	}
	return trailer{
		indexOffset: binary.BigEndian.Uint64(buf[0:]),
		indexLen:    binary.BigEndian.Uint64(buf[8:]),
		metaLen:     binary.BigEndian.Uint32(buf[16:]),
		entries:     binary.BigEndian.Uint64(buf[20:]),
		checksum:    binary.BigEndian.Uint64(buf[28:]),
	}, nil
}

type indexEntry struct {
	firstKey []byte
	offset   uint64
	length   uint32
}

func appendIndexEntry(dst []byte, e indexEntry) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(e.firstKey)))
	dst = append(dst, e.firstKey...)
	dst = binary.BigEndian.AppendUint64(dst, e.offset)
	return binary.BigEndian.AppendUint32(dst, e.length)
}

func decodeIndex(buf []byte) ([]indexEntry, error) {
	var out []indexEntry
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, ErrCorrupt
		}
		n := int(binary.BigEndian.Uint32(buf))
		buf = buf[4:]
		if len(buf) < n+12 {
			return nil, ErrCorrupt
		}
		out = append(out, indexEntry{
			firstKey: buf[:n:n],
			offset:   binary.BigEndian.Uint64(buf[n:]),
			length:   binary.BigEndian.Uint32(buf[n+8:]),
		})
		buf = buf[n+12:]
	}
	return out, nil
}

func decodeMeta(buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, ErrCorrupt
	}
	n := int(binary.BigEndian.Uint32(buf))
	if len(buf) != n+4 {
		return nil, ErrCorrupt
	}
	return buf[4:], nil
}

func decodeBlock(buf []byte) ([]keyvalue.KeyValue, error) {
	var out []keyvalue.KeyValue
	for len(buf) > 0 {
		kv, n, err := keyvalue.DecodeFrom(buf)
		if err != nil {
			return nil, errors.Wrap(ErrCorrupt, err.Error())
		}
		out = append(out, kv)
		buf = buf[n:]
	}
	return out, nil
}
