package keyvalue

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Type is the kind of cell a KeyValue carries. Higher codes sort first when
// row, column and timestamp are equal, so tombstones precede the puts they mask.
type Type byte

const (
	// typeMinimum sorts after every real type; used for seek keys only.
	typeMinimum  Type = 0
	Put          Type = 4
	Delete       Type = 8
	DeleteColumn Type = 12
	DeleteFamily Type = 14
	// typeMaximum sorts before every real type; used for seek keys only.
	typeMaximum Type = 255
)

func (t Type) String() string {
	switch t {
	case Put:
		return "Put"
	case Delete:
		return "Delete"
	case DeleteColumn:
		return "DeleteColumn"
	case DeleteFamily:
		return "DeleteFamily"
	case typeMaximum:
		return "Maximum"
	case typeMinimum:
		return "Minimum"
	}
	return fmt.Sprintf("Unknown(%d)", byte(t))
}

// IsDelete reports whether t is one of the tombstone types.
func (t Type) IsDelete() bool {
	return t == Delete || t == DeleteColumn || t == DeleteFamily
}

const (
	// LatestTimestamp asks for the newest version, or "now" on writes.
	LatestTimestamp int64 = math.MaxInt64

	MaxRowLength    = math.MaxUint16
	MaxFamilyLength = math.MaxUint8

	keyLenSize        = 4
	valueLenSize      = 4
	rowLenSize        = 2
	familyLenSize     = 1
	timestampSize     = 8
	typeSize          = 1
	timestampTypeSize = timestampSize + typeSize

	// keyOffset is where the key starts inside the encoded buffer.
	keyOffset = keyLenSize + valueLenSize
	// keyInfrastructureSize is the fixed part of every key.
	keyInfrastructureSize = rowLenSize + familyLenSize + timestampTypeSize

	// heapOverhead approximates the per entry bookkeeping of a slice backed value.
	heapOverhead = 48
)

var (
	ErrTruncated      = errors.New("keyvalue: buffer truncated")
	ErrMalformed      = errors.New("keyvalue: malformed key")
	ErrRowTooLong     = errors.New("keyvalue: row too long")
	ErrFamilyTooLong  = errors.New("keyvalue: family too long")
	ErrEmptyRow       = errors.New("keyvalue: empty row")
	ErrMissingDivider = errors.New("keyvalue: column is missing the family delimiter")
)

// KeyValue is a single cell packed into one buffer:
//
//	[keyLen:4][valueLen:4][rowLen:2][row][famLen:1][family][qualifier][timestamp:8][type:1][value]
//
// The qualifier length is not stored; it is whatever remains of keyLen once
// the row, family and fixed fields are accounted for.
type KeyValue struct {
	buf []byte
}

// New encodes a cell. Row and family lengths must already be validated with
// Validate; oversized inputs are truncated by the length prefixes.
func New(row, family, qualifier []byte, ts int64, typ Type, value []byte) KeyValue {
	keyLen := keyInfrastructureSize + len(row) + len(family) + len(qualifier)
	buf := make([]byte, keyOffset+keyLen+len(value))

	binary.BigEndian.PutUint32(buf[0:], uint32(keyLen))
	binary.BigEndian.PutUint32(buf[keyLenSize:], uint32(len(value)))

	pos := keyOffset
	binary.BigEndian.PutUint16(buf[pos:], uint16(len(row)))
	pos += rowLenSize
	pos += copy(buf[pos:], row)
	buf[pos] = byte(len(family))
	pos += familyLenSize
	pos += copy(buf[pos:], family)
	pos += copy(buf[pos:], qualifier)
	binary.BigEndian.PutUint64(buf[pos:], uint64(ts))
	pos += timestampSize
	buf[pos] = byte(typ)
	pos += typeSize
	copy(buf[pos:], value)

	return KeyValue{buf: buf}
}

// Validate checks that row and family fit their length prefixes.
func Validate(row, family []byte) error {
	if len(row) == 0 {
		return ErrEmptyRow
	}
	if len(row) > MaxRowLength {
		return ErrRowTooLong
	}
	if len(family) > MaxFamilyLength {
		return ErrFamilyTooLong
	}
	return nil
}

// Decode parses exactly one encoded cell. The buffer is retained, not copied.
func Decode(buf []byte) (KeyValue, error) {
	kv, n, err := DecodeFrom(buf)
	if err != nil {
		return KeyValue{}, err
	}
	if n != len(buf) {
		return KeyValue{}, ErrMalformed
	}
	return kv, nil
}

// DecodeFrom parses the cell at the front of buf and returns how many bytes it used.
func DecodeFrom(buf []byte) (KeyValue, int, error) {
	if len(buf) < keyOffset {
		return KeyValue{}, 0, ErrTruncated
	}
	keyLen := int(binary.BigEndian.Uint32(buf[0:]))
	valueLen := int(binary.BigEndian.Uint32(buf[keyLenSize:]))
	total := keyOffset + keyLen + valueLen
	if keyLen < keyInfrastructureSize || total > len(buf) || total < 0 {
		return KeyValue{}, 0, ErrTruncated
	}
	key := buf[keyOffset : keyOffset+keyLen]
	rowLen := int(binary.BigEndian.Uint16(key))
	if rowLenSize+rowLen+familyLenSize > keyLen-timestampTypeSize {
		return KeyValue{}, 0, ErrMalformed
	}
	famLen := int(key[rowLenSize+rowLen])
	if keyInfrastructureSize+rowLen+famLen > keyLen {
		return KeyValue{}, 0, ErrMalformed
	}
	return KeyValue{buf: buf[:total:total]}, total, nil
}

// FromKey rebuilds a valueless cell from a key portion.
func FromKey(key []byte) (KeyValue, error) {
	buf := make([]byte, keyOffset+len(key))
	binary.BigEndian.PutUint32(buf[0:], uint32(len(key)))
	copy(buf[keyOffset:], key)
	return Decode(buf)
}

// Bytes returns the encoded buffer.
func (kv KeyValue) Bytes() []byte { return kv.buf }

// IsZero reports whether kv holds nothing.
func (kv KeyValue) IsZero() bool { return len(kv.buf) == 0 }

// Len is the encoded length.
func (kv KeyValue) Len() int { return len(kv.buf) }

// HeapSize approximates the memory a cell pins while held in a MemStore.
func (kv KeyValue) HeapSize() int64 { return int64(len(kv.buf) + heapOverhead) }

func (kv KeyValue) keyLength() int {
	return int(binary.BigEndian.Uint32(kv.buf[0:]))
}

// Key returns the key portion used for ordering.
func (kv KeyValue) Key() []byte {
	return kv.buf[keyOffset : keyOffset+kv.keyLength()]
}

func (kv KeyValue) Row() []byte       { return keyRow(kv.Key()) }
func (kv KeyValue) Family() []byte    { return keyFamily(kv.Key()) }
func (kv KeyValue) Qualifier() []byte { return keyQualifier(kv.Key()) }
func (kv KeyValue) Timestamp() int64  { return keyTimestamp(kv.Key()) }
func (kv KeyValue) Type() Type        { return keyType(kv.Key()) }
func (kv KeyValue) IsDelete() bool    { return kv.Type().IsDelete() }

// Value returns the payload. Tombstones carry none.
func (kv KeyValue) Value() []byte {
	return kv.buf[keyOffset+kv.keyLength():]
}

// Column returns family:qualifier.
func (kv KeyValue) Column() []byte {
	return MakeColumn(kv.Family(), kv.Qualifier())
}

// Cell returns the value and timestamp of kv.
func (kv KeyValue) Cell() Cell {
	return Cell{Value: kv.Value(), Timestamp: kv.Timestamp()}
}

// WithTimestamp returns a copy of kv stamped with ts.
func (kv KeyValue) WithTimestamp(ts int64) KeyValue {
	buf := make([]byte, len(kv.buf))
	copy(buf, kv.buf)
	end := keyOffset + kv.keyLength()
	binary.BigEndian.PutUint64(buf[end-timestampTypeSize:], uint64(ts))
	return KeyValue{buf: buf}
}

func (kv KeyValue) String() string {
	if kv.IsZero() {
		return "<empty>"
	}
	return fmt.Sprintf("%q/%s:%s/%d/%s/vlen=%d", kv.Row(), kv.Family(), kv.Qualifier(),
		kv.Timestamp(), kv.Type(), len(kv.Value()))
}

// Cell is a value and the timestamp it was written at.
type Cell struct {
	Value     []byte
	Timestamp int64
}

func keyRow(key []byte) []byte {
	rowLen := int(binary.BigEndian.Uint16(key))
	return key[rowLenSize : rowLenSize+rowLen]
}

func familyOffset(key []byte) int {
	return rowLenSize + int(binary.BigEndian.Uint16(key))
}

func keyFamily(key []byte) []byte {
	off := familyOffset(key)
	famLen := int(key[off])
	return key[off+familyLenSize : off+familyLenSize+famLen]
}

func keyQualifier(key []byte) []byte {
	off := familyOffset(key)
	start := off + familyLenSize + int(key[off])
	return key[start : len(key)-timestampTypeSize]
}

func keyTimestamp(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(key)-timestampTypeSize:]))
}

func keyType(key []byte) Type {
	return Type(key[len(key)-1])
}
