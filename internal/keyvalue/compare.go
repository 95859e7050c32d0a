package keyvalue

import (
	"bytes"
	"time"
)

// Compare orders cells by row, family and qualifier ascending, then timestamp
// descending, then type descending.
func Compare(a, b KeyValue) int {
	return CompareKeys(a.Key(), b.Key())
}

// Less is Compare(a, b) < 0, in the shape sorted containers want.
func Less(a, b KeyValue) bool {
	return CompareKeys(a.Key(), b.Key()) < 0
}

// CompareKeys compares two key portions (see KeyValue.Key).
func CompareKeys(a, b []byte) int {
	if c := bytes.Compare(keyRow(a), keyRow(b)); c != 0 {
		return c
	}
	if c := bytes.Compare(keyFamily(a), keyFamily(b)); c != 0 {
		return c
	}
	if c := bytes.Compare(keyQualifier(a), keyQualifier(b)); c != 0 {
		return c
	}
	ta, tb := keyTimestamp(a), keyTimestamp(b)
	switch {
	case ta > tb:
		return -1
	case ta < tb:
		return 1
	}
	return int(keyType(b)) - int(keyType(a))
}

// SameRow reports whether a and b share a row.
func SameRow(a, b KeyValue) bool {
	return bytes.Equal(a.Row(), b.Row())
}

// SameColumn reports whether a and b share row, family and qualifier.
func SameColumn(a, b KeyValue) bool {
	ka, kb := a.Key(), b.Key()
	return bytes.Equal(keyRow(ka), keyRow(kb)) &&
		bytes.Equal(keyFamily(ka), keyFamily(kb)) &&
		bytes.Equal(keyQualifier(ka), keyQualifier(kb))
}

// FirstOnRow sorts before every cell of row.
func FirstOnRow(row []byte) KeyValue {
	return New(row, nil, nil, LatestTimestamp, typeMaximum, nil)
}

// FirstAfterRow sorts after every cell of row and before any later row.
func FirstAfterRow(row []byte) KeyValue {
	next := make([]byte, len(row)+1)
	copy(next, row)
	return FirstOnRow(next)
}

// FirstOnColumn sorts before every cell of the column at or older than ts.
func FirstOnColumn(row, family, qualifier []byte, ts int64) KeyValue {
	return New(row, family, qualifier, ts, typeMaximum, nil)
}

// LastOnColumn sorts after every cell of the column at or newer than ts.
func LastOnColumn(row, family, qualifier []byte, ts int64) KeyValue {
	return New(row, family, qualifier, ts, typeMinimum, nil)
}

// Expired reports whether a cell written at ts has outlived ttl as of now
// (both in milliseconds since the epoch). A ttl of zero or less never expires.
func Expired(ts, now int64, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now-ttl.Milliseconds() > ts
}

// Now is the current time in the timestamp unit used by cells.
func Now() int64 {
	return time.Now().UnixMilli()
}

// TimeRange bounds reads to timestamps in [Min, Max], both inclusive.
type TimeRange struct {
	Min int64
	Max int64
}

// AllTime matches every timestamp.
var AllTime = TimeRange{Min: 0, Max: LatestTimestamp}

// Upto matches every timestamp at or older than ts.
func Upto(ts int64) TimeRange {
	return TimeRange{Min: 0, Max: ts}
}

func (tr TimeRange) Within(ts int64) bool {
	return ts >= tr.Min && ts <= tr.Max
}
