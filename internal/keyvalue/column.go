package keyvalue

import "bytes"

// ColumnDelimiter separates the family from the qualifier in a column name.
const ColumnDelimiter = ':'

// ParseColumn splits family:qualifier. The qualifier may be empty.
func ParseColumn(column []byte) (family, qualifier []byte, err error) {
	idx := bytes.IndexByte(column, ColumnDelimiter)
	if idx < 0 {
		return nil, nil, ErrMissingDivider
	}
	return column[:idx], column[idx+1:], nil
}

// MakeColumn joins family and qualifier into family:qualifier.
func MakeColumn(family, qualifier []byte) []byte {
	col := make([]byte, 0, len(family)+1+len(qualifier))
	col = append(col, family...)
	col = append(col, ColumnDelimiter)
	return append(col, qualifier...)
}

// FamilyOf returns the family part of a column, or the whole name when the
// delimiter is missing.
func FamilyOf(column []byte) []byte {
	if idx := bytes.IndexByte(column, ColumnDelimiter); idx >= 0 {
		return column[:idx]
	}
	return column
}
