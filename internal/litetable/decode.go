package litetable

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a region descriptor for the catalog.
func (r *RegionInfo) Encode() ([]byte, error) {
	buf, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode region %s: %w", r.Name(), err)
	}
	return buf, nil
}

// Decode parses a region descriptor written by Encode.
func Decode(buf []byte) (*RegionInfo, error) {
	var r RegionInfo
	if err := json.Unmarshal(buf, &r); err != nil {
		return nil, fmt.Errorf("failed to decode region: %w", err)
	}
	if err := r.Table.Validate(); err != nil {
		return nil, fmt.Errorf("decoded region has invalid table: %w", err)
	}
	return &r, nil
}
