package litetable

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// DefaultMaxVersions is kept per column when a family does not say otherwise.
const DefaultMaxVersions = 3

var (
	ErrNoFamilies     = errors.New("table has no column families")
	ErrInvalidName    = errors.New("invalid name")
	ErrInvalidVersion = errors.New("max versions must be positive")
)

// FamilyDescriptor describes one column family of a table.
type FamilyDescriptor struct {
	Name        string        `json:"name"`
	MaxVersions int           `json:"max_versions"`
	TTL         time.Duration `json:"ttl"` // zero keeps cells forever
}

// Versions is MaxVersions, or DefaultMaxVersions when unset.
func (f FamilyDescriptor) Versions() int {
	if f.MaxVersions <= 0 {
		return DefaultMaxVersions
	}
	return f.MaxVersions
}

// TableDescriptor names a table and its families.
//
// Example:
//
//	TableDescriptor{
//	  Name: "users",
//	  Families: map[string]FamilyDescriptor{
//	    "info": {Name: "info", MaxVersions: 3},
//	    "events": {Name: "events", MaxVersions: 1, TTL: 24 * time.Hour},
//	  },
//	}
type TableDescriptor struct {
	Name     string                      `json:"name"`
	Families map[string]FamilyDescriptor `json:"families"`
}

// NewTableDescriptor builds a descriptor from families, keyed by their names.
func NewTableDescriptor(name string, families ...FamilyDescriptor) TableDescriptor {
	t := TableDescriptor{Name: name, Families: make(map[string]FamilyDescriptor, len(families))}
	for _, f := range families {
		t.Families[f.Name] = f
	}
	return t
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r == ',' || r == ':' || r == '/' || r < ' ' {
			return false
		}
	}
	return true
}

// Validate checks names and version limits.
func (t TableDescriptor) Validate() error {
	var errs []error
	if !validName(t.Name) {
		errs = append(errs, fmt.Errorf("table %q: %w", t.Name, ErrInvalidName))
	}
	if len(t.Families) == 0 {
		errs = append(errs, ErrNoFamilies)
	}
	for key, f := range t.Families {
		if key != f.Name || !validName(f.Name) {
			errs = append(errs, fmt.Errorf("family %q: %w", key, ErrInvalidName))
		}
		if f.MaxVersions < 0 {
			errs = append(errs, fmt.Errorf("family %q: %w", key, ErrInvalidVersion))
		}
	}
	return errors.Join(errs...)
}

// Family looks up a family by name.
func (t TableDescriptor) Family(name string) (FamilyDescriptor, bool) {
	f, ok := t.Families[name]
	return f, ok
}

// FamilyNames returns the family names in sorted order.
func (t TableDescriptor) FamilyNames() []string {
	names := maps.Keys(t.Families)
	slices.Sort(names)
	return names
}

// RegionInfo describes a region: which table, which row range, and where
// it stands in its lifecycle. The range is [StartKey, EndKey); empty keys
// are unbounded.
type RegionInfo struct {
	Table    TableDescriptor `json:"table"`
	StartKey []byte          `json:"start_key"`
	EndKey   []byte          `json:"end_key"`
	RegionID int64           `json:"region_id"`
	Offline  bool            `json:"offline"`
	Split    bool            `json:"split"`
}

// NewRegionInfo describes a region created now.
func NewRegionInfo(table TableDescriptor, start, end []byte, id int64) *RegionInfo {
	return &RegionInfo{
		Table:    table,
		StartKey: append([]byte(nil), start...),
		EndKey:   append([]byte(nil), end...),
		RegionID: id,
	}
}

// Name is "table,startKey,regionID".
func (r *RegionInfo) Name() string {
	return r.Table.Name + "," + string(r.StartKey) + "," + strconv.FormatInt(r.RegionID, 10)
}

// EncodedName is a stable, filesystem safe form of Name.
func (r *RegionInfo) EncodedName() string {
	return strconv.FormatUint(xxhash.Sum64String(r.Name()), 10)
}

func (r *RegionInfo) String() string {
	return fmt.Sprintf("%s [%q, %q)", r.Name(), r.StartKey, r.EndKey)
}

// ContainsRow reports whether row falls in [StartKey, EndKey).
func (r *RegionInfo) ContainsRow(row []byte) bool {
	if bytes.Compare(row, r.StartKey) < 0 {
		return false
	}
	return len(r.EndKey) == 0 || bytes.Compare(row, r.EndKey) < 0
}

// Adjacent reports whether r ends exactly where other starts, or the
// other way round.
func (r *RegionInfo) Adjacent(other *RegionInfo) bool {
	if r.Table.Name != other.Table.Name {
		return false
	}
	return (len(r.EndKey) > 0 && bytes.Equal(r.EndKey, other.StartKey)) ||
		(len(other.EndKey) > 0 && bytes.Equal(other.EndKey, r.StartKey))
}

// Compare orders regions by table, then start key, then id.
func Compare(a, b *RegionInfo) int {
	if a.Table.Name != b.Table.Name {
		if a.Table.Name < b.Table.Name {
			return -1
		}
		return 1
	}
	if c := bytes.Compare(a.StartKey, b.StartKey); c != 0 {
		return c
	}
	switch {
	case a.RegionID < b.RegionID:
		return -1
	case a.RegionID > b.RegionID:
		return 1
	}
	return 0
}
