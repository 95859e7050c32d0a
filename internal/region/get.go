package region

import (
	"bytes"
	"fmt"

	"github.com/litetable/litetable-region/internal/keyvalue"
)

// Get returns up to versions cells of column at or older than ts, newest
// first.
func (r *Region) Get(row, column []byte, ts int64, versions int) ([]keyvalue.Cell, error) {
	if err := r.checkRow(row); err != nil {
		return nil, err
	}
	s, qualifier, err := r.store(column)
	if err != nil {
		return nil, err
	}

	r.splitsAndClosesLock.RLock()
	defer r.splitsAndClosesLock.RUnlock()
	if err := r.checkServing(); err != nil {
		return nil, err
	}

	kvs, err := s.Get(row, qualifier, ts, versions)
	if err != nil {
		return nil, err
	}
	cells := make([]keyvalue.Cell, len(kvs))
	for i, kv := range kvs {
		cells[i] = kv.Cell()
	}
	return cells, nil
}

// familyColumns groups family:qualifier columns by family. A nil set means
// every qualifier of the family; no columns means every family.
func (r *Region) familyColumns(columns [][]byte) (map[string]map[string]struct{}, error) {
	out := make(map[string]map[string]struct{})
	if len(columns) == 0 {
		for _, name := range r.families {
			out[name] = nil
		}
		return out, nil
	}
	whole := make(map[string]bool)
	for _, col := range columns {
		s, qualifier, err := r.store(col)
		if err != nil {
			return nil, err
		}
		name := s.Family().Name
		if len(qualifier) == 0 {
			whole[name] = true
			out[name] = nil
			continue
		}
		if whole[name] {
			continue
		}
		if out[name] == nil {
			out[name] = make(map[string]struct{})
		}
		out[name][string(qualifier)] = struct{}{}
	}
	return out, nil
}

// GetFull returns the newest cell at or older than ts of every requested
// column of row, keyed by family:qualifier. No columns means all of them.
// The row lock is held for the duration of the read.
func (r *Region) GetFull(row []byte, columns [][]byte, ts int64, id LockID) (map[string]keyvalue.Cell, error) {
	if err := r.checkRow(row); err != nil {
		return nil, err
	}
	byFamily, err := r.familyColumns(columns)
	if err != nil {
		return nil, err
	}

	r.splitsAndClosesLock.RLock()
	defer r.splitsAndClosesLock.RUnlock()
	if err := r.checkServing(); err != nil {
		return nil, err
	}
	lid, owned, err := r.lock(id, row)
	if err != nil {
		return nil, err
	}
	if owned {
		defer func() { _ = r.ReleaseRowLock(lid) }()
	}
	return r.getFull(row, byFamily, ts)
}

func (r *Region) getFull(row []byte, byFamily map[string]map[string]struct{}, ts int64) (map[string]keyvalue.Cell, error) {
	results := make(map[string]keyvalue.Cell)
	for _, name := range r.families {
		qualifiers, ok := byFamily[name]
		if !ok {
			continue
		}
		if err := r.stores[name].GetFull(row, qualifiers, ts, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// GetClosestRowBefore finds the greatest row at or before row that holds a
// live cell and returns it with its newest cells. It returns a nil row when
// there is none.
//
// Rows rewritten with older timestamps than they already hold may be
// reported wrongly; writes are assumed to move forward in time.
func (r *Region) GetClosestRowBefore(row []byte) ([]byte, map[string]keyvalue.Cell, error) {
	if err := r.checkRow(row); err != nil {
		return nil, nil, err
	}

	r.splitsAndClosesLock.RLock()
	defer r.splitsAndClosesLock.RUnlock()
	if err := r.checkServing(); err != nil {
		return nil, nil, err
	}

	var closest []byte
	for _, name := range r.families {
		found, err := r.stores[name].GetRowKeyAtOrBefore(row)
		if err != nil {
			return nil, nil, err
		}
		if found != nil && (closest == nil || bytes.Compare(found, closest) > 0) {
			closest = found
		}
	}
	if closest == nil {
		return nil, nil, nil
	}

	all := make(map[string]map[string]struct{}, len(r.families))
	for _, name := range r.families {
		all[name] = nil
	}
	cells, err := r.getFull(closest, all, keyvalue.LatestTimestamp)
	if err != nil {
		return nil, nil, err
	}
	return closest, cells, nil
}

// GetKind selects how a Get matches the cells of its row.
type GetKind int

const (
	// ByRow reads every family.
	ByRow GetKind = iota
	// ByColumns reads the family:qualifier columns listed; an empty
	// qualifier stands for the whole family.
	ByColumns
	// ByFamilies reads every qualifier of the families listed.
	ByFamilies
	// TopN reads the first Limit cells of the families listed, or of all
	// families when none are.
	TopN
)

func (k GetKind) String() string {
	switch k {
	case ByRow:
		return "row"
	case ByColumns:
		return "columns"
	case ByFamilies:
		return "families"
	case TopN:
		return "top"
	}
	return fmt.Sprintf("GetKind(%d)", int(k))
}

// Get is a read of one row.
type Get struct {
	Kind GetKind
	Row  []byte
	// Columns are family:qualifier names for ByColumns and family names for
	// ByFamilies and TopN.
	Columns   [][]byte
	TimeRange keyvalue.TimeRange
	// Versions per qualifier; zero uses each family's limit.
	Versions int
	// Limit is the cell count of a TopN read.
	Limit int
	// Filter skips the whole row when it rejects the row key.
	Filter RowFilter
}

// matchers returns the qualifier predicate of each family g reads. A nil
// predicate matches every qualifier.
func (r *Region) matchers(g *Get) (map[string]func([]byte) bool, error) {
	out := make(map[string]func([]byte) bool)
	switch g.Kind {
	case ByRow:
		for _, name := range r.families {
			out[name] = nil
		}
	case ByColumns:
		if len(g.Columns) == 0 {
			return nil, newError(ErrInvalidRequest, "no columns given")
		}
		byFamily, err := r.familyColumns(g.Columns)
		if err != nil {
			return nil, err
		}
		for name, qualifiers := range byFamily {
			out[name] = qualifierSet(qualifiers)
		}
	case ByFamilies, TopN:
		if g.Kind == ByFamilies && len(g.Columns) == 0 {
			return nil, newError(ErrInvalidRequest, "no families given")
		}
		if g.Kind == TopN && g.Limit <= 0 {
			return nil, newError(ErrInvalidRequest, "top read needs a positive limit")
		}
		if len(g.Columns) == 0 {
			for _, name := range r.families {
				out[name] = nil
			}
		}
		for _, f := range g.Columns {
			name := keyvalue.FamilyOf(f)
			if _, ok := r.stores[string(name)]; !ok {
				return nil, newError(ErrNoSuchFamily, "%q in %s", name, r.info.Table.Name)
			}
			out[string(name)] = nil
		}
	default:
		return nil, newError(ErrInvalidRequest, "unknown get kind %s", g.Kind)
	}
	return out, nil
}

func qualifierSet(qualifiers map[string]struct{}) func([]byte) bool {
	if qualifiers == nil {
		return nil
	}
	return func(q []byte) bool {
		_, ok := qualifiers[string(q)]
		return ok
	}
}

// Fetch runs g and returns the matching live cells, ordered by family then
// qualifier, newest first within a qualifier.
func (r *Region) Fetch(g *Get) ([]keyvalue.KeyValue, error) {
	if err := r.checkRow(g.Row); err != nil {
		return nil, err
	}
	match, err := r.matchers(g)
	if err != nil {
		return nil, err
	}
	tr := g.TimeRange
	if tr == (keyvalue.TimeRange{}) {
		tr = keyvalue.AllTime
	}

	r.splitsAndClosesLock.RLock()
	defer r.splitsAndClosesLock.RUnlock()
	if err := r.checkServing(); err != nil {
		return nil, err
	}

	if g.Filter != nil && (g.Filter.FilterAllRemaining() || g.Filter.FilterRowKey(g.Row)) {
		return nil, nil
	}

	var out []keyvalue.KeyValue
	for _, name := range r.families {
		fn, ok := match[name]
		if !ok {
			continue
		}
		s := r.stores[name]
		versions := g.Versions
		if versions <= 0 {
			versions = s.Family().Versions()
		}
		full := false
		err := s.Row(g.Row, tr, versions, fn, func(kv keyvalue.KeyValue) bool {
			out = append(out, kv)
			full = g.Kind == TopN && len(out) >= g.Limit
			return !full
		})
		if err != nil {
			return nil, err
		}
		if full {
			break
		}
	}
	return out, nil
}
