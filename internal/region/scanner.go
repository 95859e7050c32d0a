package region

import (
	"bytes"
	"container/heap"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/litetable/litetable-region/internal/keyvalue"
	"github.com/litetable/litetable-region/internal/store"
	"golang.org/x/exp/slices"
)

// RowFilter decides which rows a scan returns. Filters keep state across
// rows and serve a single scan.
type RowFilter interface {
	// FilterRowKey reports whether row is skipped.
	FilterRowKey(row []byte) bool
	// FilterAllRemaining reports whether the scan is over.
	FilterAllRemaining() bool
}

// StopRowFilter ends a scan at the first row at or past Stop.
type StopRowFilter struct {
	Stop []byte
	done bool
}

func NewStopRowFilter(stop []byte) *StopRowFilter {
	return &StopRowFilter{Stop: stop}
}

func (f *StopRowFilter) FilterRowKey(row []byte) bool {
	if bytes.Compare(row, f.Stop) >= 0 {
		f.done = true
	}
	return f.done
}

func (f *StopRowFilter) FilterAllRemaining() bool { return f.done }

// PrefixFilter returns rows starting with Prefix and ends the scan once
// rows sort past them.
type PrefixFilter struct {
	Prefix []byte
	done   bool
}

func NewPrefixFilter(prefix []byte) *PrefixFilter {
	return &PrefixFilter{Prefix: prefix}
}

func (f *PrefixFilter) FilterRowKey(row []byte) bool {
	if bytes.HasPrefix(row, f.Prefix) {
		return false
	}
	if bytes.Compare(row, f.Prefix) > 0 {
		f.done = true
	}
	return true
}

func (f *PrefixFilter) FilterAllRemaining() bool { return f.done }

// scannerHeap orders store scanners by the row they are on.
type scannerHeap []*store.Scanner

func (h scannerHeap) Len() int           { return len(h) }
func (h scannerHeap) Less(i, j int) bool { return bytes.Compare(h[i].Peek(), h[j].Peek()) < 0 }
func (h scannerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scannerHeap) Push(x any)        { *h = append(*h, x.(*store.Scanner)) }
func (h *scannerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Scanner walks a region row by row across its stores.
type Scanner struct {
	region *Region
	all    []*store.Scanner
	heap   scannerHeap
	filter RowFilter
	once   sync.Once
	err    error
}

// qualifierMatcher matches qualifiers equal to a plain name or, when the
// name holds regular expression syntax, matching it in full.
func qualifierMatcher(qualifiers [][]byte) (func([]byte) bool, error) {
	exact := make(map[string]struct{})
	var patterns []*regexp.Regexp
	for _, q := range qualifiers {
		s := string(q)
		if regexp.QuoteMeta(s) == s {
			exact[s] = struct{}{}
			continue
		}
		re, err := regexp.Compile("^(?:" + s + ")$")
		if err != nil {
			return nil, newError(ErrInvalidColumn, "qualifier %q: %v", s, err)
		}
		patterns = append(patterns, re)
	}
	return func(q []byte) bool {
		if _, ok := exact[string(q)]; ok {
			return true
		}
		for _, re := range patterns {
			if re.Match(q) {
				return true
			}
		}
		return false
	}, nil
}

// scanColumns returns the qualifier predicate of every family a scan reads.
func (r *Region) scanColumns(columns [][]byte) (map[string]func([]byte) bool, error) {
	out := make(map[string]func([]byte) bool)
	if len(columns) == 0 {
		for _, name := range r.families {
			out[name] = nil
		}
		return out, nil
	}
	whole := make(map[string]bool)
	qualifiers := make(map[string][][]byte)
	for _, col := range columns {
		s, qualifier, err := r.store(col)
		if err != nil {
			return nil, err
		}
		name := s.Family().Name
		if len(qualifier) == 0 {
			whole[name] = true
		}
		qualifiers[name] = append(qualifiers[name], qualifier)
	}
	for name, qs := range qualifiers {
		if whole[name] {
			out[name] = nil
			continue
		}
		match, err := qualifierMatcher(qs)
		if err != nil {
			return nil, err
		}
		out[name] = match
	}
	return out, nil
}

// GetScanner opens a scanner over columns from startRow on, returning the
// newest cell at or older than ts of each column. Columns are
// family:qualifier names; an empty qualifier reads the whole family and a
// qualifier may be a regular expression. filter may be nil.
func (r *Region) GetScanner(columns [][]byte, startRow []byte, ts int64, filter RowFilter) (*Scanner, error) {
	match, err := r.scanColumns(columns)
	if err != nil {
		return nil, err
	}
	if bytes.Compare(startRow, r.info.StartKey) < 0 {
		startRow = r.info.StartKey
	}

	// Counted before the serving check: a concurrent close either waits for
	// this scanner or makes the check fail.
	r.scannerMu.Lock()
	r.activeScanners++
	r.scannerMu.Unlock()

	r.splitsAndClosesLock.RLock()
	defer r.splitsAndClosesLock.RUnlock()
	if err := r.checkServing(); err != nil {
		r.scannerDone()
		return nil, err
	}

	sc := &Scanner{region: r, filter: filter}
	for _, name := range r.families {
		fn, ok := match[name]
		if !ok {
			continue
		}
		s, err := r.stores[name].NewScanner(startRow, fn, keyvalue.Upto(ts), 1)
		if err != nil {
			_ = sc.closeStores()
			r.scannerDone()
			return nil, fmt.Errorf("failed to open scanner on %s: %w", name, err)
		}
		sc.all = append(sc.all, s)
		if s.Peek() != nil {
			sc.heap = append(sc.heap, s)
		}
	}
	heap.Init(&sc.heap)
	return sc, nil
}

// Next returns the next row with live cells in range, or a nil row when the
// scan is over.
func (sc *Scanner) Next() ([]byte, []keyvalue.KeyValue, error) {
	for sc.err == nil && sc.heap.Len() > 0 {
		if sc.filter != nil && sc.filter.FilterAllRemaining() {
			return nil, nil, nil
		}
		row := sc.heap[0].Peek()
		if !sc.region.info.ContainsRow(row) {
			return nil, nil, nil
		}

		var cells []keyvalue.KeyValue
		for sc.heap.Len() > 0 && bytes.Equal(sc.heap[0].Peek(), row) {
			s := sc.heap[0]
			_, got, err := s.Next()
			if err != nil {
				sc.err = err
				return nil, nil, err
			}
			cells = append(cells, got...)
			if s.Peek() == nil {
				heap.Pop(&sc.heap)
			} else {
				heap.Fix(&sc.heap, 0)
			}
		}

		if sc.filter != nil && sc.filter.FilterRowKey(row) {
			continue
		}
		if len(cells) == 0 {
			continue
		}
		slices.SortFunc(cells, keyvalue.Compare)
		return row, cells, nil
	}
	return nil, nil, sc.err
}

func (sc *Scanner) closeStores() error {
	var errs []error
	for _, s := range sc.all {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Close releases the scanner. A region waits for its scanners before it
// closes.
func (sc *Scanner) Close() error {
	var err error
	sc.once.Do(func() {
		err = sc.closeStores()
		sc.region.scannerDone()
	})
	return err
}

func (r *Region) scannerDone() {
	r.scannerMu.Lock()
	r.activeScanners--
	r.scannerCond.Broadcast()
	r.scannerMu.Unlock()
}

func (r *Region) waitOnScanners() {
	r.scannerMu.Lock()
	defer r.scannerMu.Unlock()
	for r.activeScanners > 0 {
		r.scannerCond.Wait()
	}
}
