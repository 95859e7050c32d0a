package region

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/litetable/litetable-region/internal/litetable"
	"github.com/rs/zerolog/log"
)

// MergeAdjacent merges two regions whose ranges touch.
func MergeAdjacent(a, b *Region) (*Region, error) {
	if !a.info.Adjacent(b.info) {
		return nil, newError(ErrInvalidMerge, "%s and %s are not adjacent", a.info, b.info)
	}
	return Merge(a, b)
}

// Merge closes a and b and opens one region spanning both. Each is flushed
// and fully compacted first so no references are carried over. The merged
// region is returned unassigned and the old region directories are removed.
//
// Files are linked into the merged region, so the inputs' directories stay
// whole until it opens. A failure after the inputs closed removes the
// merged directory and returns an error wrapping ErrMergeAborted.
func Merge(a, b *Region) (*Region, error) {
	if a.info.Table.Name != b.info.Table.Name {
		return nil, newError(ErrInvalidMerge, "%s and %s belong to different tables", a.info, b.info)
	}
	if bytes.Compare(a.info.StartKey, b.info.StartKey) > 0 {
		a, b = b, a
	}
	if len(a.info.EndKey) == 0 || bytes.Compare(a.info.EndKey, b.info.StartKey) > 0 {
		return nil, newError(ErrInvalidMerge, "%s and %s overlap", a.info, b.info)
	}

	start := time.Now()
	id := max(time.Now().UnixMilli(), max(a.info.RegionID, b.info.RegionID)+1)
	info := litetable.NewRegionInfo(a.info.Table, a.info.StartKey, b.info.EndKey, id)
	dir := litetable.RegionDir(a.cfg.Root, info)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("merged region directory %s already exists", dir)
	}
	staging := filepath.Join(dir, mergesDir)

	for _, r := range []*Region{a, b} {
		if _, err := r.FlushCache(); err != nil {
			return nil, err
		}
		if _, err := r.CompactStores(true); err != nil {
			return nil, err
		}
	}

	abort := func(err error) (*Region, error) {
		_ = os.RemoveAll(dir)
		log.Error().Err(err).Str("lower", a.info.Name()).Str("upper", b.info.Name()).Msg("merge aborted")
		return nil, newError(ErrMergeAborted, "%s and %s: %v", a.info.Name(), b.info.Name(), err)
	}

	// Files of both regions share one sequence id space per family; a clash
	// is moved one below so ordering by sequence id stays unambiguous.
	used := make(map[string]map[int64]struct{})
	for _, r := range []*Region{a, b} {
		files, err := r.close(false)
		if err != nil {
			return abort(err)
		}
		for family, fs := range files {
			if used[family] == nil {
				used[family] = make(map[int64]struct{})
			}
			for _, sf := range fs {
				_ = sf.Close()
			}
			for _, sf := range fs {
				seq := sf.SequenceID()
				for {
					if _, clash := used[family][seq]; !clash {
						break
					}
					seq--
				}
				used[family][seq] = struct{}{}
				if err := sf.LinkTo(filepath.Join(staging, family), seq); err != nil {
					return abort(fmt.Errorf("failed to stage %s of %s: %w", sf, r.info.Name(), err))
				}
			}
		}
	}

	cfg := a.cfg
	cfg.Info = info
	cfg.InitialFiles = staging
	merged, err := Open(cfg)
	if err != nil {
		return abort(err)
	}
	if _, err := merged.CompactStores(true); err != nil {
		log.Warn().Err(err).Str("region", merged.Name()).Msg("compaction after merge failed")
	}

	for _, r := range []*Region{a, b} {
		r.info.Offline = true
		if err := os.RemoveAll(r.dir); err != nil {
			log.Warn().Err(err).Str("dir", r.dir).Msg("failed to remove merged region directory")
		}
	}
	log.Info().Str("lower", a.info.Name()).Str("upper", b.info.Name()).Str("merged", merged.Name()).
		Dur("took", time.Since(start)).Msg("regions merged")
	return merged, nil
}
