package region

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/litetable/litetable-region/internal/litetable"
	"github.com/litetable/litetable-region/internal/storefile"
	"github.com/rs/zerolog/log"
)

// SplitRegion closes the region and opens two daughters covering
// [start, mid) and [mid, end). The daughters read the parent's files
// through references until they compact. They are returned unassigned; the
// parent's info is marked offline and split.
//
// It returns nil regions, and no error, when mid does not split the range
// or when the region still holds references of its own.
func (r *Region) SplitRegion(mid []byte) (*Region, *Region, error) {
	r.splitLock.Lock()
	defer r.splitLock.Unlock()

	if err := r.checkServing(); err != nil {
		return nil, nil, err
	}
	if len(mid) == 0 || bytes.Equal(mid, r.info.StartKey) || bytes.Equal(mid, r.info.EndKey) ||
		!r.info.ContainsRow(mid) {
		log.Debug().Str("region", r.info.Name()).Str("mid", string(mid)).Msg("split row does not divide region")
		return nil, nil, nil
	}
	if r.hasReferences() {
		log.Debug().Str("region", r.info.Name()).Msg("not splitting, references remain")
		return nil, nil, nil
	}

	start := time.Now()
	id := max(time.Now().UnixMilli(), r.info.RegionID+1)
	lower := litetable.NewRegionInfo(r.info.Table, r.info.StartKey, mid, id)
	upper := litetable.NewRegionInfo(r.info.Table, mid, r.info.EndKey, id)
	lowerDir := litetable.RegionDir(r.cfg.Root, lower)
	upperDir := litetable.RegionDir(r.cfg.Root, upper)
	for _, dir := range []string{lowerDir, upperDir} {
		if _, err := os.Stat(dir); err == nil {
			return nil, nil, fmt.Errorf("daughter directory %s already exists", dir)
		}
	}

	files, err := r.close(false)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = os.RemoveAll(lowerDir)
		_ = os.RemoveAll(upperDir)
	}

	err = r.writeReferences(files, mid, lowerDir, upperDir)
	for _, fs := range files {
		for _, sf := range fs {
			_ = sf.Close()
		}
	}
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to write split references: %w", err)
	}

	a, err := Open(r.daughterConfig(lower))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	b, err := Open(r.daughterConfig(upper))
	if err != nil {
		_ = a.Close(true)
		cleanup()
		return nil, nil, err
	}

	r.info.Offline = true
	r.info.Split = true
	log.Info().Str("region", r.info.Name()).Str("lower", lower.Name()).Str("upper", upper.Name()).
		Dur("took", time.Since(start)).Msg("region split")
	return a, b, nil
}

func (r *Region) writeReferences(files map[string][]*storefile.StoreFile, mid []byte, lowerDir, upperDir string) error {
	for family, fs := range files {
		for _, sf := range fs {
			if err := sf.Split(filepath.Join(lowerDir, family), r.encoded, mid, storefile.Bottom); err != nil {
				return err
			}
			if err := sf.Split(filepath.Join(upperDir, family), r.encoded, mid, storefile.Top); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Region) daughterConfig(info *litetable.RegionInfo) Config {
	cfg := r.cfg
	cfg.Info = info
	cfg.InitialFiles = ""
	return cfg
}
