package main

import (
	"context"
	"path/filepath"

	"github.com/litetable/litetable-region/internal/app"
	"github.com/litetable/litetable-region/internal/catalog"
	"github.com/litetable/litetable-region/internal/compactor"
	"github.com/litetable/litetable-region/internal/config"
	"github.com/litetable/litetable-region/internal/flusher"
	"github.com/litetable/litetable-region/internal/region"
	"github.com/litetable/litetable-region/internal/regionserver"
	"github.com/litetable/litetable-region/internal/storefile"
	"github.com/litetable/litetable-region/internal/wal"
	"github.com/rs/zerolog"
)

const (
	catalogDir        = "catalog"
	catalogMaxRetries = 5
)

func main() {
	application, err := initialize()
	if err != nil {
		panic(err)
	}

	if err = application.Run(context.Background()); err != nil {
		panic(err)
	}
}

// initialize wires the region server. Dependencies are stopped in reverse
// order, so the background workers stop before the regions close and the
// log and catalog close last.
func initialize() (*app.App, error) {
	var deps []app.Dependency

	cfg, err := config.NewConfig("")
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	regionCatalog, err := catalog.New(&catalog.Config{
		Dir:        filepath.Join(cfg.DataDir, catalogDir),
		MaxRetries: catalogMaxRetries,
	})
	if err != nil {
		return nil, err
	}
	deps = append(deps, regionCatalog)

	walManager, err := wal.New(&wal.Config{
		Path:         cfg.DataDir,
		RollInterval: cfg.WALRollInterval,
	})
	if err != nil {
		return nil, err
	}
	deps = append(deps, walManager)

	cache, err := storefile.NewBlockCache(cfg.BlockCacheBlocks)
	if err != nil {
		return nil, err
	}

	registry := regionserver.NewRegistry()

	// the flusher and the server depend on each other: flush requests go to
	// the flusher and an unrecoverable flush failure aborts the server.
	var srv *regionserver.Server

	compactions, err := compactor.New(&compactor.Config{
		Root:            cfg.DataDir,
		Registry:        registry,
		Catalog:         regionCatalog,
		MajorInterval:   cfg.MajorCompactionInterval,
		CleanupInterval: cfg.ThreadWakeFrequency,
	})
	if err != nil {
		return nil, err
	}

	memstoreFlusher, err := flusher.New(&flusher.Config{
		Regions:               registry,
		Compactions:           compactions,
		Workers:               cfg.FlushWorkers,
		WakeFrequency:         cfg.ThreadWakeFrequency,
		OptionalFlushInterval: cfg.OptionalFlushInterval,
		GlobalUpperLimit:      cfg.GlobalMemstoreUpperLimit,
		GlobalLowerLimit:      cfg.GlobalMemstoreLowerLimit,
		OnAbort: func(r *region.Region, err error) {
			srv.Abort(r, err)
		},
	})
	if err != nil {
		return nil, err
	}

	srv, err = regionserver.New(&regionserver.Config{
		Root:     cfg.DataDir,
		Registry: registry,
		Catalog:  regionCatalog,
		WAL:      walManager,
		Flusher:  memstoreFlusher,
		Cache:    cache,
		Regions: regionserver.RegionSettings{
			FlushSize:           cfg.MemstoreFlushSize,
			BlockingMultiplier:  cfg.MemstoreBlockMultiplier,
			CompactionThreshold: cfg.CompactionThreshold,
			MaxFileSize:         cfg.MaxFileSize,
			BlockSize:           cfg.BlockSize,
		},
	})
	if err != nil {
		return nil, err
	}
	deps = append(deps, srv, compactions, memstoreFlusher)

	application, err := app.CreateApp(&app.Config{
		ServiceName: "LiteTable Region Server",
		StopTimeout: cfg.StopTimeout,
	}, deps...)
	if err != nil {
		return nil, err
	}

	return application, nil
}
