// Package flusher writes region memstores out to store files in the
// background: on request, when regions sit idle too long, and when the
// memstores of the whole server outgrow their global limit.
package flusher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/RussellLuo/timingwheel"
	"github.com/litetable/litetable-region/internal/region"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
)

const statsWindow = 64

type Config struct {
	Regions     RegionSource
	Compactions CompactionRequester

	// Workers bounds how many idle regions are flushed at once.
	Workers int
	// WakeFrequency is how often idle regions are looked for.
	WakeFrequency time.Duration
	// OptionalFlushInterval is how long a region may go without a flush
	// while it holds edits.
	OptionalFlushInterval time.Duration

	GlobalUpperLimit int64
	GlobalLowerLimit int64

	// OnAbort is called once when a flush fails in a way that leaves the
	// region's edits only in the log.
	OnAbort func(r *region.Region, err error)
}

func (c *Config) validate() error {
	var errGrp []error
	if c.Regions == nil {
		errGrp = append(errGrp, errors.New("region source is required"))
	}
	if c.Compactions == nil {
		errGrp = append(errGrp, errors.New("compaction requester is required"))
	}
	if c.Workers <= 0 {
		errGrp = append(errGrp, errors.New("workers must be greater than 0"))
	}
	if c.WakeFrequency <= 0 {
		errGrp = append(errGrp, errors.New("wake frequency must be greater than 0"))
	}
	if c.OptionalFlushInterval <= 0 {
		errGrp = append(errGrp, errors.New("optional flush interval must be greater than 0"))
	}
	if c.GlobalLowerLimit <= 0 || c.GlobalUpperLimit < c.GlobalLowerLimit {
		errGrp = append(errGrp, errors.New("global memstore limits must satisfy 0 < lower <= upper"))
	}
	if c.OnAbort == nil {
		errGrp = append(errGrp, errors.New("abort hook is required"))
	}
	return errors.Join(errGrp...)
}

// Stats summarises completed flushes.
type Stats struct {
	Flushes     int64
	Failures    int64
	AvgDuration time.Duration
}

type Flusher struct {
	cfg Config

	mu     sync.Mutex
	queue  []*region.Region
	queued map[*region.Region]struct{}
	wake   chan struct{}

	// reclaimMu lets one caller reclaim memory while the others wait.
	reclaimMu sync.Mutex

	pool       *ants.Pool
	wheel      *timingwheel.TimingWheel
	sweepTimer *timingwheel.Timer

	statsMu   sync.Mutex
	durations *movingaverage.MovingAverage
	flushes   int64
	failures  int64

	stopped   atomic.Bool
	abortOnce sync.Once
	stopOnce  sync.Once
	procCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// every schedules a timing wheel task at a fixed interval.
type every time.Duration

func (e every) Next(prev time.Time) time.Time {
	return prev.Add(time.Duration(e))
}

// New creates a Flusher. Nothing runs until Start.
func New(cfg *Config) (*Flusher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}
	tick := time.Second
	if cfg.WakeFrequency < time.Second {
		tick = time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Flusher{
		cfg:       *cfg,
		queued:    make(map[*region.Region]struct{}),
		wake:      make(chan struct{}, 1),
		pool:      pool,
		wheel:     timingwheel.NewTimingWheel(tick, 64),
		durations: movingaverage.New(statsWindow),
		procCtx:   ctx,
		cancel:    cancel,
	}, nil
}

func (f *Flusher) Start() error {
	f.wheel.Start()
	f.sweepTimer = f.wheel.ScheduleFunc(every(f.cfg.WakeFrequency), f.flushIdle)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case <-f.procCtx.Done():
				return
			case <-f.wake:
				for r := f.next(); r != nil; r = f.next() {
					if !f.flushRegion(r) {
						return
					}
					if f.procCtx.Err() != nil {
						return
					}
				}
			}
		}
	}()
	log.Info().Int("workers", f.cfg.Workers).Dur("wake", f.cfg.WakeFrequency).Msg("flusher started")
	return nil
}

func (f *Flusher) Stop() error {
	f.stopOnce.Do(func() {
		f.stopped.Store(true)
		if f.sweepTimer != nil {
			f.sweepTimer.Stop()
		}
		f.wheel.Stop()
		f.cancel()
		f.wg.Wait()
		f.pool.Release()
		f.drop()
	})
	return nil
}

// drop empties the queue and releases the regions' requests so they can
// ask the next flusher.
func (f *Flusher) drop() {
	f.mu.Lock()
	queued := f.queued
	f.queue = nil
	f.queued = make(map[*region.Region]struct{})
	f.mu.Unlock()
	for r := range queued {
		r.CancelFlushRequest()
	}
}

func (f *Flusher) Name() string {
	return "Flusher"
}

// RequestFlush queues r. A region already waiting is not queued twice.
func (f *Flusher) RequestFlush(r *region.Region) {
	f.mu.Lock()
	if f.stopped.Load() {
		f.mu.Unlock()
		r.CancelFlushRequest()
		return
	}
	if _, ok := f.queued[r]; !ok {
		f.queued[r] = struct{}{}
		f.queue = append(f.queue, r)
	}
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// QueueLength is the number of regions waiting for a flush.
func (f *Flusher) QueueLength() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued)
}

func (f *Flusher) next() *region.Region {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.queue) > 0 {
		r := f.queue[0]
		f.queue[0] = nil
		f.queue = f.queue[1:]
		if _, ok := f.queued[r]; ok {
			delete(f.queued, r)
			return r
		}
	}
	return nil
}

func (f *Flusher) dequeue(r *region.Region) {
	f.mu.Lock()
	delete(f.queued, r)
	f.mu.Unlock()
}

// flushRegion flushes r and asks for a compaction when one is due. It
// returns false once the flusher has aborted.
func (f *Flusher) flushRegion(r *region.Region) bool {
	start := time.Now()
	compact, err := r.FlushCache()
	took := time.Since(start)
	if err != nil {
		f.statsMu.Lock()
		f.failures++
		f.statsMu.Unlock()

		if region.Classify(err) == region.KindFatal {
			log.Error().Err(err).Str("region", r.Name()).Msg("flush lost its snapshot, aborting")
			f.abort(r, err)
			return false
		}
		log.Warn().Err(err).Str("region", r.Name()).Msg("flush failed")
		return true
	}

	f.statsMu.Lock()
	f.flushes++
	f.durations.Add(float64(took))
	f.statsMu.Unlock()
	log.Debug().Str("region", r.Name()).Dur("took", took).Bool("compact", compact).Msg("flush complete")

	if compact {
		f.cfg.Compactions.RequestCompaction(r)
	}
	return true
}

func (f *Flusher) abort(r *region.Region, err error) {
	f.abortOnce.Do(func() {
		f.stopped.Store(true)
		f.cancel()
		f.cfg.OnAbort(r, err)
	})
}

// flushIdle flushes every region that holds edits and has not been
// flushed within the optional flush interval.
func (f *Flusher) flushIdle() {
	if f.stopped.Load() {
		return
	}
	var wg sync.WaitGroup
	for _, r := range f.cfg.Regions.OnlineRegions() {
		if r.MemstoreSize() == 0 || time.Since(r.LastFlushTime()) < f.cfg.OptionalFlushInterval {
			continue
		}
		wg.Add(1)
		err := f.pool.Submit(func() {
			defer wg.Done()
			f.dequeue(r)
			f.flushRegion(r)
		})
		if err != nil {
			wg.Done()
			log.Warn().Err(err).Str("region", r.Name()).Msg("failed to schedule idle flush")
		}
	}
	wg.Wait()
}

// ReclaimMemory blocks while the memstores of all regions together exceed
// the global upper limit, flushing the biggest ones until the total drops
// under the lower limit.
func (f *Flusher) ReclaimMemory() {
	if f.cfg.Regions.GlobalMemstoreSize() < f.cfg.GlobalUpperLimit {
		return
	}
	f.reclaimMu.Lock()
	defer f.reclaimMu.Unlock()

	tried := make(map[*region.Region]struct{})
	for {
		size := f.cfg.Regions.GlobalMemstoreSize()
		if size <= f.cfg.GlobalLowerLimit {
			return
		}
		var biggest *region.Region
		for _, r := range f.cfg.Regions.OnlineRegions() {
			if _, ok := tried[r]; ok || r.MemstoreSize() == 0 {
				continue
			}
			biggest = r
			break
		}
		if biggest == nil {
			log.Warn().Int64("size", size).Int64("lower", f.cfg.GlobalLowerLimit).
				Msg("no region left to flush while reclaiming memory")
			return
		}
		tried[biggest] = struct{}{}
		log.Info().Str("region", biggest.Name()).Int64("global", size).
			Int64("memstore", biggest.MemstoreSize()).Msg("flushing to reclaim memory")
		f.dequeue(biggest)
		if !f.flushRegion(biggest) {
			return
		}
	}
}

// Stats reports completed and failed flushes with their rolling mean
// duration.
func (f *Flusher) Stats() Stats {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	s := Stats{Flushes: f.flushes, Failures: f.failures}
	if f.flushes > 0 {
		s.AvgDuration = time.Duration(f.durations.Avg())
	}
	return s
}
