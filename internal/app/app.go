// Package app runs the region server's long lived components: the catalog,
// the write ahead log, the hosted regions and the background flush and
// compaction workers.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

//go:generate mockgen -destination=./app_mock.go -package=app -source=app.go

// Dependency is a component with a lifecycle owned by the App.
type Dependency interface {
	// Start brings the component up. A component that serves in the
	// background returns once its workers are running.
	Start() error
	// Stop releases what Start acquired. Components holding regions flush
	// or close them here.
	Stop() error
	// Name identifies the component in the logs.
	Name() string
}

// App starts its dependencies in order and stops them in reverse, so the
// workers feeding on regions stop before the regions close and the log and
// catalog close last.
type App struct {
	name        string
	deps        []Dependency
	stopTimeout time.Duration

	// failures carries start errors; it is never closed since a late
	// Start may still report after shutdown began.
	failures chan error
	signals  chan os.Signal

	ran     atomic.Bool
	stopped atomic.Bool
}

type Config struct {
	ServiceName string
	// StopTimeout bounds the whole shutdown, including the final flushes.
	StopTimeout time.Duration
}

func (c *Config) validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, errors.New("stop timeout is required"))
	}
	return errors.Join(errs...)
}

// CreateApp returns an App over deps, given in start order.
func CreateApp(cfg *Config, deps ...Dependency) (*App, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &App{
		name:        cfg.ServiceName,
		deps:        deps,
		stopTimeout: cfg.StopTimeout,
		failures:    make(chan error, len(deps)),
		signals:     make(chan os.Signal, 1),
	}, nil
}

// Run starts every dependency and blocks until ctx is done, the process is
// interrupted or a dependency fails to start. It then stops everything and
// returns the shutdown error, if any.
func (a *App) Run(ctx context.Context) error {
	if a.ran.Swap(true) {
		return errors.New("run has already been called")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info().Str("service", a.name).Int("dependencies", len(a.deps)).Msg("starting")
	for _, dep := range a.deps {
		go a.start(dep)
	}

	signal.Notify(a.signals, os.Interrupt, syscall.SIGTERM)
	select {
	case <-ctx.Done():
		log.Info().Str("service", a.name).Msg("context cancelled, shutting down")
	case err := <-a.failures:
		log.Error().Err(err).Str("service", a.name).Msg("dependency failed to start, shutting down")
	case sig := <-a.signals:
		log.Info().Str("service", a.name).Str("signal", sig.String()).Msg("signal received, shutting down")
	}
	signal.Stop(a.signals)

	if err := a.stop(); err != nil {
		log.Error().Err(err).Str("service", a.name).Msg("shutdown incomplete")
		return err
	}
	log.Info().Str("service", a.name).Msg("stopped")
	return nil
}

func (a *App) start(dep Dependency) {
	defer func() {
		if r := recover(); r != nil {
			a.failures <- fmt.Errorf("panic in Start() for dependency %s: %v", dep.Name(), r)
		}
	}()

	log.Info().Str("dependency", dep.Name()).Msg("starting dependency")
	if err := dep.Start(); err != nil {
		a.failures <- fmt.Errorf("failure in Start() for dependency %s: %w", dep.Name(), err)
	}
}

// stop runs each Stop in reverse start order and gives up after the stop
// timeout, leaving the remaining dependencies to the process exit.
func (a *App) stop() error {
	if a.stopped.Swap(true) {
		return errors.New("stop has already been called")
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.stopTimeout)
	defer cancel()

	var errs []error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(a.deps) - 1; i >= 0; i-- {
			dep := a.deps[i]
			log.Info().Str("dependency", dep.Name()).Msg("stopping dependency")
			if err := dep.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failure in Stop() for dependency %s: %w", dep.Name(), err))
			}
		}
	}()

	select {
	case <-done:
		return errors.Join(errs...)
	case <-ctx.Done():
		return fmt.Errorf("dependencies did not stop within %s: %w", a.stopTimeout, ctx.Err())
	}
}
