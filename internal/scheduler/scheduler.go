// Package scheduler fans destinations out to independent timer loops.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/walldrop/walldrop/internal/catalog"
	"github.com/walldrop/walldrop/internal/metrics"
)

// Pipeline executes one delivery attempt for a destination.
type Pipeline interface {
	RunOnce(ctx context.Context, dest catalog.Destination)
}

// MisfireGrace is how far past its interval a tick may fire before the delay
// is logged as a misfire.
const MisfireGrace = 30 * time.Second

// Scheduler runs one timer loop per destination. Loops never share state
// beyond the pipeline, so a slow destination cannot delay the others.
type Scheduler struct {
	pipeline Pipeline
	dests    []catalog.Destination
	logger   *zap.Logger
}

// New creates a Scheduler.
func New(pipeline Pipeline, dests []catalog.Destination, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		pipeline: pipeline,
		dests:    dests,
		logger:   logger,
	}
}

// Run starts all destination loops and blocks until the context finishes and
// every in-flight attempt has drained. Attempts started before shutdown run
// to completion.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, dest := range s.dests {
		wg.Add(1)
		go func(d catalog.Destination) {
			defer wg.Done()
			s.runDestination(ctx, d)
		}(dest)
	}
	<-ctx.Done()
	s.logger.Info("shutdown requested, draining in-flight attempts")
	wg.Wait()
	s.logger.Info("scheduler drained")
}

// runDestination fires the pipeline on every interval tick. At most one
// attempt per destination is in flight: ticks that land while an attempt is
// still running are coalesced into a skip, never queued.
func (s *Scheduler) runDestination(ctx context.Context, dest catalog.Destination) {
	log := s.logger.With(
		zap.String("destination", dest.Name),
		zap.Duration("interval", dest.Interval),
	)
	log.Info("destination loop started", zap.Strings("categories", dest.Categories))

	ticker := time.NewTicker(dest.Interval)
	defer ticker.Stop()

	var inFlight atomic.Bool
	var attemptWG sync.WaitGroup
	lastFired := time.Now()

	for {
		select {
		case <-ctx.Done():
			attemptWG.Wait()
			log.Info("destination loop stopped")
			return
		case now := <-ticker.C:
			if late := now.Sub(lastFired) - dest.Interval; late > MisfireGrace {
				log.Warn("tick fired late", zap.Duration("behind", late))
			}
			lastFired = now

			if !inFlight.CompareAndSwap(false, true) {
				// The previous attempt is still running. Dropping the tick
				// keeps attempt frequency bounded by attempt duration.
				log.Warn("previous attempt still running, skipping tick")
				metrics.ObserveSkippedTick(dest.Name)
				continue
			}
			attemptWG.Add(1)
			go func() {
				defer attemptWG.Done()
				defer inFlight.Store(false)
				s.pipeline.RunOnce(ctx, dest)
			}()
		}
	}
}
