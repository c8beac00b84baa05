// Package engine implements the rate-limit and key-rotation engine:
// usage tracking over the call ledger, credential selection, provider
// throttle state, and the periodic sweeps that reclaim expired state.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/marketdata-quota-service/internal/events"
	"github.com/marketdata-quota-service/internal/store"
)

const (
	callPurgeSchedule     = "@every 30s"
	throttleSweepSchedule = "@every 60s"
	warningCooldown       = 30 * time.Second
)

// Engine owns the tracker, rotator, limiter, and event bus, plus the
// scheduler that runs their cleanup sweeps. Constructed at startup and
// stopped by canceling the context passed to Start.
type Engine struct {
	Tracker *UsageTracker
	Rotator *KeyRotator
	Limiter *RateLimiter
	Bus     *events.Bus

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

func New(st store.Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	bus := events.NewBus(warningCooldown, now)
	tracker := NewUsageTracker(st, bus, now)
	rotator := NewKeyRotator(st, now)
	tracker.OnRecord(rotator.InvalidateHeadroom)

	return &Engine{
		Tracker: tracker,
		Rotator: rotator,
		Limiter: NewRateLimiter(st, bus, now),
		Bus:     bus,
		cron:    cron.New(),
	}
}

// Start launches the periodic sweeps. They stop when ctx is canceled.
// Sweep failures are logged and retried on the next tick, never fatal.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	if _, err := e.cron.AddFunc(callPurgeSchedule, func() {
		if err := e.Tracker.CleanupExpiredCalls(ctx); err != nil {
			log.Error().Err(err).Msg("call ledger purge failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule call purge: %w", err)
	}

	if _, err := e.cron.AddFunc(throttleSweepSchedule, func() {
		if err := e.Limiter.Cleanup(ctx); err != nil {
			log.Error().Err(err).Msg("throttle sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule throttle sweep: %w", err)
	}

	e.cron.Start()
	e.running = true
	log.Info().Str("call_purge", callPurgeSchedule).Str("throttle_sweep", throttleSweepSchedule).
		Msg("engine background sweeps started")

	go func() {
		<-ctx.Done()
		e.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	<-e.cron.Stop().Done()
	e.running = false
	log.Info().Msg("engine background sweeps stopped")
}
