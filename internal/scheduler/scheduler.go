// Package scheduler wires up the cron job that periodically refreshes the
// deal catalog.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"dealscout/deal-service/internal/config"
	"dealscout/deal-service/internal/deals"
	"dealscout/deal-service/internal/logging"
)

// Refresher runs one catalog refresh. *deals.Service implements it.
type Refresher interface {
	Refresh(ctx context.Context, p deals.RefreshParams) (deals.RefreshResult, error)
}

// Scheduler wraps robfig/cron and manages the refresh loop.
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	cfg       config.RefreshConfig
	spec      string // cron spec, e.g. "@every 6h"
	log       zerolog.Logger
	wg        sync.WaitGroup
}

// New creates a Scheduler that fires every cfg.IntervalHours hours.
func New(refresher Refresher, cfg config.RefreshConfig) *Scheduler {
	log := logging.With("scheduler")
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger{log}),
			cron.Recover(cronLogger{log}),
		)),
		refresher: refresher,
		cfg:       cfg,
		spec:      fmt.Sprintf("@every %dh", cfg.IntervalHours),
		log:       log,
	}
}

// Start registers the job and starts the scheduler. It also runs one
// refresh immediately so an empty catalog is populated without waiting for
// the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.runRefresh(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.log.Info().Str("spec", s.spec).Msg("cron started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runRefresh(ctx)
	}()
	return nil
}

// Stop stops the scheduler and waits for running refreshes to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info().Msg("cron stopped")
}

// runRefresh performs one bounded refresh with the configured defaults.
func (s *Scheduler) runRefresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.log.Info().Msg("refresh cycle started")
	res, err := s.refresher.Refresh(ctx, deals.RefreshParams{
		Query:      s.cfg.Query,
		Categories: s.cfg.Categories,
		Limit:      s.cfg.Limit,
		Trigger:    deals.TriggerSchedule,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("refresh cycle failed")
		return
	}
	s.log.Info().Str("source", string(res.Source)).Int("count", res.Total).Msg("refresh cycle complete")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug().Fields(kv).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error().Err(err).Fields(kv).Msg(msg)
}
