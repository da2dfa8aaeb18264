// Package scheduler runs the periodic maintenance jobs: the auto-submit
// sweep for rooms past their deadline, refresh-token cleanup, and the
// active-room gauge.
package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const jobTimeout = 2 * time.Minute

// Sweeper buries waiting rooms whose deadline passed.
type Sweeper interface {
	AutoSubmitExpired(ctx context.Context) (int, error)
}

// TokenPurger deletes refresh tokens that can no longer be used.
type TokenPurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Collector refreshes gauges that are read from the database.
type Collector interface {
	Collect(ctx context.Context)
}

// Specs holds one cron expression per job. Empty disables the job.
type Specs struct {
	AutoSubmit  string
	TokenPurge  string
	MetricsPoll string
}

// DefaultSpecs is used for anything left empty by the caller.
var DefaultSpecs = Specs{
	AutoSubmit:  "@every 1m",
	TokenPurge:  "0 4 * * *",
	MetricsPoll: "@every 30s",
}

type Scheduler struct {
	cron      *cron.Cron
	sweeper   Sweeper
	tokens    TokenPurger
	collector Collector
	clock     clockwork.Clock
	logger    *zap.Logger
}

// New wires the jobs. A nil dependency skips its job.
func New(sw Sweeper, tp TokenPurger, col Collector, specs Specs, clk clockwork.Clock, logger *zap.Logger) (*Scheduler, error) {
	cl := cronLogger{logger}
	s := &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		sweeper:   sw,
		tokens:    tp,
		collector: col,
		clock:     clk,
		logger:    logger,
	}
	if specs.AutoSubmit == "" {
		specs.AutoSubmit = DefaultSpecs.AutoSubmit
	}
	if specs.TokenPurge == "" {
		specs.TokenPurge = DefaultSpecs.TokenPurge
	}
	if specs.MetricsPoll == "" {
		specs.MetricsPoll = DefaultSpecs.MetricsPoll
	}
	jobs := []struct {
		enabled bool
		spec    string
		run     func()
	}{
		{sw != nil, specs.AutoSubmit, s.autoSubmit},
		{tp != nil, specs.TokenPurge, s.purgeTokens},
		{col != nil, specs.MetricsPoll, s.collect},
	}
	for _, j := range jobs {
		if !j.enabled {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, j.run); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

func (s *Scheduler) autoSubmit() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	n, err := s.sweeper.AutoSubmitExpired(ctx)
	if err != nil {
		s.logger.Error("auto-submit sweep failed", zap.Int("buried", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("auto-submitted expired rooms", zap.Int("buried", n))
	}
}

func (s *Scheduler) purgeTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	// Keep revoked tokens for a day so reuse attempts are still logged as invalid.
	n, err := s.tokens.PurgeExpired(ctx, s.clock.Now().Add(-24*time.Hour))
	if err != nil {
		s.logger.Error("purge refresh tokens failed", zap.Error(err))
		return
	}
	s.logger.Info("purged refresh tokens", zap.Int64("deleted", n))
}

func (s *Scheduler) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.collector.Collect(ctx)
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct{ l *zap.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug(msg, zap.Any("kv", kv))
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error(msg, zap.Error(err), zap.Any("kv", kv))
}
