// Package scheduler provides scheduling logic for Akasha.
//
// It wraps cron so the daily passage broadcast fires at a fixed wall-clock
// time in a configured timezone.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTimezone is the timezone used when none is configured.
const DefaultTimezone = "Asia/Jakarta"

// Opts holds configuration options for the scheduler.
type Opts struct {
	// Timezone is an IANA timezone name, e.g. "Asia/Jakarta".
	Timezone string
}

// Option defines a configuration option for the scheduler.
type Option func(*Opts)

// WithTimezone sets the timezone cron expressions are evaluated in.
func WithTimezone(tz string) Option {
	return func(o *Opts) {
		o.Timezone = tz
	}
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron    *cron.Cron
	loc     *time.Location
	running atomic.Bool
}

// NewScheduler creates and starts a cron scheduler in the configured
// timezone. It returns an error when the timezone cannot be loaded.
func NewScheduler(opts ...Option) (*Scheduler, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		slog.Error("Scheduler failed to load timezone", "timezone", tz, "error", err)
		return nil, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}

	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()

	s := &Scheduler{cron: c, loc: loc}
	s.running.Store(true)
	slog.Debug("Scheduler started", "timezone", tz)
	return s, nil
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddDailyJob schedules a task to run once a day at the given local time.
func (s *Scheduler) AddDailyJob(hour, minute int, task func()) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("invalid hour %d", hour)
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("invalid minute %d", minute)
	}
	expr := fmt.Sprintf("%d %d * * *", minute, hour)
	slog.Debug("Scheduler.AddDailyJob: scheduling daily job", "expr", expr, "timezone", s.loc.String())
	return s.AddJob(expr, task)
}

// Location returns the timezone the scheduler evaluates expressions in.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.running.Store(false)
	s.cron.Stop()
}
