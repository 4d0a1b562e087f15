// Package scheduler fires scan triggers on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/TobiSchelling/cloudwatcher/internal/scan"
)

// DefaultInterval is the time between two scheduled scans.
const DefaultInterval = 6 * time.Hour

// Triggerer starts a scan unless one is already running.
type Triggerer interface {
	Trigger(ctx context.Context) scan.TriggerResult
}

// Scheduler drives a Triggerer from a cron entry.
type Scheduler struct {
	trigger  Triggerer
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

// New creates a scheduler. Intervals are rounded down to whole seconds, with
// a one second minimum.
func New(trigger Triggerer, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{trigger: trigger, interval: interval, logger: logger}
}

// Start registers the periodic trigger and starts the cron loop. Scheduled
// runs use ctx, so cancelling it stops an in-flight scan between items.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	cl := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
	s.entryID = c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		res := s.trigger.Trigger(ctx)
		s.logger.Info("Scheduled scan triggered", zap.String("status", res.Status))
	}))
	c.Start()
	s.cron = c

	s.logger.Info("Scheduler started", zap.Duration("interval", s.interval), zap.Time("next", c.Entry(s.entryID).Next))
	return nil
}

// Next returns the time of the next scheduled trigger, or zero when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Stop stops the cron loop. Scans already triggered keep running; wait on
// the orchestrator to drain them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("Scheduler stopped")
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
