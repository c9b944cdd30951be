// Package scheduler publishes a schedule trigger event every minute. The
// trigger registry decides which schedule graphs fire for that tick.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/nexuspro/flows/pkg/protocol"
	"github.com/robfig/cron/v3"
)

const EveryMinute = "* * * * *"

var ErrNotStarted = errors.New("scheduler not started")

// Source drives schedule triggers from a robfig cron job.
type Source struct {
	logger   *slog.Logger
	spec     string
	location *time.Location

	mu        sync.Mutex
	cron      *cron.Cron
	publisher protocol.TriggerPublisher
	cancel    context.CancelFunc
}

var _ protocol.Source = (*Source)(nil)

type Option func(*Source)

// WithLocation evaluates ticks in loc instead of UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Source) {
		s.location = loc
	}
}

// WithSpec overrides the tick frequency. Ticks are still truncated to the minute.
func WithSpec(spec string) Option {
	return func(s *Source) {
		s.spec = spec
	}
}

func New(logger *slog.Logger, opts ...Option) *Source {
	s := &Source{
		logger:   logger.With("module", "scheduler_source"),
		spec:     EveryMinute,
		location: time.UTC,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Source) Validate() error {
	_, err := cron.ParseStandard(s.spec)

	return err
}

func (s *Source) Start(ctx context.Context, publisher protocol.TriggerPublisher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	c := cron.New(cron.WithLocation(s.location))

	if _, err := c.AddFunc(s.spec, func() { s.Tick(runCtx, time.Now()) }); err != nil {
		cancel()

		return err
	}

	s.cron = c
	s.publisher = publisher
	s.cancel = cancel

	c.Start()

	s.logger.InfoContext(ctx, "Scheduler started", "spec", s.spec, "location", s.location.String())

	return nil
}

// Stop waits for a tick in progress to finish or for ctx to end.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	done := c.Stop()
	defer cancel()

	select {
	case <-done.Done():
		s.logger.InfoContext(ctx, "Scheduler stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick publishes the schedule event for the minute containing at.
func (s *Source) Tick(ctx context.Context, at time.Time) {
	s.mu.Lock()
	publisher := s.publisher
	s.mu.Unlock()

	if publisher == nil {
		s.logger.WarnContext(ctx, "Dropping tick", "error", ErrNotStarted)

		return
	}

	tick := at.In(s.location).Truncate(time.Minute)

	runs, err := publisher.Publish(ctx, models.TriggerTypeSchedule, map[string]string{
		models.TickPayloadKey: tick.Format(time.RFC3339),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish schedule tick", "tick", tick, "error", err)
	}

	if len(runs) > 0 {
		s.logger.InfoContext(ctx, "Schedule tick started runs", "tick", tick, "runs", len(runs))
	}
}
