// Package scheduler runs work at wall-clock hours once the clock is trusted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"furitingoasis/soilstation/internal/logger"
)

var (
	ErrClockNotSynced = errors.New("clock not synchronized")
	ErrInvalidHour    = errors.New("hour out of range 0-23")
)

const day = 24 * time.Hour

// DurationUntil returns how long after now the next hour:00:00 local time
// occurs. It is zero when now is exactly on the target.
func DurationUntil(now time.Time, hour int) (time.Duration, error) {
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidHour, hour)
	}
	y, m, d := now.Date()
	target := time.Date(y, m, d, hour, 0, 0, 0, now.Location())
	if now.After(target) {
		target = time.Date(y, m, d+1, hour, 0, 0, 0, now.Location())
	}
	return target.Sub(now), nil
}

// Clock is a time source that signals once it has been synchronized.
type Clock interface {
	Now() time.Time
	Synced() <-chan struct{}
}

type Option func(*Scheduler)

// WithPeriod replaces the 24h daily period.
func WithPeriod(d time.Duration) Option {
	return func(s *Scheduler) { s.period = d }
}

// WithRealign makes Daily recompute the wait before every run instead of
// ticking at a fixed period, so the run stays pinned to the hour.
func WithRealign(on bool) Option {
	return func(s *Scheduler) { s.realign = on }
}

type Scheduler struct {
	clock   Clock
	log     *logger.Logger
	period  time.Duration
	realign bool
}

func New(clock Clock, log *logger.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{clock: clock, log: log.Named("scheduler"), period: day}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scheduler) synced() bool {
	select {
	case <-s.clock.Synced():
		return true
	default:
		return false
	}
}

// DurationUntil is DurationUntil against the synchronized clock.
func (s *Scheduler) DurationUntil(hour int) (time.Duration, error) {
	if !s.synced() {
		return 0, ErrClockNotSynced
	}
	return DurationUntil(s.clock.Now(), hour)
}

func (s *Scheduler) WaitSynced(ctx context.Context) error {
	select {
	case <-s.clock.Synced():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// After runs fn once d has elapsed. It returns ctx.Err() without running fn
// when ctx ends first.
func (s *Scheduler) After(ctx context.Context, d time.Duration, fn func(context.Context)) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		fn(ctx)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Every runs fn each period until ctx ends. The first run is one period
// from now.
func (s *Scheduler) Every(ctx context.Context, period time.Duration, fn func(context.Context)) error {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Daily waits for the clock, runs fn once straight away, then at hour and
// every period after that.
func (s *Scheduler) Daily(ctx context.Context, hour int, fn func(context.Context)) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%w: %d", ErrInvalidHour, hour)
	}
	if err := s.WaitSynced(ctx); err != nil {
		return err
	}
	s.log.Infow("clock synchronized, sending baseline report")
	fn(ctx)

	wait, err := s.DurationUntil(hour)
	if err != nil {
		return err
	}
	s.log.Infow("next daily run", "hour", hour, "in", wait.Round(time.Second))
	if err := s.After(ctx, wait, fn); err != nil {
		return err
	}
	if !s.realign {
		return s.Every(ctx, s.period, fn)
	}
	for {
		wait, err := s.DurationUntil(hour)
		if err != nil {
			return err
		}
		// just ran on the hour; skip to the next one
		if wait < time.Minute {
			wait += s.period
		}
		if err := s.After(ctx, wait, fn); err != nil {
			return err
		}
	}
}
