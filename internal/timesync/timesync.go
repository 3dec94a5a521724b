// Package timesync keeps a trusted wall clock from NTP and tells the
// scheduler when it can rely on it.
package timesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/cenkalti/backoff/v4"

	"furitingoasis/soilstation/internal/logger"
)

var ErrNoServers = errors.New("no ntp servers configured")

// QueryFunc asks one server for the offset of the local clock.
type QueryFunc func(host string, timeout time.Duration) (time.Duration, error)

// NTPQuery is the default QueryFunc.
func NTPQuery(host string, timeout time.Duration) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(host, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

type Config struct {
	Servers    []string
	Timeout    time.Duration
	Resync     time.Duration
	MaxBackoff time.Duration
}

// Syncer corrects time.Now by the offset measured against the configured
// servers. Synced is closed after the first successful query.
type Syncer struct {
	cfg   Config
	log   *logger.Logger
	query QueryFunc
	now   func() time.Time

	mu       sync.RWMutex
	offset   time.Duration
	lastSync time.Time

	synced chan struct{}
	once   sync.Once
}

func New(cfg Config, log *logger.Logger) *Syncer {
	return &Syncer{
		cfg:    cfg,
		log:    log.Named("timesync"),
		query:  NTPQuery,
		now:    time.Now,
		synced: make(chan struct{}),
	}
}

// WithQuery replaces the NTP client. Used by tests.
func (s *Syncer) WithQuery(q QueryFunc) *Syncer {
	s.query = q
	return s
}

func (s *Syncer) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now().Add(s.offset)
}

func (s *Syncer) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// LastSync is the zero time until the first successful sync.
func (s *Syncer) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

func (s *Syncer) Synced() <-chan struct{} { return s.synced }

func (s *Syncer) IsSynced() bool {
	select {
	case <-s.synced:
		return true
	default:
		return false
	}
}

// MarkSynced trusts the system clock as is.
func (s *Syncer) MarkSynced() {
	s.once.Do(func() { close(s.synced) })
}

// SyncOnce tries each server in order and keeps the first valid offset.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	if len(s.cfg.Servers) == 0 {
		return ErrNoServers
	}
	var errs []error
	for _, host := range s.cfg.Servers {
		if err := ctx.Err(); err != nil {
			return err
		}
		offset, err := s.query(host, s.cfg.Timeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", host, err))
			continue
		}
		s.mu.Lock()
		s.offset = offset
		s.lastSync = s.now().Add(offset)
		s.mu.Unlock()
		s.log.Infow("clock synchronized", "server", host, "offset", offset)
		s.MarkSynced()
		return nil
	}
	return fmt.Errorf("ntp sync failed: %w", errors.Join(errs...))
}

// Run blocks until the first sync succeeds, retrying with exponential
// backoff, then re-syncs every Resync until ctx ends. With no servers the
// system clock is trusted straight away.
func (s *Syncer) Run(ctx context.Context) error {
	if len(s.cfg.Servers) == 0 {
		s.log.Warnw("no ntp servers configured, trusting the system clock")
		s.MarkSynced()
		<-ctx.Done()
		return ctx.Err()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxElapsedTime = 0
	if s.cfg.MaxBackoff > 0 {
		bo.MaxInterval = s.cfg.MaxBackoff
		bo.InitialInterval = min(bo.InitialInterval, s.cfg.MaxBackoff)
	}
	err := backoff.RetryNotify(func() error {
		return s.SyncOnce(ctx)
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		s.log.Warnw("time sync failed, retrying", "error", err, "in", next)
	})
	if err != nil {
		return err
	}
	if s.cfg.Resync <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	t := time.NewTicker(s.cfg.Resync)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := s.SyncOnce(ctx); err != nil {
				s.log.Warnw("periodic time sync failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
