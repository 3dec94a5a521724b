package connectivity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"furitingoasis/soilstation/internal/logger"
)

// Link is the driver for the physical wireless interface.
type Link interface {
	// Configure applies the station profile (radio on, credentials).
	Configure(ctx context.Context) error
	// Connect brings the interface up using the configured profile.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

type Options struct {
	// SettleDelay is waited after the link comes up before any traffic.
	SettleDelay time.Duration
	// PowerSave drops the link again after Do brought it up.
	PowerSave bool
}

// Manager is the single writer of the link state.
type Manager struct {
	link Link
	log  *logger.Logger
	opts Options

	opMu       sync.Mutex
	configured bool

	state atomic.Int32

	subMu sync.Mutex
	subs  map[*StatusSubscription]struct{}

	sleep func(ctx context.Context, d time.Duration) error
}

func NewManager(link Link, opts Options, log *logger.Logger) *Manager {
	return &Manager{
		link:  link,
		log:   log.Named("wifi"),
		opts:  opts,
		subs:  make(map[*StatusSubscription]struct{}),
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) State() State { return State(m.state.Load()) }

// IsConnected never waits for an operation in progress.
func (m *Manager) IsConnected() bool { return m.State() == Connected }

func (m *Manager) setState(s State) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	prev := State(m.state.Swap(int32(s)))
	if prev == s {
		return
	}
	m.log.Debugw("link state", "from", prev, "to", s)
	for sub := range m.subs {
		sub.push(s == Connected)
	}
}

// Subscribe returns a stream starting with the current connectivity.
func (m *Manager) Subscribe() *StatusSubscription {
	var sub *StatusSubscription
	sub = newStatusSubscription(func() {
		m.subMu.Lock()
		delete(m.subs, sub)
		m.subMu.Unlock()
	})

	m.subMu.Lock()
	m.subs[sub] = struct{}{}
	sub.push(m.IsConnected())
	m.subMu.Unlock()
	return sub
}

// Connect configures the interface and brings it up.
func (m *Manager) Connect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.setState(Connecting)
	if err := m.link.Configure(ctx); err != nil {
		m.setState(Disconnected)
		return Transport(fmt.Errorf("configure link: %w", err))
	}
	m.configured = true
	if err := m.link.Connect(ctx); err != nil {
		m.setState(Disconnected)
		return Transport(fmt.Errorf("connect link: %w", err))
	}
	m.setState(Connected)
	m.log.Infow("link connected")
	return nil
}

// Reconnect drops the link and brings it back with the retained profile.
// The profile is applied first when Connect never ran.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.setState(Reconnecting)
	if err := m.link.Disconnect(ctx); err != nil {
		m.log.Debugw("disconnect before reconnect failed", "error", err)
	}
	if !m.configured {
		if err := m.link.Configure(ctx); err != nil {
			m.setState(Disconnected)
			return Transport(fmt.Errorf("configure link: %w", err))
		}
		m.configured = true
	}
	if err := m.link.Connect(ctx); err != nil {
		m.setState(Disconnected)
		m.log.Warnw("reconnect failed", "error", err)
		return Transport(fmt.Errorf("reconnect link: %w", err))
	}
	m.setState(Connected)
	m.log.Infow("link reconnected")
	return nil
}

func (m *Manager) Disconnect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	err := m.link.Disconnect(ctx)
	m.setState(Disconnected)
	if err != nil {
		return fmt.Errorf("disconnect link: %w", err)
	}
	return nil
}

// Do runs op with the link up. When the link is down it is reconnected and
// given SettleDelay first. A transport error from op triggers one reconnect
// and one more attempt; any other error is returned as is.
func (m *Manager) Do(ctx context.Context, op func(ctx context.Context) error) error {
	broughtUp := false
	if !m.IsConnected() {
		if err := m.Reconnect(ctx); err != nil {
			return err
		}
		broughtUp = true
		if err := m.sleep(ctx, m.opts.SettleDelay); err != nil {
			return err
		}
	}
	if m.opts.PowerSave {
		defer func() {
			if !broughtUp {
				return
			}
			if err := m.Disconnect(context.WithoutCancel(ctx)); err != nil {
				m.log.Warnw("power save disconnect failed", "error", err)
			}
		}()
	}

	attempt := 0
	retry := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1), ctx)
	return backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			m.log.Infow("transport error, reconnecting once")
			if err := m.Reconnect(ctx); err != nil {
				return err
			}
			broughtUp = true
			if err := m.sleep(ctx, m.opts.SettleDelay); err != nil {
				return backoff.Permanent(err)
			}
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransport(err) {
			return backoff.Permanent(err)
		}
		return err
	}, retry)
}
