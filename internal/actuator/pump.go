// Package actuator drives the pump relay and the lamp PWM channel.
package actuator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"furitingoasis/soilstation/internal/logger"
	"furitingoasis/soilstation/internal/metrics"
)

// Switch is an on/off output such as a gobot relay driver.
type Switch interface {
	On() error
	Off() error
}

// RuntimeRecorder accumulates pump run time per day.
type RuntimeRecorder interface {
	AddPumpRuntime(ctx context.Context, at time.Time, d time.Duration) error
	SavePumpState(ctx context.Context, on bool) error
}

type Pump struct {
	relay    Switch
	inverted bool
	maxRun   time.Duration
	recorder RuntimeRecorder
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time

	mu    sync.Mutex
	on    bool
	since time.Time
	stop  *time.Timer
	gen   uint64 // identifies the current safety timer
}

// NewPump wraps relay. With inverted wiring the relay's Off drives the pump
// on. A positive maxRun switches the pump off after that long.
func NewPump(relay Switch, inverted bool, maxRun time.Duration, rec RuntimeRecorder, m *metrics.Metrics, log *logger.Logger) *Pump {
	return &Pump{
		relay:    relay,
		inverted: inverted,
		maxRun:   maxRun,
		recorder: rec,
		metrics:  m,
		log:      log.Named("pump"),
		now:      time.Now,
	}
}

func (p *Pump) drive(on bool) error {
	if on != p.inverted {
		return p.relay.On()
	}
	return p.relay.Off()
}

// Set switches the pump. Switching on an already running pump restarts the
// safety timer.
func (p *Pump) Set(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.set(on)
}

func (p *Pump) set(on bool) error {
	if err := p.drive(on); err != nil {
		return fmt.Errorf("pump relay: %w", err)
	}
	if p.stop != nil {
		p.stop.Stop()
		p.stop = nil
	}

	now := p.now()
	switch {
	case on && !p.on:
		p.on, p.since = true, now
		p.log.Infow("pump on")
	case !on && p.on:
		ran := now.Sub(p.since)
		p.on, p.since = false, time.Time{}
		p.log.Infow("pump off", "ran", ran.Round(time.Second))
		p.metrics.PumpRuntime.Add(ran.Seconds())
		if p.recorder != nil {
			if err := p.recorder.AddPumpRuntime(context.Background(), now, ran); err != nil {
				p.log.Warnw("recording pump runtime failed", "error", err)
			}
		}
	}
	if p.recorder != nil {
		if err := p.recorder.SavePumpState(context.Background(), on); err != nil {
			p.log.Warnw("saving pump state failed", "error", err)
		}
	}

	if on {
		p.metrics.PumpRunning.Set(1)
		if p.maxRun > 0 {
			p.gen++
			gen := p.gen
			p.stop = time.AfterFunc(p.maxRun, func() { p.expire(gen) })
		}
	} else {
		p.metrics.PumpRunning.Set(0)
	}
	return nil
}

func (p *Pump) expire(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.on || gen != p.gen {
		return
	}
	p.log.Warnw("pump reached max run time, switching off", "max_run", p.maxRun)
	if err := p.set(false); err != nil {
		p.log.Errorw("pump safety stop failed", "error", err)
	}
}

func (p *Pump) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}
