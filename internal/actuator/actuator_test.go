package actuator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"furitingoasis/soilstation/internal/logger"
	"furitingoasis/soilstation/internal/metrics"
)

type fakeRelay struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *fakeRelay) On() error  { return r.record("on") }
func (r *fakeRelay) Off() error { return r.record("off") }

func (r *fakeRelay) record(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, s)
	return nil
}

func (r *fakeRelay) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return ""
	}
	return r.calls[len(r.calls)-1]
}

type fakeRecorder struct {
	mu      sync.Mutex
	runtime time.Duration
	states  []bool
}

func (f *fakeRecorder) AddPumpRuntime(_ context.Context, _ time.Time, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runtime += d
	return nil
}

func (f *fakeRecorder) SavePumpState(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, on)
	return nil
}

func TestPumpInvertedWiring(t *testing.T) {
	relay := &fakeRelay{}
	p := NewPump(relay, true, 0, nil, metrics.New(), logger.Nop())
	if err := p.Set(true); err != nil {
		t.Fatal(err)
	}
	if relay.last() != "off" {
		t.Errorf("inverted on drove relay %q", relay.last())
	}
	if err := p.Set(false); err != nil {
		t.Fatal(err)
	}
	if relay.last() != "on" {
		t.Errorf("inverted off drove relay %q", relay.last())
	}
}

func TestPumpRecordsRuntime(t *testing.T) {
	rec := &fakeRecorder{}
	m := metrics.New()
	p := NewPump(&fakeRelay{}, false, 0, rec, m, logger.Nop())
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return start }
	_ = p.Set(true)
	if !p.Running() || testutil.ToFloat64(m.PumpRunning) != 1 {
		t.Fatal("pump not running")
	}
	p.now = func() time.Time { return start.Add(45 * time.Second) }
	_ = p.Set(false)

	if p.Running() {
		t.Error("pump still running")
	}
	if rec.runtime != 45*time.Second {
		t.Errorf("recorded %s", rec.runtime)
	}
	if got := testutil.ToFloat64(m.PumpRuntime); got != 45 {
		t.Errorf("runtime metric = %v", got)
	}
	if len(rec.states) != 2 || !rec.states[0] || rec.states[1] {
		t.Errorf("states = %v", rec.states)
	}
}

func TestPumpOffWhenOffRecordsNothing(t *testing.T) {
	rec := &fakeRecorder{}
	p := NewPump(&fakeRelay{}, false, 0, rec, metrics.New(), logger.Nop())
	_ = p.Set(false)
	if rec.runtime != 0 {
		t.Errorf("recorded %s", rec.runtime)
	}
}

func TestPumpMaxRun(t *testing.T) {
	relay := &fakeRelay{}
	p := NewPump(relay, false, 20*time.Millisecond, nil, metrics.New(), logger.Nop())
	_ = p.Set(true)

	deadline := time.Now().Add(2 * time.Second)
	for p.Running() {
		if time.Now().After(deadline) {
			t.Fatal("pump never stopped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if relay.last() != "off" {
		t.Errorf("relay left %q", relay.last())
	}
}

func TestPumpStaleTimerIgnoredAfterRestart(t *testing.T) {
	relay := &fakeRelay{}
	p := NewPump(relay, false, time.Hour, nil, metrics.New(), logger.Nop())
	_ = p.Set(true)
	p.mu.Lock()
	stale := p.gen
	p.mu.Unlock()

	// restart while the old timer is already firing
	_ = p.Set(true)
	p.expire(stale)
	if !p.Running() || relay.last() != "on" {
		t.Fatalf("stale safety timer stopped the restarted pump (relay %q)", relay.last())
	}

	p.mu.Lock()
	current := p.gen
	p.mu.Unlock()
	p.expire(current)
	if p.Running() || relay.last() != "off" {
		t.Errorf("current safety timer did not stop the pump (relay %q)", relay.last())
	}
}

func TestPumpRelayError(t *testing.T) {
	p := NewPump(&fakeRelay{err: errors.New("gpio busy")}, false, 0, nil, metrics.New(), logger.Nop())
	if err := p.Set(true); err == nil {
		t.Fatal("expected error")
	}
	if p.Running() {
		t.Error("pump marked running after relay failure")
	}
}

type fakeDimmer struct {
	level uint8
	err   error
}

func (d *fakeDimmer) Brightness(level uint8) error {
	if d.err != nil {
		return d.err
	}
	d.level = level
	return nil
}

type fakeLevelStore struct{ saved []uint8 }

func (s *fakeLevelStore) SaveLampLevel(_ context.Context, level uint8) error {
	s.saved = append(s.saved, level)
	return nil
}

func TestLampSet(t *testing.T) {
	out := &fakeDimmer{}
	st := &fakeLevelStore{}
	m := metrics.New()
	l := NewLamp(out, st, m, logger.Nop())
	if err := l.Set(180); err != nil {
		t.Fatal(err)
	}
	if out.level != 180 || l.Level() != 180 {
		t.Errorf("level out=%d lamp=%d", out.level, l.Level())
	}
	if len(st.saved) != 1 || st.saved[0] != 180 {
		t.Errorf("saved %v", st.saved)
	}
	if testutil.ToFloat64(m.LampLevel) != 180 {
		t.Error("metric not updated")
	}
}

func TestLampSetError(t *testing.T) {
	st := &fakeLevelStore{}
	l := NewLamp(&fakeDimmer{err: errors.New("pwm")}, st, metrics.New(), logger.Nop())
	if err := l.Set(10); err == nil {
		t.Fatal("expected error")
	}
	if l.Level() != 0 || len(st.saved) != 0 {
		t.Error("failed set must not change state")
	}
}
