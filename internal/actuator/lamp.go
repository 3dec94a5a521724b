package actuator

import (
	"context"
	"fmt"
	"sync"

	"furitingoasis/soilstation/internal/logger"
	"furitingoasis/soilstation/internal/metrics"
)

// Dimmer is a PWM output such as a gobot LED driver.
type Dimmer interface {
	Brightness(level uint8) error
}

type LevelStore interface {
	SaveLampLevel(ctx context.Context, level uint8) error
}

type Lamp struct {
	out     Dimmer
	store   LevelStore
	metrics *metrics.Metrics
	log     *logger.Logger

	mu    sync.Mutex
	level uint8
}

func NewLamp(out Dimmer, store LevelStore, m *metrics.Metrics, log *logger.Logger) *Lamp {
	return &Lamp{out: out, store: store, metrics: m, log: log.Named("lamp")}
}

// Set drives the lamp to level and remembers it across restarts.
func (l *Lamp) Set(level uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.out.Brightness(level); err != nil {
		return fmt.Errorf("lamp pwm: %w", err)
	}
	l.level = level
	l.metrics.LampLevel.Set(float64(level))
	l.log.Infow("lamp level set", "level", level)
	if l.store != nil {
		if err := l.store.SaveLampLevel(context.Background(), level); err != nil {
			l.log.Warnw("saving lamp level failed", "error", err)
		}
	}
	return nil
}

func (l *Lamp) Level() uint8 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}
