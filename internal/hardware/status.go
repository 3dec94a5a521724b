package hardware

import (
	"context"
	"errors"

	"furitingoasis/soilstation/internal/logger"
)

// StatusLight is the bi-colour LED pair next to the enclosure gland: green
// while the link is up, red otherwise.
type StatusLight struct {
	green Switch
	red   Switch
	log   *logger.Logger
}

func NewStatusLight(green, red Switch, log *logger.Logger) *StatusLight {
	return &StatusLight{green: green, red: red, log: log}
}

func (l *StatusLight) Set(connected bool) error {
	if connected {
		return errors.Join(l.red.Off(), l.green.On())
	}
	return errors.Join(l.green.Off(), l.red.On())
}

// Follow mirrors every value from updates until the channel closes or ctx
// ends.
func (l *StatusLight) Follow(ctx context.Context, updates <-chan bool) {
	for {
		select {
		case up, ok := <-updates:
			if !ok {
				return
			}
			if err := l.Set(up); err != nil {
				l.log.Warnw("status light not updated", "connected", up, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
