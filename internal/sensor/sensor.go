// Package sensor normalizes the station's physical sensors into uniform
// readings and the JSON measurement report published on the bus.
package sensor

import (
	"errors"
	"fmt"
)

// Sensor is the capability contract every physical sensor is wrapped behind.
// Implementations serialize their own register access.
type Sensor interface {
	Name() string
	Unit() string
	Measure() (float32, error)
	Status() (string, error)
}

var (
	// ErrHardware reports a bus or driver failure.
	ErrHardware = errors.New("sensor hardware failure")
	// ErrNotConnected reports a physically implausible reading, taken to mean
	// the probe is unplugged.
	ErrNotConnected = errors.New("sensor not connected")
	// ErrDisabled reports a sensor switched off by configuration.
	ErrDisabled = errors.New("sensor disabled")
)

// Error carries the failing sensor and the underlying cause.
type Error struct {
	Sensor string
	Kind   error // one of ErrHardware, ErrNotConnected, ErrDisabled
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Sensor, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Sensor, e.Kind)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func hardwareError(name string, err error) error {
	return &Error{Sensor: name, Kind: ErrHardware, Err: err}
}

func notConnected(name string) error {
	return &Error{Sensor: name, Kind: ErrNotConnected}
}

// Classifier is implemented by sensors that can band an already measured
// value, which lets Poll avoid a second register read for the status.
type Classifier interface {
	Classify(value float32) string
}

// Reading is the outcome of one poll.
type Reading struct {
	Name   string
	Unit   string
	Value  float32
	Status string
	Valid  bool
	Err    error
}

// Diagnostic status strings used when a reading is not valid.
const (
	StatusNotConnected = "sensor not connected"
	StatusDisabled     = "sensor disabled"
	StatusError        = "sensor error"
)

// Poll measures s once and classifies the value. It never fails: an invalid
// reading carries a diagnostic status and the error instead.
func Poll(s Sensor) Reading {
	r := Reading{Name: s.Name(), Unit: s.Unit()}
	value, err := s.Measure()
	if err == nil {
		var status string
		if c, ok := s.(Classifier); ok {
			status = c.Classify(value)
		} else {
			status, err = s.Status()
		}
		if err == nil {
			r.Value, r.Status, r.Valid = value, status, true
			return r
		}
	}
	r.Err = err
	r.Status = diagnosticStatus(err)
	return r
}

func diagnosticStatus(err error) string {
	switch {
	case errors.Is(err, ErrNotConnected):
		return StatusNotConnected
	case errors.Is(err, ErrDisabled):
		return StatusDisabled
	default:
		return StatusError
	}
}
