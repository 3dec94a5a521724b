package sensor

import (
	"fmt"
	"sync"
)

// AnalogReader is the slice of an ADC driver the soil probe needs. The
// gobot ADS1x15 driver satisfies it.
type AnalogReader interface {
	AnalogRead(pin string) (int, error)
}

// SoilStatus is the moisture band derived from the percentage.
type SoilStatus int

const (
	SoilDry SoilStatus = iota
	SoilOptimal
	SoilDamp
	SoilWet
)

func (s SoilStatus) String() string {
	switch s {
	case SoilDry:
		return "Dry"
	case SoilOptimal:
		return "Optimal"
	case SoilDamp:
		return "Damp"
	case SoilWet:
		return "Wet"
	default:
		return "Unknown"
	}
}

// SoilBand buckets a moisture percentage.
func SoilBand(percent float32) SoilStatus {
	switch {
	case percent < 20:
		return SoilDry
	case percent < 40:
		return SoilOptimal
	case percent < 55:
		return SoilDamp
	default:
		return SoilWet
	}
}

// Calibration is the raw ADC window of the capacitive probe. A higher raw
// value means drier soil.
type Calibration struct {
	Dry int // raw at or above: 0%
	Wet int // raw at or below: 100%
	Min int // raw below: probe unplugged
}

// DefaultCalibration matches a capacitive v1.2 probe on a 12-bit ADC.
var DefaultCalibration = Calibration{Dry: 2800, Wet: 1300, Min: 1000}

func (c Calibration) validate() error {
	if c.Dry <= c.Wet {
		return fmt.Errorf("dry raw %d must be above wet raw %d", c.Dry, c.Wet)
	}
	if c.Min >= c.Wet {
		return fmt.Errorf("min raw %d must be below wet raw %d", c.Min, c.Wet)
	}
	return nil
}

// Percent maps a raw reading onto 0-100%, clamped at the calibration window.
func (c Calibration) Percent(raw int) float32 {
	if raw >= c.Dry {
		return 0
	}
	if raw <= c.Wet {
		return 100
	}
	return float32(c.Dry-raw) / float32(c.Dry-c.Wet) * 100
}

// SoilMoisture reads a capacitive probe through one ADC channel.
type SoilMoisture struct {
	mu      sync.Mutex
	adc     AnalogReader
	channel string
	cal     Calibration
	samples int
}

// SoilMoistureName is the report type of the soil probe.
const SoilMoistureName = "soil-moisture"

// NewSoilMoisture wraps adc channel with the given calibration. samples raw
// reads are averaged per measurement.
func NewSoilMoisture(adc AnalogReader, channel string, cal Calibration, samples int) (*SoilMoisture, error) {
	if err := cal.validate(); err != nil {
		return nil, err
	}
	if samples < 1 {
		samples = 1
	}
	return &SoilMoisture{adc: adc, channel: channel, cal: cal, samples: samples}, nil
}

func (s *SoilMoisture) Name() string { return SoilMoistureName }
func (s *SoilMoisture) Unit() string { return "%" }

// Raw returns the averaged ADC value, or ErrNotConnected when the average is
// below the plausible minimum.
func (s *SoilMoisture) Raw() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := 0
	for i := 0; i < s.samples; i++ {
		v, err := s.adc.AnalogRead(s.channel)
		if err != nil {
			return 0, hardwareError(SoilMoistureName, err)
		}
		sum += v
	}
	avg := sum / s.samples
	if avg < s.cal.Min {
		return avg, notConnected(SoilMoistureName)
	}
	return avg, nil
}

// Measure returns the moisture percentage.
func (s *SoilMoisture) Measure() (float32, error) {
	raw, err := s.Raw()
	if err != nil {
		return 0, err
	}
	return s.cal.Percent(raw), nil
}

// SoilStatus measures and bands the soil.
func (s *SoilMoisture) SoilStatus() (SoilStatus, error) {
	p, err := s.Measure()
	if err != nil {
		return 0, err
	}
	return SoilBand(p), nil
}

func (s *SoilMoisture) Status() (string, error) {
	st, err := s.SoilStatus()
	if err != nil {
		return "", err
	}
	return st.String(), nil
}

func (s *SoilMoisture) Classify(value float32) string {
	return SoilBand(value).String()
}
