package sensor

import (
	"encoding/json"

	"furitingoasis/soilstation/internal/logger"
)

// Measurement is one entry of the outbound report. Value is omitted for
// diagnostic entries.
type Measurement struct {
	Type   string   `json:"type"`
	Value  *float32 `json:"value,omitempty"`
	Status string   `json:"status"`
	Unit   string   `json:"unit"`
	Error  string   `json:"error,omitempty"`
}

// Report is the wire form published on the message topic.
type Report struct {
	Measurements []Measurement `json:"measurements"`
}

// NewReport converts readings into the wire form. The measurements slice is
// never nil so the key always serializes as an array.
func NewReport(readings []Reading) Report {
	out := Report{Measurements: make([]Measurement, 0, len(readings))}
	for _, r := range readings {
		m := Measurement{Type: r.Name, Status: r.Status, Unit: r.Unit}
		if r.Valid {
			v := r.Value
			m.Value = &v
		} else if r.Err != nil {
			m.Error = r.Err.Error()
		}
		out.Measurements = append(out.Measurements, m)
	}
	return out
}

// Valid reports whether at least one measurement carries a value.
func (r Report) Valid() bool {
	for _, m := range r.Measurements {
		if m.Value != nil {
			return true
		}
	}
	return false
}

// JSON encodes the report. Encoding a Report cannot fail, so errors fall
// back to an empty report rather than nil.
func (r Report) JSON() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		return []byte(`{"measurements":[]}`)
	}
	return b
}

// Set is an ordered group of sensors polled together.
type Set struct {
	sensors []Sensor
	log     *logger.Logger
}

func NewSet(log *logger.Logger, sensors ...Sensor) *Set {
	return &Set{sensors: sensors, log: log}
}

// Sensors returns the members in poll order.
func (s *Set) Sensors() []Sensor {
	return s.sensors
}

// Lookup returns the member with the given name.
func (s *Set) Lookup(name string) (Sensor, bool) {
	for _, sn := range s.sensors {
		if sn.Name() == name {
			return sn, true
		}
	}
	return nil, false
}

// Poll reads every member in order and logs a warning for each invalid one.
func (s *Set) Poll() []Reading {
	readings := make([]Reading, 0, len(s.sensors))
	for _, sn := range s.sensors {
		r := Poll(sn)
		if !r.Valid {
			s.log.Warnw("error reading sensor", "sensor", r.Name, "status", r.Status, "err", r.Err)
		}
		readings = append(readings, r)
	}
	return readings
}

// Report polls the set and builds the wire report.
func (s *Set) Report() Report {
	return NewReport(s.Poll())
}
