package sensor

import "sync"

// Names of the environment channels.
const (
	TemperatureName = "temperature"
	HumidityName    = "humidity"
	PressureName    = "pressure"
)

// Barometer is the slice of a combined temperature/humidity/pressure driver
// the station needs. Pressure is in pascal, as the gobot BME280 driver
// reports it.
type Barometer interface {
	Temperature() (float32, error)
	Humidity() (float32, error)
	Pressure() (float32, error)
}

// Environment shares one BME280 between its three channels. Each channel is
// read independently so a failing one does not hide the others.
type Environment struct {
	mu  sync.Mutex
	dev Barometer
}

func NewEnvironment(dev Barometer) *Environment {
	return &Environment{dev: dev}
}

func (e *Environment) read(name string, fn func(Barometer) (float32, error)) (float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := fn(e.dev)
	if err != nil {
		return 0, hardwareError(name, err)
	}
	return v, nil
}

func (e *Environment) Temperature() Sensor {
	return &channel{
		env: e, name: TemperatureName, unit: "°C",
		read:     func(b Barometer) (float32, error) { return b.Temperature() },
		classify: TemperatureBand,
	}
}

func (e *Environment) Humidity() Sensor {
	return &channel{
		env: e, name: HumidityName, unit: "%",
		read:     func(b Barometer) (float32, error) { return b.Humidity() },
		classify: HumidityBand,
	}
}

func (e *Environment) Pressure() Sensor {
	return &channel{
		env: e, name: PressureName, unit: "hPa",
		read: func(b Barometer) (float32, error) {
			pa, err := b.Pressure()
			return pa / 100, err
		},
		classify: PressureBand,
	}
}

// Sensors returns temperature, humidity and pressure in report order.
func (e *Environment) Sensors() []Sensor {
	return []Sensor{e.Temperature(), e.Humidity(), e.Pressure()}
}

type channel struct {
	env      *Environment
	name     string
	unit     string
	read     func(Barometer) (float32, error)
	classify func(float32) string
}

func (c *channel) Name() string { return c.name }
func (c *channel) Unit() string { return c.unit }

func (c *channel) Measure() (float32, error) {
	return c.env.read(c.name, c.read)
}

func (c *channel) Status() (string, error) {
	v, err := c.Measure()
	if err != nil {
		return "", err
	}
	return c.classify(v), nil
}

func (c *channel) Classify(value float32) string {
	return c.classify(value)
}

func TemperatureBand(celsius float32) string {
	switch {
	case celsius < 0:
		return "Freezing"
	case celsius < 18:
		return "Cold"
	case celsius < 25:
		return "Optimal"
	default:
		return "Hot"
	}
}

func HumidityBand(percent float32) string {
	switch {
	case percent < 30:
		return "Dry"
	case percent < 50:
		return "Optimal"
	case percent < 70:
		return "Moist"
	default:
		return "Wet"
	}
}

func PressureBand(hpa float32) string {
	switch {
	case hpa < 1000:
		return "Low"
	case hpa < 1013:
		return "Optimal"
	default:
		return "High"
	}
}
