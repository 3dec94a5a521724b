package sensor

// Disabled stands in for a sensor that is switched off in the configuration
// or whose driver failed to start. Every read fails with ErrDisabled.
type Disabled struct {
	name string
	unit string
	// Cause is reported alongside ErrDisabled when set.
	Cause error
}

func NewDisabled(name, unit string, cause error) *Disabled {
	return &Disabled{name: name, unit: unit, Cause: cause}
}

func (d *Disabled) Name() string { return d.name }
func (d *Disabled) Unit() string { return d.unit }

func (d *Disabled) Measure() (float32, error) {
	return 0, &Error{Sensor: d.name, Kind: ErrDisabled, Err: d.Cause}
}

func (d *Disabled) Status() (string, error) {
	return "", &Error{Sensor: d.name, Kind: ErrDisabled, Err: d.Cause}
}

// DisabledEnvironment returns placeholders for the three BME280 channels.
func DisabledEnvironment(cause error) []Sensor {
	return []Sensor{
		NewDisabled(TemperatureName, "°C", cause),
		NewDisabled(HumidityName, "%", cause),
		NewDisabled(PressureName, "hPa", cause),
	}
}

// DisabledSoil returns a placeholder for the soil probe.
func DisabledSoil(cause error) Sensor {
	return NewDisabled(SoilMoistureName, "%", cause)
}
