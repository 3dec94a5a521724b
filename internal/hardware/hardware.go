// Package hardware wires the Raspberry Pi peripherals through gobot: the
// BME280 and the ADS1115 on I2C, the pump relay, the lamp PWM output and the
// status LEDs on GPIO.
package hardware

import (
	"errors"
	"fmt"

	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/raspi"

	"furitingoasis/soilstation/internal/config"
	"furitingoasis/soilstation/internal/logger"
	"furitingoasis/soilstation/internal/sensor"
)

var errNotEnabled = errors.New("disabled in configuration")

// Switch is a two-state GPIO output.
type Switch interface {
	On() error
	Off() error
}

// Dimmer is a PWM output.
type Dimmer interface {
	Brightness(level uint8) error
}

// Station holds the started peripherals. Sensors that failed to start are
// replaced by placeholders that report themselves disabled.
type Station struct {
	robot *gobot.Robot

	Environment []sensor.Sensor
	Soil        sensor.Sensor
	Pump        Switch
	Lamp        Dimmer
	Status      *StatusLight
}

// Open connects the Pi adaptor and starts every driver. A failing sensor
// does not stop the station; it is logged and swapped for a placeholder.
// Actuator failures surface later as errors from their commands.
func Open(name string, hw config.HardwareConfig, soil config.SoilConfig, log *logger.Logger) (*Station, error) {
	log = log.Named("hardware")
	cal := sensor.Calibration{Dry: soil.DryRaw, Wet: soil.WetRaw, Min: soil.MinRaw}

	r := raspi.NewAdaptor()
	bme280 := i2c.NewBME280Driver(r, i2c.WithBus(hw.I2CBus), i2c.WithAddress(hw.BME280Address))
	ads1115 := i2c.NewADS1115Driver(r, i2c.WithBus(hw.I2CBus), i2c.WithAddress(hw.ADS1115Address))
	pumpRelay := gpio.NewRelayDriver(r, hw.PumpPin)
	lampLed := gpio.NewLedDriver(r, hw.LampPin)
	greenLed := gpio.NewRelayDriver(r, hw.StatusGreenPin)
	redLed := gpio.NewRelayDriver(r, hw.StatusRedPin)

	devices := []gobot.Device{pumpRelay, lampLed, greenLed, redLed}
	if hw.EnableBME280 {
		devices = append(devices, bme280)
	}
	if hw.EnableSoil {
		devices = append(devices, ads1115)
	}

	robot := gobot.NewRobot(name,
		[]gobot.Connection{r},
		devices,
	)
	if err := robot.Start(false); err != nil {
		log.Warnw("robot started with errors", "error", err)
	}

	env := environmentSensors(hw.EnableBME280, bme280, log)
	soilSensor, err := soilSensor(hw.EnableSoil, ads1115, hw.SoilChannel, cal, soil.Samples, log)
	if err != nil {
		robot.Stop()
		return nil, err
	}

	return &Station{
		robot:       robot,
		Environment: env,
		Soil:        soilSensor,
		Pump:        pumpRelay,
		Lamp:        lampLed,
		Status:      NewStatusLight(greenLed, redLed, log),
	}, nil
}

// Sensors returns every sensor in report order: soil first, then the
// environment channels.
func (s *Station) Sensors() []sensor.Sensor {
	return append([]sensor.Sensor{s.Soil}, s.Environment...)
}

// Close halts every driver and releases the adaptor.
func (s *Station) Close() error {
	return s.robot.Stop()
}

// environmentSensors probes the BME280 once and falls back to placeholders
// when it does not answer.
func environmentSensors(enabled bool, dev sensor.Barometer, log *logger.Logger) []sensor.Sensor {
	if !enabled {
		return sensor.DisabledEnvironment(errNotEnabled)
	}
	if _, err := dev.Temperature(); err != nil {
		log.Errorw("BME280 sensor is not connected", "error", err)
		return sensor.DisabledEnvironment(err)
	}
	log.Infow("BME280 sensor ready")
	return sensor.NewEnvironment(dev).Sensors()
}

// soilSensor probes the ADC once. A bus failure disables the probe; an
// implausible value only means the probe is unplugged right now, which the
// sensor reports per reading.
func soilSensor(enabled bool, adc sensor.AnalogReader, channel string, cal sensor.Calibration, samples int, log *logger.Logger) (sensor.Sensor, error) {
	if !enabled {
		return sensor.DisabledSoil(errNotEnabled), nil
	}
	s, err := sensor.NewSoilMoisture(adc, channel, cal, samples)
	if err != nil {
		return nil, fmt.Errorf("soil calibration: %w", err)
	}
	if _, err := s.Raw(); err != nil && errors.Is(err, sensor.ErrHardware) {
		log.Errorw("soil moisture sensor is not connected", "error", err)
		return sensor.DisabledSoil(err), nil
	}
	log.Infow("soil moisture sensor ready", "channel", channel)
	return s, nil
}
