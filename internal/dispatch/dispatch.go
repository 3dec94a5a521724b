// Package dispatch connects decoded commands to the actuators and sensors
// and reports the outcome on the bus.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"furitingoasis/soilstation/internal/command"
	"furitingoasis/soilstation/internal/eventbus"
	"furitingoasis/soilstation/internal/logger"
	"furitingoasis/soilstation/internal/metrics"
	"furitingoasis/soilstation/internal/sensor"
)

type Pump interface {
	Set(on bool) error
}

type Lamp interface {
	Set(level uint8) error
}

// Outbox is where replies go: reports on the message topic, text on the
// error topic.
type Outbox interface {
	Message(ctx context.Context, payload []byte) error
	ErrorMessage(ctx context.Context, text string) error
}

// Doer runs an operation with the network link up.
type Doer interface {
	Do(ctx context.Context, op func(ctx context.Context) error) error
}

// Sensors groups the sensor sets each read command polls.
type Sensors struct {
	Barometer *sensor.Set
	Soil      *sensor.Set
	All       *sensor.Set
}

type Handler struct {
	pump    Pump
	lamp    Lamp
	sensors Sensors
	out     Outbox
	link    Doer
	timeout time.Duration
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewHandler(pump Pump, lamp Lamp, sensors Sensors, out Outbox, link Doer, timeout time.Duration, m *metrics.Metrics, log *logger.Logger) *Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		pump:    pump,
		lamp:    lamp,
		sensors: sensors,
		out:     out,
		link:    link,
		timeout: timeout,
		metrics: m,
		log:     log.Named("dispatch"),
	}
}

// Attach subscribes the handler to both router channels.
func (h *Handler) Attach(r *eventbus.Router) []*eventbus.Subscription {
	return []*eventbus.Subscription{
		r.Commands.Subscribe(h.HandleCommand),
		r.Errors.Subscribe(h.HandleError),
	}
}

func (h *Handler) HandleCommand(cmd command.Command) {
	h.metrics.Commands.WithLabelValues(cmd.Kind.String()).Inc()
	h.log.Infow("command", "command", cmd.String())

	switch cmd.Kind {
	case command.Water:
		if err := h.pump.Set(cmd.On); err != nil {
			h.log.Errorw("water command failed", "error", err)
			h.sendError(fmt.Sprintf("water: %v", err))
		}
	case command.Lamp:
		if err := h.lamp.Set(cmd.Level); err != nil {
			h.log.Errorw("lamp command failed", "error", err)
			h.sendError(fmt.Sprintf("lamp: %v", err))
		}
	case command.ReadBarometer:
		h.sendReport(h.sensors.Barometer, "bme280 sensor is not connected")
	case command.ReadSoilMoisture:
		h.sendReport(h.sensors.Soil, "soil moisture sensor is not connected")
	case command.ReadAll:
		h.sendReport(h.sensors.All, "no sensor is connected")
	}
}

// HandleError reports a rejected payload on the error topic.
func (h *Handler) HandleError(err *command.Error) {
	h.metrics.CommandErrors.WithLabelValues(err.Kind.String()).Inc()
	h.log.Warnw("rejected command", "kind", err.Kind.String(), "error", err)
	h.sendError(err.Message())
}

func (h *Handler) sendReport(set *sensor.Set, unavailable string) {
	if set == nil {
		h.sendError(unavailable)
		return
	}
	readings := set.Poll()
	for _, r := range readings {
		h.metrics.SensorReadings.WithLabelValues(r.Name, validity(r)).Inc()
		if r.Valid {
			h.metrics.SensorValue.WithLabelValues(r.Name, r.Unit).Set(float64(r.Value))
		}
	}
	report := sensor.NewReport(readings)
	h.send(func(ctx context.Context) error { return h.out.Message(ctx, report.JSON()) })
	if !report.Valid() {
		h.sendError(unavailable)
	}
}

func (h *Handler) sendError(text string) {
	h.send(func(ctx context.Context) error { return h.out.ErrorMessage(ctx, text) })
}

func (h *Handler) send(op func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.link.Do(ctx, op); err != nil {
		h.log.Warnw("reply not sent", "error", err)
	}
}

func validity(r sensor.Reading) string {
	if r.Valid {
		return metrics.OK
	}
	return metrics.Failed
}
