// Package metrics exposes the station's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "station"

// Result label values.
const (
	OK     = "ok"
	Failed = "failed"
)

type Metrics struct {
	Registry *prometheus.Registry

	Commands       *prometheus.CounterVec
	CommandErrors  *prometheus.CounterVec
	SensorReadings *prometheus.CounterVec
	SensorValue    *prometheus.GaugeVec
	Notifications  *prometheus.CounterVec
	Publishes      *prometheus.CounterVec
	LinkUp         prometheus.Gauge
	PumpRunning    prometheus.Gauge
	PumpRuntime    prometheus.Counter
	LampLevel      prometheus.Gauge
}

// New registers every collector on a private registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Decoded commands by kind.",
		}, []string{"kind"}),
		CommandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_errors_total",
			Help:      "Rejected command payloads by error kind.",
		}, []string{"kind"}),
		SensorReadings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_readings_total",
			Help:      "Sensor polls by sensor and result.",
		}, []string{"sensor", "result"}),
		SensorValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_value",
			Help:      "Last valid value per sensor.",
		}, []string{"sensor", "unit"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by sink and result.",
		}, []string{"sink", "result"}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_publishes_total",
			Help:      "MQTT publishes by topic and result.",
		}, []string{"topic", "result"}),
		LinkUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_up",
			Help:      "1 while the wireless link is connected.",
		}),
		PumpRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pump_running",
			Help:      "1 while the pump relay is on.",
		}),
		PumpRuntime: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pump_runtime_seconds_total",
			Help:      "Accumulated pump run time.",
		}),
		LampLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lamp_level",
			Help:      "Current lamp PWM level (0-255).",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Commands,
		m.CommandErrors,
		m.SensorReadings,
		m.SensorValue,
		m.Notifications,
		m.Publishes,
		m.LinkUp,
		m.PumpRunning,
		m.PumpRuntime,
		m.LampLevel,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveLink follows a connectivity status stream until it is closed.
func (m *Metrics) ObserveLink(status <-chan bool) {
	for up := range status {
		if up {
			m.LinkUp.Set(1)
		} else {
			m.LinkUp.Set(0)
		}
	}
}

// Result maps an error to the result label.
func Result(err error) string {
	if err != nil {
		return Failed
	}
	return OK
}
