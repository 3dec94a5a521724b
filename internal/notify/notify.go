package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"furitingoasis/soilstation/internal/connectivity"
	"furitingoasis/soilstation/internal/logger"
	"furitingoasis/soilstation/internal/metrics"
	"furitingoasis/soilstation/internal/sensor"
)

// Notification is one message for every sink. Text is for humans, Report
// for machines.
type Notification struct {
	Text   string
	Report sensor.Report
}

type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Publisher is the message-topic side of the MQTT bus.
type Publisher interface {
	Message(ctx context.Context, payload []byte) error
}

// MQTTSink publishes the report JSON on the message topic.
type MQTTSink struct {
	pub Publisher
}

func NewMQTTSink(pub Publisher) *MQTTSink { return &MQTTSink{pub: pub} }

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Deliver(ctx context.Context, n Notification) error {
	return s.pub.Message(ctx, n.Report.JSON())
}

type WebhookConfig struct {
	URL             string
	Timeout         time.Duration
	BreakerFailures int
	BreakerOpen     time.Duration
}

// WebhookSink posts the text to a chat webhook. Consecutive failures open a
// circuit breaker that rejects deliveries until BreakerOpen has passed.
type WebhookSink struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	log    *logger.Logger
}

func NewWebhookSink(cfg WebhookConfig, log *logger.Logger) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 3
	}
	s := &WebhookSink{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.Named("webhook"),
	}
	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "webhook",
		Timeout: cfg.BreakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warnw("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(ctx context.Context, n Notification) error {
	body, err := WebhookBody(n.Text)
	if err != nil {
		return err
	}
	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.post(ctx, body)
	})
	return err
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	resp, err := s.client.Do(req)
	if err != nil {
		return connectivity.Transport(fmt.Errorf("post webhook: %w", err))
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	s.log.Debugw("webhook response", "status", resp.StatusCode, "body", string(snippet))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Doer runs an operation with the network link up.
type Doer interface {
	Do(ctx context.Context, op func(ctx context.Context) error) error
}

// Notifier fans a notification out to every sink through the link.
type Notifier struct {
	link    Doer
	sinks   []Sink
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewNotifier(link Doer, m *metrics.Metrics, log *logger.Logger, sinks ...Sink) *Notifier {
	return &Notifier{link: link, sinks: sinks, metrics: m, log: log.Named("notify")}
}

// Send delivers n to every sink. A failing sink does not stop the others;
// the returned error joins all failures.
func (n *Notifier) Send(ctx context.Context, note Notification) error {
	var errs []error
	for _, sink := range n.sinks {
		err := n.link.Do(ctx, func(ctx context.Context) error {
			return sink.Deliver(ctx, note)
		})
		n.metrics.Notifications.WithLabelValues(sink.Name(), metrics.Result(err)).Inc()
		if err != nil {
			n.log.Warnw("notification not delivered", "sink", sink.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		n.log.Infow("notification delivered", "sink", sink.Name())
	}
	return errors.Join(errs...)
}
