package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"furitingoasis/soilstation/internal/connectivity"
	"furitingoasis/soilstation/internal/logger"
	"furitingoasis/soilstation/internal/metrics"
)

// Payloads on the status topic.
const (
	StatusConnected = "connected"
	StatusLost      = "connection lost"
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrTimeout      = errors.New("mqtt operation timed out")
)

// Topics is the station's topic layout.
type Topics struct {
	Command string
	Message string
	Error   string
	Status  string
}

// Config holds the configuration for the MQTT client.
type Config struct {
	BrokerURL     string
	ClientID      string
	Username      string
	Password      string
	QoS           byte
	KeepAlive     time.Duration
	MaxRetries    int
	RetryInterval time.Duration
	Topics        Topics
}

// Client is the part of paho.Client the station uses.
type Client interface {
	Connect() paho.Token
	IsConnected() bool
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

func pahoClient(opts *paho.ClientOptions) Client { return paho.NewClient(opts) }

// Bus is the station's session with the broker.
type Bus struct {
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Metrics

	newClient func(*paho.ClientOptions) Client

	mu       sync.RWMutex
	client   Client
	commands func(payload []byte)
}

func New(cfg Config, m *metrics.Metrics, log *logger.Logger) *Bus {
	if cfg.ClientID == "" {
		cfg.ClientID = "soil-station-" + uuid.NewString()[:8]
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Bus{
		cfg:       cfg,
		log:       log.Named("mqtt"),
		metrics:   m,
		newClient: pahoClient,
	}
}

func (b *Bus) ClientID() string { return b.cfg.ClientID }

// HandleCommands registers the consumer of the command topic. It is
// (re)subscribed on every connect.
func (b *Bus) HandleCommands(fn func(payload []byte)) {
	b.mu.Lock()
	b.commands = fn
	b.mu.Unlock()
}

// options builds the paho options: auto reconnect, a retained "connection
// lost" will on the status topic and an on-connect hook that announces the
// station and subscribes to commands.
func (b *Bus) options() *paho.ClientOptions {
	opts := paho.NewClientOptions().AddBroker(b.cfg.BrokerURL)
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	if b.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(b.cfg.KeepAlive)
	}
	opts.SetWill(b.cfg.Topics.Status, StatusLost, b.cfg.QoS, true)
	opts.SetOnConnectHandler(func(paho.Client) { b.onConnect() })
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		b.log.Warnw("connection to broker lost", "error", err)
	})
	return opts
}

func (b *Bus) onConnect() {
	b.mu.RLock()
	client, handler := b.client, b.commands
	b.mu.RUnlock()
	if client == nil {
		return
	}

	b.log.Infow("connected to broker", "broker", b.cfg.BrokerURL, "client_id", b.cfg.ClientID)
	tok := client.Publish(b.cfg.Topics.Status, b.cfg.QoS, true, StatusConnected)
	go b.await(tok, b.cfg.Topics.Status)

	if handler == nil {
		return
	}
	sub := client.Subscribe(b.cfg.Topics.Command, b.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		handler(msg.Payload())
	})
	go func() {
		if sub.Wait() && sub.Error() != nil {
			b.log.Errorw("subscribe failed", "topic", b.cfg.Topics.Command, "error", sub.Error())
		}
	}()
}

func (b *Bus) await(tok paho.Token, topic string) {
	tok.Wait()
	b.metrics.Publishes.WithLabelValues(topic, metrics.Result(tok.Error())).Inc()
	if err := tok.Error(); err != nil {
		b.log.Errorw("publish failed", "topic", topic, "error", err)
	}
}

// Dial connects to the broker, retrying up to MaxRetries times
// RetryInterval apart. Connection errors are transport errors.
func (b *Bus) Dial(ctx context.Context) error {
	b.mu.Lock()
	if b.client == nil {
		b.client = b.newClient(b.options())
	}
	client := b.client
	b.mu.Unlock()

	if client.IsConnected() {
		return nil
	}

	attempt := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(b.cfg.RetryInterval), uint64(b.cfg.MaxRetries-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		attempt++
		err := wait(ctx, client.Connect(), b.cfg.RetryInterval)
		if err != nil {
			b.log.Warnw("failed to connect to broker", "attempt", attempt, "max", b.cfg.MaxRetries, "error", err)
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return connectivity.Transport(fmt.Errorf("connect %s: %w", b.cfg.BrokerURL, err))
	}
	return nil
}

func wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return ErrTimeout
	}
}

func (b *Bus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client != nil && b.client.IsConnected()
}

// Publish sends payload and waits for the broker to acknowledge it.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		b.metrics.Publishes.WithLabelValues(topic, metrics.Failed).Inc()
		return connectivity.Transport(ErrNotConnected)
	}
	err := wait(ctx, client.Publish(topic, b.cfg.QoS, retained, payload), b.cfg.RetryInterval)
	b.metrics.Publishes.WithLabelValues(topic, metrics.Result(err)).Inc()
	if err != nil {
		return connectivity.Transport(fmt.Errorf("publish %s: %w", topic, err))
	}
	b.log.Debugw("published", "topic", topic, "bytes", len(payload))
	return nil
}

// Message publishes on the message (report) topic.
func (b *Bus) Message(ctx context.Context, payload []byte) error {
	return b.Publish(ctx, b.cfg.Topics.Message, payload, false)
}

// ErrorMessage publishes a plain text diagnostic on the error topic.
func (b *Bus) ErrorMessage(ctx context.Context, text string) error {
	return b.Publish(ctx, b.cfg.Topics.Error, []byte(text), false)
}

// Close disconnects the client, waiting up to 250ms for in-flight messages.
func (b *Bus) Close() {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	if client != nil && client.IsConnected() {
		b.log.Infow("disconnecting from broker")
		client.Disconnect(250)
	}
}

// OnDemand re-dials a dropped broker session before each publish. Used when
// the wireless link is only brought up for the duration of an operation.
type OnDemand struct {
	*Bus
}

func (o OnDemand) Message(ctx context.Context, payload []byte) error {
	if err := o.Dial(ctx); err != nil {
		return err
	}
	return o.Bus.Message(ctx, payload)
}

func (o OnDemand) ErrorMessage(ctx context.Context, text string) error {
	if err := o.Dial(ctx); err != nil {
		return err
	}
	return o.Bus.ErrorMessage(ctx, text)
}
