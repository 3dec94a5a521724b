package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"furitingoasis/soilstation/internal/connectivity"
	"furitingoasis/soilstation/internal/logger"
	"furitingoasis/soilstation/internal/metrics"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.Wait() }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type published struct {
	topic    string
	retained bool
	payload  string
}

type fakeClient struct {
	mu          sync.Mutex
	opts        *paho.ClientOptions
	connectErrs []error
	connects    int
	connected   bool
	published   []published
	subscribed  map[string]paho.MessageHandler
	publishErr  error
}

func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	c.connects++
	var err error
	if len(c.connectErrs) > 0 {
		err = c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
	}
	if err == nil {
		c.connected = true
	}
	c.mu.Unlock()
	if err == nil && c.opts.OnConnect != nil {
		c.opts.OnConnect(nil)
	}
	return doneToken(err)
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var text string
	switch p := payload.(type) {
	case string:
		text = p
	case []byte:
		text = string(p)
	}
	c.published = append(c.published, published{topic, retained, text})
	return doneToken(c.publishErr)
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed == nil {
		c.subscribed = make(map[string]paho.MessageHandler)
	}
	c.subscribed[topic] = cb
	return doneToken(nil)
}

func (c *fakeClient) snapshot() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

var testTopics = Topics{
	Command: "station/cmd",
	Message: "feeds/message",
	Error:   "error/message",
	Status:  "status/sensor",
}

func newTestBus(t *testing.T, fc *fakeClient, cfg Config) (*Bus, *metrics.Metrics) {
	t.Helper()
	cfg.Topics = testTopics
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 10 * time.Millisecond
	}
	m := metrics.New()
	b := New(cfg, m, logger.Nop())
	b.newClient = func(opts *paho.ClientOptions) Client {
		fc.opts = opts
		return fc
	}
	return b, m
}

func TestDialSetsWillAndAnnouncesStatus(t *testing.T) {
	fc := &fakeClient{}
	b, _ := newTestBus(t, fc, Config{BrokerURL: "tcp://broker:1883", QoS: 1})
	var got []string
	b.HandleCommands(func(p []byte) { got = append(got, string(p)) })

	if err := b.Dial(context.Background()); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if fc.opts.WillTopic != testTopics.Status || string(fc.opts.WillPayload) != StatusLost || !fc.opts.WillRetained {
		t.Errorf("will = %q %q retained=%t", fc.opts.WillTopic, fc.opts.WillPayload, fc.opts.WillRetained)
	}
	if fc.opts.ClientID == "" || fc.opts.ClientID != b.ClientID() {
		t.Errorf("client id %q", fc.opts.ClientID)
	}

	pubs := fc.snapshot()
	if len(pubs) != 1 || pubs[0] != (published{testTopics.Status, true, StatusConnected}) {
		t.Errorf("published %v", pubs)
	}

	cb, ok := fc.subscribed[testTopics.Command]
	if !ok {
		t.Fatal("command topic not subscribed")
	}
	cb(nil, &fakeMessage{topic: testTopics.Command, payload: []byte(`{"name":"all"}`)})
	if len(got) != 1 || got[0] != `{"name":"all"}` {
		t.Errorf("handler got %v", got)
	}
}

func TestDialRetries(t *testing.T) {
	fc := &fakeClient{connectErrs: []error{errors.New("refused"), errors.New("refused")}}
	b, _ := newTestBus(t, fc, Config{MaxRetries: 3})
	if err := b.Dial(context.Background()); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if fc.connects != 3 {
		t.Errorf("connects = %d, want 3", fc.connects)
	}
}

func TestDialGivesUp(t *testing.T) {
	fc := &fakeClient{connectErrs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	b, _ := newTestBus(t, fc, Config{MaxRetries: 2})
	err := b.Dial(context.Background())
	if !connectivity.IsTransport(err) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if fc.connects != 2 {
		t.Errorf("connects = %d, want 2", fc.connects)
	}
}

func TestPublishWhileDisconnected(t *testing.T) {
	b, m := newTestBus(t, &fakeClient{}, Config{})
	err := b.Message(context.Background(), []byte("{}"))
	if !errors.Is(err, ErrNotConnected) || !connectivity.IsTransport(err) {
		t.Fatalf("err = %v", err)
	}
	if got := testutil.ToFloat64(m.Publishes.WithLabelValues(testTopics.Message, metrics.Failed)); got != 1 {
		t.Errorf("failed publishes = %v", got)
	}
}

func TestMessageAndErrorTopics(t *testing.T) {
	fc := &fakeClient{}
	b, m := newTestBus(t, fc, Config{})
	if err := b.Dial(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := b.Message(ctx, []byte(`{"measurements":[]}`)); err != nil {
		t.Fatal(err)
	}
	if err := b.ErrorMessage(ctx, "invalid JSON"); err != nil {
		t.Fatal(err)
	}
	pubs := fc.snapshot()
	want := []published{
		{testTopics.Status, true, StatusConnected},
		{testTopics.Message, false, `{"measurements":[]}`},
		{testTopics.Error, false, "invalid JSON"},
	}
	if len(pubs) != len(want) {
		t.Fatalf("published %v", pubs)
	}
	for i := range want {
		if pubs[i] != want[i] {
			t.Errorf("publish %d = %v, want %v", i, pubs[i], want[i])
		}
	}
	if got := testutil.ToFloat64(m.Publishes.WithLabelValues(testTopics.Message, metrics.OK)); got != 1 {
		t.Errorf("ok publishes = %v", got)
	}
}

func TestPublishErrorIsTransport(t *testing.T) {
	fc := &fakeClient{}
	b, _ := newTestBus(t, fc, Config{})
	if err := b.Dial(context.Background()); err != nil {
		t.Fatal(err)
	}
	fc.mu.Lock()
	fc.publishErr = errors.New("pipe closed")
	fc.mu.Unlock()
	if err := b.Message(context.Background(), []byte("x")); !connectivity.IsTransport(err) {
		t.Errorf("err = %v", err)
	}
}

func TestClose(t *testing.T) {
	fc := &fakeClient{}
	b, _ := newTestBus(t, fc, Config{})
	_ = b.Dial(context.Background())
	b.Close()
	if b.IsConnected() {
		t.Error("still connected after Close")
	}
}

func TestOnDemandRedials(t *testing.T) {
	fc := &fakeClient{}
	b, _ := newTestBus(t, fc, Config{})
	if err := b.Dial(context.Background()); err != nil {
		t.Fatal(err)
	}
	fc.Disconnect(0)

	if err := (OnDemand{b}).ErrorMessage(context.Background(), "invalid JSON"); err != nil {
		t.Fatalf("ErrorMessage: %v", err)
	}
	if fc.connects != 2 {
		t.Errorf("connects = %d, want 2", fc.connects)
	}
	pubs := fc.snapshot()
	last := pubs[len(pubs)-1]
	if last != (published{testTopics.Error, false, "invalid JSON"}) {
		t.Errorf("last publish %v", last)
	}
}
