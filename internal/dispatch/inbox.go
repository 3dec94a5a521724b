package dispatch

import (
	"context"

	"github.com/google/uuid"

	"furitingoasis/soilstation/internal/logger"
)

// Ingester turns a raw payload into a routed command or error.
type Ingester interface {
	Ingest(payload []byte)
}

// IngestFunc adapts a function to Ingester.
type IngestFunc func(payload []byte)

func (f IngestFunc) Ingest(payload []byte) { f(payload) }

type envelope struct {
	id      string
	payload []byte
}

// Inbox moves payloads off the MQTT client's callback goroutine onto a
// single worker, so handlers may publish without stalling the client and
// commands are still processed in arrival order.
type Inbox struct {
	queue chan envelope
	log   *logger.Logger
}

func NewInbox(size int, log *logger.Logger) *Inbox {
	if size < 1 {
		size = 1
	}
	return &Inbox{queue: make(chan envelope, size), log: log.Named("inbox")}
}

// Push enqueues a copy of payload. It never blocks; when the queue is full
// the payload is dropped and false returned.
func (in *Inbox) Push(payload []byte) bool {
	env := envelope{id: uuid.NewString(), payload: append([]byte(nil), payload...)}
	select {
	case in.queue <- env:
		in.log.Debugw("payload queued", "id", env.id, "bytes", len(payload))
		return true
	default:
		in.log.Warnw("inbox full, dropping payload", "id", env.id)
		return false
	}
}

// Run feeds queued payloads to dst until ctx ends.
func (in *Inbox) Run(ctx context.Context, dst Ingester) error {
	for {
		select {
		case env := <-in.queue:
			in.log.Debugw("processing payload", "id", env.id)
			dst.Ingest(env.payload)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
