// Package console serves the station's local HTTP API: live readings,
// status, command injection and Prometheus metrics.
package console

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/form/v4"
	"go.uber.org/zap"

	"furitingoasis/soilstation/internal/command"
	"furitingoasis/soilstation/internal/connectivity"
	"furitingoasis/soilstation/internal/logger"
	"furitingoasis/soilstation/internal/metrics"
	"furitingoasis/soilstation/internal/sensor"
)

type LinkState interface {
	State() connectivity.State
}

type PumpState interface {
	Running() bool
}

type LampState interface {
	Level() uint8
}

type ClockState interface {
	Now() time.Time
	IsSynced() bool
}

type BrokerState interface {
	IsConnected() bool
	ClientID() string
}

// IngestFunc runs a raw payload through the command codec and router.
type IngestFunc func(payload []byte) (command.Command, *command.Error)

// Deps are the live station components the console reads from.
type Deps struct {
	Station  string
	Readings *sensor.Set
	Link     LinkState
	Pump     PumpState
	Lamp     LampState
	Clock    ClockState
	Broker   BrokerState
	Ingest   IngestFunc
	Metrics  *metrics.Metrics
}

type Auth struct {
	Username     string
	PasswordHash string
}

type Server struct {
	addr        string
	deps        Deps
	auth        Auth
	formDecoder *form.Decoder
	log         *logger.Logger
}

func New(addr string, deps Deps, auth Auth, log *logger.Logger) *Server {
	return &Server{
		addr:        addr,
		deps:        deps,
		auth:        auth,
		formDecoder: form.NewDecoder(),
		log:         log.Named("console"),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ErrorLog:     zap.NewStdLog(s.log.Desugar()),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("starting server", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
