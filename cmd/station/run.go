package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gobot.io/x/gobot/v2"
	"golang.org/x/sync/errgroup"

	"furitingoasis/soilstation/internal/actuator"
	"furitingoasis/soilstation/internal/config"
	"furitingoasis/soilstation/internal/connectivity"
	"furitingoasis/soilstation/internal/console"
	"furitingoasis/soilstation/internal/dispatch"
	"furitingoasis/soilstation/internal/eventbus"
	"furitingoasis/soilstation/internal/hardware"
	"furitingoasis/soilstation/internal/logger"
	"furitingoasis/soilstation/internal/metrics"
	"furitingoasis/soilstation/internal/mqtt"
	"furitingoasis/soilstation/internal/notify"
	"furitingoasis/soilstation/internal/scheduler"
	"furitingoasis/soilstation/internal/sensor"
	"furitingoasis/soilstation/internal/store"
	"furitingoasis/soilstation/internal/timesync"
)

const inboxSize = 64

func runStation(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infow("starting station", "name", cfg.Station.Name, "version", version)
	m := metrics.New()

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	db, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	hw, err := hardware.Open(cfg.Station.Name, cfg.Hardware, cfg.Soil, log)
	if err != nil {
		return err
	}
	defer hw.Close()

	pump := actuator.NewPump(hw.Pump, cfg.Hardware.RelayInverted, cfg.Pump.MaxRun, db, m, log)
	if err := pump.Set(false); err != nil {
		log.Warnw("could not switch the pump off at boot", "error", err)
	}
	lamp := actuator.NewLamp(hw.Lamp, db, m, log)
	restoreLamp(ctx, db, lamp, log)

	soilSet := sensor.NewSet(log.Named("sensor"), hw.Soil)
	envSet := sensor.NewSet(log.Named("sensor"), hw.Environment...)
	allSet := sensor.NewSet(log.Named("sensor"), hw.Sensors()...)

	wifi := connectivity.NewManager(
		connectivity.NewNmcliLink(cfg.WiFi.Interface, cfg.WiFi.SSID, cfg.WiFi.Password),
		connectivity.Options{SettleDelay: cfg.WiFi.SettleDelay, PowerSave: cfg.WiFi.PowerSave},
		log,
	)
	linkMetrics := wifi.Subscribe()
	defer linkMetrics.Close()
	go m.ObserveLink(linkMetrics.C)
	statusLight := wifi.Subscribe()
	defer statusLight.Close()
	go hw.Status.Follow(ctx, statusLight.C)

	bootCtx, cancel := context.WithTimeout(ctx, cfg.WiFi.ReconnectTimeout)
	if err := wifi.Connect(bootCtx); err != nil {
		log.Warnw("wifi not connected at boot, will retry on demand", "error", err)
	}
	cancel()

	bus := mqtt.New(mqtt.Config{
		BrokerURL:     cfg.MQTT.BrokerURL,
		ClientID:      cfg.MQTT.ClientID,
		Username:      cfg.MQTT.Username,
		Password:      cfg.MQTT.Password,
		QoS:           cfg.MQTT.QoS,
		KeepAlive:     cfg.MQTT.KeepAlive,
		MaxRetries:    cfg.MQTT.MaxRetries,
		RetryInterval: cfg.MQTT.RetryInterval,
		Topics: mqtt.Topics{
			Command: cfg.MQTT.CommandTopic,
			Message: cfg.MQTT.MessageTopic,
			Error:   cfg.MQTT.ErrorTopic,
			Status:  cfg.MQTT.StatusTopic,
		},
	}, m, log)
	defer bus.Close()
	outbox := mqtt.OnDemand{Bus: bus}

	router := eventbus.NewRouter(log)
	handler := dispatch.NewHandler(pump, lamp, dispatch.Sensors{
		Barometer: envSet,
		Soil:      soilSet,
		All:       allSet,
	}, outbox, wifi, cfg.WiFi.ReconnectTimeout, m, log)
	for _, sub := range handler.Attach(router) {
		defer sub.Unsubscribe()
	}

	inbox := dispatch.NewInbox(inboxSize, log)
	bus.HandleCommands(func(payload []byte) { inbox.Push(payload) })
	if err := wifi.Do(ctx, bus.Dial); err != nil {
		log.Warnw("broker not reachable at boot", "error", err)
	}

	clock := timesync.New(timesync.Config{
		Servers:    cfg.TimeSync.Servers,
		Timeout:    cfg.TimeSync.Timeout,
		Resync:     cfg.TimeSync.Resync,
		MaxBackoff: cfg.TimeSync.MaxBackoff,
	}, log)
	clock.WithQuery(func(host string, timeout time.Duration) (time.Duration, error) {
		var offset time.Duration
		err := wifi.Do(ctx, func(context.Context) error {
			var err error
			offset, err = timesync.NTPQuery(host, timeout)
			return err
		})
		return offset, err
	})

	sinks := []notify.Sink{notify.NewMQTTSink(outbox)}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, notify.NewWebhookSink(notify.WebhookConfig{
			URL:             cfg.Webhook.URL,
			Timeout:         cfg.Webhook.Timeout,
			BreakerFailures: cfg.Webhook.BreakerFailures,
			BreakerOpen:     cfg.Webhook.BreakerOpen,
		}, log))
	}
	notifier := notify.NewNotifier(wifi, m, log, sinks...)
	sched := scheduler.New(clock, log, scheduler.WithRealign(cfg.Schedule.Realign))

	daily := func(ctx context.Context) {
		readings := allSet.Poll()
		yesterday := clock.Now().AddDate(0, 0, -1)
		runtime, err := db.PumpRuntime(ctx, yesterday)
		if err != nil {
			log.Warnw("pump run time unavailable", "error", err)
		}
		note := notify.Notification{
			Text:   notify.FormatDaily(notify.DailyFromReadings(readings, runtime)),
			Report: sensor.NewReport(readings),
		}
		if err := notifier.Send(ctx, note); err != nil {
			log.Warnw("daily report incomplete", "error", err)
		}
	}

	if cfg.Telemetry.Interval > 0 {
		telemetry := gobot.Every(cfg.Telemetry.Interval, func() {
			publishTelemetry(ctx, wifi, outbox, allSet, log)
		})
		defer telemetry.Stop()
	}

	con := console.New(cfg.Console.Addr, console.Deps{
		Station:  cfg.Station.Name,
		Readings: allSet,
		Link:     wifi,
		Pump:     pump,
		Lamp:     lamp,
		Clock:    clock,
		Broker:   bus,
		Ingest:   router.Ingest,
		Metrics:  m,
	}, console.Auth{Username: cfg.Console.Username, PasswordHash: cfg.Console.PasswordHash}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return inbox.Run(gctx, dispatch.IngestFunc(func(p []byte) { router.Ingest(p) }))
	})
	g.Go(func() error { return clock.Run(gctx) })
	g.Go(func() error { return sched.Daily(gctx, cfg.Schedule.ReportHour, daily) })
	if cfg.Console.Addr != "" {
		g.Go(func() error { return con.Run(gctx) })
	}

	err = g.Wait()
	log.Infow("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func restoreLamp(ctx context.Context, db *store.Store, lamp *actuator.Lamp, log *logger.Logger) {
	level, ok, err := db.LampLevel(ctx)
	switch {
	case err != nil:
		log.Warnw("could not read the saved lamp level", "error", err)
	case ok:
		if err := lamp.Set(level); err != nil {
			log.Warnw("could not restore the lamp level", "level", level, "error", err)
		}
	}
}

// publishTelemetry sends the full report unless the link is down. Power
// save stations skip the tick instead of waking the radio.
func publishTelemetry(ctx context.Context, wifi *connectivity.Manager, out mqtt.OnDemand, set *sensor.Set, log *logger.Logger) {
	if !wifi.IsConnected() {
		log.Debugw("offline, skipping telemetry")
		return
	}
	report := set.Report()
	err := wifi.Do(ctx, func(ctx context.Context) error {
		return out.Message(ctx, report.JSON())
	})
	if err != nil {
		log.Warnw("telemetry not published", "error", err)
	}
}
