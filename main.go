package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ryansname/dbus-mqtt-evcharger/charger"
	"github.com/ryansname/dbus-mqtt-evcharger/vedbus"
)

const (
	productName     = "MQTT EV Charger"
	connectionName  = "MQTT Ev Charger service"
	firmwareVersion = "0.0.1 (20231226)"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func serviceName(deviceInstance int) string {
	return fmt.Sprintf("com.victronenergy.evcharger.mqtt_ev_charger_%d", deviceInstance)
}

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if the worker ran for 2+ minutes before failing.
// After exhausting retries, cancels ctx to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	log zerolog.Logger,
	name string,
	fn func(ctx context.Context),
) {
	safeGo(ctx, cancel, log, name, time.Second, fn)
}

func safeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	log zerolog.Logger,
	name string,
	initialDelay time.Duration,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := initialDelay

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// returning normally covers both cancellation and completion
			if panicValue == nil {
				return
			}

			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = initialDelay
			}

			retries++
			log.Error().Str("worker", name).Msgf("Panic (attempt %d/%d): %v", retries, maxRetries, panicValue)

			if retries >= maxRetries {
				log.Error().Str("worker", name).Msgf("Failed after %d retries, shutting down", maxRetries)
				cancel()
				return
			}

			log.Warn().Str("worker", name).Msgf("Will retry in %v", delay)
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func connectBus(session bool) (*dbus.Conn, error) {
	if session {
		return dbus.SessionBus()
	}
	return dbus.SystemBus()
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := LoadConfig(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dbus-mqtt-evcharger: %v\n", err)
		return 1
	}

	logOut := &readlineWriter{out: os.Stdout}
	log := newLogger(logOut, parseLevel(cfg.LogLevel), isService())
	log.Info().Str("version", version).Msg("Starting dbus-mqtt-evcharger")

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	conn, err := connectBus(cfg.SessionBus)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to D-Bus")
		return 1
	}
	defer conn.Close()

	svc, err := vedbus.New(conn, serviceName(cfg.MQTT.DeviceInstance), log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create D-Bus service")
		return 1
	}

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	var snapshots chan charger.Snapshot
	if cfg.DebugConsole {
		snapshots = make(chan charger.Snapshot, 1)
	}

	engine := charger.New(svc, charger.Options{
		Topic:           cfg.MQTT.Topic,
		Voltage:         cfg.Voltage,
		Timeout:         cfg.Timeout,
		PublishInterval: cfg.PublishInterval,
		Identity: charger.Identity{
			ProcessName:     filepath.Base(os.Args[0]),
			ProcessVersion:  version + " (" + runtime.Version() + ")",
			Connection:      connectionName,
			DeviceInstance:  cfg.MQTT.DeviceInstance,
			ProductName:     productName,
			CustomName:      cfg.MQTT.DeviceName,
			FirmwareVersion: firmwareVersion,
			Position:        cfg.Position,
		},
		Logger:    log.With().Str("component", "engine").Logger(),
		Observer:  metrics,
		Snapshots: snapshots,
	})

	msgChan := make(chan charger.Message, 10)
	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddress != "" {
		SafeGo(gctx, cancel, log, "metrics-worker", func(ctx context.Context) {
			metricsWorker(ctx, cfg.MetricsAddress, reg, log)
		})
	}
	if cfg.DebugConsole {
		SafeGo(gctx, cancel, log, "debug-worker", func(ctx context.Context) {
			debugWorker(ctx, cancel, logOut, snapshots)
		})
	}

	g.Go(func() error {
		return mqttWorker(gctx, cfg.MQTT, log.With().Str("component", "mqtt").Logger(), metrics, msgChan)
	})
	g.Go(func() error {
		return engine.Run(gctx, msgChan)
	})

	err = g.Wait()
	switch {
	case charger.IsFatal(err):
		log.Error().Err(err).Msg("Driver stopped")
		return 1
	case err != nil:
		log.Error().Err(err).Msg("Worker failed")
		return 1
	}
	log.Info().Msg("Shutting down")
	return 0
}
