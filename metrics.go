package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ryansname/dbus-mqtt-evcharger/charger"
)

// Metrics exports engine and broker counters to Prometheus
type Metrics struct {
	messages  *prometheus.CounterVec
	rejected  prometheus.Counter
	publishes prometheus.Counter
	index     prometheus.Gauge
	age       prometheus.Gauge
	connected prometheus.Gauge
}

var (
	_ charger.Observer   = (*Metrics)(nil)
	_ connectionObserver = (*Metrics)(nil)
)

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evcharger_messages_total",
			Help: "MQTT messages handled, by result.",
		}, []string{"result"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evcharger_rejected_keys_total",
			Help: "Event keys dropped because they are unknown or carry an invalid value.",
		}),
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evcharger_publishes_total",
			Help: "Ticks that pushed new telemetry to D-Bus.",
		}),
		index: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evcharger_update_index",
			Help: "Last published /UpdateIndex value.",
		}),
		age: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evcharger_telemetry_age_seconds",
			Help: "Seconds since the last accepted telemetry event.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evcharger_mqtt_connected",
			Help: "1 while connected to the MQTT broker.",
		}),
	}

	reg.MustRegister(m.messages, m.rejected, m.publishes, m.index, m.age, m.connected)

	// zero series for every result so rates work from the start
	for _, r := range []string{
		charger.ResultAccepted,
		charger.ResultEmpty,
		charger.ResultInvalidJSON,
		charger.ResultMissingPower,
		charger.ResultIgnored,
		charger.ResultError,
	} {
		m.messages.WithLabelValues(r)
	}

	return m
}

func (m *Metrics) MessageHandled(result string) { m.messages.WithLabelValues(result).Inc() }
func (m *Metrics) KeyRejected(string)           { m.rejected.Inc() }
func (m *Metrics) Published()                   { m.publishes.Inc() }
func (m *Metrics) UpdateIndex(v uint8)          { m.index.Set(float64(v)) }

func (m *Metrics) TelemetryAge(age time.Duration) {
	m.age.Set(age.Seconds())
}

func (m *Metrics) MQTTConnected(connected bool) {
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

// metricsWorker serves /metrics on addr until ctx is done
func metricsWorker(ctx context.Context, addr string, gatherer prometheus.Gatherer, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("address", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Metrics server stopped")
	}
}
