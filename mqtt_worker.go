package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/ryansname/dbus-mqtt-evcharger/charger"
)

const connectRetryInterval = 15 * time.Second

// connectionObserver is told about broker connection changes
type connectionObserver interface {
	MQTTConnected(connected bool)
}

func brokerURL(cfg MQTTConfig) string {
	scheme := "tcp"
	if cfg.TLSEnabled {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(cfg.BrokerAddress, strconv.Itoa(cfg.BrokerPort)))
}

func clientID(deviceInstance int) string {
	return fmt.Sprintf("MqttEvCharger_%d", deviceInstance)
}

// newTLSConfig builds the TLS 1.2 client config, optionally trusting a custom CA
func newTLSConfig(cfg MQTTConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLSInsecure, //nolint:gosec // opt-in from config
	}

	if cfg.TLSCAPath != "" {
		pem, err := os.ReadFile(cfg.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.TLSCAPath)
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}

// onMessage forwards payloads to msgChan until ctx is done
func onMessage(ctx context.Context, msgChan chan<- charger.Message) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		m := charger.Message{
			Topic:   msg.Topic(),
			Payload: append([]byte(nil), msg.Payload()...),
		}
		select {
		case msgChan <- m:
		case <-ctx.Done():
		}
	}
}

func newClientOptions(
	ctx context.Context,
	cfg MQTTConfig,
	log zerolog.Logger,
	obs connectionObserver,
	msgChan chan<- charger.Message,
) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(clientID(cfg.DeviceInstance))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.TLSEnabled {
		tlsCfg, err := newTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost, reconnecting")
		obs.MQTTConnected(false)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Info().Msg("Reconnecting to MQTT broker")
	})

	handler := onMessage(ctx, msgChan)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", brokerURL(cfg)).Msg("Connected to MQTT broker")
		obs.MQTTConnected(true)

		// subscriptions do not survive a clean-session reconnect
		token := client.Subscribe(cfg.Topic, 0, handler)
		if token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", cfg.Topic).Msg("Failed to subscribe")
			return
		}
		log.Info().Str("topic", cfg.Topic).Msg("Subscribed")
	})

	return opts, nil
}

// mqttWorker connects to the broker and forwards telemetry to msgChan until
// ctx is done. The first connect is retried every 15 seconds; afterwards
// paho reconnects on its own.
func mqttWorker(
	ctx context.Context,
	cfg MQTTConfig,
	log zerolog.Logger,
	obs connectionObserver,
	msgChan chan<- charger.Message,
) error {
	opts, err := newClientOptions(ctx, cfg, log, obs, msgChan)
	if err != nil {
		return fmt.Errorf("mqtt options: %w", err)
	}
	client := mqtt.NewClient(opts)

	connect := func() error {
		token := client.Connect()
		token.Wait()
		return token.Error()
	}
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Msgf("Failed to connect to MQTT broker, retrying in %s", next)
	}

	log.Info().Str("broker", brokerURL(cfg)).Msg("Connecting to MQTT broker")
	retry := backoff.WithContext(backoff.NewConstantBackOff(connectRetryInterval), ctx)
	if err := backoff.RetryNotify(connect, retry, notify); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connect to MQTT broker: %w", err)
	}

	<-ctx.Done()

	if client.IsConnected() {
		client.Disconnect(250)
		log.Info().Msg("Disconnected from MQTT broker")
	}
	obs.MQTTConnected(false)
	return nil
}
