package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansname/dbus-mqtt-evcharger/charger"
)

type connRecorder struct {
	mu     sync.Mutex
	states []bool
}

func (r *connRecorder) MQTTConnected(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, connected)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func writeTestCA(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	return path
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://10.0.0.2:1883", brokerURL(MQTTConfig{BrokerAddress: "10.0.0.2", BrokerPort: 1883}))
	assert.Equal(t, "ssl://broker.lan:8883", brokerURL(MQTTConfig{BrokerAddress: "broker.lan", BrokerPort: 8883, TLSEnabled: true}))
	assert.Equal(t, "tcp://[fd00::1]:1883", brokerURL(MQTTConfig{BrokerAddress: "fd00::1", BrokerPort: 1883}))
}

func TestClientID(t *testing.T) {
	assert.Equal(t, "MqttEvCharger_43", clientID(43))
}

func TestNewTLSConfig(t *testing.T) {
	cfg, err := newTLSConfig(MQTTConfig{TLSEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Nil(t, cfg.RootCAs)

	cfg, err = newTLSConfig(MQTTConfig{TLSEnabled: true, TLSInsecure: true, TLSCAPath: writeTestCA(t)})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.NotNil(t, cfg.RootCAs)
}

func TestNewTLSConfigBadCA(t *testing.T) {
	_, err := newTLSConfig(MQTTConfig{TLSCAPath: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)

	junk := filepath.Join(t.TempDir(), "junk.pem")
	require.NoError(t, os.WriteFile(junk, []byte("not a certificate"), 0o600))
	_, err = newTLSConfig(MQTTConfig{TLSCAPath: junk})
	assert.Error(t, err)
}

func TestNewClientOptions(t *testing.T) {
	msgs := make(chan charger.Message, 1)
	cfg := MQTTConfig{
		BrokerAddress:  "broker.lan",
		BrokerPort:     8883,
		TLSEnabled:     true,
		Username:       "user",
		Password:       "secret",
		Topic:          "ev",
		DeviceInstance: 7,
	}

	opts, err := newClientOptions(context.Background(), cfg, zerolog.Nop(), &connRecorder{}, msgs)
	require.NoError(t, err)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "ssl://broker.lan:8883", opts.Servers[0].String())
	assert.Equal(t, "MqttEvCharger_7", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.True(t, opts.AutoReconnect)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), opts.TLSConfig.MinVersion)
}

func TestNewClientOptionsNeedsBothCredentials(t *testing.T) {
	cfg := MQTTConfig{BrokerAddress: "broker.lan", BrokerPort: 1883, Username: "user", Topic: "ev"}

	opts, err := newClientOptions(context.Background(), cfg, zerolog.Nop(), &connRecorder{}, make(chan charger.Message))
	require.NoError(t, err)
	assert.Empty(t, opts.Username)
	assert.Nil(t, opts.TLSConfig)
}

func TestOnMessageForwardsCopy(t *testing.T) {
	msgs := make(chan charger.Message, 1)
	handler := onMessage(context.Background(), msgs)

	payload := []byte(`{"Ac":{"Power":1}}`)
	handler(nil, fakeMessage{topic: "ev", payload: payload})
	payload[0] = 'X'

	m := <-msgs
	assert.Equal(t, "ev", m.Topic)
	assert.Equal(t, `{"Ac":{"Power":1}}`, string(m.Payload))
}

func TestOnMessageStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handler := onMessage(ctx, make(chan charger.Message))
	done := make(chan struct{})
	go func() {
		handler(nil, fakeMessage{topic: "ev", payload: []byte("{}")})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler blocked after cancel")
	}
}

func TestMQTTWorkerStopsWhileRetrying(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := MQTTConfig{BrokerAddress: "127.0.0.1", BrokerPort: port, Topic: "ev", DeviceInstance: 1}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mqttWorker(ctx, cfg, zerolog.Nop(), &connRecorder{}, make(chan charger.Message)) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
