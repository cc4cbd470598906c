package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const brokerPlaceholder = "IP_ADDR_OR_FQDN"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the driver configuration, read from config.ini and overridden by
// .env credentials and command-line flags
type Config struct {
	LogLevel        string
	Timeout         time.Duration
	Voltage         float64
	Position        int
	PublishInterval time.Duration
	MetricsAddress  string

	DebugConsole bool
	SessionBus   bool

	MQTT MQTTConfig
}

// MQTTConfig is the [MQTT] section
type MQTTConfig struct {
	BrokerAddress  string
	BrokerPort     int
	TLSEnabled     bool
	TLSCAPath      string
	TLSInsecure    bool
	Username       string
	Password       string
	Topic          string
	DeviceInstance int
	DeviceName     string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default.logging", "WARNING")
	v.SetDefault("default.timeout", 60)
	v.SetDefault("default.voltage", 230)
	v.SetDefault("default.position", 0)
	v.SetDefault("default.publish_interval", 1000)
	v.SetDefault("default.metrics_address", "")

	v.SetDefault("mqtt.broker_port", 1883)
	v.SetDefault("mqtt.tls_enabled", false)
	v.SetDefault("mqtt.tls_insecure", false)
	v.SetDefault("mqtt.device_instance", 100)
	v.SetDefault("mqtt.device_name", "MQTT EV Charger")
}

// defaultConfigPath is config.ini next to the executable
func defaultConfigPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "config.ini"
	}
	return filepath.Join(filepath.Dir(exe), "config.ini")
}

// LoadConfig parses args, reads the config file and validates the result
func LoadConfig(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("dbus-mqtt-evcharger", pflag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath(), "Path to config.ini")
	fs.String("log-level", "", "Log level (DEBUG, INFO, WARNING, ERROR)")
	fs.String("metrics-address", "", "Serve Prometheus metrics on this address, e.g. :9480")
	debugConsole := fs.Bool("debug-console", false, "Start the interactive debug console")
	sessionBus := fs.Bool("session-bus", false, "Use the D-Bus session bus instead of the system bus")
	envFile := fs.String("env-file", ".env", "Optional file with MQTT_USERNAME and MQTT_PASSWORD")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(*configPath)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", *configPath, err)
	}

	// Flags only win when they were given
	if err := v.BindPFlag("default.logging", fs.Lookup("log-level")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("default.metrics_address", fs.Lookup("metrics-address")); err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:        v.GetString("default.logging"),
		Timeout:         time.Duration(v.GetInt("default.timeout")) * time.Second,
		Voltage:         v.GetFloat64("default.voltage"),
		Position:        v.GetInt("default.position"),
		PublishInterval: time.Duration(v.GetInt("default.publish_interval")) * time.Millisecond,
		MetricsAddress:  v.GetString("default.metrics_address"),
		DebugConsole:    *debugConsole,
		SessionBus:      *sessionBus,
		MQTT: MQTTConfig{
			BrokerAddress:  v.GetString("mqtt.broker_address"),
			BrokerPort:     v.GetInt("mqtt.broker_port"),
			TLSEnabled:     v.GetBool("mqtt.tls_enabled"),
			TLSCAPath:      v.GetString("mqtt.tls_path_to_ca"),
			TLSInsecure:    v.GetBool("mqtt.tls_insecure"),
			Username:       v.GetString("mqtt.username"),
			Password:       v.GetString("mqtt.password"),
			Topic:          v.GetString("mqtt.topic"),
			DeviceInstance: v.GetInt("mqtt.device_instance"),
			DeviceName:     v.GetString("mqtt.device_name"),
		},
	}

	// A missing .env is normal
	_ = godotenv.Load(*envFile)
	if u := os.Getenv("MQTT_USERNAME"); u != "" {
		cfg.MQTT.Username = u
	}
	if p := os.Getenv("MQTT_PASSWORD"); p != "" {
		cfg.MQTT.Password = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.MQTT.BrokerAddress {
	case "":
		add("MQTT.broker_address is required")
	case brokerPlaceholder:
		add("MQTT.broker_address is still the sample value %s", brokerPlaceholder)
	}
	if c.MQTT.BrokerPort < 1 || c.MQTT.BrokerPort > 65535 {
		add("MQTT.broker_port %d is out of range", c.MQTT.BrokerPort)
	}
	if c.MQTT.Topic == "" {
		add("MQTT.topic is required")
	}
	if c.Voltage <= 0 {
		add("DEFAULT.voltage must be positive, got %g", c.Voltage)
	}
	if c.Timeout < 0 {
		add("DEFAULT.timeout must not be negative")
	}
	if c.Position != 0 && c.Position != 1 {
		add("DEFAULT.position must be 0 (AC output) or 1 (AC input), got %d", c.Position)
	}
	if c.PublishInterval <= 0 {
		add("DEFAULT.publish_interval must be positive")
	}

	return errors.Join(errs...)
}
