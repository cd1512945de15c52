// Package config loads service settings from the environment and the board
// catalog from an optional file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Transports.
const (
	TransportSerial = "serial"
	TransportMQTT   = "mqtt"
	TransportNone   = "none"
)

// Config is the process configuration.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":50051"`

	StorageDriver  string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"./data/exgstream.db"`
	MySQLDSN       string `env:"MYSQL_DSN"`
	StorageWorkers int    `env:"STORAGE_WORKERS" envDefault:"5"`

	Transport        string        `env:"TRANSPORT" envDefault:"serial"`
	SerialPort       string        `env:"SERIAL_PORT"`
	SerialBaud       int           `env:"SERIAL_BAUD" envDefault:"230400"`
	SerialTimeout    time.Duration `env:"SERIAL_TIMEOUT" envDefault:"2s"`
	SerialStartDelay time.Duration `env:"SERIAL_START_DELAY" envDefault:"2s"`
	BoardsFile       string        `env:"BOARDS_FILE"`

	MQTTBroker      string `env:"MQTT_BROKER"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"exgstream"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`
	MQTTNotifyTopic string `env:"MQTT_NOTIFY_TOPIC" envDefault:"exg/notify"`
	MQTTConfigTopic string `env:"MQTT_CONFIG_TOPIC" envDefault:"exg/config"`
	MQTTLiveTopic   string `env:"MQTT_LIVE_TOPIC"`
	DeviceName      string `env:"DEVICE_NAME" envDefault:"NPG-BLE-3CH"`

	RecordingPrefix string `env:"RECORDING_PREFIX" envDefault:"ExG"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("config: SQLITE_PATH is required for the sqlite driver")
		}
	case DriverMySQL:
		if c.MySQLDSN == "" {
			return errors.New("config: MYSQL_DSN is required for the mysql driver")
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch c.Transport {
	case TransportSerial, TransportNone:
	case TransportMQTT:
		if c.MQTTBroker == "" {
			return errors.New("config: MQTT_BROKER is required for the mqtt transport")
		}
	default:
		return fmt.Errorf("config: unknown TRANSPORT %q", c.Transport)
	}

	if c.StorageWorkers < 1 {
		return fmt.Errorf("config: STORAGE_WORKERS must be positive, got %d", c.StorageWorkers)
	}
	if c.MQTTLiveTopic != "" && c.MQTTBroker == "" {
		return errors.New("config: MQTT_LIVE_TOPIC needs MQTT_BROKER")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// NeedsMQTT reports whether an MQTT client must be created.
func (c Config) NeedsMQTT() bool {
	return c.Transport == TransportMQTT || c.MQTTLiveTopic != ""
}

// Level parses LOG_LEVEL.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return l, nil
}
