// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the sensoplex CLI configuration.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
	"github.com/Thermoquad/sensoplex/pkg/transport"
)

// Transport kinds
const (
	TransportSerial    = "serial"
	TransportWebSocket = "websocket"
	TransportBLE       = "ble"
)

// Config represents the CLI configuration
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Session   SessionConfig   `yaml:"session"`
	Capture   CaptureConfig   `yaml:"capture"`
	Log       LogConfig       `yaml:"log"`
	NATS      NATSConfig      `yaml:"nats"`
	Postgres  PostgresConfig  `yaml:"postgres"`
}

// TransportConfig selects and configures the link to the module
type TransportConfig struct {
	Kind          string `yaml:"kind"`
	Port          string `yaml:"port"`
	Baud          int    `yaml:"baud"`
	URL           string `yaml:"url"`
	Username      string `yaml:"username"`
	SkipSSLVerify bool   `yaml:"skip_ssl_verify"`
	NamePrefix    string `yaml:"name_prefix"`
	Address       string `yaml:"address"`
}

// SessionConfig represents session timeouts
type SessionConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// CaptureConfig represents capture and export settings
type CaptureConfig struct {
	Fields []string `yaml:"fields"`
	Format string   `yaml:"format"`
	Dir    string   `yaml:"dir"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Packets bool   `yaml:"packets"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// PostgresConfig represents database configuration
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind:       TransportBLE,
			Baud:       transport.DefaultBaudRate,
			NamePrefix: "SP-10BN",
		},
		Session: SessionConfig{
			ConnectTimeout: 10 * time.Second,
			CommandTimeout: 2 * time.Second,
		},
		Capture: CaptureConfig{
			Fields: []string{"timestamp", "battery", "accelerometer", "gyroscope"},
			Format: "csv",
			Dir:    ".",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		NATS: NATSConfig{
			URL:               "nats://127.0.0.1:4222",
			SubjectPrefix:     "sensoplex",
			MaxReconnects:     60,
			ReconnectInterval: 2 * time.Second,
		},
	}
}

// Load reads filename over the defaults, applies environment overrides and
// validates the result. An empty filename uses the defaults alone.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	// Apply environment overrides
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies SENSOPLEX_* environment variable overrides
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("SENSOPLEX_TRANSPORT"); v != "" {
		c.Transport.Kind = v
	}
	if v := os.Getenv("SENSOPLEX_PORT"); v != "" {
		c.Transport.Port = v
	}
	if v := os.Getenv("SENSOPLEX_BAUD"); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SENSOPLEX_BAUD: %w", err)
		}
		c.Transport.Baud = baud
	}
	if v := os.Getenv("SENSOPLEX_URL"); v != "" {
		c.Transport.URL = v
	}
	if v := os.Getenv("SENSOPLEX_USERNAME"); v != "" {
		c.Transport.Username = v
	}
	if v := os.Getenv("SENSOPLEX_ADDRESS"); v != "" {
		c.Transport.Address = v
	}
	if v := os.Getenv("SENSOPLEX_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SENSOPLEX_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("SENSOPLEX_DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	return nil
}

// Validate checks value ranges and the settings the chosen transport needs
func (c *Config) Validate() error {
	var errs []error

	switch c.Transport.Kind {
	case TransportSerial:
		if c.Transport.Baud <= 0 {
			errs = append(errs, fmt.Errorf("transport.baud must be positive, got %d", c.Transport.Baud))
		}
	case TransportWebSocket:
		if c.Transport.URL == "" {
			errs = append(errs, errors.New("transport.url is required for the websocket transport"))
		} else if !strings.HasPrefix(c.Transport.URL, "ws://") && !strings.HasPrefix(c.Transport.URL, "wss://") {
			errs = append(errs, fmt.Errorf("transport.url must use ws:// or wss://, got %s", c.Transport.URL))
		}
	case TransportBLE:
	default:
		errs = append(errs, fmt.Errorf("unknown transport.kind %q (serial, websocket or ble)", c.Transport.Kind))
	}

	if c.Session.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("session.connect_timeout must be positive"))
	}
	if c.Session.CommandTimeout <= 0 {
		errs = append(errs, errors.New("session.command_timeout must be positive"))
	}

	if _, err := pdi.ParseStreamOptions(c.Capture.Fields); err != nil {
		errs = append(errs, fmt.Errorf("capture.fields: %w", err))
	}
	switch c.Capture.Format {
	case "csv", "jsonl", "cbor":
	default:
		errs = append(errs, fmt.Errorf("unknown capture.format %q (csv, jsonl or cbor)", c.Capture.Format))
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q (console or json)", c.Log.Format))
	}

	return errors.Join(errs...)
}

// StreamOptions returns the capture field selection as an options word
func (c *Config) StreamOptions() pdi.StreamOptions {
	opts, _ := pdi.ParseStreamOptions(c.Capture.Fields)
	return opts
}

// GetPassword returns the WebSocket password from SENSOPLEX_PASSWORD or
// prompts for it on stderr
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("SENSOPLEX_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		// Fallback to regular input if stdin is not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}
