// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Thermoquad/sensoplex/internal/config"
)

var (
	configPath string

	// Transport flags
	transportKind string
	portName      string
	baudRate      int
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
	namePrefix    string
	deviceAddress string

	// Logging flags
	logLevel   string
	logFormat  string
	logPackets bool
)

// cfg and logger are set up before any command runs
var (
	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sensoplex",
	Short: "SP-10BN wearable sensor tool",
	Long: `Sensoplex - A CLI tool for talking to SP-10BN wearable sensor modules.

Connects to a module, issues commands, captures streamed sensor records and
exports them to CSV, JSON Lines, CBOR, PostgreSQL or NATS.

Connection modes:
  BLE:       --transport ble [--name SP-10BN] [--address C0:FF:EE:00:11:22]
  Serial:    --transport serial --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --transport websocket --url ws://host/path [--username user]

Settings can also come from a YAML file (--config) and SENSOPLEX_*
environment variables. Flags override both.

For WebSocket authentication, the password is read from the SENSOPLEX_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")

	// Transport flags
	rootCmd.PersistentFlags().StringVarP(&transportKind, "transport", "t", config.TransportBLE, "Transport (ble, serial or websocket)")
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	rootCmd.PersistentFlags().StringVar(&namePrefix, "name", "SP-10BN", "Advertised name prefix to connect to")
	rootCmd.PersistentFlags().StringVar(&deviceAddress, "address", "", "Device address to connect to")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format (console or json)")
	rootCmd.PersistentFlags().BoolVar(&logPackets, "log-packets", false, "Log every decoded packet at debug level")
}

// setup loads the configuration, applies explicitly set flags over it and
// builds the logger
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	applyFlags(flags, loaded)
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	logger = newLogger(cfg.Log)
	return nil
}

func applyFlags(flags *pflag.FlagSet, c *config.Config) {
	if flags.Changed("transport") {
		c.Transport.Kind = transportKind
	}
	if flags.Changed("port") {
		c.Transport.Port = portName
		// A port alone selects the serial transport
		if !flags.Changed("transport") {
			c.Transport.Kind = config.TransportSerial
		}
	}
	if flags.Changed("baud") {
		c.Transport.Baud = baudRate
	}
	if flags.Changed("url") {
		c.Transport.URL = wsURL
		if !flags.Changed("transport") {
			c.Transport.Kind = config.TransportWebSocket
		}
	}
	if flags.Changed("username") {
		c.Transport.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		c.Transport.SkipSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("name") {
		c.Transport.NamePrefix = namePrefix
	}
	if flags.Changed("address") {
		c.Transport.Address = deviceAddress
	}
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		c.Log.Format = logFormat
	}
	if flags.Changed("log-packets") {
		c.Log.Packets = logPackets
	}
}

func newLogger(lc config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var l zerolog.Logger
	if lc.Format == "json" {
		l = zerolog.New(os.Stderr)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	return l.Level(level).With().Timestamp().Logger()
}

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exitError); ok {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}
