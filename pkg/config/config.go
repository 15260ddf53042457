// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the flowbench rig profile.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/flowbench/pkg/capture"
	"github.com/Thermoquad/flowbench/pkg/poller"
	"github.com/Thermoquad/flowbench/pkg/sequence"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Capture formats
const (
	FormatCSV  = "csv"
	FormatCBOR = "cbor"
)

// ErrInvalidConfig is wrapped by validation failures
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete rig profile
type Config struct {
	Serial    SerialConfig    `mapstructure:"serial"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Servo     ServoConfig     `mapstructure:"servo"`
	Poll      PollConfig      `mapstructure:"poll"`
	Sequence  sequence.Config `mapstructure:"sequence"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Registers RegistersConfig `mapstructure:"registers"`
	Log       LogConfig       `mapstructure:"log"`
}

// SerialConfig is the Modbus serial link
type SerialConfig struct {
	Port     string        `mapstructure:"port"`
	BaudRate int           `mapstructure:"baud_rate"`
	Timeout  time.Duration `mapstructure:"timeout"` // response timeout
}

// BridgeConfig is the serial-over-WebSocket bridge used instead of a local port
type BridgeConfig struct {
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	NoSSLVerify bool   `mapstructure:"no_ssl_verify"`
}

// ServoConfig is the Maestro servo controller link
type ServoConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
	Channel  int    `mapstructure:"channel"`
}

// PollConfig sets the two polling rates
type PollConfig struct {
	Idle time.Duration `mapstructure:"idle"`
	Fast time.Duration `mapstructure:"fast"`
}

// CaptureConfig controls the sequence log file
type CaptureConfig struct {
	File         string `mapstructure:"file"`
	Format       string `mapstructure:"format"` // csv, cbor
	SerialNumber string `mapstructure:"serial_number"`
	CSVType      string `mapstructure:"csv_type"`
}

// RegistersConfig points at an optional register table override
type RegistersConfig struct {
	File string `mapstructure:"file"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"port":          "serial.port",
	"baud":          "serial.baud_rate",
	"url":           "bridge.url",
	"username":      "bridge.username",
	"no-ssl-verify": "bridge.no_ssl_verify",
	"servo-port":    "servo.port",
	"servo-baud":    "servo.baud_rate",
	"log-level":     "log.level",
	"log-file":      "log.file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.timeout", 500*time.Millisecond)
	v.SetDefault("servo.baud_rate", 9600)
	v.SetDefault("servo.channel", 0)
	v.SetDefault("poll.idle", poller.DefaultIdleInterval)
	v.SetDefault("poll.fast", poller.DefaultFastInterval)

	seq := sequence.DefaultConfig()
	v.SetDefault("sequence.min_pulse", seq.MinPulse)
	v.SetDefault("sequence.max_pulse", seq.MaxPulse)
	v.SetDefault("sequence.increment", seq.Increment)
	v.SetDefault("sequence.enable_delay", seq.EnableDelay)
	v.SetDefault("sequence.baseline_hold", seq.BaselineHold)
	v.SetDefault("sequence.step_hold", seq.StepHold)
	v.SetDefault("sequence.settle", seq.Settle)
	v.SetDefault("sequence.enable_register", seq.EnableRegister)

	v.SetDefault("capture.file", capture.DefaultCSVFile)
	v.SetDefault("capture.format", FormatCSV)
	v.SetDefault("log.level", "info")
}

// LoadConfig reads the rig profile. An explicit configFile must exist;
// otherwise flowbench.yaml is searched for in the working directory and
// $HOME/.flowbench and defaults apply when none is found. Flags that were
// set override file values, and FLOWBENCH_* environment variables override
// both.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FLOWBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("flowbench")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.flowbench")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Capture.Format = strings.ToLower(cfg.Capture.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be fixed up
func (c *Config) Validate() error {
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("%w: serial baud rate %d", ErrInvalidConfig, c.Serial.BaudRate)
	}
	if c.Servo.BaudRate <= 0 {
		return fmt.Errorf("%w: servo baud rate %d", ErrInvalidConfig, c.Servo.BaudRate)
	}
	if c.Poll.Idle <= 0 || c.Poll.Fast <= 0 {
		return fmt.Errorf("%w: poll intervals must be positive", ErrInvalidConfig)
	}
	switch c.Capture.Format {
	case FormatCSV, FormatCBOR:
	default:
		return fmt.Errorf("%w: capture format %q (use csv or cbor)", ErrInvalidConfig, c.Capture.Format)
	}
	if err := c.Sequence.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
