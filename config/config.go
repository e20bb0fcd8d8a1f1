// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the printer power manager.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/soothill/printer-power-manager/pkg/errors"
	"github.com/soothill/printer-power-manager/pkg/util"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Power         PowerConfig         `yaml:"power"`
	Settings      SettingsConfig      `yaml:"settings"`
	GCode         GCodeConfig         `yaml:"gcode"`
	Printer       PrinterConfig       `yaml:"printer"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Discovery     DiscoveryConfig     `yaml:"discovery"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds the HTTP API settings
type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr" validate:"required,hostname_port"`
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,url"`
}

// PowerConfig holds the shell and hardware probe settings
type PowerConfig struct {
	Shell         string        `yaml:"shell"`
	StatusCommand string        `yaml:"status_command"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	// PollInterval enables the hardware poller when non-zero.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SettingsConfig holds the settings database location
type SettingsConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// GCodeConfig holds the lines sent in place of intercepted power G-codes
type GCodeConfig struct {
	PowerOnReplacement  string `yaml:"power_on_replacement" validate:"required"`
	PowerOffReplacement string `yaml:"power_off_replacement" validate:"required"`
}

// PrinterConfig holds the serial link settings. An empty serial port disables the link.
type PrinterConfig struct {
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate" validate:"omitempty,min=1200,max=4000000"`
	ListenAddr string `yaml:"listen_addr" validate:"omitempty,hostname_port"`
}

// InfluxDBConfig holds InfluxDB connection settings. An empty URL disables history.
type InfluxDBConfig struct {
	URL          string `yaml:"url" validate:"omitempty,url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// Enabled reports whether power history is configured.
func (c InfluxDBConfig) Enabled() bool { return c.URL != "" }

// MQTTConfig holds the event bridge settings. An empty broker disables the bridge.
type MQTTConfig struct {
	Broker      string `yaml:"broker" validate:"omitempty,url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos" validate:"max=2"`
}

// Enabled reports whether the MQTT bridge is configured.
func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

// DiscoveryConfig holds mDNS advertisement settings
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Domain   string `yaml:"domain"`
}

// NotificationsConfig holds alerting settings
type NotificationsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url" validate:"omitempty,url"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error fatal panic"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from a YAML file and applies environment variable
// overrides. An empty path uses only defaults and the environment.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := util.ReadFileSafely(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvironmentOverrides() {
	setString := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setDuration := func(env string, dst *time.Duration) {
		if v := os.Getenv(env); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: Failed to parse %s '%s': %v\n", env, v, err)
				return
			}
			*dst = d
		}
	}

	setString("PPM_LISTEN_ADDR", &c.Server.ListenAddr)
	setString("PPM_SETTINGS_PATH", &c.Settings.Path)
	setString("PPM_STATUS_COMMAND", &c.Power.StatusCommand)
	setDuration("PPM_POLL_INTERVAL", &c.Power.PollInterval)
	setString("PPM_SERIAL_PORT", &c.Printer.SerialPort)
	if v := os.Getenv("PPM_BAUD_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Printer.BaudRate = n
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse PPM_BAUD_RATE '%s': %v\n", v, err)
		}
	}

	setString("INFLUXDB_URL", &c.InfluxDB.URL)
	setString("INFLUXDB_TOKEN", &c.InfluxDB.Token)
	setString("INFLUXDB_ORG", &c.InfluxDB.Organization)
	setString("INFLUXDB_BUCKET", &c.InfluxDB.Bucket)

	setString("MQTT_BROKER", &c.MQTT.Broker)
	setString("MQTT_USERNAME", &c.MQTT.Username)
	setString("MQTT_PASSWORD", &c.MQTT.Password)

	setString("SLACK_WEBHOOK_URL", &c.Notifications.SlackWebhookURL)
	setString("LOG_LEVEL", &c.Logging.Level)
}

// setDefaults sets default values for configuration fields if not provided
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Power.Shell == "" {
		c.Power.Shell = "/bin/sh"
	}
	if c.Power.ProbeTimeout == 0 {
		c.Power.ProbeTimeout = 10 * time.Second
	}
	if c.Settings.Path == "" {
		c.Settings.Path = "data/settings.db"
	}
	if c.GCode.PowerOnReplacement == "" {
		c.GCode.PowerOnReplacement = "G4 S5"
	}
	if c.GCode.PowerOffReplacement == "" {
		c.GCode.PowerOffReplacement = "G4 S0"
	}
	if c.Printer.BaudRate == 0 {
		c.Printer.BaudRate = 115200
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "printer-power-manager"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "octoPrint"
	}
	if c.Discovery.Domain == "" {
		c.Discovery.Domain = "local."
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return toValidationError(err)
	}
	if err := c.validatePower(); err != nil {
		return err
	}
	if err := c.validateInfluxDB(); err != nil {
		return err
	}
	return nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.NewConfigError("", "", err)
	}
	fe := verrs[0]
	field := strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Config."))
	return errors.NewValidationError(field, fe.Value(), fmt.Sprintf("failed %q check", fe.Tag()))
}

// validatePower validates the power and probe durations
func (c *Config) validatePower() error {
	if c.Power.ProbeTimeout < 100*time.Millisecond || c.Power.ProbeTimeout > time.Minute {
		return errors.NewValidationError("power.probe_timeout", c.Power.ProbeTimeout.String(), "must be between 100ms and 1m")
	}
	if c.Power.PollInterval != 0 {
		if c.Power.PollInterval < time.Second {
			return errors.NewValidationError("power.poll_interval", c.Power.PollInterval.String(), "must be at least 1 second")
		}
		if c.Power.PollInterval > time.Hour {
			return errors.NewValidationError("power.poll_interval", c.Power.PollInterval.String(), "must not exceed 1 hour")
		}
		if c.Power.StatusCommand == "" {
			return errors.NewValidationError("power.status_command", "", "is required when power.poll_interval is set")
		}
	}
	return nil
}

// validateInfluxDB validates the InfluxDB configuration when enabled
func (c *Config) validateInfluxDB() error {
	if !c.InfluxDB.Enabled() {
		return nil
	}

	parsedURL, err := url.Parse(c.InfluxDB.URL)
	if err != nil {
		return errors.NewConfigError("influxdb.url", c.InfluxDB.URL, err)
	}
	if err := validateURLSecurity(parsedURL); err != nil {
		return err
	}

	if c.InfluxDB.Token == "" {
		return errors.NewValidationError("influxdb.token", "", "is required")
	}
	if len(c.InfluxDB.Token) < 8 {
		return errors.NewValidationError("influxdb.token", "<redacted>", "must be at least 8 characters long")
	}
	if c.InfluxDB.Organization == "" {
		return errors.NewValidationError("influxdb.organization", "", "is required")
	}
	if c.InfluxDB.Bucket == "" {
		return errors.NewValidationError("influxdb.bucket", "", "is required")
	}
	return nil
}

// validateURLSecurity checks if the URL uses HTTPS for non-local connections
func validateURLSecurity(parsedURL *url.URL) error {
	if parsedURL.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	isLocal := hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "192.168.") ||
		strings.HasPrefix(hostname, "10.") ||
		strings.HasPrefix(hostname, "172.")

	if !isLocal {
		return errors.NewValidationError("influxdb.url", parsedURL.String(),
			"must use HTTPS for non-local connections; HTTP transmits the token in plaintext")
	}
	return nil
}
