// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/soothill/printer-power-manager/app"
	"github.com/soothill/printer-power-manager/config"
	"github.com/soothill/printer-power-manager/discovery"
	"github.com/soothill/printer-power-manager/pkg/logger"
)

const healthCheckTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	healthCheck := flag.Bool("health-check", false, "Query the running instance's readiness endpoint and exit")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	discover := flag.Bool("discover", false, "List power managers on the local network and exit")
	discoverTimeout := flag.Duration("discover-timeout", 5*time.Second, "How long -discover browses")
	flag.Parse()

	if *healthCheck {
		os.Exit(performHealthCheck(*configPath))
	}

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath, os.Stdout))
	}

	if *discover {
		os.Exit(performDiscovery(*discoverTimeout, os.Stdout))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(cfg.Logging.Level)

	logger.Info().Msg("Starting Printer Power Manager")
	logger.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Str("settings", cfg.Settings.Path).
		Str("serial_port", cfg.Printer.SerialPort).
		Dur("poll_interval", cfg.Power.PollInterval).
		Msg("Configuration loaded")

	application, err := app.New(cfg, *configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	setupDebugSignalHandlers(application)

	if err := application.Run(); err != nil {
		logger.Fatal().Err(err).Msg("Application failed")
	}
}

// healthURL turns the API listen address into a URL reachable from this host.
func healthURL(listenAddr string) (string, error) {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/ready", nil
}

func checkReady(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// performHealthCheck performs a health check and returns exit code
func performHealthCheck(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not load config: %v\n", err)
		return 1
	}

	url, err := healthURL(cfg.Server.ListenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	if err := checkReady(ctx, url); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}

	fmt.Println("Health check passed: power manager is ready")
	return 0
}

// performConfigValidation validates the configuration file and returns exit code
func performConfigValidation(configPath string, out io.Writer) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	if err := config.ValidateWithSchema(configPath); err != nil {
		logger.Error().Err(err).Msg("Configuration schema validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	fmt.Fprintln(out, "\n✅ Configuration validation PASSED")
	printSummary(out, cfg)
	fmt.Fprintln(out, "\nAll validation checks passed. Configuration is ready for use.")
	return 0
}

func printSummary(out io.Writer, cfg *config.Config) {
	enabled := func(b bool) string {
		if b {
			return "Enabled"
		}
		return "Disabled"
	}

	fmt.Fprintln(out, "\nConfiguration summary:")
	fmt.Fprintf(out, "  API Listen Address: %s\n", cfg.Server.ListenAddr)
	fmt.Fprintf(out, "  Settings Database: %s\n", cfg.Settings.Path)
	fmt.Fprintf(out, "  Shell: %s\n", cfg.Power.Shell)
	fmt.Fprintf(out, "  Status Command: %s\n", cfg.Power.StatusCommand)
	fmt.Fprintf(out, "  Probe Timeout: %s\n", cfg.Power.ProbeTimeout)
	if cfg.Power.PollInterval > 0 {
		fmt.Fprintf(out, "  Hardware Poll Interval: %s\n", cfg.Power.PollInterval)
	} else {
		fmt.Fprintln(out, "  Hardware Poller: Disabled")
	}
	fmt.Fprintf(out, "  M80/M81 Replacements: %q / %q\n", cfg.GCode.PowerOnReplacement, cfg.GCode.PowerOffReplacement)
	if cfg.Printer.SerialPort != "" {
		fmt.Fprintf(out, "  Printer: %s @ %d baud, G-code listener %s\n", cfg.Printer.SerialPort, cfg.Printer.BaudRate, cfg.Printer.ListenAddr)
	} else {
		fmt.Fprintln(out, "  Printer Link: Disabled")
	}
	if cfg.InfluxDB.Enabled() {
		fmt.Fprintf(out, "  InfluxDB: %s (org %s, bucket %s)\n", cfg.InfluxDB.URL, cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket)
	} else {
		fmt.Fprintln(out, "  InfluxDB: Disabled")
	}
	if cfg.MQTT.Enabled() {
		fmt.Fprintf(out, "  MQTT: %s (prefix %s, qos %d)\n", cfg.MQTT.Broker, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS)
	} else {
		fmt.Fprintln(out, "  MQTT: Disabled")
	}
	fmt.Fprintf(out, "  mDNS Advertisement: %s\n", enabled(cfg.Discovery.Enabled))
	fmt.Fprintf(out, "  Slack Notifications: %s\n", enabled(cfg.Notifications.SlackWebhookURL != ""))
	fmt.Fprintf(out, "  Log Level: %s\n", cfg.Logging.Level)
}

// performDiscovery browses for other instances and prints them.
func performDiscovery(timeout time.Duration, out io.Writer) int {
	logger.Initialize("warn")

	instances, err := discovery.Discover(context.Background(), discovery.ServiceType, discovery.DefaultDomain, timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", err)
		return 1
	}
	if len(instances) == 0 {
		fmt.Fprintln(out, "No power managers found")
		return 0
	}
	for _, inst := range instances {
		fmt.Fprintf(out, "%-24s %s:%d  state=%s  api=%s\n",
			inst.ID(), inst.Address, inst.Port, inst.State(), inst.TXTRecord["api"])
	}
	return 0
}
