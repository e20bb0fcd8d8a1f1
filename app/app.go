// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package app wires the power manager together and runs it until a
// shutdown signal arrives.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/soothill/printer-power-manager/api"
	"github.com/soothill/printer-power-manager/config"
	"github.com/soothill/printer-power-manager/discovery"
	"github.com/soothill/printer-power-manager/eventbus"
	"github.com/soothill/printer-power-manager/executor"
	"github.com/soothill/printer-power-manager/monitoring"
	"github.com/soothill/printer-power-manager/notify"
	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/pkg/logger"
	"github.com/soothill/printer-power-manager/pkg/slacknotifier"
	"github.com/soothill/printer-power-manager/power"
	"github.com/soothill/printer-power-manager/printerlink"
	"github.com/soothill/printer-power-manager/settings"
	"github.com/soothill/printer-power-manager/storage"
)

const (
	signalChannelSize = 1
	startupTimeout    = 30 * time.Second
	statusTimeout     = 2 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// App represents the main application
type App struct {
	cfg        *config.Config
	configPath string

	settings   *settings.Store
	bus        *eventbus.Bus
	bridge     *eventbus.Bridge
	hub        *notify.Hub
	history    *storage.InfluxDBStorage
	alerter    *slacknotifier.Notifier
	link       *printerlink.Link
	controller *power.Controller
	poller     *monitoring.Poller
	advertiser *discovery.Advertiser
	server     *http.Server

	mu       sync.Mutex
	listener net.Listener

	configWatcher *config.Watcher
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	shutdownOnce  sync.Once
}

// New creates the application and every component that does not need the
// network yet. Nothing runs until Run.
func New(cfg *config.Config, configPath string) (*App, error) {
	a := &App{cfg: cfg, configPath: configPath}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	if err := a.initializeComponents(); err != nil {
		if a.advertiser != nil {
			a.advertiser.Shutdown()
		}
		a.closeStores()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return a, nil
}

// initializeComponents builds the component graph. The printer link and the
// controller need each other, so the link receives its interceptor last.
func (a *App) initializeComponents() error {
	var err error

	a.settings, err = settings.Open(a.cfg.Settings.Path, settings.DefaultValues())
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}

	a.bus = eventbus.New(eventbus.DefaultBufferSize)
	a.hub = notify.NewHub(a.cfg.Server.AllowedOrigins)
	notifiers := notify.Multi{a.hub}

	if a.cfg.MQTT.Enabled() {
		a.bridge = eventbus.NewBridge(eventbus.BridgeConfig{
			Broker:      a.cfg.MQTT.Broker,
			ClientID:    a.cfg.MQTT.ClientID,
			Username:    a.cfg.MQTT.Username,
			Password:    a.cfg.MQTT.Password,
			TopicPrefix: a.cfg.MQTT.TopicPrefix,
			QoS:         a.cfg.MQTT.QoS,
		}, a.bus)
		notifiers = append(notifiers, a.bridge)
	}

	if a.cfg.Discovery.Enabled {
		port, perr := listenPort(a.cfg.Server.ListenAddr)
		if perr != nil {
			return perr
		}
		a.advertiser, err = discovery.Advertise(discovery.Config{
			Instance: a.cfg.Discovery.Instance,
			Domain:   a.cfg.Discovery.Domain,
			Port:     port,
			APIPath:  api.PathPrefix,
			WSPath:   api.WebSocketPath,
		})
		if err != nil {
			return fmt.Errorf("failed to advertise service: %w", err)
		}
		notifiers = append(notifiers, a.advertiser)
	}

	a.alerter = slacknotifier.New(a.cfg.Notifications.SlackWebhookURL)
	if a.alerter.IsEnabled() {
		logger.Info().Msg("Slack notifications enabled")
	} else {
		logger.Info().Msg("Slack notifications disabled (no webhook URL configured)")
	}

	opts := []power.Option{
		power.WithNotifier(notifiers),
		power.WithAlerter(a.alerter),
		power.WithReplacements(a.cfg.GCode.PowerOnReplacement, a.cfg.GCode.PowerOffReplacement),
	}

	if a.cfg.InfluxDB.Enabled() {
		a.history, err = storage.NewInfluxDBStorage(storage.InfluxDBConfig{
			URL:    a.cfg.InfluxDB.URL,
			Token:  a.cfg.InfluxDB.Token,
			Org:    a.cfg.InfluxDB.Organization,
			Bucket: a.cfg.InfluxDB.Bucket,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize InfluxDB: %w", err)
		}
		opts = append(opts, power.WithRecorder(a.history))
		logger.Info().Str("url", a.cfg.InfluxDB.URL).Str("bucket", a.cfg.InfluxDB.Bucket).Msg("Power history enabled")
	}

	a.link = printerlink.New(printerlink.Config{
		Port:       a.cfg.Printer.SerialPort,
		BaudRate:   a.cfg.Printer.BaudRate,
		ListenAddr: a.cfg.Printer.ListenAddr,
	})
	opts = append(opts, power.WithPrinterComm(a.link))

	shell := executor.NewShell(a.cfg.Power.Shell, a.cfg.Power.StatusCommand, a.cfg.Power.ProbeTimeout)
	a.controller = power.NewController(a.bus, a.settings, shell, shell, opts...)
	a.link.SetInterceptor(a.controller)
	a.hub.SetGreeting(a.greeting)

	if a.cfg.Power.PollInterval > 0 {
		a.poller = monitoring.NewPoller(shell, a.bus, a.cfg.Power.PollInterval)
	}

	deps := api.Deps{
		Controller:     a.controller,
		Settings:       a.settings,
		Bus:            a.bus,
		WebSocket:      a.hub.ServeWS,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
	}
	if a.history != nil {
		deps.History = a.history
	}
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           api.NewRouter(deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.configWatcher = config.NewWatcher(a.configPath)
	return nil
}

func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 0, fmt.Errorf("invalid listen port %q: %w", p, err)
	}
	return port, nil
}

// greeting tells a newly connected websocket client the current state.
func (a *App) greeting() []interfaces.Message {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	st, err := a.controller.Status(ctx)
	if err != nil {
		return nil
	}
	msgs := []interfaces.Message{interfaces.PowerStateMessage(int(st.State))}
	if st.TimerRunning {
		msgs = append(msgs, interfaces.TimeoutMessage(st.RemainingSeconds))
	}
	return msgs
}

// Start brings every component up in dependency order and returns once the
// HTTP API is listening.
func (a *App) Start() error {
	startCtx, cancel := context.WithTimeout(a.ctx, startupTimeout)
	defer cancel()

	if a.bridge != nil {
		if err := a.bridge.Start(a.ctx); err != nil {
			logger.Error().Err(err).Msg("MQTT bridge failed to connect, continuing without it")
		}
	}

	if err := a.link.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start printer link: %w", err)
	}
	if err := a.controller.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start power controller: %w", err)
	}
	if a.poller != nil {
		a.poller.Start(a.ctx)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(startCtx, "tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.server.Addr, err)
	}
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()
	a.startHTTPServer(ln)

	a.configWatcher.Start(a.ctx)
	a.startConfigWatcher()
	return nil
}

// Addr returns the bound API address once Start has returned.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		a.Shutdown()
		return err
	}
	a.setupSignalHandler()

	<-a.ctx.Done()
	logger.Info().Msg("Waiting for goroutines to finish...")
	a.wg.Wait()
	logger.Info().Msg("All goroutines finished, exiting")
	return nil
}

func (a *App) startHTTPServer(ln net.Listener) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", ln.Addr().String()).Msg("Starting API server")
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("API server failed")
		}
	}()
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func (a *App) setupSignalHandler() {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			a.Shutdown()
		case <-a.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

// Shutdown stops accepting requests, runs the controller's shutdown
// transition and releases every component. It is safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.performGracefulShutdown)
}

// performGracefulShutdown handles graceful shutdown of all components
func (a *App) performGracefulShutdown() {
	logger.Info().Msg("Initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if a.Addr() != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
		} else {
			logger.Info().Msg("HTTP server stopped")
		}
	}

	a.configWatcher.Close()
	if a.poller != nil {
		a.poller.Stop()
	}
	if err := a.controller.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Power controller shutdown error")
	}
	if err := a.link.Close(); err != nil {
		logger.Error().Err(err).Msg("Printer link close error")
	}
	if a.advertiser != nil {
		a.advertiser.Shutdown()
	}
	if a.bridge != nil {
		a.bridge.Stop()
	}
	a.hub.Close()
	a.closeStores()
	a.cancel()
}

// closeStores flushes history and closes the bus and the settings database.
func (a *App) closeStores() {
	if a.history != nil {
		a.history.Close()
		logger.Info().Msg("InfluxDB flush completed")
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.settings != nil {
		if err := a.settings.Close(); err != nil {
			logger.Error().Err(err).Msg("Settings close error")
		}
	}
}

// UpdateConfig applies the settings that can change without a restart.
func (a *App) UpdateConfig(newCfg *config.Config) {
	old := a.cfg
	a.cfg = newCfg
	logger.Info().Msg("Application configuration updated")

	if newCfg.Logging.Level != old.Logging.Level {
		logger.SetLevel(newCfg.Logging.Level)
		logger.Info().Str("level", newCfg.Logging.Level).Msg("Log level updated")
	}

	a.alerter.UpdateWebhookURL(newCfg.Notifications.SlackWebhookURL)

	switch {
	case a.poller != nil && newCfg.Power.PollInterval > 0:
		a.poller.SetInterval(newCfg.Power.PollInterval)
		logger.Info().Dur("poll_interval", newCfg.Power.PollInterval).Msg("Poll interval updated")
	case (a.poller != nil) != (newCfg.Power.PollInterval > 0):
		logger.Warn().Msg("Enabling or disabling the hardware poller requires a restart")
	}
}

// startConfigWatcher applies reloaded configurations until shutdown.
func (a *App) startConfigWatcher() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				logger.Info().Msg("Config watcher goroutine shutting down")
				return
			case reloaded := <-a.configWatcher.Reloaded:
				if reloaded.Error != nil {
					logger.Error().Err(reloaded.Error).Msg("Error reloading configuration")
					continue
				}
				a.UpdateConfig(reloaded.Config)
			}
		}
	}()
}

// DumpApplicationState dumps current application state to logs
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if st, err := a.controller.Status(ctx); err != nil {
		logger.Warn().Err(err).Msg("Power controller not responding")
	} else {
		logger.Info().
			Str("state", st.StateName).
			Bool("management_enabled", st.ManagementEnabled).
			Bool("timer_running", st.TimerRunning).
			Int("remaining_seconds", st.RemainingSeconds).
			Int("timeout_seconds", st.TimeoutSeconds).
			Msg("Power controller state")
	}

	logger.Info().
		Bool("serial_connected", a.link.Connected()).
		Msg("Printer link state")

	logger.Info().
		Int("websocket_clients", a.hub.ClientCount()).
		Int("bus_subscribers", a.bus.SubscriberCount()).
		Bool("mqtt_bridge", a.bridge != nil).
		Bool("history", a.history != nil).
		Bool("poller", a.poller != nil).
		Msg("Component state")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024)
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}
