// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/soothill/printer-power-manager/pkg/logger"
)

// Reload is the outcome of one reload attempt.
type Reload struct {
	Config *Config
	Error  error
}

// Watcher reloads the configuration file when the reload signal arrives.
// Results are delivered on Reloaded; a result the consumer has not taken
// yet is replaced by the newer one.
type Watcher struct {
	path     string
	Reloaded chan Reload

	signals chan os.Signal
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// NewWatcher creates a watcher for path. It does nothing until Start.
func NewWatcher(path string) *Watcher {
	return &Watcher{
		path:     path,
		Reloaded: make(chan Reload, 1),
		signals:  make(chan os.Signal, 1),
	}
}

// Start begins listening for the reload signal (SIGHUP on Unix).
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	notifyReload(w.signals)

	w.wg.Add(1)
	go w.watch(ctx)
}

// Trigger reloads immediately, as if the signal had arrived.
func (w *Watcher) Trigger() {
	select {
	case w.signals <- os.Interrupt:
	default:
	}
}

// Close stops the watcher.
func (w *Watcher) Close() {
	w.once.Do(func() {
		signal.Stop(w.signals)
		if w.cancel != nil {
			w.cancel()
		}
		w.wg.Wait()
	})
}

func (w *Watcher) watch(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.signals:
			logger.Info().Str("path", w.path).Msg("Reloading configuration")
			cfg, err := Load(w.path)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to reload configuration")
			} else {
				logger.Info().Msg("Configuration reloaded successfully")
			}
			w.deliver(Reload{Config: cfg, Error: err})
		}
	}
}

func (w *Watcher) deliver(r Reload) {
	for {
		select {
		case w.Reloaded <- r:
			return
		default:
		}
		select {
		case <-w.Reloaded:
		default:
		}
	}
}
