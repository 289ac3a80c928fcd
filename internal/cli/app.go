// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeranaias/companion/internal/audio"
	"github.com/jeranaias/companion/internal/commands"
	"github.com/jeranaias/companion/internal/config"
	"github.com/jeranaias/companion/internal/gateway"
	"github.com/jeranaias/companion/internal/logging"
	"github.com/jeranaias/companion/internal/metrics"
	"github.com/jeranaias/companion/internal/session"
	"github.com/jeranaias/companion/internal/threads"
	"github.com/jeranaias/companion/internal/voice"
)

const (
	// logFileName is the default log file while a chat owns the terminal.
	logFileName = "companion.log"

	// historyFileName keeps line-mode input history.
	historyFileName = "chat_history"

	metricsShutdownTimeout = 3 * time.Second
)

// =============================================================================
// CONFIG
// =============================================================================

// loadConfig reads the config file named by --config, or the default one,
// and returns it with the path later saves should go to.
func loadConfig(flags *globalFlags) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path = flags.configPath
		err  error
	)
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			cfg, err = config.LoadFromPath(path)
		} else {
			cfg = config.Default()
			cfg.ApplyEnvOverrides()
			err = cfg.Validate()
		}
	} else {
		cfg, err = config.Load()
		if err == nil {
			path, err = config.ConfigPathTOML()
		}
	}
	if err != nil {
		return nil, "", err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	return cfg, path, nil
}

// updateConfigFile applies fn to the config stored at path, without
// environment overrides, and saves it.
func updateConfigFile(path string, fn func(*config.Config) error) error {
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		load := config.LoadTOML
		if strings.HasSuffix(path, ".json") {
			load = config.LoadJSON
		}
		if err := load(cfg, path); err != nil {
			return err
		}
	}
	if err := fn(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if strings.HasSuffix(path, ".json") {
		return config.SaveJSON(cfg, path)
	}
	return config.SaveTOML(cfg, path)
}

// =============================================================================
// APP WIRING
// =============================================================================

// appOptions tunes newApp.
type appOptions struct {
	// logToFile sends logs to a file even when log.file is unset.
	logToFile bool
	// stderr receives logs when they do not go to a file.
	stderr io.Writer
	// speech builds the voice pipeline when voice is enabled.
	speech bool
}

// app holds the wired components one command runs on.
type app struct {
	cfg     *config.Config
	cfgPath string

	logger   *slog.Logger
	logClose io.Closer
	metrics  *metrics.Metrics

	gateway  *gateway.Gateway
	store    *threads.Store
	index    *threads.Index
	voice    *voice.Client
	resolver *voice.Resolver
	speech   *voice.Pipeline // nil when voice is off or nothing can play audio
	warmer   *gateway.Warmer // nil until startWarmer
	session  *session.Session
	registry *commands.Registry
}

// newApp wires every client component from cfg.
func newApp(cfg *config.Config, cfgPath string, opts appOptions) (*app, error) {
	logOpts := logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File}
	if logOpts.File == "" && opts.logToFile {
		dir, err := config.ConfigDir()
		if err != nil {
			return nil, err
		}
		logOpts.File = filepath.Join(dir, logFileName)
	}
	logger, closer, err := logging.New(logOpts, opts.stderr)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		cfgPath:  cfgPath,
		logger:   logger,
		logClose: closer,
		metrics:  metrics.New(prometheus.NewRegistry()),
		index:    threads.NewIndex(),
		registry: commands.NewRegistry(),
	}

	a.gateway = gateway.New(
		gateway.Endpoints{ChatURL: cfg.ChatURL(), HealthURL: cfg.HealthURL()},
		gateway.Options{Logger: logger, Metrics: a.metrics},
	)
	a.store = threads.NewStore(cfg.APIURL(), threads.StoreOptions{Logger: logger, Metrics: a.metrics})
	a.voice = voice.NewClient(cfg.VoiceURL(), voice.ClientOptions{Logger: logger})
	a.resolver = voice.NewResolver(a.voice)
	a.resolver.SetUserVoice(cfg.Voice.VoiceID)

	if opts.speech && cfg.Voice.Enabled {
		player, err := audio.NewCommandPlayer(cfg.Voice.PlayerCommand, logger)
		if err != nil {
			logger.Warn("voice playback unavailable", "error", err)
		} else {
			a.speech = voice.NewPipeline(a.voice, a.resolver, player, voice.PipelineOptions{Logger: logger, Metrics: a.metrics})
		}
	}

	sessOpts := session.Options{
		Gateway: a.gateway,
		Threads: a.store,
		Index:   a.index,
		Model:   cfg.Backend.Model,
		Logger:  logger,
		Metrics: a.metrics,
	}
	if a.speech != nil {
		sessOpts.Speaker = a.speech
		sessOpts.AutoSpeak = cfg.Voice.AutoSpeak
	}
	a.session = session.New(sessOpts)
	return a, nil
}

// env is the slash-command environment for a.
func (a *app) env() *commands.Env {
	return &commands.Env{
		Session:       a.session,
		Index:         a.index,
		Lister:        a.store,
		Voice:         a.resolver,
		Catalog:       a.voice,
		OnVoiceChange: a.saveVoice,
		OnAutoSpeak: func(on bool) {
			a.logger.Info("auto speak changed", "enabled", on)
		},
	}
}

// saveVoice persists a voice choice; "" returns to automatic selection.
func (a *app) saveVoice(id string) error {
	if a.cfgPath == "" {
		return errors.New("no config file to save to")
	}
	return updateConfigFile(a.cfgPath, func(c *config.Config) error {
		c.Voice.VoiceID = id
		return nil
	})
}

// startWarmer probes the backend in the background when warm-up is enabled.
func (a *app) startWarmer(ctx context.Context) {
	if !a.cfg.Warmup.Enabled {
		return
	}
	a.warmer = gateway.NewWarmer(a.gateway, time.Duration(a.cfg.Warmup.IntervalSecs)*time.Second)
	a.warmer.SetOnResult(func(err error) {
		if err != nil {
			a.logger.Debug("backend probe failed", "error", err)
		}
	})
	go a.warmer.Run(ctx)
}

// poke asks the warmer for an early probe.
func (a *app) poke() {
	if a.warmer != nil {
		a.warmer.Poke()
	}
}

// serveMetrics exposes /metrics on addr until ctx is done.
func (a *app) serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))

	go func() {
		a.logger.Info("metrics listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server failed", "addr", addr, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()
}

// watchConfig applies voice changes made to the config file while running.
func (a *app) watchConfig(ctx context.Context) {
	if a.cfgPath == "" {
		return
	}
	w, err := config.NewWatcher(a.cfgPath, 0)
	if err != nil {
		a.logger.Debug("config watch unavailable", "path", a.cfgPath, "error", err)
		return
	}
	go func() {
		defer w.Close()
		_ = w.Run(ctx, func(cfg *config.Config, err error) {
			if err != nil {
				a.logger.Warn("config reload failed", "error", err)
				return
			}
			a.resolver.SetUserVoice(cfg.Voice.VoiceID)
			a.logger.Info("config reloaded", "voice", cfg.Voice.VoiceID)
		})
	}()
}

// historyFile is where line-mode input history lives, or "".
func (a *app) historyFile() string {
	dir, err := config.ConfigDir()
	if err != nil {
		return ""
	}
	if err := config.EnsureConfigDir(); err != nil {
		return ""
	}
	return filepath.Join(dir, historyFileName)
}

// Close stops speech, waits for background persistence and closes the log.
func (a *app) Close() error {
	if a.speech != nil {
		a.speech.Stop()
	}
	a.session.Wait()
	return a.logClose.Close()
}
