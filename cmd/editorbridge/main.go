// Package main implements the entry point for the editorbridge engine.
// The engine exposes a websocket endpoint the editor peer connects to and
// bridges tool-calling clients to that peer: commands flow in, responses,
// logs, and state flow back, and short peer absences are absorbed by
// buffering.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/editorbridge/bridge"
	"github.com/c360/editorbridge/config"
)

// Build information constants
const (
	BuildTime = "dev"
	appName   = "editorbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Engine failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, bridge.Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting editorbridge",
		"version", bridge.Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"port", cfg.Server.Port,
		"ws_path", cfg.Server.Path)

	engine := bridge.New(cfg, logger)
	if err := engine.Initialize(); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := engine.Start(signalCtx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	slog.Info("editorbridge started, waiting for peer")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := engine.Stop(cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("editorbridge shutdown complete")
	return nil
}

// loadConfig loads the configuration file, or defaults when none is given.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	if cliCfg.ConfigPath == "" {
		cfg := config.Default()
		applyFlagOverrides(cfg, cliCfg)
		return cfg, cfg.Validate()
	}
	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cfg, cliCfg)
	return cfg, cfg.Validate()
}

// applyFlagOverrides lets explicit flags win over the file.
func applyFlagOverrides(cfg *config.Config, cliCfg *CLIConfig) {
	if cliCfg.Port != 0 {
		cfg.Server.Port = cliCfg.Port
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}
	ensureConfigDefaults(cfg)
}

// ensureConfigDefaults re-runs default filling after overrides.
func ensureConfigDefaults(cfg *config.Config) {
	def := config.Default()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
}
