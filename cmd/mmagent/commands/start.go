package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FFTY50/micromanager-pos-sub000/internal/logger"
	"github.com/FFTY50/micromanager-pos-sub000/internal/telemetry"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/agent"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/config"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/metrics"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent",
	Long: `Start the agent in the foreground.

The agent is designed to run under a process supervisor (systemd, runit).
It reads the serial port, groups receipt lines into transactions, queues
payloads on disk, and delivers them to the configured intake.

Examples:
  # Start with default config location
  mmagent start

  # Start with custom config file
  mmagent start --config /etc/micromanager/config.yaml

  # Override config with environment variables
  MM_SERIAL_PORT=/dev/ttyUSB1 MM_LOGGING_LEVEL=DEBUG mmagent start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := cfg.Telemetry
	telemetryCfg.ServiceName = "mmagent"
	telemetryCfg.ServiceVersion = Version
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()),
		"level", cfg.Logging.Level, "format", cfg.Logging.Format)
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("metrics enabled", "endpoint", "/metrics")
	}

	a, err := agent.New(cfg, Version)
	if err != nil {
		return err
	}
	logger.Info("agent assembled",
		logger.DeviceID(a.DeviceID()), logger.Port(a.SerialPort()))

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- a.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("agent is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("agent shutdown error", logger.Err(err))
			return err
		}
		logger.Info("agent stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("agent error", logger.Err(err))
			return err
		}
		logger.Info("agent stopped")
	}

	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
