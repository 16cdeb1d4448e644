package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/traystats/internal/config"
	"codeberg.org/mutker/traystats/internal/engine"
	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/logger"
)

var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := run(); err != nil {
		logger.Error().Err(err).Msg("")
		os.Exit(1)
	}
}

func run() error {
	errFactory := errors.New()

	e, err := engine.New(cfg, engine.DefaultSources(cfg))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to shut down cleanly")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	switch {
	case cfg.DumpSensors:
		fmt.Print(e.DumpSensors())
		return nil

	case cfg.JSON:
		e.Start()
		// rates need a second sample
		wait(ctx, max(cfg.ProviderInterval, cfg.NetworkInterval))
		if err := writeState(os.Stdout, e.State()); err != nil {
			return errFactory.Wrap(errors.ErrEncodeOut, err)
		}
		return nil
	}

	e.Start()
	if err := loop(ctx, e); err != nil {
		return errFactory.Wrap(errors.ErrMainLoop, err)
	}
	logger.Info().Msg("Exiting...")

	return nil
}

func loop(ctx context.Context, e *engine.Engine) error {
	ticker := time.NewTicker(cfg.LogInterval)
	defer ticker.Stop()

	if cfg.Monitor {
		logger.Info().Msg("Monitor mode activated. Logging system state...")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			logState(e.State())
		}
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func writeState(w io.Writer, state engine.State) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}

func logState(s engine.State) {
	if cfg.LogLevel == string(config.LogLevelDebug) {
		logger.Debug().
			Float64("cpu_load", s.CPU.TotalLoad).
			Float64("cpu_temperature", s.CPU.Temperature).
			Float64("cpu_power", s.CPU.PackagePower).
			Float64("cpu_clock", s.CPU.Clock).
			Int("cpu_cores", s.CPU.CoreCount).
			Str("gpu", s.GPU.Name).
			Float64("gpu_load", s.GPU.CoreLoad).
			Float64("gpu_temperature", s.GPU.Temperature).
			Float64("gpu_core_clock", s.GPU.CoreClock).
			Float64("gpu_memory_clock", s.GPU.MemoryClock).
			Float64("gpu_fan_percent", s.GPU.FanPercent).
			Float64("gpu_memory_load", s.GPU.MemoryLoad).
			Float64("gpu_power", s.GPU.Power).
			Float64("ram_used_gb", s.RAM.UsedGB).
			Float64("ram_load", s.RAM.Load).
			Bool("battery", s.Battery.HasBattery).
			Float64("battery_charge", s.Battery.ChargeLevel).
			Float64("battery_rate", s.Battery.ChargeDischargeRate).
			Float64("battery_health", s.Battery.Health).
			Str("battery_status", s.Battery.StatusText).
			Str("battery_time", s.Battery.TimeRemaining).
			Float64("disk_usage", s.Disk.TotalUsagePercent).
			Int("disk_drives", len(s.Disk.Drives)).
			Str("net_down", s.Network.DownloadFormatted()).
			Str("net_up", s.Network.UploadFormatted()).
			Str("net_total_down", s.Network.TotalDownloadedFormatted()).
			Str("net_total_up", s.Network.TotalUploadedFormatted()).
			Str("top_process", s.Process.TopConsumerName).
			Float64("top_process_cpu", s.Process.TopConsumerCPU).
			Str("uptime", s.Uptime.Uptime).
			Msg("")
	} else if cfg.Monitor {
		logger.Info().
			Float64("cpu_load", s.CPU.TotalLoad).
			Float64("cpu_temperature", s.CPU.Temperature).
			Float64("gpu_load", s.GPU.CoreLoad).
			Float64("gpu_temperature", s.GPU.Temperature).
			Float64("ram_load", s.RAM.Load).
			Float64("battery_charge", s.Battery.ChargeLevel).
			Float64("disk_usage", s.Disk.TotalUsagePercent).
			Str("net_down", s.Network.DownloadFormatted()).
			Str("net_up", s.Network.UploadFormatted()).
			Str("top_process", s.Process.TopConsumerName).
			Msg("")
	}
}
