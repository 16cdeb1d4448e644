package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/traystats/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel      = string(LogLevelInfo)
	DefaultEnvPrefix     = "TRAYSTATS"
	DefaultConfigName    = "traystats"
	DefaultSwitchMargin  = 10.0
	DefaultIdleThreshold = 15.0
	DefaultFullThreshold = 99.5
)

type Config struct {
	LogLevel    string `mapstructure:"log_level"`
	Monitor     bool   `mapstructure:"monitor"`
	JSON        bool   `mapstructure:"json"`
	DumpSensors bool   `mapstructure:"dump_sensors"`
	NVML        bool   `mapstructure:"nvml"`

	ProviderInterval time.Duration `mapstructure:"provider_interval"`
	DiskInterval     time.Duration `mapstructure:"disk_interval"`
	NetworkInterval  time.Duration `mapstructure:"network_interval"`
	ProcessInterval  time.Duration `mapstructure:"process_interval"`
	UptimeInterval   time.Duration `mapstructure:"uptime_interval"`
	LogInterval      time.Duration `mapstructure:"log_interval"`

	CPUFallbackEvery     int     `mapstructure:"cpu_fallback_every"`
	GPUSwitchMargin      float64 `mapstructure:"gpu_switch_margin"`
	GPUIdleThreshold     float64 `mapstructure:"gpu_idle_threshold"`
	BatteryFullThreshold float64 `mapstructure:"battery_full_threshold"`
	ProcessTop           int     `mapstructure:"process_top"`
	HistorySize          int     `mapstructure:"history_size"`
}

// flag name -> viper key
var flagKeys = map[string]string{
	"log-level":              "log_level",
	"monitor":                "monitor",
	"json":                   "json",
	"dump-sensors":           "dump_sensors",
	"nvml":                   "nvml",
	"provider-interval":      "provider_interval",
	"disk-interval":          "disk_interval",
	"network-interval":       "network_interval",
	"process-interval":       "process_interval",
	"uptime-interval":        "uptime_interval",
	"log-interval":           "log_interval",
	"cpu-fallback-every":     "cpu_fallback_every",
	"gpu-switch-margin":      "gpu_switch_margin",
	"gpu-idle-threshold":     "gpu_idle_threshold",
	"battery-full-threshold": "battery_full_threshold",
	"process-top":            "process_top",
	"history-size":           "history_size",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("monitor", false)
	v.SetDefault("json", false)
	v.SetDefault("dump_sensors", false)
	v.SetDefault("nvml", true)
	v.SetDefault("provider_interval", time.Second)
	v.SetDefault("disk_interval", 5*time.Second)
	v.SetDefault("network_interval", time.Second)
	v.SetDefault("process_interval", 3*time.Second)
	v.SetDefault("uptime_interval", time.Minute)
	v.SetDefault("log_interval", 2*time.Second)
	v.SetDefault("cpu_fallback_every", 5)
	v.SetDefault("gpu_switch_margin", DefaultSwitchMargin)
	v.SetDefault("gpu_idle_threshold", DefaultIdleThreshold)
	v.SetDefault("battery_full_threshold", DefaultFullThreshold)
	v.SetDefault("process_top", 5)
	v.SetDefault("history_size", 60)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("traystats", pflag.ContinueOnError)
	fs.String("config", "", "Path to configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("monitor", false, "Log every snapshot at the log interval")
	fs.Bool("json", false, "Print one JSON snapshot of every monitor and exit")
	fs.Bool("dump-sensors", false, "Print the raw sensor tree and exit")
	fs.Bool("nvml", true, "Use NVML for NVIDIA GPUs")
	fs.Duration("provider-interval", time.Second, "Hardware provider refresh interval")
	fs.Duration("disk-interval", 5*time.Second, "Disk poll interval")
	fs.Duration("network-interval", time.Second, "Network poll interval")
	fs.Duration("process-interval", 3*time.Second, "Process table poll interval")
	fs.Duration("uptime-interval", time.Minute, "Uptime poll interval")
	fs.Duration("log-interval", 2*time.Second, "Interval between snapshot log lines in monitor mode")
	fs.Int("cpu-fallback-every", 5, "Query OS CPU clock/temperature fallback every N provider ticks")
	fs.Float64("gpu-switch-margin", DefaultSwitchMargin, "Load margin (points) a GPU must exceed the active one by to take over")
	fs.Float64("gpu-idle-threshold", DefaultIdleThreshold, "Load (%) below which GPUs are considered idle")
	fs.Float64("battery-full-threshold", DefaultFullThreshold, "Charge (%) reported as fully charged when plugged in")
	fs.Int("process-top", 5, "Number of top processes to keep")
	fs.Int("history-size", 60, "Number of points kept in each rolling history")

	return fs
}

// Load reads configuration from defaults, an optional TOML file, environment
// variables and command line arguments, in increasing order of precedence.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrParseFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	if err := readConfigFile(v, fs, o); err != nil {
		return nil, err
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	config.LogLevel = strings.ToLower(config.LogLevel)
	if config.LogLevel == "warn" {
		config.LogLevel = string(LogLevelWarning)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet, o *options) error {
	errFactory := errors.New()

	path := o.configPath
	if path == "" {
		path, _ = fs.GetString("config")
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, DefaultConfigName))
		}
		v.AddConfigPath(filepath.Join("/etc", DefaultConfigName))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	intervals := map[string]time.Duration{
		"provider_interval": c.ProviderInterval,
		"disk_interval":     c.DiskInterval,
		"network_interval":  c.NetworkInterval,
		"process_interval":  c.ProcessInterval,
		"uptime_interval":   c.UptimeInterval,
		"log_interval":      c.LogInterval,
	}
	for key, d := range intervals {
		if d <= 0 {
			return errFactory.WithData(errors.ErrInvalidInterval, key)
		}
	}

	switch {
	case c.CPUFallbackEvery < 1:
		return errFactory.WithData(errors.ErrInvalidThreshold, "cpu_fallback_every")
	case c.GPUSwitchMargin < 0:
		return errFactory.WithData(errors.ErrInvalidThreshold, "gpu_switch_margin")
	case c.GPUIdleThreshold < 0 || c.GPUIdleThreshold > 100:
		return errFactory.WithData(errors.ErrInvalidThreshold, "gpu_idle_threshold")
	case c.BatteryFullThreshold <= 0 || c.BatteryFullThreshold > 100:
		return errFactory.WithData(errors.ErrInvalidThreshold, "battery_full_threshold")
	case c.ProcessTop < 1:
		return errFactory.WithData(errors.ErrInvalidThreshold, "process_top")
	case c.HistorySize < 1:
		return errFactory.WithData(errors.ErrInvalidThreshold, "history_size")
	}

	return nil
}
