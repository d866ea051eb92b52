// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ColonelBlimp/vibemon/internal/severity"
	"github.com/ColonelBlimp/vibemon/internal/telemetry"
	"github.com/spf13/viper"
)

const (
	AppName            = "vibemon"
	ConfigType         = "yaml"
	ThresholdsFileName = "thresholds.txt"
	DefaultConfig      = `# Vibration monitor configuration

# Thresholds
thresholds_file: ""          # KEY=VALUE threshold file ("" = ~/.config/vibemon/thresholds.txt)
watch_thresholds: true       # Reload thresholds when the file changes (monitor)

# Ingestion
tick_interval: 16ms          # Consumer period (~60 Hz)
batch_size: 500              # Max frames processed per tick
queue_size: 4096             # Inbound queue capacity; frames are dropped when full

# Rate and latency
latency_history: 1000        # Samples kept for latency and arrival statistics
rate_smoothing: 0.1          # EMA weight of each new instantaneous rate (0.0-1.0)
initial_rate_hz: 100         # Rate estimate before the first interval is seen

# RMS
rms_window: 25               # Window length when recomputing RMS locally
recompute_rms: false         # Derive RMS from hp_abs instead of trusting the device

# Calibration
min_samples_per_class: 30    # Valid samples each class needs before solving
threshold_epsilon: 0.005     # Minimum gap between adjacent thresholds (g)

# Simulation
sim_rate_hz: 100             # Synthetic/replay sample rate
sim_seconds: 30              # Synthetic signal duration
sim_loop: false              # Restart the replay when it ends

# Logging
log_level: info              # debug, info, warn or error
log_format: console          # console or json
debug: false                 # Shorthand for log_level: debug
`
)

// Settings holds all application configuration
type Settings struct {
	// Thresholds
	ThresholdsFile  string `mapstructure:"thresholds_file"`
	WatchThresholds bool   `mapstructure:"watch_thresholds"`

	// Ingestion
	TickInterval time.Duration `mapstructure:"tick_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	QueueSize    int           `mapstructure:"queue_size"`

	// Rate and latency
	LatencyHistory int     `mapstructure:"latency_history"`
	RateSmoothing  float64 `mapstructure:"rate_smoothing"`
	InitialRateHz  float64 `mapstructure:"initial_rate_hz"`

	// RMS
	RMSWindow    int  `mapstructure:"rms_window"`
	RecomputeRMS bool `mapstructure:"recompute_rms"`

	// Calibration
	MinSamplesPerClass int     `mapstructure:"min_samples_per_class"`
	ThresholdEpsilon   float64 `mapstructure:"threshold_epsilon"`

	// Simulation
	SimRateHz  float64 `mapstructure:"sim_rate_hz"`
	SimSeconds float64 `mapstructure:"sim_seconds"`
	SimLoop    bool    `mapstructure:"sim_loop"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	Debug     bool   `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/vibemon/
func Init() error {
	viper.SetDefault("thresholds_file", "")
	viper.SetDefault("watch_thresholds", true)
	viper.SetDefault("tick_interval", "16ms")
	viper.SetDefault("batch_size", 500)
	viper.SetDefault("queue_size", 4096)
	viper.SetDefault("latency_history", telemetry.DefaultHistorySize)
	viper.SetDefault("rate_smoothing", telemetry.DefaultSmoothing)
	viper.SetDefault("initial_rate_hz", telemetry.DefaultInitialRateHz)
	viper.SetDefault("rms_window", 25)
	viper.SetDefault("recompute_rms", false)
	viper.SetDefault("min_samples_per_class", 30)
	viper.SetDefault("threshold_epsilon", severity.DefaultEpsilon)
	viper.SetDefault("sim_rate_hz", 100)
	viper.SetDefault("sim_seconds", 30)
	viper.SetDefault("sim_loop", false)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "console")
	viper.SetDefault("debug", false)

	viper.SetEnvPrefix(AppName)
	viper.AutomaticEnv()

	viper.SetConfigType(ConfigType)
	viper.AddConfigPath(".")

	configDir := appConfigDir()
	viper.AddConfigPath(configDir)

	// .config.yaml (hidden) wins over config.yaml
	viper.SetConfigName(".config")
	err := viper.ReadInConfig()
	if err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("read config: %w", err)
		}
		if err = ensureConfigExists(configDir); err != nil {
			return err
		}
		if err = viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

// appConfigDir returns ~/.config/vibemon (or the platform equivalent).
func appConfigDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, AppName)
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	_, err := os.Stat(configFile)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config: %w", err)
	}
	if err = os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// DefaultThresholdsPath is where thresholds live when thresholds_file is unset
func DefaultThresholdsPath() string {
	return filepath.Join(appConfigDir(), ThresholdsFileName)
}

// ThresholdsPath returns the configured thresholds file, or the default one
func (s *Settings) ThresholdsPath() string {
	if s.ThresholdsFile != "" {
		return s.ThresholdsFile
	}
	return DefaultThresholdsPath()
}

// EffectiveLogLevel folds the debug switch into the log level
func (s *Settings) EffectiveLogLevel() string {
	if s.Debug {
		return "debug"
	}
	return s.LogLevel
}

// Limits returns the threshold limits for the configured epsilon
func (s *Settings) Limits() severity.Limits {
	l := severity.DefaultLimits()
	l.Epsilon = s.ThresholdEpsilon
	return l
}

// RateConfig returns the rate estimator settings
func (s *Settings) RateConfig() telemetry.RateConfig {
	return telemetry.RateConfig{
		InitialRateHz: s.InitialRateHz,
		Smoothing:     s.RateSmoothing,
		HistorySize:   s.LatencyHistory,
	}
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Ingestion
	if s.TickInterval < time.Millisecond || s.TickInterval > time.Second {
		errs = append(errs, fmt.Errorf("tick_interval must be between 1ms and 1s, got %v", s.TickInterval))
	}
	if s.BatchSize < 1 || s.BatchSize > 100000 {
		errs = append(errs, fmt.Errorf("batch_size must be between 1 and 100000, got %d", s.BatchSize))
	}
	if s.QueueSize < 1 || s.QueueSize > 1<<20 {
		errs = append(errs, fmt.Errorf("queue_size must be between 1 and %d, got %d", 1<<20, s.QueueSize))
	}

	// Rate and latency
	if s.LatencyHistory < 2 || s.LatencyHistory > 100000 {
		errs = append(errs, fmt.Errorf("latency_history must be between 2 and 100000, got %d", s.LatencyHistory))
	}
	if s.RateSmoothing <= 0.0 || s.RateSmoothing > 1.0 {
		errs = append(errs, fmt.Errorf("rate_smoothing must be greater than 0.0 and at most 1.0, got %v", s.RateSmoothing))
	}
	if s.InitialRateHz <= 0 || s.InitialRateHz > 10000 {
		errs = append(errs, fmt.Errorf("initial_rate_hz must be greater than 0 and at most 10000, got %v", s.InitialRateHz))
	}

	// RMS
	if s.RMSWindow < 1 || s.RMSWindow > 10000 {
		errs = append(errs, fmt.Errorf("rms_window must be between 1 and 10000, got %d", s.RMSWindow))
	}

	// Calibration
	if s.MinSamplesPerClass < 1 || s.MinSamplesPerClass > 100000 {
		errs = append(errs, fmt.Errorf("min_samples_per_class must be between 1 and 100000, got %d", s.MinSamplesPerClass))
	}
	if s.ThresholdEpsilon <= 0 || s.ThresholdEpsilon > 0.05 {
		errs = append(errs, fmt.Errorf("threshold_epsilon must be greater than 0 and at most 0.05, got %v", s.ThresholdEpsilon))
	}

	// Simulation
	if s.SimRateHz < 1 || s.SimRateHz > 10000 {
		errs = append(errs, fmt.Errorf("sim_rate_hz must be between 1 and 10000, got %v", s.SimRateHz))
	}
	if s.SimSeconds <= 0 || s.SimSeconds > 86400 {
		errs = append(errs, fmt.Errorf("sim_seconds must be greater than 0 and at most 86400, got %v", s.SimSeconds))
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[s.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", s.LogLevel))
	}
	if s.LogFormat != "console" && s.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", s.LogFormat))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
