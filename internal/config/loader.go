// Package config loads the tailwind.yaml configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"tailwind/internal/coordinator"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the config directory
const FileName = "tailwind.yaml"

// ErrInvalidConfig is returned when the loaded configuration cannot be used
var ErrInvalidConfig = errors.New("config: invalid configuration")

// CoordinatorConfig is the coordinator section
type CoordinatorConfig struct {
	Interval         time.Duration `yaml:"interval"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	ListenerTimeout  time.Duration `yaml:"listener_timeout"`
}

// DeviceConfig is the device section
type DeviceConfig struct {
	Name       string `yaml:"name"`
	StatusFile string `yaml:"status_file"`
}

// APIConfig is the api section
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// MQTTConfig is the mqtt section. Publishing is off when Broker is empty.
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	NodeID          string `yaml:"node_id"`
}

// Enabled reports whether a broker is configured
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// LogConfig is the log section
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config represents the tailwind.yaml structure
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Device      DeviceConfig      `yaml:"device"`
	API         APIConfig         `yaml:"api"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Log         LogConfig         `yaml:"log"`
}

// Default returns the configuration used for anything the file leaves out
func Default() Config {
	defaults := coordinator.DefaultConfig()
	return Config{
		Coordinator: CoordinatorConfig{
			Interval:         defaults.Interval,
			FetchTimeout:     defaults.FetchTimeout,
			FailureThreshold: defaults.FailureThreshold,
			StaleAfter:       defaults.StaleAfter,
			ListenerTimeout:  defaults.ListenerTimeout,
		},
		Device: DeviceConfig{
			Name:       "tailwind",
			StatusFile: "status.json",
		},
		API: APIConfig{
			Enabled: true,
			Port:    8080,
		},
		MQTT: MQTTConfig{
			DiscoveryPrefix: "homeassistant",
			NodeID:          "tailwind",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// CoordinatorConfig converts the coordinator section
func (c *Config) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		Name:             c.Device.Name,
		Interval:         c.Coordinator.Interval,
		FetchTimeout:     c.Coordinator.FetchTimeout,
		FailureThreshold: c.Coordinator.FailureThreshold,
		StaleAfter:       c.Coordinator.StaleAfter,
		ListenerTimeout:  c.Coordinator.ListenerTimeout,
	}
}

// Validate checks the configuration for values the application cannot run with
func (c *Config) Validate() error {
	if err := c.CoordinatorConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Device.StatusFile == "" {
		return fmt.Errorf("%w: device.status_file cannot be empty", ErrInvalidConfig)
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("%w: api.port %d out of range", ErrInvalidConfig, c.API.Port)
	}
	if c.MQTT.Enabled() && (c.MQTT.DiscoveryPrefix == "" || c.MQTT.NodeID == "") {
		return fmt.Errorf("%w: mqtt.discovery_prefix and mqtt.node_id are required", ErrInvalidConfig)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalidConfig, err)
	}
	return nil
}

// BuildLogger creates the application logger described by the log section
func (c *Config) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: log.level: %w", ErrInvalidConfig, err)
	}

	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// Loader manages configuration file loading
type Loader struct {
	configDir string
	logger    *zap.Logger
	getenv    func(string) string
	config    *Config
}

// NewLoader creates a new configuration loader
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		configDir: configDir,
		logger:    logger,
		getenv:    os.Getenv,
	}
}

// Path returns the location of the configuration file
func (l *Loader) Path() string {
	return filepath.Join(l.configDir, FileName)
}

// Load reads tailwind.yaml, applies defaults and environment overrides, and
// validates the result. A missing file is not an error: defaults are used.
func (l *Loader) Load() (*Config, error) {
	path := l.Path()
	l.logger.Debug("Loading config", zap.String("path", path))

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		l.logger.Warn("Config file not found, using defaults", zap.String("path", path))
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := l.applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Relative status files are resolved against the config directory
	if !filepath.IsAbs(cfg.Device.StatusFile) {
		cfg.Device.StatusFile = filepath.Join(l.configDir, cfg.Device.StatusFile)
	}

	l.config = &cfg
	l.logger.Info("Config loaded",
		zap.String("status_file", cfg.Device.StatusFile),
		zap.Duration("interval", cfg.Coordinator.Interval),
		zap.Bool("api", cfg.API.Enabled),
		zap.Bool("mqtt", cfg.MQTT.Enabled()))
	return &cfg, nil
}

// applyEnv overrides file values with TAILWIND_STATUS_FILE, MQTT_BROKER,
// MQTT_USERNAME, MQTT_PASSWORD and API_PORT when they are set.
func (l *Loader) applyEnv(cfg *Config) error {
	if v := l.getenv("TAILWIND_STATUS_FILE"); v != "" {
		cfg.Device.StatusFile = v
	}
	if v := l.getenv("MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := l.getenv("MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := l.getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := l.getenv("API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: API_PORT: %w", ErrInvalidConfig, err)
		}
		cfg.API.Port = port
	}
	return nil
}

// Get returns the last loaded configuration, or nil before Load
func (l *Loader) Get() *Config {
	return l.config
}
