// config.go: settings struct and functions to load and save the agent configuration.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LogConfig holds settings for a rotating log file.
type LogConfig struct {
	Enabled    bool   // true to enable this log
	Path       string // path to the log file
	MaxSizeMB  int    `mapstructure:"maxsizemb"`
	MaxBackups int    `mapstructure:"maxbackups"`
	MaxAgeDays int    `mapstructure:"maxagedays"`
}

// MainSettings are identity and housekeeping settings for the agent process.
type MainSettings struct {
	Name    string    // instance name, reported as the device name when set
	DataDir string    `mapstructure:"datadir"` // directory for persisted agent state
	Log     LogConfig // main log file settings
}

// ServerSettings describe the remote management server.
type ServerSettings struct {
	URL     string // base URL of the management server
	Timeout int    // per-request timeout in seconds
}

// PollSettings control the status reconciliation loop.
type PollSettings struct {
	Interval         int `mapstructure:"interval"`         // base poll interval in seconds
	SessionInterval  int `mapstructure:"sessioninterval"`  // in-session unlock watcher interval in seconds
	FailureThreshold int `mapstructure:"failurethreshold"` // consecutive failures before backoff
	MaxInterval      int `mapstructure:"maxinterval"`      // backoff ceiling in seconds
	Heartbeat        int `mapstructure:"heartbeat"`        // online-status refresh period in seconds, 0 disables
}

// EmergencySettings control the emergency unlock quota.
type EmergencySettings struct {
	MaxPerDay   int `mapstructure:"maxperday"`   // overrides allowed per calendar day
	ResetOffset int `mapstructure:"resetoffset"` // seconds past local midnight for the proactive reset
}

// TelemetrySettings control the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   // true to expose the metrics endpoint
	Listen  string // listen address, e.g. "localhost:8090"
}

// Settings is the root configuration for the agent.
type Settings struct {
	Debug     bool
	Main      MainSettings
	Server    ServerSettings
	Poll      PollSettings
	Emergency EmergencySettings
	Telemetry TelemetrySettings
}

// RequestTimeout returns the directory client timeout as a duration.
func (s *Settings) RequestTimeout() time.Duration {
	return time.Duration(s.Server.Timeout) * time.Second
}

// PollInterval returns the base reconciliation interval as a duration.
func (s *Settings) PollInterval() time.Duration {
	return time.Duration(s.Poll.Interval) * time.Second
}

// MaxPollInterval returns the backoff ceiling as a duration.
func (s *Settings) MaxPollInterval() time.Duration {
	return time.Duration(s.Poll.MaxInterval) * time.Second
}

// SessionPollInterval returns the in-session watcher interval as a duration.
func (s *Settings) SessionPollInterval() time.Duration {
	return time.Duration(s.Poll.SessionInterval) * time.Second
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a new
// Settings instance and stores it as the process-wide settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// Setting returns the process-wide settings instance, or nil before Load.
func Setting() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("PHONEMANAGE")
	viper.AutomaticEnv()

	// defaults defined in defaults.go
	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the default configuration to the first default
// config path and re-reads it.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	defaults := map[string]any{}
	for _, key := range viper.AllKeys() {
		defaults[key] = viper.Get(key)
	}
	out, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("error marshaling default config: %w", err)
	}
	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return viper.ReadInConfig()
}

// GetDefaultConfigPaths returns the config file search paths in priority
// order: user config dir, then the working directory.
func GetDefaultConfigPaths() ([]string, error) {
	var paths []string

	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "phonemanage"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "phonemanage"))
	}
	paths = append(paths, ".")

	if len(paths) == 0 {
		return nil, fmt.Errorf("no config paths found")
	}
	return paths, nil
}
