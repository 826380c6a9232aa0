// Package conf loads and validates Poachwatch settings from config.yaml, .env files and the environment.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/poachwatch/poachwatch/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// EnvPrefix is the prefix for environment variable overrides, e.g. POACHWATCH_FUSION_CORRELATION_WINDOW.
const EnvPrefix = "POACHWATCH"

// Settings contains all configuration options for the service.
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	Main struct {
		Name        string `mapstructure:"name" yaml:"name"`
		Environment string `mapstructure:"environment" yaml:"environment"`
	} `mapstructure:"main" yaml:"main"`

	Logging      logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Sources      SourcesSettings      `mapstructure:"sources" yaml:"sources"`
	Fusion       FusionSettings       `mapstructure:"fusion" yaml:"fusion"`
	Alert        AlertSettings        `mapstructure:"alert" yaml:"alert"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification"`
	Datastore    DatastoreSettings    `mapstructure:"datastore" yaml:"datastore"`
	WebServer    WebServerSettings    `mapstructure:"webserver" yaml:"webserver"`
	MQTT         MQTTSettings         `mapstructure:"mqtt" yaml:"mqtt"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
}

// SourceSettings configures one polled detection source.
type SourceSettings struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Path     string        `mapstructure:"path" yaml:"path"`         // path below sources.baseurl
	Interval time.Duration `mapstructure:"interval" yaml:"interval"` // time between pulls
}

// PositionSettings configures entity position polling.
type PositionSettings struct {
	SourceSettings `mapstructure:",squash" yaml:",inline"`
	Kinds          []string `mapstructure:"kinds" yaml:"kinds"` // e.g. rhino, elephant
}

// SourcesSettings configures the REST adapter for the detection backend.
type SourcesSettings struct {
	BaseURL      string           `mapstructure:"baseurl" yaml:"baseurl"`
	Timeout      time.Duration    `mapstructure:"timeout" yaml:"timeout"`
	UserAgent    string           `mapstructure:"useragent" yaml:"useragent"`
	Movement     SourceSettings   `mapstructure:"movement" yaml:"movement"`
	Image        SourceSettings   `mapstructure:"image" yaml:"image"`
	Positions    PositionSettings `mapstructure:"positions" yaml:"positions"`
	ValidatePath string           `mapstructure:"validatepath" yaml:"validatepath"`
}

// FusionSettings configures the correlation policy.
type FusionSettings struct {
	// CorrelationWindow is the max gap between movement and image evidence; 0 is unbounded.
	CorrelationWindow   time.Duration `mapstructure:"correlation_window" yaml:"correlation_window"`
	MinImageProbability float64       `mapstructure:"min_image_probability" yaml:"min_image_probability"`
}

// AlertSettings configures the alert lifecycle policy.
type AlertSettings struct {
	EmitCleared        bool          `mapstructure:"emit_cleared" yaml:"emit_cleared"`
	HistoryLimit       int           `mapstructure:"history_limit" yaml:"history_limit"`
	ValidationDedupTTL time.Duration `mapstructure:"validation_dedup_ttl" yaml:"validation_dedup_ttl"`
}

// PushSettings configures shoutrrr push delivery for one role.
type PushSettings struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	URLs    []string `mapstructure:"urls" yaml:"urls"`
}

// NotificationSettings configures notification fan-out.
type NotificationSettings struct {
	Admin     PushSettings `mapstructure:"admin" yaml:"admin"`
	Ranger    PushSettings `mapstructure:"ranger" yaml:"ranger"`
	RateLimit int          `mapstructure:"ratelimit" yaml:"ratelimit"` // pushes per minute per provider
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DatastoreSettings selects and configures the durable notification store.
type DatastoreSettings struct {
	Driver        string        `mapstructure:"driver" yaml:"driver"` // sqlite, mysql or memory
	SlowThreshold time.Duration `mapstructure:"slow_threshold" yaml:"slow_threshold"`
	SQLite        struct {
		Path string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"sqlite" yaml:"sqlite"`
	MySQL struct {
		Host     string `mapstructure:"host" yaml:"host"`
		Port     int    `mapstructure:"port" yaml:"port"`
		Username string `mapstructure:"username" yaml:"username"`
		Password string `mapstructure:"password" yaml:"password"`
		Database string `mapstructure:"database" yaml:"database"`
	} `mapstructure:"mysql" yaml:"mysql"`
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen      string `mapstructure:"listen" yaml:"listen"`
	MetricsPath string `mapstructure:"metrics_path" yaml:"metrics_path"`
}

// MQTTSettings configures alert publishing.
type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"`
	ClientID string `mapstructure:"clientid" yaml:"clientid"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	QoS      int    `mapstructure:"qos" yaml:"qos"`
	Retain   bool   `mapstructure:"retain" yaml:"retain"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	ConfigFile string         // explicit config file; empty searches the default paths
	EnvFile    string         // .env file; empty tries ./.env
	Flags      *pflag.FlagSet // bound on top of file and env values
}

// Load reads config.yaml, the .env file, environment variables and flags into Settings.
func Load(opts LoadOptions) (*Settings, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		if err := v.BindPFlags(opts.Flags); err != nil {
			return nil, fmt.Errorf("error binding flags: %w", err)
		}
	}

	if err := readConfigFile(v, opts.ConfigFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// loadEnvFile populates the process environment from a dotenv file without overriding set variables.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error loading env file %s: %w", path, err)
	}
	return nil
}

func readConfigFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range DefaultConfigPaths() {
		v.AddConfigPath(path)
	}

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		// Defaults already registered; fall back to the embedded file for documentation parity.
		return v.MergeConfig(strings.NewReader(DefaultConfig()))
	}
	return fmt.Errorf("fatal error reading config file: %w", err)
}

// DefaultConfigPaths returns the directories searched for config.yaml.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "poachwatch"))
	}
	return append(paths, "/etc/poachwatch")
}

// DefaultConfig returns the embedded default config.yaml.
func DefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		// embedded at build time
		panic(err)
	}
	return string(data)
}

// WriteDefaultConfig writes the embedded config.yaml to path, creating directories as needed.
func WriteDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultConfig()), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}
	return nil
}

// SaveYAMLConfig writes settings to configPath atomically via a temp file and rename.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}
	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
