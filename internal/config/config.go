package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix for every environment variable read by Load.
const EnvPrefix = "AUTH"

// ConfigFileEnv names the variable that points Load at an explicit YAML file.
const ConfigFileEnv = "AUTH_CONFIG_FILE"

// Config represents the complete application configuration
type Config struct {
	Protocol  ProtocolConfig  `yaml:"protocol" envconfig:"PROTOCOL"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Auth      AuthConfig      `yaml:"auth" envconfig:"AUTH"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ProtocolConfig describes the remote license endpoint and the application
// credential sent with every request.
type ProtocolConfig struct {
	Endpoint       string        `yaml:"endpoint" envconfig:"ENDPOINT" validate:"required,url"`
	AppName        string        `yaml:"app_name" envconfig:"APP_NAME" validate:"required"`
	OwnerID        string        `yaml:"owner_id" envconfig:"OWNER_ID" validate:"required"`
	Version        string        `yaml:"version" envconfig:"VERSION" default:"1.0"`
	AppHash        string        `yaml:"app_hash" envconfig:"APP_HASH"`
	UserAgent      string        `yaml:"user_agent" envconfig:"USER_AGENT" default:"licensecli/1.0"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT" default:"10s" validate:"gt=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"10s" validate:"gt=0"`
	CallTimeout    time.Duration `yaml:"call_timeout" envconfig:"CALL_TIMEOUT" default:"12s" validate:"gt=0"`
	// Pins maps a hostname to accepted SPKI sha256 hashes (hex).
	Pins     map[string][]string `yaml:"pins" ignored:"true"`
	TokenKey string              `yaml:"token_key" envconfig:"TOKEN_KEY"`
}

// StorageConfig lists the persistence tiers in priority order.
type StorageConfig struct {
	PrimaryFile string   `yaml:"primary_file" envconfig:"PRIMARY_FILE" default:"data/auth.json" validate:"required"`
	BackupFiles []string `yaml:"backup_files" envconfig:"BACKUP_FILES"`
	LegacyFile  string   `yaml:"legacy_file" envconfig:"LEGACY_FILE"`
	Passphrase  string   `yaml:"passphrase" envconfig:"PASSPHRASE"`
	RedisURL    string   `yaml:"redis_url" envconfig:"REDIS_URL"`
	RedisKey    string   `yaml:"redis_key" envconfig:"REDIS_KEY" default:"licensecli:auth"`
}

// AuthConfig contains authenticator policy settings
type AuthConfig struct {
	Watchdog      time.Duration `yaml:"watchdog" envconfig:"WATCHDOG" default:"12s" validate:"gt=0"`
	ResetCooldown time.Duration `yaml:"reset_cooldown" envconfig:"RESET_COOLDOWN" default:"72h" validate:"gt=0"`
}

// ServerConfig contains control API configuration
type ServerConfig struct {
	Addr            string          `yaml:"addr" envconfig:"ADDR" default:"127.0.0.1:8088" validate:"required"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"30s" validate:"gt=0"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"5"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"10"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn warning error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/authctl.log"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME" default:"licensecli"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT" default:"development"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" default:"none" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" default:"prometheus" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" default:"1.0" validate:"gte=0,lte=1"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	// Environment first; it also fills struct defaults.
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if path := getConfigFilePath(); path != "" {
		fileConfig, err := LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFile loads configuration from a YAML file
func LoadFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs overlays file values onto the env config. A variable that is
// explicitly set in the environment wins; otherwise a non-zero file value
// replaces the envconfig default.
func mergeConfigs(fileConfig, envConfig Config) Config {
	out := envConfig

	pickString := func(dst *string, file string, env string) {
		if file != "" && !envSet(env) {
			*dst = file
		}
	}
	pickDuration := func(dst *time.Duration, file time.Duration, env string) {
		if file != 0 && !envSet(env) {
			*dst = file
		}
	}

	p, fp := &out.Protocol, fileConfig.Protocol
	pickString(&p.Endpoint, fp.Endpoint, "PROTOCOL_ENDPOINT")
	pickString(&p.AppName, fp.AppName, "PROTOCOL_APP_NAME")
	pickString(&p.OwnerID, fp.OwnerID, "PROTOCOL_OWNER_ID")
	pickString(&p.Version, fp.Version, "PROTOCOL_VERSION")
	pickString(&p.AppHash, fp.AppHash, "PROTOCOL_APP_HASH")
	pickString(&p.UserAgent, fp.UserAgent, "PROTOCOL_USER_AGENT")
	pickString(&p.TokenKey, fp.TokenKey, "PROTOCOL_TOKEN_KEY")
	pickDuration(&p.ConnectTimeout, fp.ConnectTimeout, "PROTOCOL_CONNECT_TIMEOUT")
	pickDuration(&p.ReadTimeout, fp.ReadTimeout, "PROTOCOL_READ_TIMEOUT")
	pickDuration(&p.CallTimeout, fp.CallTimeout, "PROTOCOL_CALL_TIMEOUT")
	if len(fp.Pins) > 0 {
		p.Pins = fp.Pins
	}

	s, fs := &out.Storage, fileConfig.Storage
	pickString(&s.PrimaryFile, fs.PrimaryFile, "STORAGE_PRIMARY_FILE")
	pickString(&s.LegacyFile, fs.LegacyFile, "STORAGE_LEGACY_FILE")
	pickString(&s.Passphrase, fs.Passphrase, "STORAGE_PASSPHRASE")
	pickString(&s.RedisURL, fs.RedisURL, "STORAGE_REDIS_URL")
	pickString(&s.RedisKey, fs.RedisKey, "STORAGE_REDIS_KEY")
	if len(fs.BackupFiles) > 0 && !envSet("STORAGE_BACKUP_FILES") {
		s.BackupFiles = fs.BackupFiles
	}

	pickDuration(&out.Auth.Watchdog, fileConfig.Auth.Watchdog, "AUTH_WATCHDOG")
	pickDuration(&out.Auth.ResetCooldown, fileConfig.Auth.ResetCooldown, "AUTH_RESET_COOLDOWN")

	sv, fsv := &out.Server, fileConfig.Server
	pickString(&sv.Addr, fsv.Addr, "SERVER_ADDR")
	pickDuration(&sv.ReadTimeout, fsv.ReadTimeout, "SERVER_READ_TIMEOUT")
	pickDuration(&sv.WriteTimeout, fsv.WriteTimeout, "SERVER_WRITE_TIMEOUT")
	pickDuration(&sv.ShutdownTimeout, fsv.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT")
	if fsv.RateLimit.RPS != 0 && !envSet("SERVER_RATE_LIMIT_RPS") {
		sv.RateLimit.RPS = fsv.RateLimit.RPS
	}
	if fsv.RateLimit.Burst != 0 && !envSet("SERVER_RATE_LIMIT_BURST") {
		sv.RateLimit.Burst = fsv.RateLimit.Burst
	}

	l, fl := &out.Logging, fileConfig.Logging
	pickString(&l.Level, fl.Level, "LOGGING_LEVEL")
	pickString(&l.Output, fl.Output, "LOGGING_OUTPUT")
	pickString(&l.FilePath, fl.FilePath, "LOGGING_FILE_PATH")

	t, ft := &out.Telemetry, fileConfig.Telemetry
	pickString(&t.ServiceName, ft.ServiceName, "TELEMETRY_SERVICE_NAME")
	pickString(&t.Environment, ft.Environment, "TELEMETRY_ENVIRONMENT")
	pickString(&t.TraceExporter, ft.TraceExporter, "TELEMETRY_TRACE_EXPORTER")
	pickString(&t.MetricExporter, ft.MetricExporter, "TELEMETRY_METRIC_EXPORTER")

	return out
}

func envSet(suffix string) bool {
	_, ok := os.LookupEnv(EnvPrefix + "_" + suffix)
	return ok
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}

	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging file path is required for output %q", c.Logging.Output)
	}

	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RPS <= 0 || c.Server.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive rps and burst")
	}

	for host, pins := range c.Protocol.Pins {
		if len(pins) == 0 {
			return fmt.Errorf("no pins listed for host %s", host)
		}
	}

	if c.Protocol.CallTimeout < c.Protocol.ReadTimeout {
		return fmt.Errorf("call timeout %s is shorter than read timeout %s",
			c.Protocol.CallTimeout, c.Protocol.ReadTimeout)
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := strings.TrimSpace(os.Getenv(ConfigFileEnv)); explicit != "" {
		return explicit
	}

	locations := []string{
		"authctl.yaml",
		"configs/authctl.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Protocol: ProtocolConfig{
			Version:        "1.0",
			UserAgent:      "licensecli/1.0",
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    10 * time.Second,
			CallTimeout:    12 * time.Second,
		},
		Storage: StorageConfig{
			PrimaryFile: "data/auth.json",
			RedisKey:    "licensecli:auth",
		},
		Auth: AuthConfig{
			Watchdog:      12 * time.Second,
			ResetCooldown: 72 * time.Hour,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8088",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     5,
				Burst:   10,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/authctl.log",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "licensecli",
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}
