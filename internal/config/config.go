package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the complete toolkit configuration. Precedence, lowest to
// highest: built-in defaults, then the optional licctl.yaml next to
// the executable, then LICCTL_-prefixed environment variables. The
// YAML and env layers only touch keys they actually set.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
}

// ServerConfig configures the licensed web server.
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig bounds request rates on the license status endpoints.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig configures the slog logger.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig configures OpenTelemetry for the web server. The
// one-shot CLI commands never start providers.
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled" envconfig:"ENABLED"`
	TraceExporter  string `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
}

// PathsConfig overrides the executable-relative path layout.
type PathsConfig struct {
	BaseDir     string `yaml:"base_dir" envconfig:"BASE_DIR"`
	KeysDir     string `yaml:"keys_dir" envconfig:"KEYS_DIR"`
	LicensesDir string `yaml:"licenses_dir" envconfig:"LICENSES_DIR"`
	LogsDir     string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
	LicenseFile string `yaml:"license_file" envconfig:"LICENSE_FILE"`
	StateFile   string `yaml:"state_file" envconfig:"STATE_FILE"`
}

// LicenseConfig holds client-side verification settings.
type LicenseConfig struct {
	// PublicKeyPEM embeds the distributed public key verbatim. When
	// empty the key is read from the key store's public key file.
	PublicKeyPEM string `yaml:"public_key_pem" envconfig:"PUBLIC_KEY_PEM"`
	// RevalidateInterval bounds how long a cached verification verdict
	// is trusted by the web middleware before re-checking.
	RevalidateInterval time.Duration `yaml:"revalidate_interval" envconfig:"REVALIDATE_INTERVAL"`
	// StrictTimeCheck refuses to serve when the system clock is behind
	// the recorded high-water mark.
	StrictTimeCheck bool `yaml:"strict_time_check" envconfig:"STRICT_TIME_CHECK"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   10,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/licctl.log",
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
		License: LicenseConfig{
			RevalidateInterval: 5 * time.Minute,
			StrictTimeCheck:    true,
		},
	}
}

// Load builds the configuration from defaults, the optional config
// file next to the executable, and environment variables.
func Load() (*Config, error) {
	return load(configFilePath())
}

// LoadFromFile reads configuration from an explicit YAML file, still
// applying environment overrides on top.
func LoadFromFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return load(path)
}

func load(configFile string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(configFile); err == nil {
		// Unmarshalling into the defaulted struct only touches keys
		// present in the file.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// No default tags on the struct, so envconfig only writes fields
	// whose variables are actually set.
	if err := envconfig.Process("LICCTL", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid log output: %q", c.Logging.Output)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate limit rps must be positive, got %v", c.Server.RateLimit.RPS)
	}
	return nil
}

func configFilePath() string {
	if p := os.Getenv("LICCTL_CONFIG"); p != "" {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return "licctl.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "licctl.yaml")
}
